// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package testutil

import (
	"io"

	drbg "github.com/canonical/go-sp800.90a-drbg"
	"golang.org/x/xerrors"
	. "gopkg.in/check.v1"
)

var testRNGSeed = []byte{
	0x45, 0xef, 0xa4, 0xe4, 0x6a, 0xb7, 0x55, 0x14, 0xcd, 0xce, 0xc2, 0x17, 0x59, 0x77, 0x1a, 0x95,
	0x2e, 0x35, 0x55, 0xfd, 0x94, 0x39, 0x0e, 0x9d, 0x90, 0xbf, 0x7a, 0x3c, 0xc2, 0xe3, 0x9a, 0x84}

// NewTestRNG returns a deterministic source of random bytes. Readers
// created with the same nonce and personalization return the same
// sequence.
func NewTestRNG(c *C, nonce []byte, personalization string) io.Reader {
	rng, err := drbg.NewCTRWithExternalEntropy(32, testRNGSeed, nonce, []byte(personalization), nil)
	c.Assert(err, IsNil)
	return rng
}

type maybeReadByteBypasser struct {
	bypassAll     bool
	bypassOffsets []int64

	rand   io.Reader
	offset int64
}

// BypassMaybeReadByte returns a reader that makes functions in the crypto
// packages that call randutil.MaybeReadByte deterministic for a given
// sequence of bytes from rand.
//
// If bypassAll is true, every single byte read returns (1, nil) without
// consuming anything from rand. Otherwise, only single byte reads at the
// supplied offsets are skipped.
func BypassMaybeReadByte(rand io.Reader, bypassAll bool, bypassOffsets ...int64) io.Reader {
	if bypassAll && len(bypassOffsets) > 0 {
		panic("cannot use bypassAll with bypassOffsets")
	}

	return &maybeReadByteBypasser{
		bypassAll:     bypassAll,
		bypassOffsets: bypassOffsets,
		rand:          rand,
	}
}

func (r *maybeReadByteBypasser) Read(data []byte) (int, error) {
	if len(data) == 1 {
		if r.bypassAll {
			return 1, nil
		}
		if len(r.bypassOffsets) > 0 {
			next := r.bypassOffsets[0]
			switch {
			case r.offset > next:
				return 0, xerrors.Errorf("MaybeReadByte boundary misalignment: offset %d is past the next boundary %d", r.offset, next)
			case r.offset == next:
				r.bypassOffsets = r.bypassOffsets[1:]
				return 1, nil
			}
		}
	}

	n, err := r.rand.Read(data)
	r.offset += int64(n)
	return n, err
}
