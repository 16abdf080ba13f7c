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


package measure

import (
	"crypto/sha1"
	"crypto/sha256"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/sealing"
)

// SHA1Hash is a SHA-1 digest.
type SHA1Hash [sha1.Size]byte

// String returns the digest as uppercase hex.
func (h SHA1Hash) String() string {
	return sealing.BinaryToHex(h[:])
}

// ParseSHA1Hash decodes a SHA-1 digest from hex.
func ParseSHA1Hash(s string) (out SHA1Hash, err error) {
	err = parseHash(out[:], s)
	return out, err
}

// SHA256Hash is a SHA-256 digest.
type SHA256Hash [sha256.Size]byte

// String returns the digest as uppercase hex.
func (h SHA256Hash) String() string {
	return sealing.BinaryToHex(h[:])
}

// ParseSHA256Hash decodes a SHA-256 digest from hex.
func ParseSHA256Hash(s string) (out SHA256Hash, err error) {
	err = parseHash(out[:], s)
	return out, err
}

func parseHash(dst []byte, s string) error {
	b, err := sealing.HexToBinary(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return xerrors.Errorf("invalid digest length %d (expected %d)", len(b), len(dst))
	}
	copy(dst, b)
	return nil
}

func hashData(data []byte) (SHA1Hash, SHA256Hash) {
	return sha1.Sum(data), sha256.Sum256(data)
}
