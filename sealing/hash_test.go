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


package sealing_test

import (
	"crypto/sha1"
	"crypto/sha256"

	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

type hashSuite struct {
	sealingTestBase
}

var _ = Suite(&hashSuite{})

func makeData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func (s *hashSuite) TestHashDataSmall(c *C) {
	data := makeData(100)
	digest, err := HashData(s.TPM, tpm2.HashAlgorithmSHA256, data)
	c.Check(err, IsNil)
	expected := sha256.Sum256(data)
	c.Check(digest, DeepEquals, tpm2.Digest(expected[:]))
	c.Check(s.CommandCount(c, tpm2.CommandHashSequenceStart), Equals, 0)
}

func (s *hashSuite) TestHashDataMaxBuffer(c *C) {
	data := makeData(tpm2.MaxDigestBufferSize)
	digest, err := HashData(s.TPM, tpm2.HashAlgorithmSHA1, data)
	c.Check(err, IsNil)
	expected := sha1.Sum(data)
	c.Check(digest, DeepEquals, tpm2.Digest(expected[:]))
}

func (s *hashSuite) TestHashDataLarge(c *C) {
	data := makeData(5000)
	digest, err := HashData(s.TPM, tpm2.HashAlgorithmSHA256, data)
	c.Check(err, IsNil)
	expected := sha256.Sum256(data)
	c.Check(digest, DeepEquals, tpm2.Digest(expected[:]))
	c.Check(s.CommandCount(c, tpm2.CommandSequenceUpdate), Equals, 4)
	c.Check(s.CommandCount(c, tpm2.CommandSequenceComplete), Equals, 1)
}

func (s *hashSuite) TestHashDataSequenceFlushedOnError(c *C) {
	s.RequireDevice(c)
	s.Device.InjectError(tpm2.CommandSequenceUpdate, tpm2.ResponseFailure)

	_, err := HashData(s.TPM, tpm2.HashAlgorithmSHA256, makeData(2000))
	c.Check(err, ErrorMatches, `cannot update hash sequence: .*`)
	c.Check(s.CommandCount(c, tpm2.CommandFlushContext), Equals, 1)
}
