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

	"github.com/snapcore/bootseal/internal/tpm2test"
	. "github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

type pcrSuite struct {
	sealingTestBase
}

var _ = Suite(&pcrSuite{})

func (s *pcrSuite) TestMakePCRMask(c *C) {
	mask, err := MakePCRMask(11, 0, 7, 7)
	c.Check(err, IsNil)
	c.Check(mask, Equals, PCRMask(0x0881))
	c.Check(mask.PCRs(), DeepEquals, []int{0, 7, 11})
	c.Check(mask.Contains(7), Equals, true)
	c.Check(mask.Contains(8), Equals, false)
	c.Check(mask.Contains(16), Equals, false)
}

func (s *pcrSuite) TestMakePCRMaskInvalid(c *C) {
	_, err := MakePCRMask(4, 16)
	c.Check(err, ErrorMatches, `invalid PCR index 16`)
	_, err = MakePCRMask(-1)
	c.Check(err, ErrorMatches, `invalid PCR index -1`)
}

func (s *pcrSuite) TestPCRMaskSelection(c *C) {
	mask := s.mustMask(c, 7, 4)
	c.Check(mask.Selection(tpm2.HashAlgorithmSHA256), DeepEquals,
		tpm2.PCRSelectionList{{Hash: tpm2.HashAlgorithmSHA256, Select: []int{4, 7}}})
}

func (s *pcrSuite) TestPCRMaskFromSelection(c *C) {
	mask, err := PCRMaskFromSelection(tpm2.PCRSelectionList{
		{Hash: tpm2.HashAlgorithmSHA1, Select: []int{1}},
		{Hash: tpm2.HashAlgorithmSHA256, Select: []int{4, 7}}}, tpm2.HashAlgorithmSHA256)
	c.Check(err, IsNil)
	c.Check(mask, Equals, s.mustMask(c, 4, 7))

	_, err = PCRMaskFromSelection(tpm2.PCRSelectionList{
		{Hash: tpm2.HashAlgorithmSHA256, Select: []int{4, 23}}}, tpm2.HashAlgorithmSHA256)
	c.Check(err, ErrorMatches, `invalid PCR index 23`)
}

func (s *pcrSuite) TestReadPCRs(c *C) {
	orig4 := s.readPCR(c, tpm2.HashAlgorithmSHA256, 4)
	orig7 := s.readPCR(c, tpm2.HashAlgorithmSHA256, 7)

	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 4, "foo"), IsNil)
	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 7, "bar", "baz"), IsNil)

	values, err := ReadPCRs(s.TPM, tpm2.HashAlgorithmSHA256, s.mustMask(c, 7, 4))
	c.Assert(err, IsNil)
	c.Check(values, DeepEquals, PCRValues{
		4: extendValue(tpm2.HashAlgorithmSHA256, orig4, "foo"),
		7: extendValue(tpm2.HashAlgorithmSHA256, orig7, "bar", "baz")})
	c.Check(values.Indices(), DeepEquals, []int{4, 7})
}

func (s *pcrSuite) TestReadPCRsEmptyMask(c *C) {
	values, err := ReadPCRs(s.TPM, tpm2.HashAlgorithmSHA256, 0)
	c.Check(err, IsNil)
	c.Check(values, HasLen, 0)
}

func (s *pcrSuite) TestReadPCRsSHA1(c *C) {
	values, err := ReadPCRs(s.TPM, tpm2.HashAlgorithmSHA1, s.mustMask(c, 0, 1, 2))
	c.Assert(err, IsNil)
	c.Check(values, HasLen, 3)
	for _, v := range values {
		c.Check(v, HasLen, 20)
	}
}

func (s *pcrSuite) TestExtendPCR(c *C) {
	orig := s.readPCR(c, tpm2.HashAlgorithmSHA1, 12)
	c.Check(ExtendPCR(s.TPM, 12, tpm2.TaggedHashList{
		{HashAlg: tpm2.HashAlgorithmSHA1, Digest: tpm2test.MakePCREventDigest(tpm2.HashAlgorithmSHA1, "foo")}}), IsNil)
	c.Check(s.readPCR(c, tpm2.HashAlgorithmSHA1, 12), DeepEquals, extendValue(tpm2.HashAlgorithmSHA1, orig, "foo"))
}

func (s *pcrSuite) TestExtendPCRInvalidIndex(c *C) {
	c.Check(ExtendPCR(s.TPM, 16, nil), ErrorMatches, `invalid PCR index 16`)
}

func (s *pcrSuite) TestCapDigests(c *C) {
	zeros := make([]byte, 20)
	h1 := sha1.Sum(zeros)
	h256 := sha256.Sum256(zeros)
	c.Check(CapDigests(), DeepEquals, tpm2.TaggedHashList{
		{HashAlg: tpm2.HashAlgorithmSHA1, Digest: h1[:]},
		{HashAlg: tpm2.HashAlgorithmSHA256, Digest: h256[:]}})
}

func (s *pcrSuite) TestCapPCR(c *C) {
	orig1 := s.readPCR(c, tpm2.HashAlgorithmSHA1, 11)
	orig256 := s.readPCR(c, tpm2.HashAlgorithmSHA256, 11)

	c.Check(CapPCR(s.TPM, 11), IsNil)

	zeros := make([]byte, 20)
	for _, d := range []struct {
		alg  tpm2.HashAlgorithmId
		orig tpm2.Digest
	}{
		{tpm2.HashAlgorithmSHA1, orig1},
		{tpm2.HashAlgorithmSHA256, orig256},
	} {
		h := d.alg.GetHash().New()
		h.Write(zeros)
		event := h.Sum(nil)
		h = d.alg.GetHash().New()
		h.Write(d.orig)
		h.Write(event)
		c.Check(s.readPCR(c, d.alg, 11), DeepEquals, tpm2.Digest(h.Sum(nil)))
	}
}
