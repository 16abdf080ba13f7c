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

package tpm2_test

import (
	"crypto"

	gotpm2 "github.com/canonical/go-tpm2"
	"github.com/canonical/go-tpm2/policyutil"

	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/tpm2"
)

type policyDigestSuite struct{}

var _ = Suite(&policyDigestSuite{})

func hashOf(alg crypto.Hash, data string) []byte {
	h := alg.New()
	h.Write([]byte(data))
	return h.Sum(nil)
}

func (s *policyDigestSuite) testValues() (PCRValues, gotpm2.PCRValues) {
	values := make(PCRValues)
	ref := make(gotpm2.PCRValues)
	for _, pcr := range []int{0, 4, 7, 23} {
		d1 := hashOf(crypto.SHA1, "sha1-"+string(rune('a'+pcr)))
		d256 := hashOf(crypto.SHA256, "sha256-"+string(rune('a'+pcr)))
		values.SetValue(HashAlgorithmSHA1, pcr, d1)
		values.SetValue(HashAlgorithmSHA256, pcr, d256)
		ref.SetValue(gotpm2.HashAlgorithmSHA1, pcr, d1)
		ref.SetValue(gotpm2.HashAlgorithmSHA256, pcr, d256)
	}
	return values, ref
}

func (s *policyDigestSuite) TestComputePCRDigestMatchesGoTPM2(c *C) {
	values, ref := s.testValues()

	digest, err := ComputePCRDigest(HashAlgorithmSHA256, PCRSelectionList{
		{Hash: HashAlgorithmSHA1, Select: []int{4, 23}},
		{Hash: HashAlgorithmSHA256, Select: []int{0, 7, 23}}}, values)
	c.Assert(err, IsNil)

	expected, err := gotpm2.ComputePCRDigest(gotpm2.HashAlgorithmSHA256, gotpm2.PCRSelectionList{
		{Hash: gotpm2.HashAlgorithmSHA1, Select: []int{4, 23}},
		{Hash: gotpm2.HashAlgorithmSHA256, Select: []int{0, 7, 23}}}, ref)
	c.Assert(err, IsNil)
	c.Check([]byte(digest), DeepEquals, []byte(expected))
}

func (s *policyDigestSuite) TestComputePCRDigestIgnoresSelectOrder(c *C) {
	values, _ := s.testValues()

	d1, err := ComputePCRDigest(HashAlgorithmSHA256, PCRSelectionList{{Hash: HashAlgorithmSHA256, Select: []int{0, 7, 23}}}, values)
	c.Assert(err, IsNil)
	d2, err := ComputePCRDigest(HashAlgorithmSHA256, PCRSelectionList{{Hash: HashAlgorithmSHA256, Select: []int{23, 0, 7}}}, values)
	c.Assert(err, IsNil)
	c.Check(d1, DeepEquals, d2)
}

func (s *policyDigestSuite) TestComputePCRDigestMissingValue(c *C) {
	values, _ := s.testValues()
	_, err := ComputePCRDigest(HashAlgorithmSHA256, PCRSelectionList{{Hash: HashAlgorithmSHA256, Select: []int{8}}}, values)
	c.Check(err, ErrorMatches, `no value for PCR 8 in bank sha256`)
}

func (s *policyDigestSuite) TestComputePCRDigestInvalidAlg(c *C) {
	_, err := ComputePCRDigest(HashAlgorithmNull, nil, nil)
	c.Check(err, FitsTypeOf, &UnsupportedAlgorithmError{})
}

func (s *policyDigestSuite) TestComputePolicyPCRDigestMatchesGoTPM2(c *C) {
	values, ref := s.testValues()

	for _, alg := range []HashAlgorithmId{HashAlgorithmSHA1, HashAlgorithmSHA256} {
		pcrDigest, err := ComputePCRDigest(alg, PCRSelectionList{{Hash: HashAlgorithmSHA256, Select: []int{0, 7, 23}}}, values)
		c.Assert(err, IsNil)
		policy, err := ComputePolicyPCRDigest(alg, nil, PCRSelectionList{{Hash: HashAlgorithmSHA256, Select: []int{0, 7, 23}}}, pcrDigest)
		c.Assert(err, IsNil)

		refPcrs := gotpm2.PCRSelectionList{{Hash: gotpm2.HashAlgorithmSHA256, Select: []int{0, 7, 23}}}
		refPcrDigest, err := gotpm2.ComputePCRDigest(gotpm2.HashAlgorithmId(alg), refPcrs, ref)
		c.Assert(err, IsNil)
		builder := policyutil.NewPolicyBuilder(gotpm2.HashAlgorithmId(alg))
		builder.RootBranch().PolicyPCRDigest(refPcrDigest, refPcrs)
		expected, err := builder.Digest()
		c.Assert(err, IsNil)

		c.Check([]byte(policy), DeepEquals, []byte(expected), Commentf("alg: %v", alg))
	}
}

func (s *policyDigestSuite) TestComputePolicyPCRAndPasswordMatchesGoTPM2(c *C) {
	values, ref := s.testValues()

	pcrDigest, err := ComputePCRDigest(HashAlgorithmSHA256, PCRSelectionList{{Hash: HashAlgorithmSHA1, Select: []int{4, 23}}}, values)
	c.Assert(err, IsNil)
	policy, err := ComputePolicyPCRDigest(HashAlgorithmSHA256, nil, PCRSelectionList{{Hash: HashAlgorithmSHA1, Select: []int{4, 23}}}, pcrDigest)
	c.Assert(err, IsNil)
	policy, err = ComputePolicyPasswordDigest(HashAlgorithmSHA256, policy)
	c.Assert(err, IsNil)

	refPcrs := gotpm2.PCRSelectionList{{Hash: gotpm2.HashAlgorithmSHA1, Select: []int{4, 23}}}
	refPcrDigest, err := gotpm2.ComputePCRDigest(gotpm2.HashAlgorithmSHA256, refPcrs, ref)
	c.Assert(err, IsNil)
	builder := policyutil.NewPolicyBuilder(gotpm2.HashAlgorithmSHA256)
	builder.RootBranch().PolicyPCRDigest(refPcrDigest, refPcrs)
	builder.RootBranch().PolicyAuthValue()
	expected, err := builder.Digest()
	c.Assert(err, IsNil)

	c.Check([]byte(policy), DeepEquals, []byte(expected))
}

func (s *policyDigestSuite) TestComputePolicyPasswordFromEmpty(c *C) {
	policy, err := ComputePolicyPasswordDigest(HashAlgorithmSHA256, nil)
	c.Check(err, IsNil)
	c.Check(policy, DeepEquals, Digest(decodeHexString(c, "8fcd2169ab92694e0c633f1ab772842b8241bbc20288981fc7ac1eddc1fddb0e")))
}

func (s *policyDigestSuite) TestComputePolicyWrongDigestSize(c *C) {
	_, err := ComputePolicyPasswordDigest(HashAlgorithmSHA256, make(Digest, 20))
	c.Check(err, ErrorMatches, `invalid policy digest size 20`)
}
