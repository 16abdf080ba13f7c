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
	. "gopkg.in/check.v1"

	"github.com/snapcore/bootseal/internal/tpm2test"
	. "github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

type sealSuite struct {
	sealingTestBase
}

var _ = Suite(&sealSuite{})

func (s *sealSuite) TestSealAndUnseal(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7, 11)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)
	c.Check(blob.Public.Type, Equals, tpm2.ObjectTypeKeyedHash)
	c.Check(blob.Public.NameAlg, Equals, tpm2.HashAlgorithmSHA256)
	c.Check(blob.Public.Attrs, Equals, tpm2.AttrFixedTPM|tpm2.AttrFixedParent)
	c.Check(blob.PCRSelection, DeepEquals, tpm2.PCRSelectionList{{Hash: tpm2.HashAlgorithmSHA256, Select: []int{7, 11}}})
	c.Check(blob.CreationHash, HasLen, 32)

	values, err := ReadPCRs(s.TPM, tpm2.HashAlgorithmSHA256, mask)
	c.Assert(err, IsNil)
	expected, err := ComputePolicyDigest(&PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask, PCRValues: values})
	c.Assert(err, IsNil)
	c.Check(blob.Public.AuthPolicy, DeepEquals, expected)

	data, err := Unseal(s.TPM, srk, blob, mask)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}

func (s *sealSuite) TestSealAndUnsealSHA1(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 0)
	blob, err := Seal(s.TPM, srk, []byte("foo"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA1, PCRMask: mask})
	c.Assert(err, IsNil)
	c.Check(blob.Public.NameAlg, Equals, tpm2.HashAlgorithmSHA1)
	c.Check(blob.Public.AuthPolicy, HasLen, 20)

	data, err := Unseal(s.TPM, srk, blob, mask)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("foo"))
}

func (s *sealSuite) TestSealPredictive(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	orig4 := s.readPCR(c, tpm2.HashAlgorithmSHA256, 4)
	orig12 := s.readPCR(c, tpm2.HashAlgorithmSHA256, 12)

	mask := s.mustMask(c, 4, 12)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{
		Alg:     tpm2.HashAlgorithmSHA256,
		PCRMask: mask,
		PCRValues: PCRValues{
			4:  extendValue(tpm2.HashAlgorithmSHA256, orig4, "shim", "grub"),
			12: extendValue(tpm2.HashAlgorithmSHA256, orig12, "cmdline")}})
	c.Assert(err, IsNil)

	// The PCRs don't have the predicted values yet.
	_, err = Unseal(s.TPM, srk, blob, mask)
	c.Check(IsPolicyFailError(err), Equals, true)

	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 4, "shim", "grub"), IsNil)
	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 12, "cmdline"), IsNil)

	data, err := Unseal(s.TPM, srk, blob, mask)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}

func (s *sealSuite) TestSealPredictiveExtendOrderMatters(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	orig := s.readPCR(c, tpm2.HashAlgorithmSHA256, 4)
	mask := s.mustMask(c, 4)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{
		Alg:       tpm2.HashAlgorithmSHA256,
		PCRMask:   mask,
		PCRValues: PCRValues{4: extendValue(tpm2.HashAlgorithmSHA256, orig, "shim", "grub")}})
	c.Assert(err, IsNil)

	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 4, "grub", "shim"), IsNil)

	_, err = Unseal(s.TPM, srk, blob, mask)
	c.Check(IsPolicyFailError(err), Equals, true)
}

func (s *sealSuite) TestUnsealAfterPCRChange(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7, 11)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)

	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 11, "foo"), IsNil)

	data, err := Unseal(s.TPM, srk, blob, mask)
	c.Check(err, ErrorMatches, `cannot unseal object: TPM returned an error whilst executing command TPM2_Unseal: TPM_RC_POLICY_FAIL \[session 1\] \(a policy check failed\)`)
	c.Check(IsPolicyFailError(err), Equals, true)
	c.Check(data, IsNil)
}

func (s *sealSuite) TestUnsealUnselectedPCRChange(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)

	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 11, "foo"), IsNil)

	data, err := Unseal(s.TPM, srk, blob, mask)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}

func (s *sealSuite) TestUnsealWrongMask(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: s.mustMask(c, 7)})
	c.Assert(err, IsNil)

	_, err = Unseal(s.TPM, srk, blob, s.mustMask(c, 7, 8))
	c.Check(IsPolicyFailError(err), Equals, true)
}

func (s *sealSuite) TestSealDataTooLarge(c *C) {
	_, err := SealWithSRK(s.TPM, make([]byte, 129), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: 1})
	c.Check(err, Equals, ErrDataTooLarge)
	c.Check(s.CommandCount(c, tpm2.CommandCreatePrimary), Equals, 0)
}

func (s *sealSuite) TestSealMaxSize(c *C) {
	data := make([]byte, tpm2.MaxSymDataSize)
	for i := range data {
		data[i] = byte(i)
	}
	blob, err := SealWithSRK(s.TPM, data, &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: 1})
	c.Assert(err, IsNil)

	unsealed, err := UnsealWithSRK(s.TPM, blob, 1)
	c.Check(err, IsNil)
	c.Check(unsealed, DeepEquals, data)
}

func (s *sealSuite) TestSealInvalidParams(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	_, err := Seal(s.TPM, srk, []byte("foo"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA512, PCRMask: 1})
	c.Check(err, ErrorMatches, `cannot compute policy digest: invalid policy parameters: unsupported digest algorithm sha512`)
}

func (s *sealSuite) TestSealCreateError(c *C) {
	s.RequireDevice(c)
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	s.Device.InjectError(tpm2.CommandCreate, tpm2.ResponseObjectMemory)
	_, err := Seal(s.TPM, srk, []byte("foo"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: 1})
	c.Check(tpm2.IsTPMError(err, tpm2.ResponseObjectMemory, tpm2.CommandCreate), Equals, true)
}

func (s *sealSuite) TestSealPolicyGetDigestError(c *C) {
	s.RequireDevice(c)
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	s.Device.InjectError(tpm2.CommandPolicyGetDigest, tpm2.ResponseFailure)
	_, err := Seal(s.TPM, srk, []byte("foo"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: 1})
	c.Check(err, ErrorMatches, `cannot compute policy digest: cannot obtain policy digest: .*`)
	c.Check(s.CommandCount(c, tpm2.CommandCreate), Equals, 0)
}

func (s *sealSuite) TestUnsealLoadError(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	blob, err := Seal(s.TPM, srk, []byte("foo"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: 1})
	c.Assert(err, IsNil)
	blob.Private = append(tpm2.Private(nil), blob.Private...)
	blob.Private[0] ^= 0xff

	_, err = Unseal(s.TPM, srk, blob, 1)
	c.Check(tpm2.IsTPMParameterError(err, tpm2.ResponseIntegrity, tpm2.CommandLoad, 1), Equals, true)
}

func (s *sealSuite) TestUnsealTPMError(c *C) {
	s.RequireDevice(c)
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	blob, err := Seal(s.TPM, srk, []byte("foo"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: 1})
	c.Assert(err, IsNil)

	s.Device.InjectError(tpm2.CommandUnseal, tpm2.ResponseRetry)
	_, err = Unseal(s.TPM, srk, blob, 1)
	c.Check(tpm2.IsTPMError(err, tpm2.ResponseRetry, tpm2.CommandUnseal), Equals, true)
}

func (s *sealSuite) TestUnsealAndCap(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7, 15)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)

	data, err := UnsealAndCap(s.TPM, srk, blob, mask, 15)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))

	// The blob can't be unsealed again until the PCR is reset.
	data, err = UnsealAndCap(s.TPM, srk, blob, mask, 15)
	c.Check(IsPolicyFailError(err), Equals, true)
	c.Check(data, IsNil)
}

func (s *sealSuite) TestUnsealAndCapCapsOnFailure(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)
	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 7, "foo"), IsNil)

	orig := s.readPCR(c, tpm2.HashAlgorithmSHA256, 15)

	_, err = UnsealAndCap(s.TPM, srk, blob, mask, 15)
	c.Check(IsPolicyFailError(err), Equals, true)
	c.Check(s.readPCR(c, tpm2.HashAlgorithmSHA256, 15), Not(DeepEquals), orig)
}

func (s *sealSuite) TestUnsealAndCapCapError(c *C) {
	s.RequireDevice(c)
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)

	s.Device.InjectError(tpm2.CommandPCRExtend, tpm2.ResponseFailure)
	data, err := UnsealAndCap(s.TPM, srk, blob, mask, 15)
	c.Check(err, ErrorMatches, `cannot cap PCR: cannot extend PCR 15: .*`)
	c.Check(data, IsNil)
}

func (s *sealSuite) TestUnsealAndCapUnsealErrorTakesPrecedence(c *C) {
	s.RequireDevice(c)
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	mask := s.mustMask(c, 7)
	blob, err := Seal(s.TPM, srk, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: mask})
	c.Assert(err, IsNil)
	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 7, "foo"), IsNil)

	s.Device.InjectError(tpm2.CommandPCRExtend, tpm2.ResponseFailure)
	_, err = UnsealAndCap(s.TPM, srk, blob, mask, 15)
	c.Check(IsPolicyFailError(err), Equals, true)
}

func (s *sealSuite) TestSealWithSRKAndUnsealWithSRK(c *C) {
	blob, err := SealWithSRK(s.TPM, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: s.mustMask(c, 7)})
	c.Assert(err, IsNil)

	// The SRK is recreated from the same template.
	data, err := UnsealWithSRK(s.TPM, blob, s.mustMask(c, 7))
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}

func (s *sealSuite) TestUnsealSerializedBlob(c *C) {
	blob, err := SealWithSRK(s.TPM, []byte("secret"), &PolicyParams{Alg: tpm2.HashAlgorithmSHA256, PCRMask: s.mustMask(c, 7)})
	c.Assert(err, IsNil)

	b, err := blob.Marshal()
	c.Assert(err, IsNil)
	blob2, err := UnmarshalSealedBlob(b)
	c.Assert(err, IsNil)

	mask, err := blob2.PCRMask()
	c.Check(err, IsNil)
	c.Check(mask, Equals, s.mustMask(c, 7))

	data, err := UnsealWithSRK(s.TPM, blob2, mask)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}
