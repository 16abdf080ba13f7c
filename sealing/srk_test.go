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
	"crypto/rand"
	"crypto/rsa"

	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

type srkSuite struct {
	sealingTestBase
}

var _ = Suite(&srkSuite{})

func (s *srkSuite) TestSRKTemplate(c *C) {
	template := SRKTemplate()
	c.Check(template.Type, Equals, tpm2.ObjectTypeRSA)
	c.Check(template.NameAlg, Equals, tpm2.HashAlgorithmSHA256)
	c.Check(template.Attrs, Equals, tpm2.AttrFixedTPM|tpm2.AttrFixedParent|tpm2.AttrSensitiveDataOrigin|
		tpm2.AttrUserWithAuth|tpm2.AttrNoDA|tpm2.AttrRestricted|tpm2.AttrDecrypt)
	c.Check(template.Params, DeepEquals, &tpm2.RSAParams{
		Symmetric: tpm2.SymDefObject{Algorithm: tpm2.SymObjectAlgorithmAES, KeyBits: 128, Mode: tpm2.SymModeCFB},
		Scheme:    tpm2.AsymScheme{Scheme: tpm2.AlgorithmNull},
		KeyBits:   2048})
	c.Check(template.Unique, DeepEquals, make(tpm2.RSAPublicKey, 256))
}

func (s *srkSuite) TestCreateSRKIsDeterministic(c *C) {
	srk1 := s.createSRK(c)
	defer s.TPM.FlushContext(srk1)
	srk2 := s.createSRK(c)
	defer s.TPM.FlushContext(srk2)

	_, name1, err := ReadSRKPublic(s.TPM, srk1)
	c.Check(err, IsNil)
	_, name2, err := ReadSRKPublic(s.TPM, srk2)
	c.Check(err, IsNil)
	c.Check(name1, DeepEquals, name2)
}

func (s *srkSuite) TestCreateSRKError(c *C) {
	s.RequireDevice(c)
	s.Device.InjectError(tpm2.CommandCreatePrimary, tpm2.ResponseObjectMemory)
	_, err := CreateSRK(s.TPM)
	c.Check(err, ErrorMatches, `cannot create storage root key: .*TPM_RC_OBJECT_MEMORY.*`)
}

func (s *srkSuite) TestReadSRKPublic(c *C) {
	srk := s.createSRK(c)
	defer s.TPM.FlushContext(srk)

	pub, name, err := ReadSRKPublic(s.TPM, srk)
	c.Assert(err, IsNil)
	c.Check(pub.Type, Equals, tpm2.ObjectTypeRSA)
	expected, err := pub.Name()
	c.Check(err, IsNil)
	c.Check(name, DeepEquals, expected)
}

func (s *srkSuite) TestReadSRKPublicMismatch(c *C) {
	template := SRKTemplate()
	template.Attrs &^= tpm2.AttrNoDA
	handle, _, err := s.TPM.CreatePrimary(tpm2.HandleOwner, nil, template, nil, nil, nil)
	c.Assert(err, IsNil)
	defer s.TPM.FlushContext(handle)

	_, _, err = ReadSRKPublic(s.TPM, handle)
	c.Check(err, ErrorMatches, `storage root key has unexpected attributes`)
	var e *SRKMismatchError
	c.Check(err, FitsTypeOf, e)
}

func (s *srkSuite) TestReadSRKPublicWrongParams(c *C) {
	template := SRKTemplate()
	template.Params.(*tpm2.RSAParams).Symmetric.KeyBits = 256
	handle, _, err := s.TPM.CreatePrimary(tpm2.HandleOwner, nil, template, nil, nil, nil)
	c.Assert(err, IsNil)
	defer s.TPM.FlushContext(handle)

	_, _, err = ReadSRKPublic(s.TPM, handle)
	c.Check(err, ErrorMatches, `storage root key has unexpected parameters`)
}

func (s *srkSuite) TestLoadExternalPublic(c *C) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	c.Assert(err, IsNil)

	handle, name, err := LoadExternalPublic(s.TPM, &key.PublicKey)
	c.Assert(err, IsNil)
	defer s.TPM.FlushContext(handle)
	c.Check(handle.Type(), Equals, tpm2.HandleTypeTransient)
	c.Check(name, HasLen, 34)

	pub, name2, err := s.TPM.ReadPublic(handle)
	c.Assert(err, IsNil)
	c.Check(name2, DeepEquals, name)
	c.Check(pub.Unique, DeepEquals, tpm2.RSAPublicKey(key.PublicKey.N.Bytes()))
	c.Check(pub.Params.(*tpm2.RSAParams).Exponent, Equals, uint32(0))
}

func (s *srkSuite) TestLoadExternalPublicInvalidExponent(c *C) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	c.Assert(err, IsNil)
	key.PublicKey.E = -1

	_, _, err = LoadExternalPublic(s.TPM, &key.PublicKey)
	c.Check(err, ErrorMatches, `invalid public exponent -1`)
}
