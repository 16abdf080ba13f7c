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


package efi_test

import (
	"context"
	"crypto"
	"time"

	efi "github.com/canonical/go-efilib"
	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/efi"
	"github.com/snapcore/bootseal/internal/efitest"
	"github.com/snapcore/bootseal/internal/testutil"
)

var testOwnerGuid = efi.MakeGUID(0xa0baa8a3, 0x041d, 0x48a8, 0xbc87, [...]uint8{0xc3, 0x6d, 0x12, 0x1b, 0x5e, 0x3d})

const authVarAttrs = efi.AttributeNonVolatile | efi.AttributeBootserviceAccess | efi.AttributeRuntimeAccess | efi.AttributeTimeBasedAuthenticatedWriteAccess

type dbSuite struct {
	pki *efitest.TestPKI
}

var _ = Suite(&dbSuite{})

func (s *dbSuite) SetUpSuite(c *C) {
	s.pki = testPKI(c)
}

func (s *dbSuite) signedImage(c *C) *Image {
	image, err := NewImage(efitest.SignPEImage(c, newTestImage(c, nil), s.pki.SignerKey, s.pki.SignerCert))
	c.Assert(err, IsNil)
	return image
}

func (s *dbSuite) TestVerifyWithDB(c *C) {
	db := efi.SignatureDatabase{
		efitest.NewSignatureListDigests(c, crypto.SHA256, testOwnerGuid, make([]byte, 32)),
		efitest.NewSignatureListX509(c, s.pki.OtherCACert.Raw, testOwnerGuid),
		efitest.NewSignatureListX509(c, s.pki.CACert.Raw, testOwnerGuid),
	}
	cert, err := s.signedImage(c).VerifyWithDB(db)
	c.Assert(err, IsNil)
	c.Check(cert.Equal(s.pki.CACert), Equals, true)
}

func (s *dbSuite) TestVerifyWithDBFirstMatchWins(c *C) {
	db := efi.SignatureDatabase{
		efitest.NewSignatureListX509(c, s.pki.SignerCert.Raw, testOwnerGuid),
		efitest.NewSignatureListX509(c, s.pki.CACert.Raw, testOwnerGuid),
	}
	cert, err := s.signedImage(c).VerifyWithDB(db)
	c.Assert(err, IsNil)
	c.Check(cert.Equal(s.pki.SignerCert), Equals, true)
}

func (s *dbSuite) TestVerifyWithDBSkipsInvalidCertificates(c *C) {
	db := efi.SignatureDatabase{
		efitest.NewSignatureListX509(c, []byte("not a certificate"), testOwnerGuid),
		efitest.NewSignatureListX509(c, s.pki.CACert.Raw, testOwnerGuid),
	}
	cert, err := s.signedImage(c).VerifyWithDB(db)
	c.Assert(err, IsNil)
	c.Check(cert.Equal(s.pki.CACert), Equals, true)
}

func (s *dbSuite) TestVerifyWithDBUntrusted(c *C) {
	db := efi.SignatureDatabase{efitest.NewSignatureListX509(c, s.pki.OtherCACert.Raw, testOwnerGuid)}
	_, err := s.signedImage(c).VerifyWithDB(db)
	c.Check(err, ErrorMatches, `invalid signature: signer ".*" is not trusted by any certificate in the signature database`)
	c.Check(err, FitsTypeOf, &CertificateError{})
}

func (s *dbSuite) TestVerifyWithDBUnsigned(c *C) {
	image, err := NewImage(newTestImage(c, nil))
	c.Assert(err, IsNil)
	db := efi.SignatureDatabase{efitest.NewSignatureListX509(c, s.pki.CACert.Raw, testOwnerGuid)}
	_, err = image.VerifyWithDB(db)
	c.Check(err, Equals, ErrNoSignature)
}

func (s *dbSuite) TestX509Certificates(c *C) {
	db := efi.SignatureDatabase{
		efitest.NewSignatureListX509(c, s.pki.OtherCACert.Raw, testOwnerGuid),
		efitest.NewSignatureListDigests(c, crypto.SHA256, testOwnerGuid, make([]byte, 32)),
		efitest.NewSignatureListX509(c, s.pki.CACert.Raw, testOwnerGuid),
	}
	certs := X509Certificates(db)
	c.Assert(certs, HasLen, 2)
	c.Check(certs[0].Equal(s.pki.OtherCACert), Equals, true)
	c.Check(certs[1].Equal(s.pki.CACert), Equals, true)
}

func (s *dbSuite) testDB() efi.SignatureDatabase {
	return efi.SignatureDatabase{
		&efi.SignatureList{
			Type:       efi.CertX509Guid,
			Signatures: []*efi.SignatureData{{Owner: testOwnerGuid, Data: s.pki.CACert.Raw}},
		},
	}
}

func (s *dbSuite) TestParseSignatureDatabase(c *C) {
	data := efitest.MakeVarPayload(c, s.testDB())
	c.Check(HasAuthenticationHeader(data), Equals, false)

	db, err := ParseSignatureDatabase(data)
	c.Assert(err, IsNil)
	c.Assert(db, HasLen, 1)
	c.Check(db[0].Type, Equals, efi.CertX509Guid)
	c.Assert(db[0].Signatures, HasLen, 1)
	c.Check(db[0].Signatures[0].Owner, Equals, testOwnerGuid)
	c.Check(db[0].Signatures[0].Data, DeepEquals, s.pki.CACert.Raw)
}

func (s *dbSuite) TestParseSignatureDatabaseAuthenticated(c *C) {
	payload := efitest.MakeVarPayload(c, s.testDB())
	data := efitest.GenerateSignedVariableUpdate(c, s.pki.CAKey, s.pki.CACert, "db", efi.ImageSecurityDatabaseGuid, authVarAttrs,
		time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), payload)
	c.Check(HasAuthenticationHeader(data), Equals, true)

	stripped, err := StripAuthenticationHeader(data)
	c.Check(err, IsNil)
	c.Check(stripped, DeepEquals, payload)

	_, expected := efitest.ReadSignatureDatabaseUpdate(c, data)

	db, err := ParseSignatureDatabase(data)
	c.Assert(err, IsNil)
	c.Assert(db, HasLen, 1)
	c.Check(db[0].Signatures[0].Data, DeepEquals, s.pki.CACert.Raw)
	c.Check(db, DeepEquals, expected)
}

func (s *dbSuite) TestStripAuthenticationHeaderNoHeader(c *C) {
	data := efitest.MakeVarPayload(c, s.testDB())
	stripped, err := StripAuthenticationHeader(data)
	c.Check(err, IsNil)
	c.Check(stripped, DeepEquals, data)
}

func (s *dbSuite) TestParseSignatureDatabaseInvalid(c *C) {
	_, err := ParseSignatureDatabase([]byte{0x01, 0x02, 0x03})
	c.Check(err, ErrorMatches, `cannot decode signature database: .*`)
}

func (s *dbSuite) TestReadFirmwareDB(c *C) {
	vars := efitest.MakeMockVars().SetDb(c, s.testDB())

	db, err := ReadFirmwareDB(vars.VarContext(context.Background()))
	c.Assert(err, IsNil)
	c.Assert(db, HasLen, 1)
	c.Check(db[0].Signatures[0].Data, DeepEquals, s.pki.CACert.Raw)
}

func (s *dbSuite) TestReadFirmwareDBAppended(c *C) {
	other := efi.SignatureDatabase{efitest.NewSignatureListX509(c, s.pki.OtherCACert.Raw, testOwnerGuid)}
	vars := efitest.MakeMockVars().SetDb(c, s.testDB()).AppendDb(c, other)

	db, err := ReadFirmwareDB(vars.VarContext(context.Background()))
	c.Assert(err, IsNil)
	c.Assert(db, HasLen, 2)
	c.Check(db[0].Signatures[0].Data, DeepEquals, s.pki.CACert.Raw)
	c.Check(db[1].Signatures[0].Data, DeepEquals, s.pki.OtherCACert.Raw)
}

func (s *dbSuite) TestReadFirmwareDBMissing(c *C) {
	vars := efitest.MakeMockVars()

	_, err := ReadFirmwareDB(vars.VarContext(context.Background()))
	c.Check(err, ErrorMatches, `cannot read db variable: .*`)
	c.Check(err, testutil.ErrorIs, efi.ErrVarNotExist)
}
