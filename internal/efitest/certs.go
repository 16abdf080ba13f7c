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


package efitest

import (
	"crypto"
	"crypto/rsa"
	_ "crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	. "gopkg.in/check.v1"

	"github.com/snapcore/bootseal/internal/testutil"
)

// NewTestCertificate creates a certificate for the supplied key. If issuer
// is nil, the certificate is self-signed.
func NewTestCertificate(c *C, key *rsa.PrivateKey, commonName string, serialNumber int64, isCA bool, issuer *x509.Certificate, issuerKey *rsa.PrivateKey) *x509.Certificate {
	keyUsage := x509.KeyUsageDigitalSignature
	if isCA {
		keyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	}
	template := &x509.Certificate{
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		KeyUsage:              keyUsage,
		NotAfter:              time.Date(2120, time.January, 1, 0, 0, 0, 0, time.UTC),
		NotBefore:             time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		SerialNumber:          big.NewInt(serialNumber),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		Subject: pkix.Name{
			Country:      []string{"GB"},
			Organization: []string{"Fake Corporation"},
			CommonName:   commonName,
		},
	}

	h := crypto.SHA1.New()
	h.Write(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	template.SubjectKeyId = h.Sum(nil)

	if issuer == nil {
		issuer = template
		issuerKey = key
	}

	rng := testutil.NewTestRNG(c, template.SubjectKeyId, "CERT-SIGN")
	der, err := x509.CreateCertificate(rng, template, issuer, &key.PublicKey, issuerKey)
	c.Assert(err, IsNil)

	cert, err := x509.ParseCertificate(der)
	c.Assert(err, IsNil)
	return cert
}

// TestPKI is a set of keys and certificates for signing test images.
type TestPKI struct {
	CAKey  *rsa.PrivateKey
	CACert *x509.Certificate

	// SignerCert is issued by CACert.
	SignerKey  *rsa.PrivateKey
	SignerCert *x509.Certificate

	// OtherCACert is unrelated to CACert.
	OtherCAKey  *rsa.PrivateKey
	OtherCACert *x509.Certificate
}

func newRSAKey(c *C, name string) *rsa.PrivateKey {
	rng := testutil.BypassMaybeReadByte(testutil.NewTestRNG(c, []byte(name), "RSA-KEYGEN"), true)
	key, err := rsa.GenerateKey(rng, 2048)
	c.Assert(err, IsNil)
	return key
}

// NewTestPKI creates a new set of test keys and certificates.
func NewTestPKI(c *C) *TestPKI {
	pki := &TestPKI{
		CAKey:      newRSAKey(c, "CA"),
		SignerKey:  newRSAKey(c, "signer"),
		OtherCAKey: newRSAKey(c, "other CA"),
	}
	pki.CACert = NewTestCertificate(c, pki.CAKey, "Test UEFI CA", 1, true, nil, nil)
	pki.SignerCert = NewTestCertificate(c, pki.SignerKey, "Test Image Signing", 1001, false, pki.CACert, pki.CAKey)
	pki.OtherCACert = NewTestCertificate(c, pki.OtherCAKey, "Other UEFI CA", 2, true, nil, nil)
	return pki
}
