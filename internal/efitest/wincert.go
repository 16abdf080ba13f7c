// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2021 Canonical Ltd
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
	"bytes"
	"crypto"
	"crypto/rand"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
	. "gopkg.in/check.v1"

	efi "github.com/canonical/go-efilib"
)

type winCertificateHdr struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

type winCertificateAuthenticodeHdr struct {
	winCertificateHdr
}

// ReadWinCertificateAuthenticodeDetached creates a new [efi.WinCertificateAuthenticode]
// structure from the supplied detached Authenticode signature. It's expected that this
// doesn't have the WIN_CERTIFICATE header.
func ReadWinCertificateAuthenticodeDetached(c *C, der []byte) *efi.WinCertificateAuthenticode {
	hdr := &winCertificateAuthenticodeHdr{
		winCertificateHdr: winCertificateHdr{
			Length:          uint32(binary.Size(winCertificateAuthenticodeHdr{}) + len(der)),
			Revision:        0x0200,
			CertificateType: 0x0002, // WIN_CERT_TYPE_PKCS_SIGNED_DATA
		},
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, hdr)
	buf.Write(der)

	sig, err := efi.ReadWinCertificate(buf)
	c.Assert(err, IsNil)
	return sig.(*efi.WinCertificateAuthenticode)
}

var (
	oidSpcIndirectData   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 4}
	oidSpcPeImageDataobj = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 2, 1, 15}
)

func digestOID(c *C, alg crypto.Hash) asn1.ObjectIdentifier {
	switch alg {
	case crypto.SHA1:
		return oidSHA1
	case crypto.SHA256:
		return oidSHA256
	default:
		c.Fatalf("unsupported digest %v", alg)
	}
	return nil
}

// GenerateWinCertificateAuthenticodeDetached generates a detached authenticode signature
// for an image with the specified digest, signed by the supplied key. The signed attributes
// always use SHA-256, and digestAlg only selects the algorithm of the image digest.
func GenerateWinCertificateAuthenticodeDetached(c *C, key crypto.Signer, signer *x509.Certificate, digest []byte, digestAlg crypto.Hash, certs ...*x509.Certificate) []byte {
	// Create the content (SpcIndirectDataContent, as described in Microsoft's
	// Authenticode spec).
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SpcIndirectDataContent ::= SEQUENCE
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // data SpcAttributeTypeAndOptionalValue
			b.AddASN1ObjectIdentifier(oidSpcPeImageDataobj)                   // type OBJECT IDENTIFIER
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // value ANY DEFINED BY type OPTIONAL
				b.AddASN1BitString([]byte{0})                                                                   // flags SpcPeImageFlags DEFAULT { includeResources }
				b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) { // file SpcLink [0] EXPLICIT
					b.AddASN1(cryptobyte_asn1.Tag(2).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) { // file [2] EXPLICIT SpcString
						b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific(), func(b *cryptobyte.Builder) { // unicode [0] IMPLICIT BMPSTRING
							str := new(bytes.Buffer)
							binary.Write(str, binary.LittleEndian, efi.ConvertUTF8ToUCS2("<<<Obsolete>>>"))
							b.AddBytes(str.Bytes())
						})
					})
				})
			})
		})
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // messageDigest digestInfo
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // digestAlgorithm AlgorithmIdentifier
				b.AddASN1ObjectIdentifier(digestOID(c, digestAlg)) // algorithm OBJECT IDENTIFIER
				b.AddASN1NULL()                                    // parameters ANY DEFINED BY algorithm OPTIONAL
			})
			// Add the PE image digest
			b.AddASN1OctetString(digest) // digest OCTETSTRING
		})
	})
	content, err := b.Bytes()
	c.Assert(err, IsNil)

	// The message digest covers the value of the content, without its
	// tag and length.
	var contentValue cryptobyte.String
	s := cryptobyte.String(content)
	c.Assert(s.ReadASN1(&contentValue, cryptobyte_asn1.SEQUENCE), Equals, true)

	h := crypto.SHA256.New()
	h.Write(contentValue)

	// Create the authenticated attributes
	b = cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) { // Attributes := SET OF Attribute
		// Add the content type
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidContentType)
			b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(oidSpcIndirectData)
			})
		})
		// Add the content digest
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(oidMessageDigest)
			b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
				b.AddASN1OctetString(h.Sum(nil))
			})
		})
	})
	attrs, err := b.Bytes()
	c.Assert(err, IsNil)

	h = crypto.SHA256.New()
	h.Write(attrs)

	// Sign the authenticated attributes
	sig, err := key.Sign(rand.Reader, h.Sum(nil), crypto.SHA256)
	c.Assert(err, IsNil)

	// Create the PKCS7 structure
	sd := &signedData{
		signer:      signer,
		certs:       certs,
		contentType: oidSpcIndirectData,
		content:     content,
		authAttrs:   attrs,
		digestAlg:   oidSHA256,
		sig:         sig}
	return sd.marshal(c)
}

// BareSignedData returns the SignedData structure from the supplied
// PKCS7 ContentInfo.
func BareSignedData(c *C, contentInfo []byte) []byte {
	s := cryptobyte.String(contentInfo)
	var (
		ci         cryptobyte.String
		content    cryptobyte.String
		signedData cryptobyte.String
	)
	c.Assert(s.ReadASN1(&ci, cryptobyte_asn1.SEQUENCE), Equals, true)
	c.Assert(ci.SkipASN1(cryptobyte_asn1.OBJECT_IDENTIFIER), Equals, true)
	c.Assert(ci.ReadASN1(&content, cryptobyte_asn1.Tag(0).ContextSpecific().Constructed()), Equals, true)
	c.Assert(content.ReadASN1Element(&signedData, cryptobyte_asn1.SEQUENCE), Equals, true)
	return signedData
}
