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
	"crypto/x509"
	"encoding/asn1"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
	. "gopkg.in/check.v1"
)

var (
	oidContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	oidMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	oidData          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	oidSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidSHA1          = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
)

// signedData describes a PKCS#7 SignedData with a single RSA signer.
type signedData struct {
	signer *x509.Certificate
	certs  []*x509.Certificate

	contentType asn1.ObjectIdentifier
	content     []byte // DER encoded, omitted if empty

	// authAttrs is the DER encoded SET of authenticated attributes, if
	// the signature covers them rather than the content.
	authAttrs []byte

	digestAlg asn1.ObjectIdentifier
	sig       []byte
}

func addAlgorithmIdentifier(b *cryptobyte.Builder, oid asn1.ObjectIdentifier) {
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
		b.AddASN1NULL()
	})
}

func (d *signedData) addSignerInfo(b *cryptobyte.Builder) {
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1Int64(1)
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // issuerAndSerialNumber
			b.AddBytes(d.signer.RawIssuer)
			b.AddASN1BigInt(d.signer.SerialNumber)
		})
		addAlgorithmIdentifier(b, d.digestAlg)
		if len(d.authAttrs) > 0 {
			// [0] IMPLICIT replaces the SET tag.
			attrs := cryptobyte.String(d.authAttrs)
			var inner cryptobyte.String
			attrs.ReadASN1(&inner, cryptobyte_asn1.SET)
			b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
				b.AddBytes(inner)
			})
		}
		addAlgorithmIdentifier(b, oidRSAEncryption)
		b.AddASN1OctetString(d.sig)
	})
}

// marshal returns the DER encoded ContentInfo.
func (d *signedData) marshal(c *C) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oidSignedData)
		b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1Int64(1)
				b.AddASN1(cryptobyte_asn1.SET, func(b *cryptobyte.Builder) {
					addAlgorithmIdentifier(b, d.digestAlg)
				})
				b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) {
					b.AddASN1ObjectIdentifier(d.contentType)
					if len(d.content) > 0 {
						b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
							b.AddBytes(d.content)
						})
					}
				})
				b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
					b.AddBytes(d.signer.Raw)
					for _, cert := range d.certs {
						b.AddBytes(cert.Raw)
					}
				})
				b.AddASN1(cryptobyte_asn1.SET, d.addSignerInfo)
			})
		})
	})

	der, err := b.Bytes()
	c.Assert(err, IsNil)
	return der
}
