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


package efi

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/binary"

	"go.mozilla.org/pkcs7"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

const (
	winCertRevision           uint16 = 0x0200
	winCertTypePKCSSignedData uint16 = 0x0002 // WIN_CERT_TYPE_PKCS_SIGNED_DATA
	winCertTypeEfiGuid        uint16 = 0x0EF1 // WIN_CERT_TYPE_EFI_GUID

	winCertificateHdrSize = 8
)

var (
	oidSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

func hashAlgorithmFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, bool) {
	switch {
	case oid.Equal(oidSHA1):
		return crypto.SHA1, true
	case oid.Equal(oidSHA256):
		return crypto.SHA256, true
	case oid.Equal(oidSHA384):
		return crypto.SHA384, true
	case oid.Equal(oidSHA512):
		return crypto.SHA512, true
	default:
		return 0, false
	}
}

type winCertificateHdr struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

func decodeWinCertificateHdr(data []byte) winCertificateHdr {
	return winCertificateHdr{
		Length:          binary.LittleEndian.Uint32(data),
		Revision:        binary.LittleEndian.Uint16(data[4:]),
		CertificateType: binary.LittleEndian.Uint16(data[6:])}
}

// authenticodeSignature is a decoded Authenticode signature whose PKCS7
// signature and embedded image digest have been verified.
type authenticodeSignature struct {
	p7        *pkcs7.PKCS7
	digestAlg crypto.Hash
	digest    []byte
}

// signer returns the certificate of the signer.
func (s *authenticodeSignature) signer() *x509.Certificate {
	return s.p7.GetOnlySigner()
}

// issuedBy indicates whether the signer is the supplied certificate or is
// directly issued by it.
func (s *authenticodeSignature) issuedBy(anchor *x509.Certificate) bool {
	signer := s.signer()
	if signer == nil {
		return false
	}
	if signer.Equal(anchor) {
		return true
	}
	if !bytes.Equal(signer.RawIssuer, anchor.RawSubject) {
		return false
	}
	return signer.CheckSignatureFrom(anchor) == nil
}

// readAuthenticodeData returns the bCertificate field of the first
// Authenticode WIN_CERTIFICATE in the certificate table. Entries are
// 8-byte aligned.
func (i *Image) readAuthenticodeData() ([]byte, error) {
	if !i.IsSigned() {
		return nil, ErrNoSignature
	}
	table := i.data[i.certTable.Offset:i.certTable.end()]

	for off := 0; off < len(table); {
		if len(table)-off < winCertificateHdrSize {
			return nil, certificateErrorf(nil, "truncated WIN_CERTIFICATE header at offset %d", off)
		}
		hdr := decodeWinCertificateHdr(table[off:])
		switch {
		case hdr.Revision != winCertRevision:
			return nil, certificateErrorf(nil, "invalid WIN_CERTIFICATE revision %#04x", hdr.Revision)
		case hdr.Length < winCertificateHdrSize || int(hdr.Length) > len(table)-off:
			return nil, certificateErrorf(nil, "invalid WIN_CERTIFICATE length %d", hdr.Length)
		}

		if hdr.CertificateType == winCertTypePKCSSignedData {
			return table[off+winCertificateHdrSize : off+int(hdr.Length)], nil
		}

		off += int(hdr.Length)
		off += (8 - (off & 7)) % 8
	}

	return nil, ErrNoSignature
}

// normalizeSignedData returns the supplied PKCS7 data wrapped in a
// ContentInfo if it is a bare SignedData structure. Trailing zero padding
// is removed.
func normalizeSignedData(data []byte) ([]byte, error) {
	s := cryptobyte.String(data)
	var elem cryptobyte.String
	if !s.ReadASN1Element(&elem, cryptobyte_asn1.SEQUENCE) {
		return nil, certificateErrorf(nil, "signature is not a DER SEQUENCE")
	}
	for _, b := range s {
		if b != 0 {
			return nil, certificateErrorf(nil, "trailing bytes after signature")
		}
	}

	inner := elem
	var contents cryptobyte.String
	if !inner.ReadASN1(&contents, cryptobyte_asn1.SEQUENCE) {
		return nil, certificateErrorf(nil, "signature is not a DER SEQUENCE")
	}
	switch {
	case contents.PeekASN1Tag(cryptobyte_asn1.OBJECT_IDENTIFIER):
		// ContentInfo
		return elem, nil
	case contents.PeekASN1Tag(cryptobyte_asn1.INTEGER):
		// SignedData, starting with its version
	default:
		return nil, certificateErrorf(nil, "signature is neither a ContentInfo nor a SignedData")
	}

	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ContentInfo ::= SEQUENCE
		b.AddASN1ObjectIdentifier(oidSignedData)                                                        // contentType ContentType
		b.AddASN1(cryptobyte_asn1.Tag(0).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) { // content [0] EXPLICIT
			b.AddBytes(elem)
		})
	})
	return b.Bytes()
}

// readIndirectDataDigest returns the image digest from the contents of a
// SpcIndirectDataContent structure:
//
//	SpcIndirectDataContent ::= SEQUENCE {
//	    data          SpcAttributeTypeAndOptionalValue,
//	    messageDigest DigestInfo }
//
//	DigestInfo ::= SEQUENCE {
//	    digestAlgorithm AlgorithmIdentifier,
//	    digest          OCTET STRING }
func readIndirectDataDigest(content []byte) (crypto.Hash, []byte, error) {
	s := cryptobyte.String(content)

	// pkcs7.Parse strips the header of the outer SEQUENCE from the
	// content. Accept both forms.
	var inner cryptobyte.String
	if tmp := s; tmp.ReadASN1(&inner, cryptobyte_asn1.SEQUENCE) && tmp.Empty() {
		s = inner
	}

	var (
		digestInfo cryptobyte.String
		algId      cryptobyte.String
		oid        asn1.ObjectIdentifier
		digest     []byte
	)
	if !s.SkipASN1(cryptobyte_asn1.SEQUENCE) ||
		!s.ReadASN1(&digestInfo, cryptobyte_asn1.SEQUENCE) ||
		!digestInfo.ReadASN1(&algId, cryptobyte_asn1.SEQUENCE) ||
		!algId.ReadASN1ObjectIdentifier(&oid) ||
		!digestInfo.ReadASN1Bytes(&digest, cryptobyte_asn1.OCTET_STRING) {
		return 0, nil, certificateErrorf(nil, "cannot decode SpcIndirectDataContent")
	}

	alg, ok := hashAlgorithmFromOID(oid)
	if !ok {
		return 0, nil, certificateErrorf(nil, "unsupported digest algorithm %v", oid)
	}
	if len(digest) != alg.Size() {
		return 0, nil, certificateErrorf(nil, "invalid digest size %d", len(digest))
	}
	return alg, digest, nil
}

// readSignature decodes and verifies the image's Authenticode signature,
// without checking who signed it.
func (i *Image) readSignature() (*authenticodeSignature, error) {
	data, err := i.readAuthenticodeData()
	if err != nil {
		return nil, err
	}

	data, err = normalizeSignedData(data)
	if err != nil {
		return nil, err
	}

	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, certificateErrorf(err, "cannot decode PKCS7")
	}
	if p7.GetOnlySigner() == nil {
		return nil, certificateErrorf(nil, "signature must have exactly one signer")
	}

	alg, signedDigest, err := readIndirectDataDigest(p7.Content)
	if err != nil {
		return nil, err
	}

	digest, err := i.Hash(alg)
	if err != nil {
		return nil, certificateErrorf(err, "cannot compute image digest")
	}
	if !bytes.Equal(digest, signedDigest) {
		return nil, ErrDigestMismatch
	}

	if err := p7.Verify(); err != nil {
		return nil, certificateErrorf(err, "cannot verify PKCS7 signature")
	}

	return &authenticodeSignature{p7: p7, digestAlg: alg, digest: digest}, nil
}

// VerifyCertificate checks that the image carries a valid Authenticode
// signature over its current contents, made by the supplied trust anchor
// or by a certificate that it directly issued.
func (i *Image) VerifyCertificate(anchor *x509.Certificate) error {
	sig, err := i.readSignature()
	if err != nil {
		return err
	}
	if !sig.issuedBy(anchor) {
		return certificateErrorf(nil, "signer %q is not trusted by %q", sig.signer().Subject, anchor.Subject)
	}
	return nil
}

// Signer returns the certificate of the signer, once the signature has
// been verified against the image contents. The signer is not checked
// against any trust anchor.
func (i *Image) Signer() (*x509.Certificate, error) {
	sig, err := i.readSignature()
	if err != nil {
		return nil, err
	}
	return sig.signer(), nil
}
