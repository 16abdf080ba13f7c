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
	"context"
	"crypto/x509"
	"encoding/binary"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/xerrors"
)

const (
	efiTimeSize = 16

	// EFI_VARIABLE_AUTHENTICATION_2 is an EFI_TIME followed by a
	// WIN_CERTIFICATE_UEFI_GUID.
	authHdrRevisionOffset = efiTimeSize + 4
	authHdrTypeOffset     = efiTimeSize + 6
	authHdrCertTypeOffset = efiTimeSize + 8
	authHdrMinSize        = authHdrCertTypeOffset + 16
)

// HasAuthenticationHeader indicates whether data starts with an
// EFI_VARIABLE_AUTHENTICATION_2 header, as found in signed signature
// database updates.
func HasAuthenticationHeader(data []byte) bool {
	if len(data) < authHdrMinSize {
		return false
	}
	if binary.LittleEndian.Uint16(data[authHdrRevisionOffset:]) != winCertRevision {
		return false
	}
	if binary.LittleEndian.Uint16(data[authHdrTypeOffset:]) != winCertTypeEfiGuid {
		return false
	}
	var certType efi.GUID
	copy(certType[:], data[authHdrCertTypeOffset:])
	return certType == efi.CertTypePKCS7Guid
}

// StripAuthenticationHeader returns data without its leading
// EFI_VARIABLE_AUTHENTICATION_2 header. If there is no such header, data
// is returned unmodified.
func StripAuthenticationHeader(data []byte) ([]byte, error) {
	if !HasAuthenticationHeader(data) {
		return data, nil
	}
	r := bytes.NewReader(data)
	if _, err := efi.ReadTimeBasedVariableAuthentication(r); err != nil {
		return nil, xerrors.Errorf("cannot decode authentication header: %w", err)
	}
	return data[len(data)-r.Len():], nil
}

// ParseSignatureDatabase decodes a signature database, skipping any
// authentication header.
func ParseSignatureDatabase(data []byte) (efi.SignatureDatabase, error) {
	data, err := StripAuthenticationHeader(data)
	if err != nil {
		return nil, err
	}
	db, err := efi.ReadSignatureDatabase(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Errorf("cannot decode signature database: %w", err)
	}
	return db, nil
}

func readFirmwareDatabase(ctx context.Context, name string) ([]byte, error) {
	data, _, err := efi.ReadVariable(ctx, name, efi.ImageSecurityDatabaseGuid)
	if err != nil {
		return nil, xerrors.Errorf("cannot read %s variable: %w", name, err)
	}
	return data, nil
}

// ReadFirmwareDB reads the authorized signature database (db) from the
// EFI variable backend associated with ctx. Use
// efi.WithDefaultVarsBackend to access the host's variables.
func ReadFirmwareDB(ctx context.Context) (efi.SignatureDatabase, error) {
	data, err := readFirmwareDatabase(ctx, "db")
	if err != nil {
		return nil, err
	}
	return ParseSignatureDatabase(data)
}

// X509Certificates returns the X.509 certificates in the supplied
// database, in order. Entries that cannot be decoded are skipped.
func X509Certificates(db efi.SignatureDatabase) []*x509.Certificate {
	var certs []*x509.Certificate
	for _, l := range db {
		if l.Type != efi.CertX509Guid {
			continue
		}
		for _, s := range l.Signatures {
			cert, err := x509.ParseCertificate(s.Data)
			if err != nil {
				continue
			}
			certs = append(certs, cert)
		}
	}
	return certs
}

// VerifyWithDB checks the image's signature against every X.509
// certificate in the supplied database and returns the first one that
// it is trusted by.
func (i *Image) VerifyWithDB(db efi.SignatureDatabase) (*x509.Certificate, error) {
	sig, err := i.readSignature()
	if err != nil {
		return nil, err
	}
	for _, cert := range X509Certificates(db) {
		if sig.issuedBy(cert) {
			return cert, nil
		}
	}
	return nil, certificateErrorf(nil, "signer %q is not trusted by any certificate in the signature database", sig.signer().Subject)
}
