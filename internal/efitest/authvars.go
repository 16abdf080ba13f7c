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
	"crypto"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"time"

	efi "github.com/canonical/go-efilib"
	. "gopkg.in/check.v1"

	"github.com/snapcore/bootseal/internal/testutil"
)

// encodeEFITime returns the 16 byte EFI_TIME encoding of t, with the
// nanosecond, timezone and daylight fields left as zero.
func encodeEFITime(t time.Time) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint16(out, uint16(t.Year()))
	out[2] = uint8(t.Month())
	out[3] = uint8(t.Day())
	out[4] = uint8(t.Hour())
	out[5] = uint8(t.Minute())
	out[6] = uint8(t.Second())
	return out
}

// GenerateSignedVariableUpdate returns data prefixed with an
// EFI_VARIABLE_AUTHENTICATION_2 header, signed with key, in the form that
// an authenticated update to the named variable is distributed in.
func GenerateSignedVariableUpdate(c *C, key crypto.Signer, signer *x509.Certificate, name string, guid efi.GUID, attrs efi.VariableAttributes, timestamp time.Time, data []byte) []byte {
	ts := encodeEFITime(timestamp)

	h := crypto.SHA256.New()
	binary.Write(h, binary.LittleEndian, efi.ConvertUTF8ToUCS2(name))
	h.Write(guid[:])
	binary.Write(h, binary.LittleEndian, attrs)
	h.Write(ts)
	h.Write(data)

	sig, err := key.Sign(testutil.NewTestRNG(c, []byte(name), "VAR-SIGN"), h.Sum(nil), crypto.SHA256)
	c.Assert(err, IsNil)
	pk7 := (&signedData{signer: signer, contentType: oidData, digestAlg: oidSHA256, sig: sig}).marshal(c)

	// WIN_CERTIFICATE_UEFI_GUID
	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint32(hdr, uint32(len(hdr)+len(pk7)))
	binary.LittleEndian.PutUint16(hdr[4:], 0x0200)
	binary.LittleEndian.PutUint16(hdr[6:], 0x0ef1) // WIN_CERT_TYPE_EFI_GUID
	copy(hdr[8:], efi.CertTypePKCS7Guid[:])

	out := append(ts, hdr...)
	out = append(out, pk7...)
	return append(out, data...)
}
