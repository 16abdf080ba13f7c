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
	"bytes"
	"crypto"
	"crypto/x509"
	"debug/pe"
	"encoding/binary"

	efi "github.com/canonical/go-efilib"
	. "gopkg.in/check.v1"
)

const (
	peOffset        = 0x80
	peFileAlignment = 0x200
	peSectionAlign  = 0x1000
)

// PESection describes a section of a mock PE image.
type PESection struct {
	Name string
	Data []byte
}

// PEImageOptions describes a mock PE image.
type PEImageOptions struct {
	PE32     bool // Create a PE32 image rather than a PE32+ image
	Checksum uint32
	Sections []PESection

	// ReverseSectionTable writes the section table in the reverse
	// order to the section data in the file.
	ReverseSectionTable bool

	// TrailingData is appended after the last section.
	TrailingData []byte
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// NewPEImage returns a minimal but well-formed PE image. The result is
// padded to an 8-byte boundary so that it can be signed.
func NewPEImage(c *C, opts *PEImageOptions) []byte {
	optHdrSize := binary.Size(pe.OptionalHeader64{})
	machine := uint16(pe.IMAGE_FILE_MACHINE_AMD64)
	if opts.PE32 {
		optHdrSize = binary.Size(pe.OptionalHeader32{})
		machine = pe.IMAGE_FILE_MACHINE_I386
	}

	secTableOffset := peOffset + 4 + binary.Size(pe.FileHeader{}) + optHdrSize
	sizeOfHeaders := alignUp(secTableOffset+len(opts.Sections)*binary.Size(pe.SectionHeader32{}), peFileAlignment)

	var headers []pe.SectionHeader32
	fileOff := sizeOfHeaders
	virtAddr := peSectionAlign
	for _, s := range opts.Sections {
		var name [8]uint8
		copy(name[:], s.Name)
		rawSize := alignUp(len(s.Data), peFileAlignment)
		h := pe.SectionHeader32{
			Name:            name,
			VirtualSize:     uint32(len(s.Data)),
			VirtualAddress:  uint32(virtAddr),
			SizeOfRawData:   uint32(rawSize),
			Characteristics: pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ}
		if rawSize > 0 {
			h.PointerToRawData = uint32(fileOff)
		}
		headers = append(headers, h)
		fileOff += rawSize
		virtAddr += alignUp(len(s.Data)+1, peSectionAlign)
	}

	buf := new(bytes.Buffer)

	dos := make([]byte, peOffset)
	copy(dos, "MZ")
	binary.LittleEndian.PutUint32(dos[0x3c:], peOffset)
	buf.Write(dos)
	buf.WriteString("PE\x00\x00")

	binary.Write(buf, binary.LittleEndian, &pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(opts.Sections)),
		SizeOfOptionalHeader: uint16(optHdrSize),
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE})

	if opts.PE32 {
		binary.Write(buf, binary.LittleEndian, &pe.OptionalHeader32{
			Magic:               0x10b,
			SectionAlignment:    peSectionAlign,
			FileAlignment:       peFileAlignment,
			SizeOfImage:         uint32(virtAddr),
			SizeOfHeaders:       uint32(sizeOfHeaders),
			CheckSum:            opts.Checksum,
			Subsystem:           pe.IMAGE_SUBSYSTEM_EFI_APPLICATION,
			NumberOfRvaAndSizes: 16})
	} else {
		binary.Write(buf, binary.LittleEndian, &pe.OptionalHeader64{
			Magic:               0x20b,
			SectionAlignment:    peSectionAlign,
			FileAlignment:       peFileAlignment,
			SizeOfImage:         uint32(virtAddr),
			SizeOfHeaders:       uint32(sizeOfHeaders),
			CheckSum:            opts.Checksum,
			Subsystem:           pe.IMAGE_SUBSYSTEM_EFI_APPLICATION,
			NumberOfRvaAndSizes: 16})
	}

	table := headers
	if opts.ReverseSectionTable {
		table = make([]pe.SectionHeader32, len(headers))
		for i, h := range headers {
			table[len(headers)-1-i] = h
		}
	}
	for i := range table {
		binary.Write(buf, binary.LittleEndian, &table[i])
	}

	buf.Write(make([]byte, sizeOfHeaders-buf.Len()))
	for _, s := range opts.Sections {
		buf.Write(s.Data)
		buf.Write(make([]byte, alignUp(len(s.Data), peFileAlignment)-len(s.Data)))
	}
	buf.Write(opts.TrailingData)
	buf.Write(make([]byte, alignUp(buf.Len(), 8)-buf.Len()))

	return buf.Bytes()
}

func peCertTableEntryOffset(c *C, image []byte) int {
	off := int(binary.LittleEndian.Uint32(image[0x3c:])) + 4 + binary.Size(pe.FileHeader{})
	switch binary.LittleEndian.Uint16(image[off:]) {
	case 0x10b:
		off += 96
	case 0x20b:
		off += 112
	default:
		c.Fatal("invalid optional header magic")
	}
	return off + 4*8
}

// MakeWinCertificate returns a WIN_CERTIFICATE with the specified
// revision, type and payload, padded to a multiple of 8 bytes for use in
// a certificate table.
func MakeWinCertificate(revision, certType uint16, data []byte) []byte {
	var cert bytes.Buffer
	binary.Write(&cert, binary.LittleEndian, &winCertificateHdr{
		Length:          uint32(binary.Size(winCertificateHdr{}) + len(data)),
		Revision:        revision,
		CertificateType: certType})
	cert.Write(data)
	cert.Write(make([]byte, alignUp(cert.Len(), 8)-cert.Len()))
	return cert.Bytes()
}

// AppendPECertificateTable appends the supplied certificate table to
// image and updates the certificate table entry to point to it.
func AppendPECertificateTable(c *C, image []byte, table []byte) []byte {
	c.Assert(len(image)%8, Equals, 0)

	out := make([]byte, len(image), len(image)+len(table))
	copy(out, image)

	entry := peCertTableEntryOffset(c, out)
	binary.LittleEndian.PutUint32(out[entry:], uint32(len(out)))
	binary.LittleEndian.PutUint32(out[entry+4:], uint32(len(table)))

	return append(out, table...)
}

// AppendPESignature appends a certificate table containing a single
// WIN_CERTIFICATE with the supplied payload and type to image.
func AppendPESignature(c *C, image []byte, certType uint16, data []byte) []byte {
	return AppendPECertificateTable(c, image, MakeWinCertificate(0x0200, certType, data))
}

// PEImageDigest computes the Authenticode digest of the supplied image
// using go-efilib.
func PEImageDigest(c *C, alg crypto.Hash, image []byte) []byte {
	digest, err := efi.ComputePeImageDigest(alg, bytes.NewReader(image), int64(len(image)))
	c.Assert(err, IsNil)
	return digest
}

// SignPEImage returns a copy of image with an Authenticode signature
// made by the supplied key.
func SignPEImage(c *C, image []byte, key crypto.Signer, signer *x509.Certificate, certs ...*x509.Certificate) []byte {
	digest := PEImageDigest(c, crypto.SHA256, image)
	sig := GenerateWinCertificateAuthenticodeDetached(c, key, signer, digest, crypto.SHA256, certs...)
	return AppendPESignature(c, image, 0x0002, sig) // WIN_CERT_TYPE_PKCS_SIGNED_DATA
}
