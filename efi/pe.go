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
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"debug/pe"
	"encoding/binary"
	"sort"

	"golang.org/x/xerrors"
)

const (
	dosHeaderSize      = 0x40
	dosLfanewOffset    = 0x3c
	peSignatureSize    = 4
	coffFileHeaderSize = 20

	// Offsets relative to the start of the optional header
	optHdrChecksumOffset   = 64
	optHdr32DataDirsOffset = 96
	optHdr64DataDirsOffset = 112

	optHdrChecksumSize     = 4
	dataDirectoryEntrySize = 8
	certTableIndex         = 4 // Certificate Table

	dosSignature = "MZ"
	peSignature  = "PE\x00\x00"
)

// Region is a range of bytes in an image.
type Region struct {
	Offset int64
	Size   int64
}

func (r Region) end() int64 {
	return r.Offset + r.Size
}

// Image is a parsed PE/COFF image.
type Image struct {
	data      []byte
	is64      bool
	regions   []Region
	certTable Region
}

// NewImage parses the supplied PE/COFF image. Both PE32 and PE32+
// images are accepted. The returned image retains a reference to data,
// which must not be modified afterwards.
func NewImage(data []byte) (*Image, error) {
	size := int64(len(data))

	if size < dosHeaderSize {
		return nil, formatErrorf("file too small for a DOS header")
	}
	if string(data[:2]) != dosSignature {
		return nil, formatErrorf("invalid DOS signature")
	}
	peOffset := int64(binary.LittleEndian.Uint32(data[dosLfanewOffset:]))
	if peOffset+peSignatureSize+coffFileHeaderSize > size {
		return nil, formatErrorf("PE header offset %#x out of bounds", peOffset)
	}
	if string(data[peOffset:peOffset+peSignatureSize]) != peSignature {
		return nil, formatErrorf("invalid PE signature")
	}

	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, &FormatError{msg: "cannot decode headers: " + err.Error()}
	}

	optHdrOffset := peOffset + peSignatureSize + coffFileHeaderSize
	optHdrEnd := optHdrOffset + int64(f.FileHeader.SizeOfOptionalHeader)
	if optHdrEnd > size {
		return nil, formatErrorf("optional header out of bounds")
	}

	var (
		is64          bool
		dataDirOffset int64
		sizeOfHeaders int64
		dd            []pe.DataDirectory
	)
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dataDirOffset = optHdrOffset + optHdr32DataDirsOffset
		sizeOfHeaders = int64(oh.SizeOfHeaders)
		dd = oh.DataDirectory[:minUint32(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	case *pe.OptionalHeader64:
		is64 = true
		dataDirOffset = optHdrOffset + optHdr64DataDirsOffset
		sizeOfHeaders = int64(oh.SizeOfHeaders)
		dd = oh.DataDirectory[:minUint32(oh.NumberOfRvaAndSizes, uint32(len(oh.DataDirectory)))]
	default:
		return nil, formatErrorf("no optional header")
	}

	if len(dd) <= certTableIndex {
		return nil, formatErrorf("no certificate table entry")
	}
	checksumOffset := optHdrOffset + optHdrChecksumOffset
	certDirOffset := dataDirOffset + certTableIndex*dataDirectoryEntrySize
	if certDirOffset+dataDirectoryEntrySize > optHdrEnd {
		return nil, formatErrorf("certificate table entry outside of the optional header")
	}
	if sizeOfHeaders < certDirOffset+dataDirectoryEntrySize || sizeOfHeaders > size {
		return nil, formatErrorf("SizeOfHeaders (%d) out of bounds", sizeOfHeaders)
	}

	certTable := Region{
		Offset: int64(dd[certTableIndex].VirtualAddress),
		Size:   int64(dd[certTableIndex].Size)}
	if certTable.Size > 0 && (certTable.Offset < sizeOfHeaders || certTable.end() > size) {
		return nil, formatErrorf("certificate table [%#x, %#x) out of bounds", certTable.Offset, certTable.end())
	}

	// The header is hashed up to SizeOfHeaders, skipping the checksum and
	// the certificate table entry.
	regions := []Region{
		{Offset: 0, Size: checksumOffset},
		{Offset: checksumOffset + optHdrChecksumSize, Size: certDirOffset - checksumOffset - optHdrChecksumSize},
		{Offset: certDirOffset + dataDirectoryEntrySize, Size: sizeOfHeaders - certDirOffset - dataDirectoryEntrySize},
	}
	sumOfBytesHashed := sizeOfHeaders

	// Sections are hashed in file order, which isn't necessarily the
	// order of the section table.
	sections := make([]*pe.SectionHeader, 0, len(f.Sections))
	for _, s := range f.Sections {
		if s.Size == 0 {
			continue
		}
		sections = append(sections, &s.SectionHeader)
	}
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Offset < sections[j].Offset
	})
	for _, s := range sections {
		r := Region{Offset: int64(s.Offset), Size: int64(s.Size)}
		if r.end() > size {
			return nil, formatErrorf("section %q [%#x, %#x) out of bounds", s.Name, r.Offset, r.end())
		}
		regions = append(regions, r)
		sumOfBytesHashed += r.Size
	}

	if sumOfBytesHashed < size {
		end := size - certTable.Size
		if end < sumOfBytesHashed {
			return nil, formatErrorf("certificate table overlaps hashed data")
		}
		if end > sumOfBytesHashed {
			regions = append(regions, Region{Offset: sumOfBytesHashed, Size: end - sumOfBytesHashed})
		}
	}

	return &Image{
		data:      data,
		is64:      is64,
		regions:   regions,
		certTable: certTable}, nil
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// Size returns the size of the image in bytes.
func (i *Image) Size() int {
	return len(i.data)
}

// Is64 indicates whether this is a PE32+ image.
func (i *Image) Is64() bool {
	return i.is64
}

// Regions returns the ordered list of regions covered by the Authenticode
// digest.
func (i *Image) Regions() []Region {
	return append([]Region(nil), i.regions...)
}

// CertificateTable returns the location of the certificate table. Its
// size is zero if the image is unsigned.
func (i *Image) CertificateTable() Region {
	return i.certTable
}

// IsSigned indicates whether the image has a certificate table.
func (i *Image) IsSigned() bool {
	return i.certTable.Size > 0
}

// Hash computes the Authenticode digest of this image with the specified
// algorithm.
func (i *Image) Hash(alg crypto.Hash) ([]byte, error) {
	if !alg.Available() {
		return nil, xerrors.Errorf("digest algorithm %v is not available", alg)
	}
	h := alg.New()
	for _, r := range i.regions {
		h.Write(i.data[r.Offset:r.end()])
	}
	return h.Sum(nil), nil
}
