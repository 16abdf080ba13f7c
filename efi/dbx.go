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
	"crypto"
	"sort"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/xerrors"
)

// DBXHashes returns the SHA-256 digests in the supplied forbidden
// signature database. The data may start with an authentication header.
// Lists of other types are ignored.
func DBXHashes(data []byte) ([][]byte, error) {
	db, err := ParseSignatureDatabase(data)
	if err != nil {
		return nil, err
	}
	return sha256Hashes(db)
}

func sha256Hashes(db efi.SignatureDatabase) ([][]byte, error) {
	var hashes [][]byte
	for i, l := range db {
		if l.Type != efi.CertSHA256Guid {
			continue
		}
		for j, s := range l.Signatures {
			if len(s.Data) != crypto.SHA256.Size() {
				return nil, xerrors.Errorf("invalid SHA-256 signature size %d (list %d, entry %d)", len(s.Data), i, j)
			}
			hashes = append(hashes, s.Data)
		}
	}
	return hashes, nil
}

// ReadFirmwareDBX reads the SHA-256 digests from the forbidden signature
// database (dbx) in the EFI variable backend associated with ctx.
func ReadFirmwareDBX(ctx context.Context) ([][]byte, error) {
	data, err := readFirmwareDatabase(ctx, "dbx")
	if err != nil {
		return nil, err
	}
	return DBXHashes(data)
}

// IsImageRevoked indicates whether the SHA-256 Authenticode digest of
// the supplied image is in dbx.
func IsImageRevoked(image *Image, dbx [][]byte) (bool, error) {
	digest, err := image.Hash(crypto.SHA256)
	if err != nil {
		return false, err
	}
	for _, h := range dbx {
		if bytes.Equal(h, digest) {
			return true, nil
		}
	}
	return false, nil
}

func sortedUniqueHashes(hashes [][]byte) [][]byte {
	out := make([][]byte, len(hashes))
	copy(out, hashes)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i], out[j]) < 0
	})

	n := 0
	for i, h := range out {
		if i > 0 && bytes.Equal(h, out[n-1]) {
			continue
		}
		out[n] = h
		n++
	}
	return out[:n]
}

// NeedDBXUpdate indicates whether the update contains a different set of
// digests to the current dbx. The order of the digests and duplicate
// entries are ignored.
func NeedDBXUpdate(current, update [][]byte) bool {
	a := sortedUniqueHashes(current)
	b := sortedUniqueHashes(update)
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return true
		}
	}
	return false
}
