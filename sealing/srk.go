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


package sealing

import (
	"crypto/rsa"
	"fmt"
	"math/big"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/tpm2"
)

const srkKeyBits = 2048

// SRKTemplate returns the template used to create the storage root key.
// The key is an RSA-2048 restricted decryption key that is recreated
// deterministically from the storage hierarchy seed each time it is
// needed, so it never has to be persisted.
func SRKTemplate() *tpm2.Public {
	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs: tpm2.AttrFixedTPM | tpm2.AttrFixedParent | tpm2.AttrSensitiveDataOrigin |
			tpm2.AttrUserWithAuth | tpm2.AttrNoDA | tpm2.AttrRestricted | tpm2.AttrDecrypt,
		Params: &tpm2.RSAParams{
			Symmetric: tpm2.SymDefObject{
				Algorithm: tpm2.SymObjectAlgorithmAES,
				KeyBits:   128,
				Mode:      tpm2.SymModeCFB},
			Scheme:   tpm2.AsymScheme{Scheme: tpm2.AlgorithmNull},
			KeyBits:  srkKeyBits,
			Exponent: 0},
		Unique: make(tpm2.RSAPublicKey, srkKeyBits/8)}
}

// CreateSRK creates the storage root key in the owner hierarchy, using an
// empty owner authorization. The caller must flush the returned handle.
func CreateSRK(tpm *tpm2.TPMContext) (tpm2.Handle, error) {
	handle, _, err := tpm.CreatePrimary(tpm2.HandleOwner, nil, SRKTemplate(), nil, nil, nil)
	if err != nil {
		return tpm2.HandleNull, xerrors.Errorf("cannot create storage root key: %w", err)
	}
	return handle, nil
}

// SRKMismatchError is returned from ReadSRKPublic when the object at the
// supplied handle was not created from the storage root key template.
type SRKMismatchError struct {
	Field string
}

func (e *SRKMismatchError) Error() string {
	return fmt.Sprintf("storage root key has unexpected %s", e.Field)
}

// ReadSRKPublic reads the public area of the storage root key at the
// supplied handle and checks that it matches SRKTemplate.
func ReadSRKPublic(tpm *tpm2.TPMContext, srk tpm2.Handle) (*tpm2.Public, tpm2.Name, error) {
	pub, name, err := tpm.ReadPublic(srk)
	if err != nil {
		return nil, nil, xerrors.Errorf("cannot read public area of storage root key: %w", err)
	}

	template := SRKTemplate()
	switch {
	case pub.Type != template.Type:
		return nil, nil, &SRKMismatchError{"type"}
	case pub.NameAlg != template.NameAlg:
		return nil, nil, &SRKMismatchError{"name algorithm"}
	case pub.Attrs != template.Attrs:
		return nil, nil, &SRKMismatchError{"attributes"}
	}

	params, ok := pub.Params.(*tpm2.RSAParams)
	if !ok || *params != *template.Params.(*tpm2.RSAParams) {
		return nil, nil, &SRKMismatchError{"parameters"}
	}

	return pub, name, nil
}

func bigIntToBytesZeroExtended(x *big.Int, n int) []byte {
	b := x.Bytes()
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

// newRSAPublicArea creates the public area for a go *rsa.PublicKey, which
// is suitable for loading in to a TPM with TPMContext.LoadExternal.
func newRSAPublicArea(key *rsa.PublicKey) *tpm2.Public {
	keyBits := key.N.BitLen()
	exponent := uint32(key.E)
	if key.E == 65537 {
		// The TPM's default exponent.
		exponent = 0
	}

	return &tpm2.Public{
		Type:    tpm2.ObjectTypeRSA,
		NameAlg: tpm2.HashAlgorithmSHA256,
		Attrs:   tpm2.AttrSensitiveDataOrigin | tpm2.AttrUserWithAuth | tpm2.AttrSign,
		Params: &tpm2.RSAParams{
			Symmetric: tpm2.SymDefObject{Algorithm: tpm2.SymObjectAlgorithmNull},
			Scheme: tpm2.AsymScheme{
				Scheme:  tpm2.AlgorithmRSASSA,
				HashAlg: tpm2.HashAlgorithmSHA256},
			KeyBits:  uint16(keyBits),
			Exponent: exponent},
		Unique: tpm2.RSAPublicKey(bigIntToBytesZeroExtended(key.N, (keyBits+7)/8))}
}

// LoadExternalPublic loads the supplied RSA public key in to the null
// hierarchy. It is used to check that a trust anchor key is acceptable to
// the TPM. The caller must flush the returned handle.
func LoadExternalPublic(tpm *tpm2.TPMContext, key *rsa.PublicKey) (tpm2.Handle, tpm2.Name, error) {
	if key.E <= 0 || int64(key.E) > int64(^uint32(0)) {
		return tpm2.HandleNull, nil, xerrors.Errorf("invalid public exponent %d", key.E)
	}
	handle, name, err := tpm.LoadExternal(nil, newRSAPublicArea(key), tpm2.HandleNull)
	if err != nil {
		return tpm2.HandleNull, nil, xerrors.Errorf("cannot load public key: %w", err)
	}
	return handle, name, nil
}
