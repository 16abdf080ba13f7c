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

package tpm2

import (
	"sort"
)

// Digest corresponds to the TPM2B_DIGEST type.
type Digest []byte

// Nonce corresponds to the TPM2B_NONCE type.
type Nonce []byte

// Auth corresponds to the TPM2B_AUTH type.
type Auth []byte

// Name corresponds to the TPM2B_NAME type.
type Name []byte

// Private corresponds to the TPM2B_PRIVATE type.
type Private []byte

// SensitiveData corresponds to the TPM2B_SENSITIVE_DATA type.
type SensitiveData []byte

// MaxBuffer corresponds to the TPM2B_MAX_BUFFER type.
type MaxBuffer []byte

// DigestList corresponds to the TPML_DIGEST type.
type DigestList []Digest

// HandleList corresponds to the TPML_HANDLE type.
type HandleList []Handle

func (HandleList) capability() Capability { return CapabilityHandles }

// TaggedHash corresponds to the TPMT_HA type.
type TaggedHash struct {
	HashAlg HashAlgorithmId
	Digest  Digest
}

// TaggedHashList corresponds to the TPML_DIGEST_VALUES type.
type TaggedHashList []TaggedHash

// PCRSelection corresponds to the TPMS_PCR_SELECTION type.
type PCRSelection struct {
	Hash   HashAlgorithmId
	Select []int

	// SizeOfSelect is the size of the encoded bitmap. A value smaller than
	// PCRSelectMin or smaller than required for the selected PCRs is
	// increased when marshalling. Unmarshalling only accepts values
	// between PCRSelectMin and PCRSelectMax, so a decoded selection
	// marshals back to the same bytes.
	SizeOfSelect uint8
}

// PCRSelectionList corresponds to the TPML_PCR_SELECTION type.
type PCRSelectionList []PCRSelection

func (PCRSelectionList) capability() Capability { return CapabilityPCRs }

// IsEmpty indicates whether no PCRs are selected.
func (l PCRSelectionList) IsEmpty() bool {
	for _, s := range l {
		if len(s.Select) > 0 {
			return false
		}
	}
	return true
}

// Equal indicates whether both lists select the same PCRs in the same
// banks, ignoring ordering and encoding size.
func (l PCRSelectionList) Equal(other PCRSelectionList) bool {
	a := l.normalize()
	b := other.normalize()
	if len(a) != len(b) {
		return false
	}
	for alg, pcrs := range a {
		o, ok := b[alg]
		if !ok || len(o) != len(pcrs) {
			return false
		}
		for i := range pcrs {
			if pcrs[i] != o[i] {
				return false
			}
		}
	}
	return true
}

func (l PCRSelectionList) normalize() map[HashAlgorithmId][]int {
	out := make(map[HashAlgorithmId][]int)
	for _, s := range l {
		seen := make(map[int]bool)
		for _, pcr := range out[s.Hash] {
			seen[pcr] = true
		}
		for _, pcr := range s.Select {
			if !seen[pcr] {
				out[s.Hash] = append(out[s.Hash], pcr)
				seen[pcr] = true
			}
		}
	}
	for alg, pcrs := range out {
		if len(pcrs) == 0 {
			delete(out, alg)
			continue
		}
		sort.Ints(pcrs)
	}
	return out
}

// Remove returns a copy of this list with the PCRs selected in other
// removed.
func (l PCRSelectionList) Remove(other PCRSelectionList) PCRSelectionList {
	rm := other.normalize()
	var out PCRSelectionList
	for _, s := range l {
		ns := PCRSelection{Hash: s.Hash, SizeOfSelect: s.SizeOfSelect}
		for _, pcr := range s.Select {
			found := false
			for _, r := range rm[s.Hash] {
				if r == pcr {
					found = true
					break
				}
			}
			if !found {
				ns.Select = append(ns.Select, pcr)
			}
		}
		out = append(out, ns)
	}
	return out
}

// PCRValues contains a collection of PCR values, keyed by algorithm and
// PCR index.
type PCRValues map[HashAlgorithmId]map[int]Digest

// SetValue sets the PCR value for the specified algorithm and index.
func (v PCRValues) SetValue(alg HashAlgorithmId, pcr int, digest Digest) {
	if _, ok := v[alg]; !ok {
		v[alg] = make(map[int]Digest)
	}
	v[alg][pcr] = digest
}

// SelectionList returns a PCRSelectionList for the values in this
// collection, with banks and PCRs in ascending order.
func (v PCRValues) SelectionList() PCRSelectionList {
	var algs []HashAlgorithmId
	for alg := range v {
		algs = append(algs, alg)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })

	var out PCRSelectionList
	for _, alg := range algs {
		s := PCRSelection{Hash: alg}
		for pcr := range v[alg] {
			s.Select = append(s.Select, pcr)
		}
		sort.Ints(s.Select)
		out = append(out, s)
	}
	return out
}

// AuthCommand corresponds to the TPMS_AUTH_COMMAND type. Only password and
// policy sessions are used, so HMAC is a plaintext password or empty.
type AuthCommand struct {
	SessionHandle     Handle
	Nonce             Nonce
	SessionAttributes SessionAttributes
	HMAC              Auth
}

// AuthResponse corresponds to the TPMS_AUTH_RESPONSE type.
type AuthResponse struct {
	Nonce             Nonce
	SessionAttributes SessionAttributes
	HMAC              Auth
}

// PasswordAuth returns a password authorization with the supplied value.
func PasswordAuth(value Auth) *AuthCommand {
	return &AuthCommand{SessionHandle: HandlePW, SessionAttributes: AttrContinueSession, HMAC: value}
}

// PolicyAuth returns an authorization that uses the supplied policy
// session. The session is flushed by the TPM once the command completes.
func PolicyAuth(session Handle) *AuthCommand {
	return &AuthCommand{SessionHandle: session}
}

// SensitiveCreate corresponds to the TPMS_SENSITIVE_CREATE type.
type SensitiveCreate struct {
	UserAuth Auth
	Data     SensitiveData
}

// Sensitive corresponds to the TPMT_SENSITIVE type.
type Sensitive struct {
	Type      ObjectTypeId
	AuthValue Auth
	SeedValue Digest
	Sensitive []byte
}

// SymDefObject corresponds to the TPMT_SYM_DEF_OBJECT type. KeyBits and
// Mode are only present on the wire when Algorithm is not
// SymObjectAlgorithmNull.
type SymDefObject struct {
	Algorithm SymObjectAlgorithmId
	KeyBits   uint16
	Mode      SymModeId
}

// SymDef corresponds to the TPMT_SYM_DEF type.
type SymDef SymDefObject

// AsymScheme corresponds to the TPMT_RSA_SCHEME, TPMT_ECC_SCHEME and
// TPMT_KDF_SCHEME types. HashAlg is only present on the wire when Scheme
// is not AlgorithmNull.
type AsymScheme struct {
	Scheme  AlgorithmId
	HashAlg HashAlgorithmId
}

// KeyedHashScheme corresponds to the TPMT_KEYEDHASH_SCHEME type. HashAlg
// is present for the HMAC and XOR schemes, KDF only for XOR.
type KeyedHashScheme struct {
	Scheme  AlgorithmId
	HashAlg HashAlgorithmId
	KDF     AlgorithmId
}

// PublicParams corresponds to the TPMU_PUBLIC_PARMS type. It is
// implemented by one variant per object type.
type PublicParams interface {
	ObjectType() ObjectTypeId
}

// KeyedHashParams corresponds to the TPMS_KEYEDHASH_PARMS type.
type KeyedHashParams struct {
	Scheme KeyedHashScheme
}

func (*KeyedHashParams) ObjectType() ObjectTypeId { return ObjectTypeKeyedHash }

// RSAParams corresponds to the TPMS_RSA_PARMS type.
type RSAParams struct {
	Symmetric SymDefObject
	Scheme    AsymScheme
	KeyBits   uint16
	Exponent  uint32
}

func (*RSAParams) ObjectType() ObjectTypeId { return ObjectTypeRSA }

// ECCParams corresponds to the TPMS_ECC_PARMS type.
type ECCParams struct {
	Symmetric SymDefObject
	Scheme    AsymScheme
	CurveID   ECCCurve
	KDF       AsymScheme
}

func (*ECCParams) ObjectType() ObjectTypeId { return ObjectTypeECC }

// SymCipherParams corresponds to the TPMS_SYMCIPHER_PARMS type.
type SymCipherParams struct {
	Symmetric SymDefObject
}

func (*SymCipherParams) ObjectType() ObjectTypeId { return ObjectTypeSymCipher }

// PublicID corresponds to the TPMU_PUBLIC_ID type. It is implemented by
// one variant per object type.
type PublicID interface {
	publicID()
}

// DigestID is the unique field of keyed hash and symmetric cipher
// objects.
type DigestID Digest

func (DigestID) publicID() {}

// RSAPublicKey is the unique field of RSA objects (TPM2B_PUBLIC_KEY_RSA).
type RSAPublicKey []byte

func (RSAPublicKey) publicID() {}

// ECCPoint corresponds to the TPMS_ECC_POINT type.
type ECCPoint struct {
	X []byte
	Y []byte
}

func (*ECCPoint) publicID() {}

// Public corresponds to the TPMT_PUBLIC type. Params and Unique must be
// the variants that correspond to Type.
type Public struct {
	Type       ObjectTypeId
	NameAlg    HashAlgorithmId
	Attrs      ObjectAttributes
	AuthPolicy Digest
	Params     PublicParams
	Unique     PublicID
}

// Name computes the name of the object associated with this public area.
func (p *Public) Name() (Name, error) {
	b, err := MarshalToBytes(p.Marshal)
	if err != nil {
		return nil, err
	}
	if !p.NameAlg.IsValid() {
		return nil, &UnsupportedAlgorithmError{Alg: p.NameAlg}
	}
	h := p.NameAlg.GetHash().New()
	h.Write(b)
	return append(Name{byte(p.NameAlg >> 8), byte(p.NameAlg)}, h.Sum(nil)...), nil
}

// CreationData is the raw contents of a TPM2B_CREATION_DATA structure.
type CreationData []byte

// TkCreation corresponds to the TPMT_TK_CREATION type.
type TkCreation struct {
	Tag       StructTag
	Hierarchy Handle
	Digest    Digest
}

// TkHashcheck corresponds to the TPMT_TK_HASHCHECK type.
type TkHashcheck struct {
	Tag       StructTag
	Hierarchy Handle
	Digest    Digest
}

// TaggedProperty corresponds to the TPMS_TAGGED_PROPERTY type.
type TaggedProperty struct {
	Property Property
	Value    uint32
}

// TaggedTPMPropertyList corresponds to the TPML_TAGGED_TPM_PROPERTY type.
type TaggedTPMPropertyList []TaggedProperty

func (TaggedTPMPropertyList) capability() Capability { return CapabilityTPMProperties }

// AlgorithmProperty corresponds to the TPMS_ALG_PROPERTY type.
type AlgorithmProperty struct {
	Alg        AlgorithmId
	Properties uint32
}

// AlgorithmPropertyList corresponds to the TPML_ALG_PROPERTY type.
type AlgorithmPropertyList []AlgorithmProperty

func (AlgorithmPropertyList) capability() Capability { return CapabilityAlgs }

// CapabilitiesU corresponds to the TPMU_CAPABILITIES type. It is
// implemented by HandleList, PCRSelectionList, TaggedTPMPropertyList and
// AlgorithmPropertyList.
type CapabilitiesU interface {
	capability() Capability
}

// CapabilityData corresponds to the TPMS_CAPABILITY_DATA type.
type CapabilityData struct {
	Capability Capability
	Data       CapabilitiesU
}
