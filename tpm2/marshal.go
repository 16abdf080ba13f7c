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
	"fmt"
	"sort"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
)

// maxListEntries bounds the number of entries accepted when unmarshalling
// a TPML type.
const maxListEntries = 1024

// UnsupportedAlgorithmError is returned when a structure references a
// digest algorithm that isn't supported.
type UnsupportedAlgorithmError struct {
	Alg HashAlgorithmId
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported digest algorithm %v", e.Alg)
}

// MarshalToBytes runs the supplied marshaller against a new buffer and
// returns the result.
func MarshalToBytes(fn func(*mu.Buffer)) ([]byte, error) {
	b := mu.NewBuffer(MaxCommandSize)
	fn(b)
	if b.Err() != nil {
		return nil, b.Err()
	}
	return b.Bytes(), nil
}

// UnmarshalFromBytes runs the supplied unmarshaller against data and
// checks that it consumes all of it.
func UnmarshalFromBytes(data []byte, fn func(*mu.Buffer)) error {
	b := mu.NewBufferFrom(data)
	fn(b)
	if b.Err() != nil {
		return b.Err()
	}
	if b.Available() > 0 {
		return xerrors.Errorf("%d trailing bytes", b.Available())
	}
	return nil
}

func readCount(b *mu.Buffer, minEntrySize int) int {
	n := b.ReadUint32()
	if b.Err() != nil {
		return 0
	}
	if n > maxListEntries || int(n)*minEntrySize > b.Available() {
		b.SetErr(xerrors.Errorf("invalid list length %d", n))
		return 0
	}
	return int(n)
}

// Marshal writes the TPML_DIGEST encoding of this list.
func (l DigestList) Marshal(b *mu.Buffer) {
	b.WriteUint32(uint32(len(l)))
	for _, d := range l {
		b.WriteSized16(d)
	}
}

// UnmarshalDigestList reads a TPML_DIGEST.
func UnmarshalDigestList(b *mu.Buffer) DigestList {
	n := readCount(b, 2)
	var out DigestList
	for i := 0; i < n && b.Err() == nil; i++ {
		out = append(out, b.ReadSized16())
	}
	return out
}

// Marshal writes the TPML_DIGEST_VALUES encoding of this list.
func (l TaggedHashList) Marshal(b *mu.Buffer) {
	b.WriteUint32(uint32(len(l)))
	for _, h := range l {
		if !h.HashAlg.IsValid() {
			b.SetErr(&UnsupportedAlgorithmError{Alg: h.HashAlg})
			return
		}
		if len(h.Digest) != h.HashAlg.Size() {
			b.SetErr(xerrors.Errorf("invalid digest size %d for algorithm %v", len(h.Digest), h.HashAlg))
			return
		}
		b.WriteUint16(uint16(h.HashAlg))
		b.WriteBytes(h.Digest)
	}
}

// Marshal writes the TPMS_PCR_SELECTION encoding.
func (s *PCRSelection) Marshal(b *mu.Buffer) {
	size := int(s.SizeOfSelect)
	if size < PCRSelectMin {
		size = PCRSelectMin
	}
	for _, pcr := range s.Select {
		if pcr < 0 || pcr >= 256 {
			b.SetErr(xerrors.Errorf("invalid PCR index %d", pcr))
			return
		}
		if pcr/8+1 > size {
			size = pcr/8 + 1
		}
	}
	bitmap := make([]byte, size)
	for _, pcr := range s.Select {
		bitmap[pcr/8] |= 1 << uint(pcr%8)
	}
	b.WriteUint16(uint16(s.Hash))
	b.WriteUint8(uint8(size))
	b.WriteBytes(bitmap)
}

// Marshal writes the TPML_PCR_SELECTION encoding of this list.
func (l PCRSelectionList) Marshal(b *mu.Buffer) {
	b.WriteUint32(uint32(len(l)))
	for i := range l {
		l[i].Marshal(b)
	}
}

// UnmarshalPCRSelectionList reads a TPML_PCR_SELECTION.
func UnmarshalPCRSelectionList(b *mu.Buffer) PCRSelectionList {
	n := readCount(b, 3)
	var out PCRSelectionList
	for i := 0; i < n && b.Err() == nil; i++ {
		s := PCRSelection{Hash: HashAlgorithmId(b.ReadUint16())}
		s.SizeOfSelect = b.ReadUint8()
		if b.Err() != nil {
			break
		}
		if s.SizeOfSelect < PCRSelectMin || s.SizeOfSelect > PCRSelectMax {
			b.SetErr(xerrors.Errorf("invalid PCR select size %d", s.SizeOfSelect))
			break
		}
		bitmap := b.ReadBytes(int(s.SizeOfSelect))
		for j, octet := range bitmap {
			for bit := 0; bit < 8; bit++ {
				if octet&(1<<uint(bit)) != 0 {
					s.Select = append(s.Select, j*8+bit)
				}
			}
		}
		out = append(out, s)
	}
	return out
}

func (a *AuthCommand) marshal(b *mu.Buffer) {
	b.WriteUint32(uint32(a.SessionHandle))
	b.WriteSized16(a.Nonce)
	b.WriteUint8(uint8(a.SessionAttributes))
	b.WriteSized16(a.HMAC)
}

func unmarshalAuthResponse(b *mu.Buffer) AuthResponse {
	var r AuthResponse
	r.Nonce = b.ReadSized16()
	r.SessionAttributes = SessionAttributes(b.ReadUint8())
	r.HMAC = b.ReadSized16()
	return r
}

// Marshal writes the TPM2B_SENSITIVE_CREATE encoding.
func (s *SensitiveCreate) Marshal(b *mu.Buffer) {
	scope := b.BeginSized16()
	b.WriteSized16(s.UserAuth)
	b.WriteSized16(s.Data)
	scope.End()
}

// Marshal writes the TPM2B_SENSITIVE encoding. A nil receiver produces an
// empty structure, which is how a public area is loaded on its own.
func (s *Sensitive) Marshal(b *mu.Buffer) {
	if s == nil {
		b.WriteUint16(0)
		return
	}
	scope := b.BeginSized16()
	b.WriteUint16(uint16(s.Type))
	b.WriteSized16(s.AuthValue)
	b.WriteSized16(s.SeedValue)
	b.WriteSized16(s.Sensitive)
	scope.End()
}

func (s *SymDefObject) marshal(b *mu.Buffer) {
	b.WriteUint16(uint16(s.Algorithm))
	if s.Algorithm == SymObjectAlgorithmNull {
		return
	}
	b.WriteUint16(s.KeyBits)
	b.WriteUint16(uint16(s.Mode))
}

func unmarshalSymDefObject(b *mu.Buffer) SymDefObject {
	s := SymDefObject{Algorithm: SymObjectAlgorithmId(b.ReadUint16())}
	if s.Algorithm == SymObjectAlgorithmNull {
		return s
	}
	s.KeyBits = b.ReadUint16()
	s.Mode = SymModeId(b.ReadUint16())
	return s
}

func (s *AsymScheme) marshal(b *mu.Buffer) {
	b.WriteUint16(uint16(s.Scheme))
	if s.Scheme == AlgorithmNull {
		return
	}
	b.WriteUint16(uint16(s.HashAlg))
}

func unmarshalAsymScheme(b *mu.Buffer) AsymScheme {
	s := AsymScheme{Scheme: AlgorithmId(b.ReadUint16())}
	if s.Scheme == AlgorithmNull {
		return s
	}
	s.HashAlg = HashAlgorithmId(b.ReadUint16())
	return s
}

func (s *KeyedHashScheme) marshal(b *mu.Buffer) {
	b.WriteUint16(uint16(s.Scheme))
	switch s.Scheme {
	case AlgorithmNull:
	case AlgorithmHMAC:
		b.WriteUint16(uint16(s.HashAlg))
	case AlgorithmXOR:
		b.WriteUint16(uint16(s.HashAlg))
		b.WriteUint16(uint16(s.KDF))
	default:
		b.SetErr(xerrors.Errorf("invalid keyed hash scheme %#04x", uint16(s.Scheme)))
	}
}

func unmarshalKeyedHashScheme(b *mu.Buffer) KeyedHashScheme {
	s := KeyedHashScheme{Scheme: AlgorithmId(b.ReadUint16())}
	switch s.Scheme {
	case AlgorithmNull:
	case AlgorithmHMAC:
		s.HashAlg = HashAlgorithmId(b.ReadUint16())
	case AlgorithmXOR:
		s.HashAlg = HashAlgorithmId(b.ReadUint16())
		s.KDF = AlgorithmId(b.ReadUint16())
	default:
		b.SetErr(xerrors.Errorf("invalid keyed hash scheme %#04x", uint16(s.Scheme)))
	}
	return s
}

// Marshal writes the TPMT_PUBLIC encoding.
func (p *Public) Marshal(b *mu.Buffer) {
	if p.Params == nil || p.Params.ObjectType() != p.Type {
		b.SetErr(xerrors.Errorf("parameters do not match object type %#04x", uint16(p.Type)))
		return
	}

	b.WriteUint16(uint16(p.Type))
	b.WriteUint16(uint16(p.NameAlg))
	b.WriteUint32(uint32(p.Attrs))
	b.WriteSized16(p.AuthPolicy)

	switch params := p.Params.(type) {
	case *KeyedHashParams:
		params.Scheme.marshal(b)
	case *RSAParams:
		params.Symmetric.marshal(b)
		params.Scheme.marshal(b)
		b.WriteUint16(params.KeyBits)
		b.WriteUint32(params.Exponent)
	case *ECCParams:
		params.Symmetric.marshal(b)
		params.Scheme.marshal(b)
		b.WriteUint16(uint16(params.CurveID))
		params.KDF.marshal(b)
	case *SymCipherParams:
		params.Symmetric.marshal(b)
	}

	switch p.Type {
	case ObjectTypeKeyedHash, ObjectTypeSymCipher:
		var id DigestID
		if p.Unique != nil {
			v, ok := p.Unique.(DigestID)
			if !ok {
				b.SetErr(xerrors.New("unique field does not match object type"))
				return
			}
			id = v
		}
		b.WriteSized16(id)
	case ObjectTypeRSA:
		var id RSAPublicKey
		if p.Unique != nil {
			v, ok := p.Unique.(RSAPublicKey)
			if !ok {
				b.SetErr(xerrors.New("unique field does not match object type"))
				return
			}
			id = v
		}
		b.WriteSized16(id)
	case ObjectTypeECC:
		id := &ECCPoint{}
		if p.Unique != nil {
			v, ok := p.Unique.(*ECCPoint)
			if !ok {
				b.SetErr(xerrors.New("unique field does not match object type"))
				return
			}
			id = v
		}
		b.WriteSized16(id.X)
		b.WriteSized16(id.Y)
	}
}

// UnmarshalPublic reads a TPMT_PUBLIC.
func UnmarshalPublic(b *mu.Buffer) *Public {
	p := &Public{
		Type:    ObjectTypeId(b.ReadUint16()),
		NameAlg: HashAlgorithmId(b.ReadUint16()),
		Attrs:   ObjectAttributes(b.ReadUint32())}
	p.AuthPolicy = b.ReadSized16()
	if b.Err() != nil {
		return nil
	}

	switch p.Type {
	case ObjectTypeKeyedHash:
		p.Params = &KeyedHashParams{Scheme: unmarshalKeyedHashScheme(b)}
		p.Unique = DigestID(b.ReadSized16())
	case ObjectTypeRSA:
		params := &RSAParams{
			Symmetric: unmarshalSymDefObject(b),
			Scheme:    unmarshalAsymScheme(b)}
		params.KeyBits = b.ReadUint16()
		params.Exponent = b.ReadUint32()
		p.Params = params
		p.Unique = RSAPublicKey(b.ReadSized16())
	case ObjectTypeECC:
		params := &ECCParams{
			Symmetric: unmarshalSymDefObject(b),
			Scheme:    unmarshalAsymScheme(b)}
		params.CurveID = ECCCurve(b.ReadUint16())
		params.KDF = unmarshalAsymScheme(b)
		p.Params = params
		point := &ECCPoint{X: b.ReadSized16()}
		point.Y = b.ReadSized16()
		p.Unique = point
	case ObjectTypeSymCipher:
		p.Params = &SymCipherParams{Symmetric: unmarshalSymDefObject(b)}
		p.Unique = DigestID(b.ReadSized16())
	default:
		b.SetErr(xerrors.Errorf("invalid object type %#04x", uint16(p.Type)))
	}

	if b.Err() != nil {
		return nil
	}
	return p
}

// MarshalSized writes the TPM2B_PUBLIC encoding.
func (p *Public) MarshalSized(b *mu.Buffer) {
	scope := b.BeginSized16()
	p.Marshal(b)
	scope.End()
}

// UnmarshalSizedPublic reads a TPM2B_PUBLIC. The size field must match
// the size of the contained structure exactly.
func UnmarshalSizedPublic(b *mu.Buffer) *Public {
	n := b.ReadUint16()
	if b.Err() != nil {
		return nil
	}
	if n == 0 {
		b.SetErr(xerrors.New("empty public area"))
		return nil
	}
	sub := b.Sub(int(n))
	p := UnmarshalPublic(sub)
	switch {
	case sub.Err() != nil:
		b.SetErr(sub.Err())
		return nil
	case sub.Available() > 0:
		b.SetErr(xerrors.Errorf("public area has %d trailing bytes", sub.Available()))
		return nil
	}
	return p
}

func unmarshalTicket(b *mu.Buffer) (StructTag, Handle, Digest) {
	tag := StructTag(b.ReadUint16())
	hierarchy := Handle(b.ReadUint32())
	digest := b.ReadSized16()
	return tag, hierarchy, digest
}

func unmarshalCapabilityData(b *mu.Buffer) *CapabilityData {
	data := &CapabilityData{Capability: Capability(b.ReadUint32())}
	if b.Err() != nil {
		return nil
	}

	switch data.Capability {
	case CapabilityAlgs:
		n := readCount(b, 6)
		l := AlgorithmPropertyList{}
		for i := 0; i < n && b.Err() == nil; i++ {
			alg := AlgorithmId(b.ReadUint16())
			l = append(l, AlgorithmProperty{Alg: alg, Properties: b.ReadUint32()})
		}
		data.Data = l
	case CapabilityHandles:
		n := readCount(b, 4)
		l := HandleList{}
		for i := 0; i < n && b.Err() == nil; i++ {
			l = append(l, Handle(b.ReadUint32()))
		}
		data.Data = l
	case CapabilityPCRs:
		data.Data = UnmarshalPCRSelectionList(b)
	case CapabilityTPMProperties:
		n := readCount(b, 8)
		l := TaggedTPMPropertyList{}
		for i := 0; i < n && b.Err() == nil; i++ {
			prop := Property(b.ReadUint32())
			l = append(l, TaggedProperty{Property: prop, Value: b.ReadUint32()})
		}
		data.Data = l
	default:
		b.SetErr(xerrors.Errorf("unsupported capability %#08x", uint32(data.Capability)))
	}
	if b.Err() != nil {
		return nil
	}
	return data
}

// sortedPCRs returns the selected PCRs of s in ascending order without
// duplicates.
func sortedPCRs(s PCRSelection) []int {
	seen := make(map[int]bool)
	var out []int
	for _, pcr := range s.Select {
		if !seen[pcr] {
			out = append(out, pcr)
			seen[pcr] = true
		}
	}
	sort.Ints(out)
	return out
}
