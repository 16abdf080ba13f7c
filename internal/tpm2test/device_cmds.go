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

package tpm2test

import (
	"bytes"

	gotpm2 "github.com/canonical/go-tpm2"
	gotpm2_mu "github.com/canonical/go-tpm2/mu"

	"github.com/snapcore/bootseal/internal/mu"
	"github.com/snapcore/bootseal/tpm2"
)

// Command parameters that use structures shared with other TPM stacks are
// decoded with go-tpm2, so that the encoders in the tpm2 package are
// checked against an independent implementation.

func (d *Device) pcrValues() gotpm2.PCRValues {
	values := make(gotpm2.PCRValues)
	for alg, bank := range d.pcrs {
		for i, v := range bank {
			values.SetValue(gotpm2.HashAlgorithmId(alg), i, gotpm2.Digest(v))
		}
	}
	return values
}

func validSelection(sel gotpm2.PCRSelectionList) bool {
	for _, s := range sel {
		for _, pcr := range s.Select {
			if pcr < 0 || pcr >= NumPCRs {
				return false
			}
		}
	}
	return true
}

func (d *Device) getCapability(ctx *commandContext) (*result, tpm2.ResponseCode) {
	b := mu.NewBufferFrom(ctx.params)
	capability := tpm2.Capability(b.ReadUint32())
	property := b.ReadUint32()
	count := b.ReadUint32()
	if b.Err() != nil || b.Available() > 0 {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}

	var more bool
	params := marshalParams(func(w *mu.Buffer) {
		w.WriteUint8(0) // moreData, patched below
		w.WriteUint32(uint32(capability))
		switch capability {
		case tpm2.CapabilityAlgs:
			algs := []tpm2.AlgorithmId{
				tpm2.AlgorithmRSA, tpm2.AlgorithmHMAC, tpm2.AlgorithmAES,
				tpm2.AlgorithmKeyedHash, tpm2.AlgorithmNull, tpm2.AlgorithmCFB}
			algs = append(algs, tpm2.AlgorithmId(tpm2.HashAlgorithmSHA1), tpm2.AlgorithmId(tpm2.HashAlgorithmSHA256))
			var out []tpm2.AlgorithmId
			for _, alg := range algs {
				if uint32(alg) >= property {
					out = append(out, alg)
				}
			}
			sortAlgs(out)
			if uint32(len(out)) > count {
				out = out[:count]
				more = true
			}
			w.WriteUint32(uint32(len(out)))
			for _, alg := range out {
				w.WriteUint16(uint16(alg))
				w.WriteUint32(0)
			}
		case tpm2.CapabilityHandles:
			var out []tpm2.Handle
			for _, h := range d.loadedHandles() {
				if uint32(h) >= property && uint8(h>>24) == uint8(property>>24) {
					out = append(out, h)
				}
			}
			if uint32(len(out)) > count {
				out = out[:count]
				more = true
			}
			w.WriteUint32(uint32(len(out)))
			for _, h := range out {
				w.WriteUint32(uint32(h))
			}
		case tpm2.CapabilityPCRs:
			all := make([]int, NumPCRs)
			for i := range all {
				all[i] = i
			}
			tpm2.PCRSelectionList{
				{Hash: tpm2.HashAlgorithmSHA1, Select: all},
				{Hash: tpm2.HashAlgorithmSHA256, Select: all}}.Marshal(w)
		case tpm2.CapabilityTPMProperties:
			props := []tpm2.TaggedProperty{
				{Property: tpm2.PropertyManufacturer, Value: 0x49424d00},
				{Property: tpm2.PropertyInputBuffer, Value: tpm2.MaxDigestBufferSize},
				{Property: tpm2.PropertyPCRCount, Value: NumPCRs},
				{Property: tpm2.PropertyMaxDigest, Value: 32},
				{Property: tpm2.PropertyLockoutCounter, Value: d.lockoutCounter},
				{Property: tpm2.PropertyMaxAuthFail, Value: d.maxAuthFail},
				{Property: tpm2.PropertyLockoutInterval, Value: d.lockoutInterval},
				{Property: tpm2.PropertyLockoutRecovery, Value: d.lockoutRecovery}}
			var out []tpm2.TaggedProperty
			for _, p := range props {
				if uint32(p.Property) >= property {
					out = append(out, p)
				}
			}
			if uint32(len(out)) > count {
				out = out[:count]
				more = true
			}
			w.WriteUint32(uint32(len(out)))
			for _, p := range out {
				w.WriteUint32(uint32(p.Property))
				w.WriteUint32(p.Value)
			}
		default:
			w.SetErr(mu.ErrOverflow)
		}
	})
	if params == nil {
		return nil, rcParam(tpm2.ResponseValue, 1)
	}
	if more {
		params[0] = 1
	}
	return &result{params: params}, tpm2.ResponseSuccess
}

func sortAlgs(algs []tpm2.AlgorithmId) {
	for i := 1; i < len(algs); i++ {
		for j := i; j > 0 && algs[j] < algs[j-1]; j-- {
			algs[j], algs[j-1] = algs[j-1], algs[j]
		}
	}
}

func (d *Device) pcrRead(ctx *commandContext) (*result, tpm2.ResponseCode) {
	var sel gotpm2.PCRSelectionList
	n, err := gotpm2_mu.UnmarshalFromBytes(ctx.params, &sel)
	if err != nil || n != len(ctx.params) {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}
	if !validSelection(sel) {
		return nil, rcParam(tpm2.ResponseValue, 1)
	}

	var out tpm2.PCRSelectionList
	var digests tpm2.DigestList
	for _, s := range sel {
		bank, ok := d.pcrs[tpm2.HashAlgorithmId(s.Hash)]
		if !ok {
			continue
		}
		o := tpm2.PCRSelection{Hash: tpm2.HashAlgorithmId(s.Hash)}
		for pcr := 0; pcr < NumPCRs && len(digests) < MaxDigestsPerRead; pcr++ {
			for _, p := range s.Select {
				if p == pcr {
					o.Select = append(o.Select, pcr)
					digests = append(digests, bank[pcr])
					break
				}
			}
		}
		out = append(out, o)
	}

	params := marshalParams(func(w *mu.Buffer) {
		w.WriteUint32(d.updateCounter)
		out.Marshal(w)
		digests.Marshal(w)
	})
	return &result{params: params}, tpm2.ResponseSuccess
}

func (d *Device) pcrExtend(ctx *commandContext) (*result, tpm2.ResponseCode) {
	pcr := int(ctx.handles[0])
	if ctx.handles[0].Type() != tpm2.HandleTypePCR || pcr >= NumPCRs {
		return nil, rcHandle(tpm2.ResponseValue, 1)
	}
	if rc := d.checkPasswordAuth(ctx, nil); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	var digests gotpm2.TaggedHashList
	n, err := gotpm2_mu.UnmarshalFromBytes(ctx.params, &digests)
	if err != nil || n != len(ctx.params) {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}

	for _, digest := range digests {
		alg := tpm2.HashAlgorithmId(digest.HashAlg)
		bank, ok := d.pcrs[alg]
		if !ok {
			continue
		}
		h := alg.GetHash().New()
		h.Write(bank[pcr])
		h.Write(digest.Digest)
		bank[pcr] = h.Sum(nil)
	}
	d.updateCounter++
	return &result{}, tpm2.ResponseSuccess
}

// decodeCreateParams decodes the parameters shared by TPM2_Create and
// TPM2_CreatePrimary.
func decodeCreateParams(params []byte) (authValue, data []byte, public []byte, pub *gotpm2.Public, rc tpm2.ResponseCode) {
	b := mu.NewBufferFrom(params)
	sb := b.Sub(int(b.ReadUint16()))
	authValue = sb.ReadSized16()
	data = sb.ReadSized16()
	if sb.Err() != nil || sb.Available() > 0 {
		return nil, nil, nil, nil, rcParam(tpm2.ResponseSize, 1)
	}

	public = b.ReadSized16()
	if b.Err() != nil || len(public) == 0 {
		return nil, nil, nil, nil, rcParam(tpm2.ResponseSize, 2)
	}
	pub = new(gotpm2.Public)
	if n, err := gotpm2_mu.UnmarshalFromBytes(public, pub); err != nil || n != len(public) {
		return nil, nil, nil, nil, rcParam(tpm2.ResponseSize, 2)
	}

	b.ReadSized16() // outsideInfo
	var creationPCR gotpm2.PCRSelectionList
	rest := b.ReadBytes(b.Available())
	if n, err := gotpm2_mu.UnmarshalFromBytes(rest, &creationPCR); err != nil || n != len(rest) {
		return nil, nil, nil, nil, rcParam(tpm2.ResponseSize, 4)
	}
	return authValue, data, public, pub, tpm2.ResponseSuccess
}

func computeName(alg tpm2.HashAlgorithmId, public []byte) tpm2.Name {
	h := alg.GetHash().New()
	h.Write(public)
	return append(tpm2.Name{byte(alg >> 8), byte(alg)}, h.Sum(nil)...)
}

func newObject(public []byte, pub *gotpm2.Public, authValue, data []byte) (*object, tpm2.ResponseCode) {
	nameAlg := tpm2.HashAlgorithmId(pub.NameAlg)
	if !nameAlg.IsValid() {
		return nil, rcParam(tpm2.ResponseHash, 2)
	}
	return &object{
		public:     public,
		name:       computeName(nameAlg, public),
		objectType: tpm2.ObjectTypeId(pub.Type),
		nameAlg:    nameAlg,
		attrs:      tpm2.ObjectAttributes(pub.Attrs),
		authPolicy: tpm2.Digest(pub.AuthPolicy),
		authValue:  authValue,
		data:       data}, tpm2.ResponseSuccess
}

func marshalCreateResponse(w *mu.Buffer, obj *object, private []byte) {
	if private != nil {
		w.WriteSized16(private)
	}
	w.WriteSized16(obj.public)
	w.WriteSized16(nil) // creationData
	h := obj.nameAlg.GetHash().New()
	h.Write(obj.name)
	w.WriteSized16(h.Sum(nil))
	w.WriteUint16(uint16(tpm2.TagCreation))
	w.WriteUint32(uint32(tpm2.HandleOwner))
	w.WriteSized16(nil)
}

func (d *Device) createPrimary(ctx *commandContext) (*result, tpm2.ResponseCode) {
	switch ctx.handles[0] {
	case tpm2.HandleOwner, tpm2.HandleEndorsement, tpm2.HandlePlatform, tpm2.HandleNull:
	default:
		return nil, rcHandle(tpm2.ResponseValue, 1)
	}
	if rc := d.checkPasswordAuth(ctx, nil); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	authValue, _, public, pub, rc := decodeCreateParams(ctx.params)
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	obj, rc := newObject(public, pub, authValue, nil)
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	handle, rc := d.allocTransient()
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	d.objects[handle] = obj

	params := marshalParams(func(w *mu.Buffer) {
		marshalCreateResponse(w, obj, nil)
		w.WriteSized16(obj.name)
	})
	return &result{handle: &handle, params: params}, tpm2.ResponseSuccess
}

func (d *Device) storageParent(h tpm2.Handle) (*object, tpm2.ResponseCode) {
	parent, ok := d.objects[h]
	if !ok {
		return nil, rcHandle(tpm2.ResponseHandle, 1)
	}
	if parent.attrs&(tpm2.AttrRestricted|tpm2.AttrDecrypt) != tpm2.AttrRestricted|tpm2.AttrDecrypt {
		return nil, rcHandle(tpm2.ResponseType, 1)
	}
	return parent, tpm2.ResponseSuccess
}

func (d *Device) create(ctx *commandContext) (*result, tpm2.ResponseCode) {
	parent, rc := d.storageParent(ctx.handles[0])
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	if rc := d.checkPasswordAuth(ctx, parent.authValue); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	authValue, data, public, pub, rc := decodeCreateParams(ctx.params)
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	obj, rc := newObject(public, pub, authValue, data)
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	switch {
	case len(data) > tpm2.MaxSymDataSize:
		return nil, rcParam(tpm2.ResponseSize, 1)
	case len(data) > 0 && obj.attrs&tpm2.AttrSensitiveDataOrigin != 0:
		return nil, rcParam(tpm2.ResponseAttributes, 2)
	}

	private := append(newRandom(32), parent.name...)
	d.privates[string(private)] = obj

	params := marshalParams(func(w *mu.Buffer) {
		marshalCreateResponse(w, obj, private)
	})
	return &result{params: params}, tpm2.ResponseSuccess
}

func (d *Device) load(ctx *commandContext) (*result, tpm2.ResponseCode) {
	parent, rc := d.storageParent(ctx.handles[0])
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	if rc := d.checkPasswordAuth(ctx, parent.authValue); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	b := mu.NewBufferFrom(ctx.params)
	private := b.ReadSized16()
	public := b.ReadSized16()
	if b.Err() != nil || b.Available() > 0 {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}

	obj, ok := d.privates[string(private)]
	if !ok || !bytes.HasSuffix(private, parent.name) {
		return nil, rcParam(tpm2.ResponseIntegrity, 1)
	}
	if !bytes.Equal(public, obj.public) {
		return nil, rcParam(tpm2.ResponseIntegrity, 1)
	}

	handle, rc := d.allocTransient()
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	d.objects[handle] = obj

	params := marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(obj.name)
	})
	return &result{handle: &handle, params: params}, tpm2.ResponseSuccess
}

func (d *Device) loadExternal(ctx *commandContext) (*result, tpm2.ResponseCode) {
	b := mu.NewBufferFrom(ctx.params)
	sensitive := b.ReadSized16()
	public := b.ReadSized16()
	hierarchy := tpm2.Handle(b.ReadUint32())
	if b.Err() != nil || b.Available() > 0 || len(public) == 0 {
		return nil, rcParam(tpm2.ResponseSize, 2)
	}
	if len(sensitive) > 0 && hierarchy != tpm2.HandleNull {
		return nil, rcParam(tpm2.ResponseHierarchy, 3)
	}

	pub := new(gotpm2.Public)
	if n, err := gotpm2_mu.UnmarshalFromBytes(public, pub); err != nil || n != len(public) {
		return nil, rcParam(tpm2.ResponseSize, 2)
	}
	obj, rc := newObject(public, pub, nil, nil)
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	handle, rc := d.allocTransient()
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	d.objects[handle] = obj

	params := marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(obj.name)
	})
	return &result{handle: &handle, params: params}, tpm2.ResponseSuccess
}

func (d *Device) readPublic(ctx *commandContext) (*result, tpm2.ResponseCode) {
	obj, ok := d.objects[ctx.handles[0]]
	if !ok {
		return nil, rcHandle(tpm2.ResponseHandle, 1)
	}
	params := marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(obj.public)
		w.WriteSized16(obj.name)
		w.WriteSized16(obj.name)
	})
	return &result{params: params}, tpm2.ResponseSuccess
}

func (d *Device) unseal(ctx *commandContext) (*result, tpm2.ResponseCode) {
	obj, ok := d.objects[ctx.handles[0]]
	if !ok {
		return nil, rcHandle(tpm2.ResponseHandle, 1)
	}
	if obj.objectType != tpm2.ObjectTypeKeyedHash {
		return nil, rcHandle(tpm2.ResponseType, 1)
	}
	if len(ctx.auths) == 0 {
		return nil, tpm2.ResponseAuthMissing
	}

	a := ctx.auths[0]
	switch a.handle.Type() {
	case tpm2.HandleTypePermanent:
		if obj.attrs&tpm2.AttrUserWithAuth == 0 {
			return nil, tpm2.ResponseAuthUnavailable
		}
		if rc := d.checkPasswordAuth(ctx, obj.authValue); rc != tpm2.ResponseSuccess {
			return nil, rc
		}
	case tpm2.HandleTypePolicySession:
		s, ok := d.sessions[a.handle]
		if !ok {
			return nil, rcSession(tpm2.ResponseHandle, 1)
		}
		if s.sessionType != tpm2.SessionTypePolicy {
			return nil, rcSession(tpm2.ResponseAttributes, 1)
		}
		if !bytes.Equal(s.digest, obj.authPolicy) {
			return nil, rcSession(tpm2.ResponsePolicyFail, 1)
		}
		if s.password && !bytes.Equal(a.hmac, obj.authValue) {
			return nil, rcSession(tpm2.ResponseBadAuth, 1)
		}
	default:
		return nil, tpm2.ResponseAuthType
	}

	params := marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(obj.data)
	})
	return &result{params: params}, tpm2.ResponseSuccess
}

func (d *Device) startAuthSession(ctx *commandContext) (*result, tpm2.ResponseCode) {
	if ctx.handles[0] != tpm2.HandleNull {
		return nil, rcHandle(tpm2.ResponseValue, 1)
	}
	if ctx.handles[1] != tpm2.HandleNull {
		return nil, rcHandle(tpm2.ResponseValue, 2)
	}

	b := mu.NewBufferFrom(ctx.params)
	nonceCaller := b.ReadSized16()
	salt := b.ReadSized16()
	sessionType := tpm2.SessionType(b.ReadUint8())
	symAlg := tpm2.SymObjectAlgorithmId(b.ReadUint16())
	if symAlg != tpm2.SymObjectAlgorithmNull {
		b.ReadUint16()
		b.ReadUint16()
	}
	authHash := tpm2.HashAlgorithmId(b.ReadUint16())
	switch {
	case b.Err() != nil || b.Available() > 0:
		return nil, rcParam(tpm2.ResponseSize, 1)
	case len(salt) > 0:
		return nil, rcParam(tpm2.ResponseValue, 2)
	case !authHash.IsValid():
		return nil, rcParam(tpm2.ResponseHash, 5)
	case len(nonceCaller) < 16 || len(nonceCaller) > authHash.Size():
		return nil, rcParam(tpm2.ResponseSize, 1)
	}

	switch sessionType {
	case tpm2.SessionTypePolicy, tpm2.SessionTypeTrial:
	default:
		// HMAC sessions aren't needed.
		return nil, rcParam(tpm2.ResponseValue, 3)
	}

	handle, rc := d.allocSession()
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	d.sessions[handle] = &session{
		sessionType: sessionType,
		hashAlg:     authHash,
		digest:      make(tpm2.Digest, authHash.Size())}

	params := marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(newRandom(authHash.Size()))
	})
	return &result{handle: &handle, params: params}, tpm2.ResponseSuccess
}

func (d *Device) policySession(h tpm2.Handle) (*session, tpm2.ResponseCode) {
	s, ok := d.sessions[h]
	if !ok {
		return nil, rcHandle(tpm2.ResponseHandle, 1)
	}
	return s, tpm2.ResponseSuccess
}

func (s *session) update(code tpm2.CommandCode, params ...[]byte) {
	h := s.hashAlg.GetHash().New()
	h.Write(s.digest)
	h.Write([]byte{byte(code >> 24), byte(code >> 16), byte(code >> 8), byte(code)})
	for _, p := range params {
		h.Write(p)
	}
	s.digest = h.Sum(nil)
}

func (d *Device) policyPCR(ctx *commandContext) (*result, tpm2.ResponseCode) {
	s, rc := d.policySession(ctx.handles[0])
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	b := mu.NewBufferFrom(ctx.params)
	pcrDigest := b.ReadSized16()
	if b.Err() != nil {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}
	rest := b.ReadBytes(b.Available())
	var sel gotpm2.PCRSelectionList
	n, err := gotpm2_mu.UnmarshalFromBytes(rest, &sel)
	if err != nil || n != len(rest) {
		return nil, rcParam(tpm2.ResponseSize, 2)
	}
	if !validSelection(sel) {
		return nil, rcParam(tpm2.ResponseValue, 2)
	}

	current, err := gotpm2.ComputePCRDigest(gotpm2.HashAlgorithmId(s.hashAlg), sel, d.pcrValues())
	if err != nil {
		return nil, rcParam(tpm2.ResponseValue, 2)
	}

	switch {
	case s.sessionType == tpm2.SessionTypeTrial && len(pcrDigest) > 0:
		if len(pcrDigest) != s.hashAlg.Size() {
			return nil, rcParam(tpm2.ResponseSize, 1)
		}
	case len(pcrDigest) > 0 && !bytes.Equal(pcrDigest, current):
		return nil, rcParam(tpm2.ResponseValue, 1)
	default:
		pcrDigest = tpm2.Digest(current)
	}

	s.update(tpm2.CommandPolicyPCR, rest, pcrDigest)
	return &result{}, tpm2.ResponseSuccess
}

func (d *Device) policyPassword(ctx *commandContext) (*result, tpm2.ResponseCode) {
	s, rc := d.policySession(ctx.handles[0])
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	if len(ctx.params) > 0 {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}
	s.update(tpm2.CommandPolicyAuthValue)
	s.password = true
	return &result{}, tpm2.ResponseSuccess
}

func (d *Device) policyGetDigest(ctx *commandContext) (*result, tpm2.ResponseCode) {
	s, rc := d.policySession(ctx.handles[0])
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	params := marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(s.digest)
	})
	return &result{params: params}, tpm2.ResponseSuccess
}

func marshalDigestAndTicket(digest []byte, hierarchy tpm2.Handle) []byte {
	return marshalParams(func(w *mu.Buffer) {
		w.WriteSized16(digest)
		w.WriteUint16(uint16(tpm2.TagHashcheck))
		w.WriteUint32(uint32(hierarchy))
		w.WriteSized16(nil)
	})
}

func (d *Device) hash(ctx *commandContext) (*result, tpm2.ResponseCode) {
	b := mu.NewBufferFrom(ctx.params)
	data := b.ReadSized16()
	alg := tpm2.HashAlgorithmId(b.ReadUint16())
	hierarchy := tpm2.Handle(b.ReadUint32())
	switch {
	case b.Err() != nil || b.Available() > 0:
		return nil, rcParam(tpm2.ResponseSize, 1)
	case len(data) > tpm2.MaxDigestBufferSize:
		return nil, rcParam(tpm2.ResponseSize, 1)
	case !alg.IsValid():
		return nil, rcParam(tpm2.ResponseHash, 2)
	}

	h := alg.GetHash().New()
	h.Write(data)
	return &result{params: marshalDigestAndTicket(h.Sum(nil), hierarchy)}, tpm2.ResponseSuccess
}

func (d *Device) hashSequenceStart(ctx *commandContext) (*result, tpm2.ResponseCode) {
	b := mu.NewBufferFrom(ctx.params)
	auth := b.ReadSized16()
	alg := tpm2.HashAlgorithmId(b.ReadUint16())
	switch {
	case b.Err() != nil || b.Available() > 0:
		return nil, rcParam(tpm2.ResponseSize, 1)
	case !alg.IsValid():
		return nil, rcParam(tpm2.ResponseHash, 2)
	}

	handle, rc := d.allocTransient()
	if rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	d.sequences[handle] = &sequence{h: alg.GetHash().New(), authValue: auth}
	return &result{handle: &handle}, tpm2.ResponseSuccess
}

func (d *Device) sequenceUpdate(ctx *commandContext) (*result, tpm2.ResponseCode) {
	seq, ok := d.sequences[ctx.handles[0]]
	if !ok {
		return nil, rcHandle(tpm2.ResponseHandle, 1)
	}
	if rc := d.checkPasswordAuth(ctx, seq.authValue); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	b := mu.NewBufferFrom(ctx.params)
	data := b.ReadSized16()
	if b.Err() != nil || b.Available() > 0 || len(data) > tpm2.MaxDigestBufferSize {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}
	seq.h.Write(data)
	return &result{}, tpm2.ResponseSuccess
}

func (d *Device) sequenceComplete(ctx *commandContext) (*result, tpm2.ResponseCode) {
	seq, ok := d.sequences[ctx.handles[0]]
	if !ok {
		return nil, rcHandle(tpm2.ResponseHandle, 1)
	}
	if rc := d.checkPasswordAuth(ctx, seq.authValue); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	b := mu.NewBufferFrom(ctx.params)
	data := b.ReadSized16()
	hierarchy := tpm2.Handle(b.ReadUint32())
	if b.Err() != nil || b.Available() > 0 || len(data) > tpm2.MaxDigestBufferSize {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}
	seq.h.Write(data)
	delete(d.sequences, ctx.handles[0])
	return &result{params: marshalDigestAndTicket(seq.h.Sum(nil), hierarchy)}, tpm2.ResponseSuccess
}

func (d *Device) daLockReset(ctx *commandContext) (*result, tpm2.ResponseCode) {
	if ctx.handles[0] != tpm2.HandleLockout {
		return nil, rcHandle(tpm2.ResponseValue, 1)
	}
	if rc := d.checkPasswordAuth(ctx, nil); rc != tpm2.ResponseSuccess {
		return nil, rc
	}
	d.lockoutCounter = 0
	return &result{}, tpm2.ResponseSuccess
}

func (d *Device) daParameters(ctx *commandContext) (*result, tpm2.ResponseCode) {
	if ctx.handles[0] != tpm2.HandleLockout {
		return nil, rcHandle(tpm2.ResponseValue, 1)
	}
	if rc := d.checkPasswordAuth(ctx, nil); rc != tpm2.ResponseSuccess {
		return nil, rc
	}

	b := mu.NewBufferFrom(ctx.params)
	maxTries := b.ReadUint32()
	recovery := b.ReadUint32()
	lockoutRecovery := b.ReadUint32()
	if b.Err() != nil || b.Available() > 0 {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}
	d.maxAuthFail = maxTries
	d.lockoutInterval = recovery
	d.lockoutRecovery = lockoutRecovery
	return &result{}, tpm2.ResponseSuccess
}

func (d *Device) flushContext(ctx *commandContext) (*result, tpm2.ResponseCode) {
	b := mu.NewBufferFrom(ctx.params)
	h := tpm2.Handle(b.ReadUint32())
	if b.Err() != nil || b.Available() > 0 {
		return nil, rcParam(tpm2.ResponseSize, 1)
	}

	switch {
	case d.objects[h] != nil:
		delete(d.objects, h)
	case d.sequences[h] != nil:
		delete(d.sequences, h)
	case d.sessions[h] != nil:
		delete(d.sessions, h)
	default:
		return nil, rcParam(tpm2.ResponseHandle, 1)
	}
	return &result{}, tpm2.ResponseSuccess
}
