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
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
	"github.com/snapcore/bootseal/tpm2"
)

// SealedBlob is a sealed object, as stored between invocations. It is
// serialized as the TPM2B_PRIVATE, TPM2B_PUBLIC and TPM2B_DIGEST
// (creation hash) encodings of the object followed by the
// TPML_PCR_SELECTION of the policy, in that order.
type SealedBlob struct {
	Private      tpm2.Private
	Public       *tpm2.Public
	CreationHash tpm2.Digest
	PCRSelection tpm2.PCRSelectionList
}

func (b *SealedBlob) marshal(w *mu.Buffer) {
	if b.Public == nil {
		w.SetErr(xerrors.New("no public area"))
		return
	}
	w.WriteSized16(b.Private)
	b.Public.MarshalSized(w)
	w.WriteSized16(b.CreationHash)
	b.PCRSelection.Marshal(w)
}

// Marshal returns the serialized form of this blob.
func (b *SealedBlob) Marshal() ([]byte, error) {
	data, err := tpm2.MarshalToBytes(b.marshal)
	if err != nil {
		return nil, xerrors.Errorf("cannot marshal sealed blob: %w", err)
	}
	return data, nil
}

// UnmarshalSealedBlob decodes a blob produced by SealedBlob.Marshal. All
// of the supplied data must be consumed.
func UnmarshalSealedBlob(data []byte) (*SealedBlob, error) {
	blob := new(SealedBlob)
	if err := tpm2.UnmarshalFromBytes(data, func(r *mu.Buffer) {
		blob.Private = r.ReadSized16()
		blob.Public = tpm2.UnmarshalSizedPublic(r)
		blob.CreationHash = r.ReadSized16()
		blob.PCRSelection = tpm2.UnmarshalPCRSelectionList(r)
	}); err != nil {
		return nil, xerrors.Errorf("cannot unmarshal sealed blob: %w", err)
	}
	if blob.Public.Type != tpm2.ObjectTypeKeyedHash {
		return nil, xerrors.New("cannot unmarshal sealed blob: public area has the wrong type")
	}
	return blob, nil
}

// PCRMask returns the PCRs in the blob's policy that belong to the
// bank of its name algorithm.
func (b *SealedBlob) PCRMask() (PCRMask, error) {
	return PCRMaskFromSelection(b.PCRSelection, b.Public.NameAlg)
}
