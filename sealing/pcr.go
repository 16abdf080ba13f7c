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
	"sort"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/tpm2"
)

// NumPCRs is the number of PCRs that can be selected by a PCR mask.
const NumPCRs = 16

// PCRMask selects PCRs 0 to 15. Bit n selects PCR n.
type PCRMask uint16

// MakePCRMask returns a mask that selects the supplied PCRs.
func MakePCRMask(pcrs ...int) (PCRMask, error) {
	var mask PCRMask
	for _, pcr := range pcrs {
		if pcr < 0 || pcr >= NumPCRs {
			return 0, xerrors.Errorf("invalid PCR index %d", pcr)
		}
		mask |= 1 << uint(pcr)
	}
	return mask, nil
}

// Contains indicates whether the supplied PCR is selected.
func (m PCRMask) Contains(pcr int) bool {
	if pcr < 0 || pcr >= NumPCRs {
		return false
	}
	return m&(1<<uint(pcr)) != 0
}

// PCRs returns the selected PCRs in ascending order.
func (m PCRMask) PCRs() (pcrs []int) {
	for i := 0; i < NumPCRs; i++ {
		if m.Contains(i) {
			pcrs = append(pcrs, i)
		}
	}
	return pcrs
}

// Selection returns a selection of the PCRs in this mask for the
// supplied bank.
func (m PCRMask) Selection(alg tpm2.HashAlgorithmId) tpm2.PCRSelectionList {
	return tpm2.PCRSelectionList{{Hash: alg, Select: m.PCRs()}}
}

// PCRMaskFromSelection returns the mask that corresponds to the PCRs
// selected in the supplied bank.
func PCRMaskFromSelection(pcrs tpm2.PCRSelectionList, alg tpm2.HashAlgorithmId) (PCRMask, error) {
	var mask PCRMask
	for _, s := range pcrs {
		if s.Hash != alg {
			continue
		}
		m, err := MakePCRMask(s.Select...)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

// PCRValues maps a PCR index to its value in a single bank.
type PCRValues map[int]tpm2.Digest

// Indices returns the PCR indices in ascending order.
func (v PCRValues) Indices() (pcrs []int) {
	for pcr := range v {
		pcrs = append(pcrs, pcr)
	}
	sort.Ints(pcrs)
	return pcrs
}

// ReadPCRs reads the values of the PCRs selected by mask from the
// specified bank.
func ReadPCRs(tpm *tpm2.TPMContext, alg tpm2.HashAlgorithmId, mask PCRMask) (PCRValues, error) {
	if mask == 0 {
		return PCRValues{}, nil
	}
	_, values, err := tpm.PCRRead(mask.Selection(alg))
	if err != nil {
		return nil, xerrors.Errorf("cannot read PCR values: %w", err)
	}
	out := make(PCRValues)
	for _, pcr := range mask.PCRs() {
		v, ok := values[alg][pcr]
		if !ok {
			return nil, xerrors.Errorf("no value for PCR %d", pcr)
		}
		out[pcr] = v
	}
	return out, nil
}

// ReadPCR reads the value of a single PCR from the specified bank.
func ReadPCR(tpm *tpm2.TPMContext, alg tpm2.HashAlgorithmId, pcr int) (tpm2.Digest, error) {
	mask, err := MakePCRMask(pcr)
	if err != nil {
		return nil, err
	}
	values, err := ReadPCRs(tpm, alg, mask)
	if err != nil {
		return nil, err
	}
	return values[pcr], nil
}

// ExtendPCR extends the specified PCR with the supplied digests, which
// should contain one digest per bank.
func ExtendPCR(tpm *tpm2.TPMContext, pcr int, digests tpm2.TaggedHashList) error {
	if pcr < 0 || pcr >= NumPCRs {
		return xerrors.Errorf("invalid PCR index %d", pcr)
	}
	if err := tpm.PCRExtend(pcr, digests, nil); err != nil {
		return xerrors.Errorf("cannot extend PCR %d: %w", pcr, err)
	}
	return nil
}

// capEvent is the event measured when capping a PCR.
var capEvent = make([]byte, 20)

// CapDigests returns the digests that CapPCR extends a PCR with.
func CapDigests() tpm2.TaggedHashList {
	var digests tpm2.TaggedHashList
	for _, alg := range []tpm2.HashAlgorithmId{tpm2.HashAlgorithmSHA1, tpm2.HashAlgorithmSHA256} {
		h := alg.GetHash().New()
		h.Write(capEvent)
		digests = append(digests, tpm2.TaggedHash{HashAlg: alg, Digest: h.Sum(nil)})
	}
	return digests
}

// CapPCR extends the specified PCR in the SHA-1 and SHA-256 banks with
// the digest of a block of 20 zero bytes. This makes it impossible to
// satisfy a policy that includes the PCR again until the next reset.
func CapPCR(tpm *tpm2.TPMContext, pcr int) error {
	return ExtendPCR(tpm, pcr, CapDigests())
}
