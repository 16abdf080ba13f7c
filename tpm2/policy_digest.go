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
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
)

// ComputePCRDigest computes the digest of the PCR values selected by pcrs,
// in the same way that the TPM does for TPM2_PolicyPCR. The values of the
// selected PCRs in each bank are concatenated in ascending index order,
// with banks in the order they appear in the selection, and the result is
// hashed with alg.
func ComputePCRDigest(alg HashAlgorithmId, pcrs PCRSelectionList, values PCRValues) (Digest, error) {
	if !alg.IsValid() {
		return nil, &UnsupportedAlgorithmError{Alg: alg}
	}

	h := alg.GetHash().New()
	for _, s := range pcrs {
		for _, pcr := range sortedPCRs(s) {
			v, ok := values[s.Hash][pcr]
			if !ok {
				return nil, xerrors.Errorf("no value for PCR %d in bank %v", pcr, s.Hash)
			}
			h.Write(v)
		}
	}
	return h.Sum(nil), nil
}

// ComputePolicyPCRDigest computes the new value of a policy digest after
// executing TPM2_PolicyPCR with the supplied PCR selection and PCR
// digest.
func ComputePolicyPCRDigest(alg HashAlgorithmId, policy Digest, pcrs PCRSelectionList, pcrDigest Digest) (Digest, error) {
	sel, err := MarshalToBytes(pcrs.Marshal)
	if err != nil {
		return nil, xerrors.Errorf("cannot marshal PCR selection: %w", err)
	}
	return extendPolicy(alg, policy, CommandPolicyPCR, sel, pcrDigest)
}

// ComputePolicyPasswordDigest computes the new value of a policy digest
// after executing TPM2_PolicyPassword. This is the same as for
// TPM2_PolicyAuthValue.
func ComputePolicyPasswordDigest(alg HashAlgorithmId, policy Digest) (Digest, error) {
	return extendPolicy(alg, policy, CommandPolicyAuthValue)
}

func extendPolicy(alg HashAlgorithmId, policy Digest, code CommandCode, params ...[]byte) (Digest, error) {
	if !alg.IsValid() {
		return nil, &UnsupportedAlgorithmError{Alg: alg}
	}
	if policy == nil {
		policy = make(Digest, alg.Size())
	}
	if len(policy) != alg.Size() {
		return nil, xerrors.Errorf("invalid policy digest size %d", len(policy))
	}

	b := mu.NewBuffer(4)
	b.WriteUint32(uint32(code))

	h := alg.GetHash().New()
	h.Write(policy)
	h.Write(b.Bytes())
	for _, p := range params {
		h.Write(p)
	}
	return h.Sum(nil), nil
}
