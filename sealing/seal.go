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
	"errors"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/tpm2"
)

// ErrDataTooLarge is returned from Seal when the data is larger than the
// sensitive area of a sealed object can hold.
var ErrDataTooLarge = errors.New("data is too large to seal")

// sealedObjectTemplate returns the template for a sealed object that
// can only be unsealed with the supplied policy.
func sealedObjectTemplate(nameAlg tpm2.HashAlgorithmId, policy tpm2.Digest) *tpm2.Public {
	return &tpm2.Public{
		Type:       tpm2.ObjectTypeKeyedHash,
		NameAlg:    nameAlg,
		Attrs:      tpm2.AttrFixedTPM | tpm2.AttrFixedParent,
		AuthPolicy: policy,
		Params:     &tpm2.KeyedHashParams{Scheme: tpm2.KeyedHashScheme{Scheme: tpm2.AlgorithmNull}}}
}

// trialPolicyDigest runs the policy described by params in a trial
// session and returns its digest.
func trialPolicyDigest(tpm *tpm2.TPMContext, params *PolicyParams) (tpm2.Digest, error) {
	session, err := StartPolicySession(tpm, params, true)
	if err != nil {
		return nil, err
	}
	defer flushContext(tpm, session)

	digest, err := tpm.PolicyGetDigest(session)
	if err != nil {
		return nil, xerrors.Errorf("cannot obtain policy digest: %w", err)
	}
	return digest, nil
}

// Seal seals data to the TPM under the storage key at parent, with an
// authorization policy built from params. If params supplies PCR
// values, the policy is computed from those. Otherwise it is bound to
// the current values of the selected PCRs.
//
// The returned blob can be unsealed with Unseal whilst the selected PCRs
// have the values used to compute the policy.
func Seal(tpm *tpm2.TPMContext, parent tpm2.Handle, data []byte, params *PolicyParams) (*SealedBlob, error) {
	if len(data) > tpm2.MaxSymDataSize {
		return nil, ErrDataTooLarge
	}

	policy, err := trialPolicyDigest(tpm, params)
	if err != nil {
		return nil, xerrors.Errorf("cannot compute policy digest: %w", err)
	}

	result, err := tpm.Create(parent, &tpm2.SensitiveCreate{Data: data}, sealedObjectTemplate(params.Alg, policy), nil, nil, nil)
	if err != nil {
		return nil, xerrors.Errorf("cannot create sealed object: %w", err)
	}

	logger.WithField("pcrs", params.PCRMask.PCRs()).Debugf("sealed %d bytes with policy %x", len(data), policy)

	return &SealedBlob{
		Private:      result.Private,
		Public:       result.Public,
		CreationHash: result.CreationHash,
		PCRSelection: params.PCRMask.Selection(params.Alg)}, nil
}

// SealWithSRK creates the storage root key, seals data with it as the
// parent and then flushes it.
func SealWithSRK(tpm *tpm2.TPMContext, data []byte, params *PolicyParams) (*SealedBlob, error) {
	if len(data) > tpm2.MaxSymDataSize {
		return nil, ErrDataTooLarge
	}

	srk, err := CreateSRK(tpm)
	if err != nil {
		return nil, err
	}
	defer flushContext(tpm, srk)

	return Seal(tpm, srk, data, params)
}
