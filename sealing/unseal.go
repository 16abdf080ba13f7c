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

	"github.com/snapcore/bootseal/tpm2"
)

// IsPolicyFailError indicates whether err is the error returned by the
// TPM when a blob is unsealed after one of the PCRs in its policy has
// changed.
func IsPolicyFailError(err error) bool {
	return tpm2.IsTPMSessionError(err, tpm2.ResponsePolicyFail, tpm2.CommandUnseal, 1)
}

// Unseal unseals blob, which must have been sealed with the storage key
// at parent. The policy session is bound to the current values of the
// PCRs selected by mask in the bank of the blob's name algorithm. If any
// of those PCRs differ from the values used to seal the blob, this fails
// with a TPM_RC_POLICY_FAIL error (see IsPolicyFailError) and no data is
// returned.
func Unseal(tpm *tpm2.TPMContext, parent tpm2.Handle, blob *SealedBlob, mask PCRMask) ([]byte, error) {
	if blob.Public == nil {
		return nil, xerrors.New("invalid sealed blob: no public area")
	}

	session, err := StartPolicySession(tpm, &PolicyParams{Alg: blob.Public.NameAlg, PCRMask: mask}, false)
	if err != nil {
		return nil, xerrors.Errorf("cannot start policy session: %w", err)
	}
	// The session is flushed by the TPM when TPM2_Unseal succeeds.
	sessionFlushed := false
	defer func() {
		if !sessionFlushed {
			flushContext(tpm, session)
		}
	}()

	object, _, err := tpm.Load(parent, blob.Private, blob.Public, nil)
	if err != nil {
		return nil, xerrors.Errorf("cannot load sealed object: %w", err)
	}
	defer flushContext(tpm, object)

	data, err := tpm.Unseal(object, tpm2.PolicyAuth(session))
	if err != nil {
		return nil, xerrors.Errorf("cannot unseal object: %w", err)
	}
	sessionFlushed = true

	return data, nil
}

// UnsealAndCap unseals blob like Unseal and then caps the specified PCR
// with CapPCR, whether or not unsealing succeeded. An error from Unseal
// takes precedence over an error from capping the PCR. No data is
// returned if capping fails.
func UnsealAndCap(tpm *tpm2.TPMContext, parent tpm2.Handle, blob *SealedBlob, mask PCRMask, capPCR int) ([]byte, error) {
	data, err := Unseal(tpm, parent, blob, mask)
	capErr := CapPCR(tpm, capPCR)
	switch {
	case err != nil:
		if capErr != nil {
			logger.Warnf("cannot cap PCR %d after failed unseal: %v", capPCR, capErr)
		}
		return nil, err
	case capErr != nil:
		return nil, xerrors.Errorf("cannot cap PCR: %w", capErr)
	}
	return data, nil
}

// UnsealWithSRK creates the storage root key, unseals blob with it as
// the parent and then flushes it.
func UnsealWithSRK(tpm *tpm2.TPMContext, blob *SealedBlob, mask PCRMask) ([]byte, error) {
	srk, err := CreateSRK(tpm)
	if err != nil {
		return nil, err
	}
	defer flushContext(tpm, srk)

	return Unseal(tpm, srk, blob, mask)
}
