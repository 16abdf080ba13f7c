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

// ResetLockout resets the TPM's dictionary attack counter, using the
// supplied lockout hierarchy authorization value.
func ResetLockout(tpm *tpm2.TPMContext, lockoutAuth []byte) error {
	if err := tpm.DictionaryAttackLockReset(tpm2.PasswordAuth(lockoutAuth)); err != nil {
		return xerrors.Errorf("cannot reset dictionary attack counter: %w", err)
	}
	return nil
}

// LockoutParams contains the dictionary attack protection parameters.
type LockoutParams struct {
	MaxTries        uint32 // authorization failures before lockout
	RecoveryTime    uint32 // seconds before the failure count is decremented
	LockoutRecovery uint32 // seconds before the lockout hierarchy can be used after a failure
}

// SetLockoutParams sets the TPM's dictionary attack protection
// parameters, using the supplied lockout hierarchy authorization value.
func SetLockoutParams(tpm *tpm2.TPMContext, params *LockoutParams, lockoutAuth []byte) error {
	if err := tpm.DictionaryAttackParameters(params.MaxTries, params.RecoveryTime, params.LockoutRecovery, tpm2.PasswordAuth(lockoutAuth)); err != nil {
		return xerrors.Errorf("cannot set dictionary attack parameters: %w", err)
	}
	return nil
}

// ReadLockoutParams returns the TPM's current dictionary attack
// protection parameters.
func ReadLockoutParams(tpm *tpm2.TPMContext) (*LockoutParams, error) {
	props, err := tpm.GetCapabilityTPMProperties(tpm2.PropertyMaxAuthFail, 3)
	if err != nil {
		return nil, xerrors.Errorf("cannot read properties: %w", err)
	}
	params := new(LockoutParams)
	for _, p := range props {
		switch p.Property {
		case tpm2.PropertyMaxAuthFail:
			params.MaxTries = p.Value
		case tpm2.PropertyLockoutInterval:
			params.RecoveryTime = p.Value
		case tpm2.PropertyLockoutRecovery:
			params.LockoutRecovery = p.Value
		}
	}
	return params, nil
}
