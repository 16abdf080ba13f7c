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
	"github.com/snapcore/bootseal/internal/mu"
)

// DictionaryAttackLockReset executes the TPM2_DictionaryAttackLockReset
// command to reset the dictionary attack lockout counter. If lockoutAuth
// is nil, an empty password authorization is used.
func (t *TPMContext) DictionaryAttackLockReset(lockoutAuth *AuthCommand) error {
	if lockoutAuth == nil {
		lockoutAuth = PasswordAuth(nil)
	}
	return t.startCommand(CommandDictionaryAttackLockReset).
		addHandles(HandleLockout).
		addAuths(lockoutAuth).
		run(nil, nil)
}

// DictionaryAttackParameters executes the TPM2_DictionaryAttackParameters
// command to change the dictionary attack lockout settings. The recovery
// times are in seconds.
func (t *TPMContext) DictionaryAttackParameters(maxTries, recoveryTime, lockoutRecovery uint32, lockoutAuth *AuthCommand) error {
	if lockoutAuth == nil {
		lockoutAuth = PasswordAuth(nil)
	}
	return t.startCommand(CommandDictionaryAttackParameters).
		addHandles(HandleLockout).
		addAuths(lockoutAuth).
		addParams(func(b *mu.Buffer) {
			b.WriteUint32(maxTries)
			b.WriteUint32(recoveryTime)
			b.WriteUint32(lockoutRecovery)
		}).
		run(nil, nil)
}
