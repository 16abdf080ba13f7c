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
	"crypto/rand"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
)

// StartAuthSession executes the TPM2_StartAuthSession command to start an
// unsalted and unbound session of the specified type. A trial session is
// used to compute a policy digest, and a policy session is used to satisfy
// one. The session digest is computed with authHash, which must be a
// supported digest algorithm.
//
// The returned handle must be flushed with FlushContext if the session is
// not consumed by a command.
func (t *TPMContext) StartAuthSession(sessionType SessionType, symmetric *SymDef, authHash HashAlgorithmId) (Handle, Nonce, error) {
	if !authHash.IsValid() {
		return HandleNull, nil, &UnsupportedAlgorithmError{Alg: authHash}
	}
	if symmetric == nil {
		symmetric = &SymDef{Algorithm: SymObjectAlgorithmNull}
	}

	nonceCaller := make(Nonce, authHash.Size())
	if _, err := rand.Read(nonceCaller); err != nil {
		return HandleNull, nil, xerrors.Errorf("cannot read caller nonce: %w", err)
	}

	var handle Handle
	var nonceTPM Nonce
	if err := t.startCommand(CommandStartAuthSession).
		addHandles(HandleNull, HandleNull).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(nonceCaller)
			b.WriteSized16(nil) // encryptedSalt
			b.WriteUint8(uint8(sessionType))
			(*SymDefObject)(symmetric).marshal(b)
			b.WriteUint16(uint16(authHash))
		}).
		run(&handle, func(b *mu.Buffer) {
			nonceTPM = b.ReadSized16()
		}); err != nil {
		return HandleNull, nil, err
	}
	return handle, nonceTPM, nil
}
