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

// PolicyPCR executes the TPM2_PolicyPCR command to gate the policy session
// on the values of the selected PCRs. If pcrDigest is supplied, a policy
// session fails with ResponseValue if it doesn't match the current PCR
// values. A trial session uses pcrDigest as supplied, or the current PCR
// values if it is empty.
func (t *TPMContext) PolicyPCR(session Handle, pcrDigest Digest, pcrs PCRSelectionList) error {
	return t.startCommand(CommandPolicyPCR).
		addHandles(session).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(pcrDigest)
			pcrs.Marshal(b)
		}).
		run(nil, nil)
}

// PolicyPassword executes the TPM2_PolicyPassword command, which requires
// that the object's auth value is supplied when the session is used.
func (t *TPMContext) PolicyPassword(session Handle) error {
	return t.startCommand(CommandPolicyPassword).
		addHandles(session).
		run(nil, nil)
}

// PolicyGetDigest executes the TPM2_PolicyGetDigest command to return the
// current digest of the policy session.
func (t *TPMContext) PolicyGetDigest(session Handle) (Digest, error) {
	var digest Digest
	if err := t.startCommand(CommandPolicyGetDigest).
		addHandles(session).
		run(nil, func(b *mu.Buffer) {
			digest = b.ReadSized16()
		}); err != nil {
		return nil, err
	}
	return digest, nil
}
