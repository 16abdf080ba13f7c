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

func unmarshalHashcheck(b *mu.Buffer) *TkHashcheck {
	tag, hierarchy, digest := unmarshalTicket(b)
	return &TkHashcheck{Tag: tag, Hierarchy: hierarchy, Digest: digest}
}

func checkMaxBuffer(data MaxBuffer) error {
	if len(data) > MaxDigestBufferSize {
		return xerrors.Errorf("buffer too large (%d bytes, maximum %d)", len(data), MaxDigestBufferSize)
	}
	return nil
}

// Hash executes the TPM2_Hash command to hash data with the specified
// algorithm. Data larger than MaxDigestBufferSize must be hashed using a
// hash sequence.
func (t *TPMContext) Hash(data MaxBuffer, hashAlg HashAlgorithmId, hierarchy Handle) (Digest, *TkHashcheck, error) {
	if err := checkMaxBuffer(data); err != nil {
		return nil, nil, err
	}

	var digest Digest
	var ticket *TkHashcheck
	if err := t.startCommand(CommandHash).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(data)
			b.WriteUint16(uint16(hashAlg))
			b.WriteUint32(uint32(hierarchy))
		}).
		run(nil, func(b *mu.Buffer) {
			digest = b.ReadSized16()
			ticket = unmarshalHashcheck(b)
		}); err != nil {
		return nil, nil, err
	}
	return digest, ticket, nil
}

// HashSequenceStart executes the TPM2_HashSequenceStart command to start
// a hash sequence. The sequence is flushed by SequenceComplete.
func (t *TPMContext) HashSequenceStart(auth Auth, hashAlg HashAlgorithmId) (Handle, error) {
	var handle Handle
	if err := t.startCommand(CommandHashSequenceStart).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(auth)
			b.WriteUint16(uint16(hashAlg))
		}).
		run(&handle, nil); err != nil {
		return HandleNull, err
	}
	return handle, nil
}

// SequenceUpdate executes the TPM2_SequenceUpdate command to add data to a
// hash sequence.
func (t *TPMContext) SequenceUpdate(sequence Handle, buffer MaxBuffer, sequenceAuth *AuthCommand) error {
	if err := checkMaxBuffer(buffer); err != nil {
		return err
	}
	if sequenceAuth == nil {
		sequenceAuth = PasswordAuth(nil)
	}
	return t.startCommand(CommandSequenceUpdate).
		addHandles(sequence).
		addAuths(sequenceAuth).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(buffer)
		}).
		run(nil, nil)
}

// SequenceComplete executes the TPM2_SequenceComplete command to add the
// final data to a hash sequence and return the digest. The sequence is
// flushed on success.
func (t *TPMContext) SequenceComplete(sequence Handle, buffer MaxBuffer, hierarchy Handle, sequenceAuth *AuthCommand) (Digest, *TkHashcheck, error) {
	if err := checkMaxBuffer(buffer); err != nil {
		return nil, nil, err
	}
	if sequenceAuth == nil {
		sequenceAuth = PasswordAuth(nil)
	}

	var digest Digest
	var ticket *TkHashcheck
	if err := t.startCommand(CommandSequenceComplete).
		addHandles(sequence).
		addAuths(sequenceAuth).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(buffer)
			b.WriteUint32(uint32(hierarchy))
		}).
		run(nil, func(b *mu.Buffer) {
			digest = b.ReadSized16()
			ticket = unmarshalHashcheck(b)
		}); err != nil {
		return nil, nil, err
	}
	return digest, ticket, nil
}
