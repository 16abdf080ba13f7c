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

// HashData computes the digest of data on the TPM. Data that is larger
// than TPM2_Hash accepts is digested with a hash sequence.
func HashData(tpm *tpm2.TPMContext, alg tpm2.HashAlgorithmId, data []byte) (tpm2.Digest, error) {
	if len(data) <= tpm2.MaxDigestBufferSize {
		digest, _, err := tpm.Hash(data, alg, tpm2.HandleNull)
		if err != nil {
			return nil, xerrors.Errorf("cannot compute digest: %w", err)
		}
		return digest, nil
	}

	sequence, err := tpm.HashSequenceStart(nil, alg)
	if err != nil {
		return nil, xerrors.Errorf("cannot start hash sequence: %w", err)
	}
	// The sequence object is flushed by the TPM when
	// TPM2_SequenceComplete succeeds.
	completed := false
	defer func() {
		if !completed {
			flushContext(tpm, sequence)
		}
	}()

	for len(data) > tpm2.MaxDigestBufferSize {
		if err := tpm.SequenceUpdate(sequence, data[:tpm2.MaxDigestBufferSize], nil); err != nil {
			return nil, xerrors.Errorf("cannot update hash sequence: %w", err)
		}
		data = data[tpm2.MaxDigestBufferSize:]
	}

	digest, _, err := tpm.SequenceComplete(sequence, data, tpm2.HandleNull, nil)
	if err != nil {
		return nil, xerrors.Errorf("cannot complete hash sequence: %w", err)
	}
	completed = true
	return digest, nil
}
