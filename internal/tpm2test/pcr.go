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

package tpm2test

import (
	"github.com/snapcore/bootseal/tpm2"
)

// MakePCREventDigest creates a digest for a single PCR event by
// hashing the supplied string with the specified algorithm.
func MakePCREventDigest(alg tpm2.HashAlgorithmId, event string) tpm2.Digest {
	h := alg.GetHash().New()
	h.Write([]byte(event))
	return h.Sum(nil)
}

// MakePCRValueFromEvents creates a PCR value by hashing the supplied
// events with the specified algorithm and then computing the PCR value
// that would result by extending these events.
func MakePCRValueFromEvents(alg tpm2.HashAlgorithmId, events ...string) tpm2.Digest {
	p := make(tpm2.Digest, alg.Size())
	for _, e := range events {
		h := alg.GetHash().New()
		h.Write(p)
		h.Write(MakePCREventDigest(alg, e))
		p = h.Sum(nil)
	}
	return p
}

// ExtendPCRWithEvents extends the specified PCR in both banks with the
// digests of the supplied events.
func ExtendPCRWithEvents(tpm *tpm2.TPMContext, pcr int, events ...string) error {
	for _, e := range events {
		digests := tpm2.TaggedHashList{
			{HashAlg: tpm2.HashAlgorithmSHA1, Digest: MakePCREventDigest(tpm2.HashAlgorithmSHA1, e)},
			{HashAlg: tpm2.HashAlgorithmSHA256, Digest: MakePCREventDigest(tpm2.HashAlgorithmSHA256, e)}}
		if err := tpm.PCRExtend(pcr, digests, nil); err != nil {
			return err
		}
	}
	return nil
}
