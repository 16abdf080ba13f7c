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


package measure

import (
	"crypto/sha1"
	"crypto/sha256"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

// PCRBank is a software model of PCRs 0 to 15 in the SHA-1 and SHA-256
// banks. Every PCR starts from its reset value of all zeroes and can only
// be changed by extending it. The bank also records which PCRs have been
// selected for a policy and which of those have been extended.
type PCRBank struct {
	sha1     [sealing.NumPCRs]SHA1Hash
	sha256   [sealing.NumPCRs]SHA256Hash
	mask     sealing.PCRMask
	extended sealing.PCRMask
}

// NewPCRBank returns a bank with every PCR in its reset state.
func NewPCRBank() *PCRBank {
	return new(PCRBank)
}

func checkPCR(pcr int) error {
	if pcr < 0 || pcr >= sealing.NumPCRs {
		return xerrors.Errorf("invalid PCR index %d", pcr)
	}
	return nil
}

// Extend extends the specified PCR with the supplied digests, so that
// its new value is H(old || digest) in each bank. The PCR is added to
// the selection.
func (b *PCRBank) Extend(pcr int, sha1Digest SHA1Hash, sha256Digest SHA256Hash) error {
	if err := checkPCR(pcr); err != nil {
		return err
	}

	h1 := sha1.New()
	h1.Write(b.sha1[pcr][:])
	h1.Write(sha1Digest[:])
	copy(b.sha1[pcr][:], h1.Sum(nil))

	h256 := sha256.New()
	h256.Write(b.sha256[pcr][:])
	h256.Write(sha256Digest[:])
	copy(b.sha256[pcr][:], h256.Sum(nil))

	b.mask |= 1 << uint(pcr)
	b.extended |= 1 << uint(pcr)
	return nil
}

// Select adds the specified PCR to the selection without extending it.
func (b *PCRBank) Select(pcr int) error {
	if err := checkPCR(pcr); err != nil {
		return err
	}
	b.mask |= 1 << uint(pcr)
	return nil
}

// Mask returns the selected PCRs.
func (b *PCRBank) Mask() sealing.PCRMask {
	return b.mask
}

// Extended returns the PCRs that have been extended at least once.
func (b *PCRBank) Extended() sealing.PCRMask {
	return b.extended
}

// SHA1 returns the value of the specified PCR in the SHA-1 bank. It
// returns the reset value for an invalid index.
func (b *PCRBank) SHA1(pcr int) SHA1Hash {
	if checkPCR(pcr) != nil {
		return SHA1Hash{}
	}
	return b.sha1[pcr]
}

// SHA256 returns the value of the specified PCR in the SHA-256 bank. It
// returns the reset value for an invalid index.
func (b *PCRBank) SHA256(pcr int) SHA256Hash {
	if checkPCR(pcr) != nil {
		return SHA256Hash{}
	}
	return b.sha256[pcr]
}

// Value returns the value of the specified PCR in the bank for alg.
func (b *PCRBank) Value(alg tpm2.HashAlgorithmId, pcr int) (tpm2.Digest, error) {
	if err := checkPCR(pcr); err != nil {
		return nil, err
	}
	switch alg {
	case tpm2.HashAlgorithmSHA1:
		v := b.sha1[pcr]
		return tpm2.Digest(v[:]), nil
	case tpm2.HashAlgorithmSHA256:
		v := b.sha256[pcr]
		return tpm2.Digest(v[:]), nil
	default:
		return nil, &tpm2.UnsupportedAlgorithmError{Alg: alg}
	}
}

// ExtendedValues returns the values of the extended PCRs in the bank for
// alg.
func (b *PCRBank) ExtendedValues(alg tpm2.HashAlgorithmId) (sealing.PCRValues, error) {
	out := make(sealing.PCRValues)
	for _, pcr := range b.extended.PCRs() {
		v, err := b.Value(alg, pcr)
		if err != nil {
			return nil, err
		}
		out[pcr] = v
	}
	return out, nil
}
