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
	"context"
	"crypto"
	"io/fs"

	"github.com/canonical/tcglog-parser"
	"golang.org/x/xerrors"

	bootseal_efi "github.com/snapcore/bootseal/efi"
	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

// Measurer computes the measurements of boot artifacts.
type Measurer struct {
	// Vars is consulted first when loading an artifact. It may be nil.
	Vars *Vars

	// VarReader is used to read EFI variables that are not in Vars. If
	// nil, DefaultVarReader is used.
	VarReader VarReader

	// FS is used to load files that are not in Vars.
	FS fs.FS

	// Extender is used to extend the real PCRs for measurements that are
	// not predictive.
	Extender Extender
}

func (m *Measurer) varReader() VarReader {
	if m.VarReader == nil {
		return DefaultVarReader
	}
	return m.VarReader
}

// load returns the contents of the artifact identified by locator.
func (m *Measurer) load(ctx context.Context, locator string, kind Kind) ([]byte, error) {
	if data, ok := m.Vars.Get(locator); ok {
		return data, nil
	}

	if kind == EFIVar {
		guid, name, err := ParseVarName(locator)
		if err != nil {
			return nil, err
		}
		data, _, err := m.varReader().ReadVar(ctx, name, guid)
		if err != nil {
			return nil, xerrors.Errorf("cannot read variable: %w", err)
		}
		return data, nil
	}

	data, err := loadFile(m.FS, locator)
	if err != nil {
		return nil, xerrors.Errorf("cannot read file: %w", err)
	}
	return data, nil
}

func computeEFIVarDigests(locator string, data []byte) (sha1Digest SHA1Hash, sha256Digest SHA256Hash, err error) {
	guid, name, err := ParseVarName(locator)
	if err != nil {
		return SHA1Hash{}, SHA256Hash{}, err
	}
	copy(sha1Digest[:], tcglog.ComputeEFIVariableDataDigest(crypto.SHA1, name, guid, data))
	copy(sha256Digest[:], tcglog.ComputeEFIVariableDataDigest(crypto.SHA256, name, guid, data))
	return sha1Digest, sha256Digest, nil
}

func computePEImageDigests(data []byte) (sha1Digest SHA1Hash, sha256Digest SHA256Hash, err error) {
	image, err := bootseal_efi.NewImage(data)
	if err != nil {
		return SHA1Hash{}, SHA256Hash{}, err
	}
	d, err := image.Hash(crypto.SHA1)
	if err != nil {
		return SHA1Hash{}, SHA256Hash{}, err
	}
	copy(sha1Digest[:], d)
	d, err = image.Hash(crypto.SHA256)
	if err != nil {
		return SHA1Hash{}, SHA256Hash{}, err
	}
	copy(sha256Digest[:], d)
	return sha1Digest, sha256Digest, nil
}

func padTo32Bits(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	out := make([]byte, len(data)+4-len(data)%4)
	copy(out, data)
	return out
}

func capDigests() (sha1Digest SHA1Hash, sha256Digest SHA256Hash) {
	for _, d := range sealing.CapDigests() {
		switch d.HashAlg {
		case tpm2.HashAlgorithmSHA1:
			copy(sha1Digest[:], d.Digest)
		case tpm2.HashAlgorithmSHA256:
			copy(sha256Digest[:], d.Digest)
		}
	}
	return sha1Digest, sha256Digest
}

// Measure computes the SHA-1 and SHA-256 measurements of the artifact
// identified by locator and extends them into the specified PCR of bank.
// If predictive is false, the real PCR is also extended with Extender.
//
// For a PCR kind nothing is measured. The PCR is only added to the
// selection of bank, and zero digests are returned.
func (m *Measurer) Measure(ctx context.Context, locator string, kind Kind, predictive bool, pcr int, bank *PCRBank) (sha1Digest SHA1Hash, sha256Digest SHA256Hash, err error) {
	if err := checkPCR(pcr); err != nil {
		return SHA1Hash{}, SHA256Hash{}, err
	}

	var data []byte
	if kind.loadsData() {
		data, err = m.load(ctx, locator, kind)
		if err != nil {
			return SHA1Hash{}, SHA256Hash{}, xerrors.Errorf("cannot load %s: %w", locator, err)
		}
	}

	switch kind {
	case EFIVar:
		sha1Digest, sha256Digest, err = computeEFIVarDigests(locator, data)
	case PEImage:
		sha1Digest, sha256Digest, err = computePEImageDigests(data)
	case Binary:
		sha1Digest, sha256Digest = hashData(data)
	case Binary32:
		sha1Digest, sha256Digest = hashData(padTo32Bits(data))
	case Cap:
		sha1Digest, sha256Digest = capDigests()
	case PCR:
		return SHA1Hash{}, SHA256Hash{}, bank.Select(pcr)
	default:
		return SHA1Hash{}, SHA256Hash{}, xerrors.Errorf("invalid measurement type %v", kind)
	}
	if err != nil {
		return SHA1Hash{}, SHA256Hash{}, xerrors.Errorf("cannot measure %s: %w", locator, err)
	}

	if !predictive {
		if m.Extender == nil {
			return SHA1Hash{}, SHA256Hash{}, xerrors.New("no PCR extender for a direct measurement")
		}
		digests := tpm2.TaggedHashList{
			{HashAlg: tpm2.HashAlgorithmSHA1, Digest: sha1Digest[:]},
			{HashAlg: tpm2.HashAlgorithmSHA256, Digest: sha256Digest[:]},
		}
		if err := m.Extender.ExtendPCR(pcr, digests); err != nil {
			return SHA1Hash{}, SHA256Hash{}, err
		}
	}

	if err := bank.Extend(pcr, sha1Digest, sha256Digest); err != nil {
		return SHA1Hash{}, SHA256Hash{}, err
	}
	return sha1Digest, sha256Digest, nil
}
