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


package policy

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

// NoCapPCR disables capping a PCR after unsealing.
const NoCapPCR = -1

// Engine evaluates policies and uses them to seal and unseal secrets.
type Engine struct {
	TPM      *tpm2.TPMContext
	Measurer *measure.Measurer

	// Alg is the PCR bank and policy digest algorithm used for sealing.
	Alg tpm2.HashAlgorithmId

	// CapPCR is capped after every unseal attempt, unless it is
	// NoCapPCR.
	CapPCR int

	Logger logrus.FieldLogger
}

// NewEngine returns an engine that seals with the SHA-256 bank and that
// doesn't cap a PCR after unsealing.
func NewEngine(tpm *tpm2.TPMContext, measurer *measure.Measurer) *Engine {
	return &Engine{
		TPM:      tpm,
		Measurer: measurer,
		Alg:      tpm2.HashAlgorithmSHA256,
		CapPCR:   NoCapPCR,
		Logger:   logrus.StandardLogger(),
	}
}

func (e *Engine) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// Evaluate measures every entry of policy in order into a new bank. If
// predictive is false, the real PCRs are extended as well. Entries that
// target the same PCR are extended in the order they appear in the
// policy after includes are expanded.
func (e *Engine) Evaluate(ctx context.Context, policy *Policy, predictive bool) (*measure.PCRBank, error) {
	bank := measure.NewPCRBank()
	for i := range policy.Entries {
		entry := &policy.Entries[i]
		log := e.logger().WithFields(logrus.Fields{
			"file": entry.File,
			"line": entry.Line,
			"pcr":  entry.PCR,
		})

		sha1Digest, sha256Digest, err := e.Measurer.Measure(ctx, entry.Locator, entry.Kind, predictive, entry.PCR, bank)
		if err != nil {
			return nil, xerrors.Errorf("cannot evaluate entry at %s:%d: %w", entry.File, entry.Line, err)
		}
		if entry.Kind == measure.PCR {
			log.Debugf("selected PCR for %s", entry.Locator)
			continue
		}
		log.Debugf("measured %s (%v) sha1:%v sha256:%v", entry.Locator, entry.Kind, sha1Digest, sha256Digest)
	}
	return bank, nil
}

// PCRValues evaluates policy predictively and returns the values of the
// selected PCRs that a policy should be computed from. A PCR that is
// extended by the policy takes the computed value. A PCR that is only
// selected by a PCR entry takes its current value from the TPM.
func (e *Engine) PCRValues(ctx context.Context, policy *Policy) (sealing.PCRValues, error) {
	bank, err := e.Evaluate(ctx, policy, true)
	if err != nil {
		return nil, err
	}

	values, err := bank.ExtendedValues(e.Alg)
	if err != nil {
		return nil, err
	}

	if live := policy.Mask &^ bank.Extended(); live != 0 {
		current, err := sealing.ReadPCRs(e.TPM, e.Alg, live)
		if err != nil {
			return nil, err
		}
		for pcr, v := range current {
			values[pcr] = v
		}
	}

	return values, nil
}

// Seal evaluates policy predictively and seals data to the resulting PCR
// values.
func (e *Engine) Seal(ctx context.Context, policy *Policy, data []byte) (*sealing.SealedBlob, error) {
	if policy.Mask == 0 {
		return nil, xerrors.New("policy does not select any PCRs")
	}

	values, err := e.PCRValues(ctx, policy)
	if err != nil {
		return nil, xerrors.Errorf("cannot compute PCR values: %w", err)
	}

	blob, err := sealing.SealWithSRK(e.TPM, data, &sealing.PolicyParams{
		Alg:       e.Alg,
		PCRMask:   policy.Mask,
		PCRValues: values,
	})
	if err != nil {
		return nil, xerrors.Errorf("cannot seal data: %w", err)
	}

	e.logger().WithField("pcrs", policy.Mask.PCRs()).Infof("sealed %d bytes", len(data))
	return blob, nil
}

// Unseal unseals blob against the current values of the PCRs selected by
// policy. If CapPCR is set, that PCR is capped afterwards regardless of
// whether unsealing succeeded.
func (e *Engine) Unseal(ctx context.Context, policy *Policy, blob *sealing.SealedBlob) ([]byte, error) {
	data, err := e.unseal(policy, blob)
	if err != nil {
		return nil, xerrors.Errorf("cannot unseal data: %w", err)
	}
	return data, nil
}

func (e *Engine) unseal(policy *Policy, blob *sealing.SealedBlob) ([]byte, error) {
	if blob.Public == nil {
		return nil, e.capAfterError(xerrors.New("invalid sealed blob: no public area"))
	}
	mask, err := blob.PCRMask()
	if err != nil {
		return nil, e.capAfterError(xerrors.Errorf("invalid sealed blob: %w", err))
	}
	if mask != policy.Mask {
		return nil, e.capAfterError(xerrors.Errorf("policy selects PCRs %v but the blob was sealed to PCRs %v", policy.Mask.PCRs(), mask.PCRs()))
	}

	srk, err := sealing.CreateSRK(e.TPM)
	if err != nil {
		return nil, e.capAfterError(err)
	}
	defer e.TPM.FlushContextOrLog(srk, e.logger().Warnf)

	if e.CapPCR == NoCapPCR {
		return sealing.Unseal(e.TPM, srk, blob, mask)
	}
	return sealing.UnsealAndCap(e.TPM, srk, blob, mask, e.CapPCR)
}

// capAfterError caps CapPCR, if set, when unsealing fails before the
// blob is submitted to the TPM. It returns err.
func (e *Engine) capAfterError(err error) error {
	if e.CapPCR == NoCapPCR {
		return err
	}
	if capErr := sealing.CapPCR(e.TPM, e.CapPCR); capErr != nil {
		e.logger().Warnf("cannot cap PCR %d after failed unseal: %v", e.CapPCR, capErr)
	}
	return err
}
