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
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/tpm2"
)

// PolicyParams describes a PCR policy.
type PolicyParams struct {
	// Alg is the digest algorithm of the session. It also selects the PCR
	// bank. Only SHA-1 and SHA-256 are supported.
	Alg tpm2.HashAlgorithmId

	// PCRMask selects the PCRs included in the policy.
	PCRMask PCRMask

	// PCRValues supplies the expected value of every PCR selected by
	// PCRMask for a predictive policy. If nil, the current values are
	// read from the TPM.
	PCRValues PCRValues
}

// Predictive indicates whether the policy is computed from caller
// supplied PCR values rather than the current values.
func (p *PolicyParams) Predictive() bool {
	return p.PCRValues != nil
}

func checkSessionAlg(alg tpm2.HashAlgorithmId) error {
	switch alg {
	case tpm2.HashAlgorithmSHA1, tpm2.HashAlgorithmSHA256:
		return nil
	default:
		return &tpm2.UnsupportedAlgorithmError{Alg: alg}
	}
}

func (p *PolicyParams) check() error {
	if err := checkSessionAlg(p.Alg); err != nil {
		return err
	}
	if p.PCRMask == 0 {
		return xerrors.New("no PCRs selected")
	}
	if !p.Predictive() {
		return nil
	}
	for _, pcr := range p.PCRMask.PCRs() {
		v, ok := p.PCRValues[pcr]
		switch {
		case !ok:
			return xerrors.Errorf("no value supplied for PCR %d", pcr)
		case len(v) != p.Alg.Size():
			return xerrors.Errorf("invalid value size %d for PCR %d", len(v), pcr)
		}
	}
	return nil
}

// pcrDigest returns the composite digest of the selected PCRs. For a
// predictive policy this is computed from the supplied values in
// ascending PCR order, which is the same order the TPM uses.
func (p *PolicyParams) pcrDigest(tpm *tpm2.TPMContext) (tpm2.Digest, error) {
	values := p.PCRValues
	if !p.Predictive() {
		var err error
		values, err = ReadPCRs(tpm, p.Alg, p.PCRMask)
		if err != nil {
			return nil, err
		}
	}

	v := make(tpm2.PCRValues)
	for _, pcr := range p.PCRMask.PCRs() {
		v.SetValue(p.Alg, pcr, values[pcr])
	}
	return tpm2.ComputePCRDigest(p.Alg, p.PCRMask.Selection(p.Alg), v)
}

// ComputePolicyDigest computes the authorization policy digest for the
// supplied parameters in software, without a TPM. The parameters must be
// predictive.
func ComputePolicyDigest(params *PolicyParams) (tpm2.Digest, error) {
	if !params.Predictive() {
		return nil, xerrors.New("policy must be predictive")
	}
	if err := params.check(); err != nil {
		return nil, xerrors.Errorf("invalid policy parameters: %w", err)
	}

	policy, err := tpm2.ComputePolicyPasswordDigest(params.Alg, nil)
	if err != nil {
		return nil, err
	}
	pcrDigest, err := params.pcrDigest(nil)
	if err != nil {
		return nil, err
	}
	return tpm2.ComputePolicyPCRDigest(params.Alg, policy, params.PCRMask.Selection(params.Alg), pcrDigest)
}

// StartPolicySession starts a session and executes the PCR policy
// described by params in it. The policy always begins with
// TPM2_PolicyPassword, with an empty password.
//
// If trial is true, a trial session is started, which is used to compute
// the digest of the policy with TPM2_PolicyGetDigest. Otherwise, a policy
// session is started which can be used to authorize the use of an object
// with the same policy.
//
// On success, the caller is responsible for the returned session. It is
// flushed on every error path.
func StartPolicySession(tpm *tpm2.TPMContext, params *PolicyParams, trial bool) (session tpm2.Handle, err error) {
	if err := params.check(); err != nil {
		return tpm2.HandleNull, xerrors.Errorf("invalid policy parameters: %w", err)
	}

	sessionType := tpm2.SessionTypePolicy
	if trial {
		sessionType = tpm2.SessionTypeTrial
	}
	session, _, err = tpm.StartAuthSession(sessionType, nil, params.Alg)
	if err != nil {
		return tpm2.HandleNull, xerrors.Errorf("cannot start session: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		flushContext(tpm, session)
		session = tpm2.HandleNull
	}()

	if err := tpm.PolicyPassword(session); err != nil {
		return tpm2.HandleNull, xerrors.Errorf("cannot execute assertion: %w", err)
	}

	pcrDigest, err := params.pcrDigest(tpm)
	if err != nil {
		return tpm2.HandleNull, xerrors.Errorf("cannot compute PCR digest: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"alg":        params.Alg,
		"pcrs":       params.PCRMask.PCRs(),
		"predictive": params.Predictive(),
		"trial":      trial,
	}).Debugf("PCR digest %x", pcrDigest)

	if err := tpm.PolicyPCR(session, pcrDigest, params.PCRMask.Selection(params.Alg)); err != nil {
		return tpm2.HandleNull, xerrors.Errorf("cannot execute PCR assertion: %w", err)
	}

	return session, nil
}
