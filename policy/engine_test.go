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


package policy_test

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"strings"
	"testing/fstest"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	. "gopkg.in/check.v1"

	"github.com/snapcore/bootseal/internal/tpm2test"
	"github.com/snapcore/bootseal/measure"
	. "github.com/snapcore/bootseal/policy"
	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

type engineSuite struct {
	tpm2test.TPMTest
	vars   *measure.Vars
	engine *Engine
	log    *logtest.Hook
}

var _ = Suite(&engineSuite{})

var scenarioID = []byte{0x02, 0x00, 0xf0, 0x00}

func (s *engineSuite) SetUpTest(c *C) {
	s.TPMTest.SetUpTest(c)

	s.vars = new(measure.Vars)
	s.vars.Set("LINUX_SCENARIO_ID", scenarioID)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s.log = hook

	s.engine = NewEngine(s.TPM, &measure.Measurer{
		Vars: s.vars,
		FS: fstest.MapFS{
			"boot/cmdline": &fstest.MapFile{Data: []byte("console=ttyS0")},
			"boot/initrd":  &fstest.MapFile{Data: []byte("initrd contents")},
		},
		Extender: measure.TPMExtender{TPM: s.TPM},
	})
	s.engine.Logger = logger
}

func (s *engineSuite) parse(c *C, data string) *Policy {
	policy, err := Parse(strings.NewReader(data), "policy.conf", nil)
	c.Assert(err, IsNil)
	return policy
}

func extendSHA256(old []byte, data ...[]byte) []byte {
	if old == nil {
		old = make([]byte, sha256.Size)
	}
	for _, d := range data {
		digest := sha256.Sum256(d)
		h := sha256.New()
		h.Write(old)
		h.Write(digest[:])
		old = h.Sum(nil)
	}
	return old
}

func (s *engineSuite) TestEvaluatePredictive(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n/boot/cmdline : BINARY : 12\n- : PCR : 0\n")

	bank, err := s.engine.Evaluate(context.Background(), policy, true)
	c.Assert(err, IsNil)
	c.Check(bank.Mask(), Equals, policy.Mask)
	c.Check(bank.Extended(), Equals, sealing.PCRMask(1<<11|1<<12))

	v := bank.SHA256(11)
	c.Check(v[:], DeepEquals, extendSHA256(nil, scenarioID))
	v = bank.SHA256(12)
	c.Check(v[:], DeepEquals, extendSHA256(nil, []byte("console=ttyS0")))

	v1 := bank.SHA1(11)
	d1 := sha1.Sum(scenarioID)
	expected1 := sha1.Sum(append(make([]byte, sha1.Size), d1[:]...))
	c.Check(v1[:], DeepEquals, expected1[:])

	// The TPM is untouched.
	c.Check(s.readPCR(c, 11), DeepEquals, tpm2.Digest(make([]byte, 32)))
}

func (s *engineSuite) TestEvaluateLogsEntries(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")
	_, err := s.engine.Evaluate(context.Background(), policy, true)
	c.Assert(err, IsNil)

	entry := s.log.LastEntry()
	c.Assert(entry, NotNil)
	c.Check(entry.Level, Equals, logrus.DebugLevel)
	c.Check(entry.Data["file"], Equals, "policy.conf")
	c.Check(entry.Data["line"], Equals, 1)
	c.Check(entry.Data["pcr"], Equals, 11)
}

func (s *engineSuite) TestEvaluateSamePCRInFileOrder(c *C) {
	policy1 := s.parse(c, "/boot/cmdline : BINARY : 9\n/boot/initrd : BINARY : 9\n")
	policy2 := s.parse(c, "/boot/initrd : BINARY : 9\n/boot/cmdline : BINARY : 9\n")

	bank1, err := s.engine.Evaluate(context.Background(), policy1, true)
	c.Assert(err, IsNil)
	bank2, err := s.engine.Evaluate(context.Background(), policy2, true)
	c.Assert(err, IsNil)

	v1 := bank1.SHA256(9)
	v2 := bank2.SHA256(9)
	c.Check(v1[:], DeepEquals, extendSHA256(nil, []byte("console=ttyS0"), []byte("initrd contents")))
	c.Check(v2[:], DeepEquals, extendSHA256(nil, []byte("initrd contents"), []byte("console=ttyS0")))
	c.Check(v1, Not(Equals), v2)
}

func (s *engineSuite) policyDigest(c *C, policy *Policy) tpm2.Digest {
	values, err := s.engine.PCRValues(context.Background(), policy)
	c.Assert(err, IsNil)
	digest, err := sealing.ComputePolicyDigest(&sealing.PolicyParams{
		Alg:       tpm2.HashAlgorithmSHA256,
		PCRMask:   policy.Mask,
		PCRValues: values,
	})
	c.Assert(err, IsNil)
	return digest
}

func (s *engineSuite) TestPolicyDigestIndependentOfEntryOrderAcrossPCRs(c *C) {
	policy1 := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n/boot/cmdline : BINARY : 12\n/boot/initrd : BINARY : 9\n")
	policy2 := s.parse(c, "/boot/initrd : BINARY : 9\n/boot/cmdline : BINARY : 12\nLINUX_SCENARIO_ID : BINARY : 11\n")
	c.Check(s.policyDigest(c, policy1), DeepEquals, s.policyDigest(c, policy2))
}

func (s *engineSuite) TestPolicyDigestDependsOnOrderWithinPCR(c *C) {
	policy1 := s.parse(c, "/boot/cmdline : BINARY : 9\n/boot/initrd : BINARY : 9\n")
	policy2 := s.parse(c, "/boot/initrd : BINARY : 9\n/boot/cmdline : BINARY : 9\n")
	c.Check(s.policyDigest(c, policy1), Not(DeepEquals), s.policyDigest(c, policy2))
}

func (s *engineSuite) TestEvaluateDirect(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n/boot/cmdline : BINARY : 11\n")

	bank, err := s.engine.Evaluate(context.Background(), policy, false)
	c.Assert(err, IsNil)

	v := bank.SHA256(11)
	c.Check(s.readPCR(c, 11), DeepEquals, tpm2.Digest(v[:]))
}

func (s *engineSuite) TestEvaluateError(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n/boot/missing : BINARY : 12\n")

	_, err := s.engine.Evaluate(context.Background(), policy, true)
	c.Check(err, ErrorMatches, `cannot evaluate entry at policy.conf:2: cannot load /boot/missing: cannot read file: .*file does not exist`)
}

func (s *engineSuite) readPCR(c *C, pcr int) tpm2.Digest {
	v, err := sealing.ReadPCR(s.TPM, tpm2.HashAlgorithmSHA256, pcr)
	c.Assert(err, IsNil)
	return v
}

func (s *engineSuite) measureBoot(c *C, policy *Policy) {
	_, err := s.engine.Evaluate(context.Background(), policy, false)
	c.Assert(err, IsNil)
}

func (s *engineSuite) TestSealUnseal(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n/boot/cmdline : BINARY : 12\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)
	c.Check(blob.PCRSelection.Equal(policy.Mask.Selection(tpm2.HashAlgorithmSHA256)), Equals, true)

	s.measureBoot(c, policy)

	data, err := s.engine.Unseal(context.Background(), policy, blob)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}

func (s *engineSuite) TestUnsealBeforeMeasuring(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)

	_, err = s.engine.Unseal(context.Background(), policy, blob)
	c.Check(err, ErrorMatches, `cannot unseal data: cannot unseal object: TPM returned an error whilst executing command TPM2_Unseal: TPM_RC_POLICY_FAIL \[session 1\] \(a policy check failed\)`)
	c.Check(sealing.IsPolicyFailError(err), Equals, true)
}

func (s *engineSuite) TestUnsealWithDifferentScenario(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)

	s.vars.Set("LINUX_SCENARIO_ID", []byte{0x03, 0x00, 0xf0, 0x00})
	s.measureBoot(c, policy)

	_, err = s.engine.Unseal(context.Background(), policy, blob)
	c.Check(sealing.IsPolicyFailError(err), Equals, true)
}

func (s *engineSuite) TestSealWithMarkerPCR(c *C) {
	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 0, "firmware"), IsNil)
	policy := s.parse(c, "- : PCR : 0\nLINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)

	s.measureBoot(c, policy)

	data, err := s.engine.Unseal(context.Background(), policy, blob)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))
}

func (s *engineSuite) TestUnsealWithChangedMarkerPCR(c *C) {
	policy := s.parse(c, "- : PCR : 0\nLINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)

	c.Assert(tpm2test.ExtendPCRWithEvents(s.TPM, 0, "firmware"), IsNil)
	s.measureBoot(c, policy)

	_, err = s.engine.Unseal(context.Background(), policy, blob)
	c.Check(sealing.IsPolicyFailError(err), Equals, true)
}

func (s *engineSuite) TestSealNoPCRs(c *C) {
	_, err := s.engine.Seal(context.Background(), &Policy{}, []byte("secret"))
	c.Check(err, ErrorMatches, `policy does not select any PCRs`)
}

func (s *engineSuite) TestSealTooLarge(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")
	_, err := s.engine.Seal(context.Background(), policy, make([]byte, 129))
	c.Check(err, ErrorMatches, `cannot seal data: data is too large to seal`)
}

func (s *engineSuite) TestSealMeasureError(c *C) {
	policy := s.parse(c, "/boot/missing : BINARY : 11\n")
	_, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Check(err, ErrorMatches, `cannot compute PCR values: cannot evaluate entry at policy.conf:1: .*`)
}

func (s *engineSuite) TestUnsealAndCap(c *C) {
	s.engine.CapPCR = 11
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)
	s.measureBoot(c, policy)

	data, err := s.engine.Unseal(context.Background(), policy, blob)
	c.Check(err, IsNil)
	c.Check(data, DeepEquals, []byte("secret"))

	capped := extendSHA256(extendSHA256(nil, scenarioID), make([]byte, 20))
	c.Check(s.readPCR(c, 11), DeepEquals, tpm2.Digest(capped))

	_, err = s.engine.Unseal(context.Background(), policy, blob)
	c.Check(sealing.IsPolicyFailError(err), Equals, true)
}

func (s *engineSuite) TestUnsealAndCapAfterFailure(c *C) {
	s.engine.CapPCR = 12
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)

	_, err = s.engine.Unseal(context.Background(), policy, blob)
	c.Check(sealing.IsPolicyFailError(err), Equals, true)
	c.Check(s.readPCR(c, 12), DeepEquals, tpm2.Digest(extendSHA256(nil, make([]byte, 20))))
}

func (s *engineSuite) TestUnsealMaskMismatch(c *C) {
	s.engine.CapPCR = 12
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)

	other := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n/boot/cmdline : BINARY : 9\n")
	_, err = s.engine.Unseal(context.Background(), other, blob)
	c.Check(err, ErrorMatches, `cannot unseal data: policy selects PCRs \[9 11\] but the blob was sealed to PCRs \[11\]`)
	c.Check(s.readPCR(c, 12), DeepEquals, tpm2.Digest(extendSHA256(nil, make([]byte, 20))))
}

func (s *engineSuite) TestUnsealInvalidBlob(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")
	_, err := s.engine.Unseal(context.Background(), policy, &sealing.SealedBlob{})
	c.Check(err, ErrorMatches, `cannot unseal data: invalid sealed blob: no public area`)
}

func (s *engineSuite) TestSealBlobRoundTrip(c *C) {
	policy := s.parse(c, "LINUX_SCENARIO_ID : BINARY : 11\n")

	blob, err := s.engine.Seal(context.Background(), policy, []byte("secret"))
	c.Assert(err, IsNil)
	data, err := blob.Marshal()
	c.Assert(err, IsNil)

	blob, err = sealing.UnmarshalSealedBlob(data)
	c.Assert(err, IsNil)
	s.measureBoot(c, policy)

	secret, err := s.engine.Unseal(context.Background(), policy, blob)
	c.Check(err, IsNil)
	c.Check(secret, DeepEquals, []byte("secret"))
}
