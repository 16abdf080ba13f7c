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
	"flag"

	"github.com/snapcore/snapd/testutil"
	. "gopkg.in/check.v1"

	"github.com/snapcore/bootseal/tpm2"
)

var (
	useSimulator bool

	// openSimulator is set when the simulator transport is built in.
	openSimulator func() (tpm2.Transport, error)
)

func init() {
	flag.BoolVar(&useSimulator, "use-simulator", false, "Run TPM tests against the reference TPM simulator")
}

// TPMTest is a base test suite for tests that require a TPM. By default
// it uses an in-process Device. If the -use-simulator flag is supplied,
// the reference TPM simulator is used instead.
//
// Transient objects and sessions that are left loaded at the end of a
// test are flushed and cause the test to fail.
type TPMTest struct {
	testutil.BaseTest

	// Device is the in-process TPM, or nil if the test is running
	// against the simulator.
	Device *Device

	TPM *tpm2.TPMContext
}

func (b *TPMTest) openTransport(c *C) tpm2.Transport {
	if useSimulator {
		if openSimulator == nil {
			c.Skip("the TPM simulator is not available in this build")
		}
		transport, err := openSimulator()
		c.Assert(err, IsNil)
		return transport
	}
	b.Device = NewDevice()
	return b.Device
}

func (b *TPMTest) SetUpTest(c *C) {
	b.BaseTest.SetUpTest(c)

	b.TPM = tpm2.NewTPMContext(b.openTransport(c))

	start := b.flushableHandles(c)
	b.AddCleanup(func() {
		for _, h := range b.flushableHandles(c) {
			found := false
			for _, sh := range start {
				if sh == h {
					found = true
					break
				}
			}
			if found {
				continue
			}
			c.Errorf("handle %#08x was leaked by the test", uint32(h))
			c.Check(b.TPM.FlushContext(h), IsNil)
		}
	})
}

func (b *TPMTest) TearDownTest(c *C) {
	// testutil.BaseTest doesn't execute cleanup handlers in reverse order,
	// so the connection isn't closed from a cleanup handler.
	b.BaseTest.TearDownTest(c)
	c.Check(b.TPM.Close(), IsNil)
	b.TPM = nil
	b.Device = nil
}

func (b *TPMTest) flushableHandles(c *C) (out []tpm2.Handle) {
	for _, t := range []tpm2.HandleType{tpm2.HandleTypeTransient, tpm2.HandleTypeHMACSession, tpm2.HandleTypePolicySession} {
		h, err := b.TPM.GetCapabilityHandles(t.BaseHandle(), tpm2.CapabilityMaxProperties)
		c.Assert(err, IsNil)
		out = append(out, h...)
	}
	return out
}

// RequireDevice skips the test if it isn't running against the in-process
// Device.
func (b *TPMTest) RequireDevice(c *C) {
	if b.Device == nil {
		c.Skip("test requires the in-process TPM")
	}
}

// CommandCount returns the number of times the specified command has been
// submitted to the Device.
func (b *TPMTest) CommandCount(c *C, code tpm2.CommandCode) (n int) {
	b.RequireDevice(c)
	for _, cmd := range b.Device.Commands() {
		if cmd == code {
			n++
		}
	}
	return n
}
