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

// Package tpm2 implements the subset of the TPM2 wire protocol needed to
// read and extend PCRs and to seal and unseal data against a PCR policy.
//
// Commands are framed by this package and submitted through a Transport,
// which is responsible only for moving bytes to and from the device. The
// transports in github.com/google/go-tpm/tpm2/transport can be used
// directly.
package tpm2

import (
	"io"
	"sync"
)

// Transport submits a single command packet to a TPM and returns the
// response packet. It is the platform "submit command" primitive.
type Transport interface {
	Send(command []byte) ([]byte, error)
}

// TPMContext is the single owner of a connection to a TPM. All commands
// are serialized through it, because the protocol has no multiplexing.
// It must be created explicitly and passed to every consumer.
type TPMContext struct {
	mu        sync.Mutex
	transport Transport
	closed    bool
}

// NewTPMContext returns a new context that submits commands through the
// supplied transport.
func NewTPMContext(transport Transport) *TPMContext {
	return &TPMContext{transport: transport}
}

// Close closes the underlying transport if it implements io.Closer. Any
// subsequent command returns ErrClosed.
func (t *TPMContext) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	t.closed = true
	if c, ok := t.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (t *TPMContext) send(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	return t.transport.Send(cmd)
}
