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
	"fmt"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
)

// commandBuilder assembles a single command. Handles, authorizations and
// parameters are framed when run is called.
type commandBuilder struct {
	tpm     *TPMContext
	code    CommandCode
	handles []Handle
	auths   []*AuthCommand
	params  []func(*mu.Buffer)
}

func (t *TPMContext) startCommand(code CommandCode) *commandBuilder {
	return &commandBuilder{tpm: t, code: code}
}

func (c *commandBuilder) addHandles(handles ...Handle) *commandBuilder {
	c.handles = append(c.handles, handles...)
	return c
}

// addAuths adds authorizations to the command. Any authorization turns
// the command into a TPM_ST_SESSIONS command.
func (c *commandBuilder) addAuths(auths ...*AuthCommand) *commandBuilder {
	for _, a := range auths {
		if a != nil {
			c.auths = append(c.auths, a)
		}
	}
	return c
}

func (c *commandBuilder) addParams(fns ...func(*mu.Buffer)) *commandBuilder {
	c.params = append(c.params, fns...)
	return c
}

func (c *commandBuilder) tag() StructTag {
	if len(c.auths) > 0 {
		return TagSessions
	}
	return TagNoSessions
}

func (c *commandBuilder) marshal() ([]byte, error) {
	b := mu.NewBuffer(MaxCommandSize)

	b.WriteUint16(uint16(c.tag()))
	size := b.DeferUint32()
	b.WriteUint32(uint32(c.code))

	for _, h := range c.handles {
		b.WriteUint32(uint32(h))
	}

	if len(c.auths) > 0 {
		scope := b.BeginSized32()
		for _, a := range c.auths {
			a.marshal(b)
		}
		scope.End()
	}

	for _, fn := range c.params {
		fn(b)
	}

	size.Set(uint32(b.Written()))
	if b.Err() != nil {
		return nil, b.Err()
	}
	return b.Bytes(), nil
}

func (c *commandBuilder) invalidResponse(format string, args ...interface{}) error {
	return &InvalidResponseError{Command: c.code, msg: fmt.Sprintf(format, args...)}
}

// run submits the command and decodes the response. If rspHandle is not
// nil, the response is expected to contain a handle which is returned
// through it. The response parameters are decoded by rspParams, which must
// consume all of them.
func (c *commandBuilder) run(rspHandle *Handle, rspParams func(*mu.Buffer)) error {
	cmd, err := c.marshal()
	if err != nil {
		return xerrors.Errorf("cannot marshal command %s: %w", c.code, err)
	}

	rsp, err := c.tpm.send(cmd)
	if err != nil {
		return &TransportError{Command: c.code, err: err}
	}

	b := mu.NewBufferFrom(rsp)
	tag := StructTag(b.ReadUint16())
	size := b.ReadUint32()
	rc := ResponseCode(b.ReadUint32())
	switch {
	case b.Err() != nil:
		return c.invalidResponse("cannot unmarshal header: %v", b.Err())
	case int(size) != len(rsp):
		return c.invalidResponse("size field (%d) does not match the response length (%d)", size, len(rsp))
	case rc != ResponseSuccess:
		return &TPMError{Command: c.code, Code: rc}
	case tag != c.tag():
		return c.invalidResponse("unexpected tag %#04x", uint16(tag))
	}

	if rspHandle != nil {
		*rspHandle = Handle(b.ReadUint32())
	}

	params := b
	if tag == TagSessions {
		n := b.ReadUint32()
		params = b.Sub(int(n))
		for i := range c.auths {
			unmarshalAuthResponse(b)
			if b.Err() != nil {
				return c.invalidResponse("cannot unmarshal response auth %d: %v", i, b.Err())
			}
		}
	}
	if b.Err() != nil {
		return c.invalidResponse("cannot unmarshal response: %v", b.Err())
	}

	if rspParams != nil {
		rspParams(params)
	}
	switch {
	case params.Err() != nil:
		return c.invalidResponse("cannot unmarshal response parameters: %v", params.Err())
	case params.Available() > 0:
		return c.invalidResponse("%d trailing bytes in response parameters", params.Available())
	case tag == TagSessions && b.Available() > 0:
		return c.invalidResponse("%d trailing bytes in response", b.Available())
	}
	return nil
}
