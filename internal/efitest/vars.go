// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2021 Canonical Ltd
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

package efitest

import (
	"bytes"
	"context"
	_ "crypto/sha256"
	"errors"
	"io"

	efi "github.com/canonical/go-efilib"

	. "gopkg.in/check.v1"
)

// VarEntry describes the contents of a mock EFI variable.
type VarEntry struct {
	Attrs   efi.VariableAttributes
	Payload []byte
}

type VarPayloadWriter interface {
	Write(w io.Writer) error
}

// MakeVarPayload returns a byte slice from the supplied VarPayloadWriter.
func MakeVarPayload(c *C, w VarPayloadWriter) []byte {
	buf := new(bytes.Buffer)
	c.Assert(w.Write(buf), IsNil)
	return buf.Bytes()
}

// MockVars is a collection of mock EFI variables.
type MockVars map[efi.VariableDescriptor]*VarEntry

// MakeMockVars creates a new MockVars.
func MakeMockVars() MockVars {
	return make(MockVars)
}

// Get implements [efi.VarsBackend.Get].
func (v MockVars) Get(name string, guid efi.GUID) (efi.VariableAttributes, []byte, error) {
	entry, found := v[efi.VariableDescriptor{Name: name, GUID: guid}]
	if !found {
		return 0, nil, efi.ErrVarNotExist
	}
	return entry.Attrs, entry.Payload, nil
}

// Set implements [efi.VarsBackend.Set].
func (v MockVars) Set(name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) error {
	return errors.New("not implemented")
}

// List implements [efi.VarsBackend.List].
func (v MockVars) List() ([]efi.VariableDescriptor, error) {
	return nil, errors.New("not implemented")
}

// VarContext returns a copy of parent that directs go-efilib variable
// accesses to these mock variables.
func (v MockVars) VarContext(parent context.Context) context.Context {
	return context.WithValue(parent, efi.VarsBackendKey{}, v)
}

// AddVar adds the specified mock variable. If the attributes indicate that the variable is authenticated,
// the data should not include the authentication header.
func (v MockVars) AddVar(name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) MockVars {
	v[efi.VariableDescriptor{Name: name, GUID: guid}] = &VarEntry{Attrs: attrs, Payload: data}
	return v
}

// AppendVar appends data to the specified mock variable. If the attributes indicate that the variable is
// authenticated, the data should not include the authentication header.
func (v MockVars) AppendVar(name string, guid efi.GUID, attrs efi.VariableAttributes, data []byte) MockVars {
	desc := efi.VariableDescriptor{Name: name, GUID: guid}
	entry, exists := v[desc]
	if !exists {
		entry = &VarEntry{Attrs: attrs}
		v[desc] = entry
	}
	entry.Payload = append(entry.Payload, data...)
	return v
}

// SetDb sets the db image authentication variable.
func (v MockVars) SetDb(c *C, db efi.SignatureDatabase) MockVars {
	return v.AddVar("db", efi.ImageSecurityDatabaseGuid, efi.AttributeNonVolatile|efi.AttributeBootserviceAccess|efi.AttributeRuntimeAccess|efi.AttributeTimeBasedAuthenticatedWriteAccess, MakeVarPayload(c, db))
}

// AppendDb appends to the db image authentication variable. Note that this just appends
// bytes - it does no de-duplication of signatures.
func (v MockVars) AppendDb(c *C, db efi.SignatureDatabase) MockVars {
	return v.AppendVar("db", efi.ImageSecurityDatabaseGuid, efi.AttributeNonVolatile|efi.AttributeBootserviceAccess|efi.AttributeRuntimeAccess|efi.AttributeTimeBasedAuthenticatedWriteAccess, MakeVarPayload(c, db))
}

// SetDbx sets the dbx image authentication variable.
func (v MockVars) SetDbx(c *C, dbx efi.SignatureDatabase) MockVars {
	return v.AddVar("dbx", efi.ImageSecurityDatabaseGuid, efi.AttributeNonVolatile|efi.AttributeBootserviceAccess|efi.AttributeRuntimeAccess|efi.AttributeTimeBasedAuthenticatedWriteAccess, MakeVarPayload(c, dbx))
}

// AppendDbx appends to the dbx image authentication variable. Note that this just appends
// bytes - it does no de-duplication of signatures.
func (v MockVars) AppendDbx(c *C, dbx efi.SignatureDatabase) MockVars {
	return v.AppendVar("dbx", efi.ImageSecurityDatabaseGuid, efi.AttributeNonVolatile|efi.AttributeBootserviceAccess|efi.AttributeRuntimeAccess|efi.AttributeTimeBasedAuthenticatedWriteAccess, MakeVarPayload(c, dbx))
}
