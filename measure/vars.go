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
	"strings"

	efi "github.com/canonical/go-efilib"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/sealing"
)

// Vars is an ordered table of artifacts keyed by locator. It is consulted
// before the EFI variable store and the filesystem, which makes it
// possible to compute measurements for artifacts that have not been
// installed yet. The zero value is an empty table.
type Vars struct {
	names  []string
	values map[string][]byte
}

// Set adds or replaces the data for the specified locator. A new locator
// is appended to the end of the table.
func (v *Vars) Set(locator string, data []byte) {
	if v.values == nil {
		v.values = make(map[string][]byte)
	}
	if _, exists := v.values[locator]; !exists {
		v.names = append(v.names, locator)
	}
	v.values[locator] = data
}

// Get returns the data for the specified locator.
func (v *Vars) Get(locator string) (data []byte, ok bool) {
	if v == nil {
		return nil, false
	}
	data, ok = v.values[locator]
	return data, ok
}

// Names returns the locators in the order that they were added.
func (v *Vars) Names() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.names...)
}

// Len returns the number of entries.
func (v *Vars) Len() int {
	if v == nil {
		return 0
	}
	return len(v.names)
}

// VarReader provides access to EFI variables.
type VarReader interface {
	ReadVar(ctx context.Context, name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error)
}

type efiVarReader struct{}

func (efiVarReader) ReadVar(ctx context.Context, name string, guid efi.GUID) ([]byte, efi.VariableAttributes, error) {
	return efi.ReadVariable(ctx, name, guid)
}

// DefaultVarReader reads variables with go-efilib, using the variable
// backend from the context passed to ReadVar. Use
// efi.WithDefaultVarsBackend to obtain a context for the running system.
var DefaultVarReader VarReader = efiVarReader{}

const guidHexLen = 32

// FormatVarName returns the interchange name for a variable, which is
// the GUID as 32 uppercase hex digits without separators, followed by a
// dash and the variable name.
func FormatVarName(guid efi.GUID, name string) string {
	return strings.ToUpper(strings.Replace(guid.String(), "-", "", -1)) + "-" + name
}

// ParseVarName decodes an interchange name produced by FormatVarName.
// Hex digits may be in either case.
func ParseVarName(s string) (guid efi.GUID, name string, err error) {
	if len(s) < guidHexLen+2 || s[guidHexLen] != '-' {
		return efi.GUID{}, "", xerrors.Errorf("invalid variable name %q: expected <GUID>-<name>", s)
	}
	if _, err := sealing.HexToBinary(s[:guidHexLen]); err != nil {
		return efi.GUID{}, "", xerrors.Errorf("invalid variable name %q: %w", s, err)
	}

	g := s[:guidHexLen]
	guid, err = efi.DecodeGUIDString(g[0:8] + "-" + g[8:12] + "-" + g[12:16] + "-" + g[16:20] + "-" + g[20:32])
	if err != nil {
		return efi.GUID{}, "", xerrors.Errorf("invalid variable name %q: %w", s, err)
	}
	return guid, s[guidHexLen+1:], nil
}
