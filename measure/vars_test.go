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


package measure_test

import (
	efi "github.com/canonical/go-efilib"
	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/measure"
)

type varsSuite struct{}

var _ = Suite(&varsSuite{})

func (s *varsSuite) TestVars(c *C) {
	var vars Vars
	c.Check(vars.Len(), Equals, 0)

	vars.Set("foo", []byte{1})
	vars.Set("bar", []byte{2})
	vars.Set("foo", []byte{3})

	c.Check(vars.Len(), Equals, 2)
	c.Check(vars.Names(), DeepEquals, []string{"foo", "bar"})

	data, ok := vars.Get("foo")
	c.Check(ok, Equals, true)
	c.Check(data, DeepEquals, []byte{3})

	_, ok = vars.Get("baz")
	c.Check(ok, Equals, false)
}

func (s *varsSuite) TestNilVars(c *C) {
	var vars *Vars
	_, ok := vars.Get("foo")
	c.Check(ok, Equals, false)
	c.Check(vars.Names(), IsNil)
	c.Check(vars.Len(), Equals, 0)
}

func (s *varsSuite) TestFormatVarName(c *C) {
	c.Check(FormatVarName(efi.GlobalVariable, "SecureBoot"), Equals, "8BE4DF6193CA11D2AA0D00E098032B8C-SecureBoot")
	c.Check(FormatVarName(efi.ImageSecurityDatabaseGuid, "dbx"), Equals, "D719B2CB3D3A4596A3BCDAD00E67656F-dbx")
}

func (s *varsSuite) TestParseVarName(c *C) {
	guid, name, err := ParseVarName("8BE4DF6193CA11D2AA0D00E098032B8C-SecureBoot")
	c.Check(err, IsNil)
	c.Check(guid, Equals, efi.GlobalVariable)
	c.Check(name, Equals, "SecureBoot")
}

func (s *varsSuite) TestParseVarNameLowercase(c *C) {
	guid, name, err := ParseVarName("d719b2cb3d3a4596a3bcdad00e67656f-dbx")
	c.Check(err, IsNil)
	c.Check(guid, Equals, efi.ImageSecurityDatabaseGuid)
	c.Check(name, Equals, "dbx")
}

func (s *varsSuite) TestParseVarNameWithDash(c *C) {
	guid, name, err := ParseVarName("8BE4DF6193CA11D2AA0D00E098032B8C-Foo-Bar")
	c.Check(err, IsNil)
	c.Check(guid, Equals, efi.GlobalVariable)
	c.Check(name, Equals, "Foo-Bar")
}

func (s *varsSuite) TestParseVarNameRoundTrip(c *C) {
	guid := efi.MakeGUID(0x605dab50, 0xe046, 0x4300, 0xabb6, [...]uint8{0x3d, 0xd8, 0x10, 0xdd, 0x8b, 0x23})
	g, name, err := ParseVarName(FormatVarName(guid, "MokListRT"))
	c.Check(err, IsNil)
	c.Check(g, Equals, guid)
	c.Check(name, Equals, "MokListRT")
}

func (s *varsSuite) TestParseVarNameInvalid(c *C) {
	for _, t := range []struct {
		name string
		err  string
	}{
		{"SecureBoot", `invalid variable name "SecureBoot": expected <GUID>-<name>`},
		{"8BE4DF6193CA11D2AA0D00E098032B8C-", `invalid variable name "8BE4DF6193CA11D2AA0D00E098032B8C-": expected <GUID>-<name>`},
		{"8BE4DF6193CA11D2AA0D00E098032B8CXSecureBoot", `invalid variable name ".*": expected <GUID>-<name>`},
		{"8BE4DF6193CA11D2AA0D00E098032B8G-SecureBoot", `invalid variable name ".*": invalid hex string: invalid character 'G' at offset 31`},
	} {
		_, _, err := ParseVarName(t.name)
		c.Check(err, ErrorMatches, t.err, Commentf(t.name))
	}
}
