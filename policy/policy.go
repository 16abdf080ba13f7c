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


// Package policy loads measurement policies and uses them to seal and
// unseal secrets.
//
// A policy file lists the artifacts that are measured during boot, one
// per line, in the form:
//
//	PATH : TYPE : PCR
//
// where TYPE is one of EFIVAR, PEIMAGE, BINARY, BINARY32, CAP or PCR and
// PCR is a decimal index between 0 and 15. A # starts a comment. Other
// files can be included with:
//
//	#include "file"
//
// Included paths are relative to the directory of the including file.
// Environment variables in PATH are expanded.
package policy

import (
	"fmt"
	"unicode/utf8"

	"github.com/snapcore/bootseal/measure"
	"github.com/snapcore/bootseal/sealing"
)

// maxErrorMsgLen is the maximum length of a SyntaxError message.
const maxErrorMsgLen = 256

// SyntaxError is returned when a policy file cannot be parsed.
type SyntaxError struct {
	File string
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func newSyntaxError(file string, line int, format string, args ...interface{}) *SyntaxError {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > maxErrorMsgLen {
		n := maxErrorMsgLen
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return &SyntaxError{File: file, Line: line, Msg: msg}
}

// Entry is a single measurement in a policy.
type Entry struct {
	Locator string       // path, variable name or override name
	Kind    measure.Kind // how the artifact is measured
	PCR     int          // the PCR the measurement is extended to

	File string // the file that the entry was read from
	Line int    // the line that the entry was read from
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s : %v : %d", e.Locator, e.Kind, e.PCR)
}

// Policy is an ordered list of measurements.
type Policy struct {
	Entries []Entry

	// Mask is the set of PCRs targeted by the entries.
	Mask sealing.PCRMask
}

func (p *Policy) append(e Entry) {
	p.Entries = append(p.Entries, e)
	p.Mask |= 1 << uint(e.PCR)
}
