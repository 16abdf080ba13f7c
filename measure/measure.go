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


// Package measure computes the PCR measurements of boot artifacts. It
// supports predictive measurement, where the resulting PCR values are
// computed in software without touching the TPM, and direct measurement,
// where the real PCRs are extended as well.
package measure

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind describes how an artifact is measured.
type Kind int

const (
	// EFIVar measures an EFI variable in the UEFI_VARIABLE_DATA form used
	// by the firmware event log.
	EFIVar Kind = iota + 1

	// PEImage measures the Authenticode digest of a PE image.
	PEImage

	// Binary measures the raw contents of a file.
	Binary

	// Binary32 measures the raw contents of a file, zero padded to a
	// multiple of 4 bytes.
	Binary32

	// Cap measures a fixed block of 20 zero bytes rather than the
	// artifact.
	Cap

	// PCR measures nothing. It only includes the PCR in the selection.
	PCR
)

var kindNames = map[Kind]string{
	EFIVar:   "EFIVAR",
	PEImage:  "PEIMAGE",
	Binary:   "BINARY",
	Binary32: "BINARY32",
	Cap:      "CAP",
	PCR:      "PCR",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the Kind with the supplied name. Names are case
// sensitive.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, xerrors.Errorf("unknown measurement type %q", s)
}

// loadsData indicates whether measuring an artifact of this kind requires
// its contents.
func (k Kind) loadsData() bool {
	switch k {
	case Cap, PCR:
		return false
	default:
		return true
	}
}
