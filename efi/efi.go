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


// Package efi implements the Authenticode hashing and verification of
// PE/COFF images and the UEFI signature database (db) and forbidden
// signature database (dbx) checks that decide whether a boot component is
// trusted.
package efi

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSignature is returned when an image has no Authenticode
	// signature.
	ErrNoSignature = errors.New("image is not signed")

	// ErrDigestMismatch is returned when the digest embedded in an
	// image's signature does not match the digest of the image.
	ErrDigestMismatch = errors.New("signed digest does not match the image digest")
)

// FormatError is returned when a PE image is malformed.
type FormatError struct {
	msg string
}

func (e *FormatError) Error() string {
	return "invalid PE image: " + e.msg
}

func formatErrorf(format string, args ...interface{}) error {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// CertificateError is returned when an image's signature cannot be
// decoded or is not trusted.
type CertificateError struct {
	msg string
	err error
}

func (e *CertificateError) Error() string {
	if e.err == nil {
		return "invalid signature: " + e.msg
	}
	return "invalid signature: " + e.msg + ": " + e.err.Error()
}

func (e *CertificateError) Unwrap() error {
	return e.err
}

func certificateErrorf(err error, format string, args ...interface{}) error {
	return &CertificateError{msg: fmt.Sprintf(format, args...), err: err}
}
