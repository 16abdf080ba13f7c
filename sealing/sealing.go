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


// Package sealing provides the operations used to seal boot secrets to
// the state of a TPM's PCRs and to release them again.
//
// It sits on top of the tpm2 package and is responsible for the lifetime
// of every transient object and session that it creates. Nothing is left
// loaded on the TPM when a function in this package returns, regardless
// of whether it succeeded.
package sealing

import (
	"github.com/sirupsen/logrus"

	"github.com/snapcore/bootseal/tpm2"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// SetLogger sets the logger used by this package. It returns a function
// that restores the previous logger.
func SetLogger(l logrus.FieldLogger) (restore func()) {
	orig := logger
	logger = l
	return func() {
		logger = orig
	}
}

// flushContext flushes a handle from a cleanup path. A failure is logged
// because the caller is already returning another result.
func flushContext(tpm *tpm2.TPMContext, handle tpm2.Handle) {
	tpm.FlushContextOrLog(handle, logger.Warnf)
}
