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
	"github.com/snapcore/bootseal/internal/mu"
)

// FlushContext executes the TPM2_FlushContext command to evict a transient
// object or session from the TPM. The handle is a command parameter rather
// than a handle, so it is not authorized.
func (t *TPMContext) FlushContext(handle Handle) error {
	return t.startCommand(CommandFlushContext).
		addParams(func(b *mu.Buffer) {
			b.WriteUint32(uint32(handle))
		}).
		run(nil, nil)
}

// FlushContextOrLog is a helper for deferred cleanup paths. It flushes the
// supplied handle and passes any error to logf.
func (t *TPMContext) FlushContextOrLog(handle Handle, logf func(format string, args ...interface{})) {
	if handle == HandleNull {
		return
	}
	if err := t.FlushContext(handle); err != nil && logf != nil {
		logf("cannot flush handle %#08x: %v", uint32(handle), err)
	}
}
