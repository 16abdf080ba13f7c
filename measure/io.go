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
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/snapcore/snapd/osutil"
	"github.com/snapcore/snapd/osutil/sys"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/sealing"
	"github.com/snapcore/bootseal/tpm2"
)

// Extender extends a real PCR with one digest per bank.
type Extender interface {
	ExtendPCR(pcr int, digests tpm2.TaggedHashList) error
}

// TPMExtender extends PCRs on a TPM.
type TPMExtender struct {
	TPM *tpm2.TPMContext
}

func (e TPMExtender) ExtendPCR(pcr int, digests tpm2.TaggedHashList) error {
	return sealing.ExtendPCR(e.TPM, pcr, digests)
}

// FilePutter writes whole files.
type FilePutter interface {
	PutFile(name string, data []byte, perm os.FileMode) error
}

// AtomicFilePutter writes files atomically on the host filesystem, so
// that a reader never observes a partially written file.
type AtomicFilePutter struct{}

func (AtomicFilePutter) PutFile(name string, data []byte, perm os.FileMode) error {
	f, err := osutil.NewAtomicFile(name, perm, 0, sys.UserID(osutil.NoChown), sys.GroupID(osutil.NoChown))
	if err != nil {
		return xerrors.Errorf("cannot create new atomic file: %w", err)
	}
	defer f.Cancel()

	if _, err := f.Write(data); err != nil {
		return xerrors.Errorf("cannot write to temporary file: %w", err)
	}
	if err := f.Commit(); err != nil {
		return xerrors.Errorf("cannot atomically replace file: %w", err)
	}
	return nil
}

// fsPath converts a locator into a path for an fs.FS. Absolute locators
// are interpreted relative to the root of the filesystem.
func fsPath(locator string) (string, error) {
	p := path.Clean(strings.TrimLeft(locator, "/"))
	if p == "." || !fs.ValidPath(p) {
		return "", xerrors.Errorf("invalid path %q", locator)
	}
	return p, nil
}

func loadFile(fsys fs.FS, locator string) ([]byte, error) {
	if fsys == nil {
		return nil, xerrors.New("no filesystem")
	}
	p, err := fsPath(locator)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(fsys, p)
}
