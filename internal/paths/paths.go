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

package paths

import "path/filepath"

var (
	// RootDir is the root directory that every other path is relative
	// to. It is only changed by tests.
	RootDir = "/"

	DevDir   string
	SysfsDir string

	// TPMRMDevice is the in-kernel resource managed TPM character
	// device.
	TPMRMDevice string

	// TPMDevice is the direct TPM character device.
	TPMDevice string

	// TPMClassDir contains the sysfs entries of the TPM devices.
	TPMClassDir string

	// ConfigFile is the default location of the bootseal configuration.
	ConfigFile string

	// SwtpmSocket is the default location of a swtpm control socket when
	// running against a simulated TPM.
	SwtpmSocket string
)

// SetRootDir rebases all of the paths in this package on the supplied
// directory.
func SetRootDir(root string) {
	if root == "" {
		root = "/"
	}
	RootDir = root
	DevDir = filepath.Join(root, "dev")
	SysfsDir = filepath.Join(root, "sys")
	TPMRMDevice = filepath.Join(DevDir, "tpmrm0")
	TPMDevice = filepath.Join(DevDir, "tpm0")
	TPMClassDir = filepath.Join(SysfsDir, "class/tpm")
	ConfigFile = filepath.Join(root, "etc/bootseal/config.yaml")
	SwtpmSocket = filepath.Join(root, "run/bootseal/swtpm-sock")
}

func init() {
	SetRootDir("/")
}
