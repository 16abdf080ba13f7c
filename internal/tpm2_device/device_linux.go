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

package tpm2_device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/paths"
)

var (
	linuxtpmOpen = linuxtpm.Open
	unixStat     = unix.Stat
)

func isCharDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unixStat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR, nil
}

// isTPM2 determines whether tpm0 is a TPM2 device. Kernels that don't
// expose the major version only create a resource managed device for
// TPM2 devices.
func isTPM2() (bool, error) {
	version, err := os.ReadFile(filepath.Join(paths.TPMClassDir, "tpm0", "tpm_version_major"))
	switch {
	case os.IsNotExist(err):
		return isCharDevice(paths.TPMRMDevice)
	case err != nil:
		return false, xerrors.Errorf("cannot determine TPM version: %w", err)
	}
	return string(bytes.TrimSpace(version)) == "2", nil
}

func newTpmDeviceDirect() TPMDevice {
	return &tpmDevice{
		path: paths.TPMDevice,
		mode: DeviceModeDirect,
		open: func(path string) (transport.TPMCloser, error) {
			return linuxtpmOpen(path)
		}}
}

func newTpmDeviceRM() TPMDevice {
	return &tpmDevice{
		path: paths.TPMRMDevice,
		mode: DeviceModeResourceManaged,
		open: func(path string) (transport.TPMCloser, error) {
			return linuxtpmOpen(path)
		}}
}

// NewLinuxDevice returns a device for the TPM character device at the
// specified path. Devices named tpmrm* are resource managed.
func NewLinuxDevice(path string) TPMDevice {
	mode := DeviceModeDirect
	if strings.HasPrefix(filepath.Base(path), "tpmrm") {
		mode = DeviceModeResourceManaged
	}
	return &tpmDevice{
		path: path,
		mode: mode,
		open: func(path string) (transport.TPMCloser, error) {
			return linuxtpmOpen(path)
		}}
}

func init() {
	DefaultDevice = func(mode DeviceMode) (TPMDevice, error) {
		exists, err := isCharDevice(paths.TPMDevice)
		switch {
		case err != nil:
			return nil, err
		case !exists:
			return nil, ErrNoTPM2Device
		}

		isV2, err := isTPM2()
		switch {
		case err != nil:
			return nil, err
		case !isV2:
			// The default device is a TPM1.2 device
			return nil, ErrNoTPM2Device
		}

		if mode == DeviceModeDirect {
			return newTpmDeviceDirect(), nil
		}

		exists, err = isCharDevice(paths.TPMRMDevice)
		switch {
		case err != nil:
			return nil, err
		case !exists && mode == DeviceModeTryResourceManaged:
			// No in-kernel resource manager, but the mode allows us to return the direct device
			return newTpmDeviceDirect(), nil
		case !exists:
			return nil, ErrNoResourceManagedTPM2Device
		}

		return newTpmDeviceRM(), nil
	}
}
