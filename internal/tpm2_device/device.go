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
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxudstpm"

	"github.com/snapcore/bootseal/tpm2"
)

// DeviceMode describes the mode to select the default device.
type DeviceMode int

const (
	// DeviceModeDirect requests the most direct TPM2 device, without
	// the use of a resource manager. These devices cannot be opened more
	// than once and don't permit the TPM to be shared.
	DeviceModeDirect DeviceMode = iota

	// DeviceModeResourceManaged requests a resource managed TPM2 device.
	// These devices can be opened more than once and shared, relying on
	// the resource manager to handle context switching between users
	// (although they can't be shared with a direct device).
	DeviceModeResourceManaged

	// DeviceModeTryResourceManaged is like DeviceModeResourceManaged except
	// it will return a direct device if a resource managed device is not
	// available. Some older linux kernels do not support an in-kernel resource
	// manager.
	DeviceModeTryResourceManaged
)

func (m DeviceMode) String() string {
	switch m {
	case DeviceModeDirect:
		return "direct"
	case DeviceModeResourceManaged:
		return "resource-managed"
	case DeviceModeTryResourceManaged:
		return "try-resource-managed"
	default:
		return fmt.Sprintf("DeviceMode(%d)", int(m))
	}
}

var (
	// ErrNoTPM2Device indicates that no TPM2 device is available.
	ErrNoTPM2Device = errors.New("no TPM2 device is available")

	// ErrNoResourceManagedTPM2Device indicates that there is no resource
	// managed TPM2 device option available.
	ErrNoResourceManagedTPM2Device = errors.New("no resource managed TPM2 device available")
)

var linuxudstpmOpen = linuxudstpm.Open

// TPMDevice is a TPM that can be opened to obtain a new
// [tpm2.TPMContext].
type TPMDevice interface {
	Open() (*tpm2.TPMContext, error)
	Mode() DeviceMode // either DeviceModeDirect or DeviceModeResourceManaged
	String() string
}

type tpmDevice struct {
	path string
	mode DeviceMode
	open func(string) (transport.TPMCloser, error)
}

func (d *tpmDevice) Open() (*tpm2.TPMContext, error) {
	t, err := d.open(d.path)
	if err != nil {
		return nil, err
	}
	return tpm2.NewTPMContext(t), nil
}

func (d *tpmDevice) Mode() DeviceMode {
	return d.mode
}

func (d *tpmDevice) String() string {
	return d.path
}

// NewSimulatorDevice returns a device for a TPM simulator, such as swtpm,
// that listens on the unix socket at the specified path.
func NewSimulatorDevice(path string) TPMDevice {
	return &tpmDevice{
		path: path,
		mode: DeviceModeDirect,
		open: func(path string) (transport.TPMCloser, error) {
			return linuxudstpmOpen(path)
		}}
}

// DefaultDevice returns the default TPM device. The specified mode controls what kind
// of device to return, if available.
var DefaultDevice = func(DeviceMode) (TPMDevice, error) {
	return nil, ErrNoTPM2Device
}
