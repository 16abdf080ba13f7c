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

package tpm2_device_test

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/go-tpm/tpm2/transport"
	"golang.org/x/sys/unix"
	. "gopkg.in/check.v1"

	"github.com/snapcore/bootseal/internal/paths"
	. "github.com/snapcore/bootseal/internal/tpm2_device"
)

type deviceLinuxSuite struct {
	devices map[string]uint32
	opened  []string
}

var _ = Suite(&deviceLinuxSuite{})

func (s *deviceLinuxSuite) SetUpTest(c *C) {
	paths.SetRootDir(c.MkDir())
	s.devices = make(map[string]uint32)
	s.opened = nil
}

func (s *deviceLinuxSuite) TearDownTest(c *C) {
	paths.SetRootDir("/")
}

func (s *deviceLinuxSuite) addCharDevice(path string) {
	s.devices[path] = unix.S_IFCHR | 0600
}

func (s *deviceLinuxSuite) setVersion(c *C, version string) {
	dir := filepath.Join(paths.TPMClassDir, "tpm0")
	c.Assert(os.MkdirAll(dir, 0755), IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "tpm_version_major"), []byte(version+"\n"), 0644), IsNil)
}

func (s *deviceLinuxSuite) mock(c *C) (restore func()) {
	restoreStat := MockUnixStat(func(path string, st *unix.Stat_t) error {
		mode, ok := s.devices[path]
		if !ok {
			return unix.ENOENT
		}
		st.Mode = mode
		return nil
	})
	restoreOpen := MockLinuxtpmOpen(func(path string) (transport.TPMCloser, error) {
		s.opened = append(s.opened, path)
		return new(mockTransport), nil
	})
	return func() {
		restoreOpen()
		restoreStat()
	}
}

func (s *deviceLinuxSuite) TestDefaultDeviceNoDevices(c *C) {
	defer s.mock(c)()

	_, err := DefaultDevice(DeviceModeDirect)
	c.Check(err, Equals, ErrNoTPM2Device)
}

func (s *deviceLinuxSuite) TestDefaultDeviceTPM12(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)
	s.setVersion(c, "1")

	_, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Check(err, Equals, ErrNoTPM2Device)
}

func (s *deviceLinuxSuite) TestDefaultDeviceNotCharDevice(c *C) {
	defer s.mock(c)()
	s.devices[paths.TPMDevice] = unix.S_IFREG | 0600
	s.setVersion(c, "2")

	_, err := DefaultDevice(DeviceModeDirect)
	c.Check(err, Equals, ErrNoTPM2Device)
}

func (s *deviceLinuxSuite) TestDefaultDeviceStatError(c *C) {
	restore := MockUnixStat(func(path string, st *unix.Stat_t) error {
		return unix.EACCES
	})
	defer restore()

	_, err := DefaultDevice(DeviceModeDirect)
	c.Check(errors.Is(err, unix.EACCES), Equals, true)
	c.Check(err, ErrorMatches, `stat .*/dev/tpm0: permission denied`)
}

func (s *deviceLinuxSuite) TestDefaultDeviceDirect(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)
	s.addCharDevice(paths.TPMRMDevice)
	s.setVersion(c, "2")

	dev, err := DefaultDevice(DeviceModeDirect)
	c.Assert(err, IsNil)
	c.Check(dev.Mode(), Equals, DeviceModeDirect)
	c.Check(dev.String(), Equals, paths.TPMDevice)

	tpm, err := dev.Open()
	c.Assert(err, IsNil)
	c.Check(tpm.Close(), IsNil)
	c.Check(s.opened, DeepEquals, []string{paths.TPMDevice})
}

func (s *deviceLinuxSuite) TestDefaultDeviceResourceManaged(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)
	s.addCharDevice(paths.TPMRMDevice)
	s.setVersion(c, "2")

	dev, err := DefaultDevice(DeviceModeResourceManaged)
	c.Assert(err, IsNil)
	c.Check(dev.Mode(), Equals, DeviceModeResourceManaged)

	tpm, err := dev.Open()
	c.Assert(err, IsNil)
	c.Check(tpm.Close(), IsNil)
	c.Check(s.opened, DeepEquals, []string{paths.TPMRMDevice})
}

func (s *deviceLinuxSuite) TestDefaultDeviceNoVersionFile(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)
	s.addCharDevice(paths.TPMRMDevice)

	dev, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Assert(err, IsNil)
	c.Check(dev.Mode(), Equals, DeviceModeResourceManaged)
}

func (s *deviceLinuxSuite) TestDefaultDeviceNoVersionFileNoRM(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)

	_, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Check(err, Equals, ErrNoTPM2Device)
}

func (s *deviceLinuxSuite) TestDefaultDeviceTryResourceManagedFallback(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)
	s.setVersion(c, "2")

	dev, err := DefaultDevice(DeviceModeTryResourceManaged)
	c.Assert(err, IsNil)
	c.Check(dev.Mode(), Equals, DeviceModeDirect)
	c.Check(dev.String(), Equals, paths.TPMDevice)
}

func (s *deviceLinuxSuite) TestDefaultDeviceNoResourceManaged(c *C) {
	defer s.mock(c)()
	s.addCharDevice(paths.TPMDevice)
	s.setVersion(c, "2")

	_, err := DefaultDevice(DeviceModeResourceManaged)
	c.Check(err, Equals, ErrNoResourceManagedTPM2Device)
}

func (s *deviceLinuxSuite) TestNewLinuxDevice(c *C) {
	defer s.mock(c)()

	dev := NewLinuxDevice("/dev/tpm1")
	c.Check(dev.Mode(), Equals, DeviceModeDirect)
	c.Check(dev.String(), Equals, "/dev/tpm1")

	tpm, err := dev.Open()
	c.Assert(err, IsNil)
	c.Check(tpm.Close(), IsNil)
	c.Check(s.opened, DeepEquals, []string{"/dev/tpm1"})
}

func (s *deviceLinuxSuite) TestNewLinuxDeviceResourceManaged(c *C) {
	defer s.mock(c)()

	dev := NewLinuxDevice("/dev/tpmrm1")
	c.Check(dev.Mode(), Equals, DeviceModeResourceManaged)
	c.Check(dev.String(), Equals, "/dev/tpmrm1")
}
