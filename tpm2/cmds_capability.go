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
	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
)

// GetCapability executes the TPM2_GetCapability command, returning up to
// propertyCount values of the specified capability starting at property.
// The moreData return value indicates whether the TPM has further values.
func (t *TPMContext) GetCapability(capability Capability, property, propertyCount uint32) (moreData bool, data *CapabilityData, err error) {
	if err := t.startCommand(CommandGetCapability).
		addParams(func(b *mu.Buffer) {
			b.WriteUint32(uint32(capability))
			b.WriteUint32(property)
			b.WriteUint32(propertyCount)
		}).
		run(nil, func(b *mu.Buffer) {
			moreData = b.ReadUint8() != 0
			data = unmarshalCapabilityData(b)
		}); err != nil {
		return false, nil, err
	}
	if data.Capability != capability {
		return false, nil, &InvalidResponseError{Command: CommandGetCapability, msg: "unexpected capability"}
	}
	return moreData, data, nil
}

// GetCapabilityTPMProperties returns up to count TPM properties, starting
// at first. Multiple commands are issued if the TPM indicates that more
// data is available.
func (t *TPMContext) GetCapabilityTPMProperties(first Property, count uint32) (TaggedTPMPropertyList, error) {
	var out TaggedTPMPropertyList
	for count > 0 {
		more, data, err := t.GetCapability(CapabilityTPMProperties, uint32(first), count)
		if err != nil {
			return nil, err
		}
		props := data.Data.(TaggedTPMPropertyList)
		if len(props) == 0 {
			break
		}
		out = append(out, props...)
		if !more || uint32(len(props)) >= count {
			break
		}
		count -= uint32(len(props))
		first = props[len(props)-1].Property + 1
	}
	return out, nil
}

// GetCapabilityTPMProperty returns the value of a single TPM property.
func (t *TPMContext) GetCapabilityTPMProperty(property Property) (uint32, error) {
	props, err := t.GetCapabilityTPMProperties(property, 1)
	if err != nil {
		return 0, err
	}
	if len(props) == 0 || props[0].Property != property {
		return 0, xerrors.Errorf("property %#08x does not exist", uint32(property))
	}
	return props[0].Value, nil
}

// GetCapabilityPCRs returns the currently allocated PCR banks.
func (t *TPMContext) GetCapabilityPCRs() (PCRSelectionList, error) {
	_, data, err := t.GetCapability(CapabilityPCRs, 0, CapabilityMaxProperties)
	if err != nil {
		return nil, err
	}
	return data.Data.(PCRSelectionList), nil
}

// GetCapabilityHandles returns up to count handles, starting at first.
// It is used to enumerate loaded transient objects and sessions.
func (t *TPMContext) GetCapabilityHandles(first Handle, count uint32) (HandleList, error) {
	var out HandleList
	for count > 0 {
		more, data, err := t.GetCapability(CapabilityHandles, uint32(first), count)
		if err != nil {
			return nil, err
		}
		handles := data.Data.(HandleList)
		if len(handles) == 0 {
			break
		}
		out = append(out, handles...)
		if !more || uint32(len(handles)) >= count {
			break
		}
		count -= uint32(len(handles))
		first = handles[len(handles)-1] + 1
	}
	return out, nil
}

// IsAlgorithmSupported indicates whether the TPM supports the specified
// algorithm.
func (t *TPMContext) IsAlgorithmSupported(alg AlgorithmId) bool {
	_, data, err := t.GetCapability(CapabilityAlgs, uint32(alg), 1)
	if err != nil {
		return false
	}
	algs := data.Data.(AlgorithmPropertyList)
	return len(algs) > 0 && algs[0].Alg == alg
}
