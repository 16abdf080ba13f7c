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

// CreateResult contains the parts of a TPM2_Create or TPM2_CreatePrimary
// response that callers keep.
type CreateResult struct {
	Private      Private
	Public       *Public
	CreationHash Digest
	Ticket       *TkCreation
}

func unmarshalCreateResponse(b *mu.Buffer, withPrivate bool) *CreateResult {
	r := new(CreateResult)
	if withPrivate {
		r.Private = b.ReadSized16()
	}
	r.Public = UnmarshalSizedPublic(b)
	b.ReadSized16() // creationData
	r.CreationHash = b.ReadSized16()
	tag, hierarchy, digest := unmarshalTicket(b)
	r.Ticket = &TkCreation{Tag: tag, Hierarchy: hierarchy, Digest: digest}
	return r
}

// CreatePrimary executes the TPM2_CreatePrimary command to create a
// primary object in the specified hierarchy from template. The object is
// derived deterministically from the hierarchy seed and the template. The
// returned handle must be flushed with FlushContext when it is no longer
// needed.
func (t *TPMContext) CreatePrimary(hierarchy Handle, sensitive *SensitiveCreate, template *Public, outsideInfo []byte, creationPCR PCRSelectionList, hierarchyAuth *AuthCommand) (Handle, *CreateResult, error) {
	if sensitive == nil {
		sensitive = &SensitiveCreate{}
	}
	if hierarchyAuth == nil {
		hierarchyAuth = PasswordAuth(nil)
	}

	var handle Handle
	var result *CreateResult
	if err := t.startCommand(CommandCreatePrimary).
		addHandles(hierarchy).
		addAuths(hierarchyAuth).
		addParams(sensitive.Marshal, template.MarshalSized, func(b *mu.Buffer) {
			b.WriteSized16(outsideInfo)
			creationPCR.Marshal(b)
		}).
		run(&handle, func(b *mu.Buffer) {
			result = unmarshalCreateResponse(b, false)
			b.ReadSized16() // name
		}); err != nil {
		return HandleNull, nil, err
	}
	return handle, result, nil
}

// Create executes the TPM2_Create command to create an ordinary object
// under the parent object. The object is not loaded.
func (t *TPMContext) Create(parent Handle, sensitive *SensitiveCreate, template *Public, outsideInfo []byte, creationPCR PCRSelectionList, parentAuth *AuthCommand) (*CreateResult, error) {
	if sensitive == nil {
		sensitive = &SensitiveCreate{}
	}
	if parentAuth == nil {
		parentAuth = PasswordAuth(nil)
	}

	var result *CreateResult
	if err := t.startCommand(CommandCreate).
		addHandles(parent).
		addAuths(parentAuth).
		addParams(sensitive.Marshal, template.MarshalSized, func(b *mu.Buffer) {
			b.WriteSized16(outsideInfo)
			creationPCR.Marshal(b)
		}).
		run(nil, func(b *mu.Buffer) {
			result = unmarshalCreateResponse(b, true)
		}); err != nil {
		return nil, err
	}
	return result, nil
}

// Load executes the TPM2_Load command to load an object created by Create
// into the TPM. The returned handle must be flushed with FlushContext when
// it is no longer needed.
func (t *TPMContext) Load(parent Handle, inPrivate Private, inPublic *Public, parentAuth *AuthCommand) (Handle, Name, error) {
	if parentAuth == nil {
		parentAuth = PasswordAuth(nil)
	}

	var handle Handle
	var name Name
	if err := t.startCommand(CommandLoad).
		addHandles(parent).
		addAuths(parentAuth).
		addParams(func(b *mu.Buffer) {
			b.WriteSized16(inPrivate)
		}, inPublic.MarshalSized).
		run(&handle, func(b *mu.Buffer) {
			name = b.ReadSized16()
		}); err != nil {
		return HandleNull, nil, err
	}
	return handle, name, nil
}

// LoadExternal executes the TPM2_LoadExternal command to load an object
// that was not created by this TPM. If inPrivate is nil, only the public
// area is loaded.
func (t *TPMContext) LoadExternal(inPrivate *Sensitive, inPublic *Public, hierarchy Handle) (Handle, Name, error) {
	var handle Handle
	var name Name
	if err := t.startCommand(CommandLoadExternal).
		addParams(inPrivate.Marshal, inPublic.MarshalSized, func(b *mu.Buffer) {
			b.WriteUint32(uint32(hierarchy))
		}).
		run(&handle, func(b *mu.Buffer) {
			name = b.ReadSized16()
		}); err != nil {
		return HandleNull, nil, err
	}
	return handle, name, nil
}

// ReadPublic executes the TPM2_ReadPublic command to read the public area
// of a loaded object.
func (t *TPMContext) ReadPublic(object Handle) (outPublic *Public, name Name, err error) {
	if err := t.startCommand(CommandReadPublic).
		addHandles(object).
		run(nil, func(b *mu.Buffer) {
			outPublic = UnmarshalSizedPublic(b)
			name = b.ReadSized16()
			b.ReadSized16() // qualifiedName
		}); err != nil {
		return nil, nil, err
	}
	return outPublic, name, nil
}

// Unseal executes the TPM2_Unseal command to return the sensitive data of
// a loaded sealed data object. The supplied authorization is normally a
// policy session.
func (t *TPMContext) Unseal(item Handle, itemAuth *AuthCommand) (SensitiveData, error) {
	if itemAuth == nil {
		itemAuth = PasswordAuth(nil)
	}

	var data SensitiveData
	if err := t.startCommand(CommandUnseal).
		addHandles(item).
		addAuths(itemAuth).
		run(nil, func(b *mu.Buffer) {
			data = b.ReadSized16()
		}); err != nil {
		return nil, err
	}
	return data, nil
}
