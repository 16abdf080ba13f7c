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

// maxPCRReadRetries bounds the number of times PCRRead restarts when the
// PCR update counter changes between commands.
const maxPCRReadRetries = 4

func (t *TPMContext) pcrRead(selection PCRSelectionList) (updateCounter uint32, selectionOut PCRSelectionList, values DigestList, err error) {
	if err := t.startCommand(CommandPCRRead).
		addParams(selection.Marshal).
		run(nil, func(b *mu.Buffer) {
			updateCounter = b.ReadUint32()
			selectionOut = UnmarshalPCRSelectionList(b)
			values = UnmarshalDigestList(b)
		}); err != nil {
		return 0, nil, nil, err
	}
	return updateCounter, selectionOut, values, nil
}

// PCRRead executes the TPM2_PCR_Read command to read the values of the
// PCRs selected by selection. A TPM returns a limited number of digests
// per command, so this issues as many commands as necessary. If the PCR
// update counter changes whilst doing so, the read is restarted so that
// the returned values are consistent.
func (t *TPMContext) PCRRead(selection PCRSelectionList) (updateCounter uint32, values PCRValues, err error) {
	for retry := 0; retry < maxPCRReadRetries; retry++ {
		values = make(PCRValues)
		remaining := selection
		first := true
		restart := false

		for !remaining.IsEmpty() {
			counter, out, digests, err := t.pcrRead(remaining)
			if err != nil {
				return 0, nil, err
			}
			if out.IsEmpty() {
				// The TPM doesn't implement one of the selected banks or
				// PCRs.
				return 0, nil, xerrors.Errorf("TPM did not return values for selection %v", remaining)
			}
			switch {
			case first:
				updateCounter = counter
				first = false
			case counter != updateCounter:
				restart = true
			}
			if restart {
				break
			}

			i := 0
			for _, s := range out {
				for _, pcr := range sortedPCRs(s) {
					if i >= len(digests) {
						return 0, nil, &InvalidResponseError{Command: CommandPCRRead, msg: "too few digests"}
					}
					values.SetValue(s.Hash, pcr, digests[i])
					i++
				}
			}
			if i != len(digests) {
				return 0, nil, &InvalidResponseError{Command: CommandPCRRead, msg: "too many digests"}
			}
			remaining = remaining.Remove(out)
		}

		if !restart {
			return updateCounter, values, nil
		}
	}
	return 0, nil, xerrors.New("PCR values changed too many times whilst being read")
}

// PCRExtend executes the TPM2_PCR_Extend command to extend the PCR at
// index pcr with the supplied digests, one per bank. If auth is nil, an
// empty password authorization is used.
func (t *TPMContext) PCRExtend(pcr int, digests TaggedHashList, auth *AuthCommand) error {
	if auth == nil {
		auth = PasswordAuth(nil)
	}
	return t.startCommand(CommandPCRExtend).
		addHandles(PCRHandle(pcr)).
		addAuths(auth).
		addParams(digests.Marshal).
		run(nil, nil)
}
