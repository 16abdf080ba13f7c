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


package sealing

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexError is returned from HexToBinary for malformed input.
type HexError struct {
	Offset int // offset of the invalid character, or -1
	msg    string
}

func (e *HexError) Error() string {
	if e.Offset < 0 {
		return "invalid hex string: " + e.msg
	}
	return fmt.Sprintf("invalid hex string: %s at offset %d", e.msg, e.Offset)
}

// BinaryToHex encodes data as two uppercase hex characters per byte with
// no separators.
func BinaryToHex(data []byte) string {
	return strings.ToUpper(hex.EncodeToString(data))
}

// HexToBinary decodes a string produced by BinaryToHex. Lowercase digits
// are accepted.
func HexToBinary(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, &HexError{Offset: -1, msg: "odd length"}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return nil, &HexError{Offset: i, msg: fmt.Sprintf("invalid character %q", c)}
		}
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, &HexError{Offset: -1, msg: err.Error()}
	}
	return data, nil
}
