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
	"crypto"
	"crypto/aes"
	"errors"

	keywrap "github.com/NickBall/go-aes-key-wrap"
	kdf "github.com/canonical/go-sp800.108-kdf"
	"golang.org/x/xerrors"
)

// ErrKeyUnwrap is returned from UnwrapKey when the integrity check of the
// wrapped key fails.
var ErrKeyUnwrap = errors.New("integrity check failed for wrapped key")

// WrapKey wraps key with the key-encryption key kek using the AES key
// wrap algorithm from RFC 3394, with the default initial value. The key
// must be a multiple of 8 bytes and at least 16 bytes long.
func WrapKey(kek, key []byte) ([]byte, error) {
	if len(key)%8 != 0 || len(key) < 16 {
		return nil, xerrors.Errorf("invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, xerrors.Errorf("cannot create cipher: %w", err)
	}
	wrapped, err := keywrap.Wrap(block, key)
	if err != nil {
		return nil, xerrors.Errorf("cannot wrap key: %w", err)
	}
	return wrapped, nil
}

// UnwrapKey unwraps a key produced by WrapKey. If the wrapped key was
// not produced with kek or has been modified, ErrKeyUnwrap is returned.
func UnwrapKey(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, xerrors.Errorf("invalid wrapped key length %d", len(wrapped))
	}
	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, xerrors.Errorf("cannot create cipher: %w", err)
	}
	// The length is already checked, so the only remaining failure is
	// the integrity check.
	key, err := keywrap.Unwrap(block, wrapped)
	if err != nil {
		return nil, ErrKeyUnwrap
	}
	return key, nil
}

// DeriveWrappingKey derives a 256-bit key-encryption key for WrapKey from
// a secret, using the SP800-108 counter mode KDF with HMAC-SHA256. The
// label separates keys derived from the same secret for different uses.
func DeriveWrappingKey(secret []byte, label string) []byte {
	return kdf.CounterModeKey(kdf.NewHMACPRF(crypto.SHA256), secret, []byte(label), nil, 256)
}
