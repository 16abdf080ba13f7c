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


package sealing_test

import (
	"encoding/hex"

	. "gopkg.in/check.v1"

	. "github.com/snapcore/bootseal/sealing"
)

type wrapSuite struct{}

var _ = Suite(&wrapSuite{})

func decodeHex(c *C, s string) []byte {
	b, err := hex.DecodeString(s)
	c.Assert(err, IsNil)
	return b
}

type testWrapData struct {
	kek     string
	key     string
	wrapped string
}

func (s *wrapSuite) testWrap(c *C, data *testWrapData) {
	kek := decodeHex(c, data.kek)
	key := decodeHex(c, data.key)

	wrapped, err := WrapKey(kek, key)
	c.Assert(err, IsNil)
	c.Check(wrapped, DeepEquals, decodeHex(c, data.wrapped))

	unwrapped, err := UnwrapKey(kek, wrapped)
	c.Check(err, IsNil)
	c.Check(unwrapped, DeepEquals, key)
}

func (s *wrapSuite) TestWrap128With128(c *C) {
	// RFC 3394 section 4.1
	s.testWrap(c, &testWrapData{
		kek:     "000102030405060708090a0b0c0d0e0f",
		key:     "00112233445566778899aabbccddeeff",
		wrapped: "1fa68b0a8112b447aef34bd8fb5a7b829d3e862371d2cfe5"})
}

func (s *wrapSuite) TestWrap128With192(c *C) {
	// RFC 3394 section 4.2
	s.testWrap(c, &testWrapData{
		kek:     "000102030405060708090a0b0c0d0e0f1011121314151617",
		key:     "00112233445566778899aabbccddeeff",
		wrapped: "96778b25ae6ca435f92b5b97c050aed2468ab8a17ad84e5d"})
}

func (s *wrapSuite) TestWrap128With256(c *C) {
	// RFC 3394 section 4.3
	s.testWrap(c, &testWrapData{
		kek:     "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		key:     "00112233445566778899aabbccddeeff",
		wrapped: "64e8c3f9ce0f5ba263e9777905818a2a93c8191e7d6e8ae7"})
}

func (s *wrapSuite) TestWrap256With256(c *C) {
	// RFC 3394 section 4.6
	s.testWrap(c, &testWrapData{
		kek:     "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		key:     "00112233445566778899aabbccddeeff000102030405060708090a0b0c0d0e0f",
		wrapped: "28c9f404c4b810f4cbccb35cfb87f8263f5786e2d80ed326cbc7f0e71a99f43bfb988b9b7a02dd21"})
}

func (s *wrapSuite) TestUnwrapIntegrityFailure(c *C) {
	kek := decodeHex(c, "000102030405060708090a0b0c0d0e0f")
	wrapped := decodeHex(c, "1fa68b0a8112b447aef34bd8fb5a7b829d3e862371d2cfe5")
	wrapped[10] ^= 0x01

	_, err := UnwrapKey(kek, wrapped)
	c.Check(err, Equals, ErrKeyUnwrap)
}

func (s *wrapSuite) TestUnwrapWrongKEK(c *C) {
	kek := decodeHex(c, "000102030405060708090a0b0c0d0e0e")
	_, err := UnwrapKey(kek, decodeHex(c, "1fa68b0a8112b447aef34bd8fb5a7b829d3e862371d2cfe5"))
	c.Check(err, Equals, ErrKeyUnwrap)
}

func (s *wrapSuite) TestWrapInvalidKeyLength(c *C) {
	_, err := WrapKey(make([]byte, 16), make([]byte, 12))
	c.Check(err, ErrorMatches, `invalid key length 12`)
	_, err = WrapKey(make([]byte, 16), make([]byte, 8))
	c.Check(err, ErrorMatches, `invalid key length 8`)
}

func (s *wrapSuite) TestWrapInvalidKEK(c *C) {
	_, err := WrapKey(make([]byte, 15), make([]byte, 16))
	c.Check(err, ErrorMatches, `cannot create cipher: crypto/aes: invalid key size 15`)
}

func (s *wrapSuite) TestUnwrapInvalidLength(c *C) {
	_, err := UnwrapKey(make([]byte, 16), make([]byte, 20))
	c.Check(err, ErrorMatches, `invalid wrapped key length 20`)
}

func (s *wrapSuite) TestDeriveWrappingKey(c *C) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	k1 := DeriveWrappingKey(secret, "WRAP")
	c.Check(k1, HasLen, 32)
	c.Check(DeriveWrappingKey(secret, "WRAP"), DeepEquals, k1)
	c.Check(DeriveWrappingKey(secret, "OTHER"), Not(DeepEquals), k1)
	c.Check(DeriveWrappingKey([]byte("other secret"), "WRAP"), Not(DeepEquals), k1)
}

func (s *wrapSuite) TestWrapWithDerivedKey(c *C) {
	kek := DeriveWrappingKey([]byte("secret"), "WRAP")
	key := decodeHex(c, "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")

	wrapped, err := WrapKey(kek, key)
	c.Assert(err, IsNil)
	c.Check(wrapped, HasLen, 40)

	unwrapped, err := UnwrapKey(kek, wrapped)
	c.Check(err, IsNil)
	c.Check(unwrapped, DeepEquals, key)
}
