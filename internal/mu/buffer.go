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

// Package mu provides a fixed capacity wire buffer used to marshal and
// unmarshal big-endian TPM2 structures.
//
// A Buffer carries a sticky error. The first failing operation poisons
// the buffer and every subsequent operation becomes a no-op, so a caller
// can perform a sequence of reads or writes and check Err once at the end.
package mu

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/xerrors"
)

var (
	// ErrOverflow is set on a buffer when a write exceeds its capacity.
	ErrOverflow = xerrors.New("insufficient space in buffer")

	// ErrUnderflow is set on a buffer when a read requests more bytes than
	// are available.
	ErrUnderflow = xerrors.New("insufficient data in buffer")
)

// SizeError is set on a buffer when a length prefixed field cannot be
// represented by its prefix.
type SizeError struct {
	Size int
	Max  int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("field size %d exceeds the maximum of %d", e.Size, e.Max)
}

// Buffer is a capacity bounded byte array with independent write and
// read cursors.
type Buffer struct {
	data []byte
	w    int
	r    int
	err  error
}

// NewBuffer returns an empty buffer that can hold at most capacity bytes.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// NewBufferFrom returns a buffer for reading the supplied bytes. The
// buffer is full, so any write will overflow.
func NewBufferFrom(data []byte) *Buffer {
	return &Buffer{data: data, w: len(data)}
}

// Err returns the first error encountered by this buffer.
func (b *Buffer) Err() error {
	return b.err
}

// SetErr poisons the buffer with the supplied error if it isn't already
// poisoned. It is used by higher level unmarshallers to report semantic
// errors through the same sticky mechanism.
func (b *Buffer) SetErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Bytes returns the bytes written so far. The returned slice aliases the
// buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.w]
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Written returns the number of bytes written so far.
func (b *Buffer) Written() int {
	return b.w
}

// Available returns the number of written bytes that haven't been read.
func (b *Buffer) Available() int {
	return b.w - b.r
}

// Space returns the number of bytes that can still be written.
func (b *Buffer) Space() int {
	return len(b.data) - b.w
}

func (b *Buffer) reserve(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || n > b.Space() {
		b.err = ErrOverflow
		return nil
	}
	s := b.data[b.w : b.w+n]
	b.w += n
	return s
}

func (b *Buffer) consume(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || n > b.Available() {
		b.err = ErrUnderflow
		return nil
	}
	s := b.data[b.r : b.r+n]
	b.r += n
	return s
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	if s := b.reserve(1); s != nil {
		s[0] = v
	}
}

// WriteUint16 appends a big-endian 16-bit value.
func (b *Buffer) WriteUint16(v uint16) {
	if s := b.reserve(2); s != nil {
		binary.BigEndian.PutUint16(s, v)
	}
}

// WriteUint32 appends a big-endian 32-bit value.
func (b *Buffer) WriteUint32(v uint32) {
	if s := b.reserve(4); s != nil {
		binary.BigEndian.PutUint32(s, v)
	}
}

// WriteBytes appends a raw byte range.
func (b *Buffer) WriteBytes(data []byte) {
	if s := b.reserve(len(data)); s != nil {
		copy(s, data)
	}
}

// WriteSized16 appends data prefixed with its 16-bit length, which is the
// encoding of TPM2B types.
func (b *Buffer) WriteSized16(data []byte) {
	if b.err != nil {
		return
	}
	if len(data) > math.MaxUint16 {
		b.err = &SizeError{Size: len(data), Max: math.MaxUint16}
		return
	}
	b.WriteUint16(uint16(len(data)))
	b.WriteBytes(data)
}

// ReadUint8 consumes a single byte. It returns zero if the buffer is
// poisoned.
func (b *Buffer) ReadUint8() uint8 {
	s := b.consume(1)
	if s == nil {
		return 0
	}
	return s[0]
}

// ReadUint16 consumes a big-endian 16-bit value.
func (b *Buffer) ReadUint16() uint16 {
	s := b.consume(2)
	if s == nil {
		return 0
	}
	return binary.BigEndian.Uint16(s)
}

// ReadUint32 consumes a big-endian 32-bit value.
func (b *Buffer) ReadUint32() uint32 {
	s := b.consume(4)
	if s == nil {
		return 0
	}
	return binary.BigEndian.Uint32(s)
}

// ReadBytes consumes n bytes and returns a copy of them.
func (b *Buffer) ReadBytes(n int) []byte {
	s := b.consume(n)
	if s == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, s)
	return out
}

// ReadSized16 consumes a field prefixed with its 16-bit length and
// returns a copy of its contents. A zero length field is returned as a
// non-nil empty slice.
func (b *Buffer) ReadSized16() []byte {
	n := b.ReadUint16()
	if b.err != nil {
		return nil
	}
	out := b.ReadBytes(int(n))
	if out == nil && b.err == nil {
		out = []byte{}
	}
	return out
}

// Skip discards n unread bytes.
func (b *Buffer) Skip(n int) {
	b.consume(n)
}

// Sub consumes the next n bytes and returns them as a separate buffer for
// reading. It is used to bound a nested structure by its size field. On
// error, an empty poisoned buffer is returned.
func (b *Buffer) Sub(n int) *Buffer {
	s := b.consume(n)
	if s == nil {
		return &Buffer{err: b.err}
	}
	return NewBufferFrom(s)
}

// Deferred is a placeholder for a 32-bit value that is written before the
// value is known.
type Deferred struct {
	b   *Buffer
	off int
}

// DeferUint32 reserves space for a 32-bit value that is filled in later
// with Set.
func (b *Buffer) DeferUint32() *Deferred {
	off := b.w
	if b.reserve(4) == nil {
		return &Deferred{b: b, off: -1}
	}
	return &Deferred{b: b, off: off}
}

// Set fills in the placeholder. It has no effect if the placeholder could
// not be reserved or the buffer is poisoned.
func (d *Deferred) Set(v uint32) {
	if d.off < 0 || d.b.err != nil {
		return
	}
	binary.BigEndian.PutUint32(d.b.data[d.off:], v)
}

// SizeScope is an open length prefixed record. The prefix is written when
// the scope is closed with End, and counts every byte written in between.
type SizeScope struct {
	b     *Buffer
	off   int
	width int
	start int
}

func (b *Buffer) beginSized(width int) *SizeScope {
	off := b.w
	if b.reserve(width) == nil {
		return &SizeScope{b: b, off: -1, width: width}
	}
	return &SizeScope{b: b, off: off, width: width, start: b.w}
}

// BeginSized16 opens a record with a 16-bit length prefix.
func (b *Buffer) BeginSized16() *SizeScope {
	return b.beginSized(2)
}

// BeginSized32 opens a record with a 32-bit length prefix.
func (b *Buffer) BeginSized32() *SizeScope {
	return b.beginSized(4)
}

// End closes the record and writes its length prefix.
func (s *SizeScope) End() {
	if s.off < 0 || s.b.err != nil {
		return
	}
	n := s.b.w - s.start
	switch s.width {
	case 2:
		if n > math.MaxUint16 {
			s.b.err = &SizeError{Size: n, Max: math.MaxUint16}
			return
		}
		binary.BigEndian.PutUint16(s.b.data[s.off:], uint16(n))
	case 4:
		binary.BigEndian.PutUint32(s.b.data[s.off:], uint32(n))
	}
}
