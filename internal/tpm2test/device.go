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

// Package tpm2test provides an in-process TPM for testing code that uses
// the tpm2 package, along with test suites built on top of it.
package tpm2test

import (
	"crypto/rand"
	"hash"
	"sort"
	"sync"

	"golang.org/x/xerrors"

	"github.com/snapcore/bootseal/internal/mu"
	"github.com/snapcore/bootseal/tpm2"
)

const (
	// NumPCRs is the number of PCRs in each bank of a Device.
	NumPCRs = 24

	// MaxDigestsPerRead is the maximum number of digests returned by a
	// single TPM2_PCR_Read command.
	MaxDigestsPerRead = 8

	// MaxTransientObjects is the number of transient object slots.
	MaxTransientObjects = 3

	// MaxLoadedSessions is the number of session slots.
	MaxLoadedSessions = 3

	maxCommandSize = 4096
)

// rc helpers for format-one response codes.
func rcParam(code tpm2.ResponseCode, n int) tpm2.ResponseCode {
	return code | 0x40 | tpm2.ResponseCode(n<<8)
}

func rcHandle(code tpm2.ResponseCode, n int) tpm2.ResponseCode {
	return code | tpm2.ResponseCode(n<<8)
}

func rcSession(code tpm2.ResponseCode, n int) tpm2.ResponseCode {
	return code | 0x800 | tpm2.ResponseCode(n<<8)
}

type object struct {
	public     []byte // TPMT_PUBLIC
	name       tpm2.Name
	objectType tpm2.ObjectTypeId
	nameAlg    tpm2.HashAlgorithmId
	attrs      tpm2.ObjectAttributes
	authPolicy tpm2.Digest
	authValue  []byte
	data       []byte
}

type session struct {
	sessionType tpm2.SessionType
	hashAlg     tpm2.HashAlgorithmId
	digest      tpm2.Digest
	password    bool
}

type sequence struct {
	h         hash.Hash
	authValue []byte
}

type commandAuth struct {
	handle tpm2.Handle
	attrs  tpm2.SessionAttributes
	hmac   []byte
}

// Device is an in-process TPM implementing the commands used by this
// module. It implements tpm2.Transport. Objects created by a Device can
// only be loaded by the same Device.
type Device struct {
	mu sync.Mutex

	pcrs          map[tpm2.HashAlgorithmId][]tpm2.Digest
	updateCounter uint32

	objects   map[tpm2.Handle]*object
	sessions  map[tpm2.Handle]*session
	sequences map[tpm2.Handle]*sequence
	privates  map[string]*object

	nextTransient tpm2.Handle
	nextSession   tpm2.Handle

	lockoutCounter  uint32
	maxAuthFail     uint32
	lockoutInterval uint32
	lockoutRecovery uint32

	commands []tpm2.CommandCode
	injected map[tpm2.CommandCode]tpm2.ResponseCode
	sendErr  error
	closed   bool
}

// NewDevice returns a new Device with SHA-1 and SHA-256 PCR banks in
// their reset state.
func NewDevice() *Device {
	d := &Device{
		objects:         make(map[tpm2.Handle]*object),
		sessions:        make(map[tpm2.Handle]*session),
		sequences:       make(map[tpm2.Handle]*sequence),
		privates:        make(map[string]*object),
		injected:        make(map[tpm2.CommandCode]tpm2.ResponseCode),
		maxAuthFail:     32,
		lockoutInterval: 7200,
		lockoutRecovery: 86400,
	}
	d.resetPCRs()
	d.nextTransient = tpm2.HandleTypeTransient.BaseHandle()
	d.nextSession = tpm2.HandleTypePolicySession.BaseHandle()
	return d
}

func (d *Device) resetPCRs() {
	d.pcrs = make(map[tpm2.HashAlgorithmId][]tpm2.Digest)
	for _, alg := range []tpm2.HashAlgorithmId{tpm2.HashAlgorithmSHA1, tpm2.HashAlgorithmSHA256} {
		for i := 0; i < NumPCRs; i++ {
			d.pcrs[alg] = append(d.pcrs[alg], make(tpm2.Digest, alg.Size()))
		}
	}
	d.updateCounter = 0
}

// Reset simulates a TPM reset. PCRs return to their initial state and all
// transient objects and sessions are flushed. Sealed objects remain
// loadable.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetPCRs()
	d.objects = make(map[tpm2.Handle]*object)
	d.sessions = make(map[tpm2.Handle]*session)
	d.sequences = make(map[tpm2.Handle]*sequence)
}

// PCRValue returns the current value of the specified PCR.
func (d *Device) PCRValue(alg tpm2.HashAlgorithmId, pcr int) tpm2.Digest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(tpm2.Digest(nil), d.pcrs[alg][pcr]...)
}

// LoadedHandles returns the handles of all loaded transient objects,
// sequences and sessions, in ascending order.
func (d *Device) LoadedHandles() []tpm2.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loadedHandles()
}

func (d *Device) loadedHandles() []tpm2.Handle {
	var out []tpm2.Handle
	for h := range d.objects {
		out = append(out, h)
	}
	for h := range d.sequences {
		out = append(out, h)
	}
	for h := range d.sessions {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Commands returns the codes of all commands submitted to this device.
func (d *Device) Commands() []tpm2.CommandCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]tpm2.CommandCode(nil), d.commands...)
}

// InjectError causes the next execution of the specified command to fail
// with the specified response code.
func (d *Device) InjectError(code tpm2.CommandCode, rc tpm2.ResponseCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injected[code] = rc
}

// SetSendError causes every subsequent Send to fail with err. Passing nil
// clears it.
func (d *Device) SetSendError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendErr = err
}

// Close implements io.Closer.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return xerrors.New("already closed")
	}
	d.closed = true
	return nil
}

var commandHandles = map[tpm2.CommandCode]int{
	tpm2.CommandDictionaryAttackLockReset:  1,
	tpm2.CommandDictionaryAttackParameters: 1,
	tpm2.CommandSequenceComplete:           1,
	tpm2.CommandCreatePrimary:              1,
	tpm2.CommandCreate:                     1,
	tpm2.CommandLoad:                       1,
	tpm2.CommandSequenceUpdate:             1,
	tpm2.CommandUnseal:                     1,
	tpm2.CommandFlushContext:               0,
	tpm2.CommandLoadExternal:               0,
	tpm2.CommandReadPublic:                 1,
	tpm2.CommandStartAuthSession:           2,
	tpm2.CommandGetCapability:              0,
	tpm2.CommandHash:                       0,
	tpm2.CommandPCRRead:                    0,
	tpm2.CommandPolicyPCR:                  1,
	tpm2.CommandPCRExtend:                  1,
	tpm2.CommandHashSequenceStart:          0,
	tpm2.CommandPolicyGetDigest:            1,
	tpm2.CommandPolicyPassword:             1,
}

// commandContext is the decoded form of a single command.
type commandContext struct {
	code    tpm2.CommandCode
	handles []tpm2.Handle
	auths   []commandAuth
	params  []byte
}

// result is the output of a command handler.
type result struct {
	handle *tpm2.Handle
	params []byte
}

func errorResponse(rc tpm2.ResponseCode) []byte {
	b := mu.NewBuffer(10)
	b.WriteUint16(uint16(tpm2.TagNoSessions))
	b.WriteUint32(10)
	b.WriteUint32(uint32(rc))
	return b.Bytes()
}

// Send implements tpm2.Transport.
func (d *Device) Send(cmd []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, xerrors.New("device is closed")
	}
	if d.sendErr != nil {
		return nil, d.sendErr
	}

	b := mu.NewBufferFrom(cmd)
	tag := tpm2.StructTag(b.ReadUint16())
	size := b.ReadUint32()
	code := tpm2.CommandCode(b.ReadUint32())
	switch {
	case b.Err() != nil:
		return errorResponse(tpm2.ResponseCommandSize), nil
	case int(size) != len(cmd):
		return errorResponse(tpm2.ResponseCommandSize), nil
	case tag != tpm2.TagSessions && tag != tpm2.TagNoSessions:
		return errorResponse(tpm2.ResponseBadTag), nil
	}
	d.commands = append(d.commands, code)

	numHandles, ok := commandHandles[code]
	if !ok {
		return errorResponse(tpm2.ResponseCommandCode), nil
	}

	ctx := &commandContext{code: code}
	for i := 0; i < numHandles; i++ {
		ctx.handles = append(ctx.handles, tpm2.Handle(b.ReadUint32()))
	}
	if tag == tpm2.TagSessions {
		n := b.ReadUint32()
		ab := b.Sub(int(n))
		for ab.Available() > 0 && ab.Err() == nil {
			a := commandAuth{handle: tpm2.Handle(ab.ReadUint32())}
			ab.ReadSized16() // nonce
			a.attrs = tpm2.SessionAttributes(ab.ReadUint8())
			a.hmac = ab.ReadSized16()
			ctx.auths = append(ctx.auths, a)
		}
		if ab.Err() != nil || len(ctx.auths) == 0 {
			return errorResponse(tpm2.ResponseAuthsize), nil
		}
	}
	if b.Err() != nil {
		return errorResponse(tpm2.ResponseCommandSize), nil
	}
	ctx.params = b.ReadBytes(b.Available())

	if rc, ok := d.injected[code]; ok {
		delete(d.injected, code)
		return errorResponse(rc), nil
	}

	res, rc := d.dispatch(ctx)
	if rc != tpm2.ResponseSuccess {
		return errorResponse(rc), nil
	}

	// Policy sessions are flushed after use unless continueSession is set.
	for _, a := range ctx.auths {
		if a.handle.Type() == tpm2.HandleTypePolicySession && a.attrs&tpm2.AttrContinueSession == 0 {
			delete(d.sessions, a.handle)
		}
	}

	rb := mu.NewBuffer(maxCommandSize)
	rb.WriteUint16(uint16(tag))
	rsize := rb.DeferUint32()
	rb.WriteUint32(uint32(tpm2.ResponseSuccess))
	if res.handle != nil {
		rb.WriteUint32(uint32(*res.handle))
	}
	if tag == tpm2.TagSessions {
		rb.WriteUint32(uint32(len(res.params)))
	}
	rb.WriteBytes(res.params)
	if tag == tpm2.TagSessions {
		for _, a := range ctx.auths {
			rb.WriteSized16(nil)
			rb.WriteUint8(uint8(a.attrs))
			rb.WriteSized16(nil)
		}
	}
	rsize.Set(uint32(rb.Written()))
	if rb.Err() != nil {
		return errorResponse(tpm2.ResponseFailure), nil
	}
	return rb.Bytes(), nil
}

func (d *Device) dispatch(ctx *commandContext) (*result, tpm2.ResponseCode) {
	switch ctx.code {
	case tpm2.CommandGetCapability:
		return d.getCapability(ctx)
	case tpm2.CommandPCRRead:
		return d.pcrRead(ctx)
	case tpm2.CommandPCRExtend:
		return d.pcrExtend(ctx)
	case tpm2.CommandCreatePrimary:
		return d.createPrimary(ctx)
	case tpm2.CommandCreate:
		return d.create(ctx)
	case tpm2.CommandLoad:
		return d.load(ctx)
	case tpm2.CommandLoadExternal:
		return d.loadExternal(ctx)
	case tpm2.CommandReadPublic:
		return d.readPublic(ctx)
	case tpm2.CommandUnseal:
		return d.unseal(ctx)
	case tpm2.CommandStartAuthSession:
		return d.startAuthSession(ctx)
	case tpm2.CommandPolicyPCR:
		return d.policyPCR(ctx)
	case tpm2.CommandPolicyPassword:
		return d.policyPassword(ctx)
	case tpm2.CommandPolicyGetDigest:
		return d.policyGetDigest(ctx)
	case tpm2.CommandHash:
		return d.hash(ctx)
	case tpm2.CommandHashSequenceStart:
		return d.hashSequenceStart(ctx)
	case tpm2.CommandSequenceUpdate:
		return d.sequenceUpdate(ctx)
	case tpm2.CommandSequenceComplete:
		return d.sequenceComplete(ctx)
	case tpm2.CommandDictionaryAttackLockReset:
		return d.daLockReset(ctx)
	case tpm2.CommandDictionaryAttackParameters:
		return d.daParameters(ctx)
	case tpm2.CommandFlushContext:
		return d.flushContext(ctx)
	}
	return nil, tpm2.ResponseCommandCode
}

func marshalParams(fn func(*mu.Buffer)) []byte {
	b := mu.NewBuffer(maxCommandSize)
	fn(b)
	if b.Err() != nil {
		return nil
	}
	return b.Bytes()
}

func newRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b
}

func (d *Device) numTransients() int {
	return len(d.objects) + len(d.sequences)
}

func (d *Device) allocTransient() (tpm2.Handle, tpm2.ResponseCode) {
	if d.numTransients() >= MaxTransientObjects {
		return tpm2.HandleNull, tpm2.ResponseObjectMemory
	}
	for {
		h := d.nextTransient
		d.nextTransient++
		if d.nextTransient.Type() != tpm2.HandleTypeTransient {
			d.nextTransient = tpm2.HandleTypeTransient.BaseHandle()
		}
		_, isObj := d.objects[h]
		_, isSeq := d.sequences[h]
		if !isObj && !isSeq {
			return h, tpm2.ResponseSuccess
		}
	}
}

func (d *Device) allocSession() (tpm2.Handle, tpm2.ResponseCode) {
	if len(d.sessions) >= MaxLoadedSessions {
		return tpm2.HandleNull, tpm2.ResponseSessionMemory
	}
	for {
		h := d.nextSession
		d.nextSession++
		if d.nextSession.Type() != tpm2.HandleTypePolicySession {
			d.nextSession = tpm2.HandleTypePolicySession.BaseHandle()
		}
		if _, exists := d.sessions[h]; !exists {
			return h, tpm2.ResponseSuccess
		}
	}
}

// checkPasswordAuth checks that a command with a single authorization
// supplies the expected password.
func (d *Device) checkPasswordAuth(ctx *commandContext, authValue []byte) tpm2.ResponseCode {
	if len(ctx.auths) == 0 {
		return tpm2.ResponseAuthMissing
	}
	a := ctx.auths[0]
	if a.handle != tpm2.HandlePW {
		return tpm2.ResponseAuthType
	}
	if string(a.hmac) != string(authValue) {
		return rcSession(tpm2.ResponseBadAuth, 1)
	}
	return tpm2.ResponseSuccess
}
