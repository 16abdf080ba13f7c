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
	"errors"
	"fmt"
)

// ResponseCode corresponds to the TPM_RC type.
type ResponseCode uint32

const (
	// The lower 7-bits of format-zero codes are the error number.
	responseCodeE0 ResponseCode = 0x7f

	// The lower 6-bits of format-one codes are the error number.
	responseCodeE1 ResponseCode = 0x3f

	// Bit 6 of format-one codes is set for errors associated with a
	// parameter.
	responseCodeP ResponseCode = 1 << 6

	// Bit 7 is set for format-one codes.
	responseCodeF ResponseCode = 1 << 7

	// Bit 11 of format-zero codes is set for warnings.
	responseCodeS ResponseCode = 1 << 11

	// Bits 8 to 11 of format-one codes are the instance index.
	responseCodeN          ResponseCode = 0xf << responseCodeIndexShift
	responseCodeIndexShift              = 8
)

const (
	ResponseSuccess ResponseCode = 0x000
	ResponseBadTag  ResponseCode = 0x01E // TPM_RC_BAD_TAG

	// Format-zero error codes.
	ResponseInitialize      ResponseCode = 0x100 // TPM_RC_INITIALIZE
	ResponseFailure         ResponseCode = 0x101 // TPM_RC_FAILURE
	ResponseSequence        ResponseCode = 0x103 // TPM_RC_SEQUENCE
	ResponseDisabled        ResponseCode = 0x120 // TPM_RC_DISABLED
	ResponseAuthType        ResponseCode = 0x124 // TPM_RC_AUTH_TYPE
	ResponseAuthMissing     ResponseCode = 0x125 // TPM_RC_AUTH_MISSING
	ResponsePolicy          ResponseCode = 0x126 // TPM_RC_POLICY
	ResponsePCR             ResponseCode = 0x127 // TPM_RC_PCR
	ResponsePCRChanged      ResponseCode = 0x128 // TPM_RC_PCR_CHANGED
	ResponseAuthUnavailable ResponseCode = 0x12F // TPM_RC_AUTH_UNAVAILABLE
	ResponseCommandSize     ResponseCode = 0x142 // TPM_RC_COMMAND_SIZE
	ResponseCommandCode     ResponseCode = 0x143 // TPM_RC_COMMAND_CODE
	ResponseAuthsize        ResponseCode = 0x144 // TPM_RC_AUTHSIZE
	ResponseAuthContext     ResponseCode = 0x145 // TPM_RC_AUTH_CONTEXT
	ResponseSensitive       ResponseCode = 0x155 // TPM_RC_SENSITIVE

	// Format-one error codes, without the index and P fields.
	ResponseAttributes   ResponseCode = 0x082 // TPM_RC_ATTRIBUTES
	ResponseHash         ResponseCode = 0x083 // TPM_RC_HASH
	ResponseValue        ResponseCode = 0x084 // TPM_RC_VALUE
	ResponseHierarchy    ResponseCode = 0x085 // TPM_RC_HIERARCHY
	ResponseKeySize      ResponseCode = 0x087 // TPM_RC_KEY_SIZE
	ResponseMode         ResponseCode = 0x089 // TPM_RC_MODE
	ResponseType         ResponseCode = 0x08A // TPM_RC_TYPE
	ResponseHandle       ResponseCode = 0x08B // TPM_RC_HANDLE
	ResponseRange        ResponseCode = 0x08D // TPM_RC_RANGE
	ResponseAuthFail     ResponseCode = 0x08E // TPM_RC_AUTH_FAIL
	ResponseNonce        ResponseCode = 0x08F // TPM_RC_NONCE
	ResponseScheme       ResponseCode = 0x092 // TPM_RC_SCHEME
	ResponseSize         ResponseCode = 0x095 // TPM_RC_SIZE
	ResponseSymmetric    ResponseCode = 0x096 // TPM_RC_SYMMETRIC
	ResponseTag          ResponseCode = 0x097 // TPM_RC_TAG
	ResponseSelector     ResponseCode = 0x098 // TPM_RC_SELECTOR
	ResponseInsufficient ResponseCode = 0x09A // TPM_RC_INSUFFICIENT
	ResponseKey          ResponseCode = 0x09C // TPM_RC_KEY
	ResponsePolicyFail   ResponseCode = 0x09D // TPM_RC_POLICY_FAIL
	ResponseIntegrity    ResponseCode = 0x09F // TPM_RC_INTEGRITY
	ResponseBadAuth      ResponseCode = 0x0A2 // TPM_RC_BAD_AUTH

	// Warnings.
	ResponseObjectMemory  ResponseCode = 0x902 // TPM_RC_OBJECT_MEMORY
	ResponseSessionMemory ResponseCode = 0x903 // TPM_RC_SESSION_MEMORY
	ResponseMemory        ResponseCode = 0x904 // TPM_RC_MEMORY
	ResponseTesting       ResponseCode = 0x90A // TPM_RC_TESTING
	ResponseLockout       ResponseCode = 0x921 // TPM_RC_LOCKOUT
	ResponseRetry         ResponseCode = 0x922 // TPM_RC_RETRY
)

type responseCodeInfo struct {
	name string
	desc string
}

var responseCodeTable = map[ResponseCode]responseCodeInfo{
	ResponseBadTag:          {"TPM_RC_BAD_TAG", "defined for compatibility with TPM 1.2"},
	ResponseInitialize:      {"TPM_RC_INITIALIZE", "TPM not initialized by TPM2_Startup or already initialized"},
	ResponseFailure:         {"TPM_RC_FAILURE", "commands not being accepted because of a TPM failure"},
	ResponseSequence:        {"TPM_RC_SEQUENCE", "improper use of a sequence handle"},
	ResponseDisabled:        {"TPM_RC_DISABLED", "the command is disabled"},
	ResponseAuthType:        {"TPM_RC_AUTH_TYPE", "authorization handle is not correct for command"},
	ResponseAuthMissing:     {"TPM_RC_AUTH_MISSING", "command requires an authorization session for handle and it is not present"},
	ResponsePolicy:          {"TPM_RC_POLICY", "policy failure in math operation or an invalid authPolicy value"},
	ResponsePCR:             {"TPM_RC_PCR", "PCR check fail"},
	ResponsePCRChanged:      {"TPM_RC_PCR_CHANGED", "PCR have changed since checked"},
	ResponseAuthUnavailable: {"TPM_RC_AUTH_UNAVAILABLE", "the authorization HMAC check failed and DA counter incremented or the object requires a policy session"},
	ResponseCommandSize:     {"TPM_RC_COMMAND_SIZE", "command commandSize value is inconsistent with contents of the command buffer"},
	ResponseCommandCode:     {"TPM_RC_COMMAND_CODE", "command code not supported"},
	ResponseAuthsize:        {"TPM_RC_AUTHSIZE", "the value of authorizationSize is out of range or the number of octets in the Authorization Area is greater than required"},
	ResponseAuthContext:     {"TPM_RC_AUTH_CONTEXT", "use of an authorization session with a context command or another command that cannot have an authorization session"},
	ResponseSensitive:       {"TPM_RC_SENSITIVE", "the sensitive area did not unmarshal correctly after decryption"},
	ResponseAttributes:      {"TPM_RC_ATTRIBUTES", "inconsistent attributes"},
	ResponseHash:            {"TPM_RC_HASH", "hash algorithm not supported or not appropriate"},
	ResponseValue:           {"TPM_RC_VALUE", "value is out of range or is not correct for the context"},
	ResponseHierarchy:       {"TPM_RC_HIERARCHY", "hierarchy is not enabled or is not correct for the use"},
	ResponseKeySize:         {"TPM_RC_KEY_SIZE", "key size is not supported"},
	ResponseMode:            {"TPM_RC_MODE", "mode of operation not supported"},
	ResponseType:            {"TPM_RC_TYPE", "the type of the value is not appropriate for the use"},
	ResponseHandle:          {"TPM_RC_HANDLE", "the handle is not correct for the use"},
	ResponseRange:           {"TPM_RC_RANGE", "value was out of allowed range"},
	ResponseAuthFail:        {"TPM_RC_AUTH_FAIL", "the authorization HMAC check failed and DA counter incremented"},
	ResponseNonce:           {"TPM_RC_NONCE", "invalid nonce size or nonce value mismatch"},
	ResponseScheme:          {"TPM_RC_SCHEME", "unsupported or incompatible scheme"},
	ResponseSize:            {"TPM_RC_SIZE", "structure is the wrong size"},
	ResponseSymmetric:       {"TPM_RC_SYMMETRIC", "unsupported symmetric algorithm or key size, or not appropriate for instance"},
	ResponseTag:             {"TPM_RC_TAG", "incorrect structure tag"},
	ResponseSelector:        {"TPM_RC_SELECTOR", "union selector is incorrect"},
	ResponseInsufficient:    {"TPM_RC_INSUFFICIENT", "the TPM was unable to unmarshal a value because there were not enough octets in the input buffer"},
	ResponseKey:             {"TPM_RC_KEY", "key fields are not compatible with the selected use"},
	ResponsePolicyFail:      {"TPM_RC_POLICY_FAIL", "a policy check failed"},
	ResponseIntegrity:       {"TPM_RC_INTEGRITY", "integrity check failed"},
	ResponseBadAuth:         {"TPM_RC_BAD_AUTH", "authorization failure without DA implications"},
	ResponseObjectMemory:    {"TPM_RC_OBJECT_MEMORY", "out of memory for object contexts"},
	ResponseSessionMemory:   {"TPM_RC_SESSION_MEMORY", "out of memory for session contexts"},
	ResponseMemory:          {"TPM_RC_MEMORY", "out of shared object/session memory or need space for internal operations"},
	ResponseTesting:         {"TPM_RC_TESTING", "TPM is performing self-tests"},
	ResponseLockout:         {"TPM_RC_LOCKOUT", "authorizations for objects subject to DA protection are not allowed at this time because the TPM is in DA lockout mode"},
	ResponseRetry:           {"TPM_RC_RETRY", "the TPM was not able to start the command"},
}

// IsFormatOne indicates whether this is a format-one code, which carries
// an instance index.
func (rc ResponseCode) IsFormatOne() bool {
	return rc&responseCodeF != 0
}

// IsWarning indicates whether this is a format-zero warning.
func (rc ResponseCode) IsWarning() bool {
	return !rc.IsFormatOne() && rc&responseCodeS != 0
}

// Base returns the error code with the instance index and P fields
// masked out, which is the value that can be compared against the
// Response constants in this package.
func (rc ResponseCode) Base() ResponseCode {
	if rc.IsFormatOne() {
		return rc & (responseCodeF | responseCodeE1)
	}
	return rc
}

// IsParameter indicates whether a format-one code is associated with a
// command parameter.
func (rc ResponseCode) IsParameter() bool {
	return rc.IsFormatOne() && rc&responseCodeP != 0
}

// IsSession indicates whether a format-one code is associated with an
// authorization session.
func (rc ResponseCode) IsSession() bool {
	return rc.IsFormatOne() && !rc.IsParameter() && rc&responseCodeN&(0x8<<responseCodeIndexShift) != 0
}

// IsHandle indicates whether a format-one code is associated with a
// command handle.
func (rc ResponseCode) IsHandle() bool {
	return rc.IsFormatOne() && !rc.IsParameter() && !rc.IsSession() && rc.rawIndex() != 0
}

func (rc ResponseCode) rawIndex() uint8 {
	return uint8((rc & responseCodeN) >> responseCodeIndexShift)
}

// Index returns the 1-based instance index of a format-one code. This is
// the parameter number if IsParameter is true, the session number if
// IsSession is true or the handle number if IsHandle is true. It returns 0
// for codes that are not associated with any particular instance.
func (rc ResponseCode) Index() int {
	if !rc.IsFormatOne() {
		return 0
	}
	n := rc.rawIndex()
	if rc.IsSession() {
		n &= 0x7
	}
	return int(n)
}

// Name returns the symbolic name of the base code, or an empty string if
// it is not known.
func (rc ResponseCode) Name() string {
	return responseCodeTable[rc.Base()].name
}

// Description returns a description of the base code, or an empty string
// if it is not known.
func (rc ResponseCode) Description() string {
	return responseCodeTable[rc.Base()].desc
}

func (rc ResponseCode) String() string {
	s := rc.Name()
	if s == "" {
		s = fmt.Sprintf("TPM_RC(0x%03x)", uint32(rc.Base()))
	}
	switch {
	case rc.IsParameter():
		s += fmt.Sprintf(" [parameter %d]", rc.Index())
	case rc.IsSession():
		s += fmt.Sprintf(" [session %d]", rc.Index())
	case rc.IsHandle():
		s += fmt.Sprintf(" [handle %d]", rc.Index())
	}
	return s
}

const (
	// AnyCommandCode can be passed to the Is*Error functions to match
	// any command.
	AnyCommandCode CommandCode = 0xc0000000

	// AnyErrorCode can be passed to the Is*Error functions to match any
	// error code.
	AnyErrorCode ResponseCode = 0xffffffff
)

// TPMError is returned when the TPM responds with a code other than
// ResponseSuccess. The code is carried verbatim.
type TPMError struct {
	Command CommandCode
	Code    ResponseCode
}

func (e *TPMError) Error() string {
	s := fmt.Sprintf("TPM returned an error whilst executing command %s: %s", e.Command, e.Code)
	if desc := e.Code.Description(); desc != "" {
		s += " (" + desc + ")"
	}
	return s
}

// IsTPMError indicates whether err is a *TPMError for the specified
// command with the specified base code.
func IsTPMError(err error, code ResponseCode, command CommandCode) bool {
	var e *TPMError
	if !errors.As(err, &e) {
		return false
	}
	if command != AnyCommandCode && e.Command != command {
		return false
	}
	return code == AnyErrorCode || e.Code.Base() == code
}

// IsTPMSessionError indicates whether err is a *TPMError associated with
// the specified session index.
func IsTPMSessionError(err error, code ResponseCode, command CommandCode, session int) bool {
	if !IsTPMError(err, code, command) {
		return false
	}
	var e *TPMError
	errors.As(err, &e)
	return e.Code.IsSession() && e.Code.Index() == session
}

// IsTPMParameterError indicates whether err is a *TPMError associated
// with the specified parameter index.
func IsTPMParameterError(err error, code ResponseCode, command CommandCode, param int) bool {
	if !IsTPMError(err, code, command) {
		return false
	}
	var e *TPMError
	errors.As(err, &e)
	return e.Code.IsParameter() && e.Code.Index() == param
}

// IsTPMHandleError indicates whether err is a *TPMError associated with
// the specified handle index.
func IsTPMHandleError(err error, code ResponseCode, command CommandCode, handle int) bool {
	if !IsTPMError(err, code, command) {
		return false
	}
	var e *TPMError
	errors.As(err, &e)
	return e.Code.IsHandle() && e.Code.Index() == handle
}

// TransportError is returned when a command cannot be submitted to or a
// response cannot be received from the TPM. It is fatal and commands are
// never retried.
type TransportError struct {
	Command CommandCode
	err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cannot complete %s: %v", e.Command, e.err)
}

func (e *TransportError) Unwrap() error {
	return e.err
}

// InvalidResponseError is returned when the TPM returns a response that
// cannot be decoded.
type InvalidResponseError struct {
	Command CommandCode
	msg     string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("TPM returned an invalid response for command %s: %s", e.Command, e.msg)
}

// ErrClosed is returned when a command is submitted through a closed
// TPMContext.
var ErrClosed = errors.New("TPM context is closed")
