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
	"crypto"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
)

// StructTag corresponds to the TPM_ST type.
type StructTag uint16

const (
	TagNoSessions StructTag = 0x8001 // TPM_ST_NO_SESSIONS
	TagSessions   StructTag = 0x8002 // TPM_ST_SESSIONS
	TagCreation   StructTag = 0x8021 // TPM_ST_CREATION
	TagHashcheck  StructTag = 0x8024 // TPM_ST_HASHCHECK
)

// CommandCode corresponds to the TPM_CC type.
type CommandCode uint32

const (
	CommandDictionaryAttackLockReset  CommandCode = 0x00000139 // TPM_CC_DictionaryAttackLockReset
	CommandDictionaryAttackParameters CommandCode = 0x0000013A // TPM_CC_DictionaryAttackParameters
	CommandSequenceComplete           CommandCode = 0x0000013E // TPM_CC_SequenceComplete
	CommandCreatePrimary              CommandCode = 0x00000131 // TPM_CC_CreatePrimary
	CommandCreate                     CommandCode = 0x00000153 // TPM_CC_Create
	CommandLoad                       CommandCode = 0x00000157 // TPM_CC_Load
	CommandSequenceUpdate             CommandCode = 0x0000015C // TPM_CC_SequenceUpdate
	CommandUnseal                     CommandCode = 0x0000015E // TPM_CC_Unseal
	CommandFlushContext               CommandCode = 0x00000165 // TPM_CC_FlushContext
	CommandLoadExternal               CommandCode = 0x00000167 // TPM_CC_LoadExternal
	CommandPolicyAuthValue            CommandCode = 0x0000016B // TPM_CC_PolicyAuthValue
	CommandReadPublic                 CommandCode = 0x00000173 // TPM_CC_ReadPublic
	CommandStartAuthSession           CommandCode = 0x00000176 // TPM_CC_StartAuthSession
	CommandGetCapability              CommandCode = 0x0000017A // TPM_CC_GetCapability
	CommandHash                       CommandCode = 0x0000017D // TPM_CC_Hash
	CommandPCRRead                    CommandCode = 0x0000017E // TPM_CC_PCR_Read
	CommandPolicyPCR                  CommandCode = 0x0000017F // TPM_CC_PolicyPCR
	CommandPCRExtend                  CommandCode = 0x00000182 // TPM_CC_PCR_Extend
	CommandHashSequenceStart          CommandCode = 0x00000186 // TPM_CC_HashSequenceStart
	CommandPolicyGetDigest            CommandCode = 0x00000189 // TPM_CC_PolicyGetDigest
	CommandPolicyPassword             CommandCode = 0x0000018C // TPM_CC_PolicyPassword
)

var commandNames = map[CommandCode]string{
	CommandDictionaryAttackLockReset:  "TPM2_DictionaryAttackLockReset",
	CommandDictionaryAttackParameters: "TPM2_DictionaryAttackParameters",
	CommandSequenceComplete:           "TPM2_SequenceComplete",
	CommandCreatePrimary:              "TPM2_CreatePrimary",
	CommandCreate:                     "TPM2_Create",
	CommandLoad:                       "TPM2_Load",
	CommandSequenceUpdate:             "TPM2_SequenceUpdate",
	CommandUnseal:                     "TPM2_Unseal",
	CommandFlushContext:               "TPM2_FlushContext",
	CommandLoadExternal:               "TPM2_LoadExternal",
	CommandPolicyAuthValue:            "TPM2_PolicyAuthValue",
	CommandReadPublic:                 "TPM2_ReadPublic",
	CommandStartAuthSession:           "TPM2_StartAuthSession",
	CommandGetCapability:              "TPM2_GetCapability",
	CommandHash:                       "TPM2_Hash",
	CommandPCRRead:                    "TPM2_PCR_Read",
	CommandPolicyPCR:                  "TPM2_PolicyPCR",
	CommandPCRExtend:                  "TPM2_PCR_Extend",
	CommandHashSequenceStart:          "TPM2_HashSequenceStart",
	CommandPolicyGetDigest:            "TPM2_PolicyGetDigest",
	CommandPolicyPassword:             "TPM2_PolicyPassword",
}

func (c CommandCode) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("TPM_CC(0x%08x)", uint32(c))
}

// Handle corresponds to the TPM_HANDLE type.
type Handle uint32

// HandleType corresponds to the TPM_HT type.
type HandleType uint8

const (
	HandleTypePCR           HandleType = 0x00 // TPM_HT_PCR
	HandleTypeHMACSession   HandleType = 0x02 // TPM_HT_HMAC_SESSION
	HandleTypePolicySession HandleType = 0x03 // TPM_HT_POLICY_SESSION
	HandleTypePermanent     HandleType = 0x40 // TPM_HT_PERMANENT
	HandleTypeTransient     HandleType = 0x80 // TPM_HT_TRANSIENT
	HandleTypePersistent    HandleType = 0x81 // TPM_HT_PERSISTENT
)

// BaseHandle returns the first handle of this type.
func (t HandleType) BaseHandle() Handle {
	return Handle(t) << 24
}

// Type returns the type of this handle.
func (h Handle) Type() HandleType {
	return HandleType(h >> 24)
}

const (
	HandleOwner       Handle = 0x40000001 // TPM_RH_OWNER
	HandleNull        Handle = 0x40000007 // TPM_RH_NULL
	HandlePW          Handle = 0x40000009 // TPM_RS_PW
	HandleLockout     Handle = 0x4000000A // TPM_RH_LOCKOUT
	HandleEndorsement Handle = 0x4000000B // TPM_RH_ENDORSEMENT
	HandlePlatform    Handle = 0x4000000C // TPM_RH_PLATFORM
)

// PCRHandle returns the handle for the PCR with the specified index.
func PCRHandle(index int) Handle {
	return HandleTypePCR.BaseHandle() + Handle(index)
}

// AlgorithmId corresponds to the TPM_ALG_ID type.
type AlgorithmId uint16

const (
	AlgorithmRSA            AlgorithmId = 0x0001 // TPM_ALG_RSA
	AlgorithmAES            AlgorithmId = 0x0006 // TPM_ALG_AES
	AlgorithmKeyedHash      AlgorithmId = 0x0008 // TPM_ALG_KEYEDHASH
	AlgorithmXOR            AlgorithmId = 0x000A // TPM_ALG_XOR
	AlgorithmHMAC           AlgorithmId = 0x0005 // TPM_ALG_HMAC
	AlgorithmNull           AlgorithmId = 0x0010 // TPM_ALG_NULL
	AlgorithmRSASSA         AlgorithmId = 0x0014 // TPM_ALG_RSASSA
	AlgorithmRSAES          AlgorithmId = 0x0015 // TPM_ALG_RSAES
	AlgorithmRSAPSS         AlgorithmId = 0x0016 // TPM_ALG_RSAPSS
	AlgorithmOAEP           AlgorithmId = 0x0017 // TPM_ALG_OAEP
	AlgorithmECDSA          AlgorithmId = 0x0018 // TPM_ALG_ECDSA
	AlgorithmECDH           AlgorithmId = 0x0019 // TPM_ALG_ECDH
	AlgorithmKDF1_SP800_108 AlgorithmId = 0x0022 // TPM_ALG_KDF1_SP800_108
	AlgorithmECC            AlgorithmId = 0x0023 // TPM_ALG_ECC
	AlgorithmSymCipher      AlgorithmId = 0x0025 // TPM_ALG_SYMCIPHER
	AlgorithmCFB            AlgorithmId = 0x0043 // TPM_ALG_CFB
)

// HashAlgorithmId corresponds to the TPMI_ALG_HASH type.
type HashAlgorithmId AlgorithmId

const (
	HashAlgorithmSHA1   HashAlgorithmId = 0x0004 // TPM_ALG_SHA1
	HashAlgorithmSHA256 HashAlgorithmId = 0x000B // TPM_ALG_SHA256
	HashAlgorithmSHA384 HashAlgorithmId = 0x000C // TPM_ALG_SHA384
	HashAlgorithmSHA512 HashAlgorithmId = 0x000D // TPM_ALG_SHA512
	HashAlgorithmNull   HashAlgorithmId = 0x0010 // TPM_ALG_NULL
)

// GetHash returns the equivalent crypto.Hash value for this algorithm, or 0
// if the algorithm is not a supported digest algorithm.
func (a HashAlgorithmId) GetHash() crypto.Hash {
	switch a {
	case HashAlgorithmSHA1:
		return crypto.SHA1
	case HashAlgorithmSHA256:
		return crypto.SHA256
	case HashAlgorithmSHA384:
		return crypto.SHA384
	case HashAlgorithmSHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

// IsValid determines whether this is a supported digest algorithm.
func (a HashAlgorithmId) IsValid() bool {
	h := a.GetHash()
	return h != 0 && h.Available()
}

// Size returns the size of the digest produced by this algorithm. It
// panics if the algorithm is not valid.
func (a HashAlgorithmId) Size() int {
	if !a.IsValid() {
		panic(fmt.Sprintf("unsupported digest algorithm %v", a))
	}
	return a.GetHash().Size()
}

func (a HashAlgorithmId) String() string {
	switch a {
	case HashAlgorithmSHA1:
		return "sha1"
	case HashAlgorithmSHA256:
		return "sha256"
	case HashAlgorithmSHA384:
		return "sha384"
	case HashAlgorithmSHA512:
		return "sha512"
	case HashAlgorithmNull:
		return "null"
	default:
		return fmt.Sprintf("TPM_ALG(0x%04x)", uint16(a))
	}
}

// ObjectTypeId corresponds to the TPMI_ALG_PUBLIC type.
type ObjectTypeId AlgorithmId

const (
	ObjectTypeRSA       ObjectTypeId = ObjectTypeId(AlgorithmRSA)
	ObjectTypeKeyedHash ObjectTypeId = ObjectTypeId(AlgorithmKeyedHash)
	ObjectTypeECC       ObjectTypeId = ObjectTypeId(AlgorithmECC)
	ObjectTypeSymCipher ObjectTypeId = ObjectTypeId(AlgorithmSymCipher)
)

// SymObjectAlgorithmId corresponds to the TPMI_ALG_SYM_OBJECT type.
type SymObjectAlgorithmId AlgorithmId

const (
	SymObjectAlgorithmAES  SymObjectAlgorithmId = SymObjectAlgorithmId(AlgorithmAES)
	SymObjectAlgorithmNull SymObjectAlgorithmId = SymObjectAlgorithmId(AlgorithmNull)
)

// SymModeId corresponds to the TPMI_ALG_SYM_MODE type.
type SymModeId AlgorithmId

const (
	SymModeCFB  SymModeId = SymModeId(AlgorithmCFB)
	SymModeNull SymModeId = SymModeId(AlgorithmNull)
)

// ECCCurve corresponds to the TPM_ECC_CURVE type.
type ECCCurve uint16

const (
	ECCCurveNIST_P256 ECCCurve = 0x0003 // TPM_ECC_NIST_P256
	ECCCurveNIST_P384 ECCCurve = 0x0004 // TPM_ECC_NIST_P384
)

// SessionType corresponds to the TPM_SE type.
type SessionType uint8

const (
	SessionTypeHMAC   SessionType = 0x00 // TPM_SE_HMAC
	SessionTypePolicy SessionType = 0x01 // TPM_SE_POLICY
	SessionTypeTrial  SessionType = 0x03 // TPM_SE_TRIAL
)

// SessionAttributes corresponds to the TPMA_SESSION type.
type SessionAttributes uint8

const (
	AttrContinueSession SessionAttributes = 1 << 0
)

// ObjectAttributes corresponds to the TPMA_OBJECT type.
type ObjectAttributes uint32

const (
	AttrFixedTPM             ObjectAttributes = 1 << 1
	AttrStClear              ObjectAttributes = 1 << 2
	AttrFixedParent          ObjectAttributes = 1 << 4
	AttrSensitiveDataOrigin  ObjectAttributes = 1 << 5
	AttrUserWithAuth         ObjectAttributes = 1 << 6
	AttrAdminWithPolicy      ObjectAttributes = 1 << 7
	AttrNoDA                 ObjectAttributes = 1 << 10
	AttrEncryptedDuplication ObjectAttributes = 1 << 11
	AttrRestricted           ObjectAttributes = 1 << 16
	AttrDecrypt              ObjectAttributes = 1 << 17
	AttrSign                 ObjectAttributes = 1 << 18
)

// Capability corresponds to the TPM_CAP type.
type Capability uint32

const (
	CapabilityAlgs          Capability = 0x00000000 // TPM_CAP_ALGS
	CapabilityHandles       Capability = 0x00000001 // TPM_CAP_HANDLES
	CapabilityPCRs          Capability = 0x00000005 // TPM_CAP_PCRS
	CapabilityTPMProperties Capability = 0x00000006 // TPM_CAP_TPM_PROPERTIES
)

// CapabilityMaxProperties is the maximum number of properties that can be
// requested in a single GetCapability command.
const CapabilityMaxProperties uint32 = 0xffffffff

// Property corresponds to the TPM_PT type.
type Property uint32

const (
	PropertyFixed           Property = 0x00000100 // PT_FIXED
	PropertyManufacturer    Property = 0x00000105 // TPM_PT_MANUFACTURER
	PropertyInputBuffer     Property = 0x0000010D // TPM_PT_INPUT_BUFFER
	PropertyPCRCount        Property = 0x00000112 // TPM_PT_PCR_COUNT
	PropertyMaxDigest       Property = 0x00000120 // TPM_PT_MAX_DIGEST
	PropertyVar             Property = 0x00000200 // PT_VAR
	PropertyLockoutCounter  Property = 0x0000020E // TPM_PT_LOCKOUT_COUNTER
	PropertyMaxAuthFail     Property = 0x0000020F // TPM_PT_MAX_AUTH_FAIL
	PropertyLockoutInterval Property = 0x00000210 // TPM_PT_LOCKOUT_INTERVAL
	PropertyLockoutRecovery Property = 0x00000211 // TPM_PT_LOCKOUT_RECOVERY
)

const (
	// MaxDigestBufferSize corresponds to MAX_DIGEST_BUFFER, the maximum
	// amount of data accepted by TPM2_Hash and TPM2_SequenceUpdate.
	MaxDigestBufferSize = 1024

	// MaxSymDataSize corresponds to MAX_SYM_DATA, the maximum size of the
	// sensitive data of a sealed object.
	MaxSymDataSize = 128

	// MaxCommandSize is the size of the buffer used to build commands.
	MaxCommandSize = 4096

	// PCRSelectMin is the minimum size of the select field of a
	// TPMS_PCR_SELECTION, enough for 24 PCRs.
	PCRSelectMin = 3

	// PCRSelectMax is the maximum size of the select field of a
	// TPMS_PCR_SELECTION, enough for 256 PCRs.
	PCRSelectMax = 32
)
