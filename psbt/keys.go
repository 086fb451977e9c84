// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

// Global key types.
const (
	globalUnsignedTxType     = 0x00
	globalXPubType           = 0x01
	globalTxVersionType      = 0x02
	globalFallbackLockType   = 0x03
	globalInputCountType     = 0x04
	globalOutputCountType    = 0x05
	globalTxModifiableType   = 0x06
	globalVersionType        = 0xFB
	globalProprietaryKeyType = 0xFC
)

// Input key types.
const (
	inNonWitnessUtxoType     = 0x00
	inWitnessUtxoType        = 0x01
	inPartialSigType         = 0x02
	inSighashType            = 0x03
	inRedeemScriptType       = 0x04
	inWitnessScriptType      = 0x05
	inBip32DerivationType    = 0x06
	inFinalScriptSigType     = 0x07
	inFinalScriptWitnessType = 0x08
	inPrevTxIDType           = 0x0e
	inOutputIndexType        = 0x0f
	inSequenceType           = 0x10
	inRequiredTimeLockType   = 0x11
	inRequiredHeightLockType = 0x12
	inTapKeySigType          = 0x13
	inTapScriptSigType       = 0x14
	inTapLeafScriptType      = 0x15
	inTapBip32DerivationType = 0x16
	inTapInternalKeyType     = 0x17
	inTapMerkleRootType      = 0x18
)

// Output key types.
const (
	outRedeemScriptType       = 0x00
	outWitnessScriptType      = 0x01
	outBip32DerivationType    = 0x02
	outAmountType             = 0x03
	outScriptType             = 0x04
	outTapInternalKeyType     = 0x05
	outTapTreeType            = 0x06
	outTapBip32DerivationType = 0x07
)

const (
	// ProprietaryType is the key type every map reserves for proprietary
	// entries.
	ProprietaryType = 0xFC

	// maxKeyLength bounds the size of a single map key.
	maxKeyLength = 10000

	// maxValueLength bounds the size of a single map value.
	maxValueLength = 4000000

	// maxMapEntries bounds the number of inputs or outputs announced by a
	// v2 packet before any map is read.
	maxMapEntries = 1 << 16
)

// magic is the byte prefix of every serialized packet.
var magic = [5]byte{0x70, 0x73, 0x62, 0x74, 0xff}
