// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/psbt"
)

// SpendKind is the way an input is signed.
type SpendKind uint8

const (
	// SpendLegacy signs with the pre-segwit sighash algorithm.
	SpendLegacy SpendKind = iota

	// SpendSegwitV0 signs with the BIP-143 sighash algorithm.
	SpendSegwitV0

	// SpendTaprootKeyPath signs a taproot output with its output key.
	SpendTaprootKeyPath

	// SpendTaprootScriptPath signs a taproot output through one of its
	// leaves.
	SpendTaprootScriptPath
)

// String returns the name of the spend kind.
func (k SpendKind) String() string {
	switch k {
	case SpendLegacy:
		return "legacy"

	case SpendSegwitV0:
		return "segwit v0"

	case SpendTaprootKeyPath:
		return "taproot key path"

	case SpendTaprootScriptPath:
		return "taproot script path"

	default:
		return fmt.Sprintf("SpendKind(%d)", uint8(k))
	}
}

// Spend describes how an input is spent.
type Spend struct {
	Kind SpendKind

	// ScriptHash is set when the spent output is P2SH.
	ScriptHash bool

	// Nested is set for witness programs wrapped in P2SH.
	Nested bool

	// PrevOut is the spent output.
	PrevOut *wire.TxOut

	// ScriptCode is the script signatures commit to. It is empty for
	// taproot spends.
	ScriptCode []byte

	// Class is the class of the script code.
	Class txscript.ScriptClass
}

// IsTaproot returns true for both taproot spend paths.
func (s Spend) IsTaproot() bool {
	return s.Kind == SpendTaprootKeyPath ||
		s.Kind == SpendTaprootScriptPath
}

// Classify determines how the input is spent from its UTXO and scripts.
func Classify(in *psbt.Input) (Spend, error) {
	prevOut, err := in.PrevOut()
	if err != nil {
		return Spend{}, fmt.Errorf("%w: %v", ErrMissingPrevout, err)
	}

	spend := Spend{PrevOut: prevOut}
	script := prevOut.PkScript
	class := txscript.GetScriptClass(script)

	if class == txscript.ScriptHashTy {
		if len(in.RedeemScript) == 0 {
			return spend, fmt.Errorf("%w: p2sh input without "+
				"redeem script", ErrUnknownScriptType)
		}

		addrHash := btcutil.Hash160(in.RedeemScript)
		if !bytes.Equal(script[2:22], addrHash) {
			return spend, fmt.Errorf("%w: redeem script does not "+
				"match p2sh output", ErrKeyMismatch)
		}

		script = in.RedeemScript
		class = txscript.GetScriptClass(script)
		spend.ScriptHash = true

		if class == txscript.ScriptHashTy {
			return spend, fmt.Errorf("%w: nested p2sh",
				ErrUnknownScriptType)
		}

		spend.Nested = isWitnessClass(class)
	}

	switch class {
	case txscript.PubKeyHashTy, txscript.PubKeyTy, txscript.MultiSigTy:
		spend.Kind = SpendLegacy
		spend.ScriptCode = script
		spend.Class = class

	case txscript.WitnessV0PubKeyHashTy:
		spend.Kind = SpendSegwitV0
		spend.ScriptCode = script
		spend.Class = class

	case txscript.WitnessV0ScriptHashTy:
		if len(in.WitnessScript) == 0 {
			return spend, fmt.Errorf("%w: p2wsh input without "+
				"witness script", ErrUnknownScriptType)
		}

		scriptHash := sha256.Sum256(in.WitnessScript)
		if !bytes.Equal(script[2:], scriptHash[:]) {
			return spend, fmt.Errorf("%w: witness script does not "+
				"match p2wsh program", ErrKeyMismatch)
		}

		spend.Kind = SpendSegwitV0
		spend.ScriptCode = in.WitnessScript
		spend.Class = txscript.GetScriptClass(in.WitnessScript)

	case txscript.WitnessV1TaprootTy:
		if spend.Nested {
			return spend, fmt.Errorf("%w: taproot nested in p2sh",
				ErrUnknownScriptType)
		}

		spend.Kind = SpendTaprootKeyPath
		if len(in.TaprootLeafScript) > 0 {
			spend.Kind = SpendTaprootScriptPath
		}
		spend.Class = class

	default:
		return spend, fmt.Errorf("%w: %v", ErrUnknownScriptType, class)
	}

	return spend, nil
}

// isWitnessClass returns true for the witness program classes.
func isWitnessClass(class txscript.ScriptClass) bool {
	switch class {
	case txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy,
		txscript.WitnessV1TaprootTy, txscript.WitnessUnknownTy:

		return true

	default:
		return false
	}
}
