// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// Output is a single output map. The amount and script are stored here for
// both format versions.
type Output struct {
	Amount   int64
	PkScript []byte

	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*btcpsbt.Bip32Derivation

	TaprootInternalKey     []byte
	TaprootTapTree         []byte
	TaprootBip32Derivation []*btcpsbt.TaprootBip32Derivation

	// Unknowns holds unrecognized and proprietary entries in decode
	// order.
	Unknowns []*btcpsbt.Unknown
}

// NewOutput creates an output paying amount to pkScript.
func NewOutput(amount int64, pkScript []byte) *Output {
	return &Output{Amount: amount, PkScript: pkScript}
}

// TxOut returns the transaction output described by the map.
func (o *Output) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.Amount, o.PkScript)
}

// copy returns a deep copy of the output.
func (o *Output) copy() *Output {
	return &Output{
		Amount:             o.Amount,
		PkScript:           cloneBytes(o.PkScript),
		RedeemScript:       cloneBytes(o.RedeemScript),
		WitnessScript:      cloneBytes(o.WitnessScript),
		Bip32Derivation:    copyDerivations(o.Bip32Derivation),
		TaprootInternalKey: cloneBytes(o.TaprootInternalKey),
		TaprootTapTree:     cloneBytes(o.TaprootTapTree),
		TaprootBip32Derivation: copyTapDerivations(
			o.TaprootBip32Derivation,
		),
		Unknowns: copyUnknowns(o.Unknowns),
	}
}
