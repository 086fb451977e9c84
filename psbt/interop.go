// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ToBtcdPacket converts the packet into the v0 packet type of the btcutil
// psbt package. Output unknowns and v2 only fields are not carried over.
func ToBtcdPacket(p *Packet) (*btcpsbt.Packet, error) {
	tx, err := p.UnsignedTx()
	if err != nil {
		return nil, err
	}

	bp := &btcpsbt.Packet{
		UnsignedTx: tx,
		Inputs:     make([]btcpsbt.PInput, len(p.Inputs)),
		Outputs:    make([]btcpsbt.POutput, len(p.Outputs)),
		Unknowns:   copyUnknowns(p.Unknowns),
	}

	for idx, orig := range p.Inputs {
		in := orig.copy()
		bp.Inputs[idx] = btcpsbt.PInput{
			NonWitnessUtxo:         in.NonWitnessUtxo,
			WitnessUtxo:            in.WitnessUtxo,
			PartialSigs:            in.PartialSigs,
			SighashType:            in.SighashType.UnwrapOr(0),
			RedeemScript:           in.RedeemScript,
			WitnessScript:          in.WitnessScript,
			Bip32Derivation:        in.Bip32Derivation,
			FinalScriptSig:         in.FinalScriptSig,
			FinalScriptWitness:     in.FinalScriptWitness,
			TaprootKeySpendSig:     in.TaprootKeySpendSig,
			TaprootScriptSpendSig:  in.TaprootScriptSpendSig,
			TaprootLeafScript:      in.TaprootLeafScript,
			TaprootBip32Derivation: in.TaprootBip32Derivation,
			TaprootInternalKey:     in.TaprootInternalKey,
			TaprootMerkleRoot:      in.TaprootMerkleRoot,
			Unknowns:               in.Unknowns,
		}
	}

	for idx, orig := range p.Outputs {
		out := orig.copy()
		bp.Outputs[idx] = btcpsbt.POutput{
			RedeemScript:           out.RedeemScript,
			WitnessScript:          out.WitnessScript,
			Bip32Derivation:        out.Bip32Derivation,
			TaprootInternalKey:     out.TaprootInternalKey,
			TaprootTapTree:         out.TaprootTapTree,
			TaprootBip32Derivation: out.TaprootBip32Derivation,
		}
	}

	return bp, nil
}

// FromBtcdPacket converts a v0 packet of the btcutil psbt package into a
// v0 Packet.
func FromBtcdPacket(bp *btcpsbt.Packet) (*Packet, error) {
	if bp.UnsignedTx == nil ||
		len(bp.Inputs) != len(bp.UnsignedTx.TxIn) ||
		len(bp.Outputs) != len(bp.UnsignedTx.TxOut) {

		return nil, fmt.Errorf("%w: inputs and outputs do not match "+
			"unsigned tx", ErrInvalidPsbtFormat)
	}

	p := New(V0, bp.UnsignedTx.Version)
	p.Unknowns = copyUnknowns(bp.Unknowns)
	if err := skeletonFromTx(p, bp.UnsignedTx); err != nil {
		return nil, err
	}

	for idx := range bp.Inputs {
		src := &bp.Inputs[idx]
		in := p.Inputs[idx]

		in.NonWitnessUtxo = src.NonWitnessUtxo
		in.WitnessUtxo = src.WitnessUtxo
		in.PartialSigs = src.PartialSigs
		in.RedeemScript = src.RedeemScript
		in.WitnessScript = src.WitnessScript
		in.Bip32Derivation = src.Bip32Derivation
		in.FinalScriptSig = src.FinalScriptSig
		in.FinalScriptWitness = src.FinalScriptWitness
		in.TaprootKeySpendSig = src.TaprootKeySpendSig
		in.TaprootScriptSpendSig = src.TaprootScriptSpendSig
		in.TaprootLeafScript = src.TaprootLeafScript
		in.TaprootBip32Derivation = src.TaprootBip32Derivation
		in.TaprootInternalKey = src.TaprootInternalKey
		in.TaprootMerkleRoot = src.TaprootMerkleRoot
		in.Unknowns = src.Unknowns

		if src.SighashType != 0 {
			in.SighashType = fn.Some(src.SighashType)
		}

		// Detach from the source packet.
		p.Inputs[idx] = in.copy()
	}

	for idx := range bp.Outputs {
		src := &bp.Outputs[idx]
		out := p.Outputs[idx]

		out.RedeemScript = src.RedeemScript
		out.WitnessScript = src.WitnessScript
		out.Bip32Derivation = src.Bip32Derivation
		out.TaprootInternalKey = src.TaprootInternalKey
		out.TaprootTapTree = src.TaprootTapTree
		out.TaprootBip32Derivation = src.TaprootBip32Derivation

		p.Outputs[idx] = out.copy()
	}

	promoteV2Fields(p, bp.UnsignedTx.LockTime)

	return p, nil
}

// PrevOutputFetcher returns a fetcher over the outputs spent by the inputs
// of the packet. Inputs without UTXO information are left out.
func PrevOutputFetcher(p *Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range p.Inputs {
		prevOut, err := in.PrevOut()
		if err != nil {
			continue
		}

		fetcher.AddPrevOut(in.PreviousOutPoint, prevOut)
	}

	return fetcher
}
