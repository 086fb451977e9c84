// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// MaxRBFSequence is the highest sequence number that still signals
	// opt-in replace-by-fee.
	MaxRBFSequence = wire.MaxTxInSequenceNum - 2

	// sighashMask extracts the base sighash type from a sighash byte.
	sighashMask = 0x1f
)

// Input is a single input map. The outpoint, sequence and lock time
// requirements are stored here for both format versions.
type Input struct {
	PreviousOutPoint wire.OutPoint

	// Sequence is the input's sequence number. None means final
	// (0xffffffff).
	Sequence fn.Option[uint32]

	RequiredTimeLockTime   fn.Option[uint32]
	RequiredHeightLockTime fn.Option[uint32]

	NonWitnessUtxo *wire.MsgTx
	WitnessUtxo    *wire.TxOut

	PartialSigs []*btcpsbt.PartialSig
	SighashType fn.Option[txscript.SigHashType]

	RedeemScript    []byte
	WitnessScript   []byte
	Bip32Derivation []*btcpsbt.Bip32Derivation

	FinalScriptSig     []byte
	FinalScriptWitness []byte

	TaprootKeySpendSig     []byte
	TaprootScriptSpendSig  []*btcpsbt.TaprootScriptSpendSig
	TaprootLeafScript      []*btcpsbt.TaprootTapLeafScript
	TaprootBip32Derivation []*btcpsbt.TaprootBip32Derivation
	TaprootInternalKey     []byte
	TaprootMerkleRoot      []byte

	// Unknowns holds unrecognized and proprietary entries in decode
	// order.
	Unknowns []*btcpsbt.Unknown
}

// NewInput creates an input spending the given outpoint.
func NewInput(op wire.OutPoint) *Input {
	return &Input{PreviousOutPoint: op}
}

// SequenceNum returns the effective sequence number of the input.
func (i *Input) SequenceNum() uint32 {
	return i.Sequence.UnwrapOr(wire.MaxTxInSequenceNum)
}

// SignalsRBF returns true if the input's sequence opts into replacement.
func (i *Input) SignalsRBF() bool {
	return i.SequenceNum() <= MaxRBFSequence
}

// IsFinalized returns true if the input carries its final scriptSig or
// witness.
func (i *Input) IsFinalized() bool {
	return len(i.FinalScriptSig) > 0 || len(i.FinalScriptWitness) > 0
}

// IsSigned returns true if the input carries at least one signature or is
// finalized.
func (i *Input) IsSigned() bool {
	return i.IsFinalized() || len(i.PartialSigs) > 0 ||
		len(i.TaprootKeySpendSig) > 0 || len(i.TaprootScriptSpendSig) > 0
}

// PrevOut returns the output spent by this input. The witness UTXO is
// preferred; otherwise the output is taken from the non-witness UTXO after
// checking that it hashes to the spent outpoint.
func (i *Input) PrevOut() (*wire.TxOut, error) {
	if i.WitnessUtxo != nil {
		return i.WitnessUtxo, nil
	}

	if i.NonWitnessUtxo == nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingPrevout,
			i.PreviousOutPoint)
	}

	if i.NonWitnessUtxo.TxHash() != i.PreviousOutPoint.Hash {
		return nil, fmt.Errorf("%w: %v", ErrPrevTxMismatch,
			i.PreviousOutPoint)
	}

	idx := i.PreviousOutPoint.Index
	if int(idx) >= len(i.NonWitnessUtxo.TxOut) {
		return nil, fmt.Errorf("%w: output index %d out of range",
			ErrMissingPrevout, idx)
	}

	return i.NonWitnessUtxo.TxOut[idx], nil
}

// SignatureSighashes returns the sighash type committed to by every
// signature the input carries. Signatures inside a final scriptSig or
// witness are recognized by their encoding; a finalized input whose
// signatures cannot be recognized reports SIGHASH_ALL.
func (i *Input) SignatureSighashes() []txscript.SigHashType {
	var types []txscript.SigHashType
	for _, sig := range i.PartialSigs {
		if len(sig.Signature) > 0 {
			types = append(types, txscript.SigHashType(
				sig.Signature[len(sig.Signature)-1],
			))
		}
	}

	if len(i.TaprootKeySpendSig) > 0 {
		types = append(types, schnorrSighash(i.TaprootKeySpendSig))
	}
	for _, sig := range i.TaprootScriptSpendSig {
		types = append(types, schnorrSighash(sig.Signature))
	}

	if !i.IsFinalized() {
		return types
	}

	found := false
	for _, item := range i.finalStackItems() {
		sht, ok := recognizeSignature(item)
		if ok {
			found = true
			types = append(types, sht)
		}
	}

	if !found {
		types = append(types, txscript.SigHashAll)
	}

	return types
}

// finalStackItems returns the data pushes of the final scriptSig followed by
// the final witness items.
func (i *Input) finalStackItems() [][]byte {
	var items [][]byte
	if len(i.FinalScriptSig) > 0 {
		pushes, err := txscript.PushedData(i.FinalScriptSig)
		if err == nil {
			items = append(items, pushes...)
		}
	}

	if len(i.FinalScriptWitness) > 0 {
		witness, err := ParseWitness(i.FinalScriptWitness)
		if err == nil {
			items = append(items, witness...)
		}
	}

	return items
}

// schnorrSighash returns the sighash type of a 64 or 65 byte schnorr
// signature.
func schnorrSighash(sig []byte) txscript.SigHashType {
	if len(sig) == 65 {
		return txscript.SigHashType(sig[64])
	}

	return txscript.SigHashDefault
}

// recognizeSignature reports whether a stack item is a signature and, if so,
// the sighash type it commits to.
func recognizeSignature(item []byte) (txscript.SigHashType, bool) {
	switch {
	case len(item) == 64:
		return txscript.SigHashDefault, true

	// A 65 byte item is either an uncompressed public key or a schnorr
	// signature with an explicit sighash byte.
	case len(item) == 65 && item[0] != 0x04:
		return txscript.SigHashType(item[64]), true

	case len(item) > 8 && item[0] == 0x30:
		_, err := ecdsa.ParseDERSignature(item[:len(item)-1])
		if err != nil {
			return 0, false
		}

		return txscript.SigHashType(item[len(item)-1]), true

	default:
		return 0, false
	}
}

// hasPartialSig returns true if a partial signature for the given public key
// is present.
func (i *Input) hasPartialSig(pubKey []byte) bool {
	for _, sig := range i.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}

	return false
}

// copy returns a deep copy of the input.
func (i *Input) copy() *Input {
	cp := *i

	if i.NonWitnessUtxo != nil {
		cp.NonWitnessUtxo = i.NonWitnessUtxo.Copy()
	}
	if i.WitnessUtxo != nil {
		cp.WitnessUtxo = wire.NewTxOut(
			i.WitnessUtxo.Value, cloneBytes(i.WitnessUtxo.PkScript),
		)
	}

	cp.PartialSigs = nil
	for _, s := range i.PartialSigs {
		cp.PartialSigs = append(cp.PartialSigs, &btcpsbt.PartialSig{
			PubKey:    cloneBytes(s.PubKey),
			Signature: cloneBytes(s.Signature),
		})
	}

	cp.RedeemScript = cloneBytes(i.RedeemScript)
	cp.WitnessScript = cloneBytes(i.WitnessScript)
	cp.Bip32Derivation = copyDerivations(i.Bip32Derivation)
	cp.FinalScriptSig = cloneBytes(i.FinalScriptSig)
	cp.FinalScriptWitness = cloneBytes(i.FinalScriptWitness)
	cp.TaprootKeySpendSig = cloneBytes(i.TaprootKeySpendSig)

	cp.TaprootScriptSpendSig = nil
	for _, s := range i.TaprootScriptSpendSig {
		cp.TaprootScriptSpendSig = append(cp.TaprootScriptSpendSig,
			&btcpsbt.TaprootScriptSpendSig{
				XOnlyPubKey: cloneBytes(s.XOnlyPubKey),
				LeafHash:    cloneBytes(s.LeafHash),
				Signature:   cloneBytes(s.Signature),
				SigHash:     s.SigHash,
			})
	}

	cp.TaprootLeafScript = nil
	for _, l := range i.TaprootLeafScript {
		cp.TaprootLeafScript = append(cp.TaprootLeafScript,
			&btcpsbt.TaprootTapLeafScript{
				ControlBlock: cloneBytes(l.ControlBlock),
				Script:       cloneBytes(l.Script),
				LeafVersion:  l.LeafVersion,
			})
	}

	cp.TaprootBip32Derivation = copyTapDerivations(
		i.TaprootBip32Derivation,
	)
	cp.TaprootInternalKey = cloneBytes(i.TaprootInternalKey)
	cp.TaprootMerkleRoot = cloneBytes(i.TaprootMerkleRoot)
	cp.Unknowns = copyUnknowns(i.Unknowns)

	return &cp
}

// copyDerivations deep copies BIP-32 derivation entries.
func copyDerivations(
	ds []*btcpsbt.Bip32Derivation) []*btcpsbt.Bip32Derivation {

	var cp []*btcpsbt.Bip32Derivation
	for _, d := range ds {
		cp = append(cp, &btcpsbt.Bip32Derivation{
			PubKey:               cloneBytes(d.PubKey),
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            cloneSlice(d.Bip32Path),
		})
	}

	return cp
}

// copyTapDerivations deep copies taproot BIP-32 derivation entries.
func copyTapDerivations(
	ds []*btcpsbt.TaprootBip32Derivation) []*btcpsbt.TaprootBip32Derivation {

	var cp []*btcpsbt.TaprootBip32Derivation
	for _, d := range ds {
		var leaves [][]byte
		for _, l := range d.LeafHashes {
			leaves = append(leaves, cloneBytes(l))
		}

		cp = append(cp, &btcpsbt.TaprootBip32Derivation{
			XOnlyPubKey:          cloneBytes(d.XOnlyPubKey),
			LeafHashes:           leaves,
			MasterKeyFingerprint: d.MasterKeyFingerprint,
			Bip32Path:            cloneSlice(d.Bip32Path),
		})
	}

	return cp
}
