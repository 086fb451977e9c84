// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SetTaprootKeySpendSig sets the key path signature of a taproot input.
func (p *Packet) SetTaprootKeySpendSig(idx int, sig []byte) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if !schnorrSigLen(sig) {
		return fmt.Errorf("%w: taproot key spend signature of %d bytes",
			ErrInvalidPsbtFormat, len(sig))
	}

	in.TaprootKeySpendSig = sig

	return nil
}

// AddTaprootScriptSpendSig adds a script path signature to a taproot input,
// replacing an earlier one for the same key and leaf.
func (p *Packet) AddTaprootScriptSpendSig(idx int,
	sig *btcpsbt.TaprootScriptSpendSig) error {

	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if len(sig.XOnlyPubKey) != 32 || len(sig.LeafHash) != 32 ||
		!schnorrSigLen(sig.Signature) {

		return errKeyData("taproot script spend signature")
	}

	for i, existing := range in.TaprootScriptSpendSig {
		if bytes.Equal(existing.XOnlyPubKey, sig.XOnlyPubKey) &&
			bytes.Equal(existing.LeafHash, sig.LeafHash) {

			in.TaprootScriptSpendSig[i] = sig
			return nil
		}
	}

	in.TaprootScriptSpendSig = append(in.TaprootScriptSpendSig, sig)

	return nil
}

// RecordSignature updates the modifiable flags of a v2 packet after a
// signature with the given sighash type was added. Packets without the
// flags are left untouched.
func (p *Packet) RecordSignature(sht txscript.SigHashType) {
	if p.Version != V2 || p.TxModifiable.IsNone() {
		return
	}

	flags := p.TxModifiable.UnwrapOr(0)
	if sht&txscript.SigHashAnyOneCanPay == 0 {
		flags &^= TxModifiableInputs
	}

	switch sht & sighashMask {
	case txscript.SigHashNone:

	case txscript.SigHashSingle:
		flags |= TxModifiableSighashSingle

	default:
		flags &^= TxModifiableOutputs
	}

	p.TxModifiable = fn.Some(flags)
}

// SetFinalScripts finalizes an input with the given scriptSig and witness.
// Everything but the UTXO data and unknown entries is removed from the
// input.
func (p *Packet) SetFinalScripts(idx int, scriptSig []byte,
	witness wire.TxWitness) error {

	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if len(scriptSig) == 0 && len(witness) == 0 {
		return fmt.Errorf("%w: empty final scripts for input %d",
			ErrInvalidPsbtFormat, idx)
	}

	var serialized []byte
	if len(witness) > 0 {
		serialized, err = SerializeWitness(witness)
		if err != nil {
			return err
		}
	}

	*in = Input{
		PreviousOutPoint:       in.PreviousOutPoint,
		Sequence:               in.Sequence,
		RequiredTimeLockTime:   in.RequiredTimeLockTime,
		RequiredHeightLockTime: in.RequiredHeightLockTime,
		NonWitnessUtxo:         in.NonWitnessUtxo,
		WitnessUtxo:            in.WitnessUtxo,
		FinalScriptSig:         scriptSig,
		FinalScriptWitness:     serialized,
		Unknowns:               in.Unknowns,
	}

	log.Tracef("Finalized input %d spending %v", idx, in.PreviousOutPoint)

	return nil
}
