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

// AddInput appends an input to the packet. Once the packet is signed, inputs
// can only be added if every existing signature is ANYONECANPAY and, for v2
// packets, the inputs modifiable flag is set.
func (p *Packet) AddInput(in *Input) (int, error) {
	if err := p.checkAddInput(); err != nil {
		return 0, err
	}

	for _, existing := range p.Inputs {
		if existing.PreviousOutPoint == in.PreviousOutPoint {
			return 0, fmt.Errorf("%w: %v", ErrDuplicateInput,
				in.PreviousOutPoint)
		}
	}

	p.Inputs = append(p.Inputs, in)

	log.Tracef("Added input %v at index %d", in.PreviousOutPoint,
		len(p.Inputs)-1)

	return len(p.Inputs) - 1, nil
}

// AddOutput appends an output to the packet. Once the packet is signed,
// outputs can only be added if every existing signature is NONE or SINGLE
// and, for v2 packets, the outputs modifiable flag is set.
func (p *Packet) AddOutput(out *Output) (int, error) {
	if err := p.checkAddOutput(); err != nil {
		return 0, err
	}

	p.Outputs = append(p.Outputs, out)

	return len(p.Outputs) - 1, nil
}

// SetTxVersion sets the version of the transaction.
func (p *Packet) SetTxVersion(version int32) error {
	if err := p.checkGlobalsMutable(); err != nil {
		return err
	}

	p.TxVersion = version

	return nil
}

// SetFallbackLockTime sets the lock time used when no input requires one.
func (p *Packet) SetFallbackLockTime(lockTime uint32) error {
	if err := p.checkGlobalsMutable(); err != nil {
		return err
	}

	p.FallbackLockTime = fn.Some(lockTime)

	return nil
}

// SetTxModifiable sets the BIP-370 modifiable flags.
func (p *Packet) SetTxModifiable(flags uint8) error {
	if err := p.checkGlobalsMutable(); err != nil {
		return err
	}

	p.TxModifiable = fn.Some(flags)

	return nil
}

// checkGlobalsMutable returns ErrGlobalLocked once the packet left the
// constructing state.
func (p *Packet) checkGlobalsMutable() error {
	if state := p.State(); state > StateConstructing {
		return fmt.Errorf("%w: packet is %v", ErrGlobalLocked, state)
	}

	return nil
}

// SetOutputAmount changes the amount of an output. After the packet has been
// updated this is only allowed as a fee bump, when every input signals
// replace-by-fee, and never for an output a signature commits to.
func (p *Packet) SetOutputAmount(idx int, amount int64) error {
	out, err := p.Output(idx)
	if err != nil {
		return err
	}

	switch state := p.State(); {
	case state == StateConstructing:

	case p.outputCommitted(idx):
		return fmt.Errorf("%w: output %d is signed",
			ErrMutationAfterSigning, idx)

	default:
		for inIdx, in := range p.Inputs {
			if !in.SignalsRBF() {
				return fmt.Errorf("%w: input %d does not signal "+
					"rbf", ErrGlobalLocked, inIdx)
			}
		}
	}

	out.Amount = amount

	return nil
}

// mutableInput returns the input at idx if it is not finalized.
func (p *Packet) mutableInput(idx int) (*Input, error) {
	in, err := p.Input(idx)
	if err != nil {
		return nil, err
	}

	if in.IsFinalized() {
		return nil, fmt.Errorf("%w: input %d", ErrInputFinalized, idx)
	}

	return in, nil
}

// mutableOutput returns the output at idx if no signature commits to it.
func (p *Packet) mutableOutput(idx int) (*Output, error) {
	out, err := p.Output(idx)
	if err != nil {
		return nil, err
	}

	if p.outputCommitted(idx) {
		return nil, fmt.Errorf("%w: output %d is signed",
			ErrMutationAfterSigning, idx)
	}

	return out, nil
}

// AddInNonWitnessUtxo attaches the full previous transaction to an input.
func (p *Packet) AddInNonWitnessUtxo(idx int, tx *wire.MsgTx) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if tx.TxHash() != in.PreviousOutPoint.Hash {
		return fmt.Errorf("%w: input %d", ErrPrevTxMismatch, idx)
	}

	in.NonWitnessUtxo = tx

	return nil
}

// AddInWitnessUtxo attaches the spent output to an input.
func (p *Packet) AddInWitnessUtxo(idx int, txOut *wire.TxOut) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	in.WitnessUtxo = txOut

	return nil
}

// AddInSighashType requests a sighash type for an input. The type cannot be
// changed once the input carries a signature.
func (p *Packet) AddInSighashType(idx int, sht txscript.SigHashType) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if in.IsSigned() {
		return fmt.Errorf("%w: input %d", ErrMutationAfterSigning, idx)
	}

	in.SighashType = fn.Some(sht)

	return nil
}

// AddInRedeemScript sets the redeem script of an input.
func (p *Packet) AddInRedeemScript(idx int, script []byte) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	in.RedeemScript = script

	return nil
}

// AddInWitnessScript sets the witness script of an input.
func (p *Packet) AddInWitnessScript(idx int, script []byte) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	in.WitnessScript = script

	return nil
}

// AddInBip32Derivation records the origin of a public key used by an input,
// replacing an earlier entry for the same key.
func (p *Packet) AddInBip32Derivation(idx int,
	d *btcpsbt.Bip32Derivation) error {

	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if err := checkPubKey(d.PubKey); err != nil {
		return err
	}

	in.Bip32Derivation = upsertDerivation(in.Bip32Derivation, d)

	return nil
}

// AddInTaprootBip32Derivation records the origin of an x-only key used by a
// taproot input, replacing an earlier entry for the same key.
func (p *Packet) AddInTaprootBip32Derivation(idx int,
	d *btcpsbt.TaprootBip32Derivation) error {

	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if len(d.XOnlyPubKey) != 32 {
		return errKeyData("taproot bip32 derivation")
	}

	in.TaprootBip32Derivation = upsertTapDerivation(
		in.TaprootBip32Derivation, d,
	)

	return nil
}

// AddPartialSig adds an ECDSA signature to an input. Adding the same
// signature twice is a no-op, a different signature for a key that already
// signed is rejected.
func (p *Packet) AddPartialSig(idx int, pubKey, sig []byte) error {
	in, err := p.mutableInput(idx)
	if err != nil {
		return err
	}

	if err := checkPubKey(pubKey); err != nil {
		return err
	}

	for _, existing := range in.PartialSigs {
		if !bytes.Equal(existing.PubKey, pubKey) {
			continue
		}

		if bytes.Equal(existing.Signature, sig) {
			return nil
		}

		return fmt.Errorf("%w: partial signature for %x",
			ErrDuplicateKey, pubKey)
	}

	in.PartialSigs = append(in.PartialSigs, &btcpsbt.PartialSig{
		PubKey:    pubKey,
		Signature: sig,
	})

	return nil
}

// AddOutBip32Derivation records the origin of a public key used by an
// output, replacing an earlier entry for the same key.
func (p *Packet) AddOutBip32Derivation(idx int,
	d *btcpsbt.Bip32Derivation) error {

	out, err := p.mutableOutput(idx)
	if err != nil {
		return err
	}

	if err := checkPubKey(d.PubKey); err != nil {
		return err
	}

	out.Bip32Derivation = upsertDerivation(out.Bip32Derivation, d)

	return nil
}

// upsertDerivation replaces the entry for the same public key or appends d.
func upsertDerivation(ds []*btcpsbt.Bip32Derivation,
	d *btcpsbt.Bip32Derivation) []*btcpsbt.Bip32Derivation {

	for i, existing := range ds {
		if bytes.Equal(existing.PubKey, d.PubKey) {
			ds[i] = d
			return ds
		}
	}

	return append(ds, d)
}

// upsertTapDerivation replaces the entry for the same x-only key or appends
// d.
func upsertTapDerivation(ds []*btcpsbt.TaprootBip32Derivation,
	d *btcpsbt.TaprootBip32Derivation) []*btcpsbt.TaprootBip32Derivation {

	for i, existing := range ds {
		if bytes.Equal(existing.XOnlyPubKey, d.XOnlyPubKey) {
			ds[i] = d
			return ds
		}
	}

	return append(ds, d)
}
