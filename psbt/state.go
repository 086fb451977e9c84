// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// State is the lifecycle stage of a packet. It is derived from the packet's
// content, so the mutators of this package can only move it forward.
type State uint8

const (
	// StateConstructing means inputs and outputs are still being added
	// and the global fields are mutable.
	StateConstructing State = iota

	// StateUpdated means UTXO, script or derivation data has been
	// attached. Global fields are locked.
	StateUpdated

	// StateSigned means at least one input carries a signature.
	StateSigned

	// StateFinalized means every input carries its final scriptSig or
	// witness and the transaction can be extracted.
	StateFinalized
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"

	case StateUpdated:
		return "updated"

	case StateSigned:
		return "signed"

	case StateFinalized:
		return "finalized"

	default:
		return "unknown state"
	}
}

// State returns the current lifecycle state of the packet.
func (p *Packet) State() State {
	if p.IsComplete() {
		return StateFinalized
	}

	updated := false
	for _, in := range p.Inputs {
		if in.IsSigned() {
			return StateSigned
		}

		if in.hasUpdaterData() {
			updated = true
		}
	}

	for _, out := range p.Outputs {
		if out.hasUpdaterData() {
			updated = true
		}
	}

	if updated {
		return StateUpdated
	}

	return StateConstructing
}

// hasUpdaterData returns true if UTXO, script or derivation data has been
// attached to the input.
func (i *Input) hasUpdaterData() bool {
	return i.NonWitnessUtxo != nil || i.WitnessUtxo != nil ||
		i.SighashType.IsSome() || i.RedeemScript != nil ||
		i.WitnessScript != nil || len(i.Bip32Derivation) > 0 ||
		len(i.TaprootLeafScript) > 0 ||
		len(i.TaprootBip32Derivation) > 0 ||
		i.TaprootInternalKey != nil || i.TaprootMerkleRoot != nil
}

// hasUpdaterData returns true if script or derivation data has been attached
// to the output.
func (o *Output) hasUpdaterData() bool {
	return o.RedeemScript != nil || o.WitnessScript != nil ||
		len(o.Bip32Derivation) > 0 || o.TaprootInternalKey != nil ||
		o.TaprootTapTree != nil || len(o.TaprootBip32Derivation) > 0
}

// signatureSighashes returns the sighash types of all signatures in the
// packet, keyed by input index.
func (p *Packet) signatureSighashes() map[int][]txscript.SigHashType {
	types := make(map[int][]txscript.SigHashType)
	for idx, in := range p.Inputs {
		if !in.IsSigned() {
			continue
		}

		types[idx] = in.SignatureSighashes()
	}

	return types
}

// checkAddInput verifies that a new input may be added.
func (p *Packet) checkAddInput() error {
	if p.State() < StateSigned {
		return nil
	}

	for idx, types := range p.signatureSighashes() {
		for _, sht := range types {
			if sht&txscript.SigHashAnyOneCanPay == 0 {
				return fmt.Errorf("%w: input %d signature "+
					"commits to all inputs",
					ErrMutationAfterSigning, idx)
			}
		}
	}

	if p.Version == V2 {
		flags := p.TxModifiable.UnwrapOr(0)
		if flags&TxModifiableInputs == 0 {
			return fmt.Errorf("%w: inputs", ErrNotModifiable)
		}
	}

	return nil
}

// checkAddOutput verifies that a new output may be appended.
func (p *Packet) checkAddOutput() error {
	if p.State() < StateSigned {
		return nil
	}

	for idx, types := range p.signatureSighashes() {
		for _, sht := range types {
			base := sht & sighashMask
			if base != txscript.SigHashNone &&
				base != txscript.SigHashSingle {

				return fmt.Errorf("%w: input %d signature "+
					"commits to all outputs",
					ErrMutationAfterSigning, idx)
			}
		}
	}

	if p.Version == V2 {
		flags := p.TxModifiable.UnwrapOr(0)
		if flags&TxModifiableOutputs == 0 {
			return fmt.Errorf("%w: outputs", ErrNotModifiable)
		}
	}

	return nil
}

// outputCommitted returns true if any signature commits to the output at
// the given index.
func (p *Packet) outputCommitted(outIdx int) bool {
	for inIdx, types := range p.signatureSighashes() {
		for _, sht := range types {
			switch sht & sighashMask {
			case txscript.SigHashNone:

			case txscript.SigHashSingle:
				if inIdx == outIdx {
					return true
				}

			default:
				return true
			}
		}
	}

	return false
}
