// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Combine merges the information of two packets that describe the same
// transaction into a new packet. Key-value entries are unioned; where both
// packets carry a scalar field the value of a is kept. The result has the
// version of a.
func Combine(a, b *Packet) (*Packet, error) {
	if err := sameTransaction(a, b); err != nil {
		return nil, err
	}

	merged := a.Copy()
	src := b.Copy()

	merged.XPubs = unionBy(merged.XPubs, src.XPubs, func(x *XPub) string {
		return string(x.ExtendedKey)
	})
	merged.Unknowns = unionUnknowns(merged.Unknowns, src.Unknowns)

	if merged.FallbackLockTime.IsNone() {
		merged.FallbackLockTime = src.FallbackLockTime
	}

	// Inputs and outputs stay modifiable only if both sides allow it,
	// while a SIGHASH_SINGLE signature on either side is remembered.
	if a.TxModifiable.IsSome() || b.TxModifiable.IsSome() {
		const both = TxModifiableInputs | TxModifiableOutputs

		fa := a.TxModifiable.UnwrapOr(both)
		fb := b.TxModifiable.UnwrapOr(both)

		flags := fa & fb & both
		flags |= (fa | fb) & TxModifiableSighashSingle
		merged.TxModifiable = fn.Some(flags)
	}

	for idx, in := range merged.Inputs {
		combineInput(in, src.Inputs[idx])
	}

	for idx, out := range merged.Outputs {
		combineOutput(out, src.Outputs[idx])
	}

	log.Debugf("Combined psbts with %d inputs and %d outputs",
		len(merged.Inputs), len(merged.Outputs))

	return merged, nil
}

// sameTransaction checks that two packets build the same transaction.
func sameTransaction(a, b *Packet) error {
	if a.TxVersion != b.TxVersion || len(a.Inputs) != len(b.Inputs) ||
		len(a.Outputs) != len(b.Outputs) {

		return ErrCombineMismatch
	}

	for idx, in := range a.Inputs {
		other := b.Inputs[idx]
		if in.PreviousOutPoint != other.PreviousOutPoint ||
			in.SequenceNum() != other.SequenceNum() {

			return fmt.Errorf("%w: input %d", ErrCombineMismatch, idx)
		}
	}

	for idx, out := range a.Outputs {
		other := b.Outputs[idx]
		if out.Amount != other.Amount ||
			!bytes.Equal(out.PkScript, other.PkScript) {

			return fmt.Errorf("%w: output %d", ErrCombineMismatch, idx)
		}
	}

	return nil
}

// combineInput merges src into dst.
func combineInput(dst, src *Input) {
	if dst.NonWitnessUtxo == nil {
		dst.NonWitnessUtxo = src.NonWitnessUtxo
	}
	if dst.WitnessUtxo == nil {
		dst.WitnessUtxo = src.WitnessUtxo
	}
	if dst.SighashType.IsNone() {
		dst.SighashType = src.SighashType
	}
	if dst.RequiredTimeLockTime.IsNone() {
		dst.RequiredTimeLockTime = src.RequiredTimeLockTime
	}
	if dst.RequiredHeightLockTime.IsNone() {
		dst.RequiredHeightLockTime = src.RequiredHeightLockTime
	}

	dst.RedeemScript = firstSet(dst.RedeemScript, src.RedeemScript)
	dst.WitnessScript = firstSet(dst.WitnessScript, src.WitnessScript)
	dst.TaprootKeySpendSig = firstSet(
		dst.TaprootKeySpendSig, src.TaprootKeySpendSig,
	)
	dst.TaprootInternalKey = firstSet(
		dst.TaprootInternalKey, src.TaprootInternalKey,
	)
	dst.TaprootMerkleRoot = firstSet(
		dst.TaprootMerkleRoot, src.TaprootMerkleRoot,
	)

	// A finalized side wins as a whole, the signing data it replaced is
	// no longer needed.
	if !dst.IsFinalized() && src.IsFinalized() {
		dst.FinalScriptSig = src.FinalScriptSig
		dst.FinalScriptWitness = src.FinalScriptWitness
	}

	dst.PartialSigs = unionBy(dst.PartialSigs, src.PartialSigs,
		func(s *btcpsbt.PartialSig) string {
			return string(s.PubKey)
		},
	)
	dst.Bip32Derivation = unionBy(dst.Bip32Derivation,
		src.Bip32Derivation, func(d *btcpsbt.Bip32Derivation) string {
			return string(d.PubKey)
		},
	)
	dst.TaprootScriptSpendSig = unionBy(dst.TaprootScriptSpendSig,
		src.TaprootScriptSpendSig,
		func(s *btcpsbt.TaprootScriptSpendSig) string {
			return string(s.XOnlyPubKey) + string(s.LeafHash)
		},
	)
	dst.TaprootLeafScript = unionBy(dst.TaprootLeafScript,
		src.TaprootLeafScript,
		func(l *btcpsbt.TaprootTapLeafScript) string {
			return string(l.ControlBlock)
		},
	)
	dst.TaprootBip32Derivation = unionBy(dst.TaprootBip32Derivation,
		src.TaprootBip32Derivation,
		func(d *btcpsbt.TaprootBip32Derivation) string {
			return string(d.XOnlyPubKey)
		},
	)
	dst.Unknowns = unionUnknowns(dst.Unknowns, src.Unknowns)
}

// combineOutput merges src into dst.
func combineOutput(dst, src *Output) {
	dst.RedeemScript = firstSet(dst.RedeemScript, src.RedeemScript)
	dst.WitnessScript = firstSet(dst.WitnessScript, src.WitnessScript)
	dst.TaprootInternalKey = firstSet(
		dst.TaprootInternalKey, src.TaprootInternalKey,
	)
	dst.TaprootTapTree = firstSet(dst.TaprootTapTree, src.TaprootTapTree)

	dst.Bip32Derivation = unionBy(dst.Bip32Derivation,
		src.Bip32Derivation, func(d *btcpsbt.Bip32Derivation) string {
			return string(d.PubKey)
		},
	)
	dst.TaprootBip32Derivation = unionBy(dst.TaprootBip32Derivation,
		src.TaprootBip32Derivation,
		func(d *btcpsbt.TaprootBip32Derivation) string {
			return string(d.XOnlyPubKey)
		},
	)
	dst.Unknowns = unionUnknowns(dst.Unknowns, src.Unknowns)
}

// unionBy appends the elements of src whose key is not present in dst.
func unionBy[T any](dst, src []T, key func(T) string) []T {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[key(v)] = struct{}{}
	}

	for _, v := range src {
		k := key(v)
		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		dst = append(dst, v)
	}

	return dst
}

// unionUnknowns merges unknown entries by key.
func unionUnknowns(dst, src []*btcpsbt.Unknown) []*btcpsbt.Unknown {
	return unionBy(dst, src, func(u *btcpsbt.Unknown) string {
		return string(u.Key)
	})
}

// firstSet returns a unless it is nil.
func firstSet(a, b []byte) []byte {
	if a != nil {
		return a
	}

	return b
}

// Extract returns the final network transaction of a fully finalized
// packet.
func Extract(p *Packet) (*wire.MsgTx, error) {
	if !p.IsComplete() {
		return nil, ErrNotFinalized
	}

	tx, err := p.UnsignedTx()
	if err != nil {
		return nil, err
	}

	for idx, in := range p.Inputs {
		tx.TxIn[idx].SignatureScript = in.FinalScriptSig

		if len(in.FinalScriptWitness) == 0 {
			continue
		}

		witness, err := ParseWitness(in.FinalScriptWitness)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}
		tx.TxIn[idx].Witness = witness
	}

	return tx, nil
}
