// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/psbt"
)

// FinalizeInput builds the final scriptSig and witness of the input at idx
// from its signatures. When every spent output is known the result is
// checked with the script engine before it is written.
func FinalizeInput(p *psbt.Packet, idx int) error {
	in, err := p.Input(idx)
	if err != nil {
		return err
	}

	if in.IsFinalized() {
		return &InputError{Index: idx, Err: psbt.ErrInputFinalized}
	}

	spend, err := Classify(in)
	if err != nil {
		return &InputError{Index: idx, Err: err}
	}

	scriptSig, witness, err := finalScripts(in, spend)
	if err != nil {
		return &InputError{Index: idx, Err: err}
	}

	if err := validateInput(p, idx, scriptSig, witness); err != nil {
		return &InputError{Index: idx, Err: err}
	}

	if err := p.SetFinalScripts(idx, scriptSig, witness); err != nil {
		return &InputError{Index: idx, Err: err}
	}

	log.Debugf("Finalized %v input %d", spend.Kind, idx)

	return nil
}

// FinalizeAll finalizes every input that is not finalized yet.
func FinalizeAll(p *psbt.Packet) error {
	for idx, in := range p.Inputs {
		if in.IsFinalized() {
			continue
		}

		if err := FinalizeInput(p, idx); err != nil {
			return err
		}
	}

	return nil
}

// finalScripts returns the final scriptSig and witness of the input.
func finalScripts(in *psbt.Input, spend Spend) ([]byte, wire.TxWitness,
	error) {

	switch spend.Kind {
	case SpendLegacy:
		stack, err := satisfy(in, spend.Class, spend.ScriptCode)
		if err != nil {
			return nil, nil, err
		}

		if spend.ScriptHash {
			stack = append(stack, in.RedeemScript)
		}

		scriptSig, err := pushScript(stack)

		return scriptSig, nil, err

	case SpendSegwitV0:
		stack, err := satisfy(in, spend.Class, spend.ScriptCode)
		if err != nil {
			return nil, nil, err
		}

		if spend.Class != txscript.WitnessV0PubKeyHashTy {
			stack = append(stack, in.WitnessScript)
		}

		var scriptSig []byte
		if spend.Nested {
			scriptSig, err = pushScript([][]byte{in.RedeemScript})
			if err != nil {
				return nil, nil, err
			}
		}

		return scriptSig, stack, nil

	default:
		witness, err := taprootWitness(in)

		return nil, witness, err
	}
}

// satisfy returns the stack satisfying script from the partial signatures
// of the input.
func satisfy(in *psbt.Input, class txscript.ScriptClass,
	script []byte) ([][]byte, error) {

	switch class {
	case txscript.PubKeyHashTy, txscript.WitnessV0PubKeyHashTy:
		for _, sig := range in.PartialSigs {
			if bytes.Contains(script, btcutil.Hash160(sig.PubKey)) {
				return [][]byte{sig.Signature, sig.PubKey}, nil
			}
		}

		return nil, fmt.Errorf("%w: no signature for key hash",
			ErrInsufficientSignatures)

	case txscript.PubKeyTy:
		pushes, err := txscript.PushedData(script)
		if err != nil || len(pushes) != 1 {
			return nil, fmt.Errorf("%w: malformed p2pk script",
				ErrUnknownScriptType)
		}

		if sig := partialSig(in, pushes[0]); sig != nil {
			return [][]byte{sig}, nil
		}

		return nil, fmt.Errorf("%w: no signature for %x",
			ErrInsufficientSignatures, pushes[0])

	case txscript.MultiSigTy:
		_, required, err := txscript.CalcMultiSigStats(script)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownScriptType, err)
		}

		pubKeys, err := txscript.PushedData(script)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownScriptType, err)
		}

		// CHECKMULTISIG pops one element more than it uses.
		stack := [][]byte{nil}
		for _, pubKey := range pubKeys {
			if len(stack) == required+1 {
				break
			}

			if sig := partialSig(in, pubKey); sig != nil {
				stack = append(stack, sig)
			}
		}

		if len(stack) < required+1 {
			return nil, fmt.Errorf("%w: %d of %d signatures",
				ErrInsufficientSignatures, len(stack)-1,
				required)
		}

		return stack, nil

	default:
		return nil, fmt.Errorf("%w: cannot satisfy %v",
			ErrUnknownScriptType, class)
	}
}

// partialSig returns the signature by pubKey, if any.
func partialSig(in *psbt.Input, pubKey []byte) []byte {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return sig.Signature
		}
	}

	return nil
}

// pushScript returns a script pushing every item.
func pushScript(items [][]byte) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}

	return builder.Script()
}

// taprootWitness returns the witness of a taproot input. The key path is
// used when a key spend signature exists, otherwise the smallest satisfied
// leaf.
func taprootWitness(in *psbt.Input) (wire.TxWitness, error) {
	if len(in.TaprootKeySpendSig) > 0 {
		return wire.TxWitness{in.TaprootKeySpendSig}, nil
	}

	var (
		best     wire.TxWitness
		bestSize int
	)
	for _, leaf := range in.TaprootLeafScript {
		witness, ok := satisfyLeaf(in, leaf)
		if !ok {
			continue
		}

		size := witness.SerializeSize()
		if best == nil || size < bestSize {
			best, bestSize = witness, size
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no satisfied taproot path",
			ErrInsufficientSignatures)
	}

	return best, nil
}

// satisfyLeaf returns the script path witness of a pk or multi_a leaf if
// enough signatures are present.
func satisfyLeaf(in *psbt.Input,
	leaf *btcpsbt.TaprootTapLeafScript) (wire.TxWitness, bool) {

	keys, threshold, ok := parseLeaf(leaf.Script)
	if !ok {
		return nil, false
	}

	leafHash := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()

	// The first key's signature is checked first, so it ends up on top
	// of the stack.
	sigs := make([][]byte, len(keys))
	var found int
	for i, key := range keys {
		if found == threshold {
			break
		}

		for _, sig := range in.TaprootScriptSpendSig {
			if bytes.Equal(sig.XOnlyPubKey, key) &&
				bytes.Equal(sig.LeafHash, leafHash[:]) {

				sigs[i] = sig.Signature
				found++

				break
			}
		}
	}

	if found < threshold {
		return nil, false
	}

	witness := make(wire.TxWitness, 0, len(keys)+2)
	for i := len(sigs) - 1; i >= 0; i-- {
		witness = append(witness, sigs[i])
	}
	witness = append(witness, leaf.Script, leaf.ControlBlock)

	return witness, true
}

// parseLeaf recognizes the scripts of pk and multi_a leaves and returns
// their keys and threshold.
func parseLeaf(script []byte) ([][]byte, int, bool) {
	var (
		keys      [][]byte
		threshold int
	)

	tok := txscript.MakeScriptTokenizer(0, script)
	for {
		if !tok.Next() {
			return nil, 0, false
		}

		if tok.Opcode() == txscript.OP_DATA_32 {
			keys = append(keys, tok.Data())

			want := byte(txscript.OP_CHECKSIGADD)
			if len(keys) == 1 {
				want = txscript.OP_CHECKSIG
			}

			if !tok.Next() {
				return nil, 0, false
			}

			switch op := tok.Opcode(); {
			// A single key followed by CHECKSIG and nothing else
			// is a pk leaf.
			case op == txscript.OP_CHECKSIG && len(keys) == 1 &&
				tok.Done():

				return keys, 1, tok.Err() == nil

			case op != want:
				return nil, 0, false
			}

			continue
		}

		var ok bool
		threshold, ok = scriptInt(tok.Opcode(), tok.Data())
		if !ok {
			return nil, 0, false
		}

		break
	}

	if !tok.Next() || tok.Opcode() != txscript.OP_NUMEQUAL ||
		tok.Next() || tok.Err() != nil {

		return nil, 0, false
	}

	if len(keys) == 0 || threshold < 1 || threshold > len(keys) {
		return nil, 0, false
	}

	return keys, threshold, true
}

// scriptInt decodes a small positive number pushed by a script.
func scriptInt(opcode byte, data []byte) (int, bool) {
	switch {
	case opcode >= txscript.OP_1 && opcode <= txscript.OP_16:
		return int(opcode-txscript.OP_1) + 1, true

	case len(data) == 0 || len(data) > 4:
		return 0, false

	case data[len(data)-1]&0x80 != 0:
		return 0, false
	}

	var n int
	for i := len(data) - 1; i >= 0; i-- {
		n = n<<8 | int(data[i])
	}

	return n, true
}

// validateInput runs the script engine over the final scripts of an input.
// Validation is skipped when not every spent output is known.
func validateInput(p *psbt.Packet, idx int, scriptSig []byte,
	witness wire.TxWitness) error {

	fetcher, complete := prevOutFetcher(p)
	if !complete {
		log.Debugf("Skipping validation of input %d: spent outputs "+
			"unknown", idx)

		return nil
	}

	tx, err := p.UnsignedTx()
	if err != nil {
		return err
	}
	tx.TxIn[idx].SignatureScript = scriptSig
	tx.TxIn[idx].Witness = witness

	prevOut := fetcher.FetchPrevOutput(tx.TxIn[idx].PreviousOutPoint)
	hashes := txscript.NewTxSigHashes(tx, fetcher)

	vm, err := txscript.NewEngine(
		prevOut.PkScript, tx, idx, txscript.StandardVerifyFlags, nil,
		hashes, prevOut.Value, fetcher,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScriptValidation, err)
	}

	if err := vm.Execute(); err != nil {
		return fmt.Errorf("%w: %v", ErrScriptValidation, err)
	}

	return nil
}
