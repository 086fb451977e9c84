// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Serialize writes the packet in the wire format selected by its version.
// Recognized fields are written in ascending key type order, followed by the
// unknown entries in their stored order.
func (p *Packet) Serialize(w io.Writer) error {
	if p.Version != V0 && p.Version != V2 {
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, p.Version)
	}

	// A v0 packet has no home for the v2 only fields, they are carried
	// as proprietary entries next to the native unknowns.
	var ext v0Extensions
	if p.Version == V0 {
		lockTime, err := p.LockTime()
		if err != nil {
			return err
		}

		ext = demoteV2Fields(p, lockTime)
	}

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}

	if err := p.writeGlobals(w, ext.global); err != nil {
		return err
	}

	for idx, in := range p.Inputs {
		var extra []*btcpsbt.Unknown
		if p.Version == V0 {
			extra = ext.inputs[idx]
		}

		if err := writeInput(w, in, p.Version, extra); err != nil {
			return fmt.Errorf("input %d: %w", idx, err)
		}
	}

	for idx, out := range p.Outputs {
		if err := writeOutput(w, out, p.Version); err != nil {
			return fmt.Errorf("output %d: %w", idx, err)
		}
	}

	return nil
}

// Bytes returns the serialized packet.
func (p *Packet) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := p.Serialize(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// B64Encode returns the base64 encoding of the serialized packet.
func (p *Packet) B64Encode() (string, error) {
	raw, err := p.Bytes()
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// writeGlobals writes the global map followed by its separator.
func (p *Packet) writeGlobals(w io.Writer, extra []*btcpsbt.Unknown) error {
	if p.Version == V0 {
		tx, err := p.UnsignedTx()
		if err != nil {
			return err
		}

		var txBuf bytes.Buffer
		if err := tx.SerializeNoWitness(&txBuf); err != nil {
			return err
		}

		err = writePair(w, globalUnsignedTxType, nil, txBuf.Bytes())
		if err != nil {
			return err
		}
	}

	for _, x := range p.XPubs {
		value := btcpsbt.SerializeBIP32Derivation(
			x.MasterKeyFingerprint, x.Bip32Path,
		)
		err := writePair(w, globalXPubType, x.ExtendedKey, value)
		if err != nil {
			return err
		}
	}

	if p.Version == V2 {
		err := writePair(
			w, globalTxVersionType, nil, uint32LE(uint32(p.TxVersion)),
		)
		if err != nil {
			return err
		}

		var fbErr error
		p.FallbackLockTime.WhenSome(func(lt uint32) {
			fbErr = writePair(
				w, globalFallbackLockType, nil, uint32LE(lt),
			)
		})
		if fbErr != nil {
			return fbErr
		}

		err = writePair(
			w, globalInputCountType, nil,
			compactSize(uint64(len(p.Inputs))),
		)
		if err != nil {
			return err
		}

		err = writePair(
			w, globalOutputCountType, nil,
			compactSize(uint64(len(p.Outputs))),
		)
		if err != nil {
			return err
		}

		var modErr error
		p.TxModifiable.WhenSome(func(flags uint8) {
			modErr = writePair(
				w, globalTxModifiableType, nil, []byte{flags},
			)
		})
		if modErr != nil {
			return modErr
		}

		err = writePair(w, globalVersionType, nil, uint32LE(uint32(V2)))
		if err != nil {
			return err
		}
	}

	if err := writeUnknowns(w, p.Unknowns); err != nil {
		return err
	}
	if err := writeUnknowns(w, extra); err != nil {
		return err
	}

	return writeSeparator(w)
}

// writeInput writes a single input map followed by its separator.
func writeInput(w io.Writer, in *Input, version Version,
	extra []*btcpsbt.Unknown) error {

	if in.NonWitnessUtxo != nil {
		var txBuf bytes.Buffer
		if err := in.NonWitnessUtxo.Serialize(&txBuf); err != nil {
			return err
		}

		err := writePair(w, inNonWitnessUtxoType, nil, txBuf.Bytes())
		if err != nil {
			return err
		}
	}

	if in.WitnessUtxo != nil {
		var outBuf bytes.Buffer
		err := wire.WriteTxOut(&outBuf, 0, 0, in.WitnessUtxo)
		if err != nil {
			return err
		}

		err = writePair(w, inWitnessUtxoType, nil, outBuf.Bytes())
		if err != nil {
			return err
		}
	}

	for _, sig := range in.PartialSigs {
		err := writePair(w, inPartialSigType, sig.PubKey, sig.Signature)
		if err != nil {
			return err
		}
	}

	var err error
	in.SighashType.WhenSome(func(sht txscript.SigHashType) {
		err = writePair(w, inSighashType, nil, uint32LE(uint32(sht)))
	})
	if err != nil {
		return err
	}

	if err := writeOptional(
		w, inRedeemScriptType, in.RedeemScript,
	); err != nil {
		return err
	}
	if err := writeOptional(
		w, inWitnessScriptType, in.WitnessScript,
	); err != nil {
		return err
	}

	if err := writeDerivations(
		w, inBip32DerivationType, in.Bip32Derivation,
	); err != nil {
		return err
	}

	if err := writeOptional(
		w, inFinalScriptSigType, in.FinalScriptSig,
	); err != nil {
		return err
	}
	if err := writeOptional(
		w, inFinalScriptWitnessType, in.FinalScriptWitness,
	); err != nil {
		return err
	}

	if version == V2 {
		if err := writeInputTxFields(w, in); err != nil {
			return err
		}
	}

	if err := writeOptional(
		w, inTapKeySigType, in.TaprootKeySpendSig,
	); err != nil {
		return err
	}

	for _, sig := range in.TaprootScriptSpendSig {
		keyData := append(
			cloneBytes(sig.XOnlyPubKey), sig.LeafHash...,
		)
		err := writePair(w, inTapScriptSigType, keyData, sig.Signature)
		if err != nil {
			return err
		}
	}

	for _, leaf := range in.TaprootLeafScript {
		value := append(cloneBytes(leaf.Script), byte(leaf.LeafVersion))
		err := writePair(
			w, inTapLeafScriptType, leaf.ControlBlock, value,
		)
		if err != nil {
			return err
		}
	}

	if err := writeTapDerivations(
		w, inTapBip32DerivationType, in.TaprootBip32Derivation,
	); err != nil {
		return err
	}

	if err := writeOptional(
		w, inTapInternalKeyType, in.TaprootInternalKey,
	); err != nil {
		return err
	}
	if err := writeOptional(
		w, inTapMerkleRootType, in.TaprootMerkleRoot,
	); err != nil {
		return err
	}

	if err := writeUnknowns(w, in.Unknowns); err != nil {
		return err
	}
	if err := writeUnknowns(w, extra); err != nil {
		return err
	}

	return writeSeparator(w)
}

// writeInputTxFields writes the v2 outpoint, sequence and lock time fields
// of an input.
func writeInputTxFields(w io.Writer, in *Input) error {
	op := in.PreviousOutPoint
	err := writePair(w, inPrevTxIDType, nil, op.Hash[:])
	if err != nil {
		return err
	}

	err = writePair(w, inOutputIndexType, nil, uint32LE(op.Index))
	if err != nil {
		return err
	}

	fields := []struct {
		keyType byte
		value   fn.Option[uint32]
	}{
		{inSequenceType, in.Sequence},
		{inRequiredTimeLockType, in.RequiredTimeLockTime},
		{inRequiredHeightLockType, in.RequiredHeightLockTime},
	}
	for _, f := range fields {
		f.value.WhenSome(func(v uint32) {
			err = writePair(w, f.keyType, nil, uint32LE(v))
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// writeOutput writes a single output map followed by its separator.
func writeOutput(w io.Writer, out *Output, version Version) error {
	if err := writeOptional(
		w, outRedeemScriptType, out.RedeemScript,
	); err != nil {
		return err
	}
	if err := writeOptional(
		w, outWitnessScriptType, out.WitnessScript,
	); err != nil {
		return err
	}

	if err := writeDerivations(
		w, outBip32DerivationType, out.Bip32Derivation,
	); err != nil {
		return err
	}

	if version == V2 {
		var amount [8]byte
		binary.LittleEndian.PutUint64(amount[:], uint64(out.Amount))

		err := writePair(w, outAmountType, nil, amount[:])
		if err != nil {
			return err
		}

		// The script is required in v2 even when it is empty.
		err = writePair(w, outScriptType, nil, out.PkScript)
		if err != nil {
			return err
		}
	}

	if err := writeOptional(
		w, outTapInternalKeyType, out.TaprootInternalKey,
	); err != nil {
		return err
	}
	if err := writeOptional(
		w, outTapTreeType, out.TaprootTapTree,
	); err != nil {
		return err
	}

	if err := writeTapDerivations(
		w, outTapBip32DerivationType, out.TaprootBip32Derivation,
	); err != nil {
		return err
	}

	if err := writeUnknowns(w, out.Unknowns); err != nil {
		return err
	}

	return writeSeparator(w)
}

// writeDerivations writes one entry per BIP-32 derivation.
func writeDerivations(w io.Writer, keyType byte,
	ds []*btcpsbt.Bip32Derivation) error {

	for _, d := range ds {
		value := btcpsbt.SerializeBIP32Derivation(
			d.MasterKeyFingerprint, d.Bip32Path,
		)
		if err := writePair(w, keyType, d.PubKey, value); err != nil {
			return err
		}
	}

	return nil
}

// writeTapDerivations writes one entry per taproot BIP-32 derivation.
func writeTapDerivations(w io.Writer, keyType byte,
	ds []*btcpsbt.TaprootBip32Derivation) error {

	for _, d := range ds {
		value, err := btcpsbt.SerializeTaprootBip32Derivation(d)
		if err != nil {
			return err
		}

		err = writePair(w, keyType, d.XOnlyPubKey, value)
		if err != nil {
			return err
		}
	}

	return nil
}

// writeOptional writes a key without key data if the value is set.
func writeOptional(w io.Writer, keyType byte, value []byte) error {
	if value == nil {
		return nil
	}

	return writePair(w, keyType, nil, value)
}

// writeUnknowns writes the raw entries in order.
func writeUnknowns(w io.Writer, unknowns []*btcpsbt.Unknown) error {
	for _, u := range unknowns {
		if err := wire.WriteVarBytes(w, 0, u.Key); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, u.Value); err != nil {
			return err
		}
	}

	return nil
}

// writePair writes a single key-value entry.
func writePair(w io.Writer, keyType byte, keyData, value []byte) error {
	key := make([]byte, 0, 1+len(keyData))
	key = append(key, keyType)
	key = append(key, keyData...)

	if err := wire.WriteVarBytes(w, 0, key); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, value)
}

// writeSeparator terminates a map.
func writeSeparator(w io.Writer) error {
	_, err := w.Write([]byte{0x00})
	return err
}

// uint32LE returns the little endian encoding of v.
func uint32LE(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)

	return b[:]
}

// compactSize returns the compact size encoding of v.
func compactSize(v uint64) []byte {
	var b bytes.Buffer

	// Writes to a bytes.Buffer never fail.
	_ = wire.WriteVarInt(&b, 0, v)

	return b.Bytes()
}

// SerializeWitness returns the PSBT encoding of a witness stack.
func SerializeWitness(witness wire.TxWitness) ([]byte, error) {
	var b bytes.Buffer
	if err := btcpsbt.WriteTxWitness(&b, witness); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}
