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

	"github.com/btcsuite/btcd/btcec/v2"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// entry is a single decoded key-value pair of a map.
type entry struct {
	// keyType is the first key byte. Keys whose type does not fit in a
	// single byte are never recognized and keep known set to false.
	keyType byte
	known   bool

	key     []byte
	keyData []byte
	value   []byte
}

// unknown returns the entry as a passthrough entry.
func (e *entry) unknown() *btcpsbt.Unknown {
	return &btcpsbt.Unknown{Key: e.key, Value: e.value}
}

// NewFromRawBytes decodes a packet from r, which holds either the binary
// serialization or, if b64 is set, its base64 encoding.
func NewFromRawBytes(r io.Reader, b64 bool) (*Packet, error) {
	if b64 {
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	return Decode(r)
}

// NewFromBase64 decodes a base64 encoded packet.
func NewFromBase64(s string) (*Packet, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPsbtFormat, err)
	}

	return Decode(bytes.NewReader(raw))
}

// Decode reads a binary serialized packet of either version.
func Decode(r io.Reader) (*Packet, error) {
	var m [5]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMagic, err)
	}
	if m != magic {
		return nil, ErrInvalidMagic
	}

	globals, err := readMap(r)
	if err != nil {
		return nil, fmt.Errorf("global map: %w", err)
	}

	p, counts, err := parseGlobals(globals)
	if err != nil {
		return nil, err
	}

	for idx := 0; idx < counts.inputs; idx++ {
		entries, err := readMap(r)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}

		in := &Input{}
		if p.Version == V0 {
			in = p.Inputs[idx]
		}

		if err := parseInput(in, entries, p.Version); err != nil {
			return nil, fmt.Errorf("input %d: %w", idx, err)
		}

		if p.Version == V2 {
			p.Inputs = append(p.Inputs, in)
		}
	}

	for idx := 0; idx < counts.outputs; idx++ {
		entries, err := readMap(r)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", idx, err)
		}

		out := &Output{}
		if p.Version == V0 {
			out = p.Outputs[idx]
		}

		if err := parseOutput(out, entries, p.Version); err != nil {
			return nil, fmt.Errorf("output %d: %w", idx, err)
		}

		if p.Version == V2 {
			p.Outputs = append(p.Outputs, out)
		}
	}

	if p.Version == V0 {
		promoteV2Fields(p, counts.lockTime)
	}

	log.Tracef("Decoded %v psbt with %d inputs and %d outputs",
		p.Version, len(p.Inputs), len(p.Outputs))

	return p, nil
}

// readMap reads key-value pairs until the map separator. Duplicate keys are
// rejected.
func readMap(r io.Reader) ([]*entry, error) {
	var (
		entries []*entry
		seen    = make(map[string]struct{})
	)
	for {
		keyLen, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPsbtFormat, err)
		}

		// A zero length key is the separator.
		if keyLen == 0 {
			return entries, nil
		}

		if keyLen > maxKeyLength {
			return nil, fmt.Errorf("%w: key of %d bytes",
				ErrInvalidPsbtFormat, keyLen)
		}

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPsbtFormat, err)
		}

		value, err := wire.ReadVarBytes(r, 0, maxValueLength, "value")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPsbtFormat, err)
		}

		if _, ok := seen[string(key)]; ok {
			return nil, fmt.Errorf("%w: %x", ErrDuplicateKey, key)
		}
		seen[string(key)] = struct{}{}

		e := &entry{key: key, value: value}
		if key[0] < 0xfd {
			e.keyType = key[0]
			e.known = true
			e.keyData = key[1:]
		}

		entries = append(entries, e)
	}
}

// mapCounts carries the global information needed to read the remaining
// maps.
type mapCounts struct {
	inputs   int
	outputs  int
	lockTime uint32
}

// parseGlobals builds the packet skeleton from the global map. For v0
// packets the inputs and outputs are created from the unsigned transaction.
func parseGlobals(entries []*entry) (*Packet, mapCounts, error) {
	var (
		p      = &Packet{}
		counts mapCounts

		unsignedTx           *wire.MsgTx
		haveTxVersion        bool
		haveIn, haveOut      bool
		inCount, outCount    uint64
		v2Only               []byte
		fallback, modifiable = fn.None[uint32](), fn.None[uint8]()
	)
	for _, e := range entries {
		if !e.known {
			p.Unknowns = append(p.Unknowns, e.unknown())
			continue
		}

		switch e.keyType {
		case globalUnsignedTxType:
			if len(e.keyData) != 0 {
				return nil, counts, errKeyData("unsigned tx")
			}

			tx := &wire.MsgTx{}
			err := tx.DeserializeNoWitness(bytes.NewReader(e.value))
			if err != nil {
				return nil, counts, fmt.Errorf("%w: unsigned tx: %v",
					ErrInvalidPsbtFormat, err)
			}
			unsignedTx = tx

		case globalXPubType:
			if len(e.keyData) != extendedKeyLen {
				return nil, counts, errKeyData("xpub")
			}

			fp, path, err := btcpsbt.ReadBip32Derivation(e.value)
			if err != nil {
				return nil, counts, fmt.Errorf("%w: xpub: %v",
					ErrInvalidPsbtFormat, err)
			}

			p.XPubs = append(p.XPubs, &XPub{
				ExtendedKey:          e.keyData,
				MasterKeyFingerprint: fp,
				Bip32Path:            path,
			})

		case globalTxVersionType:
			v, err := readUint32(e, "tx version")
			if err != nil {
				return nil, counts, err
			}
			p.TxVersion = int32(v)
			haveTxVersion = true
			v2Only = append(v2Only, e.keyType)

		case globalFallbackLockType:
			v, err := readUint32(e, "fallback locktime")
			if err != nil {
				return nil, counts, err
			}
			fallback = fn.Some(v)
			v2Only = append(v2Only, e.keyType)

		case globalInputCountType, globalOutputCountType:
			if len(e.keyData) != 0 {
				return nil, counts, errKeyData("count")
			}

			n, err := wire.ReadVarInt(bytes.NewReader(e.value), 0)
			if err != nil || n > maxMapEntries {
				return nil, counts, fmt.Errorf("%w: bad count",
					ErrInvalidPsbtFormat)
			}

			if e.keyType == globalInputCountType {
				inCount, haveIn = n, true
			} else {
				outCount, haveOut = n, true
			}
			v2Only = append(v2Only, e.keyType)

		case globalTxModifiableType:
			if len(e.keyData) != 0 || len(e.value) != 1 {
				return nil, counts, errKeyData("tx modifiable")
			}
			modifiable = fn.Some(e.value[0])
			v2Only = append(v2Only, e.keyType)

		case globalVersionType:
			v, err := readUint32(e, "version")
			if err != nil {
				return nil, counts, err
			}
			if v != uint32(V0) && v != uint32(V2) {
				return nil, counts, fmt.Errorf("%w: %d",
					ErrUnsupportedVersion, v)
			}
			p.Version = Version(v)

		default:
			p.Unknowns = append(p.Unknowns, e.unknown())
		}
	}

	switch p.Version {
	case V0:
		if unsignedTx == nil {
			return nil, counts, fmt.Errorf("%w: missing unsigned tx",
				ErrInvalidPsbtFormat)
		}
		if len(v2Only) > 0 {
			return nil, counts, fmt.Errorf("%w: v2 global field "+
				"0x%02x in v0 psbt", ErrInvalidPsbtFormat,
				v2Only[0])
		}

		if err := skeletonFromTx(p, unsignedTx); err != nil {
			return nil, counts, err
		}

		counts.inputs = len(unsignedTx.TxIn)
		counts.outputs = len(unsignedTx.TxOut)
		counts.lockTime = unsignedTx.LockTime

	case V2:
		if unsignedTx != nil {
			return nil, counts, fmt.Errorf("%w: unsigned tx in v2 "+
				"psbt", ErrInvalidPsbtFormat)
		}
		if !haveTxVersion || !haveIn || !haveOut {
			return nil, counts, fmt.Errorf("%w: v2 psbt missing "+
				"required global fields", ErrInvalidPsbtFormat)
		}

		p.FallbackLockTime = fallback
		p.TxModifiable = modifiable
		counts.inputs = int(inCount)
		counts.outputs = int(outCount)
	}

	return p, counts, nil
}

// skeletonFromTx creates the inputs and outputs of a v0 packet from its
// unsigned transaction.
func skeletonFromTx(p *Packet, tx *wire.MsgTx) error {
	p.TxVersion = tx.Version

	for _, txIn := range tx.TxIn {
		if len(txIn.SignatureScript) != 0 || len(txIn.Witness) != 0 {
			return fmt.Errorf("%w: unsigned tx has signature data",
				ErrInvalidPsbtFormat)
		}

		in := NewInput(txIn.PreviousOutPoint)
		if txIn.Sequence != wire.MaxTxInSequenceNum {
			in.Sequence = fn.Some(txIn.Sequence)
		}
		p.Inputs = append(p.Inputs, in)
	}

	for _, txOut := range tx.TxOut {
		p.Outputs = append(p.Outputs, NewOutput(
			txOut.Value, txOut.PkScript,
		))
	}

	return nil
}

// parseInput fills in the fields of an input map.
func parseInput(in *Input, entries []*entry, version Version) error {
	var haveTxID, haveIndex bool
	for _, e := range entries {
		if !e.known {
			in.Unknowns = append(in.Unknowns, e.unknown())
			continue
		}

		if isV2InputType(e.keyType) && version != V2 {
			return fmt.Errorf("%w: v2 input field 0x%02x in v0 psbt",
				ErrInvalidPsbtFormat, e.keyType)
		}

		var err error
		switch e.keyType {
		case inNonWitnessUtxoType:
			if len(e.keyData) != 0 {
				return errKeyData("non-witness utxo")
			}

			tx := &wire.MsgTx{}
			if err := tx.Deserialize(bytes.NewReader(e.value)); err != nil {
				return fmt.Errorf("%w: non-witness utxo: %v",
					ErrInvalidPsbtFormat, err)
			}
			in.NonWitnessUtxo = tx

		case inWitnessUtxoType:
			if len(e.keyData) != 0 {
				return errKeyData("witness utxo")
			}
			in.WitnessUtxo, err = parseTxOut(e.value)

		case inPartialSigType:
			if err := checkPubKey(e.keyData); err != nil {
				return err
			}
			if len(e.value) == 0 {
				return fmt.Errorf("%w: empty partial signature",
					ErrInvalidPsbtFormat)
			}
			in.PartialSigs = append(in.PartialSigs, &btcpsbt.PartialSig{
				PubKey:    e.keyData,
				Signature: e.value,
			})

		case inSighashType:
			var v uint32
			v, err = readUint32(e, "sighash type")
			in.SighashType = fn.Some(txscript.SigHashType(v))

		case inRedeemScriptType:
			in.RedeemScript, err = readNoKeyData(e, "redeem script")

		case inWitnessScriptType:
			in.WitnessScript, err = readNoKeyData(e, "witness script")

		case inBip32DerivationType:
			var d *btcpsbt.Bip32Derivation
			d, err = parseDerivation(e)
			if d != nil {
				in.Bip32Derivation = append(in.Bip32Derivation, d)
			}

		case inFinalScriptSigType:
			in.FinalScriptSig, err = readNoKeyData(e, "final scriptsig")

		case inFinalScriptWitnessType:
			in.FinalScriptWitness, err = readNoKeyData(
				e, "final witness",
			)

		case inPrevTxIDType:
			if len(e.keyData) != 0 || len(e.value) != 32 {
				return errKeyData("previous txid")
			}
			copy(in.PreviousOutPoint.Hash[:], e.value)
			haveTxID = true

		case inOutputIndexType:
			in.PreviousOutPoint.Index, err = readUint32(e, "output index")
			haveIndex = true

		case inSequenceType:
			var v uint32
			v, err = readUint32(e, "sequence")
			in.Sequence = fn.Some(v)

		case inRequiredTimeLockType:
			var v uint32
			v, err = readUint32(e, "required time locktime")
			if err == nil && v < LockTimeThreshold {
				err = fmt.Errorf("%w: time locktime %d below "+
					"threshold", ErrInvalidPsbtFormat, v)
			}
			in.RequiredTimeLockTime = fn.Some(v)

		case inRequiredHeightLockType:
			var v uint32
			v, err = readUint32(e, "required height locktime")
			if err == nil && (v == 0 || v >= LockTimeThreshold) {
				err = fmt.Errorf("%w: height locktime %d out of "+
					"range", ErrInvalidPsbtFormat, v)
			}
			in.RequiredHeightLockTime = fn.Some(v)

		case inTapKeySigType:
			if len(e.keyData) != 0 || !schnorrSigLen(e.value) {
				return errKeyData("taproot key spend signature")
			}
			in.TaprootKeySpendSig = e.value

		case inTapScriptSigType:
			if len(e.keyData) != 64 || !schnorrSigLen(e.value) {
				return errKeyData("taproot script spend signature")
			}
			in.TaprootScriptSpendSig = append(
				in.TaprootScriptSpendSig,
				&btcpsbt.TaprootScriptSpendSig{
					XOnlyPubKey: e.keyData[:32],
					LeafHash:    e.keyData[32:],
					Signature:   e.value,
					SigHash:     schnorrSighash(e.value),
				},
			)

		case inTapLeafScriptType:
			cbLen := len(e.keyData)
			if cbLen < 33 || (cbLen-33)%32 != 0 || len(e.value) == 0 {
				return errKeyData("taproot leaf script")
			}
			script := e.value[:len(e.value)-1]
			in.TaprootLeafScript = append(
				in.TaprootLeafScript, &btcpsbt.TaprootTapLeafScript{
					ControlBlock: e.keyData,
					Script:       script,
					LeafVersion: txscript.TapscriptLeafVersion(
						e.value[len(e.value)-1],
					),
				},
			)

		case inTapBip32DerivationType:
			var d *btcpsbt.TaprootBip32Derivation
			d, err = parseTapDerivation(e)
			if d != nil {
				in.TaprootBip32Derivation = append(
					in.TaprootBip32Derivation, d,
				)
			}

		case inTapInternalKeyType:
			if len(e.keyData) != 0 || len(e.value) != 32 {
				return errKeyData("taproot internal key")
			}
			in.TaprootInternalKey = e.value

		case inTapMerkleRootType:
			if len(e.keyData) != 0 || len(e.value) != 32 {
				return errKeyData("taproot merkle root")
			}
			in.TaprootMerkleRoot = e.value

		default:
			in.Unknowns = append(in.Unknowns, e.unknown())
		}

		if err != nil {
			return err
		}
	}

	if version == V2 && (!haveTxID || !haveIndex) {
		return fmt.Errorf("%w: v2 input missing previous outpoint",
			ErrInvalidPsbtFormat)
	}

	return nil
}

// parseOutput fills in the fields of an output map.
func parseOutput(out *Output, entries []*entry, version Version) error {
	var haveAmount, haveScript bool
	for _, e := range entries {
		if !e.known {
			out.Unknowns = append(out.Unknowns, e.unknown())
			continue
		}

		isV2 := e.keyType == outAmountType || e.keyType == outScriptType
		if isV2 && version != V2 {
			return fmt.Errorf("%w: v2 output field 0x%02x in v0 psbt",
				ErrInvalidPsbtFormat, e.keyType)
		}

		var err error
		switch e.keyType {
		case outRedeemScriptType:
			out.RedeemScript, err = readNoKeyData(e, "redeem script")

		case outWitnessScriptType:
			out.WitnessScript, err = readNoKeyData(e, "witness script")

		case outBip32DerivationType:
			var d *btcpsbt.Bip32Derivation
			d, err = parseDerivation(e)
			if d != nil {
				out.Bip32Derivation = append(out.Bip32Derivation, d)
			}

		case outAmountType:
			if len(e.keyData) != 0 || len(e.value) != 8 {
				return errKeyData("amount")
			}
			out.Amount = int64(binary.LittleEndian.Uint64(e.value))
			haveAmount = true

		case outScriptType:
			out.PkScript, err = readNoKeyData(e, "script")
			haveScript = true

		case outTapInternalKeyType:
			if len(e.keyData) != 0 || len(e.value) != 32 {
				return errKeyData("taproot internal key")
			}
			out.TaprootInternalKey = e.value

		case outTapTreeType:
			out.TaprootTapTree, err = readNoKeyData(e, "taproot tree")
			if err == nil {
				_, err = ParseTapTree(out.TaprootTapTree)
			}

		case outTapBip32DerivationType:
			var d *btcpsbt.TaprootBip32Derivation
			d, err = parseTapDerivation(e)
			if d != nil {
				out.TaprootBip32Derivation = append(
					out.TaprootBip32Derivation, d,
				)
			}

		default:
			out.Unknowns = append(out.Unknowns, e.unknown())
		}

		if err != nil {
			return err
		}
	}

	if version == V2 && (!haveAmount || !haveScript) {
		return fmt.Errorf("%w: v2 output missing amount or script",
			ErrInvalidPsbtFormat)
	}

	return nil
}

// isV2InputType returns true for input key types that only exist in v2.
func isV2InputType(keyType byte) bool {
	return keyType >= inPrevTxIDType && keyType <= inRequiredHeightLockType
}

// parseDerivation parses a BIP-32 derivation entry keyed by public key.
func parseDerivation(e *entry) (*btcpsbt.Bip32Derivation, error) {
	if err := checkPubKey(e.keyData); err != nil {
		return nil, err
	}

	fp, path, err := btcpsbt.ReadBip32Derivation(e.value)
	if err != nil {
		return nil, fmt.Errorf("%w: bip32 derivation: %v",
			ErrInvalidPsbtFormat, err)
	}

	return &btcpsbt.Bip32Derivation{
		PubKey:               e.keyData,
		MasterKeyFingerprint: fp,
		Bip32Path:            path,
	}, nil
}

// parseTapDerivation parses a taproot BIP-32 derivation entry keyed by
// x-only public key.
func parseTapDerivation(e *entry) (*btcpsbt.TaprootBip32Derivation, error) {
	if len(e.keyData) != 32 {
		return nil, errKeyData("taproot bip32 derivation")
	}

	d, err := btcpsbt.ReadTaprootBip32Derivation(e.keyData, e.value)
	if err != nil {
		return nil, fmt.Errorf("%w: taproot bip32 derivation: %v",
			ErrInvalidPsbtFormat, err)
	}

	return d, nil
}

// parseTxOut parses a serialized transaction output.
func parseTxOut(b []byte) (*wire.TxOut, error) {
	if len(b) < 9 {
		return nil, fmt.Errorf("%w: short witness utxo",
			ErrInvalidPsbtFormat)
	}

	value := int64(binary.LittleEndian.Uint64(b[:8]))
	r := bytes.NewReader(b[8:])
	script, err := wire.ReadVarBytes(r, 0, maxValueLength, "pkScript")
	if err != nil || r.Len() != 0 {
		return nil, fmt.Errorf("%w: malformed witness utxo",
			ErrInvalidPsbtFormat)
	}

	return wire.NewTxOut(value, script), nil
}

// ParseWitness decodes the PSBT encoding of a witness stack.
func ParseWitness(b []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(b)
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: witness: %v", ErrInvalidPsbtFormat,
			err)
	}
	if n > wire.MaxMessagePayload {
		return nil, fmt.Errorf("%w: witness too large",
			ErrInvalidPsbtFormat)
	}

	witness := make(wire.TxWitness, 0, min(n, 1024))
	for i := uint64(0); i < n; i++ {
		item, err := wire.ReadVarBytes(
			r, 0, maxValueLength, "witness item",
		)
		if err != nil {
			return nil, fmt.Errorf("%w: witness item: %v",
				ErrInvalidPsbtFormat, err)
		}
		witness = append(witness, item)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing witness bytes",
			ErrInvalidPsbtFormat)
	}

	return witness, nil
}

// readUint32 reads a little endian uint32 value from an entry without key
// data.
func readUint32(e *entry, field string) (uint32, error) {
	if len(e.keyData) != 0 || len(e.value) != 4 {
		return 0, errKeyData(field)
	}

	return binary.LittleEndian.Uint32(e.value), nil
}

// readNoKeyData returns the value of an entry that must not carry key data.
func readNoKeyData(e *entry, field string) ([]byte, error) {
	if len(e.keyData) != 0 {
		return nil, errKeyData(field)
	}

	return e.value, nil
}

// checkPubKey verifies that key data is a valid serialized public key.
func checkPubKey(b []byte) error {
	if len(b) != btcec.PubKeyBytesLenCompressed &&
		len(b) != secp256k1.PubKeyBytesLenUncompressed {

		return errKeyData("public key")
	}

	if _, err := btcec.ParsePubKey(b); err != nil {
		return fmt.Errorf("%w: public key: %v", ErrInvalidPsbtFormat,
			err)
	}

	return nil
}

// schnorrSigLen returns true for the two valid schnorr signature sizes.
func schnorrSigLen(sig []byte) bool {
	return len(sig) == 64 || len(sig) == 65
}

// errKeyData returns the error for a recognized key with malformed key data
// or value.
func errKeyData(field string) error {
	return fmt.Errorf("%w: malformed %s entry", ErrInvalidPsbtFormat, field)
}
