// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// pair is a raw key-value entry used to craft serialized packets.
type pair struct {
	keyType byte
	keyData []byte
	value   []byte
}

// craft serializes the given maps behind the magic bytes.
func craft(t *testing.T, maps ...[]pair) []byte {
	t.Helper()

	var b bytes.Buffer
	b.Write(magic[:])
	for _, m := range maps {
		for _, e := range m {
			require.NoError(t, writePair(&b, e.keyType, e.keyData, e.value))
		}
		require.NoError(t, writeSeparator(&b))
	}

	return b.Bytes()
}

// rawTx returns the non-witness serialization of tx.
func rawTx(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()

	var b bytes.Buffer
	require.NoError(t, tx.SerializeNoWitness(&b))

	return b.Bytes()
}

// taprootFixture returns a v2 packet using the taproot and v2 only fields.
func taprootFixture(t *testing.T) *Packet {
	t.Helper()

	_, pub := testKey(0x07)
	p := New(V2, 2)
	p.FallbackLockTime = fn.Some(uint32(0))
	p.TxModifiable = fn.Some(TxModifiableInputs | TxModifiableOutputs)
	p.Unknowns = []*btcpsbt.Unknown{
		{Key: []byte{0xfc, 0x03, 'f', 'o', 'o', 0x00}, Value: []byte{1}},
	}

	in := NewInput(wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 3})
	in.Sequence = fn.Some(uint32(10))
	in.RequiredHeightLockTime = fn.Some(uint32(800_000))
	in.WitnessUtxo = wire.NewTxOut(100_000, append(
		[]byte{txscript.OP_1, txscript.OP_DATA_32}, xOnly(pub)...,
	))
	in.TaprootInternalKey = xOnly(pub)
	in.TaprootMerkleRoot = bytes.Repeat([]byte{0x09}, 32)
	in.TaprootBip32Derivation = []*btcpsbt.TaprootBip32Derivation{{
		XOnlyPubKey:          xOnly(pub),
		LeafHashes:           [][]byte{bytes.Repeat([]byte{0x05}, 32)},
		MasterKeyFingerprint: 0xdeadbeef,
		Bip32Path:            []uint32{0x80000056, 0x80000000, 0, 0, 0},
	}}
	in.TaprootLeafScript = []*btcpsbt.TaprootTapLeafScript{{
		ControlBlock: append([]byte{0xc0}, xOnly(pub)...),
		Script:       []byte{txscript.OP_TRUE},
		LeafVersion:  txscript.BaseLeafVersion,
	}}
	in.Unknowns = []*btcpsbt.Unknown{
		{Key: []byte{0x0a, 0x01}, Value: []byte{0x02}},
	}
	p.Inputs = append(p.Inputs, in)

	out := NewOutput(90_000, []byte{txscript.OP_1, txscript.OP_DATA_32})
	out.PkScript = append(out.PkScript, xOnly(pub)...)
	out.TaprootInternalKey = xOnly(pub)
	out.TaprootTapTree = SerializeTapTree([]TapTreeLeaf{{
		Depth:       0,
		LeafVersion: txscript.BaseLeafVersion,
		Script:      []byte{txscript.OP_TRUE},
	}})
	p.Outputs = append(p.Outputs, out)

	return p
}

// TestSerializeRoundTrip checks that decoding an encoded packet yields a
// packet that encodes to the same bytes and keeps every field.
func TestSerializeRoundTrip(t *testing.T) {
	t.Parallel()

	v0 := newFixture(t, V0)
	v0.update(t)

	v2 := newFixture(t, V2)
	v2.update(t)
	v2.packet.Inputs[1].RequiredTimeLockTime = fn.Some(
		uint32(LockTimeThreshold + 1),
	)

	tests := []struct {
		name   string
		packet *Packet
	}{
		{name: "empty v0", packet: New(V0, 2)},
		{name: "updated v0", packet: v0.packet},
		{name: "empty v2", packet: New(V2, 2)},
		{name: "updated v2", packet: v2.packet},
		{name: "taproot v2", packet: taprootFixture(t)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange.
			raw := encode(t, tc.packet)

			// Act.
			decoded := decode(t, raw)

			// Assert.
			require.Equal(t, raw, encode(t, decoded))
			require.Equal(t, tc.packet.Version, decoded.Version)
			require.Equal(t, tc.packet.TxVersion, decoded.TxVersion)
			require.Equal(
				t, tc.packet.FallbackLockTime,
				decoded.FallbackLockTime,
			)
			require.Equal(t, tc.packet.TxModifiable, decoded.TxModifiable)
			require.Len(t, decoded.Inputs, len(tc.packet.Inputs))
			require.Len(t, decoded.Outputs, len(tc.packet.Outputs))

			for idx, in := range tc.packet.Inputs {
				got := decoded.Inputs[idx]
				require.Equal(t, in.PreviousOutPoint,
					got.PreviousOutPoint)
				require.Equal(t, in.Sequence, got.Sequence)
				require.Equal(t, in.RequiredTimeLockTime,
					got.RequiredTimeLockTime)
				require.Equal(t, in.RequiredHeightLockTime,
					got.RequiredHeightLockTime)
				require.Equal(t, in.Unknowns, got.Unknowns)
			}

			for idx, out := range tc.packet.Outputs {
				got := decoded.Outputs[idx]
				require.Equal(t, out.Amount, got.Amount)
				require.Equal(t, out.PkScript, got.PkScript)
			}
		})
	}
}

// TestBase64RoundTrip checks the base64 helpers.
func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange.
	f := newFixture(t, V2)
	b64, err := f.packet.B64Encode()
	require.NoError(t, err)

	// Act.
	fromString, err := NewFromBase64(b64)
	require.NoError(t, err)

	fromReader, err := NewFromRawBytes(bytes.NewReader([]byte(b64)), true)
	require.NoError(t, err)

	// Assert.
	require.Equal(t, encode(t, f.packet), encode(t, fromString))
	require.Equal(t, encode(t, f.packet), encode(t, fromReader))
}

// TestUnknownOrderPreserved checks that unknown and proprietary entries keep
// their order through a round trip.
func TestUnknownOrderPreserved(t *testing.T) {
	t.Parallel()

	// Arrange.
	p := New(V2, 2)
	p.Unknowns = []*btcpsbt.Unknown{
		{Key: []byte{0xfc, 0x01, 'z', 0x00}, Value: []byte{1}},
		{Key: []byte{0x99}, Value: []byte{2}},
		{Key: []byte{0xfc, 0x01, 'a', 0x00}, Value: []byte{3}},
	}

	// Act.
	decoded := decode(t, encode(t, p))

	// Assert.
	require.Equal(t, p.Unknowns, decoded.Unknowns)
}

// TestV0InteropWithBtcd checks that v0 packets are byte compatible with the
// btcutil psbt package in both directions.
func TestV0InteropWithBtcd(t *testing.T) {
	t.Parallel()

	// Arrange.
	f := newFixture(t, V0)
	f.update(t)
	raw := encode(t, f.packet)

	// Act.
	bp, err := btcpsbt.NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	var reencoded bytes.Buffer
	require.NoError(t, bp.Serialize(&reencoded))

	fromBtcd, err := FromBtcdPacket(bp)
	require.NoError(t, err)

	toBtcd, err := ToBtcdPacket(fromBtcd)
	require.NoError(t, err)

	var viaModel bytes.Buffer
	require.NoError(t, toBtcd.Serialize(&viaModel))

	// Assert.
	require.Equal(t, raw, reencoded.Bytes())
	require.Equal(t, raw, encode(t, fromBtcd))
	require.Equal(t, raw, viaModel.Bytes())
}

// TestDecodeRejects checks the structural rules enforced while decoding.
func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	unsigned := rawTx(t, wire.NewMsgTx(2))
	v2Globals := []pair{
		{keyType: globalTxVersionType, value: uint32LE(2)},
		{keyType: globalInputCountType, value: []byte{0}},
		{keyType: globalOutputCountType, value: []byte{0}},
		{keyType: globalVersionType, value: uint32LE(2)},
	}

	tests := []struct {
		name string
		raw  []byte
		err  error
	}{
		{
			name: "bad magic",
			raw:  []byte{'p', 's', 'b', 'x', 0xff, 0x00},
			err:  ErrInvalidMagic,
		},
		{
			name: "duplicate key",
			raw: craft(t, []pair{
				{keyType: globalUnsignedTxType, value: unsigned},
				{keyType: globalUnsignedTxType, value: unsigned},
			}),
			err: ErrDuplicateKey,
		},
		{
			name: "unsupported version",
			raw: craft(t, []pair{
				{keyType: globalUnsignedTxType, value: unsigned},
				{keyType: globalVersionType, value: uint32LE(1)},
			}),
			err: ErrUnsupportedVersion,
		},
		{
			name: "v0 without unsigned tx",
			raw:  craft(t, []pair{}),
			err:  ErrInvalidPsbtFormat,
		},
		{
			name: "v2 global in v0",
			raw: craft(t, []pair{
				{keyType: globalUnsignedTxType, value: unsigned},
				{keyType: globalTxVersionType, value: uint32LE(2)},
			}),
			err: ErrInvalidPsbtFormat,
		},
		{
			name: "unsigned tx in v2",
			raw: craft(t, append([]pair{
				{keyType: globalUnsignedTxType, value: unsigned},
			}, v2Globals...)),
			err: ErrInvalidPsbtFormat,
		},
		{
			name: "v2 without input count",
			raw: craft(t, []pair{
				{keyType: globalTxVersionType, value: uint32LE(2)},
				{keyType: globalOutputCountType, value: []byte{0}},
				{keyType: globalVersionType, value: uint32LE(2)},
			}),
			err: ErrInvalidPsbtFormat,
		},
		{
			name: "v2 input without outpoint",
			raw: craft(t, []pair{
				{keyType: globalTxVersionType, value: uint32LE(2)},
				{keyType: globalInputCountType, value: []byte{1}},
				{keyType: globalOutputCountType, value: []byte{0}},
				{keyType: globalVersionType, value: uint32LE(2)},
			}, []pair{
				{keyType: inOutputIndexType, value: uint32LE(0)},
			}),
			err: ErrInvalidPsbtFormat,
		},
		{
			name: "v2 output without amount",
			raw: craft(t, []pair{
				{keyType: globalTxVersionType, value: uint32LE(2)},
				{keyType: globalInputCountType, value: []byte{0}},
				{keyType: globalOutputCountType, value: []byte{1}},
				{keyType: globalVersionType, value: uint32LE(2)},
			}, []pair{
				{keyType: outScriptType, value: []byte{0x51}},
			}),
			err: ErrInvalidPsbtFormat,
		},
		{
			name: "height lock above threshold",
			raw: craft(t, []pair{
				{keyType: globalTxVersionType, value: uint32LE(2)},
				{keyType: globalInputCountType, value: []byte{1}},
				{keyType: globalOutputCountType, value: []byte{0}},
				{keyType: globalVersionType, value: uint32LE(2)},
			}, []pair{
				{keyType: inPrevTxIDType, value: make([]byte, 32)},
				{keyType: inOutputIndexType, value: uint32LE(0)},
				{
					keyType: inRequiredHeightLockType,
					value:   uint32LE(LockTimeThreshold),
				},
			}),
			err: ErrInvalidPsbtFormat,
		},
		{
			name: "truncated map",
			raw:  append(magic[:], 0x01, 0x00),
			err:  ErrInvalidPsbtFormat,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(bytes.NewReader(tc.raw))
			require.ErrorIs(t, err, tc.err)
		})
	}
}

// TestDecodeV0RejectsV2InputField checks that a v0 input map may not carry
// the v2 outpoint fields.
func TestDecodeV0RejectsV2InputField(t *testing.T) {
	t.Parallel()

	// Arrange.
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	raw := craft(t, []pair{
		{keyType: globalUnsignedTxType, value: rawTx(t, tx)},
	}, []pair{
		{keyType: inPrevTxIDType, value: make([]byte, 32)},
	})

	// Act.
	_, err := Decode(bytes.NewReader(raw))

	// Assert.
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)
}

// TestTapTreeRoundTrip checks the output tap tree encoding.
func TestTapTreeRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange.
	leaves := []TapTreeLeaf{
		{Depth: 1, LeafVersion: txscript.BaseLeafVersion,
			Script: []byte{txscript.OP_TRUE}},
		{Depth: 1, LeafVersion: txscript.BaseLeafVersion,
			Script: []byte{txscript.OP_FALSE, txscript.OP_RETURN}},
	}

	// Act.
	parsed, err := ParseTapTree(SerializeTapTree(leaves))

	// Assert.
	require.NoError(t, err)
	require.Equal(t, leaves, parsed)

	_, err = ParseTapTree([]byte{1, 0xc0, 5, 0x51})
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)
}

// TestProprietaryHelpers checks lookup and replacement of proprietary
// entries.
func TestProprietaryHelpers(t *testing.T) {
	t.Parallel()

	// Arrange.
	key := ProprietaryKey{
		Identifier: []byte("P2C"),
		Subtype:    0,
		KeyData:    []byte{0x01},
	}
	unknowns := []*btcpsbt.Unknown{{Key: []byte{0x42}, Value: []byte{0}}}

	// Act.
	unknowns = SetProprietary(unknowns, key, []byte{1})
	unknowns = SetProprietary(unknowns, key, []byte{2})
	u, parsed, ok := FindProprietary(unknowns, []byte("P2C"), 0)

	// Assert.
	require.Len(t, unknowns, 2)
	require.True(t, ok)
	require.Equal(t, []byte{2}, u.Value)
	require.Equal(t, key.Identifier, parsed.Identifier)
	require.Equal(t, key.KeyData, parsed.KeyData)

	_, _, ok = FindProprietary(unknowns, []byte("P2C"), 1)
	require.False(t, ok)

	_, err := ParseProprietaryKey([]byte{0x42})
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)
}

// TestWitnessEncoding checks the witness stack helpers.
func TestWitnessEncoding(t *testing.T) {
	t.Parallel()

	// Arrange.
	witness := wire.TxWitness{{0x01, 0x02}, {}, {0x03}}

	// Act.
	raw, err := SerializeWitness(witness)
	require.NoError(t, err)
	parsed, err := ParseWitness(raw)

	// Assert.
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	require.Equal(t, []byte{0x01, 0x02}, []byte(parsed[0]))
	require.Empty(t, parsed[1])
	require.Equal(t, []byte{0x03}, []byte(parsed[2]))

	_, err = ParseWitness(append(raw, 0x00))
	require.ErrorIs(t, err, ErrInvalidPsbtFormat)
}

// TestCheckPubKey checks which serialized public keys are accepted as key
// data.
func TestCheckPubKey(t *testing.T) {
	t.Parallel()

	_, pub := testKey(0x05)

	tests := []struct {
		name string
		key  []byte
		ok   bool
	}{
		{name: "compressed", key: pub.SerializeCompressed(), ok: true},
		{name: "uncompressed", key: pub.SerializeUncompressed(), ok: true},
		{name: "x-only", key: pub.SerializeCompressed()[1:]},
		{name: "uncompressed not on curve", key: append(
			[]byte{0x04}, bytes.Repeat([]byte{0x01}, 64)...,
		)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act.
			err := checkPubKey(tc.key)

			// Assert.
			if tc.ok {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrInvalidPsbtFormat)
		})
	}
}
