// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// testKey returns a deterministic key pair derived from seed.
func testKey(seed byte) (*btcec.PrivateKey, *btcec.PublicKey) {
	return btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
}

// p2wkhScript returns the P2WKH script paying to the given key.
func p2wkhScript(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		Script()
	require.NoError(t, err)

	return script
}

// p2pkhScript returns the P2PKH script paying to the given key.
func p2pkhScript(t *testing.T, pub *btcec.PublicKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	return script
}

// prevTx returns a funding transaction with one output per script.
func prevTx(scripts ...[]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0xaa}},
		Sequence:         wire.MaxTxInSequenceNum,
	})

	for i, script := range scripts {
		tx.AddTxOut(wire.NewTxOut(int64(50_000*(i+1)), script))
	}

	return tx
}

// fakeSig returns a DER shaped signature with the given sighash byte.
func fakeSig(sht txscript.SigHashType) []byte {
	sig := []byte{
		0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01,
	}

	return append(sig, byte(sht))
}

// fixture bundles a two input, two output packet and the keys behind it.
type fixture struct {
	packet *Packet
	prev   *wire.MsgTx
	pubA   *btcec.PublicKey
	pubB   *btcec.PublicKey
}

// newFixture builds a packet of the given version spending a P2WKH and a
// P2PKH output of the same funding transaction.
func newFixture(t *testing.T, version Version) *fixture {
	t.Helper()

	_, pubA := testKey(0x01)
	_, pubB := testKey(0x02)

	prev := prevTx(p2wkhScript(t, pubA), p2pkhScript(t, pubB))
	hash := prev.TxHash()

	p := New(version, 2)

	inA := NewInput(wire.OutPoint{Hash: hash, Index: 0})
	inA.Sequence = fn.Some(uint32(MaxRBFSequence))
	_, err := p.AddInput(inA)
	require.NoError(t, err)

	inB := NewInput(wire.OutPoint{Hash: hash, Index: 1})
	inB.Sequence = fn.Some(uint32(MaxRBFSequence))
	_, err = p.AddInput(inB)
	require.NoError(t, err)

	_, err = p.AddOutput(NewOutput(70_000, p2wkhScript(t, pubB)))
	require.NoError(t, err)
	_, err = p.AddOutput(NewOutput(20_000, p2pkhScript(t, pubA)))
	require.NoError(t, err)

	return &fixture{packet: p, prev: prev, pubA: pubA, pubB: pubB}
}

// update attaches UTXO and derivation data to the fixture's inputs.
func (f *fixture) update(t *testing.T) {
	t.Helper()

	p := f.packet
	require.NoError(t, p.AddInWitnessUtxo(0, f.prev.TxOut[0]))
	require.NoError(t, p.AddInNonWitnessUtxo(1, f.prev))

	require.NoError(t, p.AddInBip32Derivation(0, &btcpsbt.Bip32Derivation{
		PubKey:               f.pubA.SerializeCompressed(),
		MasterKeyFingerprint: 0x01020304,
		Bip32Path:            []uint32{0x80000054, 0x80000000, 0, 0, 1},
	}))
	require.NoError(t, p.AddInBip32Derivation(1, &btcpsbt.Bip32Derivation{
		PubKey:               f.pubB.SerializeCompressed(),
		MasterKeyFingerprint: 0x01020304,
		Bip32Path:            []uint32{0x8000002c, 0x80000000, 0, 0, 2},
	}))
}

// encode serializes p and fails the test on error.
func encode(t *testing.T, p *Packet) []byte {
	t.Helper()

	raw, err := p.Bytes()
	require.NoError(t, err)

	return raw
}

// decode parses raw and fails the test on error.
func decode(t *testing.T, raw []byte) *Packet {
	t.Helper()

	p, err := Decode(bytes.NewReader(raw))
	require.NoError(t, err)

	return p
}

// xOnly returns the BIP-340 serialization of a public key.
func xOnly(pub *btcec.PublicKey) []byte {
	return schnorr.SerializePubKey(pub)
}
