// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/construct"
	"github.com/btcsuite/psbtwallet/descriptor"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

// testWallet is a master key a test signs with.
type testWallet struct {
	master      *hdkeychain.ExtendedKey
	fingerprint uint32
}

// newWallet returns a wallet whose seed is seedByte repeated.
func newWallet(t *testing.T, seedByte byte) *testWallet {
	t.Helper()

	seed := bytes.Repeat([]byte{seedByte}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, testParams)
	require.NoError(t, err)

	fp, err := Fingerprint(master)
	require.NoError(t, err)

	return &testWallet{master: master, fingerprint: fp}
}

// key returns the external branch key expression of account
// m/purpose'/1'/0'.
func (w *testWallet) key(t *testing.T, purpose uint32) descriptor.Key {
	t.Helper()

	origin := []uint32{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + 1,
		hdkeychain.HardenedKeyStart,
	}

	account := w.master
	for _, idx := range origin {
		var err error
		account, err = account.Derive(idx)
		require.NoError(t, err)
	}

	pub, err := account.Neuter()
	require.NoError(t, err)

	return descriptor.Key{
		Account:     pub,
		Fingerprint: w.fingerprint,
		Origin:      origin,
		Branch:      []uint32{0},
	}
}

// keyProvider returns a key provider holding the masters of wallets.
func keyProvider(t *testing.T, wallets ...*testWallet) *MemoryKeyProvider {
	t.Helper()

	masters := make([]*hdkeychain.ExtendedKey, 0, len(wallets))
	for _, w := range wallets {
		masters = append(masters, w.master)
	}

	keys, err := NewMemoryKeyProvider(0, masters...)
	require.NoError(t, err)

	return keys
}

// destScript is the script every test pays to.
func destScript(t *testing.T) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{0x11}, 20), testParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// spendOpt changes the policy of a test input.
type spendOpt func(*construct.Policy)

// newTestConstructor returns a constructor for regtest.
func newTestConstructor() *construct.Constructor {
	return construct.NewConstructor(
		descriptor.NewHDProvider(testParams), construct.DefaultConfig(),
	)
}

// fundingTx returns a transaction paying amount to pkScript at output 0.
// The seed makes transactions with equal outputs distinct.
func fundingTx(pkScript []byte, amount int64, seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{seed}},
	})
	tx.AddTxOut(wire.NewTxOut(amount, pkScript))

	return tx
}

// addFunded adds an input spending output 0 of prev with desc at index.
func addFunded(t *testing.T, p *psbt.Packet, desc *descriptor.Descriptor,
	index uint32, prev *wire.MsgTx, opts ...spendOpt) {

	t.Helper()

	policy := construct.Policy{
		PrevOut: wire.OutPoint{Hash: prev.TxHash()},
		PrevTx:  prev,
	}
	for _, opt := range opts {
		opt(&policy)
	}

	_, err := newTestConstructor().AddInput(p, desc, index, policy)
	require.NoError(t, err)
}

// addSpend funds desc at index with amount and adds an input spending it.
func addSpend(t *testing.T, p *psbt.Packet, desc *descriptor.Descriptor,
	index uint32, amount int64, opts ...spendOpt) {

	t.Helper()

	res, err := descriptor.Resolve(
		descriptor.NewHDProvider(testParams), desc, index,
	)
	require.NoError(t, err)

	prev := fundingTx(res.PkScript, amount, byte(len(p.Inputs)+1))
	addFunded(t, p, desc, index, prev, opts...)
}

// addDest adds an output paying amount to the destination script.
func addDest(t *testing.T, p *psbt.Packet, amount btcutil.Amount) {
	t.Helper()

	_, err := newTestConstructor().AddOutput(
		p, construct.ScriptTarget(destScript(t)), amount,
	)
	require.NoError(t, err)
}

// signAndFinalize signs every input with keys and finalizes the packet.
func signAndFinalize(t *testing.T, p *psbt.Packet, keys KeyProvider) int {
	t.Helper()

	cache, err := NewSighashCache(p)
	require.NoError(t, err)

	n, err := SignAll(context.Background(), p, keys, cache)
	require.NoError(t, err)
	require.NoError(t, FinalizeAll(p))

	return n
}
