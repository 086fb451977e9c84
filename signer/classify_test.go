// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/stretchr/testify/require"
)

// script builds a script from opcodes and pushes. Opcodes are untyped
// constants, so they arrive as int.
func script(t *testing.T, items ...any) []byte {
	t.Helper()

	b := txscript.NewScriptBuilder()
	for _, item := range items {
		switch v := item.(type) {
		case int:
			b.AddOp(byte(v))

		case []byte:
			b.AddData(v)
		}
	}

	s, err := b.Script()
	require.NoError(t, err)

	return s
}

// TestClassify checks how inputs are classified from their UTXO and
// scripts.
func TestClassify(t *testing.T) {
	t.Parallel()

	hash20 := bytes.Repeat([]byte{0x01}, 20)
	key32 := bytes.Repeat([]byte{0x02}, 32)

	witnessScript := script(t, txscript.OP_1)
	wshHash := sha256.Sum256(witnessScript)
	wsh := script(t, txscript.OP_0, wshHash[:])
	wpkh := script(t, txscript.OP_0, hash20)
	tr := script(t, txscript.OP_1, key32)

	p2sh := func(redeem []byte) []byte {
		return script(t, txscript.OP_HASH160, btcutil.Hash160(redeem),
			txscript.OP_EQUAL)
	}

	utxo := func(pkScript []byte) *wire.TxOut {
		return wire.NewTxOut(1_000, pkScript)
	}

	testCases := []struct {
		name       string
		in         *psbt.Input
		wantKind   SpendKind
		wantNested bool
		wantErr    error
	}{
		{
			name:    "no utxo",
			in:      &psbt.Input{},
			wantErr: ErrMissingPrevout,
		},
		{
			name: "p2pkh",
			in: &psbt.Input{WitnessUtxo: utxo(script(
				t, txscript.OP_DUP, txscript.OP_HASH160, hash20,
				txscript.OP_EQUALVERIFY, txscript.OP_CHECKSIG,
			))},
			wantKind: SpendLegacy,
		},
		{
			name:     "p2wpkh",
			in:       &psbt.Input{WitnessUtxo: utxo(wpkh)},
			wantKind: SpendSegwitV0,
		},
		{
			name: "p2sh-p2wpkh",
			in: &psbt.Input{
				WitnessUtxo:  utxo(p2sh(wpkh)),
				RedeemScript: wpkh,
			},
			wantKind:   SpendSegwitV0,
			wantNested: true,
		},
		{
			name: "p2sh without redeem script",
			in: &psbt.Input{
				WitnessUtxo: utxo(p2sh(wpkh)),
			},
			wantErr: ErrUnknownScriptType,
		},
		{
			name: "p2sh with wrong redeem script",
			in: &psbt.Input{
				WitnessUtxo:  utxo(p2sh(wpkh)),
				RedeemScript: wsh,
			},
			wantErr: ErrKeyMismatch,
		},
		{
			name: "p2wsh",
			in: &psbt.Input{
				WitnessUtxo:   utxo(wsh),
				WitnessScript: witnessScript,
			},
			wantKind: SpendSegwitV0,
		},
		{
			name: "p2wsh with wrong witness script",
			in: &psbt.Input{
				WitnessUtxo:   utxo(wsh),
				WitnessScript: script(t, txscript.OP_2),
			},
			wantErr: ErrKeyMismatch,
		},
		{
			name:     "taproot key path",
			in:       &psbt.Input{WitnessUtxo: utxo(tr)},
			wantKind: SpendTaprootKeyPath,
		},
		{
			name: "taproot script path",
			in: &psbt.Input{
				WitnessUtxo: utxo(tr),
				TaprootLeafScript: []*btcpsbt.TaprootTapLeafScript{{
					Script: script(
						t, key32, txscript.OP_CHECKSIG,
					),
					LeafVersion: txscript.BaseLeafVersion,
				}},
			},
			wantKind: SpendTaprootScriptPath,
		},
		{
			name: "taproot nested in p2sh",
			in: &psbt.Input{
				WitnessUtxo:  utxo(p2sh(tr)),
				RedeemScript: tr,
			},
			wantErr: ErrUnknownScriptType,
		},
		{
			name: "unknown witness version",
			in: &psbt.Input{WitnessUtxo: utxo(
				script(t, txscript.OP_2, key32),
			)},
			wantErr: ErrUnknownScriptType,
		},
		{
			name: "null data",
			in: &psbt.Input{WitnessUtxo: utxo(
				script(t, txscript.OP_RETURN, hash20),
			)},
			wantErr: ErrUnknownScriptType,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: Classify the input.
			spend, err := Classify(tc.in)

			// Assert: The kind or the error matches.
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantKind, spend.Kind)
			require.Equal(t, tc.wantNested, spend.Nested)
		})
	}
}
