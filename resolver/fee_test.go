// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/pkg/btcunit"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/stretchr/testify/require"
)

// TestFee checks the fee of packets with known and unknown inputs.
func TestFee(t *testing.T) {
	t.Parallel()

	tx := prevTx(10, p2wpkhScript, 50_000)
	op := wire.OutPoint{Hash: tx.TxHash()}

	testCases := []struct {
		name    string
		out     int64
		utxo    bool
		wantFee btcutil.Amount
		wantErr error
	}{
		{
			name:    "pays fee",
			out:     49_000,
			utxo:    true,
			wantFee: 1_000,
		},
		{
			name:    "no fee",
			out:     50_000,
			utxo:    true,
			wantFee: 0,
		},
		{
			name:    "overspends",
			out:     50_001,
			utxo:    true,
			wantErr: ErrInputsLessThanOutputs,
		},
		{
			name:    "unknown input",
			out:     49_000,
			wantErr: psbt.ErrMissingPrevout,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: A packet spending the output.
			p := spending(t, tc.out, op)
			if tc.utxo {
				p.Inputs[0].WitnessUtxo = tx.TxOut[0]
			}

			// Act: Compute the fee.
			fee, err := Fee(p)

			// Assert: The fee or the error matches.
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantFee, fee)
		})
	}
}

// TestFeeRate checks the size estimate and the resulting fee rate.
func TestFeeRate(t *testing.T) {
	t.Parallel()

	// Arrange: A packet spending a P2WPKH output.
	tx := prevTx(11, p2wpkhScript, 50_000)
	p := spending(t, 49_000, wire.OutPoint{Hash: tx.TxHash()})
	p.Inputs[0].WitnessUtxo = tx.TxOut[0]

	// Act: Estimate the size and compute the rate.
	vsize, err := EstimateVirtualSize(p)
	require.NoError(t, err)

	rate, err := FeeRate(p)
	require.NoError(t, err)

	// Assert: The estimate exceeds the unsigned size and the rate is
	// the fee over it.
	unsigned, err := p.UnsignedTx()
	require.NoError(t, err)
	require.Greater(t, vsize.Ceil(), uint64(unsigned.SerializeSize()))

	require.True(t, btcunit.CalcSatPerVByte(1_000, vsize).Equal(rate))
}

// TestEstimateUnknownInput checks that script inputs are not estimated.
func TestEstimateUnknownInput(t *testing.T) {
	t.Parallel()

	// Arrange: A packet spending a P2WSH output.
	p2wsh := append([]byte{0x00, 0x20}, bytes.Repeat([]byte{3}, 32)...)
	tx := prevTx(12, p2wsh, 50_000)
	p := spending(t, 49_000, wire.OutPoint{Hash: tx.TxHash()})
	p.Inputs[0].WitnessUtxo = tx.TxOut[0]

	// Act: Estimate the size.
	_, err := EstimateVirtualSize(p)

	// Assert: The size is unknown.
	require.ErrorIs(t, err, ErrUnknownInputSize)
}
