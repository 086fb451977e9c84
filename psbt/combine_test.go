// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestCombineSignatures checks that signatures from two signers are merged.
func TestCombineSignatures(t *testing.T) {
	t.Parallel()

	// Arrange.
	f := newFixture(t, V2)
	f.update(t)

	a := &fixture{packet: f.packet.Copy(), pubA: f.pubA, pubB: f.pubB}
	b := &fixture{packet: f.packet.Copy(), pubA: f.pubA, pubB: f.pubB}
	a.sign(t, 0, txscript.SigHashAll)
	b.sign(t, 1, txscript.SigHashAll)

	// Act.
	merged, err := Combine(a.packet, b.packet)

	// Assert.
	require.NoError(t, err)
	require.Len(t, merged.Inputs[0].PartialSigs, 1)
	require.Len(t, merged.Inputs[1].PartialSigs, 1)
	require.Len(t, merged.Inputs[0].Bip32Derivation, 1)

	// The inputs of a are untouched.
	require.Empty(t, a.packet.Inputs[1].PartialSigs)
}

// TestCombineMismatch checks that packets of different transactions are not
// combined.
func TestCombineMismatch(t *testing.T) {
	t.Parallel()

	// Arrange.
	a := newFixture(t, V2)
	b := newFixture(t, V2)
	b.packet.Outputs[0].Amount++

	// Act.
	_, err := Combine(a.packet, b.packet)

	// Assert.
	require.ErrorIs(t, err, ErrCombineMismatch)
}

// TestCombineModifiable checks how the modifiable flags are merged.
func TestCombineModifiable(t *testing.T) {
	t.Parallel()

	// Arrange.
	a := newFixture(t, V2)
	b := newFixture(t, V2)
	a.packet.TxModifiable = fn.Some(TxModifiableInputs | TxModifiableOutputs)
	b.packet.TxModifiable = fn.Some(
		TxModifiableInputs | TxModifiableSighashSingle,
	)

	// Act.
	merged, err := Combine(a.packet, b.packet)

	// Assert.
	require.NoError(t, err)
	require.Equal(
		t, fn.Some(TxModifiableInputs|TxModifiableSighashSingle),
		merged.TxModifiable,
	)
}

// TestExtract checks extraction of the final transaction.
func TestExtract(t *testing.T) {
	t.Parallel()

	// Arrange.
	f := newFixture(t, V2)
	f.update(t)

	_, err := Extract(f.packet)
	require.ErrorIs(t, err, ErrNotFinalized)

	f.finalize(t)

	// Act.
	tx, err := Extract(f.packet)

	// Assert.
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxIn[0].Witness, 2)
	require.Equal(t, f.packet.Inputs[1].PreviousOutPoint,
		tx.TxIn[1].PreviousOutPoint)
	require.EqualValues(t, 70_000, tx.TxOut[0].Value)
}
