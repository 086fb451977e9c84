// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestP2CTweakRecord checks that the tweak record survives serialization
// and is found by compressed and x-only key.
func TestP2CTweakRecord(t *testing.T) {
	t.Parallel()

	// Arrange.
	_, pub := testKey(0x03)
	_, other := testKey(0x04)
	tweak := [32]byte{0x01, 0x02, 0x03}

	p := New(V2, 2)
	in := NewInput(wire.OutPoint{Index: 1})
	in.SetP2CTweak(pub, tweak)
	_, err := p.AddInput(in)
	require.NoError(t, err)

	// Act.
	decoded := decode(t, encode(t, p))
	got := decoded.Inputs[0]

	// Assert.
	byCompressed, ok := got.P2CTweak(pub.SerializeCompressed())
	require.True(t, ok)
	require.Equal(t, tweak, byCompressed)

	byXOnly, ok := got.P2CTweak(xOnly(pub))
	require.True(t, ok)
	require.Equal(t, tweak, byXOnly)

	_, ok = got.P2CTweak(other.SerializeCompressed())
	require.False(t, ok)

	// Setting the record again replaces it.
	got.SetP2CTweak(other, tweak)
	require.Len(t, got.Unknowns, 1)
}
