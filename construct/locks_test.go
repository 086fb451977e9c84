// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package construct

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// TestSeqNoClassify checks the classification of sequence numbers.
func TestSeqNoClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seq   SeqNo
		class SeqNoClass
		rbf   bool
	}{
		{seq: SeqNoFinal, class: SeqUnencumbered},
		{seq: SeqNoLockTime, class: SeqUnencumbered},
		{seq: SeqNoRBF, class: SeqRBFOnly, rbf: true},
		{seq: 0x80000000, class: SeqRBFOnly, rbf: true},
		{seq: 144, class: SeqRelativeHeight, rbf: true},
		{seq: 0x00400010, class: SeqRelativeTime, rbf: true},
	}

	for _, tc := range tests {
		require.Equal(t, tc.class, tc.seq.Classify(), "%#x",
			uint32(tc.seq))
		require.Equal(t, tc.rbf, tc.seq.IsRBF(), "%#x", uint32(tc.seq))
	}

	lock, ok := SeqNo(0x00400010).RelativeLock()
	require.True(t, ok)
	require.Equal(t, RelativeLock{Value: 16, Time: true}, lock)

	_, ok = SeqNoRBF.RelativeLock()
	require.False(t, ok)
}

// TestRelativeLockSequence checks the BIP-68 encoding of relative locks.
func TestRelativeLockSequence(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 144, RelativeLock{Value: 144}.Sequence())
	require.EqualValues(t, wire.SequenceLockTimeIsSeconds|3,
		RelativeLock{Value: 3, Time: true}.Sequence())
}

// TestInputSequence checks how the sequence of a new input follows from
// its policy.
func TestInputSequence(t *testing.T) {
	t.Parallel()

	final := uint32(wire.MaxTxInSequenceNum)

	tests := []struct {
		name      string
		policy    Policy
		txVersion int32
		want      fn.Option[uint32]
		err       error
	}{
		{
			name:      "no requirements",
			txVersion: 2,
			want:      fn.None[uint32](),
		},
		{
			name:      "rbf default",
			policy:    Policy{RBF: true},
			txVersion: 2,
			want:      fn.Some(uint32(0xfffffffd)),
		},
		{
			name:      "absolute lock default",
			policy:    Policy{AbsoluteLock: fn.Some(uint32(800_000))},
			txVersion: 2,
			want:      fn.Some(uint32(0xfffffffe)),
		},
		{
			name: "rbf with final sequence",
			policy: Policy{
				RBF: true, Sequence: fn.Some(final),
			},
			txVersion: 2,
			err:       ErrIncompatibleTimelock,
		},
		{
			name: "rbf with non signaling sequence",
			policy: Policy{
				RBF: true, Sequence: fn.Some(final - 1),
			},
			txVersion: 2,
			err:       ErrIncompatibleTimelock,
		},
		{
			name: "absolute lock with final sequence",
			policy: Policy{
				AbsoluteLock: fn.Some(uint32(800_000)),
				Sequence:     fn.Some(final),
			},
			txVersion: 2,
			err:       ErrIncompatibleTimelock,
		},
		{
			name: "relative lock",
			policy: Policy{
				RelativeLock: fn.Some(RelativeLock{Value: 10}),
				RBF:          true,
			},
			txVersion: 2,
			want:      fn.Some(uint32(10)),
		},
		{
			name: "relative lock in version 1",
			policy: Policy{
				RelativeLock: fn.Some(RelativeLock{Value: 10}),
			},
			txVersion: 1,
			err:       ErrIncompatibleTimelock,
		},
		{
			name: "relative lock with other sequence",
			policy: Policy{
				RelativeLock: fn.Some(RelativeLock{Value: 10}),
				Sequence:     fn.Some(uint32(11)),
			},
			txVersion: 2,
			err:       ErrIncompatibleTimelock,
		},
		{
			name:      "explicit final",
			policy:    Policy{Sequence: fn.Some(final)},
			txVersion: 2,
			want:      fn.None[uint32](),
		},
		{
			name:      "explicit",
			policy:    Policy{Sequence: fn.Some(uint32(7))},
			txVersion: 1,
			want:      fn.Some(uint32(7)),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act.
			got, err := inputSequence(&tc.policy, tc.txVersion)

			// Assert.
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
