// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package construct

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SeqNoClass is the meaning of an input's sequence number.
type SeqNoClass uint8

const (
	// SeqUnencumbered is 0xffffffff or 0xfffffffe. Neither signals
	// replacement nor a relative lock.
	SeqUnencumbered SeqNoClass = iota

	// SeqRBFOnly signals replacement with the relative lock disabled.
	SeqRBFOnly

	// SeqRelativeHeight is a relative lock in blocks.
	SeqRelativeHeight

	// SeqRelativeTime is a relative lock in 512 second intervals.
	SeqRelativeTime
)

// String returns the name of the class.
func (c SeqNoClass) String() string {
	switch c {
	case SeqUnencumbered:
		return "unencumbered"

	case SeqRBFOnly:
		return "rbf"

	case SeqRelativeHeight:
		return "relative height"

	case SeqRelativeTime:
		return "relative time"

	default:
		return fmt.Sprintf("SeqNoClass(%d)", uint8(c))
	}
}

// SeqNo is an input sequence number.
type SeqNo uint32

const (
	// SeqNoFinal disables both replacement and the lock time.
	SeqNoFinal = SeqNo(wire.MaxTxInSequenceNum)

	// SeqNoLockTime enables the transaction lock time without signaling
	// replacement.
	SeqNoLockTime = SeqNo(wire.MaxTxInSequenceNum - 1)

	// SeqNoRBF is the default sequence of replaceable inputs.
	SeqNoRBF = SeqNo(psbt.MaxRBFSequence)
)

// Classify returns the class of the sequence number.
func (s SeqNo) Classify() SeqNoClass {
	switch {
	case s == SeqNoFinal || s == SeqNoLockTime:
		return SeqUnencumbered

	case uint32(s)&wire.SequenceLockTimeDisabled != 0:
		return SeqRBFOnly

	case uint32(s)&wire.SequenceLockTimeIsSeconds != 0:
		return SeqRelativeTime

	default:
		return SeqRelativeHeight
	}
}

// IsRBF returns true if the sequence signals replaceability.
func (s SeqNo) IsRBF() bool {
	return s < SeqNoLockTime
}

// EnablesLockTime returns true if the sequence lets the transaction lock
// time take effect.
func (s SeqNo) EnablesLockTime() bool {
	return s != SeqNoFinal
}

// RelativeLock returns the BIP-68 lock encoded by the sequence, if any.
func (s SeqNo) RelativeLock() (RelativeLock, bool) {
	value := uint16(uint32(s) & wire.SequenceLockTimeMask)

	switch s.Classify() {
	case SeqRelativeHeight:
		return RelativeLock{Value: value}, true

	case SeqRelativeTime:
		return RelativeLock{Value: value, Time: true}, true

	default:
		return RelativeLock{}, false
	}
}

// RelativeLock is a BIP-68 relative lock time. Value counts blocks, or 512
// second intervals when Time is set.
type RelativeLock struct {
	Value uint16
	Time  bool
}

// Sequence returns the sequence number encoding the lock.
func (r RelativeLock) Sequence() uint32 {
	if r.Time {
		seconds := uint32(r.Value) << wire.SequenceLockTimeGranularity
		return blockchain.LockTimeToSequence(true, seconds)
	}

	return blockchain.LockTimeToSequence(false, uint32(r.Value))
}

// String returns the lock in human readable form.
func (r RelativeLock) String() string {
	if r.Time {
		return fmt.Sprintf("%d*512s", r.Value)
	}

	return fmt.Sprintf("%d blocks", r.Value)
}

// inputSequence determines the sequence of a new input from the policy.
func inputSequence(policy *Policy, txVersion int32) (fn.Option[uint32],
	error) {

	explicit := policy.Sequence
	absolute := policy.AbsoluteLock.IsSome()

	if explicit.IsSome() {
		seq := SeqNo(explicit.UnwrapOr(0))

		if policy.RBF && !seq.IsRBF() {
			return fn.None[uint32](), fmt.Errorf("%w: sequence "+
				"%#x does not signal rbf",
				ErrIncompatibleTimelock, uint32(seq))
		}

		if absolute && !seq.EnablesLockTime() {
			return fn.None[uint32](), fmt.Errorf("%w: sequence "+
				"%#x disables the lock time",
				ErrIncompatibleTimelock, uint32(seq))
		}
	}

	if policy.RelativeLock.IsSome() {
		rel := policy.RelativeLock.UnwrapOr(RelativeLock{})
		if txVersion < 2 {
			return fn.None[uint32](), fmt.Errorf("%w: relative "+
				"lock needs tx version 2, have %d",
				ErrIncompatibleTimelock, txVersion)
		}

		seq := rel.Sequence()
		if explicit.IsSome() && explicit.UnwrapOr(0) != seq {
			return fn.None[uint32](), fmt.Errorf("%w: sequence "+
				"%#x does not encode %v",
				ErrIncompatibleTimelock, explicit.UnwrapOr(0),
				rel)
		}

		return fn.Some(seq), nil
	}

	switch {
	case explicit.IsSome():
		if SeqNo(explicit.UnwrapOr(0)) == SeqNoFinal {
			return fn.None[uint32](), nil
		}

		return explicit, nil

	case policy.RBF:
		return fn.Some(uint32(SeqNoRBF)), nil

	case absolute:
		return fn.Some(uint32(SeqNoLockTime)), nil

	default:
		return fn.None[uint32](), nil
	}
}
