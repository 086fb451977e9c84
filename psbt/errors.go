// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import "errors"

var (
	// ErrInvalidMagic is returned when a serialized packet does not start
	// with the PSBT magic bytes.
	ErrInvalidMagic = errors.New("invalid psbt magic bytes")

	// ErrInvalidPsbtFormat is returned when a serialized packet violates
	// the map layout or the field rules of its version.
	ErrInvalidPsbtFormat = errors.New("invalid psbt format")

	// ErrUnsupportedVersion is returned when the global version field
	// carries a version other than 0 or 2.
	ErrUnsupportedVersion = errors.New("unsupported psbt version")

	// ErrDuplicateKey is returned when a key appears more than once in the
	// same map.
	ErrDuplicateKey = errors.New("duplicate key in psbt map")

	// ErrIncomplete is returned when a v2 packet cannot be turned into a
	// v0 packet because the transaction cannot be materialized.
	ErrIncomplete = errors.New("psbt is incomplete for the target version")

	// ErrLockTimeConflict is returned when the inputs of a packet require
	// both a height based and a time based lock time.
	ErrLockTimeConflict = errors.New(
		"inputs require conflicting lock time types",
	)

	// ErrMissingPrevout is returned when an input carries no usable
	// information about the output it spends.
	ErrMissingPrevout = errors.New("previous output unknown")

	// ErrPrevTxMismatch is returned when the non-witness UTXO of an input
	// does not hash to the outpoint the input spends.
	ErrPrevTxMismatch = errors.New(
		"non-witness utxo does not match previous outpoint",
	)

	// ErrIndexOutOfRange is returned when an input or output index does
	// not exist in the packet.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInputFinalized is returned when a mutation targets an input that
	// already carries its final scriptSig or witness.
	ErrInputFinalized = errors.New("input already finalized")

	// ErrMutationAfterSigning is returned when an input or output is added
	// or changed in a way that existing signatures do not permit.
	ErrMutationAfterSigning = errors.New(
		"mutation not permitted by existing signatures",
	)

	// ErrNotModifiable is returned when a v2 packet's modifiable flags
	// forbid adding inputs or outputs.
	ErrNotModifiable = errors.New("psbt flags forbid this modification")

	// ErrGlobalLocked is returned when a global field is changed after the
	// packet left the constructing state.
	ErrGlobalLocked = errors.New("global fields are locked")

	// ErrDuplicateInput is returned when an input spending an outpoint
	// that is already spent by the packet is added.
	ErrDuplicateInput = errors.New("outpoint already spent by packet")

	// ErrAlreadySigned is returned when the ordering of a packet is
	// changed after a signature has been produced.
	ErrAlreadySigned = errors.New("psbt already carries signatures")

	// ErrInvalidPermutation is returned when an ordering permutation does
	// not match the shape of the packet.
	ErrInvalidPermutation = errors.New("invalid permutation")

	// ErrNotFinalized is returned when the final transaction is requested
	// from a packet that still has unfinalized inputs.
	ErrNotFinalized = errors.New("psbt is not fully finalized")

	// ErrCombineMismatch is returned when two packets describing different
	// transactions are combined.
	ErrCombineMismatch = errors.New(
		"packets describe different transactions",
	)
)
