// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownScriptType is returned when an input spends a script the
	// signer cannot produce signatures or final scripts for.
	ErrUnknownScriptType = errors.New("unknown script type")

	// ErrMissingPrevout is returned when the output spent by an input is
	// not known, or when a taproot input is signed without knowing every
	// spent output.
	ErrMissingPrevout = errors.New("previous output unknown")

	// ErrKeyMismatch is returned when a derived key does not match the
	// key recorded for, or committed to by, an input.
	ErrKeyMismatch = errors.New("derived key does not match input")

	// ErrInsufficientSignatures is returned when an input cannot be
	// finalized because it lacks signatures.
	ErrInsufficientSignatures = errors.New("insufficient signatures")

	// ErrStaleSighashCache is returned when a sighash cache is used with
	// a packet whose transaction changed since the cache was built.
	ErrStaleSighashCache = errors.New("sighash cache does not match " +
		"transaction")

	// ErrUnknownMaster is returned by a key provider that does not hold
	// the master key with the requested fingerprint.
	ErrUnknownMaster = errors.New("unknown master key fingerprint")

	// ErrScriptValidation is returned when a finalized input fails script
	// validation.
	ErrScriptValidation = errors.New("final scripts fail validation")
)

// InputError is a failure to sign or finalize a single input.
type InputError struct {
	Index int
	Err   error
}

// Error returns the error message.
func (e *InputError) Error() string {
	return fmt.Sprintf("input %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.Err
}
