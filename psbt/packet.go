// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt implements a single in-memory model for Partially Signed
// Bitcoin Transactions that covers both BIP-174 (version 0) and BIP-370
// (version 2) packets. The model always stores per-input and per-output
// transaction data on the inputs and outputs themselves; the version tag only
// decides how the packet is serialized and which rules apply to it.
package psbt

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Version is the PSBT format version carried by a packet.
type Version uint32

const (
	// V0 is the BIP-174 format with an embedded unsigned transaction.
	V0 Version = 0

	// V2 is the BIP-370 format with explicit per-input and per-output
	// transaction fields.
	V2 Version = 2
)

// String returns the human readable form of the version.
func (v Version) String() string {
	switch v {
	case V0:
		return "v0"

	case V2:
		return "v2"

	default:
		return fmt.Sprintf("v%d", uint32(v))
	}
}

const (
	// LockTimeThreshold is the value below which a lock time is
	// interpreted as a block height and above which as a unix timestamp.
	LockTimeThreshold = 500_000_000

	// TxModifiableInputs is set when inputs may still be added.
	TxModifiableInputs uint8 = 1 << 0

	// TxModifiableOutputs is set when outputs may still be added.
	TxModifiableOutputs uint8 = 1 << 1

	// TxModifiableSighashSingle is set when at least one signature uses
	// SIGHASH_SINGLE, pinning its input to the output of the same index.
	TxModifiableSighashSingle uint8 = 1 << 2

	// extendedKeyLen is the length of a serialized BIP-32 extended key
	// without the base58 checksum.
	extendedKeyLen = 78
)

// XPub is a global extended public key entry together with the origin of the
// key.
type XPub struct {
	// ExtendedKey is the 78 byte BIP-32 serialization of the key.
	ExtendedKey []byte

	// MasterKeyFingerprint is the fingerprint of the master key the key
	// was derived from.
	MasterKeyFingerprint uint32

	// Bip32Path is the derivation path from the master key.
	Bip32Path []uint32
}

// NewXPub builds a global xpub entry from a neutered extended key.
func NewXPub(key *hdkeychain.ExtendedKey, fingerprint uint32,
	path []uint32) (*XPub, error) {

	if key.IsPrivate() {
		return nil, fmt.Errorf("%w: xpub entry must be public",
			ErrInvalidPsbtFormat)
	}

	// The base58 string carries a 4 byte checksum after the 78 byte
	// payload.
	raw := base58.Decode(key.String())
	if len(raw) != extendedKeyLen+4 {
		return nil, fmt.Errorf("%w: unexpected xpub length %d",
			ErrInvalidPsbtFormat, len(raw))
	}

	return &XPub{
		ExtendedKey:          raw[:extendedKeyLen],
		MasterKeyFingerprint: fingerprint,
		Bip32Path:            path,
	}, nil
}

// Key parses the serialized extended key.
func (x *XPub) Key() (*hdkeychain.ExtendedKey, error) {
	b := x.ExtendedKey
	if len(b) != extendedKeyLen {
		return nil, fmt.Errorf("%w: xpub must be %d bytes",
			ErrInvalidPsbtFormat, extendedKeyLen)
	}

	return hdkeychain.NewExtendedKey(
		b[0:4], b[45:78], b[13:45], b[5:9], b[4],
		binary.BigEndian.Uint32(b[9:13]), false,
	), nil
}

// Packet is a partially signed transaction in either format version.
type Packet struct {
	// Version is the wire format the packet serializes to.
	Version Version

	// TxVersion is the version of the transaction being built.
	TxVersion int32

	// FallbackLockTime is the lock time used when no input requires one.
	// Decoded v0 packets carry the lock time of their embedded
	// transaction here.
	FallbackLockTime fn.Option[uint32]

	// TxModifiable holds the BIP-370 modifiable flags.
	TxModifiable fn.Option[uint8]

	// XPubs are the global extended public keys.
	XPubs []*XPub

	// Inputs are the packet's inputs in transaction order.
	Inputs []*Input

	// Outputs are the packet's outputs in transaction order.
	Outputs []*Output

	// Unknowns holds unrecognized and proprietary global entries in the
	// order they were decoded or added.
	Unknowns []*btcpsbt.Unknown
}

// New creates an empty packet of the given format version for a transaction
// of the given version.
func New(version Version, txVersion int32) *Packet {
	return &Packet{
		Version:   version,
		TxVersion: txVersion,
	}
}

// LockTime determines the lock time of the transaction. If no input requires
// a lock time the fallback, or zero, is used. Otherwise the largest height
// based requirement is used when every requiring input accepts a height,
// else the largest time based requirement when every requiring input accepts
// a time.
func (p *Packet) LockTime() (uint32, error) {
	var (
		required              bool
		heightOK, timeOK      = true, true
		maxHeight, maxTimeVal uint32
	)
	for _, in := range p.Inputs {
		height := in.RequiredHeightLockTime
		timeLock := in.RequiredTimeLockTime
		if height.IsNone() && timeLock.IsNone() {
			continue
		}

		required = true

		if height.IsNone() {
			heightOK = false
		}
		if timeLock.IsNone() {
			timeOK = false
		}

		maxHeight = max(maxHeight, height.UnwrapOr(0))
		maxTimeVal = max(maxTimeVal, timeLock.UnwrapOr(0))
	}

	switch {
	case !required:
		return p.FallbackLockTime.UnwrapOr(0), nil

	case heightOK:
		return maxHeight, nil

	case timeOK:
		return maxTimeVal, nil

	default:
		return 0, ErrLockTimeConflict
	}
}

// UnsignedTx materializes the unsigned transaction described by the packet.
func (p *Packet) UnsignedTx() (*wire.MsgTx, error) {
	lockTime, err := p.LockTime()
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(p.TxVersion)
	tx.LockTime = lockTime

	for _, in := range p.Inputs {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: in.PreviousOutPoint,
			Sequence:         in.SequenceNum(),
		})
	}

	for _, out := range p.Outputs {
		tx.AddTxOut(wire.NewTxOut(out.Amount, out.PkScript))
	}

	return tx, nil
}

// Input returns the input at the given index.
func (p *Packet) Input(idx int) (*Input, error) {
	if idx < 0 || idx >= len(p.Inputs) {
		return nil, fmt.Errorf("%w: input %d of %d", ErrIndexOutOfRange,
			idx, len(p.Inputs))
	}

	return p.Inputs[idx], nil
}

// Output returns the output at the given index.
func (p *Packet) Output(idx int) (*Output, error) {
	if idx < 0 || idx >= len(p.Outputs) {
		return nil, fmt.Errorf("%w: output %d of %d",
			ErrIndexOutOfRange, idx, len(p.Outputs))
	}

	return p.Outputs[idx], nil
}

// IsComplete returns true if every input is finalized.
func (p *Packet) IsComplete() bool {
	if len(p.Inputs) == 0 {
		return false
	}

	for _, in := range p.Inputs {
		if !in.IsFinalized() {
			return false
		}
	}

	return true
}

// Copy returns a deep copy of the packet.
func (p *Packet) Copy() *Packet {
	cp := &Packet{
		Version:          p.Version,
		TxVersion:        p.TxVersion,
		FallbackLockTime: p.FallbackLockTime,
		TxModifiable:     p.TxModifiable,
		Unknowns:         copyUnknowns(p.Unknowns),
	}

	for _, x := range p.XPubs {
		cp.XPubs = append(cp.XPubs, &XPub{
			ExtendedKey:          cloneBytes(x.ExtendedKey),
			MasterKeyFingerprint: x.MasterKeyFingerprint,
			Bip32Path:            cloneSlice(x.Bip32Path),
		})
	}

	for _, in := range p.Inputs {
		cp.Inputs = append(cp.Inputs, in.copy())
	}

	for _, out := range p.Outputs {
		cp.Outputs = append(cp.Outputs, out.copy())
	}

	return cp
}

// cloneBytes returns a copy of b, keeping nil as nil.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte{}, b...)
}

// cloneSlice returns a shallow copy of s, keeping nil as nil.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}

	return append([]T{}, s...)
}

// copyUnknowns deep copies a list of unknown entries.
func copyUnknowns(unknowns []*btcpsbt.Unknown) []*btcpsbt.Unknown {
	if unknowns == nil {
		return nil
	}

	cp := make([]*btcpsbt.Unknown, 0, len(unknowns))
	for _, u := range unknowns {
		cp = append(cp, &btcpsbt.Unknown{
			Key:   cloneBytes(u.Key),
			Value: cloneBytes(u.Value),
		})
	}

	return cp
}
