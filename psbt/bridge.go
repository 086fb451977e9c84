// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"encoding/binary"
	"fmt"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// V2FieldsIdentifier is the proprietary identifier under which v2 only
// fields are carried by v0 packets. The subtype of each entry is the key type
// of the native v2 field.
var V2FieldsIdentifier = []byte("psbtv2")

// ToV0 returns a copy of the packet that serializes as a BIP-174 packet.
// Converting a v2 packet fails with ErrIncomplete unless every input knows
// the output it spends and the lock time can be determined. Fields v0 has no
// key type for are kept as proprietary entries.
func (p *Packet) ToV0() (*Packet, error) {
	switch p.Version {
	case V0:
		return p.Copy(), nil

	case V2:

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, p.Version)
	}

	for idx, in := range p.Inputs {
		if _, err := in.PrevOut(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrIncomplete,
				idx, err)
		}
	}

	if _, err := p.LockTime(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncomplete, err)
	}

	cp := p.Copy()
	cp.Version = V0

	log.Debugf("Converted v2 psbt with %d inputs to v0", len(p.Inputs))

	return cp, nil
}

// ToV2 returns a copy of the packet that serializes as a BIP-370 packet.
func (p *Packet) ToV2() (*Packet, error) {
	switch p.Version {
	case V0, V2:

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, p.Version)
	}

	cp := p.Copy()
	cp.Version = V2

	return cp, nil
}

// v0Extensions holds the proprietary entries a v0 serialization appends to
// the global map and to each input map.
type v0Extensions struct {
	global []*btcpsbt.Unknown
	inputs [][]*btcpsbt.Unknown
}

// v2Entry builds a proprietary entry carrying the v2 field of the given key
// type.
func v2Entry(keyType byte, value []byte) *btcpsbt.Unknown {
	key := ProprietaryKey{
		Identifier: V2FieldsIdentifier,
		Subtype:    uint64(keyType),
	}

	return &btcpsbt.Unknown{Key: key.Encode(), Value: value}
}

// demoteV2Fields collects the v2 only fields of a packet as proprietary
// entries. The fallback lock time is only carried when the embedded lock
// time alone cannot reproduce it.
func demoteV2Fields(p *Packet, lockTime uint32) v0Extensions {
	ext := v0Extensions{
		inputs: make([][]*btcpsbt.Unknown, len(p.Inputs)),
	}

	p.TxModifiable.WhenSome(func(flags uint8) {
		ext.global = append(
			ext.global, v2Entry(globalTxModifiableType, []byte{flags}),
		)
	})

	demoted := len(ext.global) > 0
	for idx, in := range p.Inputs {
		in.RequiredTimeLockTime.WhenSome(func(v uint32) {
			ext.inputs[idx] = append(ext.inputs[idx], v2Entry(
				inRequiredTimeLockType, uint32LE(v),
			))
		})
		in.RequiredHeightLockTime.WhenSome(func(v uint32) {
			ext.inputs[idx] = append(ext.inputs[idx], v2Entry(
				inRequiredHeightLockType, uint32LE(v),
			))
		})

		if len(ext.inputs[idx]) > 0 {
			demoted = true
		}
	}

	p.FallbackLockTime.WhenSome(func(v uint32) {
		if demoted || v == 0 || v != lockTime {
			ext.global = append(ext.global, v2Entry(
				globalFallbackLockType, uint32LE(v),
			))
		}
	})

	return ext
}

// promoteV2Fields moves proprietary v2 entries of a decoded v0 packet back
// into their native fields and derives the fallback lock time.
func promoteV2Fields(p *Packet, lockTime uint32) {
	marked := false

	take := func(unknowns []*btcpsbt.Unknown, keyType byte,
		size int) ([]*btcpsbt.Unknown, []byte, bool) {

		u, _, ok := FindProprietary(
			unknowns, V2FieldsIdentifier, uint64(keyType),
		)
		if !ok || len(u.Value) != size {
			return unknowns, nil, false
		}

		marked = true

		return removeUnknown(unknowns, u), u.Value, true
	}

	var (
		value    []byte
		ok       bool
		fallback = fn.None[uint32]()
	)
	p.Unknowns, value, ok = take(p.Unknowns, globalTxModifiableType, 1)
	if ok {
		p.TxModifiable = fn.Some(value[0])
	}

	p.Unknowns, value, ok = take(p.Unknowns, globalFallbackLockType, 4)
	if ok {
		fallback = fn.Some(binary.LittleEndian.Uint32(value))
	}

	for _, in := range p.Inputs {
		in.Unknowns, value, ok = take(
			in.Unknowns, inRequiredTimeLockType, 4,
		)
		if ok {
			in.RequiredTimeLockTime = fn.Some(
				binary.LittleEndian.Uint32(value),
			)
		}

		in.Unknowns, value, ok = take(
			in.Unknowns, inRequiredHeightLockType, 4,
		)
		if ok {
			in.RequiredHeightLockTime = fn.Some(
				binary.LittleEndian.Uint32(value),
			)
		}
	}

	switch {
	case marked:
		p.FallbackLockTime = fallback

	case lockTime != 0:
		p.FallbackLockTime = fn.Some(lockTime)
	}
}
