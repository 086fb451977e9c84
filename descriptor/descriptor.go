// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor describes output scripts as ranged descriptors over
// BIP-32 account keys and resolves them, at a derivation index, into the
// scripts and key origins a PSBT needs. Descriptors are built as values;
// parsing descriptor strings is left to the caller.
package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

var (
	// ErrInvalidDescriptor is returned when a descriptor is structurally
	// invalid, e.g. a multisig threshold larger than its key count.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrDerivation is returned when a key cannot be derived at the
	// requested index.
	ErrDerivation = errors.New("key derivation failed")
)

const (
	// maxP2SHMultiKeys is the largest multisig that fits a 520 byte redeem
	// script.
	maxP2SHMultiKeys = 15

	// maxWitnessMultiKeys is the standardness limit of CHECKMULTISIG keys
	// inside a witness script.
	maxWitnessMultiKeys = 20

	// maxTapscriptKeys bounds the keys of a multi_a leaf.
	maxTapscriptKeys = 999
)

// Type is the script template of a descriptor.
type Type uint8

const (
	// PKH is pkh(KEY).
	PKH Type = iota

	// SHWPKH is sh(wpkh(KEY)).
	SHWPKH

	// WPKH is wpkh(KEY).
	WPKH

	// SHMulti is sh(multi(k,KEY,...)).
	SHMulti

	// WSHMulti is wsh(multi(k,KEY,...)).
	WSHMulti

	// SHWSHMulti is sh(wsh(multi(k,KEY,...))).
	SHWSHMulti

	// TR is tr(KEY) or tr(KEY,TREE) with pk and multi_a leaves.
	TR
)

// String returns the descriptor function name of the type.
func (t Type) String() string {
	switch t {
	case PKH:
		return "pkh"

	case SHWPKH:
		return "sh(wpkh)"

	case WPKH:
		return "wpkh"

	case SHMulti:
		return "sh(multi)"

	case WSHMulti:
		return "wsh(multi)"

	case SHWSHMulti:
		return "sh(wsh(multi))"

	case TR:
		return "tr"

	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// IsMultisig returns true for the CHECKMULTISIG templates.
func (t Type) IsMultisig() bool {
	return t == SHMulti || t == WSHMulti || t == SHWSHMulti
}

// IsSingleKey returns true for the templates spending with one key.
func (t Type) IsSingleKey() bool {
	return t == PKH || t == SHWPKH || t == WPKH
}

// Key is a ranged key expression: a neutered account key, where it came
// from, and the non-hardened branch to the child index.
type Key struct {
	// Account is the neutered extended key at the end of Origin.
	Account *hdkeychain.ExtendedKey

	// Fingerprint is the fingerprint of the master key.
	Fingerprint uint32

	// Origin is the path from the master key to Account.
	Origin []uint32

	// Branch is derived from Account before the index, commonly {0} for
	// receive and {1} for change addresses.
	Branch []uint32
}

// ChildPath returns the path from Account to the key at index.
func (k Key) ChildPath(index uint32) []uint32 {
	path := make([]uint32, 0, len(k.Branch)+1)
	path = append(path, k.Branch...)

	return append(path, index)
}

// FullPath returns the path from the master key to the key at index.
func (k Key) FullPath(index uint32) []uint32 {
	path := make([]uint32, 0, len(k.Origin)+len(k.Branch)+1)
	path = append(path, k.Origin...)

	return append(path, k.ChildPath(index)...)
}

// String formats the key in descriptor key expression syntax.
func (k Key) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%08x", k.Fingerprint)
	for _, idx := range k.Origin {
		b.WriteString("/")
		b.WriteString(formatIndex(idx))
	}
	b.WriteString("]")

	if k.Account != nil {
		b.WriteString(k.Account.String())
	}

	for _, idx := range k.Branch {
		b.WriteString("/")
		b.WriteString(formatIndex(idx))
	}
	b.WriteString("/*")

	return b.String()
}

// formatIndex formats a child index with a ' suffix for hardened indexes.
func formatIndex(idx uint32) string {
	if idx >= hdkeychain.HardenedKeyStart {
		return fmt.Sprintf("%d'", idx-hdkeychain.HardenedKeyStart)
	}

	return fmt.Sprintf("%d", idx)
}

// Leaf is a tapscript leaf. A leaf without threshold is pk(KEY), otherwise
// multi_a(Threshold,KEY,...).
type Leaf struct {
	Keys      []Key
	Threshold int
}

// IsMulti returns true for multi_a leaves.
func (l Leaf) IsMulti() bool {
	return l.Threshold > 0
}

// Descriptor is a ranged output descriptor.
type Descriptor struct {
	Type Type

	// Keys holds the single key, the multisig keys or, for TR, the
	// internal key.
	Keys []Key

	// Threshold is the number of signatures a multisig requires.
	Threshold int

	// Sorted selects sortedmulti, ordering keys by their serialization.
	Sorted bool

	// Leaves are the tapscript leaves of a TR descriptor, in tree order.
	Leaves []Leaf
}

// NewWPKH returns wpkh(KEY).
func NewWPKH(key Key) *Descriptor {
	return &Descriptor{Type: WPKH, Keys: []Key{key}}
}

// NewTR returns tr(KEY,TREE), leaves may be empty.
func NewTR(internal Key, leaves ...Leaf) *Descriptor {
	return &Descriptor{Type: TR, Keys: []Key{internal}, Leaves: leaves}
}

// AllKeys returns the key expressions of the descriptor in resolution
// order: the descriptor's own keys, then the keys of each leaf.
func (d *Descriptor) AllKeys() []Key {
	keys := append([]Key{}, d.Keys...)
	for _, leaf := range d.Leaves {
		keys = append(keys, leaf.Keys...)
	}

	return keys
}

// Validate checks the structure of the descriptor.
func (d *Descriptor) Validate() error {
	for _, key := range d.AllKeys() {
		if key.Account == nil || key.Account.IsPrivate() {
			return fmt.Errorf("%w: key %v must be a public extended "+
				"key", ErrInvalidDescriptor, key)
		}
	}

	switch {
	case d.Type.IsSingleKey():
		if len(d.Keys) != 1 {
			return fmt.Errorf("%w: %v takes one key",
				ErrInvalidDescriptor, d.Type)
		}

	case d.Type.IsMultisig():
		limit := maxWitnessMultiKeys
		if d.Type == SHMulti {
			limit = maxP2SHMultiKeys
		}

		err := checkThreshold(d.Threshold, len(d.Keys), limit)
		if err != nil {
			return err
		}

	case d.Type == TR:
		if len(d.Keys) != 1 {
			return fmt.Errorf("%w: tr takes one internal key",
				ErrInvalidDescriptor)
		}

		for i, leaf := range d.Leaves {
			if err := leaf.validate(); err != nil {
				return fmt.Errorf("leaf %d: %w", i, err)
			}
		}

	default:
		return fmt.Errorf("%w: unknown type %v", ErrInvalidDescriptor,
			d.Type)
	}

	if d.Type != TR && len(d.Leaves) > 0 {
		return fmt.Errorf("%w: %v has no script tree",
			ErrInvalidDescriptor, d.Type)
	}

	return nil
}

// validate checks the structure of a tapscript leaf.
func (l Leaf) validate() error {
	if !l.IsMulti() {
		if len(l.Keys) != 1 {
			return fmt.Errorf("%w: pk leaf takes one key",
				ErrInvalidDescriptor)
		}

		return nil
	}

	return checkThreshold(l.Threshold, len(l.Keys), maxTapscriptKeys)
}

// checkThreshold validates a k-of-n multisig.
func checkThreshold(k, n, limit int) error {
	if n == 0 || n > limit {
		return fmt.Errorf("%w: %d keys, limit is %d",
			ErrInvalidDescriptor, n, limit)
	}

	if k < 1 || k > n {
		return fmt.Errorf("%w: threshold %d of %d keys",
			ErrInvalidDescriptor, k, n)
	}

	return nil
}

// String formats the descriptor without checksum.
func (d *Descriptor) String() string {
	keys := make([]string, 0, len(d.Keys))
	for _, k := range d.Keys {
		keys = append(keys, k.String())
	}

	multi := func() string {
		name := "multi"
		if d.Sorted {
			name = "sortedmulti"
		}

		return fmt.Sprintf("%s(%d,%s)", name, d.Threshold,
			strings.Join(keys, ","))
	}

	switch d.Type {
	case PKH:
		return fmt.Sprintf("pkh(%s)", strings.Join(keys, ","))

	case SHWPKH:
		return fmt.Sprintf("sh(wpkh(%s))", strings.Join(keys, ","))

	case WPKH:
		return fmt.Sprintf("wpkh(%s)", strings.Join(keys, ","))

	case SHMulti:
		return fmt.Sprintf("sh(%s)", multi())

	case WSHMulti:
		return fmt.Sprintf("wsh(%s)", multi())

	case SHWSHMulti:
		return fmt.Sprintf("sh(wsh(%s))", multi())

	case TR:
		if len(d.Leaves) == 0 {
			return fmt.Sprintf("tr(%s)", strings.Join(keys, ","))
		}

		leaves := make([]string, 0, len(d.Leaves))
		for _, leaf := range d.Leaves {
			leaves = append(leaves, leaf.String())
		}

		return fmt.Sprintf("tr(%s,{%s})", strings.Join(keys, ","),
			strings.Join(leaves, ","))

	default:
		return d.Type.String()
	}
}

// String formats the leaf as a tapscript fragment.
func (l Leaf) String() string {
	keys := make([]string, 0, len(l.Keys))
	for _, k := range l.Keys {
		keys = append(keys, k.String())
	}

	if !l.IsMulti() {
		return fmt.Sprintf("pk(%s)", strings.Join(keys, ","))
	}

	return fmt.Sprintf("multi_a(%d,%s)", l.Threshold,
		strings.Join(keys, ","))
}
