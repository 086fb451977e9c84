// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// ProprietaryKey is the parsed form of a 0xFC key: a length-prefixed
// identifier, a compact size subtype and free-form key data.
type ProprietaryKey struct {
	// Identifier namespaces the entry, e.g. "P2C".
	Identifier []byte

	// Subtype distinguishes entries within one identifier.
	Subtype uint64

	// KeyData is the remainder of the key after the subtype.
	KeyData []byte
}

// Encode serializes the key including its leading key type byte.
func (k ProprietaryKey) Encode() []byte {
	var b bytes.Buffer
	b.WriteByte(ProprietaryType)

	// Writes to a bytes.Buffer never fail.
	_ = wire.WriteVarBytes(&b, 0, k.Identifier)
	_ = wire.WriteVarInt(&b, 0, k.Subtype)
	b.Write(k.KeyData)

	return b.Bytes()
}

// ParseProprietaryKey parses a full map key, type byte included, as a
// proprietary key.
func ParseProprietaryKey(key []byte) (*ProprietaryKey, error) {
	if len(key) == 0 || key[0] != ProprietaryType {
		return nil, fmt.Errorf("%w: not a proprietary key",
			ErrInvalidPsbtFormat)
	}

	r := bytes.NewReader(key[1:])
	id, err := wire.ReadVarBytes(r, 0, maxKeyLength, "identifier")
	if err != nil {
		return nil, fmt.Errorf("%w: proprietary identifier: %v",
			ErrInvalidPsbtFormat, err)
	}

	subtype, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: proprietary subtype: %v",
			ErrInvalidPsbtFormat, err)
	}

	keyData := make([]byte, r.Len())
	_, _ = r.Read(keyData)

	return &ProprietaryKey{
		Identifier: id,
		Subtype:    subtype,
		KeyData:    keyData,
	}, nil
}

// FindProprietary returns the first entry of the given unknowns that is a
// proprietary entry with the given identifier and subtype.
func FindProprietary(unknowns []*btcpsbt.Unknown, identifier []byte,
	subtype uint64) (*btcpsbt.Unknown, *ProprietaryKey, bool) {

	for _, u := range unknowns {
		if len(u.Key) == 0 || u.Key[0] != ProprietaryType {
			continue
		}

		key, err := ParseProprietaryKey(u.Key)
		if err != nil {
			continue
		}

		if bytes.Equal(key.Identifier, identifier) &&
			key.Subtype == subtype {

			return u, key, true
		}
	}

	return nil, nil, false
}

// SetProprietary replaces the value of an existing entry with the same key,
// or appends a new entry, and returns the updated slice.
func SetProprietary(unknowns []*btcpsbt.Unknown, key ProprietaryKey,
	value []byte) []*btcpsbt.Unknown {

	encoded := key.Encode()
	for _, u := range unknowns {
		if bytes.Equal(u.Key, encoded) {
			u.Value = value
			return unknowns
		}
	}

	return append(unknowns, &btcpsbt.Unknown{Key: encoded, Value: value})
}

// removeUnknown returns the unknowns without the given entry.
func removeUnknown(unknowns []*btcpsbt.Unknown,
	target *btcpsbt.Unknown) []*btcpsbt.Unknown {

	var kept []*btcpsbt.Unknown
	for _, u := range unknowns {
		if u != target {
			kept = append(kept, u)
		}
	}

	return kept
}
