// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// P2CTweakSubtype is the subtype of the pay-to-contract tweak record.
	P2CTweakSubtype = 0

	// p2cTweakLen is the size of a pay-to-contract tweak scalar.
	p2cTweakLen = 32
)

// P2CIdentifier is the proprietary identifier of pay-to-contract records.
var P2CIdentifier = []byte("P2C")

// SetP2CTweak records that the key of this input derived as pubKey must be
// tweaked by adding tweak before signing. The record value is the 33 byte
// public key followed by the 32 byte tweak.
func (i *Input) SetP2CTweak(pubKey *btcec.PublicKey, tweak [32]byte) {
	value := make([]byte, 0, btcec.PubKeyBytesLenCompressed+p2cTweakLen)
	value = append(value, pubKey.SerializeCompressed()...)
	value = append(value, tweak[:]...)

	key := ProprietaryKey{
		Identifier: P2CIdentifier,
		Subtype:    P2CTweakSubtype,
	}
	i.Unknowns = SetProprietary(i.Unknowns, key, value)
}

// P2CTweak returns the pay-to-contract tweak recorded for the given key. The
// key is matched by its x coordinate, so both compressed and x-only keys can
// be looked up.
func (i *Input) P2CTweak(pubKey []byte) ([32]byte, bool) {
	var tweak [32]byte

	u, key, ok := FindProprietary(i.Unknowns, P2CIdentifier, P2CTweakSubtype)
	if !ok || len(key.KeyData) != 0 ||
		len(u.Value) != btcec.PubKeyBytesLenCompressed+p2cTweakLen {

		return tweak, false
	}

	recorded := u.Value[:btcec.PubKeyBytesLenCompressed]
	switch len(pubKey) {
	case btcec.PubKeyBytesLenCompressed:
		if !bytes.Equal(recorded, pubKey) {
			return tweak, false
		}

	case 32:
		if !bytes.Equal(recorded[1:], pubKey) {
			return tweak, false
		}

	default:
		return tweak, false
	}

	copy(tweak[:], u.Value[btcec.PubKeyBytesLenCompressed:])

	return tweak, true
}
