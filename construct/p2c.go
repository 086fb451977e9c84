// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package construct

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/psbtwallet/descriptor"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// TweakOrder selects where in the derivation a pay-to-contract tweak is
// applied.
type TweakOrder uint8

const (
	// DeriveThenTweak adds the tweak to the derived child key.
	DeriveThenTweak TweakOrder = iota

	// TweakThenDerive adds the tweak to the account key and derives the
	// child from the tweaked key.
	TweakThenDerive
)

// String returns the name of the order.
func (o TweakOrder) String() string {
	switch o {
	case DeriveThenTweak:
		return "derive-then-tweak"

	case TweakThenDerive:
		return "tweak-then-derive"

	default:
		return fmt.Sprintf("TweakOrder(%d)", uint8(o))
	}
}

// contractScalar interprets a contract commitment as a tweak scalar.
func contractScalar(contract chainhash.Hash) (btcec.ModNScalar, error) {
	var t btcec.ModNScalar
	if overflow := t.SetByteSlice(contract[:]); overflow {
		return t, fmt.Errorf("%w: contract hash exceeds curve order",
			ErrDescriptorResolution)
	}

	if t.IsZero() {
		return t, fmt.Errorf("%w: zero contract hash",
			ErrDescriptorResolution)
	}

	return t, nil
}

// tweakPubKey returns pub + t*G.
func tweakPubKey(pub *btcec.PublicKey,
	t *btcec.ModNScalar) (*btcec.PublicKey, error) {

	var point, tweakPoint, sum btcec.JacobianPoint
	pub.AsJacobian(&point)
	btcec.ScalarBaseMultNonConst(t, &tweakPoint)
	btcec.AddNonConst(&point, &tweakPoint, &sum)

	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, fmt.Errorf("%w: tweak yields the point at infinity",
			ErrDescriptorResolution)
	}

	sum.ToAffine()

	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}

// childTweakSum returns the sum of the BIP-32 child tweaks along path,
// starting at the public key pub with the given chain code.
func childTweakSum(pub *btcec.PublicKey, chainCode []byte,
	path []uint32) (btcec.ModNScalar, error) {

	var (
		sum     btcec.ModNScalar
		current = pub
		code    = chainCode
	)
	for _, idx := range path {
		if idx >= hdkeychain.HardenedKeyStart {
			return sum, fmt.Errorf("%w: hardened index %d below "+
				"public key", descriptor.ErrDerivation, idx)
		}

		data := make([]byte, 0, btcec.PubKeyBytesLenCompressed+4)
		data = append(data, current.SerializeCompressed()...)
		data = binary.BigEndian.AppendUint32(data, idx)

		mac := hmac.New(sha512.New, code)
		_, _ = mac.Write(data)
		digest := mac.Sum(nil)

		var il btcec.ModNScalar
		if overflow := il.SetByteSlice(digest[:32]); overflow {
			return sum, fmt.Errorf("%w: invalid child at index %d",
				descriptor.ErrDerivation, idx)
		}

		next, err := tweakPubKey(current, &il)
		if err != nil {
			return sum, fmt.Errorf("%w: invalid child at index %d",
				descriptor.ErrDerivation, idx)
		}

		sum.Add(&il)
		current = next
		code = digest[32:]
	}

	return sum, nil
}

// effectiveTweak returns the scalar that, added to the key derived from the
// untweaked account key, yields the key of the requested tweak order.
func effectiveTweak(order TweakOrder, key descriptor.Key, index uint32,
	t btcec.ModNScalar) (btcec.ModNScalar, error) {

	if order == DeriveThenTweak {
		return t, nil
	}

	account, err := key.Account.ECPubKey()
	if err != nil {
		return t, fmt.Errorf("%w: %v", descriptor.ErrDerivation, err)
	}

	tweakedAccount, err := tweakPubKey(account, &t)
	if err != nil {
		return t, err
	}

	path := key.ChildPath(index)
	chainCode := key.Account.ChainCode()

	plain, err := childTweakSum(account, chainCode, path)
	if err != nil {
		return t, err
	}

	tweaked, err := childTweakSum(tweakedAccount, chainCode, path)
	if err != nil {
		return t, err
	}

	// t + sum(IL') - sum(IL)
	plain.Negate()
	eff := t
	eff.Add(&tweaked).Add(&plain)

	if eff.IsZero() {
		return eff, fmt.Errorf("%w: effective tweak is zero",
			ErrDescriptorResolution)
	}

	return eff, nil
}
