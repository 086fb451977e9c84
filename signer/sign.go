// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package signer produces signatures for PSBT inputs and turns signed
// inputs into final scripts.
package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/sync/errgroup"
)

// pendingSigs are the signatures produced for one input. They are only
// written to the packet once every signature was produced.
type pendingSigs struct {
	partial     []*btcpsbt.PartialSig
	keySpend    []byte
	scriptSpend []*btcpsbt.TaprootScriptSpendSig
}

// count returns the number of signatures.
func (s *pendingSigs) count() int {
	n := len(s.partial) + len(s.scriptSpend)
	if s.keySpend != nil {
		n++
	}

	return n
}

// SignInput signs the input at idx with every key of keys the input records
// a derivation for. It returns the number of signatures added. Keys that
// already signed are skipped, so signing twice adds nothing.
func SignInput(p *psbt.Packet, idx int, keys KeyProvider,
	cache *SighashCache) (int, error) {

	if err := cache.check(p); err != nil {
		return 0, err
	}

	n, sht, err := signInput(p, idx, keys, cache)
	if err != nil {
		return 0, &InputError{Index: idx, Err: err}
	}

	if n > 0 {
		p.RecordSignature(sht)
	}

	return n, nil
}

// SignAll signs every input that is not finalized yet. Inputs are signed
// concurrently. It returns the number of signatures added.
func SignAll(ctx context.Context, p *psbt.Packet, keys KeyProvider,
	cache *SighashCache) (int, error) {

	if err := cache.check(p); err != nil {
		return 0, err
	}

	type result struct {
		n   int
		sht txscript.SigHashType
	}
	results := make([]result, len(p.Inputs))

	g, ctx := errgroup.WithContext(ctx)
	for idx, in := range p.Inputs {
		if in.IsFinalized() {
			continue
		}

		// Each goroutine only writes to its own input.
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			n, sht, err := signInput(p, idx, keys, cache)
			if err != nil {
				return &InputError{Index: idx, Err: err}
			}

			results[idx] = result{n: n, sht: sht}

			return nil
		})
	}
	err := g.Wait()

	var total int
	for _, r := range results {
		if r.n == 0 {
			continue
		}

		p.RecordSignature(r.sht)
		total += r.n
	}

	log.Debugf("Added %d signatures to %d inputs", total, len(p.Inputs))

	return total, err
}

// signInput produces and adds the signatures of one input. It returns the
// number of signatures and the sighash type they commit to.
func signInput(p *psbt.Packet, idx int, keys KeyProvider,
	cache *SighashCache) (int, txscript.SigHashType, error) {

	in, err := p.Input(idx)
	if err != nil {
		return 0, 0, err
	}

	if in.IsFinalized() {
		return 0, 0, psbt.ErrInputFinalized
	}

	spend, err := Classify(in)
	if err != nil {
		return 0, 0, err
	}

	var (
		sigs pendingSigs
		sht  txscript.SigHashType
	)
	if spend.IsTaproot() {
		if !cache.complete {
			return 0, 0, fmt.Errorf("%w: taproot signatures commit "+
				"to every spent output", ErrMissingPrevout)
		}

		sht = in.SighashType.UnwrapOr(txscript.SigHashDefault)
		err = signTaproot(in, idx, spend, sht, keys, cache, &sigs)
	} else {
		sht = in.SighashType.UnwrapOr(txscript.SigHashAll)
		if sht == txscript.SigHashDefault {
			sht = txscript.SigHashAll
		}

		err = signECDSA(in, idx, spend, sht, keys, cache, &sigs)
	}
	if err != nil {
		return 0, 0, err
	}

	if err := applySigs(p, idx, &sigs); err != nil {
		return 0, 0, err
	}

	log.Tracef("Input %d (%v): %d signatures with sighash %v", idx,
		spend.Kind, sigs.count(), sht)

	return sigs.count(), sht, nil
}

// applySigs writes the produced signatures to the input.
func applySigs(p *psbt.Packet, idx int, sigs *pendingSigs) error {
	for _, sig := range sigs.partial {
		err := p.AddPartialSig(idx, sig.PubKey, sig.Signature)
		if err != nil {
			return err
		}
	}

	if sigs.keySpend != nil {
		if err := p.SetTaprootKeySpendSig(idx, sigs.keySpend); err != nil {
			return err
		}
	}

	for _, sig := range sigs.scriptSpend {
		if err := p.AddTaprootScriptSpendSig(idx, sig); err != nil {
			return err
		}
	}

	return nil
}

// signingKey derives the private key of a derivation record and applies
// the pay-to-contract tweak recorded for it. A nil key is returned for keys
// the provider does not hold.
func signingKey(in *psbt.Input, keys KeyProvider, fingerprint uint32,
	path []uint32) (*btcec.PrivateKey, *btcec.PublicKey, error) {

	ext, err := keys.ExtendedKey(fingerprint, path)
	switch {
	case errors.Is(err, ErrUnknownMaster):
		return nil, nil, nil

	case err != nil:
		return nil, nil, err
	}

	priv, err := ext.ECPrivKey()
	if err != nil {
		return nil, nil, err
	}
	derived := priv.PubKey()

	tweak, ok := in.P2CTweak(derived.SerializeCompressed())
	if !ok {
		return priv, derived, nil
	}

	var t btcec.ModNScalar
	if overflow := t.SetByteSlice(tweak[:]); overflow {
		return nil, nil, fmt.Errorf("%w: contract tweak exceeds curve "+
			"order", ErrKeyMismatch)
	}

	k := priv.Key
	k.Add(&t)
	if k.IsZero() {
		return nil, nil, fmt.Errorf("%w: contract tweak yields zero "+
			"key", ErrKeyMismatch)
	}

	return secp256k1.NewPrivateKey(&k), derived, nil
}

// signECDSA produces the signatures of a legacy or segwit v0 input.
func signECDSA(in *psbt.Input, idx int, spend Spend,
	sht txscript.SigHashType, keys KeyProvider, cache *SighashCache,
	sigs *pendingSigs) error {

	for _, d := range in.Bip32Derivation {
		priv, derived, err := signingKey(
			in, keys, d.MasterKeyFingerprint, d.Bip32Path,
		)
		if err != nil {
			return err
		}
		if priv == nil {
			continue
		}

		recorded, err := btcec.ParsePubKey(d.PubKey)
		if err != nil || !recorded.IsEqual(derived) {
			return fmt.Errorf("%w: key at %v is not %x",
				ErrKeyMismatch, d.Bip32Path, d.PubKey)
		}

		pub := priv.PubKey().SerializeCompressed()
		if !scriptCommitsTo(spend.ScriptCode, pub) {
			return fmt.Errorf("%w: script does not use key %x",
				ErrKeyMismatch, pub)
		}

		if hasPartialSig(in, pub) {
			continue
		}

		var hash []byte
		if spend.Kind == SpendLegacy {
			hash, err = txscript.CalcSignatureHash(
				spend.ScriptCode, sht, cache.tx, idx,
			)
		} else {
			hash, err = txscript.CalcWitnessSigHash(
				spend.ScriptCode, cache.hashes, sht, cache.tx,
				idx, spend.PrevOut.Value,
			)
		}
		if err != nil {
			return err
		}

		sig := ecdsa.Sign(priv, hash)
		sigs.partial = append(sigs.partial, &btcpsbt.PartialSig{
			PubKey:    pub,
			Signature: append(sig.Serialize(), byte(sht)),
		})
	}

	return nil
}

// signTaproot produces the key path and script path signatures of a
// taproot input.
func signTaproot(in *psbt.Input, idx int, spend Spend,
	sht txscript.SigHashType, keys KeyProvider, cache *SighashCache,
	sigs *pendingSigs) error {

	for _, d := range in.TaprootBip32Derivation {
		priv, derived, err := signingKey(
			in, keys, d.MasterKeyFingerprint, d.Bip32Path,
		)
		if err != nil {
			return err
		}
		if priv == nil {
			continue
		}

		if !bytes.Equal(schnorr.SerializePubKey(derived), d.XOnlyPubKey) {
			return fmt.Errorf("%w: key at %v is not %x",
				ErrKeyMismatch, d.Bip32Path, d.XOnlyPubKey)
		}

		pub := priv.PubKey()
		xOnly := schnorr.SerializePubKey(pub)

		switch {
		case isInternalKey(in, spend, pub):
			if len(in.TaprootKeySpendSig) > 0 {
				break
			}

			sig, err := keySpendSig(in, idx, priv, sht, cache)
			if err != nil {
				return err
			}
			sigs.keySpend = sig

		case len(d.LeafHashes) == 0:
			return fmt.Errorf("%w: %x is neither the internal key "+
				"nor used by a leaf", ErrKeyMismatch, xOnly)
		}

		for _, leafHash := range d.LeafHashes {
			leaf := findLeaf(in, leafHash)
			if leaf == nil {
				log.Debugf("Input %d: no script for leaf %x", idx,
					leafHash)
				continue
			}

			if !bytes.Contains(leaf.Script, xOnly) {
				return fmt.Errorf("%w: leaf %x does not use "+
					"key %x", ErrKeyMismatch, leafHash, xOnly)
			}

			if hasScriptSpendSig(in, xOnly, leafHash) {
				continue
			}

			tapLeaf := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script)
			hash, err := txscript.CalcTapscriptSignaturehash(
				cache.hashes, sht, cache.tx, idx, cache.fetcher,
				tapLeaf,
			)
			if err != nil {
				return err
			}

			sig, err := schnorr.Sign(priv, hash)
			if err != nil {
				return err
			}

			sigs.scriptSpend = append(sigs.scriptSpend,
				&btcpsbt.TaprootScriptSpendSig{
					XOnlyPubKey: xOnly,
					LeafHash:    leafHash,
					Signature:   schnorrSigBytes(sig, sht),
					SigHash:     sht,
				})
		}
	}

	return nil
}

// keySpendSig signs the taproot key path of an input.
func keySpendSig(in *psbt.Input, idx int, priv *btcec.PrivateKey,
	sht txscript.SigHashType, cache *SighashCache) ([]byte, error) {

	hash, err := txscript.CalcTaprootSignatureHash(
		cache.hashes, sht, cache.tx, idx, cache.fetcher,
	)
	if err != nil {
		return nil, err
	}

	tweaked := txscript.TweakTaprootPrivKey(*priv, in.TaprootMerkleRoot)
	sig, err := schnorr.Sign(tweaked, hash)
	if err != nil {
		return nil, err
	}

	return schnorrSigBytes(sig, sht), nil
}

// isInternalKey returns true if pub is the taproot internal key of the
// input.
func isInternalKey(in *psbt.Input, spend Spend, pub *btcec.PublicKey) bool {
	if len(in.TaprootInternalKey) > 0 {
		return bytes.Equal(in.TaprootInternalKey,
			schnorr.SerializePubKey(pub))
	}

	outputKey := txscript.ComputeTaprootOutputKey(
		pub, in.TaprootMerkleRoot,
	)

	return bytes.Equal(
		spend.PrevOut.PkScript[2:], schnorr.SerializePubKey(outputKey),
	)
}

// schnorrSigBytes serializes a schnorr signature, appending the sighash
// type unless it is the default.
func schnorrSigBytes(sig *schnorr.Signature, sht txscript.SigHashType) []byte {
	raw := sig.Serialize()
	if sht != txscript.SigHashDefault {
		raw = append(raw, byte(sht))
	}

	return raw
}

// findLeaf returns the leaf script of the input with the given leaf hash.
func findLeaf(in *psbt.Input,
	leafHash []byte) *btcpsbt.TaprootTapLeafScript {

	for _, leaf := range in.TaprootLeafScript {
		hash := txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()
		if bytes.Equal(hash[:], leafHash) {
			return leaf
		}
	}

	return nil
}

// scriptCommitsTo returns true if script contains the public key or its
// hash.
func scriptCommitsTo(script, pubKey []byte) bool {
	return bytes.Contains(script, pubKey) ||
		bytes.Contains(script, btcutil.Hash160(pubKey))
}

// hasPartialSig returns true if the input carries a signature by pubKey.
func hasPartialSig(in *psbt.Input, pubKey []byte) bool {
	for _, sig := range in.PartialSigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return true
		}
	}

	return false
}

// hasScriptSpendSig returns true if the input carries a script path
// signature by xOnly for the given leaf.
func hasScriptSpendSig(in *psbt.Input, xOnly, leafHash []byte) bool {
	for _, sig := range in.TaprootScriptSpendSig {
		if bytes.Equal(sig.XOnlyPubKey, xOnly) &&
			bytes.Equal(sig.LeafHash, leafHash) {

			return true
		}
	}

	return false
}
