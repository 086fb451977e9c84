// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// DerivedKey is a public key derived from a key expression, together with
// its origin.
type DerivedKey struct {
	PubKey      *btcec.PublicKey
	Fingerprint uint32
	Path        []uint32
}

// Bip32Derivation returns the origin of the key as a PSBT derivation entry.
func (k DerivedKey) Bip32Derivation() *btcpsbt.Bip32Derivation {
	return &btcpsbt.Bip32Derivation{
		PubKey:               k.PubKey.SerializeCompressed(),
		MasterKeyFingerprint: k.Fingerprint,
		Bip32Path:            append([]uint32{}, k.Path...),
	}
}

// TaprootBip32Derivation returns the origin of the key as a PSBT taproot
// derivation entry for the given leaves.
func (k DerivedKey) TaprootBip32Derivation(
	leafHashes [][]byte) *btcpsbt.TaprootBip32Derivation {

	return &btcpsbt.TaprootBip32Derivation{
		XOnlyPubKey:          schnorr.SerializePubKey(k.PubKey),
		LeafHashes:           leafHashes,
		MasterKeyFingerprint: k.Fingerprint,
		Bip32Path:            append([]uint32{}, k.Path...),
	}
}

// ResolvedLeaf is a tapscript leaf with its position in the script tree.
type ResolvedLeaf struct {
	Script       []byte
	LeafVersion  txscript.TapscriptLeafVersion
	ControlBlock []byte

	// Depth is the distance of the leaf from the tree root.
	Depth uint8

	Keys      []DerivedKey
	Threshold int
}

// LeafHash returns the tagged hash of the leaf.
func (l ResolvedLeaf) LeafHash() chainhash.Hash {
	return txscript.NewTapLeaf(l.LeafVersion, l.Script).TapHash()
}

// Resolution holds everything a descriptor yields at one index.
type Resolution struct {
	Descriptor *Descriptor
	Index      uint32

	PkScript      []byte
	RedeemScript  []byte
	WitnessScript []byte

	// Keys are the derived keys in script order for single key and
	// multisig descriptors. For TR it only holds the internal key.
	Keys []DerivedKey

	// MerkleRoot is the root of the script tree of a TR descriptor with
	// leaves.
	MerkleRoot []byte

	Leaves []ResolvedLeaf
}

// InternalKey returns the taproot internal key of a TR resolution.
func (r *Resolution) InternalKey() (DerivedKey, bool) {
	if r.Descriptor == nil || r.Descriptor.Type != TR || len(r.Keys) == 0 {
		return DerivedKey{}, false
	}

	return r.Keys[0], true
}

// Provider resolves descriptors at a derivation index. Resolution happens
// in two steps so that callers can modify the derived keys, e.g. to apply
// a pay-to-contract tweak, before any script commits to them.
type Provider interface {
	// DeriveKeys derives the keys of the descriptor at index, in the
	// order of Descriptor.AllKeys.
	DeriveKeys(desc *Descriptor, index uint32) ([]DerivedKey, error)

	// Scripts builds the scripts of the descriptor from the given keys.
	Scripts(desc *Descriptor, index uint32,
		keys []DerivedKey) (*Resolution, error)
}

// Resolve derives the keys of the descriptor at index and builds its
// scripts.
func Resolve(p Provider, desc *Descriptor, index uint32) (*Resolution,
	error) {

	keys, err := DeriveKeys(p, desc, index)
	if err != nil {
		return nil, err
	}

	return BuildScripts(p, desc, index, keys)
}

// DeriveKeys derives the keys of desc at index with p and checks that p
// returned one key per key expression.
func DeriveKeys(p Provider, desc *Descriptor, index uint32) ([]DerivedKey,
	error) {

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	keys, err := p.DeriveKeys(desc, index)
	if err != nil {
		return nil, err
	}

	want := len(desc.AllKeys())
	if len(keys) != want {
		return nil, fmt.Errorf("%w: provider derived %d keys for %d "+
			"key expressions", ErrDerivation, len(keys), want)
	}

	for i, key := range keys {
		if key.PubKey == nil {
			return nil, fmt.Errorf("%w: provider derived no public "+
				"key for key expression %d", ErrDerivation, i)
		}
	}

	return keys, nil
}

// BuildScripts builds the scripts of desc from keys with p and checks that
// the resolution has the shape of the descriptor.
func BuildScripts(p Provider, desc *Descriptor, index uint32,
	keys []DerivedKey) (*Resolution, error) {

	res, err := p.Scripts(desc, index, keys)
	if err != nil {
		return nil, err
	}

	switch {
	case res == nil:
		return nil, fmt.Errorf("%w: provider returned no resolution",
			ErrDerivation)

	case desc.Type != TR:
		return res, nil
	}

	if _, ok := res.InternalKey(); !ok {
		return nil, fmt.Errorf("%w: provider returned no internal key",
			ErrDerivation)
	}

	if len(res.Leaves) != len(desc.Leaves) {
		return nil, fmt.Errorf("%w: provider returned %d leaves for %d",
			ErrDerivation, len(res.Leaves), len(desc.Leaves))
	}

	return res, nil
}

// HDProvider is a Provider deriving keys with BIP-32 public derivation.
type HDProvider struct {
	params *chaincfg.Params
}

// A compile-time assertion to ensure HDProvider implements Provider.
var _ Provider = (*HDProvider)(nil)

// NewHDProvider returns a provider building scripts for the given network.
func NewHDProvider(params *chaincfg.Params) *HDProvider {
	return &HDProvider{params: params}
}

// DeriveKeys derives the keys of the descriptor at index.
func (h *HDProvider) DeriveKeys(desc *Descriptor,
	index uint32) ([]DerivedKey, error) {

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	exprs := desc.AllKeys()
	keys := make([]DerivedKey, 0, len(exprs))
	for _, expr := range exprs {
		pub, err := DerivePubKey(expr.Account, expr.ChildPath(index))
		if err != nil {
			return nil, fmt.Errorf("key %v at index %d: %w", expr,
				index, err)
		}

		keys = append(keys, DerivedKey{
			PubKey:      pub,
			Fingerprint: expr.Fingerprint,
			Path:        expr.FullPath(index),
		})
	}

	return keys, nil
}

// DerivePubKey derives the public key at the non-hardened path below key.
func DerivePubKey(key *hdkeychain.ExtendedKey,
	path []uint32) (*btcec.PublicKey, error) {

	child := key
	for _, idx := range path {
		if idx >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: hardened index %d below "+
				"public key", ErrDerivation, idx)
		}

		var err error
		child, err = child.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
		}
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivation, err)
	}

	return pub, nil
}

// Scripts builds the scripts of the descriptor from the given keys.
func (h *HDProvider) Scripts(desc *Descriptor, index uint32,
	keys []DerivedKey) (*Resolution, error) {

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	if len(keys) != len(desc.AllKeys()) {
		return nil, fmt.Errorf("%w: got %d keys, want %d",
			ErrInvalidDescriptor, len(keys), len(desc.AllKeys()))
	}

	res := &Resolution{
		Descriptor: desc,
		Index:      index,
	}

	var err error
	switch {
	case desc.Type.IsSingleKey():
		err = h.singleKeyScripts(res, desc.Type, keys[0])

	case desc.Type.IsMultisig():
		err = h.multisigScripts(res, desc, keys)

	default:
		err = taprootScripts(res, desc, keys)
	}
	if err != nil {
		return nil, err
	}

	log.Tracef("Resolved %v at index %d to script %x", desc.Type, index,
		res.PkScript)

	return res, nil
}

// singleKeyScripts fills in the scripts of pkh, wpkh and sh(wpkh).
func (h *HDProvider) singleKeyScripts(res *Resolution, t Type,
	key DerivedKey) error {

	res.Keys = []DerivedKey{key}
	keyHash := btcutil.Hash160(key.PubKey.SerializeCompressed())

	if t == PKH {
		addr, err := btcutil.NewAddressPubKeyHash(keyHash, h.params)
		if err != nil {
			return err
		}

		res.PkScript, err = txscript.PayToAddrScript(addr)

		return err
	}

	addr, err := btcutil.NewAddressWitnessPubKeyHash(keyHash, h.params)
	if err != nil {
		return err
	}

	program, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	if t == WPKH {
		res.PkScript = program
		return nil
	}

	res.RedeemScript = program
	res.PkScript, err = h.p2shScript(program)

	return err
}

// multisigScripts fills in the scripts of the CHECKMULTISIG templates.
func (h *HDProvider) multisigScripts(res *Resolution, desc *Descriptor,
	keys []DerivedKey) error {

	keys = append([]DerivedKey{}, keys...)
	if desc.Sorted {
		sort.SliceStable(keys, func(i, j int) bool {
			return bytes.Compare(
				keys[i].PubKey.SerializeCompressed(),
				keys[j].PubKey.SerializeCompressed(),
			) < 0
		})
	}
	res.Keys = keys

	addrs := make([]*btcutil.AddressPubKey, 0, len(keys))
	for _, key := range keys {
		addr, err := btcutil.NewAddressPubKey(
			key.PubKey.SerializeCompressed(), h.params,
		)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}

	multi, err := txscript.MultiSigScript(addrs, desc.Threshold)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}

	if desc.Type == SHMulti {
		res.RedeemScript = multi
		res.PkScript, err = h.p2shScript(multi)

		return err
	}

	scriptHash := sha256.Sum256(multi)
	addr, err := btcutil.NewAddressWitnessScriptHash(
		scriptHash[:], h.params,
	)
	if err != nil {
		return err
	}

	program, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return err
	}

	res.WitnessScript = multi
	if desc.Type == WSHMulti {
		res.PkScript = program
		return nil
	}

	res.RedeemScript = program
	res.PkScript, err = h.p2shScript(program)

	return err
}

// p2shScript returns the P2SH script committing to redeemScript.
func (h *HDProvider) p2shScript(redeemScript []byte) ([]byte, error) {
	addr, err := btcutil.NewAddressScriptHash(redeemScript, h.params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// taprootScripts fills in the output script, merkle root and leaves of a
// TR descriptor.
func taprootScripts(res *Resolution, desc *Descriptor,
	keys []DerivedKey) error {

	internal := keys[0]
	res.Keys = []DerivedKey{internal}

	if len(desc.Leaves) == 0 {
		outputKey := txscript.ComputeTaprootKeyNoScript(internal.PubKey)

		var err error
		res.PkScript, err = txscript.PayToTaprootScript(outputKey)

		return err
	}

	rest := keys[1:]
	tapLeaves := make([]txscript.TapLeaf, 0, len(desc.Leaves))
	for _, leaf := range desc.Leaves {
		leafKeys := rest[:len(leaf.Keys)]
		rest = rest[len(leaf.Keys):]

		script, err := LeafScript(leafKeys, leaf.Threshold)
		if err != nil {
			return err
		}

		tapLeaves = append(tapLeaves, txscript.NewBaseTapLeaf(script))
		res.Leaves = append(res.Leaves, ResolvedLeaf{
			Script:      script,
			LeafVersion: txscript.BaseLeafVersion,
			Keys:        leafKeys,
			Threshold:   leaf.Threshold,
		})
	}

	root, proofs := assembleTapTree(tapLeaves)
	rootHash := root.TapHash()
	res.MerkleRoot = rootHash[:]

	for i, proof := range proofs {
		tapProof := txscript.TapscriptProof{
			TapLeaf:        tapLeaves[i],
			RootNode:       root,
			InclusionProof: proof,
		}
		controlBlock := tapProof.ToControlBlock(internal.PubKey)

		raw, err := controlBlock.ToBytes()
		if err != nil {
			return err
		}

		res.Leaves[i].ControlBlock = raw
		res.Leaves[i].Depth = uint8(len(proof) / chainhash.HashSize)
	}

	outputKey := txscript.ComputeTaprootOutputKey(
		internal.PubKey, rootHash[:],
	)

	var err error
	res.PkScript, err = txscript.PayToTaprootScript(outputKey)

	return err
}

// tapSubtree is a node of a script tree under construction together with
// the positions of the leaves below it.
type tapSubtree struct {
	node   txscript.TapNode
	leaves []int
}

// assembleTapTree builds the script tree of leaves and returns the
// inclusion proof of every leaf by position, so identical leaves each get
// the proof of their own place in the tree. Nodes are paired level by
// level, which keeps the leaves in depth first order. Small trees get the
// shape txscript.AssembleTaprootScriptTree gives them.
func assembleTapTree(leaves []txscript.TapLeaf) (txscript.TapNode,
	[][]byte) {

	proofs := make([][]byte, len(leaves))
	level := make([]tapSubtree, 0, len(leaves))
	for i, leaf := range leaves {
		level = append(level, tapSubtree{node: leaf, leaves: []int{i}})
	}

	join := func(left, right tapSubtree) tapSubtree {
		leftHash := left.node.TapHash()
		rightHash := right.node.TapHash()
		for _, i := range left.leaves {
			proofs[i] = append(proofs[i], rightHash[:]...)
		}
		for _, i := range right.leaves {
			proofs[i] = append(proofs[i], leftHash[:]...)
		}

		return tapSubtree{
			node: txscript.NewTapBranch(left.node, right.node),
			leaves: append(
				append([]int{}, left.leaves...), right.leaves...,
			),
		}
	}

	// An odd last node joins the branch built just before it.
	for len(level) > 1 {
		next := make([]tapSubtree, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i == len(level)-1 {
				next[len(next)-1] = join(next[len(next)-1], level[i])
				continue
			}

			next = append(next, join(level[i], level[i+1]))
		}
		level = next
	}

	return level[0].node, proofs
}

// LeafScript builds the tapscript of a pk leaf, when threshold is zero, or
// of a multi_a leaf.
func LeafScript(keys []DerivedKey, threshold int) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	if threshold == 0 {
		builder.AddData(schnorr.SerializePubKey(keys[0].PubKey))
		builder.AddOp(txscript.OP_CHECKSIG)

		return builder.Script()
	}

	for i, key := range keys {
		builder.AddData(schnorr.SerializePubKey(key.PubKey))
		if i == 0 {
			builder.AddOp(txscript.OP_CHECKSIG)
		} else {
			builder.AddOp(txscript.OP_CHECKSIGADD)
		}
	}
	builder.AddInt64(int64(threshold))
	builder.AddOp(txscript.OP_NUMEQUAL)

	return builder.Script()
}
