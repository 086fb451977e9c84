// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package construct adds descriptor-described inputs and outputs to PSBT
// packets, filling in every field a signer needs.
package construct

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	btcpsbt "github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/psbtwallet/descriptor"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrIncompatibleTimelock is returned when the sequence and lock time
	// requirements of an input contradict each other or the packet.
	ErrIncompatibleTimelock = errors.New("incompatible timelock " +
		"requirements")

	// ErrDescriptorResolution is returned when a descriptor cannot be
	// resolved or does not describe the spent output.
	ErrDescriptorResolution = errors.New("descriptor resolution failed")

	// ErrDustOutput is returned when an output pays less than the dust
	// limit.
	ErrDustOutput = errors.New("output amount is dust")
)

// Config holds the options of a Constructor.
type Config struct {
	// RelayFeePerKb is the relay fee used to compute the dust limit.
	RelayFeePerKb btcutil.Amount
}

// DefaultConfig returns the default constructor options.
func DefaultConfig() Config {
	return Config{
		RelayFeePerKb: txrules.DefaultRelayFeePerKb,
	}
}

// Policy describes how a descriptor-controlled output is spent. It is
// consumed by a single AddInput call.
type Policy struct {
	// PrevOut is the outpoint being spent.
	PrevOut wire.OutPoint

	// Utxo is the output being spent.
	Utxo *wire.TxOut

	// PrevTx is the transaction creating the spent output. It is required
	// to sign legacy inputs.
	PrevTx *wire.MsgTx

	// SighashType overrides the default sighash type of the input.
	SighashType fn.Option[txscript.SigHashType]

	// Contract is a pay-to-contract commitment added to the key of a
	// single key descriptor or to the taproot internal key.
	Contract fn.Option[chainhash.Hash]

	// TweakOrder selects where the contract tweak is applied.
	TweakOrder TweakOrder

	// RBF makes the input signal replaceability.
	RBF bool

	// Sequence overrides the sequence number derived from the other
	// options.
	Sequence fn.Option[uint32]

	// RelativeLock is a BIP-68 lock on the input.
	RelativeLock fn.Option[RelativeLock]

	// AbsoluteLock is the lock time the input requires, a block height
	// below 500,000,000 and a unix timestamp otherwise.
	AbsoluteLock fn.Option[uint32]
}

// Constructor adds inputs and outputs described by descriptors to packets.
type Constructor struct {
	provider descriptor.Provider
	cfg      Config
}

// NewConstructor returns a constructor resolving descriptors with provider.
// A zero relay fee selects the default.
func NewConstructor(provider descriptor.Provider, cfg Config) *Constructor {
	if cfg.RelayFeePerKb == 0 {
		cfg.RelayFeePerKb = txrules.DefaultRelayFeePerKb
	}

	return &Constructor{
		provider: provider,
		cfg:      cfg,
	}
}

// resolvedSpend is a resolved descriptor together with the untweaked key
// material needed for the derivation records.
type resolvedSpend struct {
	res *descriptor.Resolution

	// plain are the derived keys before the contract tweak.
	plain []descriptor.DerivedKey

	tweak fn.Option[[32]byte]
}

// AddInput resolves desc at index, checks it against the spent output and
// adds a fully described input to p. It returns the index of the new input.
func (c *Constructor) AddInput(p *psbt.Packet, desc *descriptor.Descriptor,
	index uint32, policy Policy) (int, error) {

	sequence, err := inputSequence(&policy, p.TxVersion)
	if err != nil {
		return 0, err
	}

	spend, err := c.resolve(desc, index, &policy)
	if err != nil {
		return 0, err
	}
	res := spend.res

	utxo, err := spentOutput(&policy)
	if err != nil {
		return 0, err
	}

	if utxo != nil && !bytes.Equal(utxo.PkScript, res.PkScript) {
		return 0, fmt.Errorf("%w: %v at index %d pays to %x, spent "+
			"output pays to %x", ErrDescriptorResolution, desc.Type,
			index, res.PkScript, utxo.PkScript)
	}

	in := psbt.NewInput(policy.PrevOut)
	in.Sequence = sequence
	in.NonWitnessUtxo = policy.PrevTx
	if utxo != nil && isWitness(desc.Type) {
		in.WitnessUtxo = utxo
	}

	if err := setAbsoluteLock(p, in, policy.AbsoluteLock); err != nil {
		return 0, err
	}

	in.RedeemScript = res.RedeemScript
	in.WitnessScript = res.WitnessScript

	if desc.Type == descriptor.TR {
		if err := addTaprootInputFields(in, spend); err != nil {
			return 0, err
		}
	} else {
		for _, key := range spend.plain {
			in.Bip32Derivation = append(
				in.Bip32Derivation, key.Bip32Derivation(),
			)
		}
	}

	in.SighashType = policy.SighashType

	spend.tweak.WhenSome(func(t [32]byte) {
		in.SetP2CTweak(spend.plain[0].PubKey, t)
	})

	idx, err := p.AddInput(in)
	if err != nil {
		return 0, err
	}

	log.Debugf("Added %v input %v at index %d (sequence %#x)", desc.Type,
		policy.PrevOut, idx, in.SequenceNum())

	return idx, nil
}

// resolve derives the keys of desc, applies the contract tweak of the
// policy and builds the scripts.
func (c *Constructor) resolve(desc *descriptor.Descriptor, index uint32,
	policy *Policy) (*resolvedSpend, error) {

	keys, err := descriptor.DeriveKeys(c.provider, desc, index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptorResolution, err)
	}

	spend := &resolvedSpend{
		plain: keys,
	}

	if policy.Contract.IsSome() {
		if desc.Type.IsMultisig() {
			return nil, fmt.Errorf("%w: pay-to-contract needs a "+
				"single key or taproot descriptor",
				ErrDescriptorResolution)
		}

		contract := policy.Contract.UnwrapOr(chainhash.Hash{})
		tweaked, tweak, err := applyContract(
			desc, index, keys, contract, policy.TweakOrder,
		)
		if err != nil {
			return nil, err
		}

		keys = tweaked
		spend.tweak = fn.Some(tweak)
	}

	spend.res, err = descriptor.BuildScripts(c.provider, desc, index, keys)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDescriptorResolution, err)
	}

	return spend, nil
}

// applyContract returns a copy of keys with the first key tweaked by the
// contract, together with the tweak that has to be added to the derived
// private key.
func applyContract(desc *descriptor.Descriptor, index uint32,
	keys []descriptor.DerivedKey, contract chainhash.Hash,
	order TweakOrder) ([]descriptor.DerivedKey, [32]byte, error) {

	var tweakBytes [32]byte

	t, err := contractScalar(contract)
	if err != nil {
		return nil, tweakBytes, err
	}

	eff, err := effectiveTweak(order, desc.AllKeys()[0], index, t)
	if err != nil {
		return nil, tweakBytes, fmt.Errorf("%w: %v",
			ErrDescriptorResolution, err)
	}

	tweakedKey, err := tweakPubKey(keys[0].PubKey, &eff)
	if err != nil {
		return nil, tweakBytes, err
	}

	tweaked := append([]descriptor.DerivedKey{}, keys...)
	tweaked[0].PubKey = tweakedKey
	tweakBytes = eff.Bytes()

	log.Tracef("Applied %v contract tweak to %v key %x", order, desc.Type,
		keys[0].PubKey.SerializeCompressed())

	return tweaked, tweakBytes, nil
}

// spentOutput returns the output spent by the policy, checking that the
// previous transaction and the UTXO agree with the outpoint.
func spentOutput(policy *Policy) (*wire.TxOut, error) {
	if policy.PrevTx == nil {
		return policy.Utxo, nil
	}

	op := policy.PrevOut
	if policy.PrevTx.TxHash() != op.Hash {
		return nil, fmt.Errorf("%w: previous transaction does not "+
			"create %v", ErrDescriptorResolution, op)
	}

	if int(op.Index) >= len(policy.PrevTx.TxOut) {
		return nil, fmt.Errorf("%w: output index %d out of range",
			ErrDescriptorResolution, op.Index)
	}

	out := policy.PrevTx.TxOut[op.Index]
	if policy.Utxo != nil && (policy.Utxo.Value != out.Value ||
		!bytes.Equal(policy.Utxo.PkScript, out.PkScript)) {

		return nil, fmt.Errorf("%w: utxo does not match previous "+
			"transaction output %v", ErrDescriptorResolution, op)
	}

	return out, nil
}

// isWitness returns true if outputs of the descriptor type are spent with
// a witness.
func isWitness(t descriptor.Type) bool {
	return t != descriptor.PKH && t != descriptor.SHMulti
}

// setAbsoluteLock sets the required lock time of in and checks that the
// packet can still pick a lock time satisfying every input.
func setAbsoluteLock(p *psbt.Packet, in *psbt.Input,
	lock fn.Option[uint32]) error {

	if lock.IsNone() {
		return nil
	}

	value := lock.UnwrapOr(0)
	switch {
	case value == 0:
		return fmt.Errorf("%w: zero height lock",
			ErrIncompatibleTimelock)

	case value < psbt.LockTimeThreshold:
		in.RequiredHeightLockTime = fn.Some(value)

	default:
		in.RequiredTimeLockTime = fn.Some(value)
	}

	candidate := &psbt.Packet{
		Inputs: append(append([]*psbt.Input{}, p.Inputs...), in),
	}
	if _, err := candidate.LockTime(); err != nil {
		return fmt.Errorf("%w: lock time %d: %v",
			ErrIncompatibleTimelock, value, err)
	}

	return nil
}

// addTaprootInputFields fills in the taproot fields of a TR input.
func addTaprootInputFields(in *psbt.Input, spend *resolvedSpend) error {
	res := spend.res

	internal, ok := res.InternalKey()
	if !ok {
		return fmt.Errorf("%w: no taproot internal key",
			ErrDescriptorResolution)
	}
	in.TaprootInternalKey = schnorr.SerializePubKey(internal.PubKey)
	in.TaprootMerkleRoot = res.MerkleRoot

	// The derivation record holds the internal key before any contract
	// tweak.
	internalXOnly := schnorr.SerializePubKey(spend.plain[0].PubKey)

	var (
		order      = [][]byte{internalXOnly}
		leafHashes = make(map[string][][]byte)
		origins    = map[string]descriptor.DerivedKey{
			string(internalXOnly): spend.plain[0],
		}
	)
	for _, leaf := range res.Leaves {
		in.TaprootLeafScript = append(
			in.TaprootLeafScript, &btcpsbt.TaprootTapLeafScript{
				ControlBlock: leaf.ControlBlock,
				Script:       leaf.Script,
				LeafVersion:  leaf.LeafVersion,
			},
		)

		hash := leaf.LeafHash()
		for _, key := range leaf.Keys {
			xOnly := schnorr.SerializePubKey(key.PubKey)
			id := string(xOnly)
			if _, ok := origins[id]; !ok {
				order = append(order, xOnly)
				origins[id] = key
			}
			leafHashes[id] = appendLeafHash(leafHashes[id], hash[:])
		}
	}

	for _, xOnly := range order {
		id := string(xOnly)
		in.TaprootBip32Derivation = append(
			in.TaprootBip32Derivation,
			origins[id].TaprootBip32Derivation(leafHashes[id]),
		)
	}

	return nil
}

// Target is the destination of an output: either a raw script or a
// descriptor at a derivation index.
type Target struct {
	PkScript []byte

	Descriptor *descriptor.Descriptor
	Index      uint32
}

// ScriptTarget returns a target paying to pkScript.
func ScriptTarget(pkScript []byte) Target {
	return Target{PkScript: pkScript}
}

// DescriptorTarget returns a target paying to desc at index.
func DescriptorTarget(desc *descriptor.Descriptor, index uint32) Target {
	return Target{Descriptor: desc, Index: index}
}

// AddOutput adds an output paying amount to target. Outputs to descriptors
// carry the data needed to recognize and later spend them.
func (c *Constructor) AddOutput(p *psbt.Packet, target Target,
	amount btcutil.Amount) (int, error) {

	out := psbt.NewOutput(int64(amount), target.PkScript)

	if target.Descriptor != nil {
		res, err := descriptor.Resolve(
			c.provider, target.Descriptor, target.Index,
		)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrDescriptorResolution,
				err)
		}

		if target.PkScript != nil &&
			!bytes.Equal(target.PkScript, res.PkScript) {

			return 0, fmt.Errorf("%w: script does not match "+
				"descriptor", ErrDescriptorResolution)
		}

		out.PkScript = res.PkScript
		err = addOutputDescriptorFields(out, target.Descriptor, res)
		if err != nil {
			return 0, err
		}
	}

	if err := c.checkDust(out.TxOut()); err != nil {
		return 0, err
	}

	idx, err := p.AddOutput(out)
	if err != nil {
		return 0, err
	}

	log.Debugf("Added output %d paying %v to %x", idx, amount,
		out.PkScript)

	return idx, nil
}

// checkDust rejects outputs below the dust limit. Null data outputs are
// exempt.
func (c *Constructor) checkDust(out *wire.TxOut) error {
	if txscript.GetScriptClass(out.PkScript) == txscript.NullDataTy {
		return nil
	}

	err := txrules.CheckOutput(out, c.cfg.RelayFeePerKb)
	switch {
	case errors.Is(err, txrules.ErrOutputIsDust):
		return fmt.Errorf("%w: %v to %x", ErrDustOutput,
			btcutil.Amount(out.Value), out.PkScript)

	case err != nil:
		return err
	}

	return nil
}

// addOutputDescriptorFields fills in the scripts and derivation records of
// an output paying to a resolved descriptor.
func addOutputDescriptorFields(out *psbt.Output, desc *descriptor.Descriptor,
	res *descriptor.Resolution) error {

	out.RedeemScript = res.RedeemScript
	out.WitnessScript = res.WitnessScript

	if desc.Type != descriptor.TR {
		for _, key := range res.Keys {
			out.Bip32Derivation = append(
				out.Bip32Derivation, key.Bip32Derivation(),
			)
		}

		return nil
	}

	internal, ok := res.InternalKey()
	if !ok {
		return fmt.Errorf("%w: no taproot internal key",
			ErrDescriptorResolution)
	}
	out.TaprootInternalKey = schnorr.SerializePubKey(internal.PubKey)
	out.TaprootBip32Derivation = append(
		out.TaprootBip32Derivation, internal.TaprootBip32Derivation(nil),
	)

	if len(res.Leaves) == 0 {
		return nil
	}

	// The tap tree lists leaves depth first, left to right, which is the
	// order the descriptor resolves them in.
	tree := make([]psbt.TapTreeLeaf, 0, len(res.Leaves))
	for _, leaf := range res.Leaves {
		tree = append(tree, psbt.TapTreeLeaf{
			Depth:       leaf.Depth,
			LeafVersion: leaf.LeafVersion,
			Script:      leaf.Script,
		})

		hash := leaf.LeafHash()
		for _, key := range leaf.Keys {
			out.TaprootBip32Derivation = upsertOutputTapKey(
				out.TaprootBip32Derivation, key, hash[:],
			)
		}
	}
	out.TaprootTapTree = psbt.SerializeTapTree(tree)

	return nil
}

// upsertOutputTapKey records that key appears in the leaf with the given
// hash.
func upsertOutputTapKey(ds []*btcpsbt.TaprootBip32Derivation,
	key descriptor.DerivedKey,
	leafHash []byte) []*btcpsbt.TaprootBip32Derivation {

	xOnly := schnorr.SerializePubKey(key.PubKey)
	for _, d := range ds {
		if bytes.Equal(d.XOnlyPubKey, xOnly) {
			d.LeafHashes = appendLeafHash(d.LeafHashes, leafHash)
			return ds
		}
	}

	return append(ds, key.TaprootBip32Derivation([][]byte{leafHash}))
}

// appendLeafHash adds leafHash to hashes unless identical leaves already
// put it there.
func appendLeafHash(hashes [][]byte, leafHash []byte) [][]byte {
	for _, h := range hashes {
		if bytes.Equal(h, leafHash) {
			return hashes
		}
	}

	return append(hashes, leafHash)
}
