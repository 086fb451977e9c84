// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package resolver looks up the transactions spent by a packet and computes
// the fee it pays.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/construct"
	"github.com/btcsuite/psbtwallet/psbt"
)

// ErrTxNotFound is returned by a resolver that does not know a transaction.
var ErrTxNotFound = errors.New("transaction not found")

// Resolver looks up transactions by their txid.
type Resolver interface {
	// FetchTransaction returns the transaction with the given txid.
	FetchTransaction(ctx context.Context,
		txid chainhash.Hash) (*wire.MsgTx, error)
}

// StaticResolver resolves transactions from memory. It is safe for
// concurrent use.
type StaticResolver struct {
	mu  sync.RWMutex
	txs map[chainhash.Hash]*wire.MsgTx
}

// A compile-time assertion to ensure StaticResolver implements Resolver.
var _ Resolver = (*StaticResolver)(nil)

// NewStaticResolver returns a resolver knowing the given transactions.
func NewStaticResolver(txs ...*wire.MsgTx) *StaticResolver {
	s := &StaticResolver{
		txs: make(map[chainhash.Hash]*wire.MsgTx, len(txs)),
	}
	for _, tx := range txs {
		s.Add(tx)
	}

	return s
}

// Add makes tx known to the resolver.
func (s *StaticResolver) Add(tx *wire.MsgTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txs[tx.TxHash()] = tx
}

// FetchTransaction returns the transaction with the given txid.
func (s *StaticResolver) FetchTransaction(_ context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[txid]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	}

	return tx, nil
}

// fetchVerified fetches the transaction creating op and checks that it
// hashes to the outpoint's txid and has the output.
func fetchVerified(ctx context.Context, r Resolver,
	op wire.OutPoint) (*wire.MsgTx, error) {

	tx, err := r.FetchTransaction(ctx, op.Hash)
	if err != nil {
		return nil, err
	}

	if tx.TxHash() != op.Hash {
		return nil, fmt.Errorf("%w: resolved %v for %v",
			psbt.ErrPrevTxMismatch, tx.TxHash(), op.Hash)
	}

	if int(op.Index) >= len(tx.TxOut) {
		return nil, fmt.Errorf("output %v does not exist", op)
	}

	return tx, nil
}

// PrevOut returns the output at op and the transaction creating it.
// Failures are reported as psbt.ErrMissingPrevout.
func PrevOut(ctx context.Context, r Resolver,
	op wire.OutPoint) (*wire.TxOut, *wire.MsgTx, error) {

	tx, err := fetchVerified(ctx, r, op)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v: %w", psbt.ErrMissingPrevout,
			op, err)
	}

	return tx.TxOut[op.Index], tx, nil
}

// SpendPolicy returns a construct policy spending op with its UTXO data
// filled in from r. Failures are reported as
// construct.ErrDescriptorResolution.
func SpendPolicy(ctx context.Context, r Resolver,
	op wire.OutPoint) (construct.Policy, error) {

	tx, err := fetchVerified(ctx, r, op)
	if err != nil {
		return construct.Policy{}, fmt.Errorf("%w: %v: %w",
			construct.ErrDescriptorResolution, op, err)
	}

	return construct.Policy{
		PrevOut: op,
		Utxo:    tx.TxOut[op.Index],
		PrevTx:  tx,
	}, nil
}

// PopulatePrevOuts attaches the spent transaction, and for witness outputs
// the spent output, to every unfinalized input whose spent output is
// unknown. It returns the number of inputs updated. No lookup is retried.
func PopulatePrevOuts(ctx context.Context, r Resolver,
	p *psbt.Packet) (int, error) {

	var updated int
	for idx, in := range p.Inputs {
		if in.IsFinalized() {
			continue
		}

		if _, err := in.PrevOut(); err == nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			return updated, err
		}

		prevOut, tx, err := PrevOut(ctx, r, in.PreviousOutPoint)
		if err != nil {
			return updated, fmt.Errorf("input %d: %w", idx, err)
		}

		if err := p.AddInNonWitnessUtxo(idx, tx); err != nil {
			return updated, err
		}

		if spendsWitness(in, prevOut.PkScript) {
			if err := p.AddInWitnessUtxo(idx, prevOut); err != nil {
				return updated, err
			}
		}

		log.Debugf("Resolved input %d spending %v", idx,
			in.PreviousOutPoint)

		updated++
	}

	return updated, nil
}

// spendsWitness returns true if the input spends a witness program, native
// or nested in P2SH.
func spendsWitness(in *psbt.Input, pkScript []byte) bool {
	if txscript.IsWitnessProgram(pkScript) {
		return true
	}

	return txscript.IsPayToScriptHash(pkScript) &&
		txscript.IsWitnessProgram(in.RedeemScript)
}
