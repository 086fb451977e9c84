// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/psbtwallet/psbt"
)

// SighashCache holds the transaction and the sighash midstate shared by all
// inputs of a packet. It is read-only once built and can be used by
// concurrent signers.
type SighashCache struct {
	tx     *wire.MsgTx
	txHash chainhash.Hash

	// fetcher holds the outputs spent by the packet.
	fetcher *txscript.MultiPrevOutFetcher

	hashes *txscript.TxSigHashes

	// complete is set when every spent output is known. Taproot
	// signatures commit to all of them.
	complete bool
}

// NewSighashCache builds the sighash cache for the packet's unsigned
// transaction.
func NewSighashCache(p *psbt.Packet) (*SighashCache, error) {
	tx, err := p.UnsignedTx()
	if err != nil {
		return nil, err
	}

	fetcher, complete := prevOutFetcher(p)

	// The midstate touches every spent output, so unknown ones are
	// stood in for. Those hashes are only used for inputs that do not
	// commit to other inputs' outputs.
	hashFetcher := fetcher
	if !complete {
		hashFetcher = txscript.NewMultiPrevOutFetcher(nil)
		for _, txIn := range tx.TxIn {
			op := txIn.PreviousOutPoint
			prevOut := fetcher.FetchPrevOutput(op)
			if prevOut == nil {
				prevOut = &wire.TxOut{}
			}
			hashFetcher.AddPrevOut(op, prevOut)
		}
	}

	log.Debugf("Built sighash cache for %v (all prevouts known: %v)",
		tx.TxHash(), complete)

	return &SighashCache{
		tx:       tx,
		txHash:   tx.TxHash(),
		fetcher:  fetcher,
		hashes:   txscript.NewTxSigHashes(tx, hashFetcher),
		complete: complete,
	}, nil
}

// Complete returns true if every output spent by the transaction is known.
func (c *SighashCache) Complete() bool {
	return c.complete
}

// check returns ErrStaleSighashCache if the packet no longer describes the
// cached transaction.
func (c *SighashCache) check(p *psbt.Packet) error {
	tx, err := p.UnsignedTx()
	if err != nil {
		return err
	}

	if tx.TxHash() != c.txHash {
		return fmt.Errorf("%w: cached %v, packet has %v",
			ErrStaleSighashCache, c.txHash, tx.TxHash())
	}

	return nil
}

// prevOutFetcher returns a fetcher over the outputs spent by p and whether
// all of them are known.
func prevOutFetcher(p *psbt.Packet) (*txscript.MultiPrevOutFetcher, bool) {
	complete := true
	for _, in := range p.Inputs {
		if _, err := in.PrevOut(); err != nil {
			complete = false
		}
	}

	return psbt.PrevOutputFetcher(p), complete
}
