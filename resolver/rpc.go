// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// RPCConfig is the configuration of an RPCResolver.
type RPCConfig struct {
	// Conn describes the connection to the node. HTTP POST mode is
	// always used.
	Conn *rpcclient.ConnConfig
}

// validate checks the required config options are set.
func (c *RPCConfig) validate() error {
	if c == nil || c.Conn == nil {
		return errors.New("missing rpc config")
	}

	if c.Conn.Host == "" {
		return errors.New("missing rpc host")
	}

	if !c.Conn.DisableTLS && len(c.Conn.Certificates) == 0 {
		return errors.New("rpc certs must be set when TLS is enabled")
	}

	return nil
}

// rawTxClient is the part of the rpc client the resolver uses.
type rawTxClient interface {
	GetRawTransaction(txHash *chainhash.Hash) (*btcutil.Tx, error)
}

// RPCResolver resolves transactions with the getrawtransaction call of a
// btcd or bitcoind node. The node needs a transaction index to find
// confirmed transactions that are not in its wallet.
type RPCResolver struct {
	client   rawTxClient
	shutdown func()
}

// A compile-time assertion to ensure RPCResolver implements Resolver.
var _ Resolver = (*RPCResolver)(nil)

// NewRPCResolver connects to the node described by cfg.
func NewRPCResolver(cfg *RPCConfig) (*RPCResolver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn := *cfg.Conn
	conn.HTTPPostMode = true

	client, err := rpcclient.New(&conn, nil)
	if err != nil {
		return nil, err
	}

	log.Infof("Resolving transactions through %v", conn.Host)

	return &RPCResolver{
		client:   client,
		shutdown: client.Shutdown,
	}, nil
}

// FetchTransaction returns the transaction with the given txid. The call is
// abandoned when ctx is done.
func (r *RPCResolver) FetchTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	type result struct {
		tx  *btcutil.Tx
		err error
	}
	done := make(chan result, 1)

	go func() {
		tx, err := r.client.GetRawTransaction(&txid)
		done <- result{tx: tx, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, mapRPCError(txid, res.err)
		}

		return res.tx.MsgTx(), nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop disconnects from the node.
func (r *RPCResolver) Stop() {
	if r.shutdown != nil {
		r.shutdown()
	}
}

// mapRPCError turns the node's unknown transaction error into
// ErrTxNotFound.
func mapRPCError(txid chainhash.Hash, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) &&
		rpcErr.Code == btcjson.ErrRPCNoTxInfo {

		return fmt.Errorf("%w: %v", ErrTxNotFound, txid)
	}

	return fmt.Errorf("getrawtransaction %v: %w", txid, err)
}
