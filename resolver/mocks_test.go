// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// mockResolver is a mock implementation of Resolver.
type mockResolver struct {
	mock.Mock
}

// A compile-time assertion to ensure mockResolver implements Resolver.
var _ Resolver = (*mockResolver)(nil)

// FetchTransaction implements Resolver.
func (m *mockResolver) FetchTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	args := m.Called(ctx, txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wire.MsgTx), args.Error(1)
}

// mockRawTxClient is a mock implementation of rawTxClient.
type mockRawTxClient struct {
	mock.Mock
}

// GetRawTransaction implements rawTxClient.
func (m *mockRawTxClient) GetRawTransaction(
	txHash *chainhash.Hash) (*btcutil.Tx, error) {

	args := m.Called(txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcutil.Tx), args.Error(1)
}
