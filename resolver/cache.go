// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheCapacity is the default total serialized size of the
// transactions a CachedResolver keeps.
const DefaultCacheCapacity = 10 * 1024 * 1024

// CacheConfig is the configuration of a CachedResolver.
type CacheConfig struct {
	// Capacity is the total serialized size in bytes of the cached
	// transactions. Zero selects DefaultCacheCapacity.
	Capacity uint64
}

// cachedTx is an lru entry holding a transaction.
type cachedTx struct {
	tx *wire.MsgTx
}

// Size returns the serialized size of the transaction.
func (c *cachedTx) Size() (uint64, error) {
	return uint64(c.tx.SerializeSize()), nil
}

// CachedResolver keeps the transactions returned by another resolver in an
// lru cache. Concurrent lookups of the same txid share one backend call.
type CachedResolver struct {
	backend Resolver
	txs     *lru.Cache[chainhash.Hash, *cachedTx]
	group   singleflight.Group
}

// A compile-time assertion to ensure CachedResolver implements Resolver.
var _ Resolver = (*CachedResolver)(nil)

// NewCachedResolver returns a cache in front of backend.
func NewCachedResolver(backend Resolver, cfg CacheConfig) *CachedResolver {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCacheCapacity
	}

	return &CachedResolver{
		backend: backend,
		txs:     lru.NewCache[chainhash.Hash, *cachedTx](cfg.Capacity),
	}
}

// FetchTransaction returns the cached transaction or fetches it from the
// backend. Failed lookups are not cached. A caller whose ctx is done
// stops waiting while the lookup continues for the others.
func (c *CachedResolver) FetchTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	entry, err := c.txs.Get(txid)
	switch {
	case err == nil:
		return entry.tx, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return nil, err
	}

	// The shared lookup must outlive any single caller, so it runs
	// without the caller's cancellation and each caller waits on its own
	// context.
	fetchCtx := context.WithoutCancel(ctx)
	results := c.group.DoChan(txid.String(), func() (any, error) {
		tx, err := c.backend.FetchTransaction(fetchCtx, txid)
		if err != nil {
			return nil, err
		}

		if _, err := c.txs.Put(txid, &cachedTx{tx: tx}); err != nil {
			log.Warnf("Unable to cache transaction %v: %v", txid,
				err)
		}

		return tx, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*wire.MsgTx), nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
