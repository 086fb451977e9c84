// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// DefaultKeyCacheSize is the number of derived keys a MemoryKeyProvider
// keeps by default.
const DefaultKeyCacheSize = 1000

// KeyProvider gives the signer access to private keys.
type KeyProvider interface {
	// ExtendedKey returns the private extended key at path below the
	// master key with the given fingerprint. ErrUnknownMaster is
	// returned for keys the provider does not hold.
	ExtendedKey(fingerprint uint32,
		path []uint32) (*hdkeychain.ExtendedKey, error)
}

// Fingerprint returns the BIP-32 fingerprint of a key in the byte order used
// by PSBT derivation records.
func Fingerprint(key *hdkeychain.ExtendedKey) (uint32, error) {
	pub, err := key.ECPubKey()
	if err != nil {
		return 0, err
	}

	hash := btcutil.Hash160(pub.SerializeCompressed())

	return binary.LittleEndian.Uint32(hash[:4]), nil
}

// cachedKey is an lru entry holding a derived key.
type cachedKey struct {
	key *hdkeychain.ExtendedKey
}

// Size returns the size of the entry in units of the cache capacity.
func (c *cachedKey) Size() (uint64, error) {
	return 1, nil
}

// MemoryKeyProvider derives keys from master keys held in memory. Derived
// keys are kept in an lru cache. It is safe for concurrent use.
type MemoryKeyProvider struct {
	masters map[uint32]*hdkeychain.ExtendedKey
	derived *lru.Cache[string, *cachedKey]
}

// A compile-time assertion to ensure MemoryKeyProvider implements
// KeyProvider.
var _ KeyProvider = (*MemoryKeyProvider)(nil)

// NewMemoryKeyProvider returns a provider for the given private master
// keys, caching up to cacheSize derived keys.
func NewMemoryKeyProvider(cacheSize uint64,
	masters ...*hdkeychain.ExtendedKey) (*MemoryKeyProvider, error) {

	if cacheSize == 0 {
		cacheSize = DefaultKeyCacheSize
	}

	m := &MemoryKeyProvider{
		masters: make(map[uint32]*hdkeychain.ExtendedKey, len(masters)),
		derived: lru.NewCache[string, *cachedKey](cacheSize),
	}
	for _, master := range masters {
		if !master.IsPrivate() {
			return nil, errors.New("master key must be private")
		}

		fp, err := Fingerprint(master)
		if err != nil {
			return nil, err
		}
		m.masters[fp] = master
	}

	return m, nil
}

// ExtendedKey derives the private key at path below the master key with
// the given fingerprint.
func (m *MemoryKeyProvider) ExtendedKey(fingerprint uint32,
	path []uint32) (*hdkeychain.ExtendedKey, error) {

	master, ok := m.masters[fingerprint]
	if !ok {
		return nil, fmt.Errorf("%w: %08x", ErrUnknownMaster, fingerprint)
	}

	id := cacheID(fingerprint, path)
	entry, err := m.derived.Get(id)
	switch {
	case err == nil:
		return entry.key, nil

	case !errors.Is(err, cache.ErrElementNotFound):
		return nil, err
	}

	key := master
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", id, err)
		}
	}

	if _, err := m.derived.Put(id, &cachedKey{key: key}); err != nil {
		log.Warnf("Unable to cache key %s: %v", id, err)
	}

	return key, nil
}

// cacheID returns the cache key of a derivation.
func cacheID(fingerprint uint32, path []uint32) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%08x", fingerprint)
	for _, idx := range path {
		fmt.Fprintf(&b, "/%d", idx)
	}

	return b.String()
}
