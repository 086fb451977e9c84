// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

const testFingerprint = 0x0badf00d

// testKey returns a ranged key expression below m/purpose'/1'/account'
// derived from a seed built from seedByte.
func testKey(t *testing.T, seedByte byte, purpose, account uint32) Key {
	t.Helper()

	seed := bytes.Repeat([]byte{seedByte}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	origin := []uint32{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + 1,
		hdkeychain.HardenedKeyStart + account,
	}

	key := master
	for _, idx := range origin {
		key, err = key.Derive(idx)
		require.NoError(t, err)
	}

	pub, err := key.Neuter()
	require.NoError(t, err)

	return Key{
		Account:     pub,
		Fingerprint: testFingerprint,
		Origin:      origin,
		Branch:      []uint32{0},
	}
}

// TestResolveSingleKey checks the single key templates.
func TestResolveSingleKey(t *testing.T) {
	t.Parallel()

	provider := NewHDProvider(&chaincfg.RegressionNetParams)
	key := testKey(t, 0x01, 84, 0)

	want, err := DerivePubKey(key.Account, []uint32{0, 5})
	require.NoError(t, err)

	tests := []struct {
		name        string
		typ         Type
		class       txscript.ScriptClass
		redeemClass txscript.ScriptClass
	}{
		{
			name:        "pkh",
			typ:         PKH,
			class:       txscript.PubKeyHashTy,
			redeemClass: txscript.NonStandardTy,
		},
		{
			name:        "wpkh",
			typ:         WPKH,
			class:       txscript.WitnessV0PubKeyHashTy,
			redeemClass: txscript.NonStandardTy,
		},
		{
			name:        "sh(wpkh)",
			typ:         SHWPKH,
			class:       txscript.ScriptHashTy,
			redeemClass: txscript.WitnessV0PubKeyHashTy,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange.
			desc := &Descriptor{Type: tc.typ, Keys: []Key{key}}

			// Act.
			res, err := Resolve(provider, desc, 5)

			// Assert.
			require.NoError(t, err)
			require.Equal(t, tc.class, txscript.GetScriptClass(res.PkScript))
			require.Equal(t, tc.redeemClass,
				txscript.GetScriptClass(res.RedeemScript))
			require.Nil(t, res.WitnessScript)
			require.Len(t, res.Keys, 1)
			require.True(t, want.IsEqual(res.Keys[0].PubKey))
			require.Equal(t, key.FullPath(5), res.Keys[0].Path)
			require.EqualValues(t, testFingerprint,
				res.Keys[0].Bip32Derivation().MasterKeyFingerprint)
		})
	}
}

// TestResolveMultisig checks the multisig templates and key sorting.
func TestResolveMultisig(t *testing.T) {
	t.Parallel()

	provider := NewHDProvider(&chaincfg.RegressionNetParams)
	keys := []Key{
		testKey(t, 0x01, 48, 0),
		testKey(t, 0x02, 48, 0),
		testKey(t, 0x03, 48, 0),
	}

	tests := []struct {
		name          string
		typ           Type
		class         txscript.ScriptClass
		witnessScript bool
	}{
		{name: "sh", typ: SHMulti, class: txscript.ScriptHashTy},
		{
			name:          "wsh",
			typ:           WSHMulti,
			class:         txscript.WitnessV0ScriptHashTy,
			witnessScript: true,
		},
		{
			name:          "sh(wsh)",
			typ:           SHWSHMulti,
			class:         txscript.ScriptHashTy,
			witnessScript: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange.
			desc := &Descriptor{
				Type:      tc.typ,
				Keys:      keys,
				Threshold: 2,
				Sorted:    true,
			}

			// Act.
			res, err := Resolve(provider, desc, 0)

			// Assert.
			require.NoError(t, err)
			require.Equal(t, tc.class, txscript.GetScriptClass(res.PkScript))

			multi := res.RedeemScript
			if tc.witnessScript {
				multi = res.WitnessScript
			}
			require.Equal(t, txscript.MultiSigTy,
				txscript.GetScriptClass(multi))

			require.Len(t, res.Keys, 3)
			for i := 1; i < len(res.Keys); i++ {
				require.Negative(t, bytes.Compare(
					res.Keys[i-1].PubKey.SerializeCompressed(),
					res.Keys[i].PubKey.SerializeCompressed(),
				))
			}
		})
	}
}

// TestResolveTaproot checks key path only and script tree descriptors.
func TestResolveTaproot(t *testing.T) {
	t.Parallel()

	provider := NewHDProvider(&chaincfg.RegressionNetParams)
	internal := testKey(t, 0x01, 86, 0)

	t.Run("key path only", func(t *testing.T) {
		t.Parallel()

		// Act.
		res, err := Resolve(provider, NewTR(internal), 3)

		// Assert.
		require.NoError(t, err)

		key, ok := res.InternalKey()
		require.True(t, ok)

		outputKey := txscript.ComputeTaprootKeyNoScript(key.PubKey)
		want, err := txscript.PayToTaprootScript(outputKey)
		require.NoError(t, err)
		require.Equal(t, want, res.PkScript)
		require.Nil(t, res.MerkleRoot)
	})

	t.Run("script tree", func(t *testing.T) {
		t.Parallel()

		// Arrange.
		desc := NewTR(internal,
			Leaf{Keys: []Key{testKey(t, 0x02, 86, 0)}},
			Leaf{Keys: []Key{
				testKey(t, 0x03, 86, 0), testKey(t, 0x04, 86, 0),
			}, Threshold: 2},
			Leaf{Keys: []Key{testKey(t, 0x05, 86, 0)}},
		)

		// Act.
		res, err := Resolve(provider, desc, 0)

		// Assert.
		require.NoError(t, err)
		require.Equal(t, txscript.WitnessV1TaprootTy,
			txscript.GetScriptClass(res.PkScript))
		require.Len(t, res.Leaves, 3)

		depths := []uint8{2, 2, 1}
		for i, leaf := range res.Leaves {
			cb, err := txscript.ParseControlBlock(leaf.ControlBlock)
			require.NoError(t, err)
			require.Equal(t, res.MerkleRoot, cb.RootHash(leaf.Script))
			require.Equal(t, depths[i], leaf.Depth)
		}

		multi := res.Leaves[1].Script
		require.Equal(t, byte(txscript.OP_NUMEQUAL), multi[len(multi)-1])
		require.Len(t, res.Leaves[1].Keys, 2)
	})

	// Every control block must commit to the output key, including those
	// of identical leaves and of trees too large for a single pairing
	// pass.
	commitTests := []struct {
		name   string
		leaves []Leaf
		depths []uint8
	}{
		{
			name: "identical leaves",
			leaves: []Leaf{
				{Keys: []Key{testKey(t, 0x02, 86, 0)}},
				{Keys: []Key{testKey(t, 0x02, 86, 0)}},
				{Keys: []Key{testKey(t, 0x03, 86, 0)}},
			},
			depths: []uint8{2, 2, 1},
		},
		{
			name: "ten leaves",
			leaves: func() []Leaf {
				leaves := make([]Leaf, 0, 10)
				for i := byte(0); i < 10; i++ {
					leaves = append(leaves, Leaf{
						Keys: []Key{testKey(t, 0x10+i, 86, 0)},
					})
				}

				return leaves
			}(),
			depths: []uint8{3, 3, 3, 3, 4, 4, 4, 4, 3, 3},
		},
	}

	for _, tc := range commitTests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act.
			res, err := Resolve(provider, NewTR(internal, tc.leaves...), 0)

			// Assert.
			require.NoError(t, err)
			require.Len(t, res.Leaves, len(tc.depths))

			for i, leaf := range res.Leaves {
				cb, err := txscript.ParseControlBlock(
					leaf.ControlBlock,
				)
				require.NoError(t, err)

				err = txscript.VerifyTaprootLeafCommitment(
					cb, res.PkScript[2:], leaf.Script,
				)
				require.NoError(t, err, "leaf %d", i)
				require.Equal(t, tc.depths[i], leaf.Depth, "leaf %d", i)
			}
		})
	}
}

// TestValidate checks descriptor structure validation.
func TestValidate(t *testing.T) {
	t.Parallel()

	key := testKey(t, 0x01, 84, 0)
	many := make([]Key, 16)
	for i := range many {
		many[i] = key
	}

	seed := bytes.Repeat([]byte{0x09}, hdkeychain.RecommendedSeedLen)
	private, err := hdkeychain.NewMaster(seed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	tests := []struct {
		name string
		desc *Descriptor
	}{
		{
			name: "zero threshold",
			desc: &Descriptor{Type: WSHMulti, Keys: []Key{key}},
		},
		{
			name: "threshold above key count",
			desc: &Descriptor{
				Type: WSHMulti, Keys: []Key{key}, Threshold: 2,
			},
		},
		{
			name: "p2sh multisig too large",
			desc: &Descriptor{Type: SHMulti, Keys: many, Threshold: 1},
		},
		{
			name: "two single keys",
			desc: &Descriptor{Type: WPKH, Keys: []Key{key, key}},
		},
		{
			name: "leaves outside taproot",
			desc: &Descriptor{
				Type: WPKH, Keys: []Key{key},
				Leaves: []Leaf{{Keys: []Key{key}}},
			},
		},
		{
			name: "pk leaf with two keys",
			desc: NewTR(key, Leaf{Keys: []Key{key, key}}),
		},
		{
			name: "private account key",
			desc: NewWPKH(Key{Account: private}),
		},
		{
			name: "unknown type",
			desc: &Descriptor{Type: Type(42), Keys: []Key{key}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			require.ErrorIs(t, tc.desc.Validate(), ErrInvalidDescriptor)
		})
	}
}

// TestDeriveHardenedBranch checks that hardened indexes below a public key
// are rejected.
func TestDeriveHardenedBranch(t *testing.T) {
	t.Parallel()

	// Arrange.
	provider := NewHDProvider(&chaincfg.RegressionNetParams)
	key := testKey(t, 0x01, 84, 0)
	key.Branch = []uint32{hdkeychain.HardenedKeyStart}

	// Act.
	_, err := provider.DeriveKeys(NewWPKH(key), 0)

	// Assert.
	require.ErrorIs(t, err, ErrDerivation)
}

// TestScriptsKeyCount checks that Scripts rejects a key list that does not
// match the descriptor.
func TestScriptsKeyCount(t *testing.T) {
	t.Parallel()

	provider := NewHDProvider(&chaincfg.RegressionNetParams)
	desc := NewWPKH(testKey(t, 0x01, 84, 0))

	_, err := provider.Scripts(desc, 0, nil)
	require.ErrorIs(t, err, ErrInvalidDescriptor)
}

// shortProvider drops the last derived key and, if noLeaves is set, the
// leaves of a taproot resolution.
type shortProvider struct {
	*HDProvider

	dropKey  bool
	noLeaves bool
}

func (s *shortProvider) DeriveKeys(desc *Descriptor,
	index uint32) ([]DerivedKey, error) {

	keys, err := s.HDProvider.DeriveKeys(desc, index)
	if err != nil || !s.dropKey {
		return keys, err
	}

	return keys[:len(keys)-1], nil
}

func (s *shortProvider) Scripts(desc *Descriptor, index uint32,
	keys []DerivedKey) (*Resolution, error) {

	res, err := s.HDProvider.Scripts(desc, index, keys)
	if err == nil && s.noLeaves {
		res.Leaves = nil
	}

	return res, err
}

// TestResolveChecksProvider checks that Resolve rejects providers whose
// results do not fit the descriptor.
func TestResolveChecksProvider(t *testing.T) {
	t.Parallel()

	hd := NewHDProvider(&chaincfg.RegressionNetParams)
	desc := NewTR(testKey(t, 0x01, 86, 0),
		Leaf{Keys: []Key{testKey(t, 0x02, 86, 0)}},
	)

	// Act.
	_, errKeys := Resolve(&shortProvider{HDProvider: hd, dropKey: true},
		desc, 0)
	_, errLeaves := Resolve(&shortProvider{HDProvider: hd, noLeaves: true},
		desc, 0)
	_, errNone := Resolve(&shortProvider{HDProvider: hd}, desc, 0)

	// Assert.
	require.ErrorIs(t, errKeys, ErrDerivation)
	require.ErrorIs(t, errLeaves, ErrDerivation)
	require.NoError(t, errNone)
}

// TestDescriptorString checks the descriptor formatting.
func TestDescriptorString(t *testing.T) {
	t.Parallel()

	key := testKey(t, 0x01, 84, 0)
	s := NewWPKH(key).String()

	require.True(t, strings.HasPrefix(s, "wpkh([0badf00d/84'/1'/0']tpub"))
	require.True(t, strings.HasSuffix(s, "/0/*)"))

	leaf := Leaf{Keys: []Key{key, key}, Threshold: 1}
	require.True(t, strings.HasPrefix(leaf.String(), "multi_a(1,"))
}
