// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CanonicalOrder computes the BIP-69 ordering of the packet. Inputs are
// ordered by previous txid, compared in its displayed byte order, then by
// output index. Outputs are ordered by amount, then by script bytes. Each
// returned permutation lists, for every new position, the current index of
// the element that moves there.
//
// The order cannot change once a signature exists, since ALL and SINGLE
// signatures commit to it.
func CanonicalOrder(p *Packet) ([]int, []int, error) {
	if state := p.State(); state >= StateSigned {
		return nil, nil, fmt.Errorf("%w: packet is %v", ErrAlreadySigned,
			state)
	}

	inPerm := identity(len(p.Inputs))
	sort.SliceStable(inPerm, func(i, j int) bool {
		a := p.Inputs[inPerm[i]].PreviousOutPoint
		b := p.Inputs[inPerm[j]].PreviousOutPoint

		if c := compareTxID(a.Hash, b.Hash); c != 0 {
			return c < 0
		}

		return a.Index < b.Index
	})

	outPerm := identity(len(p.Outputs))
	sort.SliceStable(outPerm, func(i, j int) bool {
		a := p.Outputs[outPerm[i]]
		b := p.Outputs[outPerm[j]]

		if a.Amount != b.Amount {
			return a.Amount < b.Amount
		}

		return bytes.Compare(a.PkScript, b.PkScript) < 0
	})

	return inPerm, outPerm, nil
}

// ApplyOrder reorders the inputs and outputs of the packet according to the
// given permutations.
func ApplyOrder(p *Packet, inPerm, outPerm []int) error {
	if state := p.State(); state >= StateSigned {
		return fmt.Errorf("%w: packet is %v", ErrAlreadySigned, state)
	}

	if !isPermutation(inPerm, len(p.Inputs)) {
		return fmt.Errorf("%w: inputs", ErrInvalidPermutation)
	}
	if !isPermutation(outPerm, len(p.Outputs)) {
		return fmt.Errorf("%w: outputs", ErrInvalidPermutation)
	}

	inputs := make([]*Input, len(p.Inputs))
	for newIdx, oldIdx := range inPerm {
		inputs[newIdx] = p.Inputs[oldIdx]
	}

	outputs := make([]*Output, len(p.Outputs))
	for newIdx, oldIdx := range outPerm {
		outputs[newIdx] = p.Outputs[oldIdx]
	}

	p.Inputs = inputs
	p.Outputs = outputs

	return nil
}

// Sort puts the packet into canonical order.
func Sort(p *Packet) error {
	inPerm, outPerm, err := CanonicalOrder(p)
	if err != nil {
		return err
	}

	return ApplyOrder(p, inPerm, outPerm)
}

// compareTxID compares two hashes in reversed byte order, the order txids are
// displayed in.
func compareTxID(a, b chainhash.Hash) int {
	for i := chainhash.HashSize - 1; i >= 0; i-- {
		switch {
		case a[i] < b[i]:
			return -1

		case a[i] > b[i]:
			return 1
		}
	}

	return 0
}

// identity returns the identity permutation of size n.
func identity(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	return perm
}

// isPermutation returns true if perm contains every index below n exactly
// once.
func isPermutation(perm []int, n int) bool {
	if len(perm) != n {
		return false
	}

	seen := make([]bool, n)
	for _, idx := range perm {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}

	return true
}
