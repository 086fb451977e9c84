// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package btcunit

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// size is a transaction size stored in weight units.
type size struct {
	wu uint64
}

// WeightUnit is a transaction size in weight units: the base size times
// three plus the size including witness data.
type WeightUnit struct {
	size
}

// NewWeightUnit returns a size of wu weight units.
func NewWeightUnit(wu uint64) WeightUnit {
	return WeightUnit{size{wu: wu}}
}

// TxWeight returns the weight of a transaction.
func TxWeight(tx *wire.MsgTx) WeightUnit {
	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))

	return NewWeightUnit(uint64(weight))
}

// ToVB converts the size to virtual bytes.
func (w WeightUnit) ToVB() VByte {
	return VByte{w.size}
}

// String returns the size followed by its unit.
func (w WeightUnit) String() string {
	return fmt.Sprintf("%d wu", w.wu)
}

// VByte is a transaction size in virtual bytes, a quarter weight unit each.
type VByte struct {
	size
}

// NewVByte returns a size of vb virtual bytes.
func NewVByte(vb uint64) VByte {
	return VByte{size{wu: vb * blockchain.WitnessScaleFactor}}
}

// ToWU converts the size to weight units.
func (v VByte) ToWU() WeightUnit {
	return WeightUnit{v.size}
}

// Ceil returns the size in whole virtual bytes, rounding up.
func (v VByte) Ceil() uint64 {
	return (v.wu + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor
}

// String returns the rounded up size followed by its unit.
func (v VByte) String() string {
	return fmt.Sprintf("%d vb", v.Ceil())
}
