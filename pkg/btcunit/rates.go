// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package btcunit holds transaction size and fee rate units.
package btcunit

import (
	"math"
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
)

const (
	kilo = 1000

	// floatPrecision keeps rates below 1 sat/vb, such as 1 sat/kvb,
	// from printing as zero.
	floatPrecision = 3
)

// rate is a fee rate stored as satoshis per kilo weight unit.
type rate struct {
	satsPerKWU *big.Rat
}

// newRate returns the rate paying fee for wu weight units. A zero size
// gives a zero rate.
func newRate(fee btcutil.Amount, wu uint64) rate {
	if wu == 0 {
		return rate{satsPerKWU: new(big.Rat)}
	}

	return rate{satsPerKWU: big.NewRat(int64(fee)*kilo, clampInt64(wu))}
}

// feeFor returns the fee for wu weight units, rounded up to the satoshi.
func (r rate) feeFor(wu uint64) btcutil.Amount {
	fee := new(big.Rat).Mul(r.satsPerKWU, big.NewRat(clampInt64(wu), kilo))

	num, denom := fee.Num(), fee.Denom()
	ceil := new(big.Int).Add(num, denom)
	ceil.Sub(ceil, big.NewInt(1))
	ceil.Div(ceil, denom)

	return btcutil.Amount(ceil.Int64())
}

// cmp compares two rates.
func (r rate) cmp(other rate) int {
	return r.satsPerKWU.Cmp(other.satsPerKWU)
}

// scaled returns the rate multiplied by num/denom as a decimal string.
func (r rate) scaled(num, denom int64) string {
	v := new(big.Rat).Mul(r.satsPerKWU, big.NewRat(num, denom))

	return v.FloatString(floatPrecision)
}

// SatPerVByte is a fee rate in satoshis per virtual byte.
type SatPerVByte struct {
	rate
}

// NewSatPerVByte returns a rate of sats satoshis per virtual byte.
func NewSatPerVByte(sats btcutil.Amount) SatPerVByte {
	return CalcSatPerVByte(sats, NewVByte(1))
}

// CalcSatPerVByte returns the rate of a transaction of the given size
// paying fee.
func CalcSatPerVByte(fee btcutil.Amount, vb VByte) SatPerVByte {
	return SatPerVByte{newRate(fee, vb.wu)}
}

// FeeForVByte returns the fee for vb virtual bytes, rounded up.
func (s SatPerVByte) FeeForVByte(vb VByte) btcutil.Amount {
	return s.feeFor(vb.wu)
}

// ToSatPerKVByte converts the rate to satoshis per kilo virtual byte.
func (s SatPerVByte) ToSatPerKVByte() SatPerKVByte {
	return SatPerKVByte{s.rate}
}

// Equal returns true if both rates are the same.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.cmp(other.rate) == 0
}

// LessThan returns true if s is below other.
func (s SatPerVByte) LessThan(other SatPerVByte) bool {
	return s.cmp(other.rate) < 0
}

// GreaterThan returns true if s is above other.
func (s SatPerVByte) GreaterThan(other SatPerVByte) bool {
	return s.cmp(other.rate) > 0
}

// String returns the rate in sat/vb.
func (s SatPerVByte) String() string {
	return s.scaled(blockchain.WitnessScaleFactor, kilo) + " sat/vb"
}

// SatPerKVByte is a fee rate in satoshis per kilo virtual byte, the unit
// relay fees are configured in.
type SatPerKVByte struct {
	rate
}

// NewSatPerKVByte returns a rate of sats satoshis per kilo virtual byte.
func NewSatPerKVByte(sats btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{newRate(sats, kilo*blockchain.WitnessScaleFactor)}
}

// ToSatPerVByte converts the rate to satoshis per virtual byte.
func (s SatPerKVByte) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{s.rate}
}

// String returns the rate in sat/kvb.
func (s SatPerKVByte) String() string {
	return s.scaled(blockchain.WitnessScaleFactor, 1) + " sat/kvb"
}

// clampInt64 converts u to an int64, capping it at math.MaxInt64. Sizes are
// bounded by consensus far below that.
func clampInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(u)
}
