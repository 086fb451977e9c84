// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package resolver

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/psbtwallet/pkg/btcunit"
	"github.com/btcsuite/psbtwallet/psbt"
)

var (
	// ErrInputsLessThanOutputs is returned when the outputs of a packet
	// spend more than its inputs provide.
	ErrInputsLessThanOutputs = errors.New("input value is less than " +
		"output value")

	// ErrUnknownInputSize is returned when the size of an unfinalized
	// input cannot be estimated.
	ErrUnknownInputSize = errors.New("cannot estimate input size")
)

// Fee returns the fee paid by the packet. Every spent output must be known.
func Fee(p *psbt.Packet) (btcutil.Amount, error) {
	var in btcutil.Amount
	for idx, input := range p.Inputs {
		prevOut, err := input.PrevOut()
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", idx, err)
		}

		in += btcutil.Amount(prevOut.Value)
	}

	tx, err := p.UnsignedTx()
	if err != nil {
		return 0, err
	}
	out := txauthor.SumOutputValues(tx.TxOut)

	if in < out {
		return 0, fmt.Errorf("%w: %v in, %v out",
			ErrInputsLessThanOutputs, in, out)
	}

	return in - out, nil
}

// EstimateVirtualSize returns the virtual size of the final transaction.
// The size of a fully finalized packet is exact. Otherwise every input must
// spend P2PKH, P2WPKH, nested P2WPKH or a taproot output through its key
// path.
func EstimateVirtualSize(p *psbt.Packet) (btcunit.VByte, error) {
	if p.IsComplete() {
		tx, err := psbt.Extract(p)
		if err != nil {
			return btcunit.VByte{}, err
		}

		return btcunit.TxWeight(tx).ToVB(), nil
	}

	var p2pkh, p2tr, p2wpkh, nested int
	for idx, in := range p.Inputs {
		prevOut, err := in.PrevOut()
		if err != nil {
			return btcunit.VByte{}, fmt.Errorf("input %d: %w", idx,
				err)
		}

		pkScript := prevOut.PkScript
		switch {
		case txscript.IsPayToPubKeyHash(pkScript):
			p2pkh++

		case txscript.IsPayToWitnessPubKeyHash(pkScript):
			p2wpkh++

		case txscript.IsPayToTaproot(pkScript):
			p2tr++

		case txscript.IsPayToScriptHash(pkScript) &&
			txscript.IsPayToWitnessPubKeyHash(in.RedeemScript):

			nested++

		default:
			return btcunit.VByte{}, fmt.Errorf("%w: input %d "+
				"spends %v", ErrUnknownInputSize, idx,
				txscript.GetScriptClass(pkScript))
		}
	}

	tx, err := p.UnsignedTx()
	if err != nil {
		return btcunit.VByte{}, err
	}

	vsize := txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, tx.TxOut, 0,
	)

	return btcunit.NewVByte(uint64(vsize)), nil
}

// FeeRate returns the fee rate the packet pays.
func FeeRate(p *psbt.Packet) (btcunit.SatPerVByte, error) {
	fee, err := Fee(p)
	if err != nil {
		return btcunit.SatPerVByte{}, err
	}

	vsize, err := EstimateVirtualSize(p)
	if err != nil {
		return btcunit.SatPerVByte{}, err
	}

	return btcunit.CalcSatPerVByte(fee, vsize), nil
}
