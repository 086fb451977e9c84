// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/psbtwallet/pkg/btcunit"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/btcsuite/psbtwallet/resolver"
	"github.com/btcsuite/psbtwallet/signer"
)

// readPacket decodes the base64 packet given as the only argument, or read
// from the input when there is none.
func readPacket(e *env, args []string) (*psbt.Packet, error) {
	switch len(args) {
	case 0:
		b, err := io.ReadAll(e.in)
		if err != nil {
			return nil, err
		}

		return psbt.NewFromBase64(strings.TrimSpace(string(b)))

	case 1:
		return psbt.NewFromBase64(strings.TrimSpace(args[0]))

	default:
		return nil, errors.New("expected at most one packet argument")
	}
}

// writePacket prints the packet in base64.
func writePacket(e *env, p *psbt.Packet) error {
	s, err := p.B64Encode()
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(e.out, s)

	return err
}

// decodeCommand prints a description of a packet.
type decodeCommand struct {
	env *env

	Verbose bool `short:"v" long:"verbose" description:"Also dump the decoded packet to the debug log"`
}

// Execute implements flags.Commander.
func (c *decodeCommand) Execute(args []string) error {
	p, err := readPacket(c.env, args)
	if err != nil {
		return err
	}

	if c.Verbose {
		log.Debugf("Decoded packet: %v", spewPacket(p))
	}

	params, err := c.env.opts.params()
	if err != nil {
		return err
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "version: %v\n", p.Version)
	fmt.Fprintf(&b, "state: %v\n", p.State())
	fmt.Fprintf(&b, "tx version: %d\n", p.TxVersion)

	if lockTime, err := p.LockTime(); err == nil {
		fmt.Fprintf(&b, "lock time: %d\n", lockTime)
	} else {
		fmt.Fprintf(&b, "lock time: %v\n", err)
	}

	p.TxModifiable.WhenSome(func(flags uint8) {
		fmt.Fprintf(&b, "modifiable: %03b\n", flags)
	})

	for idx, in := range p.Inputs {
		fmt.Fprintf(&b, "input %d: %v sequence=%08x", idx,
			in.PreviousOutPoint, in.SequenceNum())

		if prevOut, err := in.PrevOut(); err == nil {
			fmt.Fprintf(&b, " value=%v", btcutil.Amount(prevOut.Value))
		}

		switch {
		case in.IsFinalized():
			b.WriteString(" finalized")

		case in.IsSigned():
			b.WriteString(" signed")
		}
		b.WriteString("\n")
	}

	for idx, out := range p.Outputs {
		fmt.Fprintf(&b, "output %d: %v %s\n", idx,
			btcutil.Amount(out.Amount), describeScript(out.PkScript,
				params))
	}

	if fee, err := resolver.Fee(p); err == nil {
		fmt.Fprintf(&b, "fee: %v\n", fee)
	}

	_, err = c.env.out.Write(b.Bytes())

	return err
}

// convertCommand converts a packet to another version.
type convertCommand struct {
	env *env

	To string `long:"to" required:"true" choice:"v0" choice:"v2" description:"Target version"`
}

// Execute implements flags.Commander.
func (c *convertCommand) Execute(args []string) error {
	p, err := readPacket(c.env, args)
	if err != nil {
		return err
	}

	var converted *psbt.Packet
	if c.To == "v0" {
		converted, err = p.ToV0()
	} else {
		converted, err = p.ToV2()
	}
	if err != nil {
		return err
	}

	log.Infof("Converted %v packet to %v", p.Version, converted.Version)

	return writePacket(c.env, converted)
}

// sortCommand puts a packet into canonical order.
type sortCommand struct {
	env *env
}

// Execute implements flags.Commander.
func (c *sortCommand) Execute(args []string) error {
	p, err := readPacket(c.env, args)
	if err != nil {
		return err
	}

	if err := psbt.Sort(p); err != nil {
		return err
	}

	return writePacket(c.env, p)
}

// combineCommand merges packets of one transaction.
type combineCommand struct {
	env *env
}

// Execute implements flags.Commander.
func (c *combineCommand) Execute(args []string) error {
	if len(args) < 2 {
		return errors.New("expected at least two packets")
	}

	combined, err := psbt.NewFromBase64(args[0])
	if err != nil {
		return fmt.Errorf("packet 0: %w", err)
	}

	for idx, arg := range args[1:] {
		p, err := psbt.NewFromBase64(arg)
		if err != nil {
			return fmt.Errorf("packet %d: %w", idx+1, err)
		}

		combined, err = psbt.Combine(combined, p)
		if err != nil {
			return err
		}
	}

	return writePacket(c.env, combined)
}

// finalizeCommand finalizes the signed inputs of a packet.
type finalizeCommand struct {
	env *env

	Extract bool `short:"x" long:"extract" description:"Print the final network transaction in hex instead of the packet"`
}

// Execute implements flags.Commander.
func (c *finalizeCommand) Execute(args []string) error {
	p, err := readPacket(c.env, args)
	if err != nil {
		return err
	}

	if err := signer.FinalizeAll(p); err != nil {
		return err
	}

	if !c.Extract {
		return writePacket(c.env, p)
	}

	tx, err := psbt.Extract(p)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return err
	}

	_, err = fmt.Fprintf(c.env.out, "%x\n", buf.Bytes())

	return err
}

// feeCommand computes the fee of a packet.
type feeCommand struct {
	env *env

	RPCConnect string `short:"c" long:"rpcconnect" description:"Node RPC address used to look up spent outputs"`
	RPCUser    string `short:"u" long:"rpcuser" description:"Username for RPC connections"`
	RPCPass    string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RPCCert    string `long:"rpccert" description:"File containing the node's certificate"`
	NoTLS      bool   `long:"notls" description:"Disable TLS for the RPC connection"`
}

// resolver returns the RPC resolver described by the options.
func (c *feeCommand) resolver() (*resolver.RPCResolver, error) {
	conn := &rpcclient.ConnConfig{
		Host:       c.RPCConnect,
		User:       c.RPCUser,
		Pass:       c.RPCPass,
		DisableTLS: c.NoTLS,
	}

	if !c.NoTLS && c.RPCCert != "" {
		cert, err := os.ReadFile(c.RPCCert)
		if err != nil {
			return nil, err
		}
		conn.Certificates = cert
	}

	return resolver.NewRPCResolver(&resolver.RPCConfig{Conn: conn})
}

// Execute implements flags.Commander.
func (c *feeCommand) Execute(args []string) error {
	p, err := readPacket(c.env, args)
	if err != nil {
		return err
	}

	if c.RPCConnect != "" {
		rpc, err := c.resolver()
		if err != nil {
			return err
		}
		defer rpc.Stop()

		r := resolver.NewCachedResolver(rpc, resolver.CacheConfig{})
		n, err := resolver.PopulatePrevOuts(context.Background(), r, p)
		if err != nil {
			return err
		}

		log.Debugf("Resolved %d inputs", n)
	}

	fee, err := resolver.Fee(p)
	if err != nil {
		return err
	}

	vsize, err := resolver.EstimateVirtualSize(p)
	if err != nil {
		return err
	}

	rate := btcunit.CalcSatPerVByte(fee, vsize)
	minRate := btcunit.NewSatPerKVByte(txrules.DefaultRelayFeePerKb).
		ToSatPerVByte()
	if rate.LessThan(minRate) {
		log.Warnf("Fee rate %v is below the minimum relay fee %v",
			rate, minRate)
	}

	_, err = fmt.Fprintf(c.env.out, "fee: %v\nvsize: %v\nfee rate: %v\n",
		fee, vsize, rate)

	return err
}

// describeScript returns the class of a script and its address, if any.
func describeScript(pkScript []byte, params *chaincfg.Params) string {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) != 1 {
		return class.String()
	}

	return fmt.Sprintf("%v %v", class, addrs[0].EncodeAddress())
}
