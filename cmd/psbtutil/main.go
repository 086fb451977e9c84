// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// psbtutil inspects and transforms partially signed bitcoin transactions
// in either format version.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/jessevdk/go-flags"
)

// options are the flags shared by every command.
type options struct {
	Network    string `long:"network" default:"mainnet" choice:"mainnet" choice:"testnet3" choice:"signet" choice:"regtest" description:"Network the packets belong to"`
	DebugLevel string `short:"d" long:"debuglevel" default:"info" description:"Logging level {trace, debug, info, warn, error, critical}"`
	LogFile    string `long:"logfile" description:"Also write logs to this file, rotating it"`
}

// params returns the chain parameters of the selected network.
func (o *options) params() (*chaincfg.Params, error) {
	switch o.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet3":
		return &chaincfg.TestNet3Params, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", o.Network)
	}
}

// env is what commands read from and write to.
type env struct {
	opts *options
	in   io.Reader
	out  io.Writer
}

// newParser returns the command line parser with every command registered.
func newParser(e *env) *flags.Parser {
	parser := flags.NewParser(e.opts, flags.Default)

	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if err := setLogLevels(e.opts.DebugLevel); err != nil {
			return err
		}

		if e.opts.LogFile != "" {
			if err := initLogRotator(e.opts.LogFile); err != nil {
				return err
			}
		}

		return cmd.Execute(args)
	}

	commands := []struct {
		name, short, long string
		data              any
	}{
		{
			name:  "decode",
			short: "Describe a packet",
			long: "Decode a base64 packet given as argument or on " +
				"stdin and print its globals, inputs and outputs.",
			data: &decodeCommand{env: e},
		},
		{
			name:  "convert",
			short: "Convert a packet to another version",
			long: "Convert a packet between the BIP-174 (v0) and " +
				"BIP-370 (v2) formats.",
			data: &convertCommand{env: e},
		},
		{
			name:  "sort",
			short: "Sort inputs and outputs per BIP-69",
			long: "Put the inputs and outputs of an unsigned packet " +
				"into canonical order.",
			data: &sortCommand{env: e},
		},
		{
			name:  "combine",
			short: "Merge packets of one transaction",
			long: "Combine the signatures and fields of packets " +
				"describing the same transaction.",
			data: &combineCommand{env: e},
		},
		{
			name:  "finalize",
			short: "Finalize signed inputs",
			long: "Build the final scripts of every signed input and " +
				"optionally extract the network transaction.",
			data: &finalizeCommand{env: e},
		},
		{
			name:  "fee",
			short: "Compute the fee of a packet",
			long: "Compute the fee, size and fee rate of a packet, " +
				"looking up missing spent outputs over RPC.",
			data: &feeCommand{env: e},
		},
	}
	for _, c := range commands {
		_, err := parser.AddCommand(c.name, c.short, c.long, c.data)
		if err != nil {
			panic(err)
		}
	}

	return parser
}

func main() {
	e := &env{opts: &options{}, in: os.Stdin, out: os.Stdout}

	_, err := newParser(e).Parse()

	if logRotator != nil {
		logRotator.Close()
	}

	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}

		os.Exit(1)
	}
}
