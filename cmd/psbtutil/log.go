// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/psbtwallet/construct"
	"github.com/btcsuite/psbtwallet/descriptor"
	"github.com/btcsuite/psbtwallet/psbt"
	"github.com/btcsuite/psbtwallet/resolver"
	"github.com/btcsuite/psbtwallet/signer"
	"github.com/davecgh/go-spew/spew"
	"github.com/jrick/logrotate/rotator"
)

// logWriter writes log output to stderr and, once initialized, to the log
// rotator.
type logWriter struct {
	out     io.Writer
	rotator io.Writer
}

func (w *logWriter) Write(p []byte) (int, error) {
	if _, err := w.out.Write(p); err != nil {
		return 0, err
	}

	if w.rotator != nil {
		if _, err := w.rotator.Write(p); err != nil {
			return 0, fmt.Errorf("log rotator: %w", err)
		}
	}

	return len(p), nil
}

var (
	writer = &logWriter{out: os.Stderr}

	// backend is the log backend all subsystem loggers write to.
	backend = btclog.NewBackend(writer)

	// logRotator is the rotator of the log file, if one was requested.
	logRotator *rotator.Rotator

	log = backend.Logger("PSBU")
)

// subsystemLoggers maps each subsystem tag to its logger.
var subsystemLoggers = map[string]btclog.Logger{
	"PSBU": log,
	"PSBT": backend.Logger("PSBT"),
	"CNST": backend.Logger("CNST"),
	"SIGN": backend.Logger("SIGN"),
	"RSLV": backend.Logger("RSLV"),
	"DESC": backend.Logger("DESC"),
}

func init() {
	psbt.UseLogger(subsystemLoggers["PSBT"])
	construct.UseLogger(subsystemLoggers["CNST"])
	signer.UseLogger(subsystemLoggers["SIGN"])
	resolver.UseLogger(subsystemLoggers["RSLV"])
	descriptor.UseLogger(subsystemLoggers["DESC"])
}

// initLogRotator also writes logs to logFile, rotating it every 10 MiB and
// keeping three old files.
func initLogRotator(logFile string) error {
	logDir, _ := filepath.Split(logFile)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	writer.rotator = pw
	logRotator = r

	return nil
}

// setLogLevels sets the level of every subsystem logger.
func setLogLevels(level string) error {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		return fmt.Errorf("invalid debug level %q", level)
	}

	for _, logger := range subsystemLoggers {
		logger.SetLevel(lvl)
	}

	return nil
}

// logClosure is used to defer expensive formatting until the message is
// actually logged.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a closure that can be passed to a logger.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}

// spewPacket defers a full dump of the packet.
func spewPacket(p *psbt.Packet) logClosure {
	return newLogClosure(func() string {
		return spew.Sdump(p)
	})
}
