// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command nfcdisc polls a PN532 reader for ISO/IEC 14443 Type B cards and
// prints what it finds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-nfcdisc"
	"github.com/ZaparooProject/go-nfcdisc/capture"
	"github.com/ZaparooProject/go-nfcdisc/detection"
	"github.com/ZaparooProject/go-nfcdisc/pn532"
	"github.com/ZaparooProject/go-nfcdisc/polling"
	"github.com/ZaparooProject/go-nfcdisc/transport/i2c"
	"github.com/ZaparooProject/go-nfcdisc/transport/spi"
	"github.com/ZaparooProject/go-nfcdisc/transport/uart"
)

type config struct {
	devicePath  string
	transport   string
	configPath  string
	capturePath string
	logDir      string
	detectMode  string
	interval    time.Duration
	debug       bool
	once        bool
	activate    bool
}

func parseFlags(args []string) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("nfcdisc", flag.ContinueOnError)
	fs.StringVar(&cfg.devicePath, "device", "", "Device path (auto-detect if empty)")
	fs.StringVar(&cfg.transport, "transport", "auto", "Transport: uart, i2c, spi or auto")
	fs.StringVar(&cfg.configPath, "config", "", "YAML discovery configuration")
	fs.StringVar(&cfg.capturePath, "capture", "", "Append every RF exchange to this CBOR file")
	fs.StringVar(&cfg.logDir, "log-dir", "", "Write a debug session log to this directory")
	fs.StringVar(&cfg.detectMode, "detect", "safe", "Auto-detection mode: passive or safe")
	fs.DurationVar(&cfg.interval, "interval", 250*time.Millisecond, "Poll interval")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug output")
	fs.BoolVar(&cfg.once, "once", false, "Run a single discovery pass and exit")
	fs.BoolVar(&cfg.activate, "activate", false, "Activate the first card found")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch cfg.transport {
	case "auto", "uart", "i2c", "spi":
	default:
		return nil, fmt.Errorf("unsupported transport %q", cfg.transport)
	}
	if cfg.interval <= 0 {
		return nil, fmt.Errorf("invalid interval %s", cfg.interval)
	}
	return cfg, nil
}

// newTransport opens path. In auto mode paths naming an I2C bus or an SPI
// port use those, everything else is a serial port.
func newTransport(path, kind string) (pn532.Transport, error) {
	if path == "" {
		return nil, errors.New("empty device path")
	}
	if kind == "auto" {
		kind = "uart"
		switch lower := strings.ToLower(path); {
		case strings.Contains(lower, "i2c"):
			kind = "i2c"
		case strings.Contains(lower, "spi"):
			kind = "spi"
		}
	}

	switch kind {
	case "i2c":
		transport, err := i2c.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport for %s: %w", path, err)
		}
		return transport, nil
	case "spi":
		transport, err := spi.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPI transport for %s: %w", path, err)
		}
		return transport, nil
	default:
		transport, err := uart.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create UART transport for %s: %w", path, err)
		}
		return transport, nil
	}
}

func detectDevice(ctx context.Context, cfg *config) (detection.DeviceInfo, error) {
	mode, err := detection.ParseMode(cfg.detectMode)
	if err != nil {
		return detection.DeviceInfo{}, err
	}
	opts := detection.DefaultOptions()
	opts.Mode = mode
	if cfg.transport != "auto" {
		opts.Transports = []string{cfg.transport}
	}
	devices, err := detection.DetectAll(ctx, &opts)
	if err != nil {
		return detection.DeviceInfo{}, fmt.Errorf("auto-detection failed: %w", err)
	}
	for _, d := range devices {
		nfcdisc.Debugf("found %s", d)
	}
	return devices[0], nil
}

func openReader(ctx context.Context, cfg *config) (*pn532.Reader, string, error) {
	path, kind := cfg.devicePath, cfg.transport
	if path == "" {
		if cfg.debug {
			_, _ = fmt.Println("Auto-detecting PN532 devices...")
		}
		dev, err := detectDevice(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		path, kind = dev.Path, dev.Transport
	}

	transport, err := newTransport(path, kind)
	if err != nil {
		return nil, "", err
	}
	reader := pn532.New(transport)
	if err := reader.Init(ctx); err != nil {
		_ = transport.Close()
		return nil, "", fmt.Errorf("failed to initialize PN532 at %s: %w", path, err)
	}
	if cfg.debug {
		_, _ = fmt.Printf("PN532 firmware %s at %s\n", reader.Firmware().Version, path)
	}
	return reader, path, nil
}

// loadDiscoveryConfig restricts the configuration to Type B, the only
// technology the PN532 backend drives.
func loadDiscoveryConfig(path string) (*nfcdisc.Config, error) {
	ncfg := nfcdisc.DefaultConfig()
	if path != "" {
		var err error
		if ncfg, err = nfcdisc.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	techs, err := ncfg.Techs()
	if err != nil {
		return nil, err
	}
	for _, t := range techs {
		if t != nfcdisc.TechB {
			nfcdisc.Debugf("technology %s is not supported by the PN532 backend, skipping", t)
		}
	}
	ncfg.Technologies = []string{nfcdisc.TechB.String()}
	return ncfg, nil
}

// newLogger builds the exchange logger; the returned close func is never nil.
func newLogger(cfg *config) (capture.Logger, func() error, error) {
	var loggers []capture.Logger
	closeFn := func() error { return nil }
	if cfg.capturePath != "" {
		fl, err := capture.NewFileLogger(cfg.capturePath)
		if err != nil {
			return nil, closeFn, err
		}
		loggers = append(loggers, fl)
		closeFn = fl.Close
	}
	if cfg.debug {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
		loggers = append(loggers, capture.NewSlogAdapter(slog.New(handler)))
	}
	return capture.NewMultiLogger(loggers...), closeFn, nil
}

func printCards(out io.Writer, cards []polling.Card) {
	for i := range cards {
		c := &cards[i]
		_, _ = fmt.Fprintf(out, "Card detected: Tech=%s ID=%s", c.Candidate.Tech, c.Candidate.IDString())
		if p := c.Params; p != nil {
			_, _ = fmt.Fprintf(out, " Layer4=%t Tx=%s Rx=%s FSC=%d FWT=%s",
				p.Layer4, p.TxRate, p.RxRate, p.CardFrameSize.Bytes(), p.FWT)
		}
		_, _ = fmt.Fprintln(out)
	}
}

// runReader runs discovery on an initialized reader.
func runReader(ctx context.Context, cfg *config, reader *pn532.Reader, source string, out io.Writer) error {
	ncfg, err := loadDiscoveryConfig(cfg.configPath)
	if err != nil {
		return err
	}
	logger, closeLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLogger(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close capture file: %v\n", err)
		}
	}()

	engine, err := nfcdisc.New(ncfg,
		nfcdisc.WithTypeB(reader.TypeB()),
		nfcdisc.WithExchangeObserver(capture.NewObserver(logger, source)),
	)
	if err != nil {
		return fmt.Errorf("failed to create discovery engine: %w", err)
	}

	pcfg := polling.DefaultConfig()
	pcfg.PollInterval = cfg.interval
	pcfg.Activate = cfg.activate
	recoverer := polling.NewDefaultRecoverer(reader, reader.Init,
		pcfg.SleepRecovery.RecoveryBackoff, pcfg.SleepRecovery.MaxRecoveryAttempts)
	loop, err := polling.NewLoop(engine, pcfg,
		polling.WithFieldResetter(reader),
		polling.WithRecoverer(recoverer),
		polling.WithCallbacks(polling.Callbacks{
			OnCardsDetected: func(cards []polling.Card) error {
				printCards(out, cards)
				return nil
			},
			OnCardsChanged: func(cards []polling.Card) error {
				_, _ = fmt.Fprintln(out, "Cards changed:")
				printCards(out, cards)
				return nil
			},
			OnCardsRemoved: func() {
				_, _ = fmt.Fprintln(out, "Cards removed - ready for next card...")
			},
		}),
	)
	if err != nil {
		return err
	}

	if cfg.once {
		cards, err := loop.Pass(ctx)
		printCards(out, cards)
		if err != nil {
			return err
		}
		if len(cards) == 0 {
			_, _ = fmt.Fprintln(out, "No cards found.")
		}
		return nil
	}

	_, _ = fmt.Fprintln(out, "Polling for Type B cards. Press Ctrl+C to stop...")
	err = loop.Run(ctx)
	if cfg.debug {
		m := loop.Metrics()
		_, _ = fmt.Fprintf(out, "%d passes, %d errors, %d collisions, %d field resets\n",
			m.Passes, m.PassErrors, m.Collisions, m.FieldResets)
	}
	return err
}

func run(ctx context.Context, cfg *config) error {
	if cfg.debug {
		nfcdisc.SetDebugEnabled(true)
	}
	if cfg.logDir != "" {
		path, err := nfcdisc.InitSessionLog(cfg.logDir)
		if err != nil {
			return fmt.Errorf("failed to open session log: %w", err)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Session log: %s\n", path)
		defer func() { _ = nfcdisc.CloseSessionLog() }()
	}

	reader, source, err := openReader(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close reader: %v\n", err)
		}
	}()
	return runReader(ctx, cfg, reader, source, os.Stdout)
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	cfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
