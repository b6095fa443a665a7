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

// Package i2c is the PN532 I2C transport.
package i2c

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
	"github.com/ZaparooProject/go-nfcdisc/pn532"
)

const (
	// 7-bit address; the datasheet's 0x48 includes the R/W bit.
	pn532Addr    = 0x24
	pn532Ready   = 0x01
	maxClockFreq = 400 * physic.KiloHertz

	ackTimeout     = 100 * time.Millisecond
	defaultTimeout = time.Second
	maxNACKs       = 3
	pollInterval   = time.Millisecond
	// every read starts with the status byte
	readSize = 1 + frame.MaxDataLength + 8
)

// Transport implements pn532.Transport over I2C.
type Transport struct {
	dev     *i2c.Dev
	closer  io.Closer
	busName string
	timeout time.Duration
	mu      syncutil.Mutex
}

// parseBusPath strips an address suffix such as "/dev/i2c-1:0x24".
func parseBusPath(path string) string {
	bus, _, _ := strings.Cut(path, ":")
	return bus
}

// New initialises the host drivers and opens busName.
func New(busName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	bus, err := i2creg.Open(parseBusPath(busName))
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %s: %w", busName, err)
	}
	// boards that cannot run at 400 kHz keep their default speed
	_ = bus.SetSpeed(maxClockFreq)

	t := NewWithBus(bus, busName)
	t.closer = bus
	return t, nil
}

// NewWithBus talks to the chip over an already open bus. Close does not
// close bus.
func NewWithBus(bus i2c.Bus, name string) *Transport {
	return &Transport{
		dev:     &i2c.Dev{Addr: pn532Addr, Bus: bus},
		busName: name,
		timeout: defaultTimeout,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendCommand writes the command frame, waits for the ACK and reads the
// response, NACKing damaged frames.
func (t *Transport) SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return nil, pn532.NewTransportError("send", t.busName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}

	raw, err := frame.Build(frame.HostToPn532, append([]byte{cmd}, args...))
	if err != nil {
		return nil, pn532.NewDataTooLargeError("sendFrame", t.busName)
	}
	if err := t.dev.Tx(raw, nil); err != nil {
		return nil, fmt.Errorf("failed to send I2C frame: %w", err)
	}

	ack, err := t.readFrame(ctx, ackTimeout)
	if err != nil {
		if errors.Is(err, pn532.ErrTransportTimeout) {
			return nil, pn532.NewNoACKError("waitAck", t.busName)
		}
		return nil, err
	}
	if f, _, err := frame.Decode(ack, frame.Pn532ToHost); err != nil || f.Kind != frame.KindAck {
		if err == nil && f.Kind == frame.KindError {
			return nil, pn532.NewSyntaxError("waitAck", t.busName)
		}
		return nil, pn532.NewFrameCorruptedError("waitAck", t.busName)
	}

	for nacks := 0; ; nacks++ {
		buf, err := t.readFrame(ctx, t.timeout)
		if err != nil {
			return nil, err
		}
		f, _, err := frame.Decode(buf, frame.Pn532ToHost)
		switch {
		case errors.Is(err, frame.ErrDataChecksum), errors.Is(err, frame.ErrLengthChecksum),
			errors.Is(err, frame.ErrIncomplete):
			if nacks == maxNACKs {
				return nil, pn532.NewChecksumMismatchError("receive", t.busName)
			}
			if err := t.dev.Tx(frame.NackFrame, nil); err != nil {
				return nil, fmt.Errorf("failed to send NACK: %w", err)
			}
		case err != nil:
			return nil, pn532.NewFrameCorruptedError("receive", t.busName)
		case f.Kind == frame.KindError:
			return nil, pn532.NewSyntaxError("receive", t.busName)
		case f.Kind != frame.KindData || len(f.Payload) == 0 || f.Payload[0] != cmd+1:
			return nil, pn532.NewInvalidResponseError("receive", t.busName)
		default:
			if err := t.dev.Tx(frame.AckFrame, nil); err != nil {
				return nil, fmt.Errorf("failed to send ACK: %w", err)
			}
			return f.Payload, nil
		}
	}
}

// readFrame polls the status byte until the chip has output ready, then
// reads it in a single transaction. Every read transaction restarts at the
// first byte of the chip's output, so the frame cannot be read in pieces.
func (t *Transport) readFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	status := make([]byte, 1)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := t.dev.Tx(nil, status); err != nil {
			return nil, fmt.Errorf("I2C ready check failed: %w", err)
		}
		if status[0]&pn532Ready != 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, pn532.NewTimeoutError("receive", t.busName)
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, readSize)
	if err := t.dev.Tx(nil, buf); err != nil {
		return nil, fmt.Errorf("I2C frame read failed: %w", err)
	}
	if buf[0]&pn532Ready == 0 {
		return nil, pn532.NewFrameCorruptedError("receive", t.busName)
	}
	return buf[1:], nil
}

func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("invalid I2C timeout %v", timeout)
	}
	t.mu.Do(func() { t.timeout = timeout })
	return nil
}

// Close releases the bus file descriptor when New opened it.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dev = nil
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	if err != nil {
		return fmt.Errorf("failed to close I2C bus: %w", err)
	}
	return nil
}

func (t *Transport) IsConnected() bool {
	var ok bool
	t.mu.Do(func() { ok = t.dev != nil })
	return ok
}

func (*Transport) Type() pn532.TransportType {
	return pn532.TransportI2C
}

var _ pn532.Transport = (*Transport)(nil)
