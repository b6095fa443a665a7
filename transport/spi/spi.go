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

// Package spi is the PN532 SPI transport. The chip shifts bytes LSB first,
// so every byte on the wire is bit reversed.
package spi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
	"github.com/ZaparooProject/go-nfcdisc/pn532"
)

// SPI operation bytes, before bit reversal.
const (
	opDataWrite = 0x01
	opStatRead  = 0x02
	opDataRead  = 0x03
	statusReady = 0x01
)

const (
	defaultFreq    = physic.MegaHertz
	ackTimeout     = 100 * time.Millisecond
	defaultTimeout = time.Second
	maxNACKs       = 3
	pollInterval   = time.Millisecond
	readSize       = frame.MaxDataLength + 8
)

// Transport implements pn532.Transport over SPI.
type Transport struct {
	conn     spi.Conn
	closer   io.Closer
	portName string
	timeout  time.Duration
	mu       syncutil.Mutex
}

// New initialises the host drivers, opens portName in mode 0 and wakes the
// chip.
func New(portName string) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", portName, err)
	}
	conn, err := port.Connect(defaultFreq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	t := NewWithConn(conn, portName)
	t.closer = port
	// a dummy byte pulls the chip out of power down
	time.Sleep(time.Millisecond)
	_ = conn.Tx([]byte{0x00}, make([]byte, 1))
	time.Sleep(time.Millisecond)
	return t, nil
}

// NewWithConn talks to the chip over an already connected port. Close does
// not close conn.
func NewWithConn(conn spi.Conn, name string) *Transport {
	return &Transport{
		conn:     conn,
		portName: name,
		timeout:  defaultTimeout,
	}
}

func reverseBits(b byte) byte {
	var out byte
	for range 8 {
		out = out<<1 | b&1
		b >>= 1
	}
	return out
}

func reverseAll(dst, src []byte) {
	for i, b := range src {
		dst[i] = reverseBits(b)
	}
}

// tx runs one full-duplex transaction: the operation byte followed by
// payload, or by n clocked-out zeros when reading. It returns the bytes
// received after the operation byte.
func (t *Transport) tx(op byte, payload []byte, n int) ([]byte, error) {
	size := 1 + max(len(payload), n)
	w := make([]byte, size)
	r := make([]byte, size)
	w[0] = reverseBits(op)
	reverseAll(w[1:], payload)
	if err := t.conn.Tx(w, r); err != nil {
		return nil, err
	}
	out := r[1 : 1+n]
	reverseAll(out, out)
	return out, nil
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
	if t.conn == nil {
		return nil, pn532.NewTransportError("send", t.portName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}

	raw, err := frame.Build(frame.HostToPn532, append([]byte{cmd}, args...))
	if err != nil {
		return nil, pn532.NewDataTooLargeError("sendFrame", t.portName)
	}
	if _, err := t.tx(opDataWrite, raw, 0); err != nil {
		return nil, fmt.Errorf("failed to send SPI frame: %w", err)
	}

	ack, err := t.readFrame(ctx, ackTimeout, len(frame.AckFrame))
	if err != nil {
		if errors.Is(err, pn532.ErrTransportTimeout) {
			return nil, pn532.NewNoACKError("waitAck", t.portName)
		}
		return nil, err
	}
	if f, _, err := frame.Decode(ack, frame.Pn532ToHost); err != nil || f.Kind != frame.KindAck {
		if err == nil && f.Kind == frame.KindNack {
			return nil, pn532.NewNACKReceivedError("waitAck", t.portName)
		}
		return nil, pn532.NewFrameCorruptedError("waitAck", t.portName)
	}

	for nacks := 0; ; nacks++ {
		buf, err := t.readFrame(ctx, t.timeout, readSize)
		if err != nil {
			return nil, err
		}
		f, _, err := frame.Decode(buf, frame.Pn532ToHost)
		switch {
		case errors.Is(err, frame.ErrDataChecksum), errors.Is(err, frame.ErrLengthChecksum),
			errors.Is(err, frame.ErrIncomplete):
			if nacks == maxNACKs {
				return nil, pn532.NewChecksumMismatchError("receive", t.portName)
			}
			if _, err := t.tx(opDataWrite, frame.NackFrame, 0); err != nil {
				return nil, fmt.Errorf("failed to send NACK: %w", err)
			}
		case err != nil:
			return nil, pn532.NewFrameCorruptedError("receive", t.portName)
		case f.Kind == frame.KindError:
			return nil, pn532.NewSyntaxError("receive", t.portName)
		case f.Kind != frame.KindData || len(f.Payload) == 0 || f.Payload[0] != cmd+1:
			return nil, pn532.NewInvalidResponseError("receive", t.portName)
		default:
			return f.Payload, nil
		}
	}
}

// readFrame polls the status register until the chip has output ready and
// then clocks out n bytes of it.
func (t *Transport) readFrame(ctx context.Context, timeout time.Duration, n int) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		status, err := t.tx(opStatRead, nil, 1)
		if err != nil {
			return nil, fmt.Errorf("SPI status read failed: %w", err)
		}
		if status[0]&statusReady != 0 {
			break
		}
		if time.Now().After(deadline) {
			return nil, pn532.NewTimeoutError("receive", t.portName)
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return nil, err
		}
	}

	buf, err := t.tx(opDataRead, nil, n)
	if err != nil {
		return nil, fmt.Errorf("SPI frame read failed: %w", err)
	}
	return buf, nil
}

func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("invalid SPI timeout %v", timeout)
	}
	t.mu.Do(func() { t.timeout = timeout })
	return nil
}

// Close releases the port when New opened it.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = nil
	if t.closer == nil {
		return nil
	}
	err := t.closer.Close()
	t.closer = nil
	if err != nil {
		return fmt.Errorf("SPI close failed: %w", err)
	}
	return nil
}

func (t *Transport) IsConnected() bool {
	var ok bool
	t.mu.Do(func() { ok = t.conn != nil })
	return ok
}

func (*Transport) Type() pn532.TransportType {
	return pn532.TransportSPI
}

var _ pn532.Transport = (*Transport)(nil)
