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

// Package uart is the PN532 HSU (high speed UART) transport.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
	"github.com/ZaparooProject/go-nfcdisc/pn532"
)

const (
	baudRate = 115200
	// ackTimeout bounds the wait for the ACK, which the chip sends within
	// a millisecond of a well-formed frame.
	ackTimeout     = 100 * time.Millisecond
	defaultTimeout = time.Second
	maxNACKs       = 3
	idleBackoff    = time.Millisecond
)

// wakeSequence takes the chip out of power down: 0x55 followed by enough
// idle bytes for the oscillator to start.
var wakeSequence = []byte{
	0x55, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var errDeadline = errors.New("deadline")

// Port is the subset of serial.Port the transport needs.
type Port interface {
	io.ReadWriter
	Drain() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Transport implements pn532.Transport over a serial port.
type Transport struct {
	port     Port
	dec      *frame.Decoder
	portName string
	buf      [frame.MaxDataLength + 16]byte
	timeout  time.Duration
	mu       syncutil.Mutex
	closed   bool
}

func isWindows() bool {
	return runtime.GOOS == "windows"
}

// readPoll is the serial read timeout. Windows drivers need longer.
func readPoll() time.Duration {
	if isWindows() {
		return 100 * time.Millisecond
	}
	return 50 * time.Millisecond
}

func windowsPostWriteDelay() {
	if isWindows() {
		time.Sleep(15 * time.Millisecond)
	}
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// New opens portName at 115200 8N1.
func New(portName string) (*Transport, error) {
	port, err := serial.Open(portName, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open UART port %s: %w", portName, err)
	}
	t, err := NewWithPort(port, portName)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return t, nil
}

// NewWithPort wraps an already open port.
func NewWithPort(port Port, name string) (*Transport, error) {
	if err := port.SetReadTimeout(readPoll()); err != nil {
		return nil, fmt.Errorf("failed to set UART read timeout: %w", err)
	}
	return &Transport{
		port:     port,
		portName: name,
		dec:      frame.NewDecoder(frame.Pn532ToHost),
		timeout:  defaultTimeout,
	}, nil
}

// SendCommand wakes the chip, sends the command frame, waits for the ACK
// and then for the response. A response with a bad checksum is NACKed and
// read again.
func (t *Transport) SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.port == nil {
		return nil, pn532.NewTransportError("send", t.portName, pn532.ErrTransportClosed, pn532.ErrorTypePermanent)
	}

	raw, err := frame.Build(frame.HostToPn532, append([]byte{cmd}, args...))
	if err != nil {
		return nil, pn532.NewDataTooLargeError("sendFrame", t.portName)
	}

	t.dec.Reset()
	if err := t.write(wakeSequence, "wakeUp"); err != nil {
		return nil, err
	}
	if err := t.write(raw, "sendFrame"); err != nil {
		return nil, err
	}
	windowsPostWriteDelay()

	res, err := t.waitAck(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res == nil {
		if res, err = t.receive(ctx, cmd); err != nil {
			return nil, err
		}
	}
	if err := t.write(frame.AckFrame, "sendAck"); err != nil {
		return nil, err
	}
	return res, nil
}

// waitAck reads until the ACK arrives. Some bridges deliver the response
// before the ACK; such a response is returned directly.
func (t *Transport) waitAck(ctx context.Context, cmd byte) ([]byte, error) {
	deadline := time.Now().Add(ackTimeout)
	for {
		f, err := t.dec.Next()
		switch {
		case errors.Is(err, frame.ErrIncomplete):
			if err := t.fill(ctx, deadline); err != nil {
				if errors.Is(err, errDeadline) {
					return nil, pn532.NewNoACKError("waitAck", t.portName)
				}
				return nil, err
			}
		case err != nil:
			// line noise before the ACK
		case f.Kind == frame.KindAck:
			return nil, nil
		case f.Kind == frame.KindError:
			return nil, pn532.NewSyntaxError("waitAck", t.portName)
		case f.Kind == frame.KindData && len(f.Payload) > 0 && f.Payload[0] == cmd+1:
			return f.Payload, nil
		}
	}
}

func (t *Transport) receive(ctx context.Context, cmd byte) ([]byte, error) {
	deadline := time.Now().Add(t.timeout)
	nacks := 0
	for {
		f, err := t.dec.Next()
		switch {
		case errors.Is(err, frame.ErrIncomplete):
			if err := t.fill(ctx, deadline); err != nil {
				if errors.Is(err, errDeadline) {
					return nil, pn532.NewTimeoutError("receive", t.portName)
				}
				return nil, err
			}
		case errors.Is(err, frame.ErrDataChecksum), errors.Is(err, frame.ErrLengthChecksum):
			if nacks == maxNACKs {
				return nil, pn532.NewChecksumMismatchError("receive", t.portName)
			}
			nacks++
			if err := t.write(frame.NackFrame, "sendNack"); err != nil {
				return nil, err
			}
		case err != nil:
			// frame for another host identifier
		case f.Kind == frame.KindError:
			return nil, pn532.NewSyntaxError("receive", t.portName)
		case f.Kind == frame.KindData && len(f.Payload) > 0 && f.Payload[0] == cmd+1:
			return f.Payload, nil
		}
	}
}

// fill reads one chunk into the decoder.
func (t *Transport) fill(ctx context.Context, deadline time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if time.Now().After(deadline) {
		return errDeadline
	}
	n, err := t.port.Read(t.buf[:])
	if err != nil && !isInterruptedSystemCall(err) {
		return fmt.Errorf("UART read failed: %w", err)
	}
	if n == 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(idleBackoff):
		}
		return nil
	}
	_, _ = t.dec.Write(t.buf[:n])
	return nil
}

func (t *Transport) write(data []byte, op string) error {
	n, err := t.port.Write(data)
	if err != nil {
		return fmt.Errorf("UART %s write failed: %w", op, err)
	}
	if n != len(data) {
		return pn532.NewTransportWriteError(op, t.portName)
	}
	return t.drainWithRetry(op)
}

func isInterruptedSystemCall(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "interrupted system call") || strings.Contains(s, "eintr")
}

// drainWithRetry waits for the output buffer to empty, retrying calls
// interrupted by signals.
func (t *Transport) drainWithRetry(op string) error {
	const maxRetries = 3
	delay := 2 * time.Millisecond

	for attempt := range maxRetries {
		err := t.port.Drain()
		if err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) || attempt == maxRetries-1 {
			return fmt.Errorf("UART %s drain failed: %w", op, err)
		}
		time.Sleep(delay << attempt)
	}
	return nil
}

// SetTimeout sets how long to wait for a response after the ACK.
func (t *Transport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("invalid UART timeout %v", timeout)
	}
	t.mu.Do(func() { t.timeout = timeout })
	return nil
}

// Close closes the port. Later commands fail with pn532.ErrTransportClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.port == nil {
		return nil
	}
	t.closed = true
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("UART close failed: %w", err)
	}
	return nil
}

func (t *Transport) IsConnected() bool {
	var ok bool
	t.mu.Do(func() { ok = t.port != nil && !t.closed })
	return ok
}

func (*Transport) Type() pn532.TransportType {
	return pn532.TransportUART
}

var _ pn532.Transport = (*Transport)(nil)
