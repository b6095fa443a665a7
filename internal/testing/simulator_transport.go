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

package testing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// ErrSimulatorClosed is returned after Close.
var ErrSimulatorClosed = errors.New("simulator transport closed")

// CommandLogEntry records a command sent through the transport.
type CommandLogEntry struct {
	Timestamp time.Time
	Args      []byte
	Cmd       byte
}

// SimulatorTransport drives a VirtualPN532 through the real frame codec,
// the way a serial transport would. Its method set matches the PN532
// transport interface except for Type, which callers supply.
type SimulatorTransport struct {
	sim     *VirtualPN532
	log     []CommandLogEntry
	timeout time.Duration
	mu      syncutil.Mutex
	closed  bool
}

// NewSimulatorTransport returns a transport bound to sim.
func NewSimulatorTransport(sim *VirtualPN532) *SimulatorTransport {
	return &SimulatorTransport{
		sim:     sim,
		timeout: time.Second,
	}
}

// SendCommand writes a command frame, expects an ACK and returns the
// response payload starting with the response code (cmd+1).
func (t *SimulatorTransport) SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSimulatorClosed
	}
	t.log = append(t.log, CommandLogEntry{
		Cmd:       cmd,
		Args:      append([]byte(nil), args...),
		Timestamp: time.Now(),
	})

	raw, err := frame.Build(frame.HostToPn532, append([]byte{cmd}, args...))
	if err != nil {
		return nil, fmt.Errorf("build frame: %w", err)
	}
	if _, err := t.sim.Write(raw); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}

	dec := frame.NewDecoder(frame.Pn532ToHost)
	buf := make([]byte, 512)
	n, _ := t.sim.Read(buf)
	_, _ = dec.Write(buf[:n])

	ack, err := dec.Next()
	if err != nil || ack.Kind != frame.KindAck {
		return nil, fmt.Errorf("expected ACK for command 0x%02X", cmd)
	}

	for range 2 {
		resp, err := dec.Next()
		switch {
		case err == nil && resp.Kind == frame.KindData:
			return resp.Payload, nil
		case err == nil && resp.Kind == frame.KindError:
			return nil, fmt.Errorf("error frame for command 0x%02X", cmd)
		case errors.Is(err, frame.ErrDataChecksum):
			// ask for the frame again
			if _, werr := t.sim.Write(frame.NackFrame); werr != nil {
				return nil, fmt.Errorf("write NACK: %w", werr)
			}
			n, _ = t.sim.Read(buf)
			_, _ = dec.Write(buf[:n])
		default:
			return nil, fmt.Errorf("read response: %w", err)
		}
	}
	return nil, fmt.Errorf("response to 0x%02X: %w", cmd, frame.ErrDataChecksum)
}

// SetTimeout records the timeout; the simulator answers synchronously.
func (t *SimulatorTransport) SetTimeout(timeout time.Duration) error {
	t.mu.Do(func() { t.timeout = timeout })
	return nil
}

// Timeout returns the last timeout set.
func (t *SimulatorTransport) Timeout() time.Duration {
	var d time.Duration
	t.mu.Do(func() { d = t.timeout })
	return d
}

// Close makes later commands fail.
func (t *SimulatorTransport) Close() error {
	t.mu.Do(func() { t.closed = true })
	return nil
}

// Simulator returns the chip behind the transport.
func (t *SimulatorTransport) Simulator() *VirtualPN532 {
	return t.sim
}

// CommandLog returns the commands sent so far.
func (t *SimulatorTransport) CommandLog() []CommandLogEntry {
	var out []CommandLogEntry
	t.mu.Do(func() { out = append(out, t.log...) })
	return out
}

// CommandCount returns how many times cmd was sent.
func (t *SimulatorTransport) CommandCount(cmd byte) int {
	n := 0
	t.mu.Do(func() {
		for _, e := range t.log {
			if e.Cmd == cmd {
				n++
			}
		}
	})
	return n
}
