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

package pn532

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// MockTransport is a scripted Transport for tests.
type MockTransport struct {
	responses map[byte][]byte
	errorMap  map[byte]error
	handlers  map[byte]func(args []byte) ([]byte, error)
	callCount map[byte]int
	lastArgs  map[byte][]byte
	timeout   time.Duration
	delay     time.Duration
	mu        syncutil.RWMutex
	connected bool
}

// NewMockTransport returns a connected mock that answers every command
// with its bare response code.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses: make(map[byte][]byte),
		errorMap:  make(map[byte]error),
		handlers:  make(map[byte]func([]byte) ([]byte, error)),
		callCount: make(map[byte]int),
		lastArgs:  make(map[byte][]byte),
		timeout:   time.Second,
		connected: true,
	}
}

func (m *MockTransport) SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		connected bool
		delay     time.Duration
	)
	m.mu.Read(func() { connected, delay = m.connected, m.delay })
	if !connected {
		return nil, ErrTransportClosed
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var (
		handler  func([]byte) ([]byte, error)
		resp     []byte
		err      error
		scripted bool
	)
	m.mu.Write(func() {
		m.callCount[cmd]++
		m.lastArgs[cmd] = append([]byte(nil), args...)
		handler = m.handlers[cmd]
		if e, ok := m.errorMap[cmd]; ok {
			err, scripted = e, true
			return
		}
		if r, ok := m.responses[cmd]; ok {
			resp, scripted = append([]byte(nil), r...), true
		}
	})
	if handler != nil && !scripted {
		return handler(args)
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}
	return []byte{cmd + 1}, nil
}

func (m *MockTransport) Close() error {
	m.mu.Write(func() { m.connected = false })
	return nil
}

func (m *MockTransport) SetTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("invalid timeout %v", timeout)
	}
	m.mu.Write(func() { m.timeout = timeout })
	return nil
}

// Timeout returns the last timeout set.
func (m *MockTransport) Timeout() time.Duration {
	var d time.Duration
	m.mu.Read(func() { d = m.timeout })
	return d
}

func (m *MockTransport) IsConnected() bool {
	var c bool
	m.mu.Read(func() { c = m.connected })
	return c
}

func (*MockTransport) Type() TransportType {
	return TransportMock
}

// SetResponse scripts the payload, starting with the response code,
// returned for cmd.
func (m *MockTransport) SetResponse(cmd byte, response []byte) {
	m.mu.Write(func() { m.responses[cmd] = response })
}

// SetError makes cmd fail with err until ClearError.
func (m *MockTransport) SetError(cmd byte, err error) {
	m.mu.Write(func() { m.errorMap[cmd] = err })
}

func (m *MockTransport) ClearError(cmd byte) {
	m.mu.Write(func() { delete(m.errorMap, cmd) })
}

// SetHandler answers cmd with fn unless a response or error is scripted.
func (m *MockTransport) SetHandler(cmd byte, fn func(args []byte) ([]byte, error)) {
	m.mu.Write(func() { m.handlers[cmd] = fn })
}

// SetDelay delays every answer.
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Write(func() { m.delay = delay })
}

// CallCount returns how many times cmd was sent.
func (m *MockTransport) CallCount(cmd byte) int {
	var n int
	m.mu.Read(func() { n = m.callCount[cmd] })
	return n
}

// LastArgs returns the arguments of the latest cmd.
func (m *MockTransport) LastArgs(cmd byte) []byte {
	var a []byte
	m.mu.Read(func() { a = append([]byte(nil), m.lastArgs[cmd]...) })
	return a
}

var _ Transport = (*MockTransport)(nil)
