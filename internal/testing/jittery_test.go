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
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback reports an empty buffer as no data rather than EOF, like a
// serial port with nothing pending.
type loopback struct {
	bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error) {
	if l.Len() == 0 {
		return 0, nil
	}
	return l.Buffer.Read(p)
}

func TestJitteryConn_NoLossNoReorder(t *testing.T) {
	t.Parallel()

	src := make([]byte, 300)
	for i := range src {
		src[i] = byte(i)
	}
	lb := &loopback{}
	lb.Write(src)

	j := NewJitteryConn(lb, JitterConfig{FragmentMin: 1, Seed: 7})
	var got []byte
	buf := make([]byte, 64)
	for len(got) < len(src) {
		n, err := j.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, src, got)
	assert.Zero(t, j.Buffered())
}

func TestJitteryConn_Fragments(t *testing.T) {
	t.Parallel()

	lb := &loopback{}
	lb.Write(bytes.Repeat([]byte{0xAA}, 100))

	j := NewJitteryConn(lb, JitterConfig{FragmentMin: 1, Seed: 42})
	buf := make([]byte, 100)
	reads := 0
	total := 0
	for total < 100 {
		n, err := j.Read(buf)
		require.NoError(t, err)
		require.Positive(t, n)
		total += n
		reads++
	}
	assert.Greater(t, reads, 1)
}

func TestJitteryConn_USBBoundaries(t *testing.T) {
	t.Parallel()

	lb := &loopback{}
	lb.Write(make([]byte, 200))

	j := NewJitteryConn(lb, JitterConfig{USBBoundaries: true, Seed: 1})
	buf := make([]byte, 200)
	n, err := j.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	n, err = j.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 64, n)
}

func TestJitteryConn_Latency(t *testing.T) {
	t.Parallel()

	lb := &loopback{}
	j := NewJitteryConn(lb, JitterConfig{MaxLatency: time.Millisecond, Seed: 3})
	start := time.Now()
	for range 5 {
		n, err := j.Read(make([]byte, 8))
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestJitteryConn_WithVirtualPN532(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532(NewVirtualField())
	j := NewJitteryConn(sim, DefaultJitterConfig())

	_, err := j.Write([]byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00})
	require.NoError(t, err)

	var got []byte
	buf := make([]byte, 32)
	deadline := time.Now().Add(time.Second)
	for len(got) < 6+12 && time.Now().Before(deadline) {
		n, err := j.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	require.Len(t, got, 18)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}, got[:6])
	assert.Equal(t, []byte{0xD5, 0x03, 0x32, 0x01, 0x06, 0x07}, got[11:17])
}
