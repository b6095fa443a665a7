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
	"io"
	"math/rand/v2"
	"time"
)

// usbPacket is the full-speed USB bulk packet size of common USB-UART
// bridges (CH340, FTDI).
const usbPacket = 64

// JitterConfig shapes how a JitteryConn delivers bytes.
type JitterConfig struct {
	MaxLatency time.Duration
	// FragmentMin is the smallest fragment a read returns. Zero disables
	// fragmentation.
	FragmentMin int
	Seed        uint64
	// USBBoundaries splits reads at 64 byte packet boundaries.
	USBBoundaries bool
}

// DefaultJitterConfig fragments reads down to single bytes with up to 2ms
// of latency.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatency:  2 * time.Millisecond,
		FragmentMin: 1,
	}
}

// JitteryConn wraps a byte stream and returns reads in random fragments
// after random delays, the way a USB serial bridge does. Writes pass
// through. No byte is ever lost or reordered.
type JitteryConn struct {
	backend io.ReadWriter
	rng     *rand.Rand
	pending []byte
	config  JitterConfig
	read    int
}

func NewJitteryConn(backend io.ReadWriter, config JitterConfig) *JitteryConn {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // test jitter
	}
	return &JitteryConn{
		backend: backend,
		config:  config,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)), //nolint:gosec // test jitter
	}
}

func (j *JitteryConn) Write(p []byte) (int, error) {
	return j.backend.Write(p) //nolint:wrapcheck // pass-through
}

func (j *JitteryConn) Read(p []byte) (int, error) {
	if j.config.MaxLatency > 0 {
		time.Sleep(time.Duration(j.rng.Int64N(int64(j.config.MaxLatency) + 1)))
	}

	if len(j.pending) == 0 {
		tmp := make([]byte, 512)
		n, err := j.backend.Read(tmp)
		if err != nil || n == 0 {
			return 0, err //nolint:wrapcheck // pass-through
		}
		j.pending = append(j.pending, tmp[:n]...)
	}

	n := min(len(j.pending), len(p))
	if j.config.USBBoundaries {
		if left := usbPacket - j.read%usbPacket; left < n {
			n = left
		}
	}
	if j.config.FragmentMin > 0 && n > j.config.FragmentMin {
		n = j.config.FragmentMin + j.rng.IntN(n-j.config.FragmentMin+1)
	}

	copy(p, j.pending[:n])
	j.pending = j.pending[n:]
	j.read += n
	return n, nil
}

// Buffered returns bytes pulled from the backend but not yet delivered.
func (j *JitteryConn) Buffered() int {
	return len(j.pending)
}
