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

package capture

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// FileLogger appends CBOR events to a file.
type FileLogger struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      syncutil.Mutex
	dropped int
	closed  bool
}

// NewFileLogger opens path for appending, creating it if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // user-chosen capture path
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	return &FileLogger{file: f, encoder: newEncoder(f)}, nil
}

// Log writes ev. Events that fail to encode are counted, not returned.
func (l *FileLogger) Log(ev Event) {
	l.mu.Do(func() {
		if l.closed {
			return
		}
		if err := l.encoder.Encode(ev); err != nil {
			l.dropped++
		}
	})
}

// Dropped returns how many events could not be written.
func (l *FileLogger) Dropped() int {
	var n int
	l.mu.Do(func() { n = l.dropped })
	return n
}

// Close closes the file. Later calls to Log are ignored.
func (l *FileLogger) Close() error {
	var err error
	l.mu.Do(func() {
		if l.closed {
			return
		}
		l.closed = true
		err = l.file.Close()
	})
	return err
}

var _ Logger = (*FileLogger)(nil)
