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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events. Zero fields match everything.
type Filter struct {
	TimeStart *time.Time
	TimeEnd   *time.Time
	Source    string
	Tech      string
	Op        string
	// FailedOnly keeps exchanges that returned an error.
	FailedOnly bool
}

func (f *Filter) matches(ev *Event) bool {
	if f.Source != "" && ev.Source != f.Source {
		return false
	}
	if f.Tech != "" && !strings.EqualFold(ev.Tech, f.Tech) {
		return false
	}
	if f.Op != "" && !strings.EqualFold(ev.Op, f.Op) {
		return false
	}
	if f.FailedOnly && !ev.Failed() {
		return false
	}
	if f.TimeStart != nil && ev.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !ev.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

// Reader streams events from a capture file.
type Reader struct {
	closer  io.Closer
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader reads every event in path.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader reads the events in path that match filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path) //nolint:gosec // user-chosen capture path
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r := NewStreamReader(f, filter)
	r.closer = f
	return r, nil
}

// NewStreamReader reads events from r. Close does not close r.
func NewStreamReader(r io.Reader, filter Filter) *Reader {
	return &Reader{decoder: newDecoder(r), filter: filter}
}

// Next returns the next matching event, or io.EOF.
func (r *Reader) Next() (Event, error) {
	for {
		var ev Event
		if err := r.decoder.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("failed to decode capture event: %w", err)
		}
		if r.filter.matches(&ev) {
			return ev, nil
		}
	}
}

// All reads every remaining matching event.
func (r *Reader) All() ([]Event, error) {
	var out []Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
