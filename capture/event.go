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
	"strings"
	"time"

	"github.com/ZaparooProject/go-nfcdisc"
)

// Event is one captured exchange.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// Source names the reader, usually its device path.
	Source string `cbor:"2,keyasint,omitempty"`

	Tech string `cbor:"3,keyasint"`
	Op   string `cbor:"4,keyasint"`

	// Slot is the probed slot; 0 for unslotted commands.
	Slot int `cbor:"5,keyasint,omitempty"`

	Response []byte        `cbor:"6,keyasint,omitempty"`
	Duration time.Duration `cbor:"7,keyasint"`

	// Status is the discovery status the error maps to, empty on success.
	Status string `cbor:"8,keyasint,omitempty"`
	Error  string `cbor:"9,keyasint,omitempty"`
}

// FromExchange converts a session exchange into an Event.
func FromExchange(source string, x nfcdisc.Exchange) Event {
	ev := Event{
		Timestamp: x.Time,
		Source:    source,
		Tech:      x.Tech.String(),
		Op:        x.Op,
		Slot:      x.Slot,
		Duration:  x.Duration,
	}
	if len(x.Response) > 0 {
		ev.Response = append([]byte(nil), x.Response...)
	}
	if x.Err != nil {
		ev.Status = nfcdisc.StatusOf(x.Err).String()
		ev.Error = x.Err.Error()
	}
	return ev
}

// Failed reports whether the exchange returned an error.
func (e *Event) Failed() bool {
	return e.Error != ""
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", e.Timestamp.Format("15:04:05.000000"), e.Tech, e.Op)
	if e.Slot > 0 {
		fmt.Fprintf(&b, " slot %d", e.Slot)
	}
	if e.Failed() {
		fmt.Fprintf(&b, " -> %s (%s)", e.Status, e.Error)
	} else {
		fmt.Fprintf(&b, " -> % X", e.Response)
	}
	fmt.Fprintf(&b, " [%s]", e.Duration)
	return b.String()
}
