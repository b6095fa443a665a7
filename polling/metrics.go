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

package polling

import (
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of a Loop's counters.
type Metrics struct {
	Passes          int64         // Passes run
	PassErrors      int64         // Passes that ended with an error
	CardsDetected   int64         // Cards reported by passes, counted per pass
	Collisions      int64         // Resolutions that ended with a collision pending
	FieldResets     int64         // Field resets done to clear a collision
	Activations     int64         // Successful activations
	CallbackErrors  int64         // Callbacks that failed or panicked
	Recoveries      int64         // Successful reader recoveries
	LastPassLatency time.Duration // Duration of the last pass
}

type counters struct {
	passes          atomic.Int64
	passErrors      atomic.Int64
	cardsDetected   atomic.Int64
	collisions      atomic.Int64
	fieldResets     atomic.Int64
	activations     atomic.Int64
	callbackErrors  atomic.Int64
	recoveries      atomic.Int64
	lastPassLatency atomic.Int64
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		Passes:          c.passes.Load(),
		PassErrors:      c.passErrors.Load(),
		CardsDetected:   c.cardsDetected.Load(),
		Collisions:      c.collisions.Load(),
		FieldResets:     c.fieldResets.Load(),
		Activations:     c.activations.Load(),
		CallbackErrors:  c.callbackErrors.Load(),
		Recoveries:      c.recoveries.Load(),
		LastPassLatency: time.Duration(c.lastPassLatency.Load()),
	}
}
