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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// FieldResetter cycles the RF carrier, returning every card to its
// power-on state.
type FieldResetter interface {
	ResetField(ctx context.Context) error
}

// DeviceRecoverer handles reader recovery after sleep/wake or a lost link.
type DeviceRecoverer interface {
	// AttemptRecovery returns nil once the reader answers again.
	AttemptRecovery(ctx context.Context) error
}

// ErrNoRecoveryTier means a recoverer has neither a field resetter nor a
// reopen func, so it cannot act.
var ErrNoRecoveryTier = errors.New("polling: no recovery tier configured")

// ReopenFunc re-initializes the reader, for example pn532.Reader.Init.
type ReopenFunc func(ctx context.Context) error

// DefaultRecoverer first cycles the field and, if that fails, reopens the
// reader.
type DefaultRecoverer struct {
	resetter    FieldResetter
	reopenFunc  ReopenFunc
	backoff     time.Duration
	maxAttempts int
	attempts    int
	mu          syncutil.Mutex
}

// NewDefaultRecoverer creates a recoverer. Zero values select 3 attempts
// and a 500ms backoff.
func NewDefaultRecoverer(
	resetter FieldResetter,
	reopenFunc ReopenFunc,
	backoff time.Duration,
	maxAttempts int,
) *DefaultRecoverer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &DefaultRecoverer{
		resetter:    resetter,
		reopenFunc:  reopenFunc,
		backoff:     backoff,
		maxAttempts: maxAttempts,
	}
}

// AttemptRecovery tries a field reset, then a reopen, up to maxAttempts
// times.
func (r *DefaultRecoverer) AttemptRecovery(ctx context.Context) error {
	if r.resetter == nil && r.reopenFunc == nil {
		return ErrNoRecoveryTier
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff):
			}
		}
		r.attempts++

		// Tier 1: field reset
		if r.resetter != nil {
			err := r.resetter.ResetField(ctx)
			if err == nil {
				return nil
			}
			lastErr = fmt.Errorf("field reset: %w", err)
		}

		// Tier 2: reinitialize the reader
		if r.reopenFunc != nil {
			err := r.reopenFunc(ctx)
			if err == nil {
				return nil
			}
			lastErr = fmt.Errorf("reopen: %w", err)
		}
	}
	return lastErr
}

// Attempts returns the number of recovery tiers run so far.
func (r *DefaultRecoverer) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
