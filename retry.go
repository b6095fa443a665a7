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

package nfcdisc

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for timed-out exchanges.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int
	// RetransmissionDelay is the minimum wait between two attempts.
	RetransmissionDelay time.Duration
}

// Waiter performs the timed wait between attempts. Transceivers implement it
// so the delay is measured by the link layer.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// RetryWithConfig runs retryFunc until it succeeds, fails with anything but
// a timeout, or the attempts are used up. Aborts are returned immediately and
// are never retried. A nil config runs retryFunc once.
func RetryWithConfig(ctx context.Context, w Waiter, config *RetryConfig, retryFunc RetryableFunc) error {
	if config == nil || config.MaxAttempts <= 1 {
		return retryFunc()
	}
	return executeWithRetry(ctx, w, config, retryFunc)
}

func executeWithRetry(ctx context.Context, w Waiter, config *RetryConfig, retryFunc RetryableFunc) error {
	var lastErr error

	for attempt := range config.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}

		err := retryFunc()
		if err == nil {
			return nil
		}
		if classify(err) != signalEmpty {
			return err
		}
		lastErr = err
		Debugf("attempt %d/%d timed out", attempt+1, config.MaxAttempts)

		if attempt < config.MaxAttempts-1 {
			if err := wait(ctx, w, config.RetransmissionDelay); err != nil {
				return err
			}
		}
	}

	return lastErr
}

func wait(ctx context.Context, w Waiter, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if w == nil {
		return SleepWait(ctx, d)
	}
	return w.Wait(ctx, d)
}

// SleepWait blocks for d or until ctx is done. Transceivers without a
// hardware timer can use it to implement Wait.
func SleepWait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	case <-timer.C:
		return nil
	}
}
