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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWaiter struct {
	err   error
	waits []time.Duration
}

func (w *recordingWaiter) Wait(_ context.Context, d time.Duration) error {
	w.waits = append(w.waits, d)
	return w.err
}

func timeoutErr() error { return fmt.Errorf("%w: no answer", ErrTimeout) }

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		config    *RetryConfig
		results   []error
		wantErr   error
		name      string
		wantCalls int
		wantWaits int
	}{
		{
			name:      "nil config runs once",
			results:   []error{timeoutErr()},
			wantErr:   ErrTimeout,
			wantCalls: 1,
		},
		{
			name:      "success on first attempt",
			config:    &RetryConfig{MaxAttempts: 3, RetransmissionDelay: time.Millisecond},
			results:   []error{nil},
			wantCalls: 1,
		},
		{
			name:      "timeouts are retried",
			config:    &RetryConfig{MaxAttempts: 3, RetransmissionDelay: time.Millisecond},
			results:   []error{timeoutErr(), timeoutErr(), nil},
			wantCalls: 3,
			wantWaits: 2,
		},
		{
			name:      "attempts exhausted",
			config:    &RetryConfig{MaxAttempts: 3, RetransmissionDelay: time.Millisecond},
			results:   []error{timeoutErr(), timeoutErr(), timeoutErr()},
			wantErr:   ErrTimeout,
			wantCalls: 3,
			wantWaits: 2,
		},
		{
			name:      "collision is not retried",
			config:    &RetryConfig{MaxAttempts: 3, RetransmissionDelay: time.Millisecond},
			results:   []error{fmt.Errorf("%w: CRC", ErrTransmission)},
			wantErr:   ErrTransmission,
			wantCalls: 1,
		},
		{
			name:      "abort is not retried",
			config:    &RetryConfig{MaxAttempts: 3, RetransmissionDelay: time.Millisecond},
			results:   []error{ErrAborted},
			wantErr:   ErrAborted,
			wantCalls: 1,
		},
		{
			name:      "zero delay skips the wait",
			config:    &RetryConfig{MaxAttempts: 2},
			results:   []error{timeoutErr(), nil},
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := &recordingWaiter{}
			calls := 0
			err := RetryWithConfig(context.Background(), w, tt.config, func() error {
				err := tt.results[calls]
				calls++
				return err
			})

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Len(t, w.waits, tt.wantWaits)
			for _, d := range w.waits {
				assert.Equal(t, tt.config.RetransmissionDelay, d)
			}
		})
	}
}

func TestRetryWithConfigCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, nil, &RetryConfig{MaxAttempts: 3}, func() error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryWithConfigWaitFails(t *testing.T) {
	t.Parallel()

	w := &recordingWaiter{err: ErrAborted}
	calls := 0
	err := RetryWithConfig(context.Background(), w,
		&RetryConfig{MaxAttempts: 3, RetransmissionDelay: time.Millisecond},
		func() error {
			calls++
			return timeoutErr()
		})
	require.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, 1, calls)
}

func TestRetryWithConfigNilWaiterSleeps(t *testing.T) {
	t.Parallel()

	start := time.Now()
	calls := 0
	err := RetryWithConfig(context.Background(), nil,
		&RetryConfig{MaxAttempts: 2, RetransmissionDelay: 5 * time.Millisecond},
		func() error {
			calls++
			if calls == 1 {
				return timeoutErr()
			}
			return nil
		})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestSleepWait(t *testing.T) {
	t.Parallel()

	require.NoError(t, SleepWait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepWait(ctx, time.Hour)
	require.ErrorIs(t, err, ErrAborted)
	assert.True(t, errors.Is(err, context.Canceled))
}
