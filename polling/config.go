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

// Package polling runs discovery passes continuously and tracks which cards
// are in the field.
package polling

import (
	"time"

	"github.com/ZaparooProject/go-nfcdisc"
)

// SleepRecoveryConfig controls recovery after the host was suspended.
type SleepRecoveryConfig struct {
	// Enabled enables sleep detection and recovery attempts
	Enabled bool

	// TimeDiscontinuityThreshold is how much longer than the poll interval
	// a gap between passes must be to count as a sleep. Default: 2 seconds
	TimeDiscontinuityThreshold time.Duration

	// MaxRecoveryAttempts is the number of recovery attempts before
	// treating as a fatal error. Default: 3
	MaxRecoveryAttempts int

	// RecoveryBackoff is the delay between recovery attempts
	RecoveryBackoff time.Duration
}

// DefaultSleepRecoveryConfig returns sensible defaults for sleep recovery.
func DefaultSleepRecoveryConfig() SleepRecoveryConfig {
	return SleepRecoveryConfig{
		Enabled:                    true,
		TimeDiscontinuityThreshold: 2 * time.Second,
		MaxRecoveryAttempts:        3,
		RecoveryBackoff:            500 * time.Millisecond,
	}
}

// DetectSleep reports whether elapsed is too long to be a normal gap
// between two passes.
func (cfg SleepRecoveryConfig) DetectSleep(elapsed, pollInterval time.Duration) bool {
	if !cfg.Enabled {
		return false
	}
	return elapsed > pollInterval+cfg.TimeDiscontinuityThreshold
}

// Config configures a Loop.
type Config struct {
	// Technologies are polled in order. Empty means every technology the
	// engine has primitives for.
	Technologies []nfcdisc.Tech

	PollInterval time.Duration

	// IdleInterval replaces PollInterval once no card has been seen for
	// IdleAfter. Zero keeps PollInterval.
	IdleInterval time.Duration
	IdleAfter    time.Duration

	// CardRemovalTimeout is how long a card may be missing from passes
	// before it is reported removed.
	CardRemovalTimeout time.Duration

	// MaxFieldResets bounds the field resets one pass may do to clear a
	// pending collision.
	MaxFieldResets int

	SleepRecovery SleepRecoveryConfig

	// Activate activates the first candidate of each technology.
	Activate bool
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       250 * time.Millisecond,
		IdleInterval:       500 * time.Millisecond,
		IdleAfter:          5 * time.Second,
		CardRemovalTimeout: 600 * time.Millisecond,
		MaxFieldResets:     2,
		SleepRecovery:      DefaultSleepRecoveryConfig(),
	}
}
