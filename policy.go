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
	"fmt"
	"strings"
	"time"
)

// Mode selects the retry and collision regime.
type Mode int

const (
	// ModeGeneric is ordinary ISO/IEC 14443 / NFC Forum discovery.
	ModeGeneric Mode = iota
	// ModeCompliance is the payment (EMVCo) regime.
	ModeCompliance
)

func (m Mode) String() string {
	if m == ModeCompliance {
		return "compliance"
	}
	return "generic"
}

// ParseMode accepts "generic" and "compliance" ("emvco" is an alias).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "generic", "nfc", "iso":
		return ModeGeneric, nil
	case "compliance", "emvco", "emv":
		return ModeCompliance, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, s)
	}
}

// Policy is the strategy that separates generic discovery from the
// compliance regime.
type Policy interface {
	Mode() Mode
	// WakeRetry is the retry budget for the initial wake; nil means a single
	// attempt.
	WakeRetry() *RetryConfig
	// AbortOnInitialCollision ends the pass with CollisionPending when the
	// initial wake collides, so the caller can reset the field.
	AbortOnInitialCollision() bool
	// ClipFrameSize bounds the reader frame size asked for at activation.
	ClipFrameSize(requested FrameSize) FrameSize
	// ForceCIDZero disables card identifiers at activation.
	ForceCIDZero() bool
}

// GenericPolicy never retries and resolves collisions in the slot loop.
type GenericPolicy struct{}

func (GenericPolicy) Mode() Mode { return ModeGeneric }

func (GenericPolicy) WakeRetry() *RetryConfig { return nil }

func (GenericPolicy) AbortOnInitialCollision() bool { return false }

func (GenericPolicy) ClipFrameSize(requested FrameSize) FrameSize { return requested }

func (GenericPolicy) ForceCIDZero() bool { return false }

// CompliancePolicy retries a timed-out initial wake, reports an initial
// collision straight back to the caller and caps the frame size.
type CompliancePolicy struct {
	RetransmissionDelay time.Duration
	WakeRetries         int
	MaxFrameSize        FrameSize
}

// DefaultCompliancePolicy returns the EMVCo defaults.
func DefaultCompliancePolicy() *CompliancePolicy {
	return &CompliancePolicy{
		WakeRetries:         DefaultWakeRetries,
		RetransmissionDelay: DefaultRetransmissionDelay,
		MaxFrameSize:        DefaultComplianceFrameSize,
	}
}

func (*CompliancePolicy) Mode() Mode { return ModeCompliance }

func (p *CompliancePolicy) WakeRetry() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:         1 + max(p.WakeRetries, 0),
		RetransmissionDelay: p.RetransmissionDelay,
	}
}

func (*CompliancePolicy) AbortOnInitialCollision() bool { return true }

func (p *CompliancePolicy) ClipFrameSize(requested FrameSize) FrameSize {
	return min(requested, p.MaxFrameSize)
}

func (*CompliancePolicy) ForceCIDZero() bool { return true }

func policyOrDefault(p Policy) Policy {
	if p == nil {
		return GenericPolicy{}
	}
	return p
}
