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

import "time"

// Session sizing.
const (
	// DefaultMaxCards is the candidate capacity used when none is configured.
	DefaultMaxCards = 4
	// HistorySize is the number of exchanges a session keeps for error traces.
	HistorySize = 16
)

// Compliance retry constants control the initial wake under the payment
// compliance policy.
const (
	// DefaultWakeRetries is the number of times a timed-out initial wake is
	// re-sent before the pass reports Timeout.
	DefaultWakeRetries = 2
	// DefaultRetransmissionDelay is the minimum wait between two wake
	// attempts (EMVCo tRETRANSMISSION).
	DefaultRetransmissionDelay = 3 * time.Millisecond
	// DefaultComplianceFrameSize is the largest reader frame the compliance
	// policy negotiates.
	DefaultComplianceFrameSize = FSD256
)

// Slot limits. Slot counts are 1 << exponent.
const (
	// MaxSlotExponentB allows up to 16 slots for Type B (ISO/IEC 14443-3 N=16).
	MaxSlotExponentB uint8 = 4
	// MaxSlotExponentV is the 16-slot inventory of ISO/IEC 15693.
	MaxSlotExponentV uint8 = 4
	// MaxCascadeLevels is the deepest Type A cascade (triple size UID).
	MaxCascadeLevels = 3
)
