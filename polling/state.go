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
	"slices"
	"time"
)

// CardDetectionState represents the current state of card detection
type CardDetectionState int

const (
	// StateIdle - no card present
	StateIdle CardDetectionState = iota
	// StateResolving - a pass is running
	StateResolving
	// StatePresent - the last pass found cards
	StatePresent
)

func (s CardDetectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePresent:
		return "present"
	default:
		return "unknown"
	}
}

// CardState tracks the cards in the field between passes.
type CardState struct {
	LastSeenTime time.Time
	// LastIDs are the sorted keys of the cards last seen.
	LastIDs        []string
	DetectionState CardDetectionState
	// resumeState is restored when a pass ends without finding cards.
	resumeState CardDetectionState
	Present     bool
}

// TransitionToResolving marks a pass as running.
func (cs *CardState) TransitionToResolving() {
	if cs.DetectionState != StateResolving {
		cs.resumeState = cs.DetectionState
	}
	cs.DetectionState = StateResolving
}

// TransitionToPresent records the cards found at now.
func (cs *CardState) TransitionToPresent(ids []string, now time.Time) {
	cs.DetectionState = StatePresent
	cs.Present = true
	cs.LastIDs = slices.Clone(ids)
	cs.LastSeenTime = now
}

// TransitionToIdle forgets every card.
func (cs *CardState) TransitionToIdle() {
	cs.DetectionState = StateIdle
	cs.resumeState = StateIdle
	cs.Present = false
	cs.LastIDs = nil
	cs.LastSeenTime = time.Time{}
}

// EndEmptyPass restores the state held before the pass started.
func (cs *CardState) EndEmptyPass() {
	if cs.DetectionState == StateResolving {
		cs.DetectionState = cs.resumeState
	}
}

// RemovalDue reports whether the cards have been missing for timeout.
func (cs *CardState) RemovalDue(now time.Time, timeout time.Duration) bool {
	return cs.Present && now.Sub(cs.LastSeenTime) >= timeout
}

// Changed reports whether ids differ from the cards last seen.
func (cs *CardState) Changed(ids []string) bool {
	return !slices.Equal(cs.LastIDs, ids)
}
