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
	"strings"
)

// Tech identifies a proximity card technology.
type Tech uint8

const (
	// TechA is ISO/IEC 14443 Type A.
	TechA Tech = 1 << iota
	// TechB is ISO/IEC 14443 Type B.
	TechB
	// TechV is ISO/IEC 15693 (vicinity).
	TechV
)

func (t Tech) String() string {
	switch t {
	case TechA:
		return "A"
	case TechB:
		return "B"
	case TechV:
		return "V"
	default:
		return fmt.Sprintf("tech(%d)", uint8(t))
	}
}

// ParseTech accepts "A", "B" or "V" in any case, optionally prefixed with
// "type" (e.g. "TypeB").
func ParseTech(s string) (Tech, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "TYPE")
	name = strings.TrimSpace(strings.TrimPrefix(name, "-"))
	switch name {
	case "A":
		return TechA, nil
	case "B":
		return TechB, nil
	case "V":
		return TechV, nil
	default:
		return 0, fmt.Errorf("%w: unknown technology %q", ErrInvalidConfig, s)
	}
}

// TechSet is a set of technologies.
type TechSet uint8

func (ts TechSet) Has(t Tech) bool { return uint8(ts)&uint8(t) != 0 }

func (ts *TechSet) Add(t Tech) { *ts |= TechSet(t) }

func (ts *TechSet) Remove(t Tech) { *ts &^= TechSet(t) }

// Presence is the result of a single-probe detection.
type Presence int

const (
	NotPresent Presence = iota
	Present
)

func (p Presence) String() string {
	if p == Present {
		return "present"
	}
	return "not present"
}

// Status maps a detection result onto the status codes surfaced to the
// orchestrator.
func (p Presence) Status() Status {
	if p == Present {
		return StatusTechnologyDetected
	}
	return StatusSuccess
}

// Technology is one card technology's detection, collision resolution and
// activation. Implementations are registered with an Engine.
type Technology interface {
	Tech() Tech
	Detect(ctx context.Context, s *Session) (Presence, error)
	ResolveCollisions(ctx context.Context, s *Session, policy Policy) (*Resolution, error)
	Activate(ctx context.Context, s *Session, index int, req ActivationRequest) (*ProtocolParameters, error)
}

// Resolution is the outcome of a successful collision resolution pass.
type Resolution struct {
	Candidates       []Candidate
	Status           Status
	SlotCount        int
	Rounds           int
	Tech             Tech
	CollisionPending bool
}
