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
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CandidateState is the activation progress of a single candidate.
type CandidateState int

const (
	StateDiscovered CandidateState = iota
	StateReawaking
	StateActivating
	StateActivated
	StateFailed
)

func (s CandidateState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateReawaking:
		return "reawaking"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Candidate is a card singulated during a discovery pass.
type Candidate struct {
	ID                []byte
	SenseRes          []byte
	State             CandidateState
	Tech              Tech
	BitRateCapability byte
	RxRate            BitRate
	TxRate            BitRate
	Sleeping          bool
	Layer4            bool
}

// IDString returns the identifier as upper-case hex.
func (c Candidate) IDString() string {
	return strings.ToUpper(hex.EncodeToString(c.ID))
}

func (c Candidate) String() string {
	mode := "awake"
	if c.Sleeping {
		mode = "sleeping"
	}
	return fmt.Sprintf("%s %s (%s, %s)", c.Tech, c.IDString(), c.State, mode)
}

func (c Candidate) clone() Candidate {
	c.ID = append([]byte(nil), c.ID...)
	c.SenseRes = append([]byte(nil), c.SenseRes...)
	return c
}

// Exchange records one request/response on the RF link.
type Exchange struct {
	Time     time.Time
	Err      error
	Op       string
	Response []byte
	Duration time.Duration
	Slot     int
	Tech     Tech
}

func (x Exchange) String() string {
	outcome := formatHex(x.Response)
	if x.Err != nil {
		outcome = x.Err.Error()
	}
	if x.Slot > 0 {
		return fmt.Sprintf("%s %s slot %d -> %s", x.Tech, x.Op, x.Slot, outcome)
	}
	return fmt.Sprintf("%s %s -> %s", x.Tech, x.Op, outcome)
}

func formatHex(b []byte) string {
	if len(b) == 0 {
		return "(empty)"
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, " ")
}

// ExchangeObserver receives every exchange made through a session.
// Implementations must not block.
type ExchangeObserver interface {
	ObserveExchange(x Exchange)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithObserver attaches an exchange observer to the session.
func WithObserver(o ExchangeObserver) SessionOption {
	return func(s *Session) {
		s.observer = o
	}
}

// WithDeviceLimit overrides the device limit for one technology.
func WithDeviceLimit(t Tech, limit int) SessionOption {
	return func(s *Session) {
		s.limits[t] = limit
	}
}

// Session owns the state of one discovery pass: a fixed-capacity candidate
// list addressed by index, per-technology bookkeeping and the negotiated
// protocol parameters. A Session is not safe for concurrent use.
type Session struct {
	observer   ExchangeObserver
	policy     Policy
	limits     map[Tech]int
	candidates []Candidate
	history    []Exchange
	params     ProtocolParameters
	capacity   int
	latest     int
	retries    int
	rounds     int
	histNext   int
	owner      Tech
	pending    TechSet
	detected   TechSet
	slotExp    uint8
	hasParams  bool
}

// NewSession creates a session holding at most capacity candidates. Every
// technology's device limit defaults to the capacity.
func NewSession(capacity int, opts ...SessionOption) *Session {
	if capacity <= 0 {
		capacity = DefaultMaxCards
	}
	s := &Session{
		capacity:   capacity,
		candidates: make([]Candidate, 0, capacity),
		history:    make([]Exchange, 0, HistorySize),
		limits: map[Tech]int{
			TechA: capacity,
			TechB: capacity,
			TechV: capacity,
		},
		latest: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity is the maximum number of candidates the session can hold.
func (s *Session) Capacity() int { return s.capacity }

// CandidateCount returns the number of candidates found in the current pass.
func (s *Session) CandidateCount() int { return len(s.candidates) }

// Candidate returns a copy of the candidate at index.
func (s *Session) Candidate(index int) (Candidate, error) {
	if err := s.checkIndex(index); err != nil {
		return Candidate{}, err
	}
	return s.candidates[index].clone(), nil
}

// Candidates returns copies of all candidates found in the current pass.
func (s *Session) Candidates() []Candidate {
	out := make([]Candidate, len(s.candidates))
	for i := range s.candidates {
		out[i] = s.candidates[i].clone()
	}
	return out
}

// Owner is the technology whose pass filled the candidate list.
func (s *Session) Owner() Tech { return s.owner }

// CollisionPending reports whether an unresolved collision was seen for t.
func (s *Session) CollisionPending(t Tech) bool { return s.pending.Has(t) }

// Detected reports whether t was detected in this session.
func (s *Session) Detected(t Tech) bool { return s.detected.Has(t) }

// DeviceLimit returns the configured device limit for t.
func (s *Session) DeviceLimit(t Tech) int { return s.limits[t] }

// SlotCount returns the current number of slots per round.
func (s *Session) SlotCount() int { return 1 << s.slotExp }

// Retries returns the number of times a wake was re-issued in this pass.
func (s *Session) Retries() int { return s.retries }

// Rounds returns the number of resolution rounds run in this pass.
func (s *Session) Rounds() int { return s.rounds }

// Policy returns the policy of the last resolution, or nil.
func (s *Session) Policy() Policy { return s.policy }

// Parameters returns the parameters of the last successful activation.
func (s *Session) Parameters() (ProtocolParameters, bool) {
	return s.params, s.hasParams
}

// History returns the most recent exchanges, oldest first.
func (s *Session) History() []Exchange {
	out := make([]Exchange, 0, len(s.history))
	if len(s.history) < HistorySize {
		return append(out, s.history...)
	}
	out = append(out, s.history[s.histNext:]...)
	return append(out, s.history[:s.histNext]...)
}

// Reset discards all state so the session can serve a new pass.
func (s *Session) Reset() {
	s.candidates = s.candidates[:0]
	s.history = s.history[:0]
	s.histNext = 0
	s.pending = 0
	s.detected = 0
	s.owner = 0
	s.slotExp = 0
	s.retries = 0
	s.rounds = 0
	s.latest = -1
	s.policy = nil
	s.params = ProtocolParameters{}
	s.hasParams = false
}

// effectiveLimit is the device limit bounded by capacity.
func (s *Session) effectiveLimit(t Tech) int {
	limit := s.limits[t]
	if limit > s.capacity {
		return s.capacity
	}
	return limit
}

func (s *Session) checkIndex(index int) error {
	if index < 0 || index >= len(s.candidates) {
		return newStatusError(StatusInvalidParameter, ComponentActivator, s.owner, "candidate",
			fmt.Errorf("index %d out of range [0,%d)", index, len(s.candidates)))
	}
	return nil
}

// beginPass resets the per-pass state for a resolution of t.
func (s *Session) beginPass(t Tech, policy Policy) {
	s.candidates = s.candidates[:0]
	s.pending.Remove(t)
	s.owner = t
	s.slotExp = 0
	s.retries = 0
	s.rounds = 0
	s.latest = -1
	s.policy = policy
	s.hasParams = false
}

// seed replaces the candidate list with a single detected candidate.
func (s *Session) seed(c Candidate) {
	s.candidates = append(s.candidates[:0], c)
	s.owner = c.Tech
	s.latest = 0
}

func (s *Session) setPending(t Tech) { s.pending.Add(t) }

func (s *Session) clearPending(t Tech) { s.pending.Remove(t) }

// add records a new candidate. It never grows past capacity.
func (s *Session) add(c Candidate) (int, error) {
	if len(s.candidates) >= s.capacity {
		return -1, newStatusError(StatusInvalidParameter, ComponentResolver, c.Tech, "record",
			fmt.Errorf("candidate capacity %d exceeded", s.capacity))
	}
	s.candidates = append(s.candidates, c)
	s.latest = len(s.candidates) - 1
	return s.latest, nil
}

func (s *Session) setSleeping(index int, sleeping bool) {
	if index >= 0 && index < len(s.candidates) {
		s.candidates[index].Sleeping = sleeping
	}
}

// wakeAll marks every candidate of t awake after a wake-up command that also
// reaches halted cards.
func (s *Session) wakeAll(t Tech) {
	for i := range s.candidates {
		if s.candidates[i].Tech == t {
			s.candidates[i].Sleeping = false
		}
	}
}

func (s *Session) setParameters(p ProtocolParameters) {
	s.params = p
	s.hasParams = true
}

// record stores an exchange in the history ring and forwards it to the
// observer.
func (s *Session) record(x Exchange) {
	if x.Time.IsZero() {
		x.Time = time.Now()
	}
	x.Response = append([]byte(nil), x.Response...)
	if len(s.history) < HistorySize {
		s.history = append(s.history, x)
	} else {
		s.history[s.histNext] = x
		s.histNext = (s.histNext + 1) % HistorySize
	}
	if s.observer != nil {
		s.observer.ObserveExchange(x)
	}
}

// exchange runs fn as one timed, recorded exchange.
func (s *Session) exchange(t Tech, op string, slot int, fn func() ([]byte, error)) ([]byte, error) {
	start := time.Now()
	resp, err := fn()
	s.record(Exchange{
		Time:     start,
		Tech:     t,
		Op:       op,
		Slot:     slot,
		Response: resp,
		Err:      err,
		Duration: time.Since(start),
	})
	return resp, err
}
