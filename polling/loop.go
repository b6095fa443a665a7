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
	"slices"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nfcdisc"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// Card is one card found by a pass.
type Card struct {
	// Params is set when the card was activated.
	Params    *nfcdisc.ProtocolParameters
	Candidate nfcdisc.Candidate
}

// Key identifies the card across passes.
func (c *Card) Key() string {
	return c.Candidate.Tech.String() + ":" + c.Candidate.IDString()
}

// Callbacks are invoked from the loop goroutine. An error returned from
// OnCardsDetected or OnCardsChanged stops Run.
type Callbacks struct {
	OnCardsDetected func(cards []Card) error
	OnCardsChanged  func(cards []Card) error
	OnCardsRemoved  func()
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithFieldResetter lets a pass cycle the field to clear a pending
// collision.
func WithFieldResetter(r FieldResetter) LoopOption {
	return func(l *Loop) { l.resetter = r }
}

// WithRecoverer is used after a sleep or when the reader stops answering.
func WithRecoverer(r DeviceRecoverer) LoopOption {
	return func(l *Loop) { l.recoverer = r }
}

// WithCallbacks sets the presence callbacks.
func WithCallbacks(cb Callbacks) LoopOption {
	return func(l *Loop) { l.callbacks = cb }
}

// Loop repeats discovery passes over the configured technologies.
type Loop struct {
	lastPass  time.Time
	lastCard  time.Time
	engine    *nfcdisc.Engine
	resetter  FieldResetter
	recoverer DeviceRecoverer
	config    *Config
	callbacks Callbacks
	techs     []nfcdisc.Tech
	state     CardState
	metrics   counters
	stateMu   syncutil.RWMutex
	running   atomic.Bool
}

// NewLoop creates a loop over engine. A nil config uses DefaultConfig.
func NewLoop(engine *nfcdisc.Engine, config *Config, opts ...LoopOption) (*Loop, error) {
	if engine == nil {
		return nil, errors.New("polling: engine is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("polling: invalid poll interval %s", config.PollInterval)
	}
	l := &Loop{
		engine: engine,
		config: config,
		techs:  config.Technologies,
	}
	if len(l.techs) == 0 {
		l.techs = engine.Technologies()
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// State returns the current card state.
func (l *Loop) State() CardState {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	st := l.state
	st.LastIDs = slices.Clone(st.LastIDs)
	return st
}

// Metrics returns a snapshot of the loop's counters.
func (l *Loop) Metrics() Metrics {
	return l.metrics.snapshot()
}

// Interval returns the delay before the next pass.
func (l *Loop) Interval() time.Duration {
	cfg := l.config
	if cfg.IdleInterval <= 0 || l.lastCard.IsZero() {
		return cfg.PollInterval
	}
	if time.Since(l.lastCard) > cfg.IdleAfter {
		return cfg.IdleInterval
	}
	return cfg.PollInterval
}

// Run polls until ctx is done, a callback fails, or the reader cannot be
// recovered. Only one Run may be active.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("polling: loop already running")
	}
	defer l.running.Store(false)

	l.lastCard = time.Now()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := l.cycle(ctx); err != nil {
			return err
		}
		timer.Reset(l.Interval())
	}
}

// cycle runs one pass and applies its result to the card state.
func (l *Loop) cycle(ctx context.Context) error {
	now := time.Now()
	if !l.lastPass.IsZero() && l.config.SleepRecovery.DetectSleep(now.Sub(l.lastPass), l.Interval()) {
		nfcdisc.Debugf("polling: %s since last pass, recovering reader", now.Sub(l.lastPass))
		if err := l.recover(ctx); err != nil {
			return err
		}
	}
	l.lastPass = now

	l.stateMu.Lock()
	l.state.TransitionToResolving()
	l.stateMu.Unlock()

	cards, err := l.Pass(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, nfcdisc.ErrAborted) {
			// The reader stopped answering.
			l.stateMu.Lock()
			l.state.EndEmptyPass()
			l.stateMu.Unlock()
			if rerr := l.recover(ctx); rerr != nil {
				return fmt.Errorf("polling: %w (recovery failed: %w)", err, rerr)
			}
			return nil
		}
		nfcdisc.Debugf("polling: pass failed: %v", err)
	}
	if len(cards) == 0 && err != nil {
		// A failed pass says nothing about the field.
		l.stateMu.Lock()
		l.state.EndEmptyPass()
		l.stateMu.Unlock()
		return nil
	}
	return l.process(cards, time.Now())
}

func (l *Loop) recover(ctx context.Context) error {
	if l.recoverer == nil {
		return nil
	}
	err := l.recoverer.AttemptRecovery(ctx)
	switch {
	case errors.Is(err, ErrNoRecoveryTier):
		nfcdisc.Debugln("polling: no recovery tier configured")
		return nil
	case err != nil:
		return err
	}
	l.metrics.recoveries.Add(1)
	return nil
}

// Pass runs detection, collision resolution and, if configured,
// activation for every technology in order. Cards found before an error
// are returned with it. Pass leaves the card state to Run and must not be
// called while Run is active.
func (l *Loop) Pass(ctx context.Context) ([]Card, error) {
	start := time.Now()
	defer func() {
		l.metrics.passes.Add(1)
		l.metrics.lastPassLatency.Store(int64(time.Since(start)))
	}()

	var cards []Card
	for _, tech := range l.techs {
		found, err := l.passTech(ctx, tech)
		cards = append(cards, found...)
		if err != nil {
			l.metrics.passErrors.Add(1)
			return cards, fmt.Errorf("%s: %w", tech, err)
		}
	}
	l.metrics.cardsDetected.Add(int64(len(cards)))

	// An activated card ignores wake commands until it loses power.
	if l.resetter != nil && slices.ContainsFunc(cards, func(c Card) bool { return c.Params != nil }) {
		if err := l.resetter.ResetField(ctx); err != nil {
			return cards, fmt.Errorf("field reset after activation failed: %w", err)
		}
	}
	return cards, nil
}

func (l *Loop) passTech(ctx context.Context, tech nfcdisc.Tech) ([]Card, error) {
	for resets := 0; ; resets++ {
		s := l.engine.NewSession()
		presence, err := l.engine.DetectTechnology(ctx, s, tech)
		if err != nil {
			return nil, err
		}
		if presence == nfcdisc.NotPresent {
			return nil, nil
		}

		res, err := l.engine.ResolveCollisions(ctx, s, tech, nil)
		switch nfcdisc.StatusOf(err) {
		case nfcdisc.StatusSuccess:
			if res.CollisionPending {
				l.metrics.collisions.Add(1)
			}
			return l.collect(ctx, s, res)
		case nfcdisc.StatusCollisionPending:
			l.metrics.collisions.Add(1)
			if l.resetter == nil || resets >= l.config.MaxFieldResets {
				return nil, err
			}
			if rerr := l.resetter.ResetField(ctx); rerr != nil {
				return nil, fmt.Errorf("field reset failed: %w", rerr)
			}
			l.metrics.fieldResets.Add(1)
			nfcdisc.Debugf("polling: %s collision pending, field reset %d", tech, resets+1)
		case nfcdisc.StatusTimeout, nfcdisc.StatusNoDeviceResolved:
			// The card left between detection and resolution.
			return nil, nil
		default:
			return nil, err
		}
	}
}

func (l *Loop) collect(ctx context.Context, s *nfcdisc.Session, res *nfcdisc.Resolution) ([]Card, error) {
	cards := make([]Card, len(res.Candidates))
	for i, c := range res.Candidates {
		cards[i] = Card{Candidate: c}
	}
	if !l.config.Activate || len(cards) == 0 {
		return cards, nil
	}

	params, err := l.engine.ActivateCandidate(ctx, s, 0, l.engine.Config().ActivationRequest())
	if err != nil {
		if errors.Is(err, nfcdisc.ErrAborted) {
			return cards, err
		}
		nfcdisc.Debugf("polling: activating %s failed: %v", cards[0].Key(), err)
		return cards, nil
	}
	l.metrics.activations.Add(1)
	cards[0].Params = params
	if c, cerr := s.Candidate(0); cerr == nil {
		cards[0].Candidate = c
	}
	return cards, nil
}

// process fires callbacks for the cards found by a pass.
func (l *Loop) process(cards []Card, now time.Time) error {
	ids := make([]string, len(cards))
	for i := range cards {
		ids[i] = cards[i].Key()
	}
	slices.Sort(ids)

	l.stateMu.Lock()
	if len(cards) == 0 {
		l.state.EndEmptyPass()
		removed := l.state.RemovalDue(now, l.config.CardRemovalTimeout)
		if removed {
			l.state.TransitionToIdle()
		}
		l.stateMu.Unlock()
		if removed && l.callbacks.OnCardsRemoved != nil {
			l.callbacks.OnCardsRemoved()
		}
		return nil
	}

	wasPresent := l.state.Present
	changed := wasPresent && l.state.Changed(ids)
	l.state.TransitionToPresent(ids, now)
	l.stateMu.Unlock()
	l.lastCard = now

	switch {
	case !wasPresent && l.callbacks.OnCardsDetected != nil:
		return l.safeCall(l.callbacks.OnCardsDetected, cards, "OnCardsDetected")
	case changed && l.callbacks.OnCardsChanged != nil:
		return l.safeCall(l.callbacks.OnCardsChanged, cards, "OnCardsChanged")
	}
	return nil
}

func (l *Loop) safeCall(callback func([]Card) error, cards []Card, name string) error {
	var callbackErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				callbackErr = fmt.Errorf("%s callback panicked: %v", name, r)
			}
		}()
		callbackErr = callback(cards)
	}()
	if callbackErr != nil {
		l.metrics.callbackErrors.Add(1)
		return fmt.Errorf("%s callback failed: %w", name, callbackErr)
	}
	return nil
}
