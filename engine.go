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
)

// Option configures an Engine.
type Option func(*Engine)

// WithTypeA registers Type A over prims.
func WithTypeA(prims TypeAPrimitives) Option {
	return func(e *Engine) {
		e.register(NewTypeA(prims))
	}
}

// WithTypeB registers Type B over prims.
func WithTypeB(prims TypeBPrimitives) Option {
	return func(e *Engine) {
		e.register(NewTypeB(prims, e.cfg.TypeB))
	}
}

// WithTypeV registers Type V over prims.
func WithTypeV(prims SlotPrimitives) Option {
	return func(e *Engine) {
		e.register(NewTypeV(prims, e.cfg.TypeV))
	}
}

// WithTechnology registers a custom technology implementation.
func WithTechnology(t Technology) Option {
	return func(e *Engine) {
		e.register(t)
	}
}

// WithExchangeObserver attaches o to every session created by the engine.
func WithExchangeObserver(o ExchangeObserver) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// WithPolicy overrides the policy derived from the configuration.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// Engine dispatches discovery operations to the technologies registered at
// runtime. Technologies listed in the configuration but not registered are
// skipped.
type Engine struct {
	cfg      *Config
	techs    map[Tech]Technology
	policy   Policy
	observer ExchangeObserver
	order    []Tech
}

// New builds an engine. A nil cfg uses DefaultConfig.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:   cfg,
		techs: make(map[Tech]Technology),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy == nil {
		e.policy = cfg.Policy()
	}

	order, err := cfg.Techs()
	if err != nil {
		return nil, err
	}
	for _, t := range order {
		if _, ok := e.techs[t]; ok {
			e.order = append(e.order, t)
		} else {
			Debugf("engine: technology %s configured but no primitives registered", t)
		}
	}
	if len(e.order) == 0 {
		return nil, fmt.Errorf("%w: none of the configured technologies is registered", ErrInvalidConfig)
	}
	return e, nil
}

func (e *Engine) register(t Technology) {
	e.techs[t.Tech()] = t
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Policy returns the default policy.
func (e *Engine) Policy() Policy { return e.policy }

// Technologies returns the registered technologies in polling order.
func (e *Engine) Technologies() []Tech {
	return append([]Tech(nil), e.order...)
}

// NewSession creates a session sized and limited by the configuration.
func (e *Engine) NewSession(opts ...SessionOption) *Session {
	all := e.cfg.SessionOptions()
	if e.observer != nil {
		all = append(all, WithObserver(e.observer))
	}
	return NewSession(e.cfg.MaxCards, append(all, opts...)...)
}

func (e *Engine) technology(t Tech, comp Component) (Technology, error) {
	impl, ok := e.techs[t]
	if !ok {
		return nil, newStatusError(StatusInvalidParameter, comp, t, "dispatch",
			fmt.Errorf("%w: %s", ErrUnsupportedTechnology, t))
	}
	return impl, nil
}

// DetectTechnology probes the field once for tech.
func (e *Engine) DetectTechnology(ctx context.Context, s *Session, tech Tech) (Presence, error) {
	impl, err := e.technology(tech, ComponentDetector)
	if err != nil {
		return NotPresent, err
	}
	p, err := impl.Detect(ctx, s)
	if err != nil {
		return p, withTrace(err, s.History())
	}
	if p == Present {
		s.detected.Add(tech)
	}
	Debugf("engine: detect %s -> %s", tech, p)
	return p, nil
}

// ResolveCollisions singulates the cards of tech. A nil policy uses the
// engine's.
func (e *Engine) ResolveCollisions(ctx context.Context, s *Session, tech Tech, policy Policy) (*Resolution, error) {
	impl, err := e.technology(tech, ComponentResolver)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = e.policy
	}
	res, err := impl.ResolveCollisions(ctx, s, policy)
	if err != nil {
		return nil, withTrace(err, s.History())
	}
	Debugf("engine: resolved %d %s candidate(s) in %d round(s)", len(res.Candidates), tech, res.Rounds)
	return res, nil
}

// ActivateCandidate activates the candidate at index with the technology
// that found it.
func (e *Engine) ActivateCandidate(
	ctx context.Context, s *Session, index int, req ActivationRequest,
) (*ProtocolParameters, error) {
	c, err := s.Candidate(index)
	if err != nil {
		return nil, err
	}
	impl, err := e.technology(c.Tech, ComponentActivator)
	if err != nil {
		return nil, err
	}
	p, err := impl.Activate(ctx, s, index, req)
	if err != nil {
		return nil, withTrace(err, s.History())
	}
	return p, nil
}
