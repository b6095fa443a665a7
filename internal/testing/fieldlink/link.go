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

// Package fieldlink binds the virtual RF field to the nfcdisc primitive
// interfaces so the engine can run against simulated cards.
package fieldlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfcdisc"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
	virt "github.com/ZaparooProject/go-nfcdisc/internal/testing"
)

// MapError translates a field error into the engine's error taxonomy.
func MapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, virt.ErrNoResponse), errors.Is(err, virt.ErrFieldOff):
		return fmt.Errorf("%w: %w", nfcdisc.ErrTimeout, err)
	case errors.Is(err, virt.ErrAborted):
		return fmt.Errorf("%w: %w", nfcdisc.ErrAborted, err)
	default:
		return fmt.Errorf("%w: %w", nfcdisc.ErrTransmission, err)
	}
}

// Link implements nfcdisc.Transceiver over a virtual field. Waits are
// recorded and, unless Sleep is set, return immediately.
type Link struct {
	Field  *virt.VirtualField
	config map[nfcdisc.ConfigKey]uint32
	waits  []time.Duration
	mu     syncutil.Mutex
	// Sleep makes Wait block for the requested duration.
	Sleep  bool
	resets int
}

func New(f *virt.VirtualField) *Link {
	return &Link{
		Field:  f,
		config: make(map[nfcdisc.ConfigKey]uint32),
	}
}

func (l *Link) Wait(ctx context.Context, d time.Duration) error {
	l.mu.Do(func() { l.waits = append(l.waits, d) })
	if l.Sleep {
		return nfcdisc.SleepWait(ctx, d)
	}
	return ctx.Err()
}

func (l *Link) ProtocolConfig(key nfcdisc.ConfigKey) (uint32, error) {
	var v uint32
	l.mu.Do(func() { v = l.config[key] })
	return v, nil
}

func (l *Link) SetProtocolConfig(key nfcdisc.ConfigKey, value uint32) error {
	l.mu.Do(func() { l.config[key] = value })
	return nil
}

// ResetField cycles the carrier, returning every card to its power-on state.
func (l *Link) ResetField(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.Field.SetField(false)
	l.Field.SetField(true)
	l.mu.Do(func() { l.resets++ })
	return nil
}

// Waits returns the durations passed to Wait.
func (l *Link) Waits() []time.Duration {
	var out []time.Duration
	l.mu.Do(func() { out = append(out, l.waits...) })
	return out
}

// Resets returns how many times the field was cycled.
func (l *Link) Resets() int {
	var n int
	l.mu.Do(func() { n = l.resets })
	return n
}

// Exchange sends a raw Type B frame; it makes Link an nfcdisc.FrameExchanger.
func (l *Link) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := l.Field.TransceiveB(frame)
	return resp, MapError(err)
}

// TypeB returns Type B primitives over the field.
func (l *Link) TypeB() *nfcdisc.FrameTypeB {
	return nfcdisc.NewFrameTypeB(l)
}

// TypeA returns Type A primitives over the field.
func (l *Link) TypeA() *TypeA {
	return &TypeA{Link: l}
}

// TypeV returns Type V primitives over the field.
func (l *Link) TypeV() *TypeV {
	return &TypeV{Link: l}
}

// Engine builds an engine with all three technologies bound to the field.
func (l *Link) Engine(cfg *nfcdisc.Config, opts ...nfcdisc.Option) (*nfcdisc.Engine, error) {
	all := []nfcdisc.Option{
		nfcdisc.WithTypeA(l.TypeA()),
		nfcdisc.WithTypeB(l.TypeB()),
		nfcdisc.WithTypeV(l.TypeV()),
	}
	return nfcdisc.New(cfg, append(all, opts...)...)
}
