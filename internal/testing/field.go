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

// Package testing provides test tooling: a virtual RF field populated with
// Type A, Type B and Type V cards, a wire-level PN532 simulator on top of it
// and YAML scenario fixtures.
//
// The field answers exactly like a shared half-duplex link would: no card
// answering is ErrNoResponse, several cards answering at once is
// ErrCollision, and one card answering returns its frame.
package testing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// Field errors. Callers map these onto their own taxonomy.
var (
	ErrNoResponse = errors.New("no response")
	ErrCollision  = errors.New("collision")
	ErrAborted    = errors.New("aborted")
	ErrFieldOff   = errors.New("RF field off")
)

// Op names used for fault injection and the exchange log.
const (
	OpWUPB     = "WUPB"
	OpREQB     = "REQB"
	OpSlot     = "SLOT"
	OpHLTB     = "HLTB"
	OpATTRIB   = "ATTRIB"
	OpWUPA     = "WUPA"
	OpREQA     = "REQA"
	OpAnticoll = "ANTICOLL"
	OpSelect   = "SELECT"
	OpHLTA     = "HLTA"
	OpRATS     = "RATS"
	OpPPS      = "PPS"
	OpInvent   = "INVENTORY"
	OpEOF      = "EOF"
	OpQuiet    = "QUIET"
	OpSelectV  = "SELECTV"
)

type fault struct {
	err   error
	op    string
	times int
}

// VirtualField is a simulated RF field. It is safe for concurrent use.
type VirtualField struct {
	b      []*CardB
	a      []*CardA
	v      []*CardV
	faults []*fault
	log    []string
	mu     syncutil.Mutex
	off    bool
	extB   bool
}

func NewVirtualField() *VirtualField {
	return &VirtualField{}
}

// AddB places Type B cards in the field.
func (f *VirtualField) AddB(cards ...*CardB) *VirtualField {
	f.mu.Do(func() { f.b = append(f.b, cards...) })
	return f
}

// AddA places Type A cards in the field.
func (f *VirtualField) AddA(cards ...*CardA) *VirtualField {
	f.mu.Do(func() { f.a = append(f.a, cards...) })
	return f
}

// AddV places Type V cards in the field.
func (f *VirtualField) AddV(cards ...*CardV) *VirtualField {
	f.mu.Do(func() { f.v = append(f.v, cards...) })
	return f
}

// Clear removes every card.
func (f *VirtualField) Clear() {
	f.mu.Do(func() {
		f.a, f.b, f.v = nil, nil, nil
	})
}

// Fail makes the next n exchanges of op return err before reaching the
// cards. A negative n fails op forever.
func (f *VirtualField) Fail(op string, err error, n int) {
	f.mu.Do(func() {
		f.faults = append(f.faults, &fault{op: op, err: err, times: n})
	})
}

// SetField switches the carrier. Turning it off resets every card to its
// power-on state.
func (f *VirtualField) SetField(on bool) {
	f.mu.Do(func() {
		f.off = !on
		if !on {
			for _, c := range f.b {
				c.powerOff()
			}
			for _, c := range f.a {
				c.powerOff()
			}
			for _, c := range f.v {
				c.powerOff()
			}
		}
	})
}

// FieldOn reports whether the carrier is on.
func (f *VirtualField) FieldOn() bool {
	var on bool
	f.mu.Do(func() { on = !f.off })
	return on
}

// Log returns the op names exchanged so far.
func (f *VirtualField) Log() []string {
	var out []string
	f.mu.Do(func() { out = append(out, f.log...) })
	return out
}

// Count returns how many times op was exchanged.
func (f *VirtualField) Count(op string) int {
	n := 0
	f.mu.Do(func() {
		for _, l := range f.log {
			if l == op {
				n++
			}
		}
	})
	return n
}

// ResetLog clears the exchange log.
func (f *VirtualField) ResetLog() {
	f.mu.Do(func() { f.log = nil })
}

// begin logs op and returns an injected fault, if any. Caller holds mu.
func (f *VirtualField) begin(op string) error {
	f.log = append(f.log, op)
	if f.off {
		return ErrFieldOff
	}
	for i, ft := range f.faults {
		if ft.op != op || ft.times == 0 {
			continue
		}
		if ft.times > 0 {
			ft.times--
		}
		if ft.times == 0 {
			f.faults = append(f.faults[:i], f.faults[i+1:]...)
		}
		return ft.err
	}
	return nil
}

// answer merges the answers of all responding cards.
func answer(resps [][]byte) ([]byte, error) {
	switch len(resps) {
	case 0:
		return nil, ErrNoResponse
	case 1:
		return append([]byte(nil), resps[0]...), nil
	default:
		return nil, ErrCollision
	}
}

// nextSlot pops a scripted slot choice, falling back to seed mod n.
func nextSlot(script *[]int, seed byte, n int) int {
	if len(*script) > 0 {
		s := (*script)[0]
		*script = (*script)[1:]
		return s % n
	}
	return int(seed) % n
}

func hexID(b []byte) string {
	return strings.ToUpper(fmt.Sprintf("%X", b))
}
