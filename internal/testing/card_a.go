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

package testing

import (
	"bytes"
	"fmt"
)

const clBits = 40

// CardA is a virtual ISO/IEC 14443 Type A card.
type CardA struct {
	UID  []byte
	ATS  []byte
	ATQA [2]byte
	// LastRATS and LastPPS hold the parameter bytes of the latest commands.
	LastRATS  byte
	LastPPS   []byte
	State     CardState
	level     int
	SAK       byte
	wasHalted bool
}

// NewCardA returns a card with the given 4, 7 or 10 byte UID. A non-nil ats
// makes it ISO/IEC 14443-4 compliant.
func NewCardA(uid []byte, ats []byte) *CardA {
	c := &CardA{
		UID:  append([]byte(nil), uid...),
		ATQA: [2]byte{0x04, 0x00},
		SAK:  0x08,
	}
	switch len(uid) {
	case 7:
		c.ATQA[0] = 0x44
	case 10:
		c.ATQA[0] = 0x84
	}
	if ats != nil {
		c.ATS = append([]byte(nil), ats...)
		c.SAK = 0x20
	}
	return c
}

func (c *CardA) String() string {
	return fmt.Sprintf("A[%s %s]", hexID(c.UID), c.State)
}

func (c *CardA) powerOff() {
	c.State = CardIdle
	c.level = 0
	c.wasHalted = false
}

// levels returns the CLn bytes (with BCC) of the card's UID.
func (c *CardA) levels() [][]byte {
	var parts [][]byte
	switch len(c.UID) {
	case 7:
		parts = [][]byte{{0x88, c.UID[0], c.UID[1], c.UID[2]}, c.UID[3:7]}
	case 10:
		parts = [][]byte{
			{0x88, c.UID[0], c.UID[1], c.UID[2]},
			{0x88, c.UID[3], c.UID[4], c.UID[5]},
			c.UID[6:10],
		}
	default:
		parts = [][]byte{c.UID[:4]}
	}
	out := make([][]byte, len(parts))
	for i, p := range parts {
		bcc := p[0] ^ p[1] ^ p[2] ^ p[3]
		out[i] = append(append([]byte(nil), p...), bcc)
	}
	return out
}

func bit(b []byte, i int) byte {
	return (b[i/8] >> (i % 8)) & 1
}

func prefixMatch(cl, known []byte, bits int) bool {
	for i := range bits {
		if bit(cl, i) != bit(known, i) {
			return false
		}
	}
	return true
}

// unselect returns a card that lost a SELECT to IDLE or, if it was woken
// from HALT, back to HALT.
func (c *CardA) unselect() {
	if c.wasHalted {
		c.State = CardHalt
	} else {
		c.State = CardIdle
	}
	c.level = 0
}

// WUPA wakes idle and halted cards.
func (f *VirtualField) WUPA() ([]byte, error) {
	return f.senseA(OpWUPA, true)
}

// REQA wakes idle cards only.
func (f *VirtualField) REQA() ([]byte, error) {
	return f.senseA(OpREQA, false)
}

func (f *VirtualField) senseA(op string, wakeup bool) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	f.mu.Do(func() {
		if err = f.begin(op); err != nil {
			return
		}
		var resps [][]byte
		for _, c := range f.a {
			switch c.State {
			case CardActive:
				continue
			case CardHalt:
				if !wakeup {
					continue
				}
				c.wasHalted = true
			case CardIdle:
				c.wasHalted = false
			}
			c.State = CardReady
			c.level = 1
			resps = append(resps, c.ATQA[:])
		}
		resp, err = answer(resps)
	})
	return resp, err
}

// Anticollision runs one ANTICOLLISION command of a cascade level with
// knownBits bits of the CLn already fixed. It returns the bits every
// responding card agrees on and whether a bit collision cut the answer
// short.
func (f *VirtualField) Anticollision(level int, known []byte, knownBits int) ([]byte, int, bool, error) {
	var (
		data      []byte
		validBits int
		collision bool
		err       error
	)
	f.mu.Do(func() {
		if err = f.begin(OpAnticoll); err != nil {
			return
		}
		var cls [][]byte
		for _, c := range f.a {
			if c.State != CardReady || c.level != level {
				continue
			}
			ls := c.levels()
			if level > len(ls) {
				continue
			}
			cl := ls[level-1]
			if prefixMatch(cl, known, knownBits) {
				cls = append(cls, cl)
			}
		}
		if len(cls) == 0 {
			err = ErrNoResponse
			return
		}

		data = make([]byte, clBits/8)
		validBits = clBits
		for i := range clBits {
			b := bit(cls[0], i)
			for _, cl := range cls[1:] {
				if bit(cl, i) != b {
					validBits = i
					collision = true
					break
				}
			}
			if collision {
				break
			}
			data[i/8] |= b << (i % 8)
		}
	})
	return data, validBits, collision, err
}

// Select selects the card whose CLn equals cl. Cards in the same level
// that do not match fall back to IDLE (or HALT).
func (f *VirtualField) Select(level int, cl []byte) (byte, error) {
	var (
		sak byte
		err error
	)
	f.mu.Do(func() {
		if err = f.begin(OpSelect); err != nil {
			return
		}
		var resps [][]byte
		for _, c := range f.a {
			if c.State != CardReady || c.level != level {
				continue
			}
			ls := c.levels()
			if level > len(ls) || !bytes.Equal(ls[level-1], cl) {
				c.unselect()
				continue
			}
			if level < len(ls) {
				c.level++
				resps = append(resps, []byte{0x04})
				continue
			}
			c.State = CardActive
			c.level = 0
			resps = append(resps, []byte{c.SAK})
		}
		var r []byte
		r, err = answer(resps)
		if err == nil {
			sak = r[0]
		}
	})
	return sak, err
}

// HLTA halts the active card. HLTA has no answer, so it never fails unless a
// fault is injected.
func (f *VirtualField) HLTA() error {
	var err error
	f.mu.Do(func() {
		if err = f.begin(OpHLTA); err != nil {
			return
		}
		for _, c := range f.a {
			if c.State == CardActive {
				c.State = CardHalt
				c.level = 0
			}
		}
	})
	return err
}

// RATS asks the active card for its ATS.
func (f *VirtualField) RATS(param byte) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	f.mu.Do(func() {
		if err = f.begin(OpRATS); err != nil {
			return
		}
		var resps [][]byte
		for _, c := range f.a {
			if c.State == CardActive && c.ATS != nil {
				c.LastRATS = param
				resps = append(resps, c.ATS)
			}
		}
		resp, err = answer(resps)
	})
	return resp, err
}

// PPS sends a protocol and parameter selection to the active card.
func (f *VirtualField) PPS(frame []byte) error {
	var err error
	f.mu.Do(func() {
		if err = f.begin(OpPPS); err != nil {
			return
		}
		for _, c := range f.a {
			if c.State == CardActive && c.ATS != nil {
				c.LastPPS = append([]byte(nil), frame...)
				return
			}
		}
		err = ErrNoResponse
	})
	return err
}

// CardsA returns the Type A cards in the field.
func (f *VirtualField) CardsA() []*CardA {
	var out []*CardA
	f.mu.Do(func() { out = append(out, f.a...) })
	return out
}
