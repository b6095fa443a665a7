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

// CardState is the ISO/IEC 14443-3 / 15693 state of a virtual card.
type CardState int

const (
	CardIdle CardState = iota
	CardReady
	CardDeclared
	CardActive
	CardHalt
)

func (s CardState) String() string {
	switch s {
	case CardIdle:
		return "IDLE"
	case CardReady:
		return "READY"
	case CardDeclared:
		return "DECLARED"
	case CardActive:
		return "ACTIVE"
	case CardHalt:
		return "HALT"
	default:
		return "UNKNOWN"
	}
}

// CardB is a virtual ISO/IEC 14443 Type B card.
type CardB struct {
	// Slots scripts the slot chosen on each REQB/WUPB. When exhausted the
	// card uses the last PUPI byte modulo the slot count.
	Slots []int
	// LastATTRIB is the most recent ATTRIB frame the card accepted.
	LastATTRIB   []byte
	PUPI         [4]byte
	AppData      [4]byte
	State        CardState
	slot         int
	BitRate      byte
	FSCI         byte
	ProtocolType byte
	FWI          byte
	FO           byte
	SFGI         byte
	AFI          byte
	MBLI         byte
}

// NewCardB returns an ISO/IEC 14443-4 card with CID support, 256 byte
// frames and 106 kbps only.
func NewCardB(pupi ...byte) *CardB {
	c := &CardB{
		FSCI:         8,
		ProtocolType: 0x01,
		FWI:          4,
		FO:           0x01,
	}
	copy(c.PUPI[:], pupi)
	return c
}

// ATQB builds the card's answer to request.
func (c *CardB) ATQB(extended bool) []byte {
	b := make([]byte, 0, 13)
	b = append(b, 0x50)
	b = append(b, c.PUPI[:]...)
	b = append(b, c.AppData[:]...)
	b = append(b, c.BitRate, c.FSCI<<4|c.ProtocolType&0x0F, c.FWI<<4|c.FO&0x03)
	if extended {
		b = append(b, c.SFGI<<4)
	}
	return b
}

func (c *CardB) String() string {
	return fmt.Sprintf("B[%s %s]", hexID(c.PUPI[:]), c.State)
}

func (c *CardB) powerOff() {
	c.State = CardIdle
	c.slot = 0
}

func (c *CardB) afiMatch(afi byte) bool {
	if afi == 0 || afi == c.AFI {
		return true
	}
	// A zero low nibble selects the whole family.
	return afi&0x0F == 0 && afi&0xF0 == c.AFI&0xF0
}

func (c *CardB) addressed(pupi []byte) bool {
	return bytes.Equal(pupi, c.PUPI[:]) && (c.State == CardReady || c.State == CardDeclared)
}

// TransceiveB delivers one Type B frame (without CRC_B) to the field.
func (f *VirtualField) TransceiveB(frame []byte) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	f.mu.Do(func() {
		resp, err = f.transceiveB(frame)
	})
	return resp, err
}

func (f *VirtualField) transceiveB(frame []byte) ([]byte, error) {
	switch {
	case len(frame) == 3 && frame[0] == 0x05:
		return f.requestB(frame[1], frame[2])
	case len(frame) == 1 && frame[0]&0x0F == 0x05:
		return f.slotMarker(int(frame[0] >> 4))
	case len(frame) == 5 && frame[0] == 0x50:
		return f.haltB(frame[1:])
	case len(frame) == 9 && frame[0] == 0x1D:
		return f.attrib(frame)
	default:
		f.log = append(f.log, fmt.Sprintf("?%X", frame))
		return nil, ErrNoResponse
	}
}

func (f *VirtualField) requestB(afi, param byte) ([]byte, error) {
	wakeup := param&0x08 != 0
	op := OpREQB
	if wakeup {
		op = OpWUPB
	}
	if err := f.begin(op); err != nil {
		return nil, err
	}
	n := 1 << min(param&0x07, 4)
	extended := param&0x10 != 0
	f.extB = extended

	var resps [][]byte
	for _, c := range f.b {
		switch c.State {
		case CardActive:
			continue
		case CardHalt:
			if !wakeup {
				continue
			}
		}
		if !c.afiMatch(afi) {
			continue
		}
		c.State = CardReady
		c.slot = nextSlot(&c.Slots, c.PUPI[3], n)
		if c.slot == 0 {
			c.State = CardDeclared
			resps = append(resps, c.ATQB(extended))
		}
	}
	return answer(resps)
}

func (f *VirtualField) slotMarker(n int) ([]byte, error) {
	if err := f.begin(OpSlot); err != nil {
		return nil, err
	}
	var resps [][]byte
	for _, c := range f.b {
		if c.State == CardReady && c.slot == n {
			c.State = CardDeclared
			resps = append(resps, c.ATQB(f.extB))
		}
	}
	return answer(resps)
}

func (f *VirtualField) haltB(pupi []byte) ([]byte, error) {
	if err := f.begin(OpHLTB); err != nil {
		return nil, err
	}
	var resps [][]byte
	for _, c := range f.b {
		if c.addressed(pupi) || (c.State == CardActive && bytes.Equal(pupi, c.PUPI[:])) {
			c.State = CardHalt
			resps = append(resps, []byte{0x00})
		}
	}
	return answer(resps)
}

func (f *VirtualField) attrib(frame []byte) ([]byte, error) {
	if err := f.begin(OpATTRIB); err != nil {
		return nil, err
	}
	var resps [][]byte
	for _, c := range f.b {
		if !c.addressed(frame[1:5]) {
			continue
		}
		c.State = CardActive
		c.LastATTRIB = append([]byte(nil), frame...)
		var cid byte
		if c.FO&0x01 != 0 {
			cid = frame[8] & 0x0F
		}
		resps = append(resps, []byte{c.MBLI<<4 | cid})
	}
	return answer(resps)
}

// CardsB returns the Type B cards in the field.
func (f *VirtualField) CardsB() []*CardB {
	var out []*CardB
	f.mu.Do(func() { out = append(out, f.b...) })
	return out
}
