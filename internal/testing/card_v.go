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

// CardV is a virtual ISO/IEC 15693 card. Its states map onto CardState as
// READY, ACTIVE (selected) and HALT (quiet).
type CardV struct {
	// Slots scripts the slot chosen on each 16-slot inventory.
	Slots []int
	UID   [8]byte
	State CardState
	slot  int
	DSFID byte
	AFI   byte
}

func NewCardV(uid ...byte) *CardV {
	c := &CardV{State: CardReady}
	copy(c.UID[:], uid)
	return c
}

func (c *CardV) String() string {
	return fmt.Sprintf("V[%s %s]", hexID(c.UID[:]), c.State)
}

func (c *CardV) powerOff() {
	c.State = CardReady
	c.slot = 0
}

func (c *CardV) inventoryResponse() []byte {
	return append([]byte{0x00, c.DSFID}, c.UID[:]...)
}

// Inventory runs an inventory request with 1 or 16 slots and returns the
// answers of slot 0.
func (f *VirtualField) Inventory(sixteen bool, afi byte) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	f.mu.Do(func() {
		if err = f.begin(OpInvent); err != nil {
			return
		}
		n := 1
		if sixteen {
			n = 16
		}
		var resps [][]byte
		for _, c := range f.v {
			if c.State == CardHalt || (afi != 0 && afi != c.AFI) {
				c.slot = -1
				continue
			}
			c.slot = 0
			if sixteen {
				c.slot = nextSlot(&c.Slots, c.UID[7], n)
			}
			if c.slot == 0 {
				resps = append(resps, c.inventoryResponse())
			}
		}
		resp, err = answer(resps)
	})
	return resp, err
}

// EOF closes the current slot and returns the answers of slot n.
func (f *VirtualField) EOF(n int) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	f.mu.Do(func() {
		if err = f.begin(OpEOF); err != nil {
			return
		}
		var resps [][]byte
		for _, c := range f.v {
			if c.State != CardHalt && c.slot == n {
				resps = append(resps, c.inventoryResponse())
			}
		}
		resp, err = answer(resps)
	})
	return resp, err
}

// StayQuiet silences the addressed card. The command has no answer.
func (f *VirtualField) StayQuiet(uid []byte) error {
	var err error
	f.mu.Do(func() {
		if err = f.begin(OpQuiet); err != nil {
			return
		}
		for _, c := range f.v {
			if bytes.Equal(c.UID[:], uid) {
				c.State = CardHalt
				c.slot = -1
			}
		}
	})
	return err
}

// SelectV selects the addressed card; any other selected card returns to
// READY.
func (f *VirtualField) SelectV(uid []byte) ([]byte, error) {
	var (
		resp []byte
		err  error
	)
	f.mu.Do(func() {
		if err = f.begin(OpSelectV); err != nil {
			return
		}
		var resps [][]byte
		for _, c := range f.v {
			switch {
			case bytes.Equal(c.UID[:], uid):
				c.State = CardActive
				resps = append(resps, []byte{0x00})
			case c.State == CardActive:
				c.State = CardReady
			}
		}
		resp, err = answer(resps)
	})
	return resp, err
}

// CardsV returns the Type V cards in the field.
func (f *VirtualField) CardsV() []*CardV {
	var out []*CardV
	f.mu.Do(func() { out = append(out, f.v...) })
	return out
}
