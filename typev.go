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

// ISO/IEC 15693 inventory response: flags, DSFID and an 8 byte UID.
const (
	inventoryRespLen = 10
	respFlagError    = 0x01
)

func candidateFromInventory(resp []byte) (Candidate, error) {
	if len(resp) != inventoryRespLen {
		return Candidate{}, fmt.Errorf("%w: inventory response length %d", ErrProtocol, len(resp))
	}
	if resp[0]&respFlagError != 0 {
		return Candidate{}, fmt.Errorf("%w: inventory error flag set (0x%02X)", ErrProtocol, resp[0])
	}
	return Candidate{
		Tech:     TechV,
		ID:       append([]byte(nil), resp[2:]...),
		SenseRes: append([]byte(nil), resp...),
		State:    StateDiscovered,
	}, nil
}

// TypeV is the ISO/IEC 15693 vicinity technology. Its inventory runs with
// one slot first and then jumps straight to sixteen.
type TypeV struct {
	prims SlotPrimitives
	cfg   TypeVConfig
}

// NewTypeV binds the vicinity algorithms to a set of primitives. WakeAll and
// WakeAddressed are INVENTORY, ProbeSlot is the EOF that closes a slot, Halt
// is STAY QUIET and SetAddressed is SELECT.
func NewTypeV(prims SlotPrimitives, cfg TypeVConfig) *TypeV {
	return &TypeV{prims: prims, cfg: cfg}
}

func (*TypeV) Tech() Tech { return TechV }

func (v *TypeV) scheme() slotScheme {
	return slotScheme{
		tech:     TechV,
		parse:    candidateFromInventory,
		escalate: func(uint8) uint8 { return MaxSlotExponentV },
		maxExp:   MaxSlotExponentV,
		afi:      v.cfg.AFI,
	}
}

func (v *TypeV) Detect(ctx context.Context, s *Session) (Presence, error) {
	return detectSlotted(ctx, s, v.prims, v.scheme())
}

func (v *TypeV) ResolveCollisions(ctx context.Context, s *Session, policy Policy) (*Resolution, error) {
	return resolveSlotted(ctx, s, v.prims, v.scheme(), policy)
}

// Activate selects the card. Vicinity cards have no layer 4 and stay at
// 26 kbps, so only the addressing is recorded.
func (v *TypeV) Activate(
	ctx context.Context, s *Session, index int, _ ActivationRequest,
) (*ProtocolParameters, error) {
	c, err := checkCandidate(s, TechV, index)
	if err != nil {
		return nil, err
	}
	// SELECT takes a quiet card straight back to the selected state, so
	// it is both the reawake and the activation.
	c.State = StateActivating
	if needsReawake(s, index) {
		c.State = StateReawaking
	}

	id := c.ID
	_, err = s.exchange(TechV, "Select", 0, func() ([]byte, error) {
		return nil, v.prims.SetAddressed(ctx, id)
	})
	if err != nil {
		return nil, activationFailed(c, TechV, "Select", err)
	}
	s.setSleeping(index, false)

	return activated(s, c, index, ProtocolParameters{Tech: TechV}), nil
}
