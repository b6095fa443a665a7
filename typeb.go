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

// ATQB layout (ISO/IEC 14443-3 7.9).
const (
	atqbCode   = 0x50
	atqbLen    = 12
	atqbExtLen = 13
)

// ATQB is a decoded Type B answer to request.
type ATQB struct {
	PUPI         [4]byte
	AppData      [4]byte
	BitRate      byte
	MaxFrameSize FrameSize
	ProtocolType byte
	FWI          uint8
	ADC          uint8
	FO           byte
	SFGI         uint8
	Extended     bool
}

// ParseATQB decodes a 12 byte ATQB or a 13 byte extended ATQB.
func ParseATQB(b []byte) (*ATQB, error) {
	if len(b) != atqbLen && len(b) != atqbExtLen {
		return nil, fmt.Errorf("%w: ATQB length %d", ErrProtocol, len(b))
	}
	if b[0] != atqbCode {
		return nil, fmt.Errorf("%w: ATQB starts with 0x%02X", ErrProtocol, b[0])
	}

	a := &ATQB{
		BitRate:      b[9],
		MaxFrameSize: FrameSize(b[10] >> 4),
		ProtocolType: b[10] & 0x0F,
		FWI:          b[11] >> 4,
		ADC:          (b[11] >> 2) & 0x03,
		FO:           b[11] & 0x03,
	}
	copy(a.PUPI[:], b[1:5])
	copy(a.AppData[:], b[5:9])
	if len(b) == atqbExtLen {
		a.Extended = true
		a.SFGI = b[12] >> 4
	}
	return a, nil
}

// Layer4 reports ISO/IEC 14443-4 compliance.
func (a *ATQB) Layer4() bool { return a.ProtocolType&0x01 != 0 }

// CIDSupported reports whether the card accepts a card identifier.
func (a *ATQB) CIDSupported() bool { return a.FO&0x01 != 0 }

// NADSupported reports whether the card accepts a node address.
func (a *ATQB) NADSupported() bool { return a.FO&0x02 != 0 }

func candidateFromATQB(resp []byte) (Candidate, error) {
	a, err := ParseATQB(resp)
	if err != nil {
		return Candidate{}, err
	}
	return Candidate{
		Tech:              TechB,
		ID:                append([]byte(nil), a.PUPI[:]...),
		SenseRes:          append([]byte(nil), resp...),
		Layer4:            a.Layer4(),
		BitRateCapability: a.BitRate,
		State:             StateDiscovered,
	}, nil
}

// TypeB is the ISO/IEC 14443 Type B technology.
type TypeB struct {
	prims TypeBPrimitives
	cfg   TypeBConfig
}

// NewTypeB binds the Type B algorithms to a set of primitives.
func NewTypeB(prims TypeBPrimitives, cfg TypeBConfig) *TypeB {
	return &TypeB{prims: prims, cfg: cfg}
}

func (*TypeB) Tech() Tech { return TechB }

func (b *TypeB) scheme() slotScheme {
	return slotScheme{
		tech:     TechB,
		parse:    candidateFromATQB,
		escalate: func(exp uint8) uint8 { return exp + 1 },
		maxExp:   b.cfg.maxSlotExp(),
		afi:      b.cfg.AFI,
		extended: b.cfg.ExtendedATQB,
	}
}

// Detect sends one WUPB with a single slot.
func (b *TypeB) Detect(ctx context.Context, s *Session) (Presence, error) {
	return detectSlotted(ctx, s, b.prims, b.scheme())
}

// ResolveCollisions singulates Type B cards with the slotted scheme, doubling
// the slot count after rounds that collided without result.
func (b *TypeB) ResolveCollisions(ctx context.Context, s *Session, policy Policy) (*Resolution, error) {
	return resolveSlotted(ctx, s, b.prims, b.scheme(), policy)
}

// Activate brings candidate index to ISO/IEC 14443-4 with ATTRIB.
func (b *TypeB) Activate(
	ctx context.Context, s *Session, index int, req ActivationRequest,
) (*ProtocolParameters, error) {
	if req.CID > 14 {
		return nil, newStatusError(StatusInvalidParameter, ComponentActivator, TechB, "ATTRIB",
			fmt.Errorf("CID %d out of range", req.CID))
	}
	c, err := checkCandidate(s, TechB, index)
	if err != nil {
		return nil, err
	}
	atqb, err := ParseATQB(c.SenseRes)
	if err != nil {
		return nil, activationFailed(c, TechB, "ATQB", err)
	}
	policy := policyOrDefault(s.policy)

	if needsReawake(s, index) {
		c.State = StateReawaking
		if err := b.reawake(ctx, s); err != nil {
			return nil, activationFailed(c, TechB, opWakeAll, err)
		}
		s.latest = index
	}
	if err := b.prims.SetAddressed(ctx, c.ID); err != nil {
		return nil, activationFailed(c, TechB, "SetAddressed", err)
	}
	c.State = StateActivating

	rx, tx := NegotiateBitRate(atqb.BitRate, req.RxRate, req.TxRate)
	fsd := policy.ClipFrameSize(req.FrameSize)
	cidEnabled := atqb.CIDSupported() && !policy.ForceCIDZero()
	cid := req.CID
	if !cidEnabled {
		cid = 0
	}

	sfgt := StartupGuardTime(atqb.SFGI)
	if sfgt > 0 {
		if err := b.prims.SetProtocolConfig(ConfigGuardTime, durationMicros(sfgt)); err != nil {
			return nil, activationFailed(c, TechB, "GuardTime", err)
		}
	}

	var answer *Layer4Response
	_, err = s.exchange(TechB, "ATTRIB", 0, func() ([]byte, error) {
		var err error
		answer, err = b.prims.ActivateLayer4(ctx, Layer4Request{
			SenseRes:  c.SenseRes,
			ID:        c.ID,
			FrameSize: fsd,
			CID:       cid,
			RxRate:    rx,
			TxRate:    tx,
		})
		if answer == nil {
			return nil, err
		}
		return answer.Answer, err
	})
	if err != nil {
		return nil, activationFailed(c, TechB, "ATTRIB", err)
	}
	if cidEnabled && answer.CID != cid {
		return nil, activationFailed(c, TechB, "ATTRIB",
			fmt.Errorf("%w: card answered CID %d, expected %d", ErrProtocol, answer.CID, cid))
	}

	params := ProtocolParameters{
		Tech:          TechB,
		TxRate:        tx,
		RxRate:        rx,
		FrameSize:     fsd,
		CardFrameSize: atqb.MaxFrameSize,
		CIDEnabled:    cidEnabled,
		CID:           cid,
		NADEnabled:    atqb.NADSupported() && !policy.ForceCIDZero(),
		FWI:           atqb.FWI,
		FWT:           FrameWaitTime(atqb.FWI),
		SFGI:          atqb.SFGI,
		SFGT:          sfgt,
		MBLI:          answer.MBLI,
		Layer4:        atqb.Layer4(),
	}
	if err := applyLinkConfig(b.prims, params); err != nil {
		return nil, activationFailed(c, TechB, "ProtocolConfig", err)
	}
	return activated(s, c, index, params), nil
}

// reawake sends WUPB so a halted or displaced card answers ATTRIB again.
// Every card in the field wakes up, so a garbled answer is expected.
func (b *TypeB) reawake(ctx context.Context, s *Session) error {
	_, err := s.exchange(TechB, opWakeAll, 0, func() ([]byte, error) {
		return b.prims.WakeAll(ctx, 0, b.cfg.AFI, b.cfg.ExtendedATQB)
	})
	switch classify(err) {
	case signalAbort, signalEmpty:
		return err
	}
	s.wakeAll(TechB)
	return nil
}
