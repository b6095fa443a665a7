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
	"errors"
	"fmt"
)

// Type A anti-collision constants (ISO/IEC 14443-3 6.5).
const (
	cascadeTag     = 0x88
	sakCascade     = 0x04
	sakLayer4      = 0x20
	atqaLen        = 2
	cascadeBits    = 40 // UID CLn (4 bytes) plus BCC
	cascadeUIDSize = 4
)

var errCascade = errors.New("cascade")

// BCC returns the block check character of a cascade level.
func BCC(uid []byte) byte {
	var b byte
	for _, v := range uid {
		b ^= v
	}
	return b
}

// CascadeLevels splits a 4, 7 or 10 byte UID into its cascade levels, each
// with its BCC appended.
func CascadeLevels(uid []byte) ([][]byte, error) {
	var parts [][]byte
	switch len(uid) {
	case 4:
		parts = [][]byte{uid}
	case 7:
		parts = [][]byte{append([]byte{cascadeTag}, uid[:3]...), uid[3:]}
	case 10:
		parts = [][]byte{
			append([]byte{cascadeTag}, uid[:3]...),
			append([]byte{cascadeTag}, uid[3:6]...),
			uid[6:],
		}
	default:
		return nil, fmt.Errorf("%w: UID length %d", ErrInvalidParameter, len(uid))
	}
	levels := make([][]byte, len(parts))
	for i, p := range parts {
		cl := make([]byte, 0, cascadeUIDSize+1)
		cl = append(cl, p...)
		levels[i] = append(cl, BCC(p))
	}
	return levels, nil
}

// ATS is a decoded answer to select.
type ATS struct {
	Historical   []byte
	FSCI         FrameSize
	TA           byte
	FWI          uint8
	SFGI         uint8
	CIDSupported bool
	NADSupported bool
}

// ParseATS decodes an ATS, applying the defaults of absent interface bytes.
func ParseATS(b []byte) (*ATS, error) {
	if len(b) < 1 || int(b[0]) != len(b) {
		return nil, fmt.Errorf("%w: ATS length byte does not match %d", ErrProtocol, len(b))
	}
	ats := &ATS{
		FSCI:         FSD32,
		FWI:          4,
		CIDSupported: true,
	}
	if len(b) == 1 {
		return ats, nil
	}

	t0 := b[1]
	ats.FSCI = FrameSize(t0 & 0x0F)
	pos := 2
	next := func() (byte, error) {
		if pos >= len(b) {
			return 0, fmt.Errorf("%w: ATS truncated at byte %d", ErrProtocol, pos)
		}
		v := b[pos]
		pos++
		return v, nil
	}
	if t0&0x10 != 0 {
		ta, err := next()
		if err != nil {
			return nil, err
		}
		ats.TA = ta
	}
	if t0&0x20 != 0 {
		tb, err := next()
		if err != nil {
			return nil, err
		}
		ats.FWI = tb >> 4
		ats.SFGI = tb & 0x0F
	}
	if t0&0x40 != 0 {
		tc, err := next()
		if err != nil {
			return nil, err
		}
		ats.NADSupported = tc&0x01 != 0
		ats.CIDSupported = tc&0x02 != 0
	}
	ats.Historical = append([]byte(nil), b[pos:]...)
	return ats, nil
}

func parseATQA(resp []byte) (Candidate, error) {
	if len(resp) != atqaLen {
		return Candidate{}, fmt.Errorf("%w: ATQA length %d", ErrProtocol, len(resp))
	}
	return Candidate{
		Tech:     TechA,
		SenseRes: append([]byte(nil), resp...),
		State:    StateDiscovered,
	}, nil
}

// TypeA is the ISO/IEC 14443 Type A technology with bitwise cascade
// anti-collision.
type TypeA struct {
	prims TypeAPrimitives
}

func NewTypeA(prims TypeAPrimitives) *TypeA {
	return &TypeA{prims: prims}
}

func (*TypeA) Tech() Tech { return TechA }

// Detect sends a single WUPA.
func (a *TypeA) Detect(ctx context.Context, s *Session) (Presence, error) {
	resp, err := s.exchange(TechA, "WUPA", 0, func() ([]byte, error) {
		return a.prims.WakeAll(ctx)
	})
	return detectOutcome(s, TechA, resp, err, parseATQA)
}

type cascadeState int

const (
	cascadeInit cascadeState = iota
	cascadeWake
	cascadeSingulate
	cascadeAccept
	cascadeNext
	cascadeDone
	cascadeFailed
)

func (s cascadeState) String() string {
	switch s {
	case cascadeInit:
		return "Init"
	case cascadeWake:
		return "Wake"
	case cascadeSingulate:
		return "Singulate"
	case cascadeAccept:
		return "Accept"
	case cascadeNext:
		return "Next"
	case cascadeDone:
		return "Done"
	case cascadeFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// cascadeResolver singulates Type A cards one at a time. After each card
// that was found among others it halts that card and asks the rest to
// answer again with REQA.
type cascadeResolver struct {
	prims     TypeAPrimitives
	policy    Policy
	session   *Session
	failure   error
	atqa      []byte
	uid       []byte
	limit     int
	state     cascadeState
	sak       byte
	collision bool
}

// ResolveCollisions runs the cascade anti-collision under the same device
// limit, policy and halting order as the slotted technologies.
func (a *TypeA) ResolveCollisions(ctx context.Context, s *Session, policy Policy) (*Resolution, error) {
	if s.DeviceLimit(TechA) <= 0 {
		return nil, newStatusError(StatusNoDeviceResolved, ComponentResolver, TechA, opPrecondition, nil)
	}
	r := &cascadeResolver{
		prims:   a.prims,
		policy:  policyOrDefault(policy),
		session: s,
		limit:   s.effectiveLimit(TechA),
		state:   cascadeInit,
	}
	return r.run(ctx)
}

func (r *cascadeResolver) run(ctx context.Context) (*Resolution, error) {
	for {
		prev := r.state
		switch r.state {
		case cascadeInit:
			r.session.beginPass(TechA, r.policy)
			r.state = cascadeWake
		case cascadeWake:
			r.state = r.wake(ctx)
		case cascadeSingulate:
			r.state = r.singulate(ctx)
		case cascadeAccept:
			r.state = r.accept()
		case cascadeNext:
			r.state = r.next(ctx)
		case cascadeDone:
			return &Resolution{
				Tech:             TechA,
				Status:           StatusSuccess,
				Candidates:       r.session.Candidates(),
				SlotCount:        1,
				Rounds:           r.session.rounds,
				CollisionPending: r.session.CollisionPending(TechA),
			}, nil
		case cascadeFailed:
			return nil, r.failure
		}
		Debugf("resolver A: %s -> %s (found %d)", prev, r.state, r.session.CandidateCount())
	}
}

func (r *cascadeResolver) wake(ctx context.Context) cascadeState {
	var resp []byte
	err := RetryWithConfig(ctx, r.prims, r.policy.WakeRetry(), func() error {
		var err error
		resp, err = r.session.exchange(TechA, "WUPA", 0, func() ([]byte, error) {
			return r.prims.WakeAll(ctx)
		})
		return err
	})

	sig := classify(err)
	if sig == signalOK {
		if _, perr := parseATQA(resp); perr != nil {
			sig, err = signalCollision, perr
		}
	}
	switch sig {
	case signalOK:
		r.atqa = resp
		return cascadeSingulate
	case signalEmpty:
		return r.fail(StatusTimeout, "WUPA", err)
	case signalAbort:
		return r.fail(StatusAborted, "WUPA", err)
	default:
		r.session.setPending(TechA)
		if r.policy.AbortOnInitialCollision() {
			return r.fail(StatusCollisionPending, "WUPA", err)
		}
		r.collision = true
		return cascadeSingulate
	}
}

// singulate walks the cascade levels of one card.
func (r *cascadeResolver) singulate(ctx context.Context) cascadeState {
	r.session.rounds++
	r.uid = r.uid[:0]
	for level := 1; level <= MaxCascadeLevels; level++ {
		cl, collided, err := r.anticollision(ctx, level)
		if collided {
			r.collision = true
			r.session.setPending(TechA)
		}
		if err != nil {
			return r.singulationError(err)
		}

		sak, err := r.selectLevel(ctx, level, cl)
		if err != nil {
			return r.singulationError(err)
		}
		if sak&sakCascade == 0 {
			r.uid = append(r.uid, cl[:cascadeUIDSize]...)
			r.sak = sak
			return cascadeAccept
		}
		if cl[0] != cascadeTag {
			return r.fail(StatusProtocolError, "Select",
				fmt.Errorf("%w: SAK 0x%02X announces a cascade without CT", ErrProtocol, sak))
		}
		r.uid = append(r.uid, cl[1:cascadeUIDSize]...)
	}
	return r.fail(StatusProtocolError, "Select",
		fmt.Errorf("%w: cascade deeper than %d levels", ErrProtocol, MaxCascadeLevels))
}

// anticollision resolves one cascade level bit by bit, taking the 1 branch
// at every collision.
func (r *cascadeResolver) anticollision(ctx context.Context, level int) ([]byte, bool, error) {
	known := make([]byte, cascadeBits/8)
	knownBits := 0
	collided := false
	for knownBits <= cascadeBits {
		var res *AnticollisionResult
		_, err := r.session.exchange(TechA, fmt.Sprintf("Anticollision%d", level), 0, func() ([]byte, error) {
			var err error
			res, err = r.prims.Anticollision(ctx, level, known[:(knownBits+7)/8], knownBits)
			if res == nil {
				return nil, err
			}
			return res.Data, err
		})
		if err != nil {
			return nil, collided, err
		}
		if res.ValidBits < knownBits || res.ValidBits > cascadeBits || len(res.Data)*8 < res.ValidBits {
			return nil, collided, fmt.Errorf("%w: %d valid bits after %d known", ErrProtocol, res.ValidBits, knownBits)
		}
		copy(known, res.Data)
		knownBits = res.ValidBits
		if !res.Collision {
			break
		}
		collided = true
		if knownBits >= cascadeBits {
			return nil, collided, fmt.Errorf("%w: collision past the BCC", ErrProtocol)
		}
		known[knownBits/8] |= 1 << (knownBits % 8)
		knownBits++
	}
	if knownBits != cascadeBits {
		return nil, collided, fmt.Errorf("%w: %d of %d bits", ErrProtocol, knownBits, cascadeBits)
	}
	if BCC(known[:cascadeUIDSize]) != known[cascadeUIDSize] {
		return nil, collided, fmt.Errorf("%w: BCC mismatch in level %d", ErrProtocol, level)
	}
	return known, collided, nil
}

func (r *cascadeResolver) selectLevel(ctx context.Context, level int, cl []byte) (byte, error) {
	var sak byte
	_, err := r.session.exchange(TechA, fmt.Sprintf("Select%d", level), 0, func() ([]byte, error) {
		var err error
		sak, err = r.prims.Select(ctx, level, cl)
		return []byte{sak}, err
	})
	return sak, err
}

// singulationError ends the pass when no single card can be isolated any
// more. A garbled level counts as a collision.
func (r *cascadeResolver) singulationError(err error) cascadeState {
	switch classify(err) {
	case signalAbort:
		return r.fail(StatusAborted, "Anticollision", err)
	case signalCollision:
		r.session.setPending(TechA)
	}
	Debugf("resolver A: singulation stopped: %v", err)
	if r.session.CandidateCount() > 0 {
		return cascadeDone
	}
	return r.fail(StatusNoDeviceResolved, "Anticollision", err)
}

func (r *cascadeResolver) accept() cascadeState {
	c := Candidate{
		Tech:     TechA,
		ID:       append([]byte(nil), r.uid...),
		SenseRes: append(append([]byte(nil), r.atqa...), r.sak),
		Layer4:   r.sak&sakLayer4 != 0,
		State:    StateDiscovered,
	}
	if _, err := r.session.add(c); err != nil {
		r.failure = err
		return cascadeFailed
	}
	Debugf("resolver A: singulated %s (SAK 0x%02X)", c.IDString(), r.sak)

	if r.session.CandidateCount() >= r.limit {
		return cascadeDone
	}
	if !r.collision {
		r.session.clearPending(TechA)
		return cascadeDone
	}
	return cascadeNext
}

// next halts the card just found and asks the remaining ones to answer.
func (r *cascadeResolver) next(ctx context.Context) cascadeState {
	latest := r.session.latest
	_, err := r.session.exchange(TechA, "HLTA", 0, func() ([]byte, error) {
		return nil, r.prims.Halt(ctx)
	})
	if err != nil {
		if isAbort(err) {
			return r.fail(StatusAborted, "HLTA", err)
		}
		return r.fail(StatusProtocolError, "HLTA", err)
	}
	r.session.setSleeping(latest, true)
	r.session.retries++

	resp, err := r.session.exchange(TechA, "REQA", 0, func() ([]byte, error) {
		return r.prims.Request(ctx)
	})
	r.collision = false
	switch classify(err) {
	case signalEmpty:
		r.session.clearPending(TechA)
		return cascadeDone
	case signalAbort:
		return r.fail(StatusAborted, "REQA", err)
	case signalCollision:
		r.collision = true
		r.session.setPending(TechA)
	}
	r.atqa = resp
	return cascadeSingulate
}

func (r *cascadeResolver) fail(status Status, op string, cause error) cascadeState {
	r.failure = newStatusError(status, ComponentResolver, TechA, op, cause)
	return cascadeFailed
}

// Activate selects the candidate and, for ISO/IEC 14443-4 cards, runs
// RATS and PPS. Cards without layer 4 end activated at layer 3.
func (a *TypeA) Activate(
	ctx context.Context, s *Session, index int, req ActivationRequest,
) (*ProtocolParameters, error) {
	if req.CID > 14 {
		return nil, newStatusError(StatusInvalidParameter, ComponentActivator, TechA, "RATS",
			fmt.Errorf("CID %d out of range", req.CID))
	}
	c, err := checkCandidate(s, TechA, index)
	if err != nil {
		return nil, err
	}
	policy := policyOrDefault(s.policy)

	if needsReawake(s, index) {
		c.State = StateReawaking
		if err := a.reselect(ctx, s, c); err != nil {
			return nil, activationFailed(c, TechA, "Reselect", err)
		}
		s.latest = index
	}
	c.State = StateActivating

	if !c.Layer4 {
		return activated(s, c, index, ProtocolParameters{Tech: TechA}), nil
	}

	fsd := policy.ClipFrameSize(req.FrameSize)
	cid := req.CID
	if policy.ForceCIDZero() {
		cid = 0
	}
	raw, err := s.exchange(TechA, "RATS", 0, func() ([]byte, error) {
		return a.prims.RequestATS(ctx, fsd, cid)
	})
	if err != nil {
		return nil, activationFailed(c, TechA, "RATS", err)
	}
	ats, err := ParseATS(raw)
	if err != nil {
		return nil, activationFailed(c, TechA, "ATS", err)
	}
	c.BitRateCapability = ats.TA
	cidEnabled := ats.CIDSupported && !policy.ForceCIDZero()
	if !cidEnabled {
		cid = 0
	}

	sfgt := StartupGuardTime(ats.SFGI)
	if sfgt > 0 {
		if err := a.prims.SetProtocolConfig(ConfigGuardTime, durationMicros(sfgt)); err != nil {
			return nil, activationFailed(c, TechA, "GuardTime", err)
		}
	}

	rx, tx := NegotiateBitRate(ats.TA, req.RxRate, req.TxRate)
	if rx != Rate106 || tx != Rate106 {
		_, err := s.exchange(TechA, "PPS", 0, func() ([]byte, error) {
			return nil, a.prims.PPS(ctx, cid, rx, tx)
		})
		if err != nil {
			return nil, activationFailed(c, TechA, "PPS", err)
		}
	}

	params := ProtocolParameters{
		Tech:          TechA,
		TxRate:        tx,
		RxRate:        rx,
		FrameSize:     fsd,
		CardFrameSize: ats.FSCI,
		CIDEnabled:    cidEnabled,
		CID:           cid,
		NADEnabled:    ats.NADSupported && !policy.ForceCIDZero(),
		FWI:           ats.FWI,
		FWT:           FrameWaitTime(ats.FWI),
		SFGI:          ats.SFGI,
		SFGT:          sfgt,
		Layer4:        true,
	}
	if err := applyLinkConfig(a.prims, params); err != nil {
		return nil, activationFailed(c, TechA, "ProtocolConfig", err)
	}
	return activated(s, c, index, params), nil
}

// reselect wakes the field with WUPA and selects the candidate by its full
// UID, which needs no anti-collision.
func (a *TypeA) reselect(ctx context.Context, s *Session, c *Candidate) error {
	levels, err := CascadeLevels(c.ID)
	if err != nil {
		return err
	}
	_, err = s.exchange(TechA, "WUPA", 0, func() ([]byte, error) {
		return a.prims.WakeAll(ctx)
	})
	switch classify(err) {
	case signalAbort, signalEmpty:
		return err
	}
	s.wakeAll(TechA)

	for i, cl := range levels {
		level := i + 1
		var sak byte
		_, err := s.exchange(TechA, fmt.Sprintf("Select%d", level), 0, func() ([]byte, error) {
			var err error
			sak, err = a.prims.Select(ctx, level, cl)
			return []byte{sak}, err
		})
		if err != nil {
			return err
		}
		last := i == len(levels)-1
		if last == (sak&sakCascade != 0) {
			return fmt.Errorf("%w: SAK 0x%02X at level %d of %d", errCascade, sak, level, len(levels))
		}
	}
	return nil
}
