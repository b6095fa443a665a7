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

import "context"

// maxResolutionRounds bounds a pass that keeps finding cards at the same
// slot count.
const maxResolutionRounds = 64

const (
	opWakeAll       = "WakeAll"
	opWakeAddressed = "WakeAddressed"
	opProbeSlot     = "ProbeSlot"
	opHalt          = "Halt"
	opRoundEnd      = "RoundEnd"
	opPrecondition  = "Precondition"
)

// slotScheme describes one slotted technology to the resolver.
type slotScheme struct {
	// parse turns a sense response into a candidate. An error marks the
	// response as garbled.
	parse func(resp []byte) (Candidate, error)
	// escalate returns the next slot exponent after a round that collided
	// without finding anything.
	escalate func(exp uint8) uint8
	tech     Tech
	maxExp   uint8
	afi      byte
	extended bool
}

type resolverState int

const (
	stateInit resolverState = iota
	stateRoundStart
	stateSlotProbe
	stateSlotCollision
	stateSlotEmpty
	stateSlotResolved
	stateRoundEnd
	stateRetry
	stateDone
	stateFailed
)

func (s resolverState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateRoundStart:
		return "RoundStart"
	case stateSlotProbe:
		return "SlotProbe"
	case stateSlotCollision:
		return "SlotCollision"
	case stateSlotEmpty:
		return "SlotEmpty"
	case stateSlotResolved:
		return "SlotResolved"
	case stateRoundEnd:
		return "RoundEnd"
	case stateRetry:
		return "Retry"
	case stateDone:
		return "Done"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// slotResolver is the slotted anti-collision state machine. Slot 0 of every
// round is the answer to the wake command that opened it; slots 1 .. n-1 are
// probed one by one.
type slotResolver struct {
	prims   SlotPrimitives
	policy  Policy
	session *Session
	failure error
	found   Candidate
	scheme  slotScheme
	limit   int
	slot    int
	// roundFound counts candidates accepted in the current round.
	roundFound int
	// awake is the index of the last accepted candidate that was not halted.
	awake          int
	state          resolverState
	roundCollision bool
	firstRound     bool
	escalate       bool
}

func resolveSlotted(
	ctx context.Context, s *Session, prims SlotPrimitives, scheme slotScheme, policy Policy,
) (*Resolution, error) {
	policy = policyOrDefault(policy)
	tech := scheme.tech

	// A zero limit is a "don't even try" policy: no exchange at all.
	if s.DeviceLimit(tech) <= 0 {
		Debugf("resolver %s: device limit is zero (collision pending: %v)", tech, s.CollisionPending(tech))
		return nil, newStatusError(StatusNoDeviceResolved, ComponentResolver, tech, opPrecondition, nil)
	}

	r := &slotResolver{
		prims:   prims,
		policy:  policy,
		session: s,
		scheme:  scheme,
		limit:   s.effectiveLimit(tech),
		awake:   -1,
		state:   stateInit,
	}
	return r.run(ctx)
}

func (r *slotResolver) run(ctx context.Context) (*Resolution, error) {
	for {
		prev := r.state
		switch r.state {
		case stateInit:
			r.state = r.init()
		case stateRoundStart:
			r.state = r.roundStart(ctx)
		case stateSlotProbe:
			r.state = r.probe(ctx)
		case stateSlotEmpty:
			r.state = stateSlotProbe
		case stateSlotCollision:
			r.state = r.collision()
		case stateSlotResolved:
			r.state = r.resolved(ctx)
		case stateRoundEnd:
			r.state = r.roundEnd()
		case stateRetry:
			r.state = r.retry(ctx)
		case stateDone:
			return r.result(), nil
		case stateFailed:
			return nil, r.failure
		}
		Debugf("resolver %s: %s -> %s (slot %d/%d, found %d)", r.scheme.tech, prev, r.state,
			r.slot, r.session.SlotCount(), r.session.CandidateCount())
	}
}

func (r *slotResolver) init() resolverState {
	r.session.beginPass(r.scheme.tech, r.policy)
	r.firstRound = true
	r.openRound()
	return stateRoundStart
}

func (r *slotResolver) openRound() {
	r.slot = 0
	r.roundFound = 0
	r.roundCollision = false
	r.session.rounds++
}

// roundStart issues the wake that opens the round and classifies slot 0.
func (r *slotResolver) roundStart(ctx context.Context) resolverState {
	if r.firstRound {
		r.firstRound = false
		return r.initialWake(ctx)
	}

	exp := r.session.slotExp
	resp, err := r.session.exchange(r.scheme.tech, opWakeAddressed, 0, func() ([]byte, error) {
		return r.prims.WakeAddressed(ctx, exp, r.scheme.afi, r.scheme.extended)
	})
	return r.outcome(opWakeAddressed, resp, err)
}

// initialWake sends the wake addressed to all cards with one slot, retrying
// timeouts as far as the policy allows.
func (r *slotResolver) initialWake(ctx context.Context) resolverState {
	var resp []byte
	err := RetryWithConfig(ctx, r.prims, r.policy.WakeRetry(), func() error {
		var err error
		resp, err = r.session.exchange(r.scheme.tech, opWakeAll, 0, func() ([]byte, error) {
			return r.prims.WakeAll(ctx, 0, r.scheme.afi, r.scheme.extended)
		})
		return err
	})

	sig := classify(err)
	if sig == signalOK {
		c, perr := r.scheme.parse(resp)
		if perr == nil {
			r.found = c
			return stateSlotResolved
		}
		sig, err = signalCollision, perr
	}

	switch sig {
	case signalEmpty:
		return r.fail(StatusTimeout, opWakeAll, err)
	case signalAbort:
		return r.fail(StatusAborted, opWakeAll, err)
	default:
		r.session.setPending(r.scheme.tech)
		if r.policy.AbortOnInitialCollision() {
			return r.fail(StatusCollisionPending, opWakeAll, err)
		}
		return stateSlotCollision
	}
}

func (r *slotResolver) probe(ctx context.Context) resolverState {
	r.slot++
	if r.slot >= r.session.SlotCount() {
		return stateRoundEnd
	}
	slot := r.slot
	resp, err := r.session.exchange(r.scheme.tech, opProbeSlot, slot, func() ([]byte, error) {
		return r.prims.ProbeSlot(ctx, slot)
	})
	return r.outcome(opProbeSlot, resp, err)
}

// outcome classifies the answer of a single slot.
func (r *slotResolver) outcome(op string, resp []byte, err error) resolverState {
	switch classify(err) {
	case signalOK:
		c, perr := r.scheme.parse(resp)
		if perr != nil {
			Debugf("resolver %s: slot %d garbled: %v", r.scheme.tech, r.slot, perr)
			return stateSlotCollision
		}
		r.found = c
		return stateSlotResolved
	case signalEmpty:
		return stateSlotEmpty
	case signalAbort:
		return r.fail(StatusAborted, op, err)
	default:
		return stateSlotCollision
	}
}

func (r *slotResolver) collision() resolverState {
	r.roundCollision = true
	r.session.setPending(r.scheme.tech)
	return stateSlotProbe
}

// resolved accepts the card that answered alone in the current slot. The
// previous card of the round is halted before the new one is recorded.
func (r *slotResolver) resolved(ctx context.Context) resolverState {
	if r.awake >= 0 {
		if next, ok := r.halt(ctx, r.awake); !ok {
			return next
		}
	}

	idx, err := r.session.add(r.found)
	if err != nil {
		r.failure = err
		return stateFailed
	}
	r.awake = idx
	r.roundFound++
	Debugf("resolver %s: singulated %s in slot %d", r.scheme.tech, r.found.IDString(), r.slot)

	if r.session.CandidateCount() >= r.limit {
		return stateDone
	}
	return stateSlotProbe
}

func (r *slotResolver) roundEnd() resolverState {
	s := r.session
	if !r.roundCollision {
		s.clearPending(r.scheme.tech)
		return stateDone
	}
	if s.CandidateCount() >= r.limit || s.rounds >= maxResolutionRounds {
		return r.doneOrNone()
	}
	if r.roundFound > 0 {
		// Cards answered alongside the collision; their neighbours may have
		// picked the same slot again, so retry at the same slot count.
		return stateRetry
	}
	if s.slotExp >= r.scheme.maxExp {
		return r.doneOrNone()
	}
	r.escalate = true
	return stateRetry
}

func (r *slotResolver) doneOrNone() resolverState {
	if r.session.CandidateCount() > 0 {
		return stateDone
	}
	return r.fail(StatusNoDeviceResolved, opRoundEnd, nil)
}

// retry halts the card left awake by the previous round and re-opens a round
// for the colliding cards.
func (r *slotResolver) retry(ctx context.Context) resolverState {
	if r.awake >= 0 {
		if next, ok := r.halt(ctx, r.awake); !ok {
			return next
		}
	}
	s := r.session
	if r.escalate {
		s.slotExp = min(r.scheme.escalate(s.slotExp), r.scheme.maxExp)
		r.escalate = false
	}
	s.retries++
	r.openRound()
	return stateRoundStart
}

func (r *slotResolver) halt(ctx context.Context, idx int) (resolverState, bool) {
	id := r.session.candidates[idx].ID
	_, err := r.session.exchange(r.scheme.tech, opHalt, 0, func() ([]byte, error) {
		return nil, r.prims.Halt(ctx, id)
	})
	if err != nil {
		if isAbort(err) {
			return r.fail(StatusAborted, opHalt, err), false
		}
		return r.fail(StatusProtocolError, opHalt, err), false
	}
	r.session.setSleeping(idx, true)
	r.awake = -1
	return r.state, true
}

func (r *slotResolver) fail(status Status, op string, cause error) resolverState {
	r.failure = newStatusError(status, ComponentResolver, r.scheme.tech, op, cause)
	return stateFailed
}

func (r *slotResolver) result() *Resolution {
	s := r.session
	return &Resolution{
		Tech:             r.scheme.tech,
		Status:           StatusSuccess,
		Candidates:       s.Candidates(),
		SlotCount:        s.SlotCount(),
		Rounds:           s.rounds,
		CollisionPending: s.CollisionPending(r.scheme.tech),
	}
}
