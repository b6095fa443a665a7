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

// detectOutcome classifies the answer to a single presence probe. A valid
// answer seeds one candidate; a garbled one leaves a pending collision for
// the resolver. No retries happen here.
func detectOutcome(
	s *Session, tech Tech, resp []byte, err error, parse func([]byte) (Candidate, error),
) (Presence, error) {
	switch classify(err) {
	case signalAbort:
		return NotPresent, newStatusError(StatusAborted, ComponentDetector, tech, opWakeAll, err)
	case signalEmpty:
		Debugf("detector %s: no answer", tech)
		return NotPresent, nil
	case signalCollision:
		Debugf("detector %s: garbled answer: %v", tech, err)
		s.setPending(tech)
		s.detected.Add(tech)
		return Present, nil
	}

	c, perr := parse(resp)
	if perr != nil {
		Debugf("detector %s: malformed answer %s: %v", tech, formatHex(resp), perr)
		s.setPending(tech)
		s.detected.Add(tech)
		return Present, nil
	}
	s.seed(c)
	s.detected.Add(tech)
	return Present, nil
}

// detectSlotted probes a slotted technology with one slot addressed to all
// cards.
func detectSlotted(ctx context.Context, s *Session, prims SlotPrimitives, scheme slotScheme) (Presence, error) {
	resp, err := s.exchange(scheme.tech, opWakeAll, 0, func() ([]byte, error) {
		return prims.WakeAll(ctx, 0, scheme.afi, scheme.extended)
	})
	return detectOutcome(s, scheme.tech, resp, err, scheme.parse)
}
