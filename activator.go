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
	"fmt"
	"time"
)

// Bit rate capability bits shared by the ATQB protocol info and the Type A
// TA(1) interface byte.
const (
	capSameRateOnly byte = 0x80
	// capCardToReader covers b7..b5: 848, 424 and 212 kbps card to reader.
	capCardToReaderShift = 4
	capRateMask          = 0x07
)

// NegotiateBitRate clips the requested receive (card to reader) and transmit
// (reader to card) rates to the card's capability byte. Each direction gets
// the fastest flagged rate not above the request. A card that only supports
// the same rate in both directions gets the lower of the two.
func NegotiateBitRate(capability byte, rx, tx BitRate) (BitRate, BitRate) {
	symmetric := capability&capSameRateOnly != 0
	if symmetric {
		rx = min(rx, tx)
		tx = rx
	}

	rx = clipRate(rx, (capability>>capCardToReaderShift)&capRateMask)
	tx = clipRate(tx, capability&capRateMask)

	if symmetric && rx != tx {
		rx = min(rx, tx)
		tx = rx
	}
	return rx, tx
}

// clipRate walks down from req to the first rate flagged in bits, where bit 0
// is 212 kbps, bit 1 424 kbps and bit 2 848 kbps. 106 kbps is always allowed.
func clipRate(req BitRate, bits byte) BitRate {
	for r := min(req, Rate848); r > Rate106; r-- {
		if bits&(1<<(r-1)) != 0 {
			return r
		}
	}
	return Rate106
}

// checkCandidate validates an activation target.
func checkCandidate(s *Session, tech Tech, index int) (*Candidate, error) {
	if err := s.checkIndex(index); err != nil {
		return nil, err
	}
	c := &s.candidates[index]
	if c.Tech != tech {
		return nil, newStatusError(StatusInvalidParameter, ComponentActivator, tech, "candidate",
			fmt.Errorf("candidate %d is %s", index, c.Tech))
	}
	return c, nil
}

// needsReawake reports whether the candidate must be woken before it can be
// addressed.
func needsReawake(s *Session, index int) bool {
	return index != s.latest || s.candidates[index].Sleeping
}

// applyLinkConfig pushes the negotiated rates and timings to the transceiver
// when they differ from its current configuration.
func applyLinkConfig(t Transceiver, p ProtocolParameters) error {
	settings := []struct {
		key   ConfigKey
		value uint32
	}{
		{ConfigTxRate, uint32(p.TxRate)},
		{ConfigRxRate, uint32(p.RxRate)},
		{ConfigFrameWaitTime, durationMicros(p.FWT)},
	}
	for _, st := range settings {
		cur, err := t.ProtocolConfig(st.key)
		if err == nil && cur == st.value {
			continue
		}
		if err := t.SetProtocolConfig(st.key, st.value); err != nil {
			return fmt.Errorf("set %s: %w", st.key, err)
		}
	}
	return nil
}

func durationMicros(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}

// activated records a successful activation on the session.
func activated(s *Session, c *Candidate, index int, p ProtocolParameters) *ProtocolParameters {
	c.RxRate = p.RxRate
	c.TxRate = p.TxRate
	c.State = StateActivated
	c.Sleeping = false
	s.latest = index
	s.setParameters(p)
	Debugf("activator %s: %s activated at %s/%s, FSD %s, CID %v/%d, FWT %s",
		c.Tech, c.IDString(), p.RxRate, p.TxRate, p.FrameSize, p.CIDEnabled, p.CID, p.FWT)
	out := p
	return &out
}

func activationFailed(c *Candidate, tech Tech, op string, err error) error {
	c.State = StateFailed
	return newStatusError(statusFromErr(err), ComponentActivator, tech, op, err)
}
