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
	"time"
)

// Transceiver primitives report their outcome through the error:
//   - nil: a single, well-formed response
//   - ErrTimeout: no response within the link deadline
//   - ErrAborted or a context error: the exchange was cancelled
//   - ErrProtocol: a response with unexpected content or length
//   - anything else (usually ErrTransmission): a garbled response, which
//     during anti-collision means more than one card answered

// ConfigKey selects a link-layer setting.
type ConfigKey int

const (
	// ConfigTxRate is the reader to card bit rate (BitRate code).
	ConfigTxRate ConfigKey = iota
	// ConfigRxRate is the card to reader bit rate (BitRate code).
	ConfigRxRate
	// ConfigGuardTime is the start-up frame guard time in microseconds.
	ConfigGuardTime
	// ConfigFrameWaitTime is the frame waiting time in microseconds.
	ConfigFrameWaitTime
)

func (k ConfigKey) String() string {
	switch k {
	case ConfigTxRate:
		return "tx-rate"
	case ConfigRxRate:
		return "rx-rate"
	case ConfigGuardTime:
		return "guard-time"
	case ConfigFrameWaitTime:
		return "frame-wait-time"
	default:
		return "unknown"
	}
}

// Transceiver is the link-layer control shared by every technology.
type Transceiver interface {
	// Wait blocks for at least d. It is the only suspension point besides the
	// exchanges themselves.
	Wait(ctx context.Context, d time.Duration) error
	ProtocolConfig(key ConfigKey) (uint32, error)
	SetProtocolConfig(key ConfigKey, value uint32) error
}

// SlotPrimitives are the exchanges a slotted anti-collision scheme needs.
// Type B and Type V both provide them.
type SlotPrimitives interface {
	Transceiver
	// WakeAll wakes every card in the field (including halted ones) and opens
	// a round of 1<<slotExp slots. The response is the answer in slot 0.
	WakeAll(ctx context.Context, slotExp uint8, afi byte, extended bool) ([]byte, error)
	// ProbeSlot collects the answer in slot (1 .. slotCount-1).
	ProbeSlot(ctx context.Context, slot int) ([]byte, error)
	// WakeAddressed re-opens a round for cards that are awake but not yet
	// singulated. Halted cards do not answer.
	WakeAddressed(ctx context.Context, slotExp uint8, afi byte, extended bool) ([]byte, error)
	// Halt puts the card with id to sleep.
	Halt(ctx context.Context, id []byte) error
	// SetAddressed makes id the target of following addressed exchanges.
	SetAddressed(ctx context.Context, id []byte) error
}

// Layer4Request carries the negotiated values into the layer-4 activation
// exchange.
type Layer4Request struct {
	SenseRes  []byte
	ID        []byte
	FrameSize FrameSize
	CID       byte
	RxRate    BitRate
	TxRate    BitRate
}

// Layer4Response is the card's answer to layer-4 activation.
type Layer4Response struct {
	Answer []byte
	CID    byte
	MBLI   uint8
}

// TypeBPrimitives adds ATTRIB to the slotted primitives.
type TypeBPrimitives interface {
	SlotPrimitives
	ActivateLayer4(ctx context.Context, req Layer4Request) (*Layer4Response, error)
}

// AnticollisionResult is the outcome of one Type A ANTICOLLISION command.
type AnticollisionResult struct {
	// Data holds the known bits of the cascade level (UID CLn and BCC), least
	// significant bit first within each byte.
	Data []byte
	// ValidBits is the number of valid bits in Data.
	ValidBits int
	// Collision reports a bit collision at position ValidBits.
	Collision bool
}

// TypeAPrimitives are the ISO/IEC 14443-3 Type A exchanges.
type TypeAPrimitives interface {
	Transceiver
	// WakeAll sends WUPA and returns the ATQA.
	WakeAll(ctx context.Context) ([]byte, error)
	// Request sends REQA and returns the ATQA. Halted cards do not answer.
	Request(ctx context.Context) ([]byte, error)
	Anticollision(ctx context.Context, level int, known []byte, knownBits int) (*AnticollisionResult, error)
	// Select selects the card with the complete cascade level uid (4 bytes
	// plus BCC) and returns SAK.
	Select(ctx context.Context, level int, uid []byte) (byte, error)
	// Halt sends HLTA to the selected card.
	Halt(ctx context.Context) error
	// RequestATS sends RATS and returns the ATS.
	RequestATS(ctx context.Context, fsdi FrameSize, cid byte) ([]byte, error)
	// PPS changes the bit rates of an activated card.
	PPS(ctx context.Context, cid byte, rx, tx BitRate) error
}
