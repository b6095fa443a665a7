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
	"bytes"
	"context"
	"fmt"
)

// Type B command frames (ISO/IEC 14443-3 7.7 - 7.11). CRC_B is added and
// checked by the link layer.
const (
	cmdAPf    = 0x05
	cmdHLTB   = 0x50
	cmdATTRIB = 0x1D

	reqbWakeup   = 0x08
	reqbExtended = 0x10
)

// EncodeREQB builds REQB, or WUPB when wakeup is set.
func EncodeREQB(slotExp uint8, afi byte, extended, wakeup bool) []byte {
	param := slotExp & 0x07
	if wakeup {
		param |= reqbWakeup
	}
	if extended {
		param |= reqbExtended
	}
	return []byte{cmdAPf, afi, param}
}

// EncodeSlotMarker builds the Slot-MARKER for the zero-based slot (1..15).
func EncodeSlotMarker(slot int) []byte {
	return []byte{byte(slot&0x0F)<<4 | cmdAPf}
}

// EncodeHLTB builds HLTB for a PUPI.
func EncodeHLTB(pupi []byte) []byte {
	return append([]byte{cmdHLTB}, pupi...)
}

// EncodeATTRIB builds ATTRIB. Param2 carries the card to reader divisor in
// b8..b7, the reader to card divisor in b6..b5 and FSDI in b4..b1.
func EncodeATTRIB(pupi []byte, protocolType byte, fsdi FrameSize, cid byte, rx, tx BitRate) []byte {
	frame := make([]byte, 0, 9)
	frame = append(frame, cmdATTRIB)
	frame = append(frame, pupi...)
	return append(frame,
		0x00,
		byte(rx&0x03)<<6|byte(tx&0x03)<<4|byte(fsdi&0x0F),
		protocolType&0x0F,
		cid&0x0F,
	)
}

// DecodeATTRIBAnswer decodes the first byte of the ATTRIB answer: MBLI in
// the high nibble and CID in the low nibble.
func DecodeATTRIBAnswer(resp []byte) (*Layer4Response, error) {
	if len(resp) < 1 {
		return nil, fmt.Errorf("%w: empty ATTRIB answer", ErrProtocol)
	}
	return &Layer4Response{
		Answer: append([]byte(nil), resp...),
		MBLI:   resp[0] >> 4,
		CID:    resp[0] & 0x0F,
	}, nil
}

// FrameExchanger sends one raw frame over the RF link and returns the
// card's answer.
type FrameExchanger interface {
	Transceiver
	Exchange(ctx context.Context, frame []byte) ([]byte, error)
}

// FrameTypeB implements TypeBPrimitives on top of a raw frame exchanger.
type FrameTypeB struct {
	FrameExchanger
	addressed []byte
}

// NewFrameTypeB wraps x with the Type B command set.
func NewFrameTypeB(x FrameExchanger) *FrameTypeB {
	return &FrameTypeB{FrameExchanger: x}
}

func (f *FrameTypeB) WakeAll(ctx context.Context, slotExp uint8, afi byte, extended bool) ([]byte, error) {
	return f.Exchange(ctx, EncodeREQB(slotExp, afi, extended, true))
}

func (f *FrameTypeB) ProbeSlot(ctx context.Context, slot int) ([]byte, error) {
	if slot < 1 || slot > 15 {
		return nil, fmt.Errorf("%w: slot %d", ErrInvalidParameter, slot)
	}
	return f.Exchange(ctx, EncodeSlotMarker(slot))
}

func (f *FrameTypeB) WakeAddressed(ctx context.Context, slotExp uint8, afi byte, extended bool) ([]byte, error) {
	return f.Exchange(ctx, EncodeREQB(slotExp, afi, extended, false))
}

func (f *FrameTypeB) Halt(ctx context.Context, id []byte) error {
	resp, err := f.Exchange(ctx, EncodeHLTB(id))
	if err != nil {
		return err
	}
	if !bytes.Equal(resp, []byte{0x00}) {
		return fmt.Errorf("%w: HLTB answer %s", ErrProtocol, formatHex(resp))
	}
	return nil
}

func (f *FrameTypeB) SetAddressed(_ context.Context, id []byte) error {
	if len(id) != 4 {
		return fmt.Errorf("%w: PUPI length %d", ErrInvalidParameter, len(id))
	}
	f.addressed = append(f.addressed[:0], id...)
	return nil
}

func (f *FrameTypeB) ActivateLayer4(ctx context.Context, req Layer4Request) (*Layer4Response, error) {
	pupi := req.ID
	if len(pupi) == 0 {
		pupi = f.addressed
	}
	if len(pupi) != 4 {
		return nil, fmt.Errorf("%w: no PUPI addressed", ErrInvalidParameter)
	}
	atqb, err := ParseATQB(req.SenseRes)
	if err != nil {
		return nil, err
	}
	resp, err := f.Exchange(ctx, EncodeATTRIB(pupi, atqb.ProtocolType, req.FrameSize, req.CID, req.RxRate, req.TxRate))
	if err != nil {
		return nil, err
	}
	return DecodeATTRIBAnswer(resp)
}

var _ TypeBPrimitives = (*FrameTypeB)(nil)
