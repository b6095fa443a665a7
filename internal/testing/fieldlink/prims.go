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

package fieldlink

import (
	"context"

	"github.com/ZaparooProject/go-nfcdisc"
)

// TypeA implements nfcdisc.TypeAPrimitives.
type TypeA struct {
	*Link
}

func (a *TypeA) WakeAll(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := a.Field.WUPA()
	return resp, MapError(err)
}

func (a *TypeA) Request(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := a.Field.REQA()
	return resp, MapError(err)
}

func (a *TypeA) Anticollision(
	ctx context.Context, level int, known []byte, knownBits int,
) (*nfcdisc.AnticollisionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, valid, collision, err := a.Field.Anticollision(level, known, knownBits)
	if err != nil {
		return nil, MapError(err)
	}
	return &nfcdisc.AnticollisionResult{Data: data, ValidBits: valid, Collision: collision}, nil
}

func (a *TypeA) Select(ctx context.Context, level int, uid []byte) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	sak, err := a.Field.Select(level, uid)
	return sak, MapError(err)
}

func (a *TypeA) Halt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return MapError(a.Field.HLTA())
}

// RequestATS sends RATS with FSDI in the high nibble and CID in the low one.
func (a *TypeA) RequestATS(ctx context.Context, fsdi nfcdisc.FrameSize, cid byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := a.Field.RATS(byte(fsdi)<<4 | cid&0x0F)
	return resp, MapError(err)
}

// PPS sends PPSS, PPS0 (PPS1 present) and PPS1 with DSI in b4..b3 and DRI
// in b2..b1.
func (a *TypeA) PPS(ctx context.Context, cid byte, rx, tx nfcdisc.BitRate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return MapError(a.Field.PPS([]byte{0xD0 | cid&0x0F, 0x11, byte(rx)<<2 | byte(tx)}))
}

var _ nfcdisc.TypeAPrimitives = (*TypeA)(nil)

// TypeV implements nfcdisc.SlotPrimitives for ISO/IEC 15693. Any slot
// exponent above zero is the 16-slot inventory.
type TypeV struct {
	*Link
}

func (v *TypeV) WakeAll(ctx context.Context, slotExp uint8, afi byte, _ bool) ([]byte, error) {
	return v.inventory(ctx, slotExp, afi)
}

func (v *TypeV) WakeAddressed(ctx context.Context, slotExp uint8, afi byte, _ bool) ([]byte, error) {
	return v.inventory(ctx, slotExp, afi)
}

func (v *TypeV) inventory(ctx context.Context, slotExp uint8, afi byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := v.Field.Inventory(slotExp > 0, afi)
	return resp, MapError(err)
}

func (v *TypeV) ProbeSlot(ctx context.Context, slot int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := v.Field.EOF(slot)
	return resp, MapError(err)
}

func (v *TypeV) Halt(ctx context.Context, id []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return MapError(v.Field.StayQuiet(id))
}

func (v *TypeV) SetAddressed(ctx context.Context, id []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := v.Field.SelectV(id)
	return MapError(err)
}

var _ nfcdisc.SlotPrimitives = (*TypeV)(nil)
