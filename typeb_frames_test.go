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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExchanger answers frames from a queue and records what was sent.
type scriptedExchanger struct {
	config  map[ConfigKey]uint32
	answers []scriptedAnswer
	sent    [][]byte
}

type scriptedAnswer struct {
	err  error
	resp []byte
}

func (x *scriptedExchanger) Exchange(_ context.Context, frame []byte) ([]byte, error) {
	x.sent = append(x.sent, append([]byte(nil), frame...))
	if len(x.answers) == 0 {
		return nil, ErrTimeout
	}
	a := x.answers[0]
	x.answers = x.answers[1:]
	return a.resp, a.err
}

func (*scriptedExchanger) Wait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (x *scriptedExchanger) ProtocolConfig(key ConfigKey) (uint32, error) {
	return x.config[key], nil
}

func (x *scriptedExchanger) SetProtocolConfig(key ConfigKey, value uint32) error {
	if x.config == nil {
		x.config = make(map[ConfigKey]uint32)
	}
	x.config[key] = value
	return nil
}

func testATQB(pupi [4]byte, bitRate, protoInfo, fwiADCFO byte) []byte {
	b := []byte{0x50}
	b = append(b, pupi[:]...)
	b = append(b, 0xA1, 0xA2, 0xA3, 0xA4)
	return append(b, bitRate, protoInfo, fwiADCFO)
}

func TestEncodeREQB(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		want     []byte
		slotExp  uint8
		afi      byte
		extended bool
		wakeup   bool
	}{
		{"REQB one slot", []byte{0x05, 0x00, 0x00}, 0, 0, false, false},
		{"WUPB one slot", []byte{0x05, 0x00, 0x08}, 0, 0, false, true},
		{"REQB sixteen slots", []byte{0x05, 0x00, 0x04}, 4, 0, false, false},
		{"WUPB extended with AFI", []byte{0x05, 0x10, 0x19}, 1, 0x10, true, true},
		{"slot exponent masked", []byte{0x05, 0x00, 0x07}, 0x0F, 0, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EncodeREQB(tt.slotExp, tt.afi, tt.extended, tt.wakeup))
		})
	}
}

func TestEncodeSlotMarkerAndHLTB(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x15}, EncodeSlotMarker(1))
	assert.Equal(t, []byte{0xF5}, EncodeSlotMarker(15))
	assert.Equal(t, []byte{0x50, 0x01, 0x02, 0x03, 0x04}, EncodeHLTB([]byte{1, 2, 3, 4}))
}

func TestEncodeATTRIB(t *testing.T) {
	t.Parallel()

	frame := EncodeATTRIB([]byte{1, 2, 3, 4}, 0x01, FSD256, 3, Rate424, Rate212)
	assert.Equal(t, []byte{0x1D, 0x01, 0x02, 0x03, 0x04, 0x00, 0x98, 0x01, 0x03}, frame)

	frame = EncodeATTRIB([]byte{1, 2, 3, 4}, 0xF1, FSD64, 0x1F, Rate106, Rate106)
	assert.Equal(t, []byte{0x1D, 0x01, 0x02, 0x03, 0x04, 0x00, 0x05, 0x01, 0x0F}, frame)
}

func TestDecodeATTRIBAnswer(t *testing.T) {
	t.Parallel()

	resp, err := DecodeATTRIBAnswer([]byte{0x32, 0xAA})
	require.NoError(t, err)
	assert.Equal(t, uint8(3), resp.MBLI)
	assert.Equal(t, byte(2), resp.CID)
	assert.Equal(t, []byte{0x32, 0xAA}, resp.Answer)

	_, err = DecodeATTRIBAnswer(nil)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestParseATQB(t *testing.T) {
	t.Parallel()

	raw := testATQB([4]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0xB3, 0x81, 0x47)
	a, err := ParseATQB(raw)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0xDE, 0xAD, 0xBE, 0xEF}, a.PUPI)
	assert.Equal(t, [4]byte{0xA1, 0xA2, 0xA3, 0xA4}, a.AppData)
	assert.Equal(t, byte(0xB3), a.BitRate)
	assert.Equal(t, FSD256, a.MaxFrameSize)
	assert.Equal(t, byte(0x01), a.ProtocolType)
	assert.Equal(t, uint8(4), a.FWI)
	assert.Equal(t, uint8(1), a.ADC)
	assert.True(t, a.Layer4())
	assert.True(t, a.CIDSupported())
	assert.True(t, a.NADSupported())
	assert.False(t, a.Extended)

	ext, err := ParseATQB(append(raw, 0x30))
	require.NoError(t, err)
	assert.True(t, ext.Extended)
	assert.Equal(t, uint8(3), ext.SFGI)

	_, err = ParseATQB(raw[:11])
	require.ErrorIs(t, err, ErrProtocol)

	bad := append([]byte(nil), raw...)
	bad[0] = 0x51
	_, err = ParseATQB(bad)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestFrameTypeB_Commands(t *testing.T) {
	t.Parallel()

	atqb := testATQB([4]byte{1, 2, 3, 4}, 0x00, 0x81, 0x41)
	x := &scriptedExchanger{answers: []scriptedAnswer{
		{resp: atqb},
		{err: ErrTimeout},
		{resp: atqb},
		{resp: []byte{0x00}},
	}}
	b := NewFrameTypeB(x)
	ctx := context.Background()

	resp, err := b.WakeAll(ctx, 0, 0, false)
	require.NoError(t, err)
	assert.Equal(t, atqb, resp)

	_, err = b.ProbeSlot(ctx, 3)
	require.ErrorIs(t, err, ErrTimeout)

	_, err = b.WakeAddressed(ctx, 2, 0, true)
	require.NoError(t, err)

	require.NoError(t, b.Halt(ctx, []byte{1, 2, 3, 4}))

	assert.Equal(t, [][]byte{
		{0x05, 0x00, 0x08},
		{0x35},
		{0x05, 0x00, 0x12},
		{0x50, 0x01, 0x02, 0x03, 0x04},
	}, x.sent)
}

func TestFrameTypeB_Errors(t *testing.T) {
	t.Parallel()

	x := &scriptedExchanger{answers: []scriptedAnswer{{resp: []byte{0x01}}}}
	b := NewFrameTypeB(x)
	ctx := context.Background()

	_, err := b.ProbeSlot(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, err = b.ProbeSlot(ctx, 16)
	require.ErrorIs(t, err, ErrInvalidParameter)

	err = b.Halt(ctx, []byte{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrProtocol)

	require.ErrorIs(t, b.SetAddressed(ctx, []byte{1, 2}), ErrInvalidParameter)

	_, err = b.ActivateLayer4(ctx, Layer4Request{})
	require.ErrorIs(t, err, ErrInvalidParameter)
	assert.Len(t, x.sent, 1)
}

func TestFrameTypeB_ActivateLayer4(t *testing.T) {
	t.Parallel()

	atqb := testATQB([4]byte{1, 2, 3, 4}, 0x00, 0x81, 0x41)
	x := &scriptedExchanger{answers: []scriptedAnswer{{resp: []byte{0x12}}}}
	b := NewFrameTypeB(x)
	ctx := context.Background()

	require.NoError(t, b.SetAddressed(ctx, []byte{1, 2, 3, 4}))
	resp, err := b.ActivateLayer4(ctx, Layer4Request{
		SenseRes:  atqb,
		FrameSize: FSD128,
		CID:       2,
		RxRate:    Rate212,
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(1), resp.MBLI)
	assert.Equal(t, byte(2), resp.CID)
	assert.Equal(t, []byte{0x1D, 0x01, 0x02, 0x03, 0x04, 0x00, 0x47, 0x01, 0x02}, x.sent[0])
}

func TestFrameTypeB_ActivateLayer4PropagatesLinkError(t *testing.T) {
	t.Parallel()

	cause := errors.New("crc")
	x := &scriptedExchanger{answers: []scriptedAnswer{{err: cause}}}
	b := NewFrameTypeB(x)

	_, err := b.ActivateLayer4(context.Background(), Layer4Request{
		SenseRes: testATQB([4]byte{9, 9, 9, 9}, 0, 0x81, 0x41),
		ID:       []byte{9, 9, 9, 9},
	})
	require.ErrorIs(t, err, cause)
}
