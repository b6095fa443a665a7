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

package testing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualField_Answer(t *testing.T) {
	t.Parallel()

	_, err := answer(nil)
	require.ErrorIs(t, err, ErrNoResponse)

	resp, err := answer([][]byte{{0x01}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, resp)

	_, err = answer([][]byte{{0x01}, {0x02}})
	require.ErrorIs(t, err, ErrCollision)
}

func TestVirtualField_Faults(t *testing.T) {
	t.Parallel()

	f := NewVirtualField().AddB(NewCardB(1, 2, 3, 4))
	f.Fail(OpWUPB, ErrNoResponse, 2)

	for range 2 {
		_, err := f.TransceiveB([]byte{0x05, 0x00, 0x08})
		require.ErrorIs(t, err, ErrNoResponse)
	}
	_, err := f.TransceiveB([]byte{0x05, 0x00, 0x08})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Count(OpWUPB))
}

func TestVirtualField_FaultForever(t *testing.T) {
	t.Parallel()

	f := NewVirtualField().AddA(NewCardA([]byte{1, 2, 3, 4}, nil))
	f.Fail(OpWUPA, ErrAborted, -1)
	for range 5 {
		_, err := f.WUPA()
		require.ErrorIs(t, err, ErrAborted)
	}
}

func TestVirtualField_PowerCycle(t *testing.T) {
	t.Parallel()

	b := NewCardB(1, 2, 3, 4)
	a := NewCardA([]byte{1, 2, 3, 4}, nil)
	v := NewCardV(1, 2, 3, 4, 5, 6, 7, 8)
	f := NewVirtualField().AddB(b).AddA(a).AddV(v)
	b.State, a.State, v.State = CardHalt, CardHalt, CardHalt

	f.SetField(false)
	assert.False(t, f.FieldOn())
	_, err := f.TransceiveB([]byte{0x05, 0x00, 0x00})
	require.ErrorIs(t, err, ErrFieldOff)

	f.SetField(true)
	assert.Equal(t, CardIdle, b.State)
	assert.Equal(t, CardIdle, a.State)
	assert.Equal(t, CardReady, v.State)
}

func TestVirtualField_Log(t *testing.T) {
	t.Parallel()

	f := NewVirtualField()
	_, _ = f.REQA()
	_, _ = f.TransceiveB([]byte{0x05, 0x00, 0x00})
	_, _ = f.TransceiveB([]byte{0xEE})
	assert.Equal(t, []string{OpREQA, OpREQB, "?EE"}, f.Log())

	f.ResetLog()
	assert.Empty(t, f.Log())
}

func TestNextSlot(t *testing.T) {
	t.Parallel()

	script := []int{3, 17}
	assert.Equal(t, 3, nextSlot(&script, 0xFF, 16))
	assert.Equal(t, 1, nextSlot(&script, 0xFF, 16))
	assert.Equal(t, 15, nextSlot(&script, 0xFF, 16))
	assert.Equal(t, 0, nextSlot(&script, 0xFF, 1))
}
