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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBCC(t *testing.T) {
	t.Parallel()

	assert.Equal(t, byte(0x44), BCC([]byte{0x11, 0x22, 0x33, 0x44}))
	assert.Equal(t, byte(0x00), BCC(nil))
}

func TestCascadeLevels(t *testing.T) {
	t.Parallel()

	levels, err := CascadeLevels([]byte{0x11, 0x22, 0x33, 0x44})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x11, 0x22, 0x33, 0x44, 0x44}}, levels)

	levels, err = CascadeLevels([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, []byte{0x88, 0x04, 0x11, 0x22, 0x88 ^ 0x04 ^ 0x11 ^ 0x22}, levels[0])
	assert.Equal(t, []byte{0x33, 0x44, 0x55, 0x66, 0x33 ^ 0x44 ^ 0x55 ^ 0x66}, levels[1])

	levels, err = CascadeLevels(make([]byte, 10))
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, byte(0x88), levels[1][0])
	assert.Equal(t, byte(0x00), levels[2][0])

	_, err = CascadeLevels([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestParseATS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want *ATS
		name string
		raw  []byte
	}{
		{
			name: "length byte only",
			raw:  []byte{0x01},
			want: &ATS{FSCI: FSD32, FWI: 4, CIDSupported: true},
		},
		{
			name: "all interface bytes",
			raw:  []byte{0x07, 0x78, 0x33, 0x81, 0x02, 0xC1, 0x05},
			want: &ATS{
				FSCI:         FSD256,
				TA:           0x33,
				FWI:          8,
				SFGI:         1,
				CIDSupported: true,
				Historical:   []byte{0xC1, 0x05},
			},
		},
		{
			name: "TC without CID",
			raw:  []byte{0x03, 0x45, 0x01},
			want: &ATS{FSCI: FSD64, FWI: 4, NADSupported: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseATS(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseATSErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseATS(nil)
	require.ErrorIs(t, err, ErrProtocol)
	_, err = ParseATS([]byte{0x05, 0x78})
	require.ErrorIs(t, err, ErrProtocol)
	_, err = ParseATS([]byte{0x03, 0x70, 0x00})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestParseATQA(t *testing.T) {
	t.Parallel()

	c, err := parseATQA([]byte{0x44, 0x00})
	require.NoError(t, err)
	assert.Equal(t, TechA, c.Tech)
	assert.Empty(t, c.ID)

	_, err = parseATQA([]byte{0x44})
	require.ErrorIs(t, err, ErrProtocol)
}
