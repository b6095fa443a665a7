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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCandidateFromInventory(t *testing.T) {
	t.Parallel()

	c, err := candidateFromInventory([]byte{0x00, 0x00, 1, 2, 3, 4, 5, 6, 7, 0xE0})
	require.NoError(t, err)
	assert.Equal(t, TechV, c.Tech)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 0xE0}, c.ID)

	_, err = candidateFromInventory([]byte{0x00, 0x00, 1})
	require.ErrorIs(t, err, ErrProtocol)
	_, err = candidateFromInventory([]byte{0x01, 0x00, 1, 2, 3, 4, 5, 6, 7, 0xE0})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestActivateTypeVStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	uid := []byte{1, 2, 3, 4, 5, 6, 7, 0xE0}

	tests := []struct {
		name     string
		sleeping bool
		want     CandidateState
	}{
		{name: "latest card", want: StateActivating},
		{name: "quiet card", sleeping: true, want: StateReawaking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewSession(2)
			idx, err := s.add(Candidate{Tech: TechV, ID: uid, State: StateDiscovered})
			require.NoError(t, err)
			s.setSleeping(idx, tt.sleeping)

			var during CandidateState
			m := &mockTypeB{}
			m.On("SetAddressed", ctx, uid).Return(nil).Run(func(mock.Arguments) {
				c, _ := s.Candidate(idx)
				during = c.State
			}).Once()

			p, err := NewTypeV(m, TypeVConfig{}).Activate(ctx, s, idx, ActivationRequest{})
			require.NoError(t, err)
			m.AssertExpectations(t)
			assert.Equal(t, tt.want, during)
			assert.Equal(t, TechV, p.Tech)

			c, err := s.Candidate(idx)
			require.NoError(t, err)
			assert.Equal(t, StateActivated, c.State)
			assert.False(t, c.Sleeping)
		})
	}
}

func TestActivateTypeVSelectFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSession(1)
	idx, err := s.add(Candidate{Tech: TechV, ID: []byte{9, 9, 9, 9, 9, 9, 9, 0xE0}})
	require.NoError(t, err)

	m := &mockTypeB{}
	m.On("SetAddressed", ctx, mock.Anything).Return(ErrTimeout).Once()

	_, err = NewTypeV(m, TypeVConfig{}).Activate(ctx, s, idx, ActivationRequest{})
	require.ErrorIs(t, err, ErrTimeout)
	c, _ := s.Candidate(idx)
	assert.Equal(t, StateFailed, c.State)
	assert.False(t, errors.Is(err, ErrProtocol))
}
