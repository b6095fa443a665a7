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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockTypeB records every primitive call so tests can assert the exact
// exchange sequence a resolution produces.
type mockTypeB struct {
	mock.Mock
}

func (m *mockTypeB) Wait(ctx context.Context, d time.Duration) error {
	return m.Called(ctx, d).Error(0)
}

func (*mockTypeB) ProtocolConfig(ConfigKey) (uint32, error) { return 0, nil }

func (*mockTypeB) SetProtocolConfig(ConfigKey, uint32) error { return nil }

func (m *mockTypeB) WakeAll(ctx context.Context, slotExp uint8, afi byte, extended bool) ([]byte, error) {
	args := m.Called(ctx, slotExp, afi, extended)
	resp, _ := args.Get(0).([]byte)
	return resp, args.Error(1)
}

func (m *mockTypeB) ProbeSlot(ctx context.Context, slot int) ([]byte, error) {
	args := m.Called(ctx, slot)
	resp, _ := args.Get(0).([]byte)
	return resp, args.Error(1)
}

func (m *mockTypeB) WakeAddressed(ctx context.Context, slotExp uint8, afi byte, extended bool) ([]byte, error) {
	args := m.Called(ctx, slotExp, afi, extended)
	resp, _ := args.Get(0).([]byte)
	return resp, args.Error(1)
}

func (m *mockTypeB) Halt(ctx context.Context, id []byte) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTypeB) SetAddressed(ctx context.Context, id []byte) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTypeB) ActivateLayer4(ctx context.Context, req Layer4Request) (*Layer4Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*Layer4Response)
	return resp, args.Error(1)
}

var _ TypeBPrimitives = (*mockTypeB)(nil)

func TestResolveZeroLimitMakesNoExchange(t *testing.T) {
	t.Parallel()

	m := &mockTypeB{}
	b := NewTypeB(m, TypeBConfig{})
	s := NewSession(4, WithDeviceLimit(TechB, 0))
	s.setPending(TechB)

	_, err := b.ResolveCollisions(context.Background(), s, GenericPolicy{})
	require.ErrorIs(t, err, ErrNoDeviceResolved)
	m.AssertNotCalled(t, "WakeAll", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, s.History())
}

func TestResolveEscalatesSlotsUntilSeparated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := testATQB([4]byte{1, 1, 1, 1}, 0, 0x81, 0x41)
	second := testATQB([4]byte{2, 2, 2, 2}, 0, 0x81, 0x41)

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(nil, ErrTransmission).Once()
	// two slots: both cards still collide in slot 1
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(nil, ErrTimeout).Once()
	m.On("ProbeSlot", ctx, 1).Return(nil, ErrTransmission).Once()
	// four slots: the cards separate
	m.On("WakeAddressed", ctx, uint8(2), byte(0), false).Return(nil, ErrTimeout).Once()
	m.On("ProbeSlot", ctx, 1).Return(first, nil).Once()
	m.On("ProbeSlot", ctx, 2).Return(nil, ErrTimeout).Once()
	m.On("Halt", ctx, []byte{1, 1, 1, 1}).Return(nil).Once()
	m.On("ProbeSlot", ctx, 3).Return(second, nil).Once()

	b := NewTypeB(m, TypeBConfig{})
	s := NewSession(4)
	res, err := b.ResolveCollisions(ctx, s, GenericPolicy{})
	require.NoError(t, err)
	m.AssertExpectations(t)

	assert.Equal(t, 4, res.SlotCount)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 2, s.Retries())
	assert.False(t, res.CollisionPending)
	require.Len(t, res.Candidates, 2)
	assert.True(t, res.Candidates[0].Sleeping)
	assert.False(t, res.Candidates[1].Sleeping)
}

func TestResolveRepeatsRoundAfterPartialSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := testATQB([4]byte{1, 1, 1, 1}, 0, 0x81, 0x41)
	second := testATQB([4]byte{2, 2, 2, 2}, 0, 0x81, 0x41)

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(nil, ErrTransmission).Once()
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(first, nil).Once()
	m.On("ProbeSlot", ctx, 1).Return(nil, ErrTransmission).Once()
	// same slot count again: the first card is halted before the retry
	m.On("Halt", ctx, []byte{1, 1, 1, 1}).Return(nil).Once()
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(second, nil).Once()
	m.On("ProbeSlot", ctx, 1).Return(nil, ErrTimeout).Once()

	b := NewTypeB(m, TypeBConfig{})
	s := NewSession(4)
	res, err := b.ResolveCollisions(ctx, s, GenericPolicy{})
	require.NoError(t, err)
	m.AssertExpectations(t)

	assert.Equal(t, 2, res.SlotCount)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "02020202", res.Candidates[1].IDString())
}

// countObserver samples the session's candidate count at every exchange.
type countObserver struct {
	s      *Session
	counts []int
}

func (o *countObserver) ObserveExchange(Exchange) {
	o.counts = append(o.counts, o.s.CandidateCount())
}

func TestResolveCandidateCountNeverDecreases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := testATQB([4]byte{1, 1, 1, 1}, 0, 0x81, 0x41)
	second := testATQB([4]byte{2, 2, 2, 2}, 0, 0x81, 0x41)
	third := testATQB([4]byte{3, 3, 3, 3}, 0, 0x81, 0x41)

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(nil, ErrTransmission).Once()
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(first, nil).Once()
	m.On("ProbeSlot", ctx, 1).Return(nil, ErrTransmission).Once()
	m.On("Halt", ctx, []byte{1, 1, 1, 1}).Return(nil).Once()
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(second, nil).Once()
	m.On("ProbeSlot", ctx, 1).Return(third, nil).Once()
	m.On("Halt", ctx, mock.Anything).Return(nil)

	obs := &countObserver{}
	s := NewSession(4, WithObserver(obs))
	obs.s = s
	b := NewTypeB(m, TypeBConfig{})
	res, err := b.ResolveCollisions(ctx, s, GenericPolicy{})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)

	require.NotEmpty(t, obs.counts)
	assert.IsNonDecreasing(t, obs.counts)
	assert.Equal(t, 3, s.CandidateCount())
	assert.Greater(t, s.CandidateCount(), obs.counts[0])
}

func TestResolveComplianceRetriesTimeouts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	atqb := testATQB([4]byte{7, 7, 7, 7}, 0, 0x81, 0x41)
	policy := &CompliancePolicy{WakeRetries: 2, RetransmissionDelay: 3 * time.Millisecond, MaxFrameSize: FSD256}

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0x20), false).Return(nil, ErrTimeout).Twice()
	m.On("Wait", ctx, 3*time.Millisecond).Return(nil).Twice()
	m.On("WakeAll", ctx, uint8(0), byte(0x20), false).Return(atqb, nil).Once()

	b := NewTypeB(m, TypeBConfig{AFI: 0x20})
	s := NewSession(4)
	res, err := b.ResolveCollisions(ctx, s, policy)
	require.NoError(t, err)
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "WakeAll", 3)
	require.Len(t, res.Candidates, 1)
}

func TestResolveHaltFailureIsProtocolError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	first := testATQB([4]byte{1, 1, 1, 1}, 0, 0x81, 0x41)
	second := testATQB([4]byte{2, 2, 2, 2}, 0, 0x81, 0x41)

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(nil, ErrTransmission).Once()
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(first, nil).Once()
	m.On("ProbeSlot", ctx, 1).Return(second, nil).Once()
	m.On("Halt", ctx, []byte{1, 1, 1, 1}).Return(ErrTimeout).Once()

	b := NewTypeB(m, TypeBConfig{})
	_, err := b.ResolveCollisions(ctx, NewSession(4), GenericPolicy{})
	assert.Equal(t, StatusProtocolError, StatusOf(err))
	require.ErrorIs(t, err, ErrTimeout)
	m.AssertExpectations(t)
}

func TestResolveStopsAtMaxSlots(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(nil, ErrTransmission).Once()
	m.On("WakeAddressed", ctx, uint8(1), byte(0), false).Return(nil, ErrTransmission).Once()
	m.On("ProbeSlot", ctx, 1).Return(nil, ErrTransmission).Once()

	b := NewTypeB(m, TypeBConfig{MaxSlots: 2})
	s := NewSession(4)
	_, err := b.ResolveCollisions(ctx, s, GenericPolicy{})
	require.ErrorIs(t, err, ErrNoDeviceResolved)
	assert.True(t, s.CollisionPending(TechB))
	assert.Equal(t, 2, s.SlotCount())
	m.AssertExpectations(t)
}

func TestActivateTypeBPassesNegotiatedRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	atqb := testATQB([4]byte{5, 6, 7, 8}, 0x11, 0x71, 0x51)

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(atqb, nil).Once()
	m.On("SetAddressed", ctx, []byte{5, 6, 7, 8}).Return(nil).Once()
	m.On("ActivateLayer4", ctx, Layer4Request{
		SenseRes:  atqb,
		ID:        []byte{5, 6, 7, 8},
		FrameSize: FSD64,
		CID:       4,
		RxRate:    Rate212,
		TxRate:    Rate212,
	}).Return(&Layer4Response{Answer: []byte{0x14}, MBLI: 1, CID: 4}, nil).Once()

	b := NewTypeB(m, TypeBConfig{})
	s := NewSession(4)
	_, err := b.ResolveCollisions(ctx, s, GenericPolicy{})
	require.NoError(t, err)

	params, err := b.Activate(ctx, s, 0, ActivationRequest{
		RxRate:    Rate848,
		TxRate:    Rate848,
		FrameSize: FSD64,
		CID:       4,
	})
	require.NoError(t, err)
	m.AssertExpectations(t)
	assert.Equal(t, FSD128, params.CardFrameSize)
	assert.Equal(t, uint8(5), params.FWI)
	assert.True(t, params.CIDEnabled)
	assert.Equal(t, byte(4), params.CID)
}

func TestActivateTypeBCIDMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	atqb := testATQB([4]byte{5, 6, 7, 8}, 0, 0x81, 0x41)

	m := &mockTypeB{}
	m.On("WakeAll", ctx, uint8(0), byte(0), false).Return(atqb, nil).Once()
	m.On("SetAddressed", ctx, []byte{5, 6, 7, 8}).Return(nil).Once()
	m.On("ActivateLayer4", ctx, mock.Anything).Return(&Layer4Response{Answer: []byte{0x02}, CID: 2}, nil).Once()

	b := NewTypeB(m, TypeBConfig{})
	s := NewSession(4)
	_, err := b.ResolveCollisions(ctx, s, GenericPolicy{})
	require.NoError(t, err)

	req := DefaultActivationRequest()
	req.CID = 1
	_, err = b.Activate(ctx, s, 0, req)
	require.ErrorIs(t, err, ErrProtocol)
	c, cerr := s.Candidate(0)
	require.NoError(t, cerr)
	assert.Equal(t, StateFailed, c.State)
}
