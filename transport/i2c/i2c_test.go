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

package i2c

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	virt "github.com/ZaparooProject/go-nfcdisc/internal/testing"
	"github.com/ZaparooProject/go-nfcdisc/pn532"
)

var errBusClosed = errors.New("bus is closed")

// simBus is an i2c.Bus in front of a VirtualPN532. Reads return one whole
// output frame behind the status byte, as the chip does.
type simBus struct {
	sim     *virt.VirtualPN532
	pending []byte
	// notReady makes this many status polls report busy.
	notReady int
	closed   bool
	reads    int
}

func (b *simBus) Tx(addr uint16, w, r []byte) error {
	if b.closed {
		return errBusClosed
	}
	if addr != pn532Addr {
		return errors.New("no device at address")
	}
	if len(w) > 0 {
		if _, err := b.sim.Write(w); err != nil {
			return err
		}
	}
	if len(r) == 0 {
		return nil
	}

	tmp := make([]byte, 512)
	n, _ := b.sim.Read(tmp)
	b.pending = append(b.pending, tmp[:n]...)

	clear(r)
	if len(b.pending) == 0 || b.notReady > 0 {
		if b.notReady > 0 {
			b.notReady--
		}
		return nil
	}
	r[0] = pn532Ready
	if len(r) == 1 {
		return nil
	}
	b.reads++
	_, used, _ := frame.Decode(b.pending, frame.Pn532ToHost)
	if used == 0 {
		used = len(b.pending)
	}
	copy(r[1:], b.pending[:used])
	b.pending = b.pending[used:]
	return nil
}

func (*simBus) SetSpeed(physic.Frequency) error { return nil }
func (*simBus) String() string                  { return "sim://i2c" }

// scriptBus answers status polls with ready and every read with the next
// scripted frame.
type scriptBus struct {
	frames [][]byte
	writes [][]byte
}

func (b *scriptBus) Tx(_ uint16, w, r []byte) error {
	if len(w) > 0 {
		b.writes = append(b.writes, append([]byte(nil), w...))
	}
	if len(r) == 0 {
		return nil
	}
	clear(r)
	if len(b.frames) == 0 {
		return nil
	}
	r[0] = pn532Ready
	if len(r) > 1 {
		copy(r[1:], b.frames[0])
		b.frames = b.frames[1:]
	}
	return nil
}

func (*scriptBus) SetSpeed(physic.Frequency) error { return nil }
func (*scriptBus) String() string                  { return "script://i2c" }

var (
	_ i2c.Bus = (*simBus)(nil)
	_ i2c.Bus = (*scriptBus)(nil)
)

func newSimTransport(f *virt.VirtualField) (*Transport, *simBus) {
	bus := &simBus{sim: virt.NewVirtualPN532(f)}
	return NewWithBus(bus, "sim"), bus
}

func TestParseBusPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/dev/i2c-1", parseBusPath("/dev/i2c-1:0x24"))
	assert.Equal(t, "/dev/i2c-1", parseBusPath("/dev/i2c-1"))
	assert.Equal(t, "I2C1", parseBusPath("I2C1"))
}

func TestSendCommand(t *testing.T) {
	t.Parallel()
	tr, bus := newSimTransport(virt.NewVirtualField())

	res, err := tr.SendCommand(context.Background(), 0x02, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x32, 0x01, 0x06, 0x07}, res)
	assert.Equal(t, 2, bus.reads)
	assert.Equal(t, pn532.TransportI2C, tr.Type())
}

func TestSendCommandWaitsForReady(t *testing.T) {
	t.Parallel()
	tr, bus := newSimTransport(virt.NewVirtualField())
	bus.notReady = 5

	res, err := tr.SendCommand(context.Background(), 0x14, []byte{0x01, 0x14, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x15}, res)
}

func TestSendCommandChecksumRecovery(t *testing.T) {
	t.Parallel()
	tr, bus := newSimTransport(virt.NewVirtualField())
	bus.sim.InjectChecksumError()

	res, err := tr.SendCommand(context.Background(), 0x02, nil)
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), res[0])
}

func TestSendCommandNoACK(t *testing.T) {
	t.Parallel()
	tr := NewWithBus(&scriptBus{}, "script")

	_, err := tr.SendCommand(context.Background(), 0x02, nil)
	require.ErrorIs(t, err, pn532.ErrNoACK)
	assert.True(t, pn532.IsRetryable(err))
}

func TestSendCommandGarbageInsteadOfACK(t *testing.T) {
	t.Parallel()
	tr := NewWithBus(&scriptBus{frames: [][]byte{{0x12, 0x34}}}, "script")

	_, err := tr.SendCommand(context.Background(), 0x02, nil)
	require.ErrorIs(t, err, pn532.ErrFrameCorrupted)
}

func TestSendCommandResponseTimeout(t *testing.T) {
	t.Parallel()
	tr := NewWithBus(&scriptBus{frames: [][]byte{frame.AckFrame}}, "script")
	require.NoError(t, tr.SetTimeout(20*time.Millisecond))

	_, err := tr.SendCommand(context.Background(), 0x02, nil)
	require.ErrorIs(t, err, pn532.ErrTransportTimeout)
}

func TestSendCommandErrorFrame(t *testing.T) {
	t.Parallel()
	errFrame := []byte{0x00, 0x00, 0xFF, 0x01, 0xFF, 0x7F, 0x81, 0x00}
	tr := NewWithBus(&scriptBus{frames: [][]byte{frame.AckFrame, errFrame}}, "script")

	_, err := tr.SendCommand(context.Background(), 0x99, nil)
	require.ErrorIs(t, err, pn532.ErrSyntax)
}

func TestSendCommandWrongResponseCode(t *testing.T) {
	t.Parallel()
	resp, err := frame.Build(frame.Pn532ToHost, []byte{0x05})
	require.NoError(t, err)
	tr := NewWithBus(&scriptBus{frames: [][]byte{frame.AckFrame, resp}}, "script")

	_, err = tr.SendCommand(context.Background(), 0x02, nil)
	require.ErrorIs(t, err, pn532.ErrInvalidResponse)
}

func TestSendCommandPersistentChecksumError(t *testing.T) {
	t.Parallel()
	bad, err := frame.Build(frame.Pn532ToHost, []byte{0x03, 0x32, 0x01, 0x06, 0x07})
	require.NoError(t, err)
	bad[len(bad)-2] ^= 0xFF
	bus := &scriptBus{frames: [][]byte{frame.AckFrame}}
	for range maxNACKs + 1 {
		bus.frames = append(bus.frames, bad)
	}
	tr := NewWithBus(bus, "script")

	_, err = tr.SendCommand(context.Background(), 0x02, nil)
	require.ErrorIs(t, err, pn532.ErrChecksumMismatch)
	nacks := 0
	for _, w := range bus.writes {
		if string(w) == string(frame.NackFrame) {
			nacks++
		}
	}
	assert.Equal(t, maxNACKs, nacks)
}

func TestSendCommandContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus := &scriptBus{}
	_, err := NewWithBus(bus, "script").SendCommand(ctx, 0x02, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bus.writes)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	tr := NewWithBus(&scriptBus{frames: [][]byte{frame.AckFrame}}, "script")
	_, err = tr.SendCommand(ctx, 0x02, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	t.Parallel()
	tr, bus := newSimTransport(virt.NewVirtualField())

	require.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())
	assert.False(t, bus.closed)

	_, err := tr.SendCommand(context.Background(), 0x02, nil)
	require.ErrorIs(t, err, pn532.ErrTransportClosed)
}

func TestReaderOverI2C(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := virt.NewVirtualField()
	f.AddB(virt.NewCardB(0x01, 0x02, 0x03, 0x04))
	tr, _ := newSimTransport(f)
	r := pn532.New(tr)
	require.NoError(t, r.Init(ctx))

	resp, err := r.TypeB().WakeAll(ctx, 0, 0x00, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x50, 0x01, 0x02, 0x03, 0x04}, resp[:5])
}
