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

//nolint:funlen // test tables
package testing

import (
	"bytes"
	"context"
	"testing"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCommandFrame(t *testing.T, cmd byte, params []byte) []byte {
	t.Helper()
	raw, err := frame.Build(frame.HostToPn532, append([]byte{cmd}, params...))
	require.NoError(t, err)
	return raw
}

// roundTrip sends one command and returns whether it was ACKed plus the
// decoded response frame.
func roundTrip(t *testing.T, sim *VirtualPN532, cmd byte, params []byte) (bool, frame.Frame) {
	t.Helper()
	_, err := sim.Write(buildCommandFrame(t, cmd, params))
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := sim.Read(buf)
	require.NoError(t, err)
	data := buf[:n]

	acked := bytes.HasPrefix(data, frame.AckFrame)
	data = bytes.TrimPrefix(data, frame.AckFrame)
	f, _, err := frame.Decode(data, frame.Pn532ToHost)
	require.NoError(t, err)
	return acked, f
}

func poweredSim(t *testing.T, field *VirtualField) *VirtualPN532 {
	t.Helper()
	sim := NewVirtualPN532(field)
	_, f := roundTrip(t, sim, cmdRFConfiguration, []byte{rfItemField, rfFieldOnBit})
	require.Equal(t, frame.KindData, f.Kind)
	return sim
}

func TestVirtualPN532_FrameFormat(t *testing.T) {
	t.Parallel()

	t.Run("Valid_Frame_Accepted", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField())

		acked, f := roundTrip(t, sim, cmdGetFirmwareVersion, nil)
		assert.True(t, acked)
		assert.Equal(t, frame.KindData, f.Kind)
		assert.Equal(t, []byte{0x03, 0x32, 0x01, 0x06, 0x07}, f.Payload)
	})

	bad := map[string][]byte{
		"missing start code":  {0x00, 0x00, 0x02, 0xFE, 0xD4, 0x02, 0x2A, 0x00},
		"bad length checksum": {0x00, 0x00, 0xFF, 0x02, 0x00, 0xD4, 0x02, 0x2A, 0x00},
		"bad data checksum":   {0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x02, 0x00, 0x00},
		"response direction":  {0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD5, 0x02, 0x29, 0x00},
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			sim := NewVirtualPN532(NewVirtualField())
			_, err := sim.Write(raw)
			require.NoError(t, err)
			assert.False(t, sim.HasPendingResponse())
			assert.Empty(t, sim.Commands())
		})
	}
}

func TestVirtualPN532_ACK_NACK(t *testing.T) {
	t.Parallel()

	t.Run("NACK_Triggers_Retransmit", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField())

		_, err := sim.Write(buildCommandFrame(t, cmdGetFirmwareVersion, nil))
		require.NoError(t, err)
		buf := make([]byte, 256)
		n, err := sim.Read(buf)
		require.NoError(t, err)
		first := bytes.TrimPrefix(append([]byte(nil), buf[:n]...), frame.AckFrame)

		_, err = sim.Write(frame.NackFrame)
		require.NoError(t, err)
		n, err = sim.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, first, buf[:n])
	})

	t.Run("Dropped_ACK", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField())
		sim.DropNextACK()

		acked, f := roundTrip(t, sim, cmdGetFirmwareVersion, nil)
		assert.False(t, acked)
		assert.Equal(t, frame.KindData, f.Kind)

		acked, _ = roundTrip(t, sim, cmdGetFirmwareVersion, nil)
		assert.True(t, acked)
	})

	t.Run("Corrupted_Response", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField())
		sim.InjectChecksumError()

		_, err := sim.Write(buildCommandFrame(t, cmdGetFirmwareVersion, nil))
		require.NoError(t, err)
		buf := make([]byte, 256)
		n, err := sim.Read(buf)
		require.NoError(t, err)
		_, _, err = frame.Decode(bytes.TrimPrefix(buf[:n], frame.AckFrame), frame.Pn532ToHost)
		assert.ErrorIs(t, err, frame.ErrDataChecksum)
	})
}

func TestVirtualPN532_Firmware(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532(NewVirtualField())
	sim.SetFirmwareVersion(0x32, 0x01, 0x04, 0x03)

	_, f := roundTrip(t, sim, cmdGetFirmwareVersion, nil)
	assert.Equal(t, []byte{0x03, 0x32, 0x01, 0x04, 0x03}, f.Payload)
}

func TestVirtualPN532_SAMConfiguration(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532(NewVirtualField())
	_, f := roundTrip(t, sim, cmdSAMConfiguration, []byte{0x01, 0x14, 0x01})
	assert.Equal(t, frame.KindData, f.Kind)
	assert.Equal(t, []byte{0x15}, f.Payload)
	assert.True(t, sim.State().SAMConfigured)

	_, f = roundTrip(t, sim, cmdSAMConfiguration, []byte{0x09})
	assert.Equal(t, frame.KindError, f.Kind)
}

func TestVirtualPN532_RFConfiguration(t *testing.T) {
	t.Parallel()

	field := NewVirtualField()
	sim := NewVirtualPN532(field)
	assert.False(t, field.FieldOn())

	_, f := roundTrip(t, sim, cmdRFConfiguration, []byte{rfItemField, rfFieldOnBit})
	assert.Equal(t, []byte{0x33}, f.Payload)
	assert.True(t, field.FieldOn())
	assert.True(t, sim.State().RFFieldOn)

	_, _ = roundTrip(t, sim, cmdRFConfiguration, []byte{rfItemTimings, 0x00, 0x0B, 0x0A})
	assert.Equal(t, byte(0x0A), sim.State().TimeoutCode)

	_, _ = roundTrip(t, sim, cmdRFConfiguration, []byte{rfItemField, 0x00})
	assert.False(t, field.FieldOn())

	_, f = roundTrip(t, sim, cmdRFConfiguration, []byte{rfItemTimings})
	assert.Equal(t, frame.KindError, f.Kind)
}

func TestVirtualPN532_Registers(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532(NewVirtualField())
	_, f := roundTrip(t, sim, cmdWriteRegister, []byte{0x63, 0x02, 0x83, 0x63, 0x03, 0x93})
	assert.Equal(t, []byte{0x09}, f.Payload)
	assert.Equal(t, byte(0x83), sim.Register(regTxMode))

	_, f = roundTrip(t, sim, cmdReadRegister, []byte{0x63, 0x02, 0x63, 0x03, 0x63, 0x1E})
	assert.Equal(t, []byte{0x07, 0x83, 0x93, 0x00}, f.Payload)

	_, f = roundTrip(t, sim, cmdReadRegister, []byte{0x63})
	assert.Equal(t, frame.KindError, f.Kind)
}

func TestVirtualPN532_InCommunicateThru(t *testing.T) {
	t.Parallel()

	wupb := []byte{0x05, 0x00, 0x08}

	t.Run("Field_Off", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField().AddB(NewCardB(1, 2, 3, 4)))
		_, f := roundTrip(t, sim, cmdInCommunicateThru, wupb)
		assert.Equal(t, []byte{0x43, StatusRFField}, f.Payload)
	})

	t.Run("Empty_Field", func(t *testing.T) {
		t.Parallel()
		sim := poweredSim(t, NewVirtualField())
		_, f := roundTrip(t, sim, cmdInCommunicateThru, wupb)
		assert.Equal(t, []byte{0x43, StatusTimeout}, f.Payload)
	})

	t.Run("Single_Card", func(t *testing.T) {
		t.Parallel()
		card := NewCardB(1, 2, 3, 4)
		sim := poweredSim(t, NewVirtualField().AddB(card))
		_, f := roundTrip(t, sim, cmdInCommunicateThru, wupb)
		require.Len(t, f.Payload, 2+12)
		assert.Equal(t, byte(StatusOK), f.Payload[1])
		assert.Equal(t, card.ATQB(false), f.Payload[2:])
		assert.Equal(t, CardDeclared, card.State)
	})

	t.Run("Two_Cards_Collide", func(t *testing.T) {
		t.Parallel()
		sim := poweredSim(t, NewVirtualField().AddB(NewCardB(1, 2, 3, 4), NewCardB(5, 6, 7, 8)))
		_, f := roundTrip(t, sim, cmdInCommunicateThru, wupb)
		assert.Equal(t, []byte{0x43, StatusCRC}, f.Payload)
	})

	t.Run("No_Data", func(t *testing.T) {
		t.Parallel()
		sim := poweredSim(t, NewVirtualField())
		_, f := roundTrip(t, sim, cmdInCommunicateThru, nil)
		assert.Equal(t, []byte{0x43, StatusInvalidArgs}, f.Payload)
	})
}

func TestVirtualPN532_UnknownCommand(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532(NewVirtualField())
	acked, f := roundTrip(t, sim, 0x4A, []byte{0x01, 0x00})
	assert.True(t, acked)
	assert.Equal(t, frame.KindError, f.Kind)
}

func TestVirtualPN532_Reset(t *testing.T) {
	t.Parallel()

	field := NewVirtualField()
	sim := poweredSim(t, field)
	_, _ = roundTrip(t, sim, cmdWriteRegister, []byte{0x63, 0x02, 0x83})
	sim.Reset()

	assert.Equal(t, SimulatorState{}, sim.State())
	assert.Equal(t, byte(defaultTxRxReg), sim.Register(regTxMode))
	assert.Empty(t, sim.Commands())
	assert.False(t, field.FieldOn())
}

func TestVirtualPN532_PowerDown(t *testing.T) {
	t.Parallel()

	sim := NewVirtualPN532(NewVirtualField())
	_, f := roundTrip(t, sim, cmdPowerDown, []byte{0x20})
	assert.Equal(t, []byte{0x17, 0x00}, f.Payload)
	assert.Equal(t, PowerModePowerDown, sim.State().PowerMode)

	_, _ = roundTrip(t, sim, cmdSAMConfiguration, []byte{0x01})
	assert.Equal(t, PowerModeNormal, sim.State().PowerMode)
}

func TestSimulatorTransport(t *testing.T) {
	t.Parallel()

	t.Run("SendCommand", func(t *testing.T) {
		t.Parallel()
		tr := NewSimulatorTransport(NewVirtualPN532(NewVirtualField()))

		resp, err := tr.SendCommand(context.Background(), cmdGetFirmwareVersion, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x03, 0x32, 0x01, 0x06, 0x07}, resp)
		assert.Equal(t, 1, tr.CommandCount(cmdGetFirmwareVersion))
		assert.Equal(t, 1, tr.Simulator().CommandCount(cmdGetFirmwareVersion))
	})

	t.Run("Recovers_From_Checksum_Error", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField())
		tr := NewSimulatorTransport(sim)
		sim.InjectChecksumError()

		resp, err := tr.SendCommand(context.Background(), cmdGetFirmwareVersion, nil)
		require.NoError(t, err)
		assert.Equal(t, byte(0x03), resp[0])
	})

	t.Run("Missing_ACK", func(t *testing.T) {
		t.Parallel()
		sim := NewVirtualPN532(NewVirtualField())
		tr := NewSimulatorTransport(sim)
		sim.DropNextACK()

		_, err := tr.SendCommand(context.Background(), cmdGetFirmwareVersion, nil)
		require.Error(t, err)
	})

	t.Run("Closed", func(t *testing.T) {
		t.Parallel()
		tr := NewSimulatorTransport(NewVirtualPN532(NewVirtualField()))
		require.NoError(t, tr.Close())

		_, err := tr.SendCommand(context.Background(), cmdGetFirmwareVersion, nil)
		require.ErrorIs(t, err, ErrSimulatorClosed)
	})

	t.Run("Cancelled", func(t *testing.T) {
		t.Parallel()
		tr := NewSimulatorTransport(NewVirtualPN532(NewVirtualField()))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := tr.SendCommand(ctx, cmdGetFirmwareVersion, nil)
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, tr.CommandLog())
	})
}
