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
	"bytes"
	"errors"

	"github.com/ZaparooProject/go-nfcdisc/internal/frame"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// PN532 command codes handled by the simulator (PN532 User Manual §7).
const (
	cmdGetFirmwareVersion = 0x02
	cmdGetGeneralStatus   = 0x04
	cmdReadRegister       = 0x06
	cmdWriteRegister      = 0x08
	cmdSAMConfiguration   = 0x14
	cmdPowerDown          = 0x16
	cmdRFConfiguration    = 0x32
	cmdInCommunicateThru  = 0x42
)

// InCommunicateThru status codes (§7.1, Table 13).
const (
	StatusOK          = 0x00
	StatusTimeout     = 0x01
	StatusCRC         = 0x02
	StatusRFField     = 0x0A
	StatusRFProtocol  = 0x0B
	StatusInvalidArgs = 0x10
)

// RF configuration items (§7.3.1).
const (
	rfItemField    = 0x01
	rfItemTimings  = 0x02
	rfItemRetries  = 0x05
	rfFieldOnBit   = 0x01
	regTxMode      = 0x6302
	regRxMode      = 0x6303
	regTxAuto      = 0x6305
	regTypeB       = 0x631E
	defaultTxRxReg = 0x80
)

// SimulatorPowerMode is the PN532 power state.
type SimulatorPowerMode int

const (
	PowerModeNormal SimulatorPowerMode = iota
	PowerModePowerDown
)

// SimulatorState tracks the chip state visible to tests.
type SimulatorState struct {
	PowerMode     SimulatorPowerMode
	RFFieldOn     bool
	SAMConfigured bool
	// TimeoutCode is the InCommunicateThru timeout set through RF item 0x02.
	TimeoutCode byte
}

// VirtualPN532 simulates a PN532 at the host-link frame level. Raw RF
// frames sent with InCommunicateThru reach the Type B cards of a
// VirtualField, so an engine running over a real transport implementation
// can be tested end to end. It implements io.ReadWriter.
type VirtualPN532 struct {
	field        *VirtualField
	dec          *frame.Decoder
	registers    map[uint16]byte
	lastResponse []byte
	commands     []byte
	txBuffer     bytes.Buffer
	state        SimulatorState
	mu           syncutil.Mutex
	firmware     [4]byte
	corruptNext  bool
	dropNextACK  bool
}

// NewVirtualPN532 returns a simulator in front of field. The carrier starts
// off, as on a freshly powered chip.
func NewVirtualPN532(field *VirtualField) *VirtualPN532 {
	v := &VirtualPN532{
		field: field,
		dec:   frame.NewDecoder(frame.HostToPn532),
		// PN532 v1.6 supporting ISO/IEC 14443 A and B
		firmware: [4]byte{0x32, 0x01, 0x06, 0x07},
	}
	v.resetRegisters()
	field.SetField(false)
	return v
}

func (v *VirtualPN532) resetRegisters() {
	v.registers = map[uint16]byte{
		regTxMode: defaultTxRxReg,
		regRxMode: defaultTxRxReg,
		regTxAuto: 0x00,
		regTypeB:  0x00,
	}
}

// Field returns the RF field behind the simulator.
func (v *VirtualPN532) Field() *VirtualField {
	return v.field
}

// Write receives bytes from the host and queues the answers.
func (v *VirtualPN532) Write(data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, _ = v.dec.Write(data)
	for {
		f, err := v.dec.Next()
		if errors.Is(err, frame.ErrIncomplete) {
			return len(data), nil
		}
		if err != nil {
			// damaged host frame: the chip stays silent and the host times out
			continue
		}
		switch f.Kind {
		case frame.KindAck:
			// an ACK from the host aborts the running command
		case frame.KindNack:
			if v.lastResponse != nil {
				v.txBuffer.Write(v.lastResponse)
			}
		case frame.KindData:
			v.processCommand(f.Payload)
		case frame.KindError:
		}
	}
}

// Read returns queued bytes. It returns 0 with no error when nothing is
// pending.
func (v *VirtualPN532) Read(buf []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.txBuffer.Len() == 0 {
		return 0, nil
	}
	n, _ := v.txBuffer.Read(buf)
	return n, nil
}

// HasPendingResponse reports whether unread bytes are queued, which is what
// the I2C ready byte signals.
func (v *VirtualPN532) HasPendingResponse() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.txBuffer.Len() > 0
}

// SetFirmwareVersion sets the GetFirmwareVersion answer.
func (v *VirtualPN532) SetFirmwareVersion(ic, ver, rev, support byte) {
	v.mu.Do(func() { v.firmware = [4]byte{ic, ver, rev, support} })
}

// InjectChecksumError corrupts the DCS of the next response.
func (v *VirtualPN532) InjectChecksumError() {
	v.mu.Do(func() { v.corruptNext = true })
}

// DropNextACK suppresses the ACK of the next command.
func (v *VirtualPN532) DropNextACK() {
	v.mu.Do(func() { v.dropNextACK = true })
}

// State returns a snapshot of the chip state.
func (v *VirtualPN532) State() SimulatorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Register returns a CIU register value.
func (v *VirtualPN532) Register(addr uint16) byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.registers[addr]
}

// Commands returns the command codes received so far.
func (v *VirtualPN532) Commands() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.commands...)
}

// CommandCount returns how many times cmd was received.
func (v *VirtualPN532) CommandCount(cmd byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return bytes.Count(v.commands, []byte{cmd})
}

// Reset clears buffers and returns the chip to its power-on state.
func (v *VirtualPN532) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dec.Reset()
	v.txBuffer.Reset()
	v.lastResponse = nil
	v.commands = nil
	v.state = SimulatorState{}
	v.corruptNext = false
	v.dropNextACK = false
	v.resetRegisters()
	v.field.SetField(false)
}

// processCommand answers one host frame. payload is command code plus
// parameters. Caller holds mu.
func (v *VirtualPN532) processCommand(payload []byte) {
	if len(payload) == 0 {
		v.sendErrorFrame()
		return
	}
	if !v.dropNextACK {
		v.txBuffer.Write(frame.AckFrame)
	}
	v.dropNextACK = false

	cmd, params := payload[0], payload[1:]
	v.commands = append(v.commands, cmd)

	var (
		resp []byte
		ok   bool
	)
	switch cmd {
	case cmdGetFirmwareVersion:
		resp, ok = v.firmware[:], true
	case cmdGetGeneralStatus:
		resp, ok = v.handleGetGeneralStatus(), true
	case cmdReadRegister:
		resp, ok = v.handleReadRegister(params)
	case cmdWriteRegister:
		resp, ok = v.handleWriteRegister(params)
	case cmdSAMConfiguration:
		resp, ok = v.handleSAMConfiguration(params)
	case cmdPowerDown:
		v.state.PowerMode = PowerModePowerDown
		resp, ok = []byte{StatusOK}, true
	case cmdRFConfiguration:
		resp, ok = v.handleRFConfiguration(params)
	case cmdInCommunicateThru:
		resp, ok = v.handleInCommunicateThru(params), true
	}
	if !ok {
		v.sendErrorFrame()
		return
	}
	v.sendResponse(cmd, resp)
}

func (v *VirtualPN532) sendResponse(cmd byte, data []byte) {
	raw, err := frame.Build(frame.Pn532ToHost, append([]byte{cmd + 1}, data...))
	if err != nil {
		v.sendErrorFrame()
		return
	}
	v.lastResponse = raw
	if v.corruptNext {
		v.corruptNext = false
		// a NACK retransmits the intact frame
		raw = append([]byte(nil), raw...)
		raw[len(raw)-2] ^= 0xFF
	}
	v.txBuffer.Write(raw)
}

// sendErrorFrame queues the fixed syntax error frame (§6.2.1.5).
func (v *VirtualPN532) sendErrorFrame() {
	raw := []byte{frame.Preamble, frame.StartCode1, frame.StartCode2, 0x01, 0xFF, frame.ErrorTFI, 0x81, frame.Postamble}
	v.lastResponse = raw
	v.txBuffer.Write(raw)
}

func (v *VirtualPN532) handleGetGeneralStatus() []byte {
	field := byte(0)
	if v.state.RFFieldOn {
		field = 1
	}
	// Err, Field, NbTg, SAM status
	return []byte{StatusOK, field, 0x00, 0x00}
}

func (v *VirtualPN532) handleReadRegister(params []byte) ([]byte, bool) {
	if len(params) == 0 || len(params)%2 != 0 {
		return nil, false
	}
	out := make([]byte, 0, len(params)/2)
	for i := 0; i < len(params); i += 2 {
		out = append(out, v.registers[uint16(params[i])<<8|uint16(params[i+1])])
	}
	return out, true
}

func (v *VirtualPN532) handleWriteRegister(params []byte) ([]byte, bool) {
	if len(params) == 0 || len(params)%3 != 0 {
		return nil, false
	}
	for i := 0; i < len(params); i += 3 {
		v.registers[uint16(params[i])<<8|uint16(params[i+1])] = params[i+2]
	}
	return []byte{}, true
}

func (v *VirtualPN532) handleSAMConfiguration(params []byte) ([]byte, bool) {
	if len(params) < 1 || params[0] < 0x01 || params[0] > 0x04 {
		return nil, false
	}
	v.state.SAMConfigured = true
	v.state.PowerMode = PowerModeNormal
	return []byte{}, true
}

func (v *VirtualPN532) handleRFConfiguration(params []byte) ([]byte, bool) {
	if len(params) < 2 {
		return nil, false
	}
	switch params[0] {
	case rfItemField:
		on := params[1]&rfFieldOnBit != 0
		v.state.RFFieldOn = on
		v.field.SetField(on)
	case rfItemTimings:
		if len(params) < 4 {
			return nil, false
		}
		v.state.TimeoutCode = params[3]
	case rfItemRetries:
		if len(params) < 4 {
			return nil, false
		}
	}
	return []byte{}, true
}

// handleInCommunicateThru forwards a raw Type B frame to the field. The
// answer is Status followed by the card's frame.
func (v *VirtualPN532) handleInCommunicateThru(params []byte) []byte {
	if len(params) == 0 {
		return []byte{StatusInvalidArgs}
	}
	resp, err := v.field.TransceiveB(params)
	if err != nil {
		return []byte{wireStatus(err)}
	}
	return append([]byte{StatusOK}, resp...)
}

// wireStatus maps a field error onto the status byte the chip reports.
// Overlapping Type B answers fail the CRC check.
func wireStatus(err error) byte {
	switch {
	case errors.Is(err, ErrNoResponse):
		return StatusTimeout
	case errors.Is(err, ErrCollision):
		return StatusCRC
	case errors.Is(err, ErrFieldOff):
		return StatusRFField
	default:
		return StatusRFProtocol
	}
}
