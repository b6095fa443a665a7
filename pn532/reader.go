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

package pn532

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/ZaparooProject/go-nfcdisc"
	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

// FirmwareVersion is the GetFirmwareVersion answer.
type FirmwareVersion struct {
	Version          string
	IC               byte
	SupportIso14443a bool
	SupportIso14443b bool
	SupportIso18092  bool
}

// GeneralStatus is the GetGeneralStatus answer.
type GeneralStatus struct {
	LastError    byte
	FieldPresent bool
	Targets      byte
}

// Option configures a Reader.
type Option func(*Reader)

// WithCommandRetries re-sends a command up to n more times after a
// retryable host link error.
func WithCommandRetries(n int) Option {
	return func(r *Reader) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// Reader is a PN532 acting as the Type B link layer. It implements
// nfcdisc.FrameExchanger; pair it with nfcdisc.NewFrameTypeB or use
// TypeB. Commands are serialised, so a Reader may be shared between a
// polling loop and other callers.
type Reader struct {
	transport Transport
	config    map[nfcdisc.ConfigKey]uint32
	firmware  *FirmwareVersion
	// guard is a start-up frame guard time still owed before the next frame.
	guard   time.Duration
	retries int
	mu      syncutil.Mutex
}

// New wraps a transport. Call Init before the first exchange.
func New(t Transport, opts ...Option) *Reader {
	r := &Reader{
		transport: t,
		config:    make(map[nfcdisc.ConfigKey]uint32),
		retries:   2,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transport returns the underlying transport.
func (r *Reader) Transport() Transport {
	return r.transport
}

// Init checks the chip, leaves SAM out of the path, disables the chip's
// own activation retries, switches the contactless UART to Type B at
// 106 kbps and turns the field on.
func (r *Reader) Init(ctx context.Context) error {
	fw, err := r.FirmwareVersion(ctx)
	if err != nil {
		return err
	}
	if !fw.SupportIso14443b {
		return fmt.Errorf("%w: firmware %s lacks ISO/IEC 14443B", ErrDeviceNotSupported, fw.Version)
	}
	if err := r.SAMConfiguration(ctx, SAMModeNormal); err != nil {
		return err
	}
	// MxRtyATR, MxRtyPSL, MxRtyPassiveActivation: retries belong to the engine
	if _, err := r.command(ctx, cmdRFConfiguration, []byte{rfItemRetries, 0xFF, 0x01, 0x00}); err != nil {
		return fmt.Errorf("failed to set RF retries: %w", err)
	}
	if err := r.configureTypeB(ctx); err != nil {
		return err
	}
	if err := r.SetField(ctx, true); err != nil {
		return err
	}
	nfcdisc.Debugf("pn532 ready: firmware %s over %s", fw.Version, r.transport.Type())
	return nil
}

// configureTypeB puts the CIU back to Type B at 106 kbps in both
// directions and restores the default timeout.
func (r *Reader) configureTypeB(ctx context.Context) error {
	if err := r.WriteRegisters(ctx, map[uint16]byte{
		regTxMode: modeTypeB,
		regRxMode: modeTypeB,
		regTxAuto: 0x00,
		regTypeB:  0x00,
	}); err != nil {
		return fmt.Errorf("failed to configure Type B: %w", err)
	}
	if _, err := r.command(ctx, cmdRFConfiguration, []byte{rfItemTimings, 0x00, rfATRTimeout, rfDefaultTimeout}); err != nil {
		return fmt.Errorf("failed to set timeout: %w", err)
	}
	r.mu.Do(func() {
		r.config = map[nfcdisc.ConfigKey]uint32{
			nfcdisc.ConfigTxRate: uint32(nfcdisc.Rate106),
			nfcdisc.ConfigRxRate: uint32(nfcdisc.Rate106),
		}
		r.guard = 0
	})
	return nil
}

// command sends one command, retrying retryable link errors, and returns
// the payload after the response code.
func (r *Reader) command(ctx context.Context, cmd byte, args []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", nfcdisc.ErrAborted, err)
		}
		res, err := r.transport.SendCommand(ctx, cmd, args)
		if err != nil {
			lastErr = err
			if !IsRetryable(err) {
				break
			}
			nfcdisc.Debugf("pn532 command 0x%02X attempt %d failed: %v", cmd, attempt+1, err)
			continue
		}
		if len(res) == 0 || res[0] != cmd+1 {
			return nil, NewInvalidResponseError(fmt.Sprintf("command 0x%02X", cmd), "")
		}
		return res[1:], nil
	}
	return nil, lastErr
}

// FirmwareVersion reads and caches the firmware version.
func (r *Reader) FirmwareVersion(ctx context.Context) (*FirmwareVersion, error) {
	res, err := r.command(ctx, cmdGetFirmwareVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get firmware version: %w", err)
	}
	fw, err := parseFirmwareVersion(res)
	if err != nil {
		return nil, err
	}
	r.mu.Do(func() { r.firmware = fw })
	return fw, nil
}

func parseFirmwareVersion(res []byte) (*FirmwareVersion, error) {
	if len(res) < 4 {
		return nil, fmt.Errorf("%w: firmware version of %d bytes", ErrInvalidResponse, len(res))
	}
	if res[0] != 0x32 {
		return nil, fmt.Errorf("%w: IC 0x%02X", ErrDeviceNotSupported, res[0])
	}
	return &FirmwareVersion{
		IC:               res[0],
		Version:          fmt.Sprintf("%d.%d", res[1], res[2]),
		SupportIso14443a: res[3]&0x01 != 0,
		SupportIso14443b: res[3]&0x02 != 0,
		SupportIso18092:  res[3]&0x04 != 0,
	}, nil
}

// Firmware returns the version read by the last FirmwareVersion or Init.
func (r *Reader) Firmware() *FirmwareVersion {
	var fw *FirmwareVersion
	r.mu.Do(func() { fw = r.firmware })
	return fw
}

// GeneralStatus reads the chip status.
func (r *Reader) GeneralStatus(ctx context.Context) (*GeneralStatus, error) {
	res, err := r.command(ctx, cmdGetGeneralStatus, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get general status: %w", err)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("%w: general status of %d bytes", ErrInvalidResponse, len(res))
	}
	return &GeneralStatus{
		LastError:    res[0],
		FieldPresent: res[1] == 0x01,
		Targets:      res[2],
	}, nil
}

// SAMConfiguration sets the SAM mode.
func (r *Reader) SAMConfiguration(ctx context.Context, mode SAMMode) error {
	if _, err := r.command(ctx, cmdSAMConfiguration, []byte{byte(mode), 0x14, 0x01}); err != nil {
		return fmt.Errorf("failed to configure SAM: %w", err)
	}
	return nil
}

// SetField switches the RF carrier.
func (r *Reader) SetField(ctx context.Context, on bool) error {
	v := byte(0)
	if on {
		v = rfFieldOn
	}
	if _, err := r.command(ctx, cmdRFConfiguration, []byte{rfItemField, v}); err != nil {
		return fmt.Errorf("failed to switch field: %w", err)
	}
	return nil
}

// ReadRegisters reads CIU or SFR registers in order.
func (r *Reader) ReadRegisters(ctx context.Context, addrs ...uint16) ([]byte, error) {
	args := make([]byte, 0, 2*len(addrs))
	for _, a := range addrs {
		args = append(args, byte(a>>8), byte(a))
	}
	res, err := r.command(ctx, cmdReadRegister, args)
	if err != nil {
		return nil, fmt.Errorf("failed to read registers: %w", err)
	}
	if len(res) != len(addrs) {
		return nil, fmt.Errorf("%w: %d register values for %d addresses", ErrInvalidResponse, len(res), len(addrs))
	}
	return res, nil
}

// WriteRegisters writes CIU or SFR registers in address order.
func (r *Reader) WriteRegisters(ctx context.Context, values map[uint16]byte) error {
	args := make([]byte, 0, 3*len(values))
	for _, a := range slices.Sorted(maps.Keys(values)) {
		args = append(args, byte(a>>8), byte(a), values[a])
	}
	if _, err := r.command(ctx, cmdWriteRegister, args); err != nil {
		return fmt.Errorf("failed to write registers: %w", err)
	}
	return nil
}

// Exchange sends one raw Type B frame with InCommunicateThru and returns
// the card's answer without CRC_B.
func (r *Reader) Exchange(ctx context.Context, frame []byte) ([]byte, error) {
	var guard time.Duration
	r.mu.Do(func() { guard, r.guard = r.guard, 0 })
	if guard > 0 {
		if err := nfcdisc.SleepWait(ctx, guard); err != nil {
			return nil, err
		}
	}

	res, err := r.command(ctx, cmdInCommunicateThru, frame)
	if err != nil {
		return nil, linkError(err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: InCommunicateThru without status", nfcdisc.ErrProtocol)
	}
	// b7..b6 of the status carry MI and NAD flags
	if code := res[0] & 0x3F; code != 0 {
		return nil, &StatusError{Cmd: cmdInCommunicateThru, Code: code}
	}
	return res[1:], nil
}

// Wait blocks for d.
func (*Reader) Wait(ctx context.Context, d time.Duration) error {
	return nfcdisc.SleepWait(ctx, d)
}

// ProtocolConfig returns the last value set for key.
func (r *Reader) ProtocolConfig(key nfcdisc.ConfigKey) (uint32, error) {
	var (
		v  uint32
		ok bool
	)
	r.mu.Do(func() { v, ok = r.config[key] })
	if !ok {
		return 0, fmt.Errorf("%w: %s not set", nfcdisc.ErrInvalidParameter, key)
	}
	return v, nil
}

// SetProtocolConfig applies a link setting. Rates go to the CIU mode
// registers, the frame waiting time becomes the InCommunicateThru timeout,
// and the guard time is honoured before the next frame.
func (r *Reader) SetProtocolConfig(key nfcdisc.ConfigKey, value uint32) error {
	ctx := context.Background()
	var err error
	switch key {
	case nfcdisc.ConfigTxRate, nfcdisc.ConfigRxRate:
		if value > uint32(nfcdisc.Rate848) {
			return fmt.Errorf("%w: bit rate code %d", nfcdisc.ErrInvalidParameter, value)
		}
		reg := uint16(regTxMode)
		if key == nfcdisc.ConfigRxRate {
			reg = regRxMode
		}
		err = r.WriteRegisters(ctx, map[uint16]byte{reg: modeTypeB | byte(value)<<4})
	case nfcdisc.ConfigFrameWaitTime:
		fwt := time.Duration(value) * time.Microsecond
		_, err = r.command(ctx, cmdRFConfiguration, []byte{rfItemTimings, 0x00, rfATRTimeout, TimeoutCode(fwt)})
		if err == nil {
			err = r.transport.SetTimeout(max(defaultTimeout, fwt+hostMargin))
		}
	case nfcdisc.ConfigGuardTime:
		r.mu.Do(func() { r.guard = time.Duration(value) * time.Microsecond })
	default:
		return fmt.Errorf("%w: config key %d", nfcdisc.ErrInvalidParameter, key)
	}
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	r.mu.Do(func() { r.config[key] = value })
	return nil
}

// TimeoutCode returns the smallest InCommunicateThru timeout code covering
// d. Code n stands for 100µs << (n-1).
func TimeoutCode(d time.Duration) byte {
	if d <= 0 {
		return rfDefaultTimeout
	}
	for code := byte(1); code < rfMaxTimeout; code++ {
		if 100*time.Microsecond<<(code-1) >= d {
			return code
		}
	}
	return rfMaxTimeout
}

// ResetField turns the carrier off long enough to reset every card,
// restores 106 kbps and turns it back on. It implements the polling
// loop's field resetter.
func (r *Reader) ResetField(ctx context.Context) error {
	if err := r.SetField(ctx, false); err != nil {
		return err
	}
	if err := nfcdisc.SleepWait(ctx, fieldOffTime); err != nil {
		return err
	}
	if err := r.configureTypeB(ctx); err != nil {
		return err
	}
	if err := r.SetField(ctx, true); err != nil {
		return err
	}
	return nfcdisc.SleepWait(ctx, fieldSettleTime)
}

// TypeB returns the Type B primitives backed by this reader.
func (r *Reader) TypeB() *nfcdisc.FrameTypeB {
	return nfcdisc.NewFrameTypeB(r)
}

// Close turns the field off and closes the transport.
func (r *Reader) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	fieldErr := r.SetField(ctx, false)
	if err := r.transport.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}
	if fieldErr != nil && !IsFatal(fieldErr) {
		return fieldErr
	}
	return nil
}

var _ nfcdisc.FrameExchanger = (*Reader)(nil)
