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
	"errors"
	"fmt"
	"io"
	"runtime"
	"syscall"

	"github.com/ZaparooProject/go-nfcdisc"
)

// Host link errors.
var (
	ErrTransportTimeout   = errors.New("transport timeout")
	ErrTransportWrite     = errors.New("transport write failed")
	ErrTransportRead      = errors.New("transport read failed")
	ErrTransportClosed    = errors.New("transport is closed")
	ErrNoACK              = errors.New("no ACK received")
	ErrNACKReceived       = errors.New("NACK received")
	ErrFrameCorrupted     = errors.New("frame corrupted")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrDataTooLarge       = errors.New("data too large")
	ErrInvalidResponse    = errors.New("invalid response format")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrDeviceNotSupported = errors.New("device not supported")
	ErrSyntax             = errors.New("chip rejected command frame")
)

// ErrorType categorises transport errors for retry decisions.
type ErrorType int

const (
	ErrorTypeTransient ErrorType = iota
	ErrorTypePermanent
	ErrorTypeTimeout
)

// TransportError wraps a host link failure with its context.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError. Transient and timeout errors
// are retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

func NewFrameCorruptedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrFrameCorrupted, ErrorTypeTransient)
}

func NewDataTooLargeError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrDataTooLarge, ErrorTypePermanent)
}

func NewTransportWriteError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportWrite, ErrorTypeTransient)
}

func NewTransportReadError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportRead, ErrorTypeTransient)
}

func NewNoACKError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrNoACK, ErrorTypeTimeout)
}

func NewNACKReceivedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrNACKReceived, ErrorTypeTransient)
}

func NewChecksumMismatchError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrChecksumMismatch, ErrorTypeTransient)
}

func NewInvalidResponseError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrInvalidResponse, ErrorTypePermanent)
}

// NewSyntaxError reports the chip's error frame. Sending the same command
// again will not help, but the link itself is fine.
func NewSyntaxError(op, port string) *TransportError {
	return &TransportError{Op: op, Port: port, Err: ErrSyntax, Type: ErrorTypeTransient}
}

// IsRetryable reports whether a host link error may succeed when the
// command is sent again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportRead),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrFrameCorrupted),
		errors.Is(err, ErrChecksumMismatch):
		return true
	default:
		return false
	}
}

// IsFatal reports whether the device or its connection is gone.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) && te.Type == ErrorTypePermanent {
		return true
	}
	if isDeviceGoneError(err) {
		return true
	}
	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, ErrDeviceNotSupported),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for a removed USB device.
const (
	errAccessDenied syscall.Errno = 5
	errGenFailure   syscall.Errno = 31
	errNoSuchDevice syscall.Errno = 433
)

func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	//nolint:exhaustive // only device-gone codes
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}
	if runtime.GOOS == "windows" {
		//nolint:exhaustive // only device-gone codes
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// Chip status codes (§7.1, Table 13).
const (
	StatusTimeout      = 0x01
	StatusCRC          = 0x02
	StatusParity       = 0x03
	StatusBitCount     = 0x04
	StatusFraming      = 0x05
	StatusCollision    = 0x06
	StatusRFField      = 0x0A
	StatusRFProtocol   = 0x0B
	StatusInvalidParam = 0x10
)

var statusMeanings = map[byte]string{
	0x01: "timeout",
	0x02: "CRC error",
	0x03: "parity error",
	0x04: "erroneous bit count during anti-collision",
	0x05: "framing error",
	0x06: "abnormal bit collision",
	0x07: "communication buffer size insufficient",
	0x09: "RF buffer overflow",
	0x0A: "RF field not activated in time",
	0x0B: "RF protocol error",
	0x0D: "overheating",
	0x0E: "internal buffer overflow",
	0x10: "invalid parameter",
	0x12: "DEP protocol not supported",
	0x13: "data format does not match",
	0x23: "UID check byte is wrong",
	0x25: "invalid device state",
	0x26: "operation not allowed",
	0x27: "wrong context for command",
	0x29: "target released by initiator",
	0x2B: "card disappeared",
	0x2D: "over-current event",
	0x81: "command not supported",
}

// StatusMeaning returns a description of a chip status code.
func StatusMeaning(code byte) string {
	if m, ok := statusMeanings[code]; ok {
		return m
	}
	return "unknown error"
}

// StatusError is a non-zero status byte in a chip response. It unwraps to
// the engine error the status stands for, so a silent card is a timeout
// and a garbled answer is a transmission error.
type StatusError struct {
	Cmd  byte
	Code byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("command 0x%02X status 0x%02X (%s)", e.Cmd, e.Code, StatusMeaning(e.Code))
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case StatusTimeout, StatusRFField:
		return nfcdisc.ErrTimeout
	case StatusCRC, StatusParity, StatusBitCount, StatusFraming, StatusCollision, StatusRFProtocol:
		return nfcdisc.ErrTransmission
	case StatusInvalidParam:
		return nfcdisc.ErrInvalidParameter
	default:
		return nfcdisc.ErrProtocol
	}
}

// linkError maps a host link failure onto the engine taxonomy. A device
// that is gone aborts the pass; anything else looks like a garbled answer.
func linkError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nfcdisc.ErrAborted), errors.Is(err, nfcdisc.ErrTimeout):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", nfcdisc.ErrAborted, err)
	case IsFatal(err):
		return fmt.Errorf("%w: %w", nfcdisc.ErrAborted, err)
	default:
		return fmt.Errorf("%w: %w", nfcdisc.ErrTransmission, err)
	}
}
