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
	"fmt"
	"strings"
)

// Status codes surfaced to the discovery orchestrator.
var (
	ErrCollisionPending = errors.New("collision pending")
	ErrNoDeviceResolved = errors.New("no device resolved")
	ErrTimeout          = errors.New("timeout")
	ErrProtocol         = errors.New("protocol error")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrAborted          = errors.New("aborted")
)

// Errors reported by transceiver primitives and configuration.
var (
	// ErrTransmission is a garbled exchange (CRC, parity, bit collision).
	// The resolver treats it as a collision.
	ErrTransmission = errors.New("transmission error")

	// ErrUnsupportedTechnology is returned for a technology that has no
	// primitives registered with the engine.
	ErrUnsupportedTechnology = errors.New("technology not supported")

	ErrInvalidConfig = errors.New("invalid configuration")
)

// Status is the outcome code of an engine operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusTechnologyDetected
	StatusCollisionPending
	StatusNoDeviceResolved
	StatusTimeout
	StatusProtocolError
	StatusInvalidParameter
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTechnologyDetected:
		return "technology detected"
	case StatusCollisionPending:
		return "collision pending"
	case StatusNoDeviceResolved:
		return "no device resolved"
	case StatusTimeout:
		return "timeout"
	case StatusProtocolError:
		return "protocol error"
	case StatusInvalidParameter:
		return "invalid parameter"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// sentinel returns the error matched by errors.Is for the status.
func (s Status) sentinel() error {
	switch s {
	case StatusCollisionPending:
		return ErrCollisionPending
	case StatusNoDeviceResolved:
		return ErrNoDeviceResolved
	case StatusTimeout:
		return ErrTimeout
	case StatusProtocolError:
		return ErrProtocol
	case StatusInvalidParameter:
		return ErrInvalidParameter
	case StatusAborted:
		return ErrAborted
	default:
		return nil
	}
}

// Component identifies the part of the engine that produced a status.
type Component int

const (
	ComponentDetector Component = iota + 1
	ComponentResolver
	ComponentActivator
	ComponentTransceiver
)

func (c Component) String() string {
	switch c {
	case ComponentDetector:
		return "detector"
	case ComponentResolver:
		return "resolver"
	case ComponentActivator:
		return "activator"
	case ComponentTransceiver:
		return "transceiver"
	default:
		return "unknown"
	}
}

// StatusError carries a non-success status together with the component and
// technology that produced it. errors.Is matches both the status sentinel
// (ErrTimeout, ErrCollisionPending, ...) and the underlying cause.
type StatusError struct {
	Err       error
	Op        string
	Status    Status
	Component Component
	Tech      Tech
}

func (e *StatusError) Error() string {
	var sb strings.Builder
	_, _ = sb.WriteString(e.Component.String())
	if e.Tech != 0 {
		_, _ = sb.WriteString(" ")
		_, _ = sb.WriteString(e.Tech.String())
	}
	if e.Op != "" {
		_, _ = sb.WriteString(" ")
		_, _ = sb.WriteString(e.Op)
	}
	_, _ = sb.WriteString(": ")
	_, _ = sb.WriteString(e.Status.String())
	if e.Err != nil && !errors.Is(e.Status.sentinel(), e.Err) {
		_, _ = sb.WriteString(": ")
		_, _ = sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes the status sentinel and the cause.
func (e *StatusError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Status.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// newStatusError is the single place where statuses are composed with their
// originating component.
func newStatusError(status Status, comp Component, tech Tech, op string, cause error) *StatusError {
	return &StatusError{
		Status:    status,
		Component: comp,
		Tech:      tech,
		Op:        op,
		Err:       cause,
	}
}

// StatusOf returns the status carried by err. Errors that were not produced
// by the engine are classified the same way primitive failures are.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return statusFromErr(err)
}

// statusFromErr maps a primitive failure onto a surfaced status. Anything
// that is not a timeout, abort or parameter problem is a protocol error.
func statusFromErr(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case isAbort(err):
		return StatusAborted
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrInvalidParameter):
		return StatusInvalidParameter
	case errors.Is(err, ErrCollisionPending):
		return StatusCollisionPending
	case errors.Is(err, ErrNoDeviceResolved):
		return StatusNoDeviceResolved
	default:
		return StatusProtocolError
	}
}

func isAbort(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// signal is how an anti-collision exchange outcome drives the resolver.
type signal int

const (
	signalOK signal = iota
	signalEmpty
	signalCollision
	signalAbort
)

func (s signal) String() string {
	switch s {
	case signalOK:
		return "ok"
	case signalEmpty:
		return "empty"
	case signalCollision:
		return "collision"
	case signalAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// classify maps a primitive result onto the resolver's signals. During
// anti-collision every error other than timeout and abort is a collision.
func classify(err error) signal {
	switch {
	case err == nil:
		return signalOK
	case isAbort(err):
		return signalAbort
	case errors.Is(err, ErrTimeout):
		return signalEmpty
	default:
		return signalCollision
	}
}

// IsRetryable reports whether err is a timeout, the only condition the
// compliance policy retries.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return StatusOf(err) == StatusTimeout
}

// IsFatal reports whether err must end the current discovery pass without
// any retry.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch StatusOf(err) {
	case StatusAborted, StatusProtocolError:
		return true
	default:
		return false
	}
}

// =============================================================================
// Exchange trace
// =============================================================================

// TraceableError wraps an engine failure with the exchanges that led to it.
//
//	var te *nfcdisc.TraceableError
//	if errors.As(err, &te) {
//	    log.Printf("exchanges:\n%s", te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Trace []Exchange
}

func (e *TraceableError) Error() string {
	return e.Err.Error()
}

func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace renders the captured exchanges one per line.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return "(no exchanges)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%d exchanges:\n", len(e.Trace))
	for _, x := range e.Trace {
		_, _ = sb.WriteString("  ")
		_, _ = sb.WriteString(x.String())
		_, _ = sb.WriteString("\n")
	}
	return sb.String()
}

// GetTrace extracts trace data from an error, returning nil if not present.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

func withTrace(err error, trace []Exchange) error {
	if err == nil {
		return nil
	}
	if GetTrace(err) != nil {
		return err
	}
	return &TraceableError{Err: err, Trace: trace}
}
