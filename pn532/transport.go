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

// Package pn532 drives an NXP PN532 as the Type B link layer of the
// discovery engine. Raw ISO/IEC 14443-3B frames go through
// InCommunicateThru with CRC generation and checking left to the chip.
package pn532

import (
	"context"
	"time"
)

// Transport carries PN532 host frames. SendCommand returns the response
// payload after the TFI, starting with the response code (cmd+1).
// Implementations live in transport/uart, transport/i2c and transport/spi.
type Transport interface {
	SendCommand(ctx context.Context, cmd byte, args []byte) ([]byte, error)
	Close() error
	// SetTimeout sets how long to wait for the chip's response.
	SetTimeout(timeout time.Duration) error
	IsConnected() bool
	Type() TransportType
}

// TransportType names a transport implementation.
type TransportType string

const (
	TransportUART TransportType = "uart"
	TransportI2C  TransportType = "i2c"
	TransportSPI  TransportType = "spi"
	TransportMock TransportType = "mock"
)
