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

import "time"

// Command codes (PN532 User Manual §7).
const (
	cmdGetFirmwareVersion = 0x02
	cmdGetGeneralStatus   = 0x04
	cmdReadRegister       = 0x06
	cmdWriteRegister      = 0x08
	cmdSAMConfiguration   = 0x14
	cmdRFConfiguration    = 0x32
	cmdInCommunicateThru  = 0x42
)

// SAMMode is the SAMConfiguration mode.
type SAMMode byte

const (
	SAMModeNormal      SAMMode = 0x01
	SAMModeVirtualCard SAMMode = 0x02
	SAMModeWiredCard   SAMMode = 0x03
	SAMModeDualCard    SAMMode = 0x04
)

// RFConfiguration items (§7.3.1).
const (
	rfItemField   = 0x01
	rfItemTimings = 0x02
	rfItemRetries = 0x05

	rfFieldOn = 0x01
	// rfATRTimeout is the ATR_RES timeout sent with the timings item
	// (102.4 ms).
	rfATRTimeout = 0x0B
	// rfDefaultTimeout is the InCommunicateThru timeout code used until a
	// frame waiting time is configured (51.2 ms).
	rfDefaultTimeout = 0x0A
	// rfMaxTimeout is the largest timeout code (3.28 s).
	rfMaxTimeout = 0x10
)

// CIU registers used to switch the contactless UART to Type B (PN512
// register map, offset 0x6300 in the PN532 address space).
const (
	regTxMode = 0x6302
	regRxMode = 0x6303
	regTxAuto = 0x6305
	regTypeB  = 0x631E

	// CRC enabled, ISO/IEC 14443B framing. The speed goes in b6..b4.
	modeTypeB = 0x83
)

// Timings around a field reset (ISO/IEC 14443-3 and EMVCo tRESET, tP).
const (
	fieldOffTime    = 6 * time.Millisecond
	fieldSettleTime = 5100 * time.Microsecond
	// hostMargin is added to the frame waiting time for the host link.
	hostMargin     = 50 * time.Millisecond
	defaultTimeout = time.Second
)
