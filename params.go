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
	"fmt"
	"time"
)

// BitRate is a divisor code: 106 kbps shifted left by the code.
type BitRate uint8

const (
	Rate106 BitRate = iota
	Rate212
	Rate424
	Rate848
)

// Kbps returns the nominal bit rate.
func (r BitRate) Kbps() int {
	return 106 << r
}

func (r BitRate) String() string {
	if r > Rate848 {
		return fmt.Sprintf("rate(%d)", uint8(r))
	}
	return fmt.Sprintf("%dkbps", r.Kbps())
}

// BitRateFromKbps maps 106, 212, 424 or 848 to its code.
func BitRateFromKbps(kbps int) (BitRate, error) {
	switch kbps {
	case 106:
		return Rate106, nil
	case 212:
		return Rate212, nil
	case 424:
		return Rate424, nil
	case 848:
		return Rate848, nil
	default:
		return 0, fmt.Errorf("%w: unsupported bit rate %d kbps", ErrInvalidParameter, kbps)
	}
}

// FrameSize is an FSDI/FSCI code.
type FrameSize uint8

const (
	FSD16 FrameSize = iota
	FSD24
	FSD32
	FSD40
	FSD48
	FSD64
	FSD96
	FSD128
	FSD256
	FSD512
	FSD1024
	FSD2048
	FSD4096
)

var frameSizeBytes = [...]int{16, 24, 32, 40, 48, 64, 96, 128, 256, 512, 1024, 2048, 4096}

// Bytes returns the frame size in bytes. Codes above 4096 bytes are RFU and
// are treated as 256 bytes by cards.
func (f FrameSize) Bytes() int {
	if int(f) >= len(frameSizeBytes) {
		return 256
	}
	return frameSizeBytes[f]
}

func (f FrameSize) String() string {
	return fmt.Sprintf("%dB", f.Bytes())
}

// FrameSizeForBytes returns the largest code not exceeding n bytes.
func FrameSizeForBytes(n int) FrameSize {
	code := FSD16
	for i, b := range frameSizeBytes {
		if b <= n {
			code = FrameSize(i)
		}
	}
	return code
}

// fwtUnit is 4096/fc, the frame waiting time for FWI 0.
const fwtUnit = 302065 * time.Nanosecond

// FrameWaitTime converts a frame waiting time integer. FWI 15 is RFU and is
// handled as the default 4.
func FrameWaitTime(fwi uint8) time.Duration {
	if fwi > 14 {
		fwi = 4
	}
	return fwtUnit << fwi
}

// StartupGuardTime converts an SFGI. 0 and 15 mean no guard time.
func StartupGuardTime(sfgi uint8) time.Duration {
	if sfgi == 0 || sfgi > 14 {
		return 0
	}
	return fwtUnit << sfgi
}

// ProtocolParameters are negotiated by activation and read-only afterwards.
type ProtocolParameters struct {
	FWT           time.Duration
	SFGT          time.Duration
	Tech          Tech
	TxRate        BitRate
	RxRate        BitRate
	FrameSize     FrameSize
	CardFrameSize FrameSize
	CID           byte
	FWI           uint8
	SFGI          uint8
	MBLI          uint8
	CIDEnabled    bool
	NADEnabled    bool
	Layer4        bool
}

// ActivationRequest is what the caller asks of an activation. Rates and
// frame size are upper bounds; the card's capabilities and the policy may
// lower them.
type ActivationRequest struct {
	RxRate    BitRate
	TxRate    BitRate
	FrameSize FrameSize
	CID       byte
}

// DefaultActivationRequest asks for 106 kbps, 256 byte frames and CID 0.
func DefaultActivationRequest() ActivationRequest {
	return ActivationRequest{
		RxRate:    Rate106,
		TxRate:    Rate106,
		FrameSize: FSD256,
	}
}
