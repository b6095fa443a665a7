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

// Package frame encodes and decodes PN532 host interface frames.
package frame

// Frame identifiers.
const (
	HostToPn532 = 0xD4
	Pn532ToHost = 0xD5
	ErrorTFI    = 0x7F
)

// Frame markers.
const (
	Preamble   = 0x00
	StartCode1 = 0x00
	StartCode2 = 0xFF
	Postamble  = 0x00
)

const (
	// MaxDataLength is the largest TFI plus payload a normal frame carries.
	MaxDataLength = 255
	// MinFrameLength covers preamble, start code, LEN, LCS, TFI and DCS.
	MinFrameLength = 6
)

// ACK and NACK frames.
var (
	AckFrame  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	NackFrame = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
)
