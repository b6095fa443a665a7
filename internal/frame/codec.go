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

package frame

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means the buffer ends before the frame does.
	ErrIncomplete = errors.New("incomplete frame")
	// ErrLengthChecksum means LEN and LCS do not sum to zero.
	ErrLengthChecksum = errors.New("length checksum mismatch")
	// ErrDataChecksum means TFI, payload and DCS do not sum to zero.
	ErrDataChecksum = errors.New("data checksum mismatch")
	// ErrUnexpectedTFI means the frame is addressed the wrong way.
	ErrUnexpectedTFI = errors.New("unexpected frame identifier")
	// ErrTooLarge means the payload does not fit a normal frame.
	ErrTooLarge = errors.New("payload too large")
)

// Kind classifies a decoded frame.
type Kind int

const (
	KindData Kind = iota
	KindAck
	KindNack
	// KindError is the application level error frame (TFI 0x7F).
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindNack:
		return "nack"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Frame is one decoded frame. Payload excludes the TFI.
type Frame struct {
	Payload []byte
	Kind    Kind
}

// Build encodes payload as a normal information frame with the given TFI.
func Build(tfi byte, payload []byte) ([]byte, error) {
	n := len(payload) + 1
	if n > MaxDataLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	out := make([]byte, 0, n+7)
	out = append(out, Preamble, StartCode1, StartCode2, byte(n), Complement([]byte{byte(n)}), tfi)
	out = append(out, payload...)
	dcs := Complement(out[5:])
	return append(out, dcs, Postamble), nil
}

// FindStart returns the offset of the first 00 FF start code, or -1.
func FindStart(buf []byte) int {
	return bytes.Index(buf, []byte{StartCode1, StartCode2})
}

// Decode parses the first frame in buf and reports how many bytes it
// consumed, leading garbage included. tfi is the identifier data frames
// must carry. With ErrIncomplete nothing is consumed; with a checksum error
// the bad frame is consumed so the caller can NACK and resynchronise.
func Decode(buf []byte, tfi byte) (Frame, int, error) {
	off := FindStart(buf)
	if off < 0 {
		return Frame{}, 0, ErrIncomplete
	}
	p := buf[off+2:]
	if len(p) < 2 {
		return Frame{}, 0, ErrIncomplete
	}
	head := off + 2

	switch {
	case p[0] == 0x00 && p[1] == 0xFF:
		return Frame{Kind: KindAck}, head + 2 + postambleLen(p[2:]), nil
	case p[0] == 0xFF && p[1] == 0x00:
		return Frame{Kind: KindNack}, head + 2 + postambleLen(p[2:]), nil
	case p[0] == 0xFF && p[1] == 0xFF:
		return Frame{}, head + 2, fmt.Errorf("%w: extended frames unsupported", ErrLengthChecksum)
	}

	n := int(p[0])
	if byte(n)+p[1] != 0 {
		return Frame{}, head + 2, ErrLengthChecksum
	}
	if n == 0 {
		return Frame{}, head + 2, fmt.Errorf("%w: zero length", ErrLengthChecksum)
	}
	if len(p) < 2+n+1 {
		return Frame{}, 0, ErrIncomplete
	}
	body := p[2 : 2+n]
	consumed := head + 2 + n + 1
	if CalculateChecksum(body)+p[2+n] != 0 {
		return Frame{}, consumed, ErrDataChecksum
	}
	consumed += postambleLen(p[2+n+1:])

	payload := append([]byte(nil), body[1:]...)
	switch body[0] {
	case tfi:
		return Frame{Kind: KindData, Payload: payload}, consumed, nil
	case ErrorTFI:
		return Frame{Kind: KindError, Payload: payload}, consumed, nil
	default:
		return Frame{}, consumed, fmt.Errorf("%w: 0x%02X", ErrUnexpectedTFI, body[0])
	}
}

func postambleLen(rest []byte) int {
	if len(rest) > 0 && rest[0] == Postamble {
		return 1
	}
	return 0
}

// Decoder accumulates a byte stream and yields frames.
type Decoder struct {
	buf []byte
	tfi byte
}

// NewDecoder returns a decoder for data frames carrying tfi.
func NewDecoder(tfi byte) *Decoder {
	return &Decoder{tfi: tfi}
}

// Write appends received bytes.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete frame. It returns ErrIncomplete when more
// bytes are needed.
func (d *Decoder) Next() (Frame, error) {
	f, n, err := Decode(d.buf, d.tfi)
	if n == 0 && FindStart(d.buf) < 0 && len(d.buf) > 1 {
		// keep a trailing byte that may begin a start code
		n = len(d.buf) - 1
	}
	d.buf = d.buf[n:]
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return f, err
}

// Buffered returns the number of unconsumed bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops buffered bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}
