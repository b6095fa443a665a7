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

// Package detection finds PN532 readers able to run Type B discovery.
package detection

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Mode is how invasive detection may be.
type Mode int

const (
	// Passive only looks at port descriptors.
	Passive Mode = iota
	// Safe sends GetFirmwareVersion to candidate ports.
	Safe
)

// ParseMode accepts "passive" or "safe".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "passive":
		return Passive, nil
	case "safe", "":
		return Safe, nil
	default:
		return 0, fmt.Errorf("unknown detection mode %q", s)
	}
}

// Confidence is how sure detection is that a device is a PN532.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo is a detected reader.
type DeviceInfo struct {
	Metadata map[string]string
	// Transport is "uart", "i2c" or "spi".
	Transport string
	Path      string
	Name      string
	// Firmware is set when a probe answered.
	Firmware   string
	Confidence Confidence
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s device at %s (confidence: %s)", d.Transport, d.Path, d.Confidence)
}

// Options configures detection.
type Options struct {
	// Blocklist holds USB VID:PID pairs never probed.
	Blocklist   []string
	IgnorePaths []string
	// Transports limits detection to some of "uart", "i2c" and "spi".
	// Empty means all of them.
	Transports []string
	// I2CBuses are probed in Safe mode. Empty means every /dev/i2c-*.
	I2CBuses []string
	// SPIPorts are listed instead of every /dev/spidev*.
	SPIPorts     []string
	ProbeTimeout time.Duration
	Mode         Mode
}

// DefaultOptions probes serial ports, I2C buses and SPI ports safely.
func DefaultOptions() Options {
	return Options{
		Mode:         Safe,
		ProbeTimeout: 2 * time.Second,
	}
}

var (
	ErrNoDevicesFound      = errors.New("no PN532 devices found")
	ErrUnsupportedPlatform = errors.New("platform not supported")
)

func (o *Options) wants(transport string) bool {
	if len(o.Transports) == 0 {
		return true
	}
	for _, t := range o.Transports {
		if strings.EqualFold(t, transport) {
			return true
		}
	}
	return false
}

// DetectAll runs every selected detector and returns what they found,
// best confidence first. Detector errors are returned only when nothing
// was found.
func DetectAll(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if opts == nil {
		def := DefaultOptions()
		opts = &def
	}

	var (
		found []DeviceInfo
		errs  []error
	)
	if opts.wants("uart") {
		devs, err := detectSerial(ctx, opts)
		found = append(found, devs...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if opts.wants("i2c") {
		devs, err := detectI2C(ctx, opts)
		found = append(found, devs...)
		if err != nil && !errors.Is(err, ErrUnsupportedPlatform) {
			errs = append(errs, err)
		}
	}

	if opts.wants("spi") {
		devs, err := detectSPI(ctx, opts)
		found = append(found, devs...)
		if err != nil && !errors.Is(err, ErrUnsupportedPlatform) {
			errs = append(errs, err)
		}
	}

	if len(found) == 0 {
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}
		return nil, ErrNoDevicesFound
	}
	slices.SortStableFunc(found, func(a, b DeviceInfo) int {
		return int(b.Confidence) - int(a.Confidence)
	})
	return found, nil
}

// IsBlocked reports whether vidpid is in the blocklist, ignoring case.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	if vidpid == "" {
		return false
	}
	for _, b := range blocklist {
		if strings.ToUpper(strings.TrimSpace(b)) == vidpid {
			return true
		}
	}
	return false
}

// IsPathIgnored reports whether devicePath is in ignorePaths. Paths are
// cleaned and compared without case.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	dev := normalizedPath(devicePath)
	for _, p := range ignorePaths {
		if p != "" && normalizedPath(p) == dev {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
