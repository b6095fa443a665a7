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

package detection

import (
	"context"
	"path/filepath"
	"runtime"

	"github.com/ZaparooProject/go-nfcdisc/transport/i2c"
)

var (
	listI2CBuses = func() ([]string, error) { return filepath.Glob("/dev/i2c-*") }
	probeI2CFn   = probeI2C
)

// detectI2C probes the chip's fixed address on each bus. A bus cannot
// describe what is attached to it, so Passive mode finds nothing.
func detectI2C(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, ErrUnsupportedPlatform
	}
	if opts.Mode == Passive {
		return nil, nil
	}
	buses := opts.I2CBuses
	if len(buses) == 0 {
		var err error
		if buses, err = listI2CBuses(); err != nil {
			return nil, err
		}
	}

	var devs []DeviceInfo
	for _, bus := range buses {
		if ctx.Err() != nil {
			break
		}
		if IsPathIgnored(bus, opts.IgnorePaths) {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
		fw, err := probeI2CFn(probeCtx, bus)
		cancel()
		if err != nil {
			continue
		}
		devs = append(devs, DeviceInfo{
			Transport:  "i2c",
			Path:       bus,
			Name:       "PN532",
			Firmware:   fw,
			Confidence: High,
			Metadata:   map[string]string{"address": "0x24"},
		})
	}
	return devs, nil
}

func probeI2C(ctx context.Context, bus string) (string, error) {
	tr, err := i2c.New(bus)
	if err != nil {
		return "", err
	}
	defer func() { _ = tr.Close() }()
	return probeFirmware(ctx, tr)
}
