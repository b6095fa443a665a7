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
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"github.com/ZaparooProject/go-nfcdisc/transport/spi"
)

// spiEnvVar names an extra SPI port to consider, such as "/dev/spidev1.0".
const spiEnvVar = "PN532_SPI_DEVICE"

var (
	listSPIPorts = func() ([]string, error) { return filepath.Glob("/dev/spidev*") }
	probeSPIFn   = probeSPI
)

func spiPorts(opts *Options) ([]string, error) {
	ports := slices.Clone(opts.SPIPorts)
	if len(ports) == 0 {
		var err error
		if ports, err = listSPIPorts(); err != nil {
			return nil, err
		}
	}
	if env := os.Getenv(spiEnvVar); env != "" && !slices.Contains(ports, env) {
		ports = append(ports, env)
	}
	return ports, nil
}

// detectSPI lists SPI ports. Passive mode reports every port with low
// confidence; Safe mode keeps only ports where the chip answers.
func detectSPI(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	if runtime.GOOS != "linux" {
		return nil, ErrUnsupportedPlatform
	}
	ports, err := spiPorts(opts)
	if err != nil {
		return nil, err
	}

	var devs []DeviceInfo
	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		if IsPathIgnored(port, opts.IgnorePaths) {
			continue
		}
		dev := DeviceInfo{
			Transport:  "spi",
			Path:       port,
			Name:       "PN532",
			Confidence: Low,
			Metadata:   map[string]string{"mode": "0"},
		}
		if opts.Mode != Passive {
			probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
			fw, err := probeSPIFn(probeCtx, port)
			cancel()
			if err != nil {
				continue
			}
			dev.Firmware = fw
			dev.Confidence = High
		}
		devs = append(devs, dev)
	}
	return devs, nil
}

func probeSPI(ctx context.Context, port string) (string, error) {
	tr, err := spi.New(port)
	if err != nil {
		return "", err
	}
	defer func() { _ = tr.Close() }()
	return probeFirmware(ctx, tr)
}
