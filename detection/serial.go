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
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/ZaparooProject/go-nfcdisc/pn532"
	"github.com/ZaparooProject/go-nfcdisc/transport/uart"
)

// USB serial bridges found on PN532 boards.
var knownBridges = []string{
	"067B:2303", // Prolific PL2303
	"0403:6001", // FTDI FT232
	"10C4:EA60", // Silicon Labs CP210x
	"1A86:7523", // QinHeng CH340
}

// serialPort is an enumerated port with its USB descriptors.
type serialPort struct {
	Path         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// Replaced in tests.
var (
	listSerialPorts = enumerateSerialPorts
	probeSerialFn   = probeSerial
)

func enumerateSerialPorts() ([]serialPort, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}
	ports := make([]serialPort, 0, len(details))
	for _, d := range details {
		p := serialPort{Path: d.Name}
		if d.IsUSB {
			p.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
			p.Product = d.Product
			p.SerialNumber = d.SerialNumber
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func isLikelyPN532(p *serialPort) bool {
	for _, known := range knownBridges {
		if p.VIDPID == known {
			return true
		}
	}
	product := strings.ToLower(p.Product)
	for _, kw := range []string{"pn532", "nfc", "rfid", "13.56"} {
		if strings.Contains(product, kw) {
			return true
		}
	}
	return false
}

func detectSerial(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	ports, err := listSerialPorts()
	if err != nil {
		return nil, err
	}

	var devs []DeviceInfo
	for i := range ports {
		if ctx.Err() != nil {
			break
		}
		p := &ports[i]
		if IsBlocked(p.VIDPID, opts.Blocklist) || IsPathIgnored(p.Path, opts.IgnorePaths) {
			continue
		}
		if dev, ok := classifySerial(ctx, p, opts); ok {
			devs = append(devs, dev)
		}
	}
	return devs, nil
}

// classifySerial decides whether a port is reported. Passive mode reports
// likely bridges only; Safe mode reports ports whose probe answered.
func classifySerial(ctx context.Context, p *serialPort, opts *Options) (DeviceInfo, bool) {
	dev := DeviceInfo{
		Transport:  "uart",
		Path:       p.Path,
		Name:       p.Product,
		Confidence: Low,
		Metadata:   make(map[string]string),
	}
	if p.VIDPID != "" && p.VIDPID != ":" {
		dev.Metadata["vidpid"] = p.VIDPID
	}
	if p.SerialNumber != "" {
		dev.Metadata["serial"] = p.SerialNumber
	}
	if isLikelyPN532(p) {
		dev.Confidence = Medium
	}

	if opts.Mode == Passive {
		return dev, dev.Confidence == Medium
	}

	probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
	defer cancel()
	fw, err := probeSerialFn(probeCtx, p.Path)
	if err != nil {
		return DeviceInfo{}, false
	}
	dev.Confidence = High
	dev.Firmware = fw
	return dev, true
}

// probeSerial opens the port once and asks for the firmware version. A
// port that fails is not retried: it is probably not a PN532.
func probeSerial(ctx context.Context, path string) (string, error) {
	tr, err := uart.New(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = tr.Close() }()
	return probeFirmware(ctx, tr)
}

// probeFirmware accepts a chip that supports ISO/IEC 14443B.
func probeFirmware(ctx context.Context, t pn532.Transport) (string, error) {
	fw, err := pn532.New(t, pn532.WithCommandRetries(0)).FirmwareVersion(ctx)
	if err != nil {
		return "", err
	}
	if !fw.SupportIso14443b {
		return "", fmt.Errorf("%w: no ISO/IEC 14443B", pn532.ErrDeviceNotSupported)
	}
	return fw.Version, nil
}
