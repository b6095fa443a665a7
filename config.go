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
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TypeBConfig holds the Type B request parameters.
type TypeBConfig struct {
	// MaxSlots caps the slot count per round (1, 2, 4, 8 or 16). Zero means 16.
	MaxSlots     int  `yaml:"max_slots"`
	AFI          byte `yaml:"afi"`
	ExtendedATQB bool `yaml:"extended_atqb"`
}

func (c TypeBConfig) maxSlotExp() uint8 {
	if c.MaxSlots <= 0 {
		return MaxSlotExponentB
	}
	var exp uint8
	for exp < MaxSlotExponentB && 1<<(exp+1) <= c.MaxSlots {
		exp++
	}
	return exp
}

// TypeVConfig holds the vicinity inventory parameters.
type TypeVConfig struct {
	AFI byte `yaml:"afi"`
}

// ComplianceConfig tunes the compliance policy.
type ComplianceConfig struct {
	RetransmissionDelay time.Duration `yaml:"retransmission_delay"`
	WakeRetries         int           `yaml:"wake_retries"`
	// MaxFrameSize is in bytes.
	MaxFrameSize int `yaml:"max_frame_size"`
}

// ActivationConfig is the default activation request.
type ActivationConfig struct {
	RxKbps    int  `yaml:"rx_kbps"`
	TxKbps    int  `yaml:"tx_kbps"`
	FrameSize int  `yaml:"frame_size"`
	CID       byte `yaml:"cid"`
}

// Config is the discovery engine configuration, usually loaded from YAML.
type Config struct {
	DeviceLimits map[string]int   `yaml:"device_limits"`
	Mode         string           `yaml:"mode"`
	Technologies []string         `yaml:"technologies"`
	Activation   ActivationConfig `yaml:"activation"`
	Compliance   ComplianceConfig `yaml:"compliance"`
	MaxCards     int              `yaml:"max_cards"`
	TypeB        TypeBConfig      `yaml:"type_b"`
	TypeV        TypeVConfig      `yaml:"type_v"`
}

// DefaultConfig polls A, B and V in that order in generic mode.
func DefaultConfig() *Config {
	return &Config{
		Technologies: []string{"A", "B", "V"},
		MaxCards:     DefaultMaxCards,
		Mode:         ModeGeneric.String(),
		Compliance: ComplianceConfig{
			WakeRetries:         DefaultWakeRetries,
			RetransmissionDelay: DefaultRetransmissionDelay,
			MaxFrameSize:        DefaultComplianceFrameSize.Bytes(),
		},
		Activation: ActivationConfig{
			RxKbps:    106,
			TxKbps:    106,
			FrameSize: FSD256.Bytes(),
		},
	}
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.MaxCards <= 0 {
		invalid("max_cards must be positive, got %d", c.MaxCards)
	}
	if _, err := ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Techs(); err != nil {
		errs = append(errs, err)
	}
	for name, limit := range c.DeviceLimits {
		if _, err := ParseTech(name); err != nil {
			invalid("device_limits: %v", err)
		}
		if limit < 0 {
			invalid("device_limits[%s] is negative", name)
		}
	}
	if c.Compliance.WakeRetries < 0 {
		invalid("compliance.wake_retries is negative")
	}
	if c.Compliance.RetransmissionDelay < 0 {
		invalid("compliance.retransmission_delay is negative")
	}
	if c.Compliance.MaxFrameSize < FSD16.Bytes() {
		invalid("compliance.max_frame_size %d below %d", c.Compliance.MaxFrameSize, FSD16.Bytes())
	}
	if c.TypeB.MaxSlots < 0 || c.TypeB.MaxSlots > 1<<MaxSlotExponentB {
		invalid("type_b.max_slots %d out of range", c.TypeB.MaxSlots)
	}
	if _, err := BitRateFromKbps(c.Activation.RxKbps); err != nil {
		invalid("activation.rx_kbps: %v", err)
	}
	if _, err := BitRateFromKbps(c.Activation.TxKbps); err != nil {
		invalid("activation.tx_kbps: %v", err)
	}
	if c.Activation.FrameSize < FSD16.Bytes() {
		invalid("activation.frame_size %d below %d", c.Activation.FrameSize, FSD16.Bytes())
	}
	if c.Activation.CID > 14 {
		invalid("activation.cid %d out of range", c.Activation.CID)
	}
	return errors.Join(errs...)
}

// Techs returns the configured technologies in polling order.
func (c *Config) Techs() ([]Tech, error) {
	if len(c.Technologies) == 0 {
		return nil, fmt.Errorf("%w: no technologies configured", ErrInvalidConfig)
	}
	var seen TechSet
	out := make([]Tech, 0, len(c.Technologies))
	for _, name := range c.Technologies {
		t, err := ParseTech(name)
		if err != nil {
			return nil, err
		}
		if seen.Has(t) {
			return nil, fmt.Errorf("%w: technology %s listed twice", ErrInvalidConfig, t)
		}
		seen.Add(t)
		out = append(out, t)
	}
	return out, nil
}

// Policy builds the strategy for the configured mode.
func (c *Config) Policy() Policy {
	mode, err := ParseMode(c.Mode)
	if err != nil || mode == ModeGeneric {
		return GenericPolicy{}
	}
	return &CompliancePolicy{
		WakeRetries:         c.Compliance.WakeRetries,
		RetransmissionDelay: c.Compliance.RetransmissionDelay,
		MaxFrameSize:        FrameSizeForBytes(c.Compliance.MaxFrameSize),
	}
}

// SessionOptions turns the device limits into session options.
func (c *Config) SessionOptions() []SessionOption {
	opts := make([]SessionOption, 0, len(c.DeviceLimits))
	for name, limit := range c.DeviceLimits {
		t, err := ParseTech(name)
		if err != nil {
			continue
		}
		opts = append(opts, WithDeviceLimit(t, limit))
	}
	return opts
}

// ActivationRequest converts the activation section. Invalid rates fall back
// to 106 kbps.
func (c *Config) ActivationRequest() ActivationRequest {
	req := DefaultActivationRequest()
	if r, err := BitRateFromKbps(c.Activation.RxKbps); err == nil {
		req.RxRate = r
	}
	if r, err := BitRateFromKbps(c.Activation.TxKbps); err == nil {
		req.TxRate = r
	}
	req.FrameSize = FrameSizeForBytes(c.Activation.FrameSize)
	req.CID = c.Activation.CID
	return req
}
