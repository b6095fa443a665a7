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

package testing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// HexBytes decodes a YAML hex string such as "01 02 0A" or "01020A".
type HexBytes []byte

func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*h = b
	return nil
}

// ScenarioCardB describes a Type B card.
type ScenarioCardB struct {
	FO      *byte    `yaml:"fo"`
	PUPI    HexBytes `yaml:"pupi"`
	Slots   []int    `yaml:"slots"`
	BitRate byte     `yaml:"bitrate"`
	FSCI    *byte    `yaml:"fsci"`
	FWI     *byte    `yaml:"fwi"`
	SFGI    byte     `yaml:"sfgi"`
	AFI     byte     `yaml:"afi"`
	MBLI    byte     `yaml:"mbli"`
}

// ScenarioCardA describes a Type A card.
type ScenarioCardA struct {
	UID HexBytes `yaml:"uid"`
	ATS HexBytes `yaml:"ats"`
}

// ScenarioCardV describes a Type V card.
type ScenarioCardV struct {
	UID   HexBytes `yaml:"uid"`
	Slots []int    `yaml:"slots"`
	DSFID byte     `yaml:"dsfid"`
	AFI   byte     `yaml:"afi"`
}

// ScenarioFault injects failures on an op: timeout, collision or abort.
type ScenarioFault struct {
	Op    string `yaml:"op"`
	Error string `yaml:"error"`
	Times int    `yaml:"times"`
}

// ScenarioExpect is the expected outcome of a resolution.
type ScenarioExpect struct {
	Status string `yaml:"status"`
	// Candidates are the expected IDs in discovery order.
	Candidates []HexBytes `yaml:"candidates"`
	// Calls counts exchanges per op.
	Calls            map[string]int `yaml:"calls"`
	SlotCount        int            `yaml:"slot_count"`
	CollisionPending bool           `yaml:"collision_pending"`
}

// Scenario is one resolution fixture.
type Scenario struct {
	DeviceLimit *int            `yaml:"device_limit"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Tech        string          `yaml:"tech"`
	Mode        string          `yaml:"mode"`
	TypeA       []ScenarioCardA `yaml:"type_a"`
	TypeB       []ScenarioCardB `yaml:"type_b"`
	TypeV       []ScenarioCardV `yaml:"type_v"`
	Faults      []ScenarioFault `yaml:"faults"`
	Expect      ScenarioExpect  `yaml:"expect"`
	WakeRetries int             `yaml:"wake_retries"`
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if sc.Name == "" {
		return nil, errors.New("scenario name is required")
	}
	if sc.Tech == "" {
		return nil, fmt.Errorf("scenario %s: tech is required", sc.Name)
	}
	for _, ft := range sc.Faults {
		if _, ok := faultError(ft.Error); !ok {
			return nil, fmt.Errorf("scenario %s: unknown fault %q on %s", sc.Name, ft.Error, ft.Op)
		}
	}
	return &sc, nil
}

// LoadScenario reads one scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test fixture path
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// LoadScenarios reads every *.yaml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	sort.Strings(paths)
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, nil
}

// faultError maps a fault name onto a field error.
func faultError(name string) (err error, ok bool) {
	switch strings.ToLower(name) {
	case "timeout", "":
		return ErrNoResponse, true
	case "collision":
		return ErrCollision, true
	case "abort":
		return ErrAborted, true
	default:
		return nil, false
	}
}

// Build populates a fresh field with the scenario's cards and faults.
func (sc *Scenario) Build() *VirtualField {
	f := NewVirtualField()
	for _, cb := range sc.TypeB {
		c := NewCardB(cb.PUPI...)
		c.Slots = append([]int(nil), cb.Slots...)
		c.BitRate = cb.BitRate
		c.SFGI = cb.SFGI
		c.AFI = cb.AFI
		c.MBLI = cb.MBLI
		if cb.FO != nil {
			c.FO = *cb.FO
		}
		if cb.FSCI != nil {
			c.FSCI = *cb.FSCI
		}
		if cb.FWI != nil {
			c.FWI = *cb.FWI
		}
		f.AddB(c)
	}
	for _, ca := range sc.TypeA {
		var ats []byte
		if len(ca.ATS) > 0 {
			ats = ca.ATS
		}
		f.AddA(NewCardA(ca.UID, ats))
	}
	for _, cv := range sc.TypeV {
		c := NewCardV(cv.UID...)
		c.Slots = append([]int(nil), cv.Slots...)
		c.DSFID = cv.DSFID
		c.AFI = cv.AFI
		f.AddV(c)
	}
	for _, ft := range sc.Faults {
		err, _ := faultError(ft.Error)
		f.Fail(ft.Op, err, ft.Times)
	}
	return f
}
