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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenarios(t *testing.T) {
	t.Parallel()

	scenarios, err := LoadScenarios("testdata")
	require.NoError(t, err)
	require.Len(t, scenarios, 10)

	names := make(map[string]bool)
	for _, sc := range scenarios {
		assert.NotEmpty(t, sc.Expect.Status, sc.Name)
		assert.False(t, names[sc.Name], "duplicate scenario %q", sc.Name)
		names[sc.Name] = true
	}
}

func TestParseScenario(t *testing.T) {
	t.Parallel()

	sc, err := ParseScenario([]byte(`
name: parse
tech: B
device_limit: 2
type_b:
  - pupi: "01 02 03 04"
    slots: [1]
    fo: 0
    bitrate: 0xB3
faults:
  - op: WUPB
    error: collision
    times: 1
expect:
  status: success
  candidates: ["01020304"]
`))
	require.NoError(t, err)
	require.NotNil(t, sc.DeviceLimit)
	assert.Equal(t, 2, *sc.DeviceLimit)
	require.Len(t, sc.TypeB, 1)
	assert.Equal(t, HexBytes{1, 2, 3, 4}, sc.TypeB[0].PUPI)
	require.NotNil(t, sc.TypeB[0].FO)
	assert.Equal(t, byte(0), *sc.TypeB[0].FO)
	assert.Equal(t, []HexBytes{{1, 2, 3, 4}}, sc.Expect.Candidates)
}

func TestParseScenario_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing name":  "tech: B\n",
		"missing tech":  "name: x\n",
		"bad hex":       "name: x\ntech: B\ntype_b:\n  - pupi: \"0G\"\n",
		"unknown fault": "name: x\ntech: B\nfaults:\n  - op: WUPB\n    error: smoke\n",
		"not yaml":      "name: [x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadScenario_FileErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tech: B\n"), 0o600))
	_, err = LoadScenarios(dir)
	require.ErrorContains(t, err, "bad.yaml")
}

func TestScenario_Build(t *testing.T) {
	t.Parallel()

	sc, err := LoadScenario(filepath.Join("testdata", "d_compliance_retry.yaml"))
	require.NoError(t, err)

	f := sc.Build()
	require.Len(t, f.CardsB(), 1)
	assert.Equal(t, [4]byte{0xCA, 0xFE, 0xBA, 0xBE}, f.CardsB()[0].PUPI)

	for range 2 {
		_, err = f.TransceiveB([]byte{0x05, 0x00, 0x08})
		require.ErrorIs(t, err, ErrNoResponse)
	}
	_, err = f.TransceiveB([]byte{0x05, 0x00, 0x08})
	require.NoError(t, err)
}

func TestScenario_BuildAllTechnologies(t *testing.T) {
	t.Parallel()

	sc := &Scenario{
		Name: "mixed",
		Tech: "A",
		TypeA: []ScenarioCardA{
			{UID: HexBytes{1, 2, 3, 4}},
			{UID: HexBytes{1, 2, 3, 4, 5, 6, 7}, ATS: HexBytes{0x05, 0x78, 0x80, 0x70, 0x02}},
		},
		TypeV: []ScenarioCardV{{UID: HexBytes{1, 2, 3, 4, 5, 6, 7, 8}, DSFID: 9}},
	}
	f := sc.Build()

	cards := f.CardsA()
	require.Len(t, cards, 2)
	assert.Nil(t, cards[0].ATS)
	assert.Equal(t, byte(0x20), cards[1].SAK)
	require.Len(t, f.CardsV(), 1)
	assert.Equal(t, byte(9), f.CardsV()[0].DSFID)
}
