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

package nfcdisc_test

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZaparooProject/go-nfcdisc"
	virt "github.com/ZaparooProject/go-nfcdisc/internal/testing"
	"github.com/ZaparooProject/go-nfcdisc/internal/testing/fieldlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios replays every fixture in internal/testing/testdata against
// the engine and checks status, candidates and the exchanges on the field.
func TestScenarios(t *testing.T) {
	t.Parallel()

	scenarios, err := virt.LoadScenarios(filepath.Join("internal", "testing", "testdata"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			t.Parallel()
			runScenario(t, sc)
		})
	}
}

func runScenario(t *testing.T, sc *virt.Scenario) {
	t.Helper()

	tech, err := nfcdisc.ParseTech(sc.Tech)
	require.NoError(t, err)

	cfg := nfcdisc.DefaultConfig()
	cfg.Technologies = []string{sc.Tech}
	if sc.Mode != "" {
		cfg.Mode = sc.Mode
	}
	cfg.Compliance.WakeRetries = sc.WakeRetries

	f := sc.Build()
	engine, err := fieldlink.New(f).Engine(cfg)
	require.NoError(t, err)

	var opts []nfcdisc.SessionOption
	if sc.DeviceLimit != nil {
		opts = append(opts, nfcdisc.WithDeviceLimit(tech, *sc.DeviceLimit))
	}
	s := engine.NewSession(opts...)

	res, err := engine.ResolveCollisions(context.Background(), s, tech, nil)
	status := nfcdisc.StatusOf(err)
	if err == nil {
		status = res.Status
	}
	want := strings.ReplaceAll(sc.Expect.Status, "_", " ")
	if !assert.Equal(t, want, status.String()) && err != nil {
		if te := nfcdisc.GetTrace(err); te != nil {
			t.Log(te.FormatTrace())
		}
	}

	wantIDs := make([]string, 0, len(sc.Expect.Candidates))
	for _, id := range sc.Expect.Candidates {
		wantIDs = append(wantIDs, strings.ToUpper(hex.EncodeToString(id)))
	}
	gotIDs := make([]string, 0, s.CandidateCount())
	for _, c := range s.Candidates() {
		gotIDs = append(gotIDs, c.IDString())
	}
	assert.Equal(t, wantIDs, gotIDs, "candidates")

	if sc.Expect.SlotCount > 0 {
		assert.Equal(t, sc.Expect.SlotCount, s.SlotCount(), "slot count")
	}
	assert.Equal(t, sc.Expect.CollisionPending, s.CollisionPending(tech), "collision pending")
	for op, n := range sc.Expect.Calls {
		assert.Equal(t, n, f.Count(op), "calls to %s", op)
	}
}
