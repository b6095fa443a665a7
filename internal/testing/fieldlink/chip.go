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

package fieldlink

import (
	"context"

	virt "github.com/ZaparooProject/go-nfcdisc/internal/testing"
	"github.com/ZaparooProject/go-nfcdisc/pn532"
)

// ChipTransport adapts a SimulatorTransport to pn532.Transport.
type ChipTransport struct {
	*virt.SimulatorTransport
}

func (*ChipTransport) Type() pn532.TransportType {
	return pn532.TransportMock
}

func (*ChipTransport) IsConnected() bool {
	return true
}

// NewChip puts a simulated PN532 in front of f and returns an initialised
// reader together with the simulator.
func NewChip(ctx context.Context, f *virt.VirtualField, opts ...pn532.Option) (*pn532.Reader, *virt.VirtualPN532, error) {
	sim := virt.NewVirtualPN532(f)
	r := pn532.New(&ChipTransport{SimulatorTransport: virt.NewSimulatorTransport(sim)}, opts...)
	if err := r.Init(ctx); err != nil {
		return nil, nil, err
	}
	return r, sim, nil
}

var _ pn532.Transport = (*ChipTransport)(nil)
