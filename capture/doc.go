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

// Package capture records RF exchanges made during discovery so a session
// can be inspected or replayed offline.
//
// A Logger receives Events. Observer adapts a Logger to
// nfcdisc.ExchangeObserver:
//
//	fl, _ := capture.NewFileLogger("discovery.nfcap")
//	defer fl.Close()
//	engine, _ := nfcdisc.New(cfg,
//	    nfcdisc.WithTypeB(reader.TypeB()),
//	    nfcdisc.WithExchangeObserver(capture.NewObserver(fl, "/dev/ttyUSB0")),
//	)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded Events with integer keys.
// Reader iterates them, optionally through a Filter.
package capture
