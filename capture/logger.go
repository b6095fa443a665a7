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

package capture

import "github.com/ZaparooProject/go-nfcdisc"

// Logger receives captured events. Implementations must be safe for
// concurrent use and must not block.
type Logger interface {
	Log(ev Event)
}

// NoopLogger discards every event.
type NoopLogger struct{}

func (NoopLogger) Log(Event) {}

// Observer forwards session exchanges to a Logger.
type Observer struct {
	logger Logger
	source string
}

// NewObserver returns an nfcdisc.ExchangeObserver that tags every event
// with source. A nil logger discards events.
func NewObserver(l Logger, source string) *Observer {
	if l == nil {
		l = NoopLogger{}
	}
	return &Observer{logger: l, source: source}
}

func (o *Observer) ObserveExchange(x nfcdisc.Exchange) {
	o.logger.Log(FromExchange(o.source, x))
}

var (
	_ Logger                   = NoopLogger{}
	_ nfcdisc.ExchangeObserver = (*Observer)(nil)
)
