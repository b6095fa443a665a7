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

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level, or Warn when
// the exchange failed with anything other than a timeout.
type SlogAdapter struct {
	logger *slog.Logger
}

func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

func (a *SlogAdapter) Log(ev Event) {
	attrs := []slog.Attr{
		slog.String("tech", ev.Tech),
		slog.String("op", ev.Op),
		slog.Duration("duration", ev.Duration),
	}
	if ev.Source != "" {
		attrs = append(attrs, slog.String("source", ev.Source))
	}
	if ev.Slot > 0 {
		attrs = append(attrs, slog.Int("slot", ev.Slot))
	}

	level := slog.LevelDebug
	if ev.Failed() {
		attrs = append(attrs,
			slog.String("status", ev.Status),
			slog.String("error", ev.Error),
		)
		if ev.Status != "timeout" {
			level = slog.LevelWarn
		}
	} else {
		attrs = append(attrs, slog.String("response", hex.EncodeToString(ev.Response)))
	}

	a.logger.LogAttrs(context.Background(), level, "exchange", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
