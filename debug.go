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
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// debugEnabled mirrors debug output to the console. NFCDISC_DEBUG or DEBUG
// in the environment turns it on at start-up.
var debugEnabled atomic.Bool

// consoleWriter receives console debug output.
var consoleWriter io.Writer = os.Stdout

func init() {
	if os.Getenv("NFCDISC_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled.Store(true)
	}
}

// Debugf logs a formatted debug line. The line always goes to the session
// log when one is open; it reaches the console only in debug mode.
func Debugf(format string, args ...any) {
	emitDebug(fmt.Sprintf(format, args...))
}

// Debugln is the Sprint flavour of Debugf.
func Debugln(args ...any) {
	emitDebug(fmt.Sprint(args...))
}

func emitDebug(message string) {
	logMu.Do(func() {
		if sessionLogWriter != nil {
			_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", time.Now().Format("15:04:05.000"), message)
		}
	})
	if debugEnabled.Load() {
		_, _ = fmt.Fprintf(consoleWriter, "DEBUG: %s\n", message)
	}
}

// SetDebugEnabled switches console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}
