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
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ZaparooProject/go-nfcdisc/internal/syncutil"
)

var (
	logMu            syncutil.Mutex
	sessionLogFile   *os.File
	sessionLogWriter io.Writer
	sessionLogPath   string
)

// InitSessionLog opens nfcdisc_<timestamp>.log in dir (the working directory
// when empty) and returns its path. Every Debugf line is written to it until
// CloseSessionLog.
func InitSessionLog(dir string) (string, error) {
	name := fmt.Sprintf("nfcdisc_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path) //nolint:gosec // name is generated here
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}
	writeSessionHeader(f)

	var prev *os.File
	logMu.Do(func() {
		prev = sessionLogFile
		sessionLogFile = f
		sessionLogWriter = f
		sessionLogPath = path
	})
	if prev != nil {
		_ = prev.Close()
	}
	return path, nil
}

// CloseSessionLog writes the footer and closes the session log, if any.
func CloseSessionLog() error {
	var f *os.File
	logMu.Do(func() {
		f = sessionLogFile
		if f != nil {
			_, _ = fmt.Fprintf(f, "\n%s === Session ended ===\n", time.Now().Format("15:04:05.000"))
		}
		sessionLogFile = nil
		sessionLogWriter = nil
		sessionLogPath = ""
	})
	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// SessionLogPath returns the path of the open session log, or "".
func SessionLogPath() string {
	var p string
	logMu.Do(func() { p = sessionLogPath })
	return p
}

func writeSessionHeader(w io.Writer) {
	_, _ = fmt.Fprint(w, "=== nfcdisc Debug Session Log ===\n")
	_, _ = fmt.Fprintf(w, "Started: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "PID: %d\n", os.Getpid())
	_, _ = fmt.Fprintf(w, "Platform: %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	_, _ = fmt.Fprintf(w, "Command Line: %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(w, "=================================\n\n")
}
