// Copyright 2024 The SP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the minimal logging interface used by the
// interior of the socket implementation.  Applications that want to
// observe recovered transport errors and other interior events can
// supply their own Logger; by default messages go to the standard
// library's log package.
package log

import (
	"log"
	"os"
)

// Logger is the interface the library logs through.  It intentionally
// mirrors only the handful of severities the interior actually uses:
// warnings for recovered errors (a dropped message, a retried dial) and
// errors for conditions that indicate a bug or unrecoverable state.
type Logger interface {
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// stdLogger adapts the standard library's log.Logger to the Logger
// interface.
type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Warnf(format string, args ...interface{}) {
	s.l.Printf("WARN: "+format, args...)
}

func (s *stdLogger) Errorf(format string, args ...interface{}) {
	s.l.Printf("ERROR: "+format, args...)
}

// Default is the Logger used by sockets whose Options.Logger was left
// nil.
var Default Logger = &stdLogger{l: log.New(os.Stderr, "sp: ", log.LstdFlags)}

// Discard is a Logger that drops everything; useful in tests that
// intentionally trigger recoverable errors and don't want noise.
var Discard Logger = discard{}

type discard struct{}

func (discard) Warnf(string, ...interface{})  {}
func (discard) Errorf(string, ...interface{}) {}
