// Copyright © 2018 Intel Corporation
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

// Package slog is strata's tagged, levelled logger. It keeps the calling
// convention of the mixer tool's log package (one function per level,
// taking a subsystem tag and a printf-style format) but is backed by
// zerolog, which gives every line structured fields for free instead of a
// hand-rolled formatter.
package slog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level controls which calls actually produce output.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
	LevelVerbose
)

// Subsystem tags, one per package that logs through this package.
const (
	Match   = "MATCH"
	Restore = "RESTORE"
	Archive = "ARCHIVE"
	Git     = "GIT"
	Pkg     = "PKG"
	CLI     = "CLI"
)

var (
	mu          sync.Mutex
	level       = LevelInfo
	logger      = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	lastLine    string
	lastTag     string
	repeatCount int
)

// SetLevel sets the minimum level that produces output.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// SetOutput redirects log output, replacing the console writer default.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

func enabled(l Level) bool {
	mu.Lock()
	defer mu.Unlock()
	return l <= level
}

// emit writes one line, collapsing an immediate repeat of the same tag and
// message into a single "(repeated N times)" line instead of flooding
// output, the same collapsing behavior the teacher's logTag performs.
func emit(l Level, tag, msg string) {
	mu.Lock()
	defer mu.Unlock()
	if tag == lastTag && msg == lastLine {
		repeatCount++
		return
	}
	if repeatCount > 0 {
		logger.Debug().Str("tag", lastTag).Msgf("%s (repeated %d times)", lastLine, repeatCount)
		repeatCount = 0
	}
	lastTag, lastLine = tag, msg

	event := eventFor(l)
	event.Str("tag", tag).Msg(msg)
}

func eventFor(l Level) *zerolog.Event {
	switch l {
	case LevelError:
		return logger.Error()
	case LevelWarning:
		return logger.Warn()
	case LevelDebug, LevelVerbose:
		return logger.Debug()
	default:
		return logger.Info()
	}
}

// Error logs at LevelError. Always emitted regardless of SetLevel.
func Error(tag, format string, a ...interface{}) {
	emit(LevelError, tag, sprintf(format, a...))
}

// Warning logs at LevelWarning.
func Warning(tag, format string, a ...interface{}) {
	if enabled(LevelWarning) {
		emit(LevelWarning, tag, sprintf(format, a...))
	}
}

// Info logs at LevelInfo.
func Info(tag, format string, a ...interface{}) {
	if enabled(LevelInfo) {
		emit(LevelInfo, tag, sprintf(format, a...))
	}
}

// Debug logs at LevelDebug.
func Debug(tag, format string, a ...interface{}) {
	if enabled(LevelDebug) {
		emit(LevelDebug, tag, sprintf(format, a...))
	}
}

// Verbose logs at LevelVerbose, the noisiest tier.
func Verbose(tag, format string, a ...interface{}) {
	if enabled(LevelVerbose) {
		emit(LevelVerbose, tag, sprintf(format, a...))
	}
}

func sprintf(format string, a ...interface{}) string {
	if len(a) == 0 {
		return format
	}
	return fmt.Sprintf(format, a...)
}
