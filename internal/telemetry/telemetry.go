// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides the debug logger, stream statistics, and token
// estimation used across the client.
package telemetry

import (
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// =============================================================================
// LOGGER
// =============================================================================

// Logger is a leveled wrapper around the standard logger. The zero value
// discards everything; user-facing output never goes through it.
type Logger struct {
	mu      sync.Mutex
	debug   bool
	backend *log.Logger
}

// NewLogger creates a logger writing to w. Debug lines are suppressed
// unless enabled.
func NewLogger(w io.Writer, debug bool) *Logger {
	return &Logger{
		debug:   debug,
		backend: log.New(w, "", log.LstdFlags|log.Lmsgprefix),
	}
}

// NewStderrLogger creates a logger writing to stderr.
func NewStderrLogger(debug bool) *Logger {
	return NewLogger(os.Stderr, debug)
}

// Debugf logs a debug-level line. No-op unless debug is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backend.Printf("DEBUG "+format, args...)
}

// Warnf logs a warning. Used for recoverable protocol issues: malformed
// payloads, dropped frames, unmatched tool results.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.backend == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backend.Printf("WARN "+format, args...)
}

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// EstimateTokens approximates the token count of text. LLM tokenizers
// average roughly four characters per token for English prose; the client
// only needs a display-quality estimate, never an exact count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := len([]rune(text))
	return (runes + 3) / 4
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats collects timing statistics for one streamed response.
type StreamStats struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	TokenCount int

	// Computed
	TTFT            time.Duration
	TokensPerSecond float64
}

// NewStreamStats creates stats with the start time set.
func NewStreamStats() *StreamStats {
	return &StreamStats{StartTime: time.Now()}
}

// RecordToken notes a content token arrival, capturing time-to-first-token
// on the first call.
func (s *StreamStats) RecordToken() {
	s.TokenCount++
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes derived statistics at stream end.
func (s *StreamStats) Finalize() {
	s.EndTime = time.Now()
	elapsed := s.EndTime.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TokensPerSecond = float64(s.TokenCount) / elapsed
	}
}

// Duration returns the total stream duration.
func (s *StreamStats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}
