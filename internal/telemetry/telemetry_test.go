// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
		{"日本語", 1}, // runes, not bytes
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestStreamStatsLifecycle(t *testing.T) {
	s := NewStreamStats()
	if s.StartTime.IsZero() {
		t.Fatal("Start time must be set")
	}

	s.RecordToken()
	first := s.FirstTokenTime
	if first.IsZero() || s.TTFT < 0 {
		t.Error("First token must capture TTFT")
	}

	s.RecordToken()
	if !s.FirstTokenTime.Equal(first) {
		t.Error("TTFT must not move after the first token")
	}
	if s.TokenCount != 2 {
		t.Errorf("Expected 2 tokens, got %d", s.TokenCount)
	}

	time.Sleep(time.Millisecond)
	s.Finalize()
	if s.EndTime.IsZero() || s.TokensPerSecond <= 0 {
		t.Errorf("Finalize must compute throughput, got %+v", s)
	}
	if s.Duration() <= 0 {
		t.Error("Duration must be positive after finalize")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Debugf("nothing %d", 1)
	l.Warnf("nothing %d", 2)
}
