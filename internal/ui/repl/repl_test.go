// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package repl

import (
	"strings"
	"testing"

	"github.com/jeranaias/secondbrain-tui/internal/sse"
	"github.com/jeranaias/secondbrain-tui/internal/stream"
)

// replay pushes frames through a dispatcher wired to the printer.
func replay(t *testing.T, p *printer, frames ...sse.Event) *stream.Session {
	t.Helper()
	d := stream.NewDispatcher("conv-1", "question", nil)
	d.OnUpdate(p.update)
	for _, f := range frames {
		d.Handle(f)
	}
	return d.Session()
}

func TestPrinterWritesVisibleTextIncrementally(t *testing.T) {
	var sb strings.Builder
	p := newPrinter(&sb)

	s := replay(t, p,
		sse.Event{Type: "start", Data: "{}"},
		sse.Event{Type: "message", Data: "Hello, "},
		sse.Event{Type: "message", Data: "world"},
		sse.Event{Type: "end", Data: "{}"},
	)
	p.finish(s)

	out := sb.String()
	if !strings.Contains(out, "Hello, world") {
		t.Errorf("Expected streamed text in output, got %q", out)
	}
	if strings.Count(out, "Hello") != 1 {
		t.Errorf("Text must print once, not re-print per frame: %q", out)
	}
}

func TestPrinterHidesThinkingMarkers(t *testing.T) {
	var sb strings.Builder
	p := newPrinter(&sb)

	s := replay(t, p,
		sse.Event{Type: "start", Data: "{}"},
		sse.Event{Type: "message", Data: "<thinking>planning the answer</thinking>"},
		sse.Event{Type: "message", Data: "Done."},
		sse.Event{Type: "end", Data: "{}"},
	)
	p.finish(s)

	out := sb.String()
	if strings.Contains(out, "<thinking>") {
		t.Errorf("Markers must never reach the terminal: %q", out)
	}
	if !strings.Contains(out, "planning the answer") {
		t.Errorf("Reasoning announced before text starts: %q", out)
	}
	if !strings.Contains(out, "Done.") {
		t.Errorf("Visible text missing: %q", out)
	}
}

func TestPrinterAnnouncesCancellation(t *testing.T) {
	var sb strings.Builder
	p := newPrinter(&sb)

	d := stream.NewDispatcher("conv-1", "question", nil)
	d.Handle(sse.Event{Type: "start", Data: "{}"})
	d.Cancel()
	p.finish(d.Session())

	if !strings.Contains(sb.String(), "[cancelled]") {
		t.Errorf("Expected cancellation notice, got %q", sb.String())
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("  a\nb"); got != "a" {
		t.Errorf("firstLine = %q, want 'a'", got)
	}
}
