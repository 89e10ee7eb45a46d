// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/secondbrain-tui/internal/sse"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher("conv-1", "what is the answer?", nil)
}

func msg(data string) sse.Event {
	return sse.Event{Type: "message", Data: data}
}

// =============================================================================
// TEXT AND THINKING
// =============================================================================

func TestDispatcherAppendsText(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("Hello, "))
	d.Handle(msg("world"))

	s := d.Session()
	if s.RawText() != "Hello, world" {
		t.Errorf("Expected 'Hello, world', got %q", s.RawText())
	}
	if s.Phase() != PhaseActive {
		t.Errorf("Expected active phase, got %s", s.Phase())
	}
	if s.OutputTokens() == 0 {
		t.Error("Output token estimate should be recomputed on text")
	}
	if s.InputTokens() == 0 {
		t.Error("Input token estimate should be set at creation")
	}
}

func TestDispatcherThinkingSplitAcrossChunks(t *testing.T) {
	d := newTestDispatcher()

	// The marker boundary falls mid-chunk; reassembly must yield exactly
	// one complete step with no flicker or duplication.
	d.Handle(msg("<thinking>step "))
	d.Handle(msg("one</thinking>Hello"))

	s := d.Session()
	steps := s.Steps()
	if len(steps) != 1 {
		t.Fatalf("Expected 1 thinking step, got %d", len(steps))
	}
	if steps[0].Content != "step one" || !steps[0].Complete {
		t.Errorf("Expected complete step 'step one', got %+v", steps[0])
	}
	if !strings.HasSuffix(s.RawText(), "Hello") {
		t.Errorf("Expected rawText to end in 'Hello', got %q", s.RawText())
	}
}

func TestDispatcherOpenBlockRetainedAtStreamEnd(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("<thinking>never finished"))
	d.Handle(sse.Event{Type: "end", Data: "{}"})

	steps := d.Session().Steps()
	if len(steps) != 1 {
		t.Fatalf("Open block must be retained at stream end, got %d steps", len(steps))
	}
	if steps[0].Complete {
		t.Error("Unclosed block must remain incomplete")
	}
}

func TestDispatcherAuthoritativeThinkingFrame(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "thinking", Data: `{"content":"server-side reasoning"}`})

	steps := d.Session().Steps()
	if len(steps) != 1 || !steps[0].Complete {
		t.Fatalf("Expected one complete step, got %+v", steps)
	}
	if steps[0].Content != "server-side reasoning" {
		t.Errorf("Unexpected content %q", steps[0].Content)
	}

	// Malformed payload is dropped without aborting the stream.
	d.Handle(sse.Event{Type: "thinking", Data: `not json`})
	if len(d.Session().Steps()) != 1 {
		t.Error("Malformed thinking payload must be dropped")
	}
	if !d.Session().Active() {
		t.Error("Stream must continue after a malformed payload")
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestDispatcherStartRecordsTime(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "start", Data: "{}"})
	s := d.Session()
	if s.StartedAt().IsZero() {
		t.Error("start frame must record startedAt")
	}
	if s.RawText() != "" {
		t.Error("start frame must have no other effect")
	}
}

func TestDispatcherEndFrame(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "start", Data: "{}"})
	d.Handle(msg("answer"))
	d.Handle(sse.Event{Type: "end", Data: `{"rag_log_id":"rag-123"}`})

	s := d.Session()
	if s.Active() {
		t.Error("Session must be inactive after end")
	}
	if s.Phase() != PhaseCompleted {
		t.Errorf("Expected completed, got %s", s.Phase())
	}
	if s.RAGLogID() != "rag-123" {
		t.Errorf("Expected rag log id captured, got %q", s.RAGLogID())
	}
	if s.DurationMs() < 0 {
		t.Errorf("Duration must be non-negative, got %d", s.DurationMs())
	}
	if s.RawText() != "answer" {
		t.Error("Raw text must survive end until reconciliation")
	}
}

func TestDispatcherErrorFrameRawPayload(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("partial out"))
	d.Handle(sse.Event{Type: "error", Data: "not json"})

	s := d.Session()
	if s.Phase() != PhaseErrored || s.Active() {
		t.Fatalf("Expected inactive errored session, got %s active=%v", s.Phase(), s.Active())
	}
	if s.Err() == nil || s.Err().Error() != "not json" {
		t.Errorf("Expected message exactly 'not json', got %v", s.Err())
	}
	if !errors.Is(s.Err(), ErrStream) {
		t.Error("Terminal error must match ErrStream")
	}
	if s.RawText() != "partial out" {
		t.Error("Partial text must stay visible after a surfaced error")
	}
}

func TestDispatcherErrorFrameJSONPayload(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "error", Data: `{"message":"model overloaded"}`})
	if got := d.Session().Err().Error(); got != "model overloaded" {
		t.Errorf("Expected extracted message, got %q", got)
	}
}

func TestDispatcherNoFramesAfterTerminal(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("before"))
	d.Handle(sse.Event{Type: "end", Data: "{}"})
	d.Handle(msg("after"))

	if d.Session().RawText() != "before" {
		t.Error("Frames after end must be dropped")
	}
}

func TestDispatcherCancelStopsProcessing(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("partial"))
	d.Cancel()

	s := d.Session()
	if s.Phase() != PhaseCancelled || s.Active() {
		t.Fatalf("Expected inactive cancelled session, got %s", s.Phase())
	}
	if s.Err() != nil {
		t.Error("Cancellation is silent, not an error")
	}

	d.Handle(msg("late"))
	if s.RawText() != "partial" {
		t.Error("No frame may be processed after cancellation")
	}
}

func TestDispatcherExactlyOneDeactivation(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "end", Data: "{}"})
	d.Cancel() // must not override the completed phase

	if d.Session().Phase() != PhaseCompleted {
		t.Errorf("Phase changed after deactivation: %s", d.Session().Phase())
	}
}

func TestDispatcherUnknownEventIgnored(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "wibble", Data: "payload"})
	s := d.Session()
	if s.RawText() != "" || len(s.Steps()) != 0 || len(s.Tools()) != 0 {
		t.Error("Unknown event types must have no effect")
	}
	if s.Phase() != PhaseIdle {
		t.Errorf("Unknown event must not change the phase, got %s", s.Phase())
	}
}

// =============================================================================
// NOTES AND TIMELINE
// =============================================================================

func TestDispatcherNoteFrames(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "rag", Data: `{"documents":3}`})
	notes := d.Session().Notes()
	if len(notes) != 1 || notes[0].Kind != NoteRetrievedContext {
		t.Fatalf("Expected one rag note, got %+v", notes)
	}

	// Invalid JSON keeps the prior value.
	d.Handle(sse.Event{Type: "rag", Data: `{broken`})
	notes = d.Session().Notes()
	if string(notes[0].Payload) != `{"documents":3}` {
		t.Errorf("Prior note payload must survive a bad frame, got %s", notes[0].Payload)
	}

	d.Handle(sse.Event{Type: "grounding", Data: `{"sources":[]}`})
	d.Handle(sse.Event{Type: "code_execution", Data: `{"stdout":"4"}`})
	if len(d.Session().Notes()) != 3 {
		t.Errorf("Expected 3 notes, got %d", len(d.Session().Notes()))
	}
}

func TestTimelineChronologicalOrder(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("<thinking>plan</thinking>"))
	d.Handle(sse.Event{Type: "tool_start", Data: `{"tool":"search","arguments":"{}"}`})
	d.Handle(sse.Event{Type: "tool_end", Data: `{"tool":"search","result":"42"}`})
	d.Handle(sse.Event{Type: "rag", Data: `{"documents":1}`})

	tl := d.Session().Timeline()
	if len(tl) != 3 {
		t.Fatalf("Expected 3 timeline entries, got %d", len(tl))
	}
	if tl[0].Kind != EventThinking {
		t.Errorf("Expected thinking first, got %s", tl[0].Kind)
	}
	if tl[1].Kind != EventTool || tl[1].Tool.Result != "42" {
		t.Errorf("Expected completed tool second, got %+v", tl[1])
	}
	if tl[2].Kind != EventNote || tl[2].NoteOf != NoteRetrievedContext {
		t.Errorf("Expected rag note last, got %+v", tl[2])
	}
	for i := 1; i < len(tl); i++ {
		if tl[i].Timestamp.Before(tl[i-1].Timestamp) {
			t.Error("Timeline must be chronologically ordered")
		}
	}
}

func TestDispatcherOnUpdateObserver(t *testing.T) {
	d := newTestDispatcher()

	calls := 0
	d.OnUpdate(func(s *Session) { calls++ })

	d.Handle(msg("a"))
	d.Handle(msg("b"))
	d.Handle(sse.Event{Type: "end", Data: "{}"})

	if calls != 3 {
		t.Errorf("Expected 3 observer calls, got %d", calls)
	}
}

func TestDispatcherObserverGetsDetachedSnapshot(t *testing.T) {
	d := newTestDispatcher()

	var seen []*Session
	d.OnUpdate(func(s *Session) { seen = append(seen, s) })

	d.Handle(msg("<thinking>plan</thinking>first"))
	d.Handle(sse.Event{Type: "tool_start", Data: `{"tool":"search","arguments":"{}"}`})
	snap := seen[len(seen)-1]

	// Later frames keep mutating the live session; the handed-out
	// snapshot must not move.
	d.Handle(msg(" second"))
	d.Handle(sse.Event{Type: "tool_end", Data: `{"tool":"search","result":"42"}`})
	d.Handle(sse.Event{Type: "rag", Data: `{"documents":1}`})

	if snap == d.Session() {
		t.Fatal("Observer must never receive the live session")
	}
	if snap.RawText() != "<thinking>plan</thinking>first" {
		t.Errorf("Snapshot text changed under later frames: %q", snap.RawText())
	}
	if snap.Tools()[0].Status != ToolExecuting {
		t.Error("Snapshot tool state changed under a later tool_end")
	}
	if len(snap.Notes()) != 0 {
		t.Error("Snapshot notes changed under a later note frame")
	}
	if got := d.Session().RawText(); got != "<thinking>plan</thinking>first second" {
		t.Errorf("Live session must keep accumulating, got %q", got)
	}
}

func TestDispatcherFailSurfacesError(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg("partial"))
	cause := errors.New("connection reset")
	d.Fail(cause)

	s := d.Session()
	if s.Phase() != PhaseErrored || s.Active() {
		t.Fatalf("Expected inactive errored session, got %s active=%v", s.Phase(), s.Active())
	}
	if !errors.Is(s.Err(), cause) {
		t.Errorf("Terminal error must carry the cause, got %v", s.Err())
	}
	if s.RawText() != "partial" {
		t.Error("Partial text must stay visible after a failed send")
	}

	// Fail after a terminal phase is a no-op.
	d2 := newTestDispatcher()
	d2.Handle(sse.Event{Type: "end", Data: "{}"})
	d2.Fail(cause)
	if d2.Session().Phase() != PhaseCompleted || d2.Session().Err() != nil {
		t.Error("Fail must not override a completed session")
	}
}

func TestDispatcherUnescapesTextFrames(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(msg(`line one\nline two`))
	if got := d.Session().RawText(); got != "line one\nline two" {
		t.Errorf("Text frames must unescape newlines, got %q", got)
	}
}

func TestDispatcherToolResultKeepsEscapedNewlines(t *testing.T) {
	d := newTestDispatcher()

	d.Handle(sse.Event{Type: "tool_start", Data: `{"tool":"shell","arguments":"{}"}`})
	d.Handle(sse.Event{Type: "tool_end", Data: `{"tool":"shell","result":"out1\nout2"}`})

	tools := d.Session().Tools()
	if len(tools) != 1 || tools[0].Status != ToolCompleted {
		t.Fatalf("Tool payload with escaped newline must still parse, got %+v", tools)
	}
	if tools[0].Result != "out1\nout2" {
		t.Errorf("JSON escaping must deliver the newline, got %q", tools[0].Result)
	}
}
