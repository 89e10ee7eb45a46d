// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the client-side engine for one streamed
// assistant response: the protocol state machine, thinking-block
// reconstruction, tool lifecycle tracking, and reconciliation of the
// live buffer against the persisted conversation record.
package stream

import (
	"encoding/json"
	"time"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase is the lifecycle state of a streaming session.
type Phase int

const (
	// PhaseIdle means the session exists but no frame has been processed.
	PhaseIdle Phase = iota
	// PhaseActive means frames are being consumed.
	PhaseActive
	// PhaseCompleted means the server sent an end frame.
	PhaseCompleted
	// PhaseErrored means the stream terminated with a surfaced error.
	PhaseErrored
	// PhaseCancelled means the caller aborted the stream.
	PhaseCancelled
)

// String returns the phase name for logging.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseActive:
		return "active"
	case PhaseCompleted:
		return "completed"
	case PhaseErrored:
		return "errored"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further frames may be processed.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseErrored || p == PhaseCancelled
}

// =============================================================================
// RECORD TYPES
// =============================================================================

// ThinkingStep is one reasoning segment reconstructed from the stream.
//
// The protocol assigns no identifiers, so steps are keyed by a content
// prefix (see stepSet). Timestamp is fixed at first observation even as
// the content keeps growing; Complete never reverts to false.
type ThinkingStep struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Complete  bool      `json:"complete"`
}

// ToolStatus is the lifecycle state of a tool invocation.
type ToolStatus string

const (
	// ToolExecuting means a tool_start frame was seen with no matching end.
	ToolExecuting ToolStatus = "executing"
	// ToolCompleted means a tool_end frame delivered the result.
	ToolCompleted ToolStatus = "completed"
)

// ToolExecution is one announced tool invocation. Identity is best-effort
// by tool name; concurrent calls to the same tool are indistinguishable.
// Records are never removed.
type ToolExecution struct {
	Tool      string     `json:"tool"`
	Arguments string     `json:"arguments"`
	Result    string     `json:"result,omitempty"`
	Status    ToolStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// NoteKind categorizes out-of-band server signals stored on the session.
type NoteKind string

const (
	NoteRetrievedContext NoteKind = "rag"
	NoteGrounding        NoteKind = "grounding"
	NoteSearchSources    NoteKind = "search_source"
	NoteCodeExecution    NoteKind = "code_execution"
)

// Note holds the latest verbatim JSON payload for one signal kind.
// The timestamp is from first observation, for timeline ordering.
type Note struct {
	Kind      NoteKind        `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the root aggregate for one outgoing message: everything the
// engine knows about the response under construction. It is created on
// send and torn down on cancel, reconciliation, or fallback timeout.
//
// Only the Dispatcher mutates a Session. Everything else, the UI
// included, must treat it as read-only; accessors return copies of the
// internal slices.
type Session struct {
	ConversationID string

	rawText []byte
	phase   Phase
	active  bool

	terminalErr error

	inputTokens  int
	outputTokens int

	startedAt  time.Time
	durationMs int64
	ragLogID   string

	steps *stepSet
	tools *tracker
	notes map[NoteKind]Note
}

// newSession creates an active session for one send.
func newSession(conversationID string, now func() time.Time) *Session {
	return &Session{
		ConversationID: conversationID,
		phase:          PhaseIdle,
		active:         true,
		steps:          newStepSet(now),
		tools:          newTracker(now),
		notes:          make(map[NoteKind]Note),
	}
}

// deactivate flips the session inactive. Exactly one deactivation happens
// per session; later calls are no-ops.
func (s *Session) deactivate(p Phase) {
	if !s.active {
		return
	}
	s.active = false
	s.phase = p
}

// RawText returns the accumulated response text, thinking markers
// included.
func (s *Session) RawText() string {
	return string(s.rawText)
}

// VisibleText returns the response text with thinking spans removed:
// what actually renders as the answer. Reasoning lives on Steps instead.
func (s *Session) VisibleText() string {
	return stripThinking(string(s.rawText))
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Active reports whether the live buffer is still being written.
func (s *Session) Active() bool {
	return s.active
}

// Err returns the terminal error, if the stream failed.
func (s *Session) Err() error {
	return s.terminalErr
}

// InputTokens returns the estimated token count of the outgoing message.
func (s *Session) InputTokens() int {
	return s.inputTokens
}

// OutputTokens returns the estimated token count of the response so far.
func (s *Session) OutputTokens() int {
	return s.outputTokens
}

// StartedAt returns the time of the server's start frame.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// DurationMs returns the stream duration, set at end.
func (s *Session) DurationMs() int64 {
	return s.durationMs
}

// RAGLogID returns the retrieval correlation id from the end frame.
func (s *Session) RAGLogID() string {
	return s.ragLogID
}

// Steps returns a copy of the thinking steps in first-observed order.
func (s *Session) Steps() []ThinkingStep {
	return s.steps.list()
}

// Tools returns a copy of the tool execution records in arrival order.
func (s *Session) Tools() []ToolExecution {
	return s.tools.list()
}

// Notes returns a copy of the categorized server signals.
func (s *Session) Notes() []Note {
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n)
	}
	return out
}

// Snapshot returns a detached copy of the session. The dispatcher keeps
// mutating the original on the streaming goroutine; a snapshot shares no
// state with it and is safe to read from anywhere.
func (s *Session) Snapshot() *Session {
	c := &Session{
		ConversationID: s.ConversationID,
		rawText:        append([]byte(nil), s.rawText...),
		phase:          s.phase,
		active:         s.active,
		terminalErr:    s.terminalErr,
		inputTokens:    s.inputTokens,
		outputTokens:   s.outputTokens,
		startedAt:      s.startedAt,
		durationMs:     s.durationMs,
		ragLogID:       s.ragLogID,
		steps:          s.steps.clone(),
		tools:          s.tools.clone(),
		notes:          make(map[NoteKind]Note, len(s.notes)),
	}
	for k, n := range s.notes {
		c.notes[k] = n
	}
	return c
}
