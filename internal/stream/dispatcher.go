// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/sse"
	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
)

// =============================================================================
// PROTOCOL EVENT TYPES
// =============================================================================

// Recognized frame event names. An absent event line decodes as "message";
// "data" is an alias kept for older server builds. Anything else is
// ignored without error.
const (
	evStart         = "start"
	evMessage       = "message"
	evData          = "data"
	evThinking      = "thinking"
	evToolStart     = "tool_start"
	evToolEnd       = "tool_end"
	evRAG           = "rag"
	evGrounding     = "grounding"
	evSearchSource  = "search_source"
	evCodeExecution = "code_execution"
	evEnd           = "end"
	evError         = "error"
)

// ErrStream is the sentinel wrapped by server-sent error frames.
var ErrStream = errors.New("assistant stream error")

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher consumes decoded frames in arrival order and applies them to
// a single Session. It is the session's only writer; callers must not
// process frames from more than one goroutine.
//
// The state machine is idle → active → {completed | errored | cancelled}.
// Exactly one deactivation happens per session, and no frame is processed
// after a terminal phase is reached.
type Dispatcher struct {
	session *Session
	stats   *telemetry.StreamStats
	log     *telemetry.Logger
	now     func() time.Time

	// onUpdate, when set, is invoked after every applied frame so an
	// observer (the UI) can re-render. It receives a detached snapshot,
	// never the live session: the callback typically hands the pointer to
	// another goroutine while frames keep arriving here.
	onUpdate func(*Session)
}

// NewDispatcher creates a dispatcher with a fresh active session for one
// outgoing message. inputText is the user's message, used only for the
// input token estimate.
func NewDispatcher(conversationID, inputText string, log *telemetry.Logger) *Dispatcher {
	d := &Dispatcher{
		session: newSession(conversationID, time.Now),
		stats:   telemetry.NewStreamStats(),
		log:     log,
		now:     time.Now,
	}
	d.session.inputTokens = telemetry.EstimateTokens(inputText)
	return d
}

// Session returns the session this dispatcher owns.
func (d *Dispatcher) Session() *Session {
	return d.session
}

// Stats returns the timing statistics collected so far.
func (d *Dispatcher) Stats() *telemetry.StreamStats {
	return d.stats
}

// OnUpdate registers the post-frame observer callback.
func (d *Dispatcher) OnUpdate(fn func(*Session)) {
	d.onUpdate = fn
}

// Cancel marks the session cancelled. Cancellation is not an error: the
// terminal error stays nil and whatever partial output accumulated stays
// readable until the caller resets. Frames arriving afterwards are
// dropped.
func (d *Dispatcher) Cancel() {
	if d.session.phase.Terminal() {
		return
	}
	d.session.deactivate(PhaseCancelled)
	d.notify()
}

// Fail marks the session errored with the given terminal error. The
// transport uses it when an attempt fails for good: a fatal response or
// exhausted retries. Accumulated output stays readable, as with a
// server-sent error frame.
func (d *Dispatcher) Fail(err error) {
	if d.session.phase.Terminal() {
		return
	}
	d.session.terminalErr = err
	d.stats.Finalize()
	d.session.deactivate(PhaseErrored)
	d.notify()
}

// Handle applies one decoded frame. Unrecognized event types are ignored.
func (d *Dispatcher) Handle(ev sse.Event) {
	if d.session.phase.Terminal() {
		d.log.Debugf("frame %q after %s, dropped", ev.Type, d.session.phase)
		return
	}
	if !recognizedEvent(ev.Type) {
		d.log.Debugf("unrecognized event type %q ignored", ev.Type)
		return
	}
	if d.session.phase == PhaseIdle {
		d.session.phase = PhaseActive
	}

	switch ev.Type {
	case evStart:
		d.handleStart()
	case evMessage, evData:
		d.handleText(ev.Data)
	case evThinking:
		d.handleThinking(ev.Data)
	case evToolStart:
		d.session.tools.start(ev.Data, d.log)
	case evToolEnd:
		d.session.tools.end(ev.Data, d.log)
	case evRAG:
		d.handleNote(NoteRetrievedContext, ev.Data)
	case evGrounding:
		d.handleNote(NoteGrounding, ev.Data)
	case evSearchSource:
		d.handleNote(NoteSearchSources, ev.Data)
	case evCodeExecution:
		d.handleNote(NoteCodeExecution, ev.Data)
	case evEnd:
		d.handleEnd(ev.Data)
	case evError:
		d.handleError(ev.Data)
	}

	d.notify()
}

// recognizedEvent reports whether the frame type is part of the protocol.
func recognizedEvent(t string) bool {
	switch t {
	case evStart, evMessage, evData, evThinking, evToolStart, evToolEnd,
		evRAG, evGrounding, evSearchSource, evCodeExecution, evEnd, evError:
		return true
	}
	return false
}

func (d *Dispatcher) notify() {
	if d.onUpdate != nil {
		d.onUpdate(d.session.Snapshot())
	}
}

// =============================================================================
// FRAME HANDLERS
// =============================================================================

// handleStart records the stream start time. Nothing else.
func (d *Dispatcher) handleStart() {
	if d.session.startedAt.IsZero() {
		d.session.startedAt = d.now()
	}
}

// handleText appends a token to the raw text, refreshes the output token
// estimate, and re-runs the thinking scan over the full accumulated text.
// Escaped newlines are resolved here: only text frames carry them, JSON
// payloads bring their own escaping.
func (d *Dispatcher) handleText(data string) {
	if data == "" {
		return
	}
	d.session.rawText = append(d.session.rawText, sse.Unescape(data)...)
	d.session.outputTokens = telemetry.EstimateTokens(d.session.RawText())
	d.stats.RecordToken()

	d.session.steps.apply(scanThinking(d.session.RawText()))
}

// thinkingPayload is the JSON body of an authoritative thinking frame.
type thinkingPayload struct {
	Content string `json:"content"`
}

// handleThinking applies a server-pushed complete block.
func (d *Dispatcher) handleThinking(data string) {
	var p thinkingPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		d.log.Warnf("thinking: malformed payload dropped: %v", err)
		return
	}
	d.session.steps.applyAuthoritative(p.Content)
}

// handleNote stores a categorized signal verbatim. A payload that is not
// valid JSON is logged and dropped; the session keeps its prior value.
func (d *Dispatcher) handleNote(kind NoteKind, data string) {
	raw := json.RawMessage(data)
	if !json.Valid(raw) {
		d.log.Warnf("%s: invalid JSON payload dropped", kind)
		return
	}
	ts := d.now()
	if prev, ok := d.session.notes[kind]; ok {
		ts = prev.Timestamp
	}
	d.session.notes[kind] = Note{Kind: kind, Payload: raw, Timestamp: ts}
}

// endPayload is the JSON body of an end frame.
type endPayload struct {
	RAGLogID string `json:"rag_log_id"`
}

// handleEnd closes the stream normally. The session stays populated; the
// reconciler decides when it can be torn down.
func (d *Dispatcher) handleEnd(data string) {
	if !d.session.startedAt.IsZero() {
		d.session.durationMs = d.now().Sub(d.session.startedAt).Milliseconds()
	}

	var p endPayload
	if err := json.Unmarshal([]byte(data), &p); err == nil && p.RAGLogID != "" {
		d.session.ragLogID = p.RAGLogID
	}

	d.stats.Finalize()
	d.session.deactivate(PhaseCompleted)
}

// errorPayload is the JSON body of an error frame.
type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// handleError surfaces a server-sent error. The message comes from the
// JSON payload when it parses, otherwise the raw payload text is the
// message. Accumulated text and steps stay visible so the user can see
// how far generation got.
func (d *Dispatcher) handleError(data string) {
	msg := data
	var p errorPayload
	if err := json.Unmarshal([]byte(data), &p); err == nil {
		if p.Message != "" {
			msg = p.Message
		} else if p.Error != "" {
			msg = p.Error
		}
	}

	d.session.terminalErr = &StreamFailure{Message: msg}
	d.stats.Finalize()
	d.session.deactivate(PhaseErrored)
}

// =============================================================================
// STREAM FAILURE
// =============================================================================

// StreamFailure is a protocol error reported by the server in an error
// frame. It is terminal and never retried.
type StreamFailure struct {
	Message string
}

// Error implements the error interface.
func (e *StreamFailure) Error() string {
	return e.Message
}

// Unwrap lets errors.Is match ErrStream.
func (e *StreamFailure) Unwrap() error {
	return ErrStream
}
