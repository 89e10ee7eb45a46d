// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"sort"
	"time"
)

// =============================================================================
// PROCESS EVENT PROJECTION
// =============================================================================

// EventKind discriminates the entries of the unified process timeline.
type EventKind string

const (
	EventThinking EventKind = "thinking"
	EventTool     EventKind = "tool"
	EventNote     EventKind = "note"
)

// ProcessEvent is one entry of the chronological timeline shown alongside
// the response: thinking steps, tool executions, and categorized server
// signals. It is a projection over the session's lists, derived on
// demand and never stored independently.
type ProcessEvent struct {
	Kind      EventKind
	Timestamp time.Time

	// Exactly one of the following is set, matching Kind.
	Step    *ThinkingStep
	Tool    *ToolExecution
	NoteOf  NoteKind
	Payload json.RawMessage
}

// noteKinds fixes the iteration order so equal-timestamp notes project
// deterministically.
var noteKinds = []NoteKind{
	NoteRetrievedContext,
	NoteGrounding,
	NoteSearchSources,
	NoteCodeExecution,
}

// Timeline projects the session's thinking steps, tool executions, and
// notes into one chronologically ordered list. Ordering is by first
// observation; entries observed in the same instant keep their relative
// insertion order.
func (s *Session) Timeline() []ProcessEvent {
	steps := s.steps.list()
	tools := s.tools.list()

	events := make([]ProcessEvent, 0, len(steps)+len(tools)+len(s.notes))
	for i := range steps {
		events = append(events, ProcessEvent{
			Kind:      EventThinking,
			Timestamp: steps[i].Timestamp,
			Step:      &steps[i],
		})
	}
	for i := range tools {
		events = append(events, ProcessEvent{
			Kind:      EventTool,
			Timestamp: tools[i].Timestamp,
			Tool:      &tools[i],
		})
	}
	for _, kind := range noteKinds {
		n, ok := s.notes[kind]
		if !ok {
			continue
		}
		events = append(events, ProcessEvent{
			Kind:      EventNote,
			Timestamp: n.Timestamp,
			NoteOf:    n.Kind,
			Payload:   n.Payload,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}
