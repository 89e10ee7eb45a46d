// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
)

// =============================================================================
// TOOL TRACKER
// =============================================================================

// tracker maintains the ordered tool execution list. The protocol
// announces tool calls by name only, so matching an end frame to its start
// is best-effort: the first still-executing record with the same name
// wins. Records are appended on start, never deduplicated, never removed.
type tracker struct {
	execs []ToolExecution
	now   func() time.Time
}

func newTracker(now func() time.Time) *tracker {
	if now == nil {
		now = time.Now
	}
	return &tracker{now: now}
}

// toolStartPayload is the JSON body of a tool_start frame.
type toolStartPayload struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
}

// toolEndPayload is the JSON body of a tool_end frame.
type toolEndPayload struct {
	Tool   string `json:"tool"`
	Result string `json:"result"`
}

// start appends a new executing record. Malformed payloads are dropped.
func (t *tracker) start(data string, log *telemetry.Logger) {
	var p toolStartPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		log.Warnf("tool_start: malformed payload dropped: %v", err)
		return
	}
	if p.Tool == "" {
		log.Warnf("tool_start: missing tool name, dropped")
		return
	}

	t.execs = append(t.execs, ToolExecution{
		Tool:      p.Tool,
		Arguments: p.Arguments,
		Status:    ToolExecuting,
		Timestamp: t.now(),
	})
}

// end completes the earliest executing record with a matching name. An
// unmatched end frame is dropped, not fatal.
func (t *tracker) end(data string, log *telemetry.Logger) {
	var p toolEndPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		log.Warnf("tool_end: malformed payload dropped: %v", err)
		return
	}

	for i := range t.execs {
		if t.execs[i].Tool == p.Tool && t.execs[i].Status == ToolExecuting {
			t.execs[i].Result = p.Result
			t.execs[i].Status = ToolCompleted
			return
		}
	}
	log.Warnf("tool_end: no executing record for %q, dropped", p.Tool)
}

// clone returns an independent copy for session snapshots.
func (t *tracker) clone() *tracker {
	c := newTracker(t.now)
	c.execs = append(c.execs, t.execs...)
	return c
}

// list returns a copy of the records in arrival order.
func (t *tracker) list() []ToolExecution {
	out := make([]ToolExecution, len(t.execs))
	copy(out, t.execs)
	return out
}
