// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"time"
)

// =============================================================================
// THINKING MARKERS
// =============================================================================

// The model embeds reasoning in the raw text between these markers. The
// closing marker only appears once the block is finished, so the tail
// after an unmatched opener is the single in-progress block.
const (
	thinkingOpen  = "<thinking>"
	thinkingClose = "</thinking>"
)

// Content-prefix key lengths. The protocol never assigns ids to thinking
// blocks, so identity is derived from the first runes of the content. This
// is a best-effort heuristic, not a primary key: two blocks that open with
// the same prefix collapse into one. The authoritative thinking-event path
// uses a shorter key because its content may be a reformatted version of
// what was parsed from raw text.
const (
	rawKeyLen  = 50
	authKeyLen = 20
)

// =============================================================================
// RAW TEXT SCAN
// =============================================================================

// scanResult is the outcome of one stateless pass over the raw text.
type scanResult struct {
	complete      []string
	incomplete    string
	hasIncomplete bool
}

// scanThinking extracts thinking blocks from the accumulated raw text.
//
// The scan is stateless and idempotent: it is re-run on every token and
// reconciled against known steps afterwards. Markers are matched in text
// order; an opener without a closer ends the scan, because the generation
// process only ever has one block open. Empty spans are discarded.
func scanThinking(raw string) scanResult {
	var res scanResult
	rest := raw

	for {
		open := strings.Index(rest, thinkingOpen)
		if open < 0 {
			return res
		}
		rest = rest[open+len(thinkingOpen):]

		closeIdx := strings.Index(rest, thinkingClose)
		if closeIdx < 0 {
			tail := strings.TrimSpace(rest)
			if tail != "" {
				res.incomplete = tail
				res.hasIncomplete = true
			}
			return res
		}

		if block := strings.TrimSpace(rest[:closeIdx]); block != "" {
			res.complete = append(res.complete, block)
		}
		rest = rest[closeIdx+len(thinkingClose):]
	}
}

// stripThinking removes thinking spans from the raw text, leaving the
// answer the user actually sees. An unmatched opener swallows the rest of
// the text: that tail is the in-progress block, shown in the timeline
// instead.
func stripThinking(raw string) string {
	var sb strings.Builder
	rest := raw

	for {
		open := strings.Index(rest, thinkingOpen)
		if open < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		sb.WriteString(rest[:open])
		rest = rest[open+len(thinkingOpen):]

		closeIdx := strings.Index(rest, thinkingClose)
		if closeIdx < 0 {
			return sb.String()
		}
		rest = rest[closeIdx+len(thinkingClose):]
	}
}

// =============================================================================
// STEP SET
// =============================================================================

// stepSet reconciles scan results into a stable, insertion-ordered list of
// thinking steps. It enforces the identity invariants:
//
//   - a step's timestamp is fixed at first observation
//   - a step, once complete, never reverts to incomplete
//   - at most one incomplete step exists, always the most recent one
type stepSet struct {
	steps []ThinkingStep

	// byKey maps raw-path content-prefix keys to indices for completed
	// blocks. Incomplete steps are tracked by position instead: their key
	// is unstable while the content is still shorter than the prefix.
	byKey map[string]int

	// completedKeys guards against pathological overlapping-marker text:
	// a key seen complete is never again treated as incomplete.
	completedKeys map[string]bool

	// openIdx is the index of the current incomplete step, -1 if none.
	openIdx int

	now func() time.Time
}

func newStepSet(now func() time.Time) *stepSet {
	if now == nil {
		now = time.Now
	}
	return &stepSet{
		byKey:         make(map[string]int),
		completedKeys: make(map[string]bool),
		openIdx:       -1,
		now:           now,
	}
}

// apply merges one scan result into the step list.
func (ss *stepSet) apply(res scanResult) {
	for _, content := range res.complete {
		ss.applyComplete(content)
	}

	if !res.hasIncomplete {
		return
	}

	key := prefixKey(res.incomplete, rawKeyLen)
	if ss.completedKeys[key] {
		// Never reopen a completed step.
		return
	}

	if ss.openIdx >= 0 && !ss.steps[ss.openIdx].Complete {
		// The single open step just grows in place; timestamp stays.
		ss.steps[ss.openIdx].Content = res.incomplete
		return
	}

	ss.steps = append(ss.steps, ThinkingStep{
		Content:   res.incomplete,
		Timestamp: ss.now(),
	})
	ss.openIdx = len(ss.steps) - 1
}

// applyComplete records one finished block, reusing the timestamp of any
// previously-seen step with the same identity.
func (ss *stepSet) applyComplete(content string) {
	key := prefixKey(content, rawKeyLen)

	if idx, ok := ss.byKey[key]; ok {
		ss.steps[idx].Content = content
		ss.steps[idx].Complete = true
		return
	}

	// The block may have been observed earlier as the open step, back when
	// its content was still shorter than the key prefix.
	if ss.openIdx >= 0 && !ss.steps[ss.openIdx].Complete &&
		sharesPrefix(content, ss.steps[ss.openIdx].Content) {
		idx := ss.openIdx
		ss.steps[idx].Content = content
		ss.steps[idx].Complete = true
		ss.byKey[key] = idx
		ss.completedKeys[key] = true
		ss.openIdx = -1
		return
	}

	ss.steps = append(ss.steps, ThinkingStep{
		Content:   content,
		Timestamp: ss.now(),
		Complete:  true,
	})
	ss.byKey[key] = len(ss.steps) - 1
	ss.completedKeys[key] = true
}

// applyAuthoritative handles a server-pushed, already-complete block. Some
// providers emit thinking out-of-band instead of inline in the raw text;
// the shorter key lets the authoritative content replace a step parsed
// from raw text even when formatting differs further in.
func (ss *stepSet) applyAuthoritative(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	shortKey := prefixKey(content, authKeyLen)
	for i := range ss.steps {
		if prefixKey(ss.steps[i].Content, authKeyLen) != shortKey {
			continue
		}
		ss.steps[i].Content = content
		ss.steps[i].Complete = true
		key := prefixKey(content, rawKeyLen)
		ss.byKey[key] = i
		ss.completedKeys[key] = true
		if ss.openIdx == i {
			ss.openIdx = -1
		}
		return
	}

	ss.steps = append(ss.steps, ThinkingStep{
		Content:   content,
		Timestamp: ss.now(),
		Complete:  true,
	})
	idx := len(ss.steps) - 1
	key := prefixKey(content, rawKeyLen)
	ss.byKey[key] = idx
	ss.completedKeys[key] = true
}

// clone returns an independent copy for session snapshots: nothing is
// shared with the original, so later applies cannot touch it.
func (ss *stepSet) clone() *stepSet {
	c := newStepSet(ss.now)
	c.steps = append(c.steps, ss.steps...)
	c.openIdx = ss.openIdx
	for k, v := range ss.byKey {
		c.byKey[k] = v
	}
	for k := range ss.completedKeys {
		c.completedKeys[k] = true
	}
	return c
}

// list returns a copy of the steps in first-observed order.
func (ss *stepSet) list() []ThinkingStep {
	out := make([]ThinkingStep, len(ss.steps))
	copy(out, ss.steps)
	return out
}

// completeCount returns the number of completed steps.
func (ss *stepSet) completeCount() int {
	n := 0
	for _, s := range ss.steps {
		if s.Complete {
			n++
		}
	}
	return n
}

// =============================================================================
// KEY HELPERS
// =============================================================================

// prefixKey derives the identity key: the first n runes of the content.
func prefixKey(content string, n int) string {
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n])
}

// sharesPrefix reports whether the shorter string is a prefix of the
// longer one.
func sharesPrefix(a, b string) bool {
	if len(a) < len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(a, b)
}
