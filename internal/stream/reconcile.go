// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
)

// =============================================================================
// RECONCILIATION
// =============================================================================

// PersistedMessage is the engine's read-only view of one durable message
// in the conversation store.
type PersistedMessage struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ConversationFeed is the persisted conversation store as the engine sees
// it: a read accessor plus a best-effort refresh signal. The engine never
// writes through this interface.
type ConversationFeed interface {
	// Messages returns the current durable message list for a conversation.
	Messages(ctx context.Context, conversationID string) ([]PersistedMessage, error)

	// Refresh asks the store to re-query its backing source. Fire and
	// forget; reconciliation does not depend on it succeeding.
	Refresh(conversationID string)
}

// Outcome says why reconciliation finished.
type Outcome string

const (
	// OutcomeContentMatch means a persisted message matched the streamed text.
	OutcomeContentMatch Outcome = "content_match"
	// OutcomeCountIncrease means the durable message count grew since send.
	OutcomeCountIncrease Outcome = "count_increase"
	// OutcomeTimeout means the fallback timer force-cleared the session.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeCancelled means the caller gave up waiting.
	OutcomeCancelled Outcome = "cancelled"
)

// fuzzyWindow is how many runes of the trimmed streamed text take part in
// the prefix/substring match. Persistence may normalize whitespace or
// post-process the tail, so only the head is compared.
const fuzzyWindow = 80

// Reconciler watches the persisted feed after a stream completes and
// decides when the ephemeral session can be torn down without the UI
// flickering back to "no content".
//
// Three independent layers, each catching failures the others miss:
// content equivalence (exact, trimmed, then fuzzy head match), a message
// count increase since the send started, and a hard fallback timeout.
type Reconciler struct {
	feed     ConversationFeed
	poll     time.Duration
	fallback time.Duration
	log      *telemetry.Logger
}

// NewReconciler creates a reconciler polling the feed at the given
// interval, with a bounded fallback after which the session is cleared
// regardless of what the store says.
func NewReconciler(feed ConversationFeed, poll, fallback time.Duration, log *telemetry.Logger) *Reconciler {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	if fallback <= 0 {
		fallback = 5 * time.Second
	}
	return &Reconciler{feed: feed, poll: poll, fallback: fallback, log: log}
}

// Await blocks until the persisted record has caught up with the streamed
// text, the message count has grown past baselineCount, the fallback
// timer fires, or ctx is cancelled. It returns why it stopped; on any
// outcome but OutcomeCancelled the caller should clear the session and
// the pending echo of the user's own message.
func (r *Reconciler) Await(ctx context.Context, conversationID, streamedText string, baselineCount int) Outcome {
	r.feed.Refresh(conversationID)

	deadline := time.NewTimer(r.fallback)
	defer deadline.Stop()
	tick := time.NewTicker(r.poll)
	defer tick.Stop()

	for {
		if out, ok := r.check(ctx, conversationID, streamedText, baselineCount); ok {
			return out
		}

		select {
		case <-ctx.Done():
			return OutcomeCancelled
		case <-deadline.C:
			r.log.Debugf("reconcile %s: fallback timeout after %v", conversationID, r.fallback)
			return OutcomeTimeout
		case <-tick.C:
		}
	}
}

// check runs one poll of the feed against both positive signals.
func (r *Reconciler) check(ctx context.Context, conversationID, streamedText string, baselineCount int) (Outcome, bool) {
	msgs, err := r.feed.Messages(ctx, conversationID)
	if err != nil {
		r.log.Debugf("reconcile %s: feed read failed: %v", conversationID, err)
		return "", false
	}

	for _, m := range msgs {
		if m.Role != "assistant" {
			continue
		}
		if ContentEquivalent(streamedText, m.Content) {
			return OutcomeContentMatch, true
		}
	}

	// Count matching can succeed where content matching legitimately
	// fails, e.g. provider post-processing rewrote the text.
	if len(msgs) > baselineCount {
		return OutcomeCountIncrease, true
	}
	return "", false
}

// =============================================================================
// EQUIVALENCE
// =============================================================================

// ContentEquivalent judges whether a persisted message is the durable form
// of the streamed text. Checks run in order of strictness: exact match,
// whitespace-trimmed match, then a fuzzy match on the normalized head of
// the streamed text.
func ContentEquivalent(streamed, persisted string) bool {
	if streamed == "" {
		return false
	}
	if streamed == persisted {
		return true
	}

	st := strings.TrimSpace(streamed)
	pt := strings.TrimSpace(persisted)
	if st != "" && st == pt {
		return true
	}

	head := prefixKey(st, fuzzyWindow)
	if head == "" {
		return false
	}
	return strings.Contains(normalizeForMatch(pt), normalizeForMatch(head))
}

// normalizeForMatch applies NFC normalization and collapses runs of
// whitespace, so that persistence-side formatting changes do not defeat
// the match.
func normalizeForMatch(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}
