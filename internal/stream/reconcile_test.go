// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeFeed is an in-memory ConversationFeed for reconciliation tests.
type fakeFeed struct {
	mu        sync.Mutex
	msgs      []PersistedMessage
	refreshes int
}

func (f *fakeFeed) Messages(_ context.Context, _ string) ([]PersistedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PersistedMessage, len(f.msgs))
	copy(out, f.msgs)
	return out, nil
}

func (f *fakeFeed) Refresh(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeFeed) add(role, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, PersistedMessage{Role: role, Content: content})
}

func newTestReconciler(feed ConversationFeed) *Reconciler {
	return NewReconciler(feed, 5*time.Millisecond, 100*time.Millisecond, nil)
}

// =============================================================================
// EQUIVALENCE TESTS
// =============================================================================

func TestContentEquivalentExact(t *testing.T) {
	if !ContentEquivalent("the answer is 42", "the answer is 42") {
		t.Error("Identical text must match")
	}
}

func TestContentEquivalentTrimmed(t *testing.T) {
	if !ContentEquivalent("the answer is 42", "  the answer is 42\n\n") {
		t.Error("Whitespace-trimmed text must match")
	}
}

func TestContentEquivalentFuzzyHead(t *testing.T) {
	streamed := "The answer,  after much deliberation,\nis 42, and here is some additional " +
		"shared explanation text, then a streamed-only tail."
	// Persistence normalized internal whitespace and rewrote text beyond
	// the fuzzy window.
	persisted := "The answer, after much deliberation, is 42, and here is some additional " +
		"shared explanation text, but persistence rewrote this ending."
	if !ContentEquivalent(streamed, persisted) {
		t.Error("Fuzzy head match must tolerate whitespace normalization")
	}
}

func TestContentEquivalentRejectsDifferentText(t *testing.T) {
	if ContentEquivalent("completely unrelated streamed text here", "something else entirely persisted") {
		t.Error("Unrelated text must not match")
	}
	if ContentEquivalent("", "anything") {
		t.Error("Empty streamed text must never content-match")
	}
}

// =============================================================================
// AWAIT TESTS
// =============================================================================

func TestAwaitContentMatch(t *testing.T) {
	feed := &fakeFeed{}
	feed.add("user", "question")
	feed.add("assistant", "the streamed answer")

	r := newTestReconciler(feed)
	out := r.Await(context.Background(), "conv-1", "the streamed answer", 2)
	if out != OutcomeContentMatch {
		t.Errorf("Expected content match, got %s", out)
	}
	if feed.refreshes != 1 {
		t.Errorf("Await must request one refresh up front, got %d", feed.refreshes)
	}
}

func TestAwaitCountIncrease(t *testing.T) {
	feed := &fakeFeed{}
	feed.add("user", "question")

	r := newTestReconciler(feed)

	// Persist a post-processed message that will not content-match.
	go func() {
		time.Sleep(15 * time.Millisecond)
		feed.add("assistant", "rewritten by provider post-processing")
	}()

	out := r.Await(context.Background(), "conv-1", "original streamed answer text", 1)
	if out != OutcomeCountIncrease {
		t.Errorf("Expected count increase, got %s", out)
	}
}

func TestAwaitFallbackTimeout(t *testing.T) {
	feed := &fakeFeed{}

	r := newTestReconciler(feed)
	start := time.Now()
	out := r.Await(context.Background(), "conv-1", "never persisted", 0)
	if out != OutcomeTimeout {
		t.Errorf("Expected timeout, got %s", out)
	}
	if time.Since(start) < 90*time.Millisecond {
		t.Error("Timeout fired before the fallback delay")
	}
}

func TestAwaitCancelled(t *testing.T) {
	feed := &fakeFeed{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestReconciler(feed)
	if out := r.Await(ctx, "conv-1", "text", 0); out != OutcomeCancelled {
		t.Errorf("Expected cancelled, got %s", out)
	}
}

func TestAwaitIgnoresUserMessagesForContentMatch(t *testing.T) {
	feed := &fakeFeed{}
	// The user's own echoed message must not satisfy the content signal,
	// but it does grow the count past the baseline taken at send time.
	feed.add("user", "the streamed answer")

	r := newTestReconciler(feed)
	out := r.Await(context.Background(), "conv-1", "the streamed answer", 1)
	if out != OutcomeTimeout {
		t.Errorf("Expected timeout, got %s", out)
	}
}
