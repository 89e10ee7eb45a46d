// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen conversation view.
package chat

import (
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/storage"
)

// =============================================================================
// DISPLAY MESSAGES
// =============================================================================

// Message is one entry of the rendered conversation. Durable messages
// come from storage; a pending message is the user's own send echoed
// optimistically before the server confirms it.
type Message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time

	// Pending marks the local echo of an unconfirmed user message. It is
	// cleared when reconciliation observes the durable copy.
	Pending bool

	// Stats for assistant messages
	TokenCount int
	DurationMs int64
}

// fromStored converts a durable message for display.
func fromStored(m storage.StoredMessage) Message {
	return Message{
		ID:         m.ID,
		Role:       m.Role,
		Content:    m.Content,
		Timestamp:  m.CreatedAt,
		TokenCount: m.TokenCount,
		DurationMs: m.DurationMs,
	}
}

// pendingEcho builds the optimistic local copy of an outgoing message.
func pendingEcho(content string) Message {
	return Message{
		Role:      "user",
		Content:   content,
		Timestamp: time.Now(),
		Pending:   true,
	}
}

// confirmPending clears the pending flag on the newest pending user
// message whose content matches a now-durable copy.
func confirmPending(msgs []Message, durable []storage.StoredMessage) []Message {
	seen := make(map[string]bool, len(durable))
	for _, d := range durable {
		if d.Role == "user" {
			seen[d.Content] = true
		}
	}
	for i := range msgs {
		if msgs[i].Pending && seen[msgs[i].Content] {
			msgs[i].Pending = false
		}
	}
	return msgs
}
