// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"

	"github.com/jeranaias/secondbrain-tui/internal/stream"
)

// Feed adapts a Store to the reconciler's view of a conversation.
type Feed struct {
	store *Store
}

// NewFeed wraps the store for reconciliation reads.
func NewFeed(store *Store) *Feed {
	return &Feed{store: store}
}

// Messages returns the durable messages in insertion order.
func (f *Feed) Messages(ctx context.Context, conversationID string) ([]stream.PersistedMessage, error) {
	msgs, err := f.store.Messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]stream.PersistedMessage, len(msgs))
	for i, m := range msgs {
		out[i] = stream.PersistedMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, nil
}

// Refresh invalidates the store's cached view of the conversation.
func (f *Feed) Refresh(conversationID string) {
	f.store.Refresh(conversationID)
}
