// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable conversation persistence backed by
// SQLite. The streaming engine treats it as an opaque store: it reads the
// message list during reconciliation and signals refresh, nothing more.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/secondbrain-tui/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned for unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// =============================================================================
// TYPES
// =============================================================================

// StoredMessage is one durable message.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // "user", "assistant", "system"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`

	// Statistics (for assistant messages)
	TokenCount int    `json:"token_count,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	RAGLogID   string `json:"rag_log_id,omitempty"`
}

// ConversationMeta summarizes a conversation for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// =============================================================================
// STORE
// =============================================================================

// Store persists conversations in a SQLite database and keeps a
// per-conversation query cache in front of it. Refresh invalidates the
// cache so the next read re-queries the database; the reconciler leans on
// that after stream end.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[string][]StoredMessage
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	summary    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	token_count     INTEGER NOT NULL DEFAULT 0,
	duration_ms     INTEGER NOT NULL DEFAULT 0,
	rag_log_id      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id);
`

// Open creates or opens the store at the given database path. Use
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:    db,
		cache: make(map[string][]StoredMessage),
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// EnsureConversation creates the conversation row if it does not exist.
func (s *Store) EnsureConversation(ctx context.Context, id, summary string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, summary, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, truncateSummary(summary), now, now)
	return err
}

// Append persists one message and invalidates the conversation's cache.
// A missing message id is generated.
func (s *Store) Append(ctx context.Context, msg StoredMessage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, role, content, token_count, duration_ms, rag_log_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content,
		msg.TokenCount, msg.DurationMs, msg.RAGLogID, msg.CreatedAt)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), msg.ConversationID)
	if err != nil {
		return "", err
	}

	s.Refresh(msg.ConversationID)
	return msg.ID, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Messages returns the conversation's messages in insertion order, served
// from the query cache when warm.
func (s *Store) Messages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	s.mu.Lock()
	if cached, ok := s.cache[conversationID]; ok {
		out := make([]StoredMessage, len(cached))
		copy(out, cached)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, token_count, duration_ms, rag_log_id, created_at
		FROM messages WHERE conversation_id = ? ORDER BY rowid`,
		conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.TokenCount, &m.DurationMs, &m.RAGLogID, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := make([]StoredMessage, len(msgs))
	copy(cached, msgs)
	s.cache[conversationID] = cached
	s.mu.Unlock()

	return msgs, nil
}

// MessageCount returns the number of durable messages in a conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&n)
	return n, err
}

// List returns all conversations, most recently updated first.
func (s *Store) List(ctx context.Context) ([]ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.summary, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metas []ConversationMeta
	for rows.Next() {
		var m ConversationMeta
		if err := rows.Scan(&m.ID, &m.Summary, &m.CreatedAt, &m.UpdatedAt, &m.MessageCount); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Conversation returns one conversation's metadata.
func (s *Store) Conversation(ctx context.Context, id string) (ConversationMeta, error) {
	var m ConversationMeta
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.summary, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM messages msg WHERE msg.conversation_id = c.id)
		FROM conversations c WHERE c.id = ?`, id).
		Scan(&m.ID, &m.Summary, &m.CreatedAt, &m.UpdatedAt, &m.MessageCount)
	if err == sql.ErrNoRows {
		return ConversationMeta{}, ErrConversationNotFound
	}
	return m, err
}

// Refresh drops the conversation's cached message list so the next read
// re-queries the database. Best-effort by design; callers never depend on
// it having any visible effect.
func (s *Store) Refresh(conversationID string) {
	s.mu.Lock()
	delete(s.cache, conversationID)
	s.mu.Unlock()
}

// =============================================================================
// HELPERS
// =============================================================================

// truncateSummary derives a short, newline-free summary.
func truncateSummary(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return util.TruncateRunes(strings.TrimSpace(s), 50)
}
