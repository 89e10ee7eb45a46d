// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/stream"
)

// =============================================================================
// SESSION BUFFER
// =============================================================================

// SessionBuffer coalesces per-frame session updates for rendering. The
// dispatcher notifies after every applied frame, which at generation
// speed means hundreds of updates per second; redrawing each one causes
// flicker and wasted CPU. The buffer keeps only the latest snapshot and
// releases it at a capped frame rate.
//
// Thread-safety: updates arrive from the streaming goroutine while the
// render loop drains from the Bubble Tea loop.
type SessionBuffer struct {
	mu        sync.Mutex
	latest    *stream.Session
	dirty     bool
	lastFlush time.Time

	minInterval time.Duration
}

// defaultMaxFPS caps stream-driven redraws.
const defaultMaxFPS = 30

// NewSessionBuffer creates a buffer with the default frame cap.
func NewSessionBuffer() *SessionBuffer {
	return NewSessionBufferWithFPS(defaultMaxFPS)
}

// NewSessionBufferWithFPS creates a buffer with a custom frame cap.
func NewSessionBufferWithFPS(maxFPS int) *SessionBuffer {
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = defaultMaxFPS
	}
	return &SessionBuffer{
		minInterval: time.Second / time.Duration(maxFPS),
	}
}

// Put records the newest session snapshot. Older unrendered snapshots
// are superseded; only the latest state ever reaches the screen.
func (sb *SessionBuffer) Put(s *stream.Session) {
	sb.mu.Lock()
	sb.latest = s
	sb.dirty = true
	sb.mu.Unlock()
}

// Take returns the latest snapshot if a redraw is due. The second return
// is false when nothing changed or the frame cap has not elapsed.
func (sb *SessionBuffer) Take() (*stream.Session, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if !sb.dirty {
		return nil, false
	}
	if time.Since(sb.lastFlush) < sb.minInterval {
		return nil, false
	}

	sb.dirty = false
	sb.lastFlush = time.Now()
	return sb.latest, true
}

// ForceTake returns the latest snapshot regardless of the frame cap.
// Used when a stream finishes so the final state always renders.
func (sb *SessionBuffer) ForceTake() (*stream.Session, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.latest == nil {
		return nil, false
	}
	sb.dirty = false
	sb.lastFlush = time.Now()
	return sb.latest, true
}

// Reset clears the buffer for a new send.
func (sb *SessionBuffer) Reset() {
	sb.mu.Lock()
	sb.latest = nil
	sb.dirty = false
	sb.lastFlush = time.Time{}
	sb.mu.Unlock()
}
