// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements Server-Sent-Events frame decoding for the
// SecondBrain assistant stream.
//
// The decoder is chunk-fed: network reads hand it text fragments with
// arbitrary boundaries, and it reassembles them into complete frames.
// Decoding the same byte stream produces the same frames regardless of
// how it was chunked.
package sse

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrFrameTooLarge is returned when a single frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("sse frame exceeds maximum size")

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultEventType is assumed when a frame carries no event: line.
const DefaultEventType = "message"

// MaxFrameSize is the maximum allowed size for a single SSE frame (64KB).
const MaxFrameSize = 64 * 1024

// frameDelimiter separates frames in the raw stream.
const frameDelimiter = "\n\n"

// =============================================================================
// EVENT TYPE
// =============================================================================

// Event is one decoded SSE frame: an event type and its data payload.
type Event struct {
	Type string
	Data string
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder reassembles arbitrarily-chunked text into complete SSE frames.
//
// It keeps a single growing buffer; each Feed appends the chunk, splits off
// every complete frame (delimited by a blank line) and retains the trailing
// partial frame for the next chunk. Frames without a recognized field prefix
// are skipped, not fatal.
type Decoder struct {
	buf strings.Builder
}

// NewDecoder creates a decoder for one connection. Decoders are not
// restartable; use a fresh one per stream.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends a chunk and returns every frame completed by it.
func (d *Decoder) Feed(chunk string) []Event {
	d.buf.WriteString(chunk)

	raw := d.buf.String()
	if !strings.Contains(raw, frameDelimiter) {
		return nil
	}

	segments := strings.Split(raw, frameDelimiter)

	// The last segment is the (possibly empty) partial frame still growing.
	d.buf.Reset()
	d.buf.WriteString(segments[len(segments)-1])

	var events []Event
	for _, seg := range segments[:len(segments)-1] {
		if ev, ok := parseFrame(seg); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush parses whatever is left in the buffer as a final frame. Call once
// when the connection closes; servers that terminate the body right after
// the last frame may omit the trailing blank line.
func (d *Decoder) Flush() (Event, bool) {
	raw := d.buf.String()
	d.buf.Reset()
	if strings.TrimSpace(raw) == "" {
		return Event{}, false
	}
	return parseFrame(raw)
}

// Buffered returns the number of bytes waiting for a frame delimiter.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// =============================================================================
// FRAME PARSING
// =============================================================================

// parseFrame interprets one blank-line-delimited segment.
//
// Lines starting with "event:" set the frame type, lines starting with
// "data:" contribute payload. Everything after the field prefix is data
// verbatim, including further colons; only one leading space is stripped.
// Multiple data lines are concatenated with a newline, per SSE convention.
// A segment with no recognized field is malformed and dropped.
func parseFrame(segment string) (Event, bool) {
	eventType := ""
	var dataLines []string
	recognized := false

	for _, line := range strings.Split(segment, "\n") {
		line = strings.TrimSuffix(line, "\r")

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(fieldValue(line, "event:"))
			recognized = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, fieldValue(line, "data:"))
			recognized = true
		}
		// Other fields (id:, retry:, ": comment") are ignored.
	}

	if !recognized {
		return Event{}, false
	}

	if eventType == "" {
		eventType = DefaultEventType
	}

	return Event{Type: eventType, Data: strings.Join(dataLines, "\n")}, true
}

// fieldValue strips the field prefix and at most one leading space.
func fieldValue(line, prefix string) string {
	v := line[len(prefix):]
	if strings.HasPrefix(v, " ") {
		v = v[1:]
	}
	return v
}

// Unescape converts literal \n sequences to real newlines. The server
// escapes newlines in text payloads so they cannot be mistaken for a
// frame boundary. The decoder leaves payloads verbatim; callers unescape
// the frame types that carry plain text, since JSON payloads handle
// newlines through their own escaping.
func Unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// =============================================================================
// STREAM PUMP
// =============================================================================

// Pump reads r until EOF or context cancellation, feeding each chunk to the
// decoder and invoking handle for every complete frame in arrival order.
// The final partial frame, if any, is flushed on EOF.
//
// Cancellation is checked between reads; no frame is delivered after the
// context is done.
func Pump(ctx context.Context, r io.Reader, handle func(Event)) error {
	d := NewDecoder()
	buf := make([]byte, 4096)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(buf)
		if n > 0 {
			if d.Buffered()+n > MaxFrameSize {
				return ErrFrameTooLarge
			}
			for _, ev := range d.Feed(string(buf[:n])) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				handle(ev)
			}
		}
		if err != nil {
			if err == io.EOF {
				if ev, ok := d.Flush(); ok && ctx.Err() == nil {
					handle(ev)
				}
				return nil
			}
			return err
		}
	}
}
