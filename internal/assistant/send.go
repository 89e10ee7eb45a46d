// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/sse"
	"github.com/jeranaias/secondbrain-tui/internal/stream"
	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
)

// =============================================================================
// SEND REQUEST
// =============================================================================

// SendRequest is the outgoing message plus its capability flags.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Model          string `json:"model,omitempty"`

	EnableRAG       bool `json:"enable_rag"`
	EnableWebSearch bool `json:"enable_web_search"`
	EnableTools     bool `json:"enable_tools"`
}

// SendResult is what a finished (or failed) send hands back: the session
// holding everything that streamed, and the timing statistics.
type SendResult struct {
	Session *stream.Session
	Stats   *telemetry.StreamStats
}

// =============================================================================
// SEND
// =============================================================================

// Send issues one streaming chat request and consumes the response into a
// fresh session, retrying transient failures with exponential backoff.
//
// Failure handling follows three classes. Caller cancellation is silent:
// the returned session is in the cancelled phase and the error is nil.
// Transient failures (network, timeout, 5xx) are retried up to the
// configured attempt count; every retry re-issues the original request
// against a brand-new session, so no partial output from a failed attempt
// survives. Everything else, a server error frame included, is fatal and
// surfaced immediately, with the returned session deactivated into the
// errored phase carrying the terminal error.
//
// onUpdate, if non-nil, observes the session after every applied frame.
func (c *Client) Send(ctx context.Context, req SendRequest, onUpdate func(*stream.Session)) (SendResult, error) {
	if !c.IsConfigured() {
		return SendResult{}, ErrNotConfigured
	}

	var lastErr error
	var lastD *stream.Dispatcher

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.log.Debugf("send %s: retry %d after %v: %v",
				req.ConversationID, attempt, c.calculateBackoff(attempt), lastErr)
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return c.cancelledResult(req), nil
				}
				return c.exhausted(lastD, lastErr)
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		// A fresh dispatcher per attempt: a successful retry starts from
		// a fully reset session, never splicing partial output.
		d := stream.NewDispatcher(req.ConversationID, req.Content, c.log)
		if onUpdate != nil {
			d.OnUpdate(onUpdate)
		}

		err := c.attempt(ctx, req, d)
		if err == nil {
			res := SendResult{Session: d.Session(), Stats: d.Stats()}
			if protoErr := d.Session().Err(); protoErr != nil {
				// Server-sent error frame: terminal, never retried.
				return res, protoErr
			}
			return res, nil
		}

		if errors.Is(err, context.Canceled) {
			d.Cancel()
			return SendResult{Session: d.Session(), Stats: d.Stats()}, nil
		}

		if !isTransient(err) {
			d.Fail(err)
			return SendResult{Session: d.Session(), Stats: d.Stats()}, err
		}
		lastErr = err
		lastD = d
	}

	return c.exhausted(lastD, lastErr)
}

// exhausted finalizes the last attempt's session once retries are spent:
// the transient failure becomes the surfaced terminal error, and whatever
// output that attempt accumulated stays readable.
func (c *Client) exhausted(d *stream.Dispatcher, lastErr error) (SendResult, error) {
	err := fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
	d.Fail(err)
	return SendResult{Session: d.Session(), Stats: d.Stats()}, err
}

// cancelledResult builds the silent result for a cancellation that hit
// between attempts, where no dispatcher exists yet.
func (c *Client) cancelledResult(req SendRequest) SendResult {
	d := stream.NewDispatcher(req.ConversationID, req.Content, c.log)
	d.Cancel()
	return SendResult{Session: d.Session(), Stats: d.Stats()}
}

// attempt performs a single streaming request, feeding every decoded frame
// to the dispatcher in arrival order.
func (c *Client) attempt(ctx context.Context, req SendRequest, d *stream.Dispatcher) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return &APIError{Status: 0, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+streamPath, bytes.NewReader(body))
	if err != nil {
		return &APIError{Status: 0, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	if err := sse.Pump(ctx, resp.Body, d.Handle); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	// EOF without an end or error frame means the connection dropped
	// mid-generation; treat it like any other transient network failure.
	if d.Session().Active() {
		return io.ErrUnexpectedEOF
	}
	return nil
}
