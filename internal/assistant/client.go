// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package assistant provides the HTTP client for the SecondBrain assistant
// service: one streaming POST per send, with failure classification,
// bounded retry, and rate limiting.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxRetries is the total number of attempts for transient
	// failures before the last one is surfaced as fatal.
	DefaultMaxRetries = 3

	// DefaultBaseDelay is the backoff before the first retry. It doubles
	// per attempt: 500ms, 1s, 2s, ...
	DefaultBaseDelay = 500 * time.Millisecond

	// DefaultMaxDelay caps the backoff growth.
	DefaultMaxDelay = 8 * time.Second

	// streamPath is the assistant's streaming chat endpoint.
	streamPath = "/api/chat/stream"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates the assistant base URL is not set.
	ErrNotConfigured = errors.New("assistant base URL not configured")

	// ErrMaxRetries indicates all retry attempts were exhausted.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// APIError represents a non-streaming error response from the service.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("assistant error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("assistant error (HTTP %d)", e.Status)
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the assistant service. Safe for sequential use; one send
// per conversation at a time is enforced by the caller (a new send
// supersedes any in-flight session for the same conversation).
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *telemetry.Logger
}

// Options tunes a Client. Zero values fall back to defaults.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// SendsPerMinute throttles outgoing sends. 0 disables the limiter.
	SendsPerMinute int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	Logger *telemetry.Logger
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.HTTPClient == nil {
		// No overall timeout: the response body is a stream that stays
		// open for as long as generation runs. Cancellation comes from
		// the request context.
		opts.HTTPClient = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.SendsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.SendsPerMinute)/60.0), 1)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		limiter:    limiter,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		log:        opts.Logger,
	}
}

// IsConfigured reports whether the client has a base URL.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// calculateBackoff returns the delay before retry number attempt (1-based),
// doubling from the base and capped at the ceiling.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := c.baseDelay << (attempt - 1)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return delay
}

// =============================================================================
// FAILURE CLASSIFICATION
// =============================================================================

// isTransient classifies an attempt failure. Cancellation is handled
// before this is consulted; everything network/timeout/5xx-shaped is
// retryable, client errors are not.
func isTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Connection drops, refused connections, unexpected EOF mid-stream.
	return true
}
