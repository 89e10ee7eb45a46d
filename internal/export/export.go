// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation transcripts to files. Supports
// Markdown and JSON, with optional metadata and the most recent streamed
// session's reasoning/tool timeline.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/storage"
	"github.com/jeranaias/secondbrain-tui/internal/stream"
	"github.com/jeranaias/secondbrain-tui/internal/util"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript bundles everything an exporter needs: the durable
// conversation plus, optionally, the in-memory session from the most
// recent send (reasoning steps, tool runs, notes).
type Transcript struct {
	Meta     storage.ConversationMeta `json:"conversation"`
	Messages []storage.StoredMessage  `json:"messages"`
	Session  *stream.Session          `json:"-"`
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a transcript to one output format.
type Exporter interface {
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the output extension, e.g. ".md".
	FileExtension() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where files are written. Default: current directory.
	OutputDir string

	// IncludeMetadata includes the header block (dates, counts, stats).
	IncludeMetadata bool

	// IncludeTimeline includes the streamed session's reasoning steps and
	// tool executions, when a session is attached.
	IncludeTimeline bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		IncludeMetadata: true,
		IncludeTimeline: true,
	}
}

// =============================================================================
// FILE EXPORT
// =============================================================================

// ToFile exports a transcript and returns the written path. The filename
// derives from the conversation summary and the export time.
func ToFile(e Exporter, t *Transcript, outputDir string) (string, error) {
	data, err := e.Export(t)
	if err != nil {
		return "", err
	}

	if outputDir == "" {
		outputDir = "."
	}
	name := fmt.Sprintf("%s-%s%s",
		slugify(t.Meta.Summary),
		time.Now().Format("2006-01-02-150405"),
		e.FileExtension())
	path := filepath.Join(outputDir, name)

	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return path, nil
}

// slugify produces a filesystem-safe name fragment.
func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 40 {
			break
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "conversation"
	}
	return out
}
