// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/secondbrain-tui/internal/stream"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a transcript to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("transcript is nil")
	}
	if len(t.Messages) == 0 {
		return nil, fmt.Errorf("transcript has no messages")
	}

	var sb strings.Builder

	title := t.Meta.Summary
	if title == "" {
		title = "Conversation"
	}
	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(title)))

	if e.options.IncludeMetadata {
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(t.Meta.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", formatTimestamp(t.Meta.UpdatedAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", len(t.Messages)))
		sb.WriteString("\n---\n\n")
	}

	for i, msg := range t.Messages {
		sb.WriteString(fmt.Sprintf("### %s\n\n", roleLabel(msg.Role)))
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == "assistant" && e.options.IncludeMetadata {
			if stats := formatMessageStats(msg.TokenCount, msg.DurationMs); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}

		if i < len(t.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if e.options.IncludeTimeline && t.Session != nil {
		writeTimeline(&sb, t.Session)
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from SecondBrain on %s*\n",
		time.Now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// TIMELINE RENDERING
// =============================================================================

// writeTimeline appends the streamed session's process timeline: the
// reasoning steps, tool runs, and server notes in chronological order.
func writeTimeline(sb *strings.Builder, s *stream.Session) {
	events := s.Timeline()
	if len(events) == 0 {
		return
	}

	sb.WriteString("## Process Timeline\n\n")
	for _, ev := range events {
		switch ev.Kind {
		case stream.EventThinking:
			marker := "..."
			if ev.Step.Complete {
				marker = "done"
			}
			sb.WriteString(fmt.Sprintf("- **Thinking** (%s): %s\n",
				marker, firstLine(ev.Step.Content)))

		case stream.EventTool:
			sb.WriteString(fmt.Sprintf("- **Tool** `%s` [%s]", ev.Tool.Tool, ev.Tool.Status))
			if ev.Tool.Result != "" {
				sb.WriteString(fmt.Sprintf(": %s", firstLine(ev.Tool.Result)))
			}
			sb.WriteString("\n")

		case stream.EventNote:
			sb.WriteString(fmt.Sprintf("- **Note** [%s]\n", ev.NoteOf))
		}
	}
	sb.WriteString("\n")
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// roleLabel returns a formatted label for the message role.
func roleLabel(role string) string {
	switch role {
	case "user":
		return "[User]"
	case "assistant":
		return "[Assistant]"
	case "system":
		return "[System]"
	case "":
		return "Unknown"
	default:
		runes := []rune(role)
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

// formatMessageStats formats token/duration statistics for a message.
func formatMessageStats(tokens int, durationMs int64) string {
	var parts []string
	if tokens > 0 {
		parts = append(parts, fmt.Sprintf("Tokens: %d", tokens))
	}
	if durationMs > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s",
			(time.Duration(durationMs)*time.Millisecond).Round(time.Millisecond)))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("<sub>Stats: %s</sub>", strings.Join(parts, " | "))
}

// formatTimestamp renders a human-readable timestamp.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// firstLine trims a value to its first line for compact timeline entries.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 120 {
		return string(runes[:117]) + "..."
	}
	return s
}

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}
