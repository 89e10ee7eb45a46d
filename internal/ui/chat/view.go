// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"

	"github.com/jeranaias/secondbrain-tui/internal/stream"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full screen: history viewport, input, status line.
func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	sb.WriteString("\n")

	if m.err != nil {
		sb.WriteString(m.theme.ErrorBox.Width(m.width - 2).Render(m.err.Error()))
		sb.WriteString("\n")
	}

	sb.WriteString(m.input.View())
	sb.WriteString("\n")
	sb.WriteString(m.statusLine())
	return sb.String()
}

// statusLine renders the bottom chrome: streaming indicator, token
// estimates, and key hints.
func (m Model) statusLine() string {
	var parts []string

	if m.streaming {
		parts = append(parts, m.spinner.View()+"streaming")
		parts = append(parts, "esc to cancel")
	} else {
		parts = append(parts, "enter to send")
		parts = append(parts, "ctrl+c to quit")
	}

	if m.cfg.UI.ShowTokens && m.session != nil {
		parts = append(parts, m.theme.StatusTokens.Render(
			fmt.Sprintf("in ~%d / out ~%d tokens",
				m.session.InputTokens(), m.session.OutputTokens())))
	}

	return m.theme.StatusBar.Render(strings.Join(parts, "  ·  "))
}

// =============================================================================
// CONVERSATION RENDERING
// =============================================================================

// renderConversation builds the viewport content: the durable history
// followed by the live streaming block.
func (m *Model) renderConversation() string {
	var sb strings.Builder

	for _, msg := range m.messages {
		sb.WriteString(m.renderMessage(msg))
		sb.WriteString("\n")
	}

	if m.session != nil {
		sb.WriteString(m.renderSession(m.session))
	}

	return sb.String()
}

func (m *Model) renderMessage(msg Message) string {
	var sb strings.Builder

	switch msg.Role {
	case "user":
		label := "You"
		if msg.Pending {
			label = "You (sending...)"
		}
		sb.WriteString(m.theme.UserLabel.Render(label))
		sb.WriteString("\n")
		if msg.Pending {
			sb.WriteString(m.theme.PendingText.Render(msg.Content))
		} else {
			sb.WriteString(msg.Content)
		}

	case "assistant":
		sb.WriteString(m.theme.AssistantLabel.Render("SecondBrain"))
		sb.WriteString("\n")
		sb.WriteString(m.renderMarkdown(msg.Content))

	default:
		sb.WriteString(m.theme.SystemLabel.Render(msg.Role))
		sb.WriteString("\n")
		sb.WriteString(msg.Content)
	}

	sb.WriteString("\n")
	return sb.String()
}

// renderSession shows the response under construction: the process
// timeline interleaved in observation order, then the visible text.
func (m *Model) renderSession(s *stream.Session) string {
	var sb strings.Builder

	sb.WriteString(m.theme.AssistantLabel.Render("SecondBrain"))
	if s.Phase() == stream.PhaseCancelled {
		sb.WriteString(m.theme.PendingText.Render("  (cancelled)"))
	}
	sb.WriteString("\n")

	if m.cfg.UI.ShowThinking {
		for _, ev := range s.Timeline() {
			sb.WriteString(m.renderProcessEvent(ev))
		}
	}

	text := s.VisibleText()
	if text != "" {
		if s.Phase() == stream.PhaseCompleted {
			sb.WriteString(m.renderMarkdown(text))
		} else {
			// Mid-stream text renders plain; markdown structure is not
			// trustworthy until the stream ends.
			sb.WriteString(text)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m *Model) renderProcessEvent(ev stream.ProcessEvent) string {
	switch ev.Kind {
	case stream.EventThinking:
		if ev.Step.Complete {
			return m.theme.ThinkingDone.Render("✓ "+firstLine(ev.Step.Content)) + "\n"
		}
		return m.theme.ThinkingText.Render("… "+firstLine(ev.Step.Content)) + "\n"

	case stream.EventTool:
		if ev.Tool.Status == stream.ToolCompleted {
			return m.theme.ToolCompleted.Render(
				fmt.Sprintf("⚙ %s → %s", ev.Tool.Tool, firstLine(ev.Tool.Result))) + "\n"
		}
		return m.theme.ToolExecuting.Render(
			fmt.Sprintf("⚙ %s (running)", ev.Tool.Tool)) + "\n"

	case stream.EventNote:
		if ev.NoteOf == stream.NoteCodeExecution {
			return m.renderCodeNote(ev.Payload)
		}
		return m.theme.NoteText.Render(fmt.Sprintf("◦ %s", noteLabel(ev.NoteOf))) + "\n"
	}
	return ""
}

// renderCodeNote shows server-side code execution with syntax
// highlighting. Payload shape is best-effort; anything unparseable
// degrades to the generic note line.
func (m *Model) renderCodeNote(payload json.RawMessage) string {
	var note struct {
		Code     string `json:"code"`
		Language string `json:"language"`
		Output   string `json:"output"`
	}
	if err := json.Unmarshal(payload, &note); err != nil || note.Code == "" {
		return m.theme.NoteText.Render("◦ code execution") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(m.theme.NoteText.Render("◦ code execution") + "\n")

	lang := note.Language
	if lang == "" {
		lang = "python"
	}
	var highlighted bytes.Buffer
	if err := quick.Highlight(&highlighted, note.Code, lang, "terminal256", "monokai"); err == nil {
		sb.WriteString(highlighted.String())
	} else {
		sb.WriteString(note.Code)
	}
	if !strings.HasSuffix(sb.String(), "\n") {
		sb.WriteString("\n")
	}

	if note.Output != "" {
		sb.WriteString(m.theme.NoteText.Render("  → "+firstLine(note.Output)) + "\n")
	}
	return sb.String()
}

// renderMarkdown renders completed assistant text through glamour,
// falling back to plain text when no renderer is available.
func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// =============================================================================
// HELPERS
// =============================================================================

func noteLabel(k stream.NoteKind) string {
	switch k {
	case stream.NoteRetrievedContext:
		return "retrieved context"
	case stream.NoteGrounding:
		return "grounding"
	case stream.NoteSearchSources:
		return "search sources"
	case stream.NoteCodeExecution:
		return "code execution"
	default:
		return string(k)
	}
}

// firstLine trims a value to one line for the timeline.
func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 100 {
		return string(runes[:97]) + "..."
	}
	return s
}
