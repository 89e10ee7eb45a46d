// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/secondbrain-tui/internal/assistant"
	"github.com/jeranaias/secondbrain-tui/internal/config"
	"github.com/jeranaias/secondbrain-tui/internal/storage"
	"github.com/jeranaias/secondbrain-tui/internal/stream"
	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
	"github.com/jeranaias/secondbrain-tui/internal/ui/styles"
)

// =============================================================================
// MESSAGES
// =============================================================================

type tickMsg time.Time

// streamDoneMsg carries the finished (or failed) send, plus the durable
// message count observed when the send started.
type streamDoneMsg struct {
	result   assistant.SendResult
	err      error
	baseline int
}

// reconciledMsg reports how the durable view caught up with the stream.
type reconciledMsg struct {
	outcome stream.Outcome
}

// historyMsg delivers the durable conversation after a (re)load.
type historyMsg struct {
	msgs []storage.StoredMessage
	err  error
}

// configReloadedMsg delivers a hot-reloaded configuration.
type configReloadedMsg struct {
	cfg *config.Config
}

// ConfigReloaded wraps a hot-reloaded config for delivery via
// Program.Send from the watcher goroutine.
func ConfigReloaded(cfg *config.Config) tea.Msg {
	return configReloadedMsg{cfg: cfg}
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model for the conversation screen.
type Model struct {
	cfg   *config.Config
	theme *styles.Theme
	log   *telemetry.Logger

	client     *assistant.Client
	store      *storage.Store
	reconciler *stream.Reconciler

	conversationID string
	messages       []Message

	// Streaming state. session is the live snapshot being rendered;
	// it survives stream failure so partial output stays visible.
	session   *stream.Session
	stats     *telemetry.StreamStats
	buffer    *SessionBuffer
	streaming bool
	cancel    context.CancelFunc

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool

	err error
}

// New creates the conversation screen for one conversation.
func New(cfg *config.Config, client *assistant.Client, store *storage.Store, conversationID string, log *telemetry.Logger) Model {
	ti := textarea.New()
	ti.Placeholder = "Ask anything..."
	ti.ShowLineNumbers = false
	ti.SetHeight(3)
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	th := styles.New(cfg.UI.Theme)
	sp.Style = th.Spinner

	return Model{
		cfg:            cfg,
		theme:          th,
		log:            log,
		client:         client,
		store:          store,
		reconciler:     stream.NewReconciler(storage.NewFeed(store), 0, 0, log),
		conversationID: conversationID,
		buffer:         NewSessionBuffer(),
		input:          ti,
		spinner:        sp,
	}
}

// Init loads the durable history.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadHistoryCmd(), m.spinner.Tick)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) loadHistoryCmd() tea.Cmd {
	store, id := m.store, m.conversationID
	return func() tea.Msg {
		msgs, err := store.Messages(context.Background(), id)
		return historyMsg{msgs: msgs, err: err}
	}
}

// sendCmd issues the streaming request. Session snapshots flow through
// the buffer; the command itself returns only the terminal outcome.
func (m *Model) sendCmd(ctx context.Context, content string) tea.Cmd {
	req := assistant.SendRequest{
		ConversationID:  m.conversationID,
		Content:         content,
		Model:           m.cfg.Assistant.Model,
		EnableRAG:       m.cfg.Features.EnableRAG,
		EnableWebSearch: m.cfg.Features.EnableWebSearch,
		EnableTools:     m.cfg.Features.EnableTools,
	}
	client, buffer := m.client, m.buffer
	store, id := m.store, m.conversationID
	return func() tea.Msg {
		baseline, _ := store.MessageCount(ctx, id)
		res, err := client.Send(ctx, req, buffer.Put)
		return streamDoneMsg{result: res, err: err, baseline: baseline}
	}
}

// persistAndReconcileCmd mirrors the finished exchange into the local
// store, then waits for the durable view to reflect it. baseline is the
// durable message count observed when the send started, not when these
// appends run.
func (m *Model) persistAndReconcileCmd(content string, s *stream.Session, baseline int) tea.Cmd {
	store, rec, id := m.store, m.reconciler, m.conversationID
	return func() tea.Msg {
		ctx := context.Background()

		if err := store.EnsureConversation(ctx, id, content); err != nil {
			return historyMsg{err: err}
		}
		if _, err := store.Append(ctx, storage.StoredMessage{
			ConversationID: id,
			Role:           "user",
			Content:        content,
		}); err != nil {
			return historyMsg{err: err}
		}
		if _, err := store.Append(ctx, storage.StoredMessage{
			ConversationID: id,
			Role:           "assistant",
			Content:        s.VisibleText(),
			TokenCount:     s.OutputTokens(),
			DurationMs:     s.DurationMs(),
			RAGLogID:       s.RAGLogID(),
		}); err != nil {
			return historyMsg{err: err}
		}

		outcome := rec.Await(ctx, id, s.VisibleText(), baseline)
		return reconciledMsg{outcome: outcome}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		inputHeight := m.input.Height() + 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight-1)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight - 1
		}
		m.input.SetWidth(msg.Width - 2)
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(msg.Width-4),
		); err == nil {
			m.renderer = r
		}
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.streaming {
				m.cancelStream()
				return m, nil
			}
			return m, tea.Quit

		case "esc":
			if m.streaming {
				m.cancelStream()
			}

		case "enter":
			if m.streaming {
				break
			}
			content := m.input.Value()
			if content == "" {
				break
			}
			m.input.Reset()
			m.err = nil
			m.session = nil
			m.buffer.Reset()
			m.messages = append(m.messages, pendingEcho(content))
			m.streaming = true

			ctx, cancel := context.WithCancel(context.Background())
			m.cancel = cancel
			m.refreshViewport()
			return m, tea.Batch(m.sendCmd(ctx, content), tickCmd())
		}

	case tickMsg:
		if s, ok := m.buffer.Take(); ok {
			m.session = s
			m.refreshViewport()
		}
		if m.streaming {
			cmds = append(cmds, tickCmd())
		}

	case streamDoneMsg:
		m.streaming = false
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		if s, ok := m.buffer.ForceTake(); ok {
			m.session = s
		}
		if msg.result.Session != nil {
			m.session = msg.result.Session
			m.stats = msg.result.Stats
		}
		if msg.err != nil {
			m.err = msg.err
			m.refreshViewport()
			break
		}
		if m.session != nil && m.session.Phase() == stream.PhaseCompleted {
			content := m.lastPendingContent()
			m.refreshViewport()
			return m, m.persistAndReconcileCmd(content, m.session, msg.baseline)
		}
		m.refreshViewport()

	case reconciledMsg:
		// Whatever the signal (content match, count increase, or the
		// fallback timeout), the streamed session gives way to the
		// durable view now.
		m.session = nil
		cmds = append(cmds, m.loadHistoryCmd())

	case historyMsg:
		if msg.err != nil {
			m.err = msg.err
			break
		}
		old := confirmPending(m.messages, msg.msgs)
		m.messages = nil
		for _, sm := range msg.msgs {
			m.messages = append(m.messages, fromStored(sm))
		}
		// Echoes the durable view has not confirmed yet stay visible,
		// still marked pending.
		for _, om := range old {
			if om.Pending {
				m.messages = append(m.messages, om)
			}
		}
		m.refreshViewport()

	case configReloadedMsg:
		m.cfg = msg.cfg
		m.theme = styles.New(msg.cfg.UI.Theme)
		m.refreshViewport()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// cancelStream aborts the in-flight send. The dispatcher marks the
// session cancelled; no error surfaces.
func (m *Model) cancelStream() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.streaming = false
}

// lastPendingContent finds the user text of the exchange being persisted.
func (m *Model) lastPendingContent() string {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Pending && m.messages[i].Role == "user" {
			return m.messages[i].Content
		}
	}
	return ""
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}
