// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package repl provides the line-based fallback interface: a readline
// loop for terminals where the full-screen UI is unwanted or unavailable.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/secondbrain-tui/internal/assistant"
	"github.com/jeranaias/secondbrain-tui/internal/config"
	"github.com/jeranaias/secondbrain-tui/internal/export"
	"github.com/jeranaias/secondbrain-tui/internal/storage"
	"github.com/jeranaias/secondbrain-tui/internal/stream"
	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	subtleStyle   = lipgloss.NewStyle().Faint(true)
	thinkingStyle = lipgloss.NewStyle().Italic(true).Faint(true)
)

// =============================================================================
// REPL
// =============================================================================

// Repl is the interactive line-based chat loop.
type Repl struct {
	cfg    *config.Config
	client *assistant.Client
	store  *storage.Store
	rec    *stream.Reconciler
	log    *telemetry.Logger

	conversationID string

	line        *liner.State
	historyFile string

	out io.Writer
}

// New creates a REPL bound to one conversation.
func New(cfg *config.Config, client *assistant.Client, store *storage.Store, conversationID string, log *telemetry.Logger) *Repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	historyDir, err := config.Dir()
	if err != nil {
		historyDir = os.TempDir()
	}

	r := &Repl{
		cfg:            cfg,
		client:         client,
		store:          store,
		rec:            stream.NewReconciler(storage.NewFeed(store), 0, 0, log),
		log:            log,
		conversationID: conversationID,
		line:           line,
		historyFile:    filepath.Join(historyDir, "chat_history"),
		out:            os.Stdout,
	}
	r.loadHistory()
	return r
}

// Close saves input history and releases the terminal.
func (r *Repl) Close() {
	r.saveHistory()
	r.line.Close()
}

func (r *Repl) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

func (r *Repl) saveHistory() {
	if err := config.EnsureDir(); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	r.line.WriteHistory(f)
}

// =============================================================================
// MAIN LOOP
// =============================================================================

// Run reads input until EOF, Ctrl+C at the prompt, or /quit.
func (r *Repl) Run(ctx context.Context) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, subtleStyle.Render("stdin is not a terminal; history navigation disabled"))
	}

	r.printHistory(ctx)

	for {
		input, err := r.line.Prompt(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF both exit cleanly.
			fmt.Fprintln(r.out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.processMessage(ctx, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("[error]"), err)
		}
	}
}

// printHistory shows the durable conversation on entry.
func (r *Repl) printHistory(ctx context.Context) {
	msgs, err := r.store.Messages(ctx, r.conversationID)
	if err != nil || len(msgs) == 0 {
		return
	}
	for _, m := range msgs {
		label := m.Role
		if m.Role == "user" {
			label = "you"
		}
		fmt.Fprintf(r.out, "%s %s\n", promptStyle.Render(label+">"), m.Content)
	}
	fmt.Fprintln(r.out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand executes a slash command. Returns true to exit the loop.
func (r *Repl) handleCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(r.out, "Commands: /quit, /export [md|json], /rag on|off, /tools on|off, /help")
		return false, nil

	case "/rag":
		return false, r.toggle(fields, &r.cfg.Features.EnableRAG, "retrieval")

	case "/tools":
		return false, r.toggle(fields, &r.cfg.Features.EnableTools, "tools")

	case "/export":
		format := "md"
		if len(fields) > 1 {
			format = fields[1]
		}
		return false, r.export(ctx, format)

	default:
		return false, fmt.Errorf("unknown command %q, try /help", fields[0])
	}
}

func (r *Repl) toggle(fields []string, flag *bool, name string) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: %s on|off", fields[0])
	}
	switch fields[1] {
	case "on":
		*flag = true
	case "off":
		*flag = false
	default:
		return fmt.Errorf("usage: %s on|off", fields[0])
	}
	fmt.Fprintf(r.out, "%s\n", subtleStyle.Render(fmt.Sprintf("%s: %s", name, fields[1])))
	return nil
}

func (r *Repl) export(ctx context.Context, format string) error {
	var exporter export.Exporter
	switch format {
	case "md", "markdown":
		exporter = export.NewMarkdownExporter(nil)
	case "json":
		exporter = export.NewJSONExporter(nil)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}

	msgs, err := r.store.Messages(ctx, r.conversationID)
	if err != nil {
		return err
	}
	meta, err := r.store.Conversation(ctx, r.conversationID)
	if err != nil && !errors.Is(err, storage.ErrConversationNotFound) {
		return err
	}

	path, err := export.ToFile(exporter, &export.Transcript{Meta: meta, Messages: msgs}, ".")
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s\n", subtleStyle.Render("exported to "+path))
	return nil
}

// =============================================================================
// MESSAGE PROCESSING
// =============================================================================

// processMessage streams one exchange, printing text as it arrives.
func (r *Repl) processMessage(ctx context.Context, input string) error {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	baseline, _ := r.store.MessageCount(ctx, r.conversationID)

	p := newPrinter(r.out)
	res, err := r.client.Send(sendCtx, assistant.SendRequest{
		ConversationID:  r.conversationID,
		Content:         input,
		Model:           r.cfg.Assistant.Model,
		EnableRAG:       r.cfg.Features.EnableRAG,
		EnableWebSearch: r.cfg.Features.EnableWebSearch,
		EnableTools:     r.cfg.Features.EnableTools,
	}, p.update)
	if err != nil {
		fmt.Fprintln(r.out)
		return err
	}

	s := res.Session
	p.finish(s)

	if s.Phase() != stream.PhaseCompleted {
		return nil
	}

	if err := r.persist(ctx, input, s); err != nil {
		return err
	}

	outcome := r.rec.Await(ctx, r.conversationID, s.VisibleText(), baseline)
	if outcome == stream.OutcomeTimeout {
		fmt.Fprintln(r.out, subtleStyle.Render("(server has not confirmed this exchange yet)"))
	}

	if res.Stats != nil && r.cfg.UI.ShowTokens {
		fmt.Fprintln(r.out, subtleStyle.Render(fmt.Sprintf(
			"~%d tokens in %s", s.OutputTokens(), res.Stats.Duration().Round(10*time.Millisecond))))
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *Repl) persist(ctx context.Context, input string, s *stream.Session) error {
	if err := r.store.EnsureConversation(ctx, r.conversationID, input); err != nil {
		return err
	}
	if _, err := r.store.Append(ctx, storage.StoredMessage{
		ConversationID: r.conversationID,
		Role:           "user",
		Content:        input,
	}); err != nil {
		return err
	}
	_, err := r.store.Append(ctx, storage.StoredMessage{
		ConversationID: r.conversationID,
		Role:           "assistant",
		Content:        s.VisibleText(),
		TokenCount:     s.OutputTokens(),
		DurationMs:     s.DurationMs(),
		RAGLogID:       s.RAGLogID(),
	})
	return err
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// printer incrementally writes the visible text as the session grows.
// Reasoning and tool activity are announced only before the answer text
// starts; after that they would tear the output apart, so the final
// summary covers them.
type printer struct {
	out         io.Writer
	printedText int // runes of visible text already written
	stepsShown  int
	toolsShown  int
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// update observes a session snapshot after an applied frame.
func (p *printer) update(s *stream.Session) {
	if p.printedText == 0 {
		for _, st := range s.Steps()[p.stepsShown:] {
			fmt.Fprintln(p.out, thinkingStyle.Render("… "+firstLine(st.Content)))
			p.stepsShown++
		}
		for _, tl := range s.Tools()[p.toolsShown:] {
			fmt.Fprintln(p.out, subtleStyle.Render("⚙ "+tl.Tool))
			p.toolsShown++
		}
	}

	visible := []rune(s.VisibleText())
	if len(visible) > p.printedText {
		fmt.Fprint(p.out, string(visible[p.printedText:]))
		p.printedText = len(visible)
	}
}

// finish flushes whatever the final session holds.
func (p *printer) finish(s *stream.Session) {
	if s == nil {
		return
	}
	p.update(s)
	if p.printedText > 0 {
		fmt.Fprintln(p.out)
	}
	if s.Phase() == stream.PhaseCancelled {
		fmt.Fprintln(p.out, subtleStyle.Render("[cancelled]"))
	}
	if err := s.Err(); err != nil && errors.Is(err, stream.ErrStream) {
		fmt.Fprintln(p.out, errorStyle.Render("[stream error] ")+err.Error())
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
