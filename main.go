// SecondBrain TUI - a terminal interface for the SecondBrain assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/jeranaias/secondbrain-tui/internal/assistant"
	"github.com/jeranaias/secondbrain-tui/internal/config"
	"github.com/jeranaias/secondbrain-tui/internal/storage"
	"github.com/jeranaias/secondbrain-tui/internal/telemetry"
	"github.com/jeranaias/secondbrain-tui/internal/ui/chat"
	"github.com/jeranaias/secondbrain-tui/internal/ui/repl"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	var (
		flagURL     = flag.String("url", "", "assistant base URL (overrides config)")
		flagModel   = flag.String("model", "", "model identifier (overrides config)")
		flagConv    = flag.String("conversation", "", "conversation id to resume")
		flagPlain   = flag.Bool("plain", false, "line-based REPL instead of the full-screen UI")
		flagConfig  = flag.String("config", "", "config file path")
		flagDebug   = flag.Bool("debug", false, "verbose logging to stderr")
		flagVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *flagVersion {
		fmt.Printf("secondbrain-tui %s (%s)\n", Version, GitCommit)
		return
	}

	if err := run(*flagURL, *flagModel, *flagConv, *flagConfig, *flagPlain, *flagDebug); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(url, model, conversationID, configPath string, plain, debug bool) error {
	var tlog *telemetry.Logger
	if debug {
		tlog = telemetry.NewStderrLogger(true)
	}

	// Configuration: file, then env, then flags.
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
		if p, perr := config.Path(); perr == nil {
			configPath = p
		}
	}
	if err != nil {
		return err
	}
	if url != "" {
		cfg.Assistant.BaseURL = url
	}
	if model != "" {
		cfg.Assistant.Model = model
	}
	if plain {
		cfg.UI.PlainMode = true
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	if err := config.EnsureDir(); err != nil {
		return err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	client := assistant.NewClient(cfg.Assistant.BaseURL, assistant.Options{
		MaxRetries:     cfg.Assistant.MaxRetries,
		SendsPerMinute: cfg.Assistant.SendsPerMinute,
		Logger:         tlog,
	})

	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if cfg.UI.PlainMode {
		r := repl.New(cfg, client, store, conversationID, tlog)
		defer r.Close()
		return r.Run(context.Background())
	}

	p := tea.NewProgram(
		chat.New(cfg, client, store, conversationID, tlog),
		tea.WithAltScreen(),
	)

	// Hot-reload config edits into the running UI.
	if configPath != "" {
		if w, werr := config.NewWatcher(configPath, func(next *config.Config) {
			p.Send(chat.ConfigReloaded(next))
		}); werr == nil {
			defer w.Close()
		}
	}

	_, err = p.Run()
	return err
}
