// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config must validate: %v", err)
	}
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Missing config file must fall back to defaults: %v", err)
	}
	if cfg.Assistant.BaseURL != "http://127.0.0.1:8000" {
		t.Errorf("Expected default base URL, got %q", cfg.Assistant.BaseURL)
	}
	if cfg.Assistant.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.Assistant.MaxRetries)
	}
}

func TestLoadFromPathParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[assistant]
base_url = "http://10.0.0.5:9000"
model = "sonnet"
sends_per_minute = 30

[features]
enable_rag = false
enable_web_search = true

[ui]
theme = "light"
plain_mode = true
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Assistant.BaseURL != "http://10.0.0.5:9000" {
		t.Errorf("Expected configured base URL, got %q", cfg.Assistant.BaseURL)
	}
	if cfg.Assistant.Model != "sonnet" {
		t.Errorf("Expected model 'sonnet', got %q", cfg.Assistant.Model)
	}
	if cfg.Features.EnableRAG {
		t.Error("enable_rag = false must stick")
	}
	if !cfg.Features.EnableWebSearch {
		t.Error("enable_web_search = true must stick")
	}
	if cfg.UI.Theme != "light" || !cfg.UI.PlainMode {
		t.Errorf("UI settings not applied: %+v", cfg.UI)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Assistant.BaseURL = "not a url"
	cfg.UI.Theme = "sepia"
	cfg.Assistant.MaxRetries = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	var errs ValidateErrors
	if !errors.As(err, &errs) {
		t.Fatalf("Expected ValidateErrors, got %T", err)
	}
	if len(errs) != 3 {
		t.Errorf("Expected 3 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SECONDBRAIN_URL", "http://env-host:8000")
	t.Setenv("SECONDBRAIN_MODEL", "haiku")
	t.Setenv("SECONDBRAIN_PLAIN", "true")
	t.Setenv("SECONDBRAIN_RAG", "0")
	t.Setenv("SECONDBRAIN_MAX_RETRIES", "5")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Assistant.BaseURL != "http://env-host:8000" {
		t.Errorf("SECONDBRAIN_URL not applied, got %q", cfg.Assistant.BaseURL)
	}
	if cfg.Assistant.Model != "haiku" {
		t.Errorf("SECONDBRAIN_MODEL not applied, got %q", cfg.Assistant.Model)
	}
	if !cfg.UI.PlainMode {
		t.Error("SECONDBRAIN_PLAIN not applied")
	}
	if cfg.Features.EnableRAG {
		t.Error("SECONDBRAIN_RAG=0 must disable retrieval")
	}
	if cfg.Assistant.MaxRetries != 5 {
		t.Errorf("SECONDBRAIN_MAX_RETRIES not applied, got %d", cfg.Assistant.MaxRetries)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Assistant.Model = "roundtrip"
	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Assistant.Model != "roundtrip" {
		t.Errorf("Expected model to survive round trip, got %q", loaded.Assistant.Model)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := SaveTOML(Default(), path); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(path, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	updated := Default()
	updated.Assistant.Model = "reloaded"
	if err := SaveTOML(updated, path); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		done := got != nil
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("Watcher never delivered the reloaded config")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Assistant.Model != "reloaded" {
		t.Errorf("Expected reloaded model, got %q", got.Assistant.Model)
	}
}
