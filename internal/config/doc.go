// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// secondbrain-tui.
//
// Supports TOML configuration with sensible defaults, environment
// variable overrides, validation, and hot reload on file change.
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (SECONDBRAIN_*)
//   - ~/.secondbrain/config.toml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Watch for changes:
//
//	w, err := config.NewWatcher(path, func(cfg *config.Config) { ... })
package config
