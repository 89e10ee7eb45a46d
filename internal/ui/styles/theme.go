// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for secondbrain-tui.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the application. It detects the
// terminal's color capability and adjusts accordingly.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	// Message rendering
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	SystemLabel    lipgloss.Style
	PendingText    lipgloss.Style

	// Process timeline
	ThinkingText   lipgloss.Style
	ThinkingDone   lipgloss.Style
	ToolExecuting  lipgloss.Style
	ToolCompleted  lipgloss.Style
	NoteText       lipgloss.Style

	// Chrome
	StatusBar    lipgloss.Style
	StatusTokens lipgloss.Style
	ErrorBox     lipgloss.Style
	InputPrompt  lipgloss.Style
	Spinner      lipgloss.Style
}

// New builds a theme for the given mode: "dark", "light", or "auto".
func New(mode string) *Theme {
	isDark := mode == "dark"
	if mode == "auto" {
		isDark = termenv.HasDarkBackground()
	}

	var (
		accent  = lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#5FD7FF"}
		user    = lipgloss.AdaptiveColor{Light: "#87005F", Dark: "#FF87D7"}
		subtle  = lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"}
		good    = lipgloss.AdaptiveColor{Light: "#005F00", Dark: "#87D787"}
		warning = lipgloss.AdaptiveColor{Light: "#AF5F00", Dark: "#FFD787"}
		danger  = lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"}
	)

	return &Theme{
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),

		UserLabel:      lipgloss.NewStyle().Bold(true).Foreground(user),
		AssistantLabel: lipgloss.NewStyle().Bold(true).Foreground(accent),
		SystemLabel:    lipgloss.NewStyle().Bold(true).Foreground(subtle),
		PendingText:    lipgloss.NewStyle().Faint(true),

		ThinkingText:  lipgloss.NewStyle().Italic(true).Foreground(subtle),
		ThinkingDone:  lipgloss.NewStyle().Foreground(subtle),
		ToolExecuting: lipgloss.NewStyle().Foreground(warning),
		ToolCompleted: lipgloss.NewStyle().Foreground(good),
		NoteText:      lipgloss.NewStyle().Faint(true).Foreground(subtle),

		StatusBar:    lipgloss.NewStyle().Faint(true),
		StatusTokens: lipgloss.NewStyle().Foreground(subtle),
		ErrorBox: lipgloss.NewStyle().
			Foreground(danger).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(danger).
			Padding(0, 1),
		InputPrompt: lipgloss.NewStyle().Bold(true).Foreground(accent),
		Spinner:     lipgloss.NewStyle().Foreground(accent),
	}
}

// Truncate shortens a string to the given display width, appending an
// ellipsis when it was cut. Width is measured in terminal cells, so wide
// runes count double.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 1 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "…")
}
