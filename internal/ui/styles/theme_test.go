// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "testing"

func TestNewThemeModes(t *testing.T) {
	if th := New("dark"); !th.IsDark {
		t.Error("dark mode must produce a dark theme")
	}
	if th := New("light"); th.IsDark {
		t.Error("light mode must produce a light theme")
	}
	// auto just needs to not panic off-terminal
	_ = New("auto")
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello w…"},
		{"hello", 0, ""},
		{"日本語テキスト", 6, "日本…"},
	}
	for _, tc := range cases {
		if got := Truncate(tc.in, tc.width); got != tc.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.in, tc.width, got, tc.want)
		}
	}
}
