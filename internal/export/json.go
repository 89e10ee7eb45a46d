// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter exports transcripts to JSON. JSON exports always include
// the complete durable data regardless of options, so the output is a
// faithful representation that can be re-imported.
type JSONExporter struct{}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(_ *Options) *JSONExporter {
	return &JSONExporter{}
}

// Export converts a transcript to indented JSON.
func (e *JSONExporter) Export(t *Transcript) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("transcript is nil")
	}
	return json.MarshalIndent(t, "", "  ")
}

// FileExtension returns the extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}
