// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patchd

import (
	"encoding/json"

	"github.com/AleutianAI/dbcpatch/services/history"
	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/reference"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Clients int    `json:"event_clients"`
}

// Descriptor is DBC text submitted inline.
type Descriptor struct {
	// Name labels the descriptor in logs and audit entries.
	Name string `json:"name"`

	// Content is the DBC text.
	Content string `json:"content" binding:"required"`
}

// DiffRequest is the body of POST /v1/diff.
type DiffRequest struct {
	Raw            Descriptor `json:"raw"`
	Cleaned        Descriptor `json:"cleaned"`
	EmbedPayloads  bool       `json:"embed_payloads"`
	EmbedReference bool       `json:"embed_reference"`
}

// RuleSummary is the tabular form of one rule.
type RuleSummary struct {
	Index  int    `json:"index"`
	Op     string `json:"op"`
	Target string `json:"target"`
}

// DiffResponse carries the generated document.
type DiffResponse struct {
	Document *patch.Document  `json:"document"`
	Summary  []RuleSummary    `json:"summary"`
	Counts   map[patch.Op]int `json:"counts"`
}

// ApplyRequest is the body of POST /v1/apply. Document holds a patch
// document in its JSON form; it is decoded after binding so version errors
// are reported apart from malformed bodies.
type ApplyRequest struct {
	Target   Descriptor      `json:"target"`
	Document json.RawMessage `json:"document" binding:"required"`
	Force    bool            `json:"force"`
}

// ApplyResponse carries the report and the patched descriptor text.
type ApplyResponse struct {
	Report patch.Report `json:"report"`
	Output string       `json:"output"`
}

// DirectRequest is the body of POST /v1/direct.
type DirectRequest struct {
	RawOld     Descriptor `json:"raw_old"`
	CleanedOld Descriptor `json:"cleaned_old"`
	RawNew     Descriptor `json:"raw_new"`
	Force      bool       `json:"force"`
}

// DirectResponse carries the intermediate document, the report and the
// patched descriptor text.
type DirectResponse struct {
	Document *patch.Document `json:"document"`
	Report   patch.Report    `json:"report"`
	Output   string          `json:"output"`
}

// ImportRequest is the body of POST /v1/reference/import.
type ImportRequest struct {
	Descriptor Descriptor `json:"descriptor"`

	// Save persists the catalog after the import.
	Save bool `json:"save"`
}

// ImportResponse reports what an import stored.
type ImportResponse struct {
	Signals  int             `json:"signals"`
	Messages int             `json:"messages"`
	Stats    reference.Stats `json:"stats"`
}

// SearchResponse is returned by GET /v1/reference/search.
type SearchResponse struct {
	Query string          `json:"query"`
	Hits  []reference.Hit `json:"hits"`
}

// HistoryResponse is returned by GET /v1/history.
type HistoryResponse struct {
	Entries []history.Entry `json:"entries"`
}
