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
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
	"github.com/AleutianAI/dbcpatch/pkg/matrix/dbc"
	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/reference"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HandleHealth handles GET /health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Clients: s.hub.Clients(),
	})
}

// HandleDiff handles POST /v1/diff.
//
// Description:
//
//	Parses both descriptors and returns the patch document that turns the
//	raw one into the cleaned one, with a per-rule summary.
//
// Request Body:
//
//	DiffRequest
//
// Response:
//
//	200 OK: DiffResponse
//	400 Bad Request: Invalid body
//	422 Unprocessable Entity: A descriptor does not parse
func (s *Server) HandleDiff(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleDiff")

	var req DiffRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	raw, ok := s.parse(c, logger, req.Raw)
	if !ok {
		return
	}
	cleaned, ok := s.parse(c, logger, req.Cleaned)
	if !ok {
		return
	}

	wf := s.workflow(overrides{embedPayloads: req.EmbedPayloads, embedReference: req.EmbedReference})
	doc, err := wf.GenerateModels(c.Request.Context(), raw, cleaned)
	if err != nil {
		logger.Error("Diff failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "DIFF_FAILED",
		})
		return
	}

	logger.Info("Patch generated", "rules", len(doc.Rules))
	c.JSON(http.StatusOK, DiffResponse{
		Document: doc,
		Summary:  summarize(doc),
		Counts:   doc.Counts(),
	})
}

// HandleApply handles POST /v1/apply.
//
// Description:
//
//	Replays a patch document against the target descriptor and returns the
//	report with the rebuilt descriptor text. Conflicts are reported, not
//	treated as errors.
//
// Request Body:
//
//	ApplyRequest
//
// Response:
//
//	200 OK: ApplyResponse
//	400 Bad Request: Invalid body or malformed document
//	422 Unprocessable Entity: Target does not parse or unsupported version
//	500 Internal Server Error: Rebuild failure
func (s *Server) HandleApply(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleApply")

	var req ApplyRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	doc, err := patch.Decode(bytes.NewReader(req.Document))
	if err != nil {
		statusCode := http.StatusBadRequest
		errCode := "MALFORMED_DOCUMENT"
		if errors.Is(err, patch.ErrUnsupportedVersion) {
			statusCode = http.StatusUnprocessableEntity
			errCode = "UNSUPPORTED_VERSION"
		}
		logger.Warn("Patch document rejected", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error:   "Patch document rejected",
			Code:    errCode,
			Details: err.Error(),
		})
		return
	}

	target, ok := s.parse(c, logger, req.Target)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	result, err := s.workflow(overrides{force: req.Force}).ApplyModel(ctx, target, doc)
	if err != nil {
		logger.Error("Apply failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "REBUILD_FAILED",
		})
		return
	}

	report := result.Report
	if err := s.audit.Log(ctx, patch.ActionApplyPatch, map[string]any{
		"target":    req.Target.Name,
		"applied":   len(report.Applied),
		"skipped":   len(report.Skipped),
		"conflicts": len(report.Conflicts),
		"written":   false,
	}); err != nil {
		logger.Warn("Audit entry not recorded", "error", err)
	}

	logger.Info("Patch applied",
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"conflicts", len(report.Conflicts))
	c.JSON(http.StatusOK, ApplyResponse{
		Report: report,
		Output: string(dbc.Format(result.Model)),
	})
}

// HandleDirect handles POST /v1/direct.
//
// Description:
//
//	Derives the patch between raw_old and cleaned_old and applies it to
//	raw_new in one call.
//
// Response:
//
//	200 OK: DirectResponse
//	400 Bad Request: Invalid body
//	422 Unprocessable Entity: A descriptor does not parse
//	500 Internal Server Error: Rebuild failure
func (s *Server) HandleDirect(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleDirect")

	var req DirectRequest
	if !bindJSON(c, logger, &req) {
		return
	}

	models := make([]*matrix.Matrix, 0, 3)
	for _, d := range []Descriptor{req.RawOld, req.CleanedOld, req.RawNew} {
		m, ok := s.parse(c, logger, d)
		if !ok {
			return
		}
		models = append(models, m)
	}

	out, err := s.workflow(overrides{force: req.Force}).DirectModels(c.Request.Context(), models[0], models[1], models[2])
	if err != nil {
		logger.Error("Direct patch failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "REBUILD_FAILED",
		})
		return
	}

	logger.Info("Direct patch completed",
		"rules", len(out.Document.Rules),
		"conflicts", len(out.Result.Report.Conflicts))
	c.JSON(http.StatusOK, DirectResponse{
		Document: out.Document,
		Report:   out.Result.Report,
		Output:   string(dbc.Format(out.Result.Model)),
	})
}

// HandleReferenceSearch handles GET /v1/reference/search?q=term.
func (s *Server) HandleReferenceSearch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleReferenceSearch")

	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		logger.Warn("Missing search term")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Query parameter q is required",
			Code:  "MISSING_QUERY",
		})
		return
	}

	hits := s.catalog.Search(term)
	if hits == nil {
		hits = []reference.Hit{}
	}
	c.JSON(http.StatusOK, SearchResponse{Query: term, Hits: hits})
}

// HandleReferenceStats handles GET /v1/reference/stats.
func (s *Server) HandleReferenceStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog.Stats())
}

// HandleReferenceImport handles POST /v1/reference/import.
//
// Description:
//
//	Imports every message and signal of the descriptor into the reference
//	catalog, overwriting entries with the same keys. The catalog file is
//	only rewritten when save is set.
//
// Response:
//
//	200 OK: ImportResponse
//	400 Bad Request: Invalid body
//	422 Unprocessable Entity: Descriptor does not parse
//	500 Internal Server Error: Catalog could not be saved
func (s *Server) HandleReferenceImport(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleReferenceImport")

	var req ImportRequest
	if !bindJSON(c, logger, &req) {
		return
	}
	m, ok := s.parse(c, logger, req.Descriptor)
	if !ok {
		return
	}

	signals, messages := s.catalog.Import(m)
	if req.Save {
		if err := s.catalog.Save(); err != nil {
			logger.Error("Catalog save failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error: err.Error(),
				Code:  "SAVE_FAILED",
			})
			return
		}
	}

	s.hub.Publish(Event{
		Type:      EventReferenceImported,
		RequestID: requestID,
		Details: map[string]any{
			"source":   req.Descriptor.Name,
			"signals":  signals,
			"messages": messages,
			"saved":    req.Save,
		},
	})
	c.JSON(http.StatusOK, ImportResponse{
		Signals:  signals,
		Messages: messages,
		Stats:    s.catalog.Stats(),
	})
}

// HandleHistory handles GET /v1/history?limit=N.
//
// Entries are returned newest first. limit defaults to 50 and is capped at
// 1000.
func (s *Server) HandleHistory(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := s.logger.With("request_id", requestID, "handler", "HandleHistory")

	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("History listing failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "HISTORY_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, HistoryResponse{Entries: entries})
}

// parse resolves a descriptor through the cache and writes a 422 response
// when it does not parse.
func (s *Server) parse(c *gin.Context, logger *slog.Logger, d Descriptor) (*matrix.Matrix, bool) {
	m, err := s.cache.parse(d)
	if err != nil {
		logger.Warn("Descriptor does not parse", "name", d.Name, "error", err)
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "Descriptor does not parse",
			Code:    "PARSE_FAILED",
			Details: err.Error(),
		})
		return nil, false
	}
	return m, true
}

func bindJSON(c *gin.Context, logger *slog.Logger, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		logger.Warn("Request body too large", "limit", tooLarge.Limit)
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "Request body too large",
			Code:  "BODY_TOO_LARGE",
		})
		return false
	}
	logger.Warn("Invalid request body", "error", err)
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "Invalid request body",
		Code:    "INVALID_REQUEST",
		Details: err.Error(),
	})
	return false
}

func summarize(doc *patch.Document) []RuleSummary {
	out := make([]RuleSummary, 0, len(doc.Rules))
	for i, r := range doc.Rules {
		op, target := patch.Summary(r)
		out = append(out, RuleSummary{Index: i, Op: op, Target: target})
	}
	return out
}
