// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// Audit log actions written by the workflows.
const (
	ActionGeneratePatch = "generate_patch"
	ActionApplyPatch    = "apply_patch"
	ActionDirectPatch   = "direct_patch"
)

// ErrConflictsRefused is returned when a batch produced conflicts and the
// workflow is configured not to write such output.
var ErrConflictsRefused = errors.New("patch produced conflicts; output not written")

// DescriptorStore loads, saves and rebuilds descriptor models.
type DescriptorStore interface {
	Load(path string) (*matrix.Matrix, error)
	Save(path string, m *matrix.Matrix, validate bool) error
	Rebuild(m *matrix.Matrix) (*matrix.Matrix, error)
}

// CatalogStore is a Catalog that can learn from models and persist itself.
type CatalogStore interface {
	Catalog
	Import(m *matrix.Matrix) (signals, messages int)
	Save() error
}

// AuditLog records workflow runs.
type AuditLog interface {
	Log(ctx context.Context, action string, details map[string]any) error
}

// WorkflowConfig holds the toggles of the patch workflows.
type WorkflowConfig struct {
	// EmbedPayloads embeds cleaned definitions into creation rules.
	EmbedPayloads bool

	// EmbedReference fills missing creation payloads from the catalog.
	EmbedReference bool

	// AutoUpdateReference imports every cleaned model into the catalog.
	AutoUpdateReference bool

	// Validate re-parses written descriptors.
	Validate bool

	// Force overwrites drifted values instead of reporting conflicts.
	Force bool

	// RefuseOnConflict keeps the output file unwritten when any rule
	// conflicted.
	RefuseOnConflict bool
}

// Workflow ties the diff engine and the applier to descriptor files, the
// reference catalog and the audit log.
type Workflow struct {
	store   DescriptorStore
	catalog CatalogStore
	audit   AuditLog
	config  WorkflowConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewWorkflow creates a Workflow. catalog and audit may be nil.
func NewWorkflow(store DescriptorStore, catalog CatalogStore, audit AuditLog, config WorkflowConfig, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:   store,
		catalog: catalog,
		audit:   audit,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Config returns the workflow toggles.
func (w *Workflow) Config() WorkflowConfig {
	return w.config
}

// Generate loads raw and cleaned descriptors and returns the patch between
// them.
func (w *Workflow) Generate(ctx context.Context, rawPath, cleanedPath string) (doc *Document, err error) {
	ctx, span := startSpan(ctx, "Generate",
		attribute.String("patch.raw", rawPath),
		attribute.String("patch.cleaned", cleanedPath))
	defer func() { endSpan(span, err) }()

	models, err := w.loadAll(ctx, rawPath, cleanedPath)
	if err != nil {
		workflowErrors.WithLabelValues("generate").Inc()
		return nil, err
	}
	return w.GenerateModels(ctx, models[0], models[1])
}

// GenerateModels diffs two loaded models. When configured, the cleaned model
// is imported into the catalog first so the document can reference it.
func (w *Workflow) GenerateModels(ctx context.Context, raw, cleaned *matrix.Matrix) (*Document, error) {
	start := time.Now()
	defer func() { workflowDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds()) }()

	if w.config.AutoUpdateReference {
		w.updateCatalog(cleaned)
	}
	doc := w.diff(raw, cleaned)

	w.record(ctx, ActionGeneratePatch, map[string]any{
		"raw":     raw.Source,
		"cleaned": cleaned.Source,
		"rules":   len(doc.Rules),
	})
	return doc, nil
}

// Apply loads the target descriptor, replays doc and writes the rebuilt
// model to outPath.
func (w *Workflow) Apply(ctx context.Context, targetPath string, doc *Document, outPath string) (result *Result, err error) {
	ctx, span := startSpan(ctx, "Apply",
		attribute.String("patch.target", targetPath),
		attribute.String("patch.output", outPath),
		attribute.Int("patch.rules", len(doc.Rules)))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() { workflowDuration.WithLabelValues("apply").Observe(time.Since(start).Seconds()) }()

	target, err := w.store.Load(targetPath)
	if err != nil {
		workflowErrors.WithLabelValues("apply").Inc()
		return nil, err
	}

	result, err = w.ApplyModel(ctx, target, doc)
	if err != nil {
		workflowErrors.WithLabelValues("apply").Inc()
		return result, err
	}
	setReportAttributes(span, &result.Report)

	err = w.write(outPath, result)
	w.record(ctx, ActionApplyPatch, map[string]any{
		"target":    targetPath,
		"output":    outPath,
		"applied":   len(result.Report.Applied),
		"skipped":   len(result.Report.Skipped),
		"conflicts": len(result.Report.Conflicts),
		"written":   err == nil,
	})
	return result, err
}

// ApplyModel replays doc against a copy of target. target is not modified.
func (w *Workflow) ApplyModel(ctx context.Context, target *matrix.Matrix, doc *Document) (*Result, error) {
	_, span := startSpan(ctx, "ApplyModel", attribute.Int("patch.rules", len(doc.Rules)))
	result, err := w.applier().Apply(target.Clone(), doc)
	if result != nil {
		setReportAttributes(span, &result.Report)
	}
	endSpan(span, err)
	return result, err
}

// DirectRequest names the files of a direct patch run.
type DirectRequest struct {
	// RawOld is the previously generated descriptor.
	RawOld string

	// CleanedOld is the hand-cleaned version of RawOld.
	CleanedOld string

	// RawNew is the newly generated descriptor to patch.
	RawNew string

	// Output receives the patched descriptor.
	Output string

	// PatchOut optionally receives the intermediate patch document.
	PatchOut string
}

// DirectResult is the outcome of a direct patch run.
type DirectResult struct {
	Document *Document
	Result   *Result
}

// Direct derives the patch between RawOld and CleanedOld and applies it to
// RawNew in one run.
//
// # Description
//
// The three descriptors are loaded concurrently. The patch is generated and
// applied in memory, the result is written to Output and, when PatchOut is
// set, the document is exported as well. One direct_patch audit entry
// records the run.
//
// # Outputs
//
//   - *DirectResult: The document and apply result. Set whenever the apply
//     ran, even if writing the output failed.
//   - error: Load, rebuild or write failure, or ErrConflictsRefused.
func (w *Workflow) Direct(ctx context.Context, req DirectRequest) (out *DirectResult, err error) {
	ctx, span := startSpan(ctx, "Direct",
		attribute.String("patch.raw_old", req.RawOld),
		attribute.String("patch.cleaned_old", req.CleanedOld),
		attribute.String("patch.raw_new", req.RawNew),
		attribute.String("patch.output", req.Output))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() {
		workflowDuration.WithLabelValues("direct").Observe(time.Since(start).Seconds())
		if err != nil {
			workflowErrors.WithLabelValues("direct").Inc()
		}
	}()

	models, err := w.loadAll(ctx, req.RawOld, req.CleanedOld, req.RawNew)
	if err != nil {
		return nil, err
	}
	out, err = w.direct(ctx, models[0], models[1], models[2])
	if err != nil {
		return out, err
	}
	doc, result := out.Document, out.Result
	setReportAttributes(span, &result.Report)

	if req.PatchOut != "" {
		if err := WriteFile(req.PatchOut, doc); err != nil {
			return out, err
		}
	}
	err = w.write(req.Output, result)

	w.record(ctx, ActionDirectPatch, map[string]any{
		"raw_old":     req.RawOld,
		"cleaned_old": req.CleanedOld,
		"raw_new":     req.RawNew,
		"output":      req.Output,
		"rules":       len(doc.Rules),
		"applied":     len(result.Report.Applied),
		"skipped":     len(result.Report.Skipped),
		"conflicts":   len(result.Report.Conflicts),
		"written":     err == nil,
	})
	return out, err
}

// DirectModels runs the direct workflow on models that are already loaded.
// Nothing is written; rawNew is not modified.
func (w *Workflow) DirectModels(ctx context.Context, rawOld, cleanedOld, rawNew *matrix.Matrix) (out *DirectResult, err error) {
	ctx, span := startSpan(ctx, "DirectModels",
		attribute.String("patch.raw_old", rawOld.Source),
		attribute.String("patch.cleaned_old", cleanedOld.Source),
		attribute.String("patch.raw_new", rawNew.Source))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() {
		workflowDuration.WithLabelValues("direct").Observe(time.Since(start).Seconds())
		if err != nil {
			workflowErrors.WithLabelValues("direct").Inc()
		}
	}()

	out, err = w.direct(ctx, rawOld, cleanedOld, rawNew)
	if err != nil {
		return out, err
	}
	report := &out.Result.Report
	setReportAttributes(span, report)

	w.record(ctx, ActionDirectPatch, map[string]any{
		"raw_old":     rawOld.Source,
		"cleaned_old": cleanedOld.Source,
		"raw_new":     rawNew.Source,
		"rules":       len(out.Document.Rules),
		"applied":     len(report.Applied),
		"skipped":     len(report.Skipped),
		"conflicts":   len(report.Conflicts),
		"written":     false,
	})
	return out, nil
}

func (w *Workflow) direct(ctx context.Context, rawOld, cleanedOld, rawNew *matrix.Matrix) (*DirectResult, error) {
	if w.config.AutoUpdateReference {
		w.updateCatalog(cleanedOld)
	}
	doc := w.diff(rawOld, cleanedOld)
	result, err := w.ApplyModel(ctx, rawNew, doc)
	return &DirectResult{Document: doc, Result: result}, err
}

func (w *Workflow) diff(raw, cleaned *matrix.Matrix) *Document {
	opts := []DiffOption{WithClock(w.now)}
	if w.config.EmbedPayloads {
		opts = append(opts, WithPayloads())
	}
	doc := Generate(raw, cleaned, opts...)
	if w.config.EmbedReference && w.catalog != nil {
		doc = EmbedReference(doc, w.catalog)
	}
	rulesGenerated.Observe(float64(len(doc.Rules)))
	w.logger.Info("patch generated",
		"raw", raw.Source,
		"cleaned", cleaned.Source,
		"rules", len(doc.Rules))
	return doc
}

func (w *Workflow) applier() *Applier {
	opts := []ApplierOption{WithLogger(w.logger)}
	if w.catalog != nil {
		opts = append(opts, WithCatalog(w.catalog))
	}
	if w.config.Force {
		opts = append(opts, WithForce())
	}
	return NewApplier(w.store, opts...)
}

func (w *Workflow) write(path string, result *Result) error {
	if result.Report.HasConflicts() && w.config.RefuseOnConflict {
		w.logger.Warn("output not written",
			"path", path,
			"conflicts", len(result.Report.Conflicts))
		return ErrConflictsRefused
	}
	if err := w.store.Save(path, result.Model, w.config.Validate); err != nil {
		return err
	}
	w.logger.Info("patched descriptor written",
		"path", path,
		"applied", len(result.Report.Applied),
		"skipped", len(result.Report.Skipped),
		"conflicts", len(result.Report.Conflicts))
	return nil
}

// loadAll loads every path concurrently, preserving order in the result.
func (w *Workflow) loadAll(ctx context.Context, paths ...string) ([]*matrix.Matrix, error) {
	models := make([]*matrix.Matrix, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m, err := w.store.Load(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			models[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return models, nil
}

func (w *Workflow) updateCatalog(m *matrix.Matrix) {
	if w.catalog == nil {
		return
	}
	signals, messages := w.catalog.Import(m)
	if err := w.catalog.Save(); err != nil {
		w.logger.Warn("reference catalog not saved", "error", err)
		return
	}
	w.logger.Debug("reference catalog updated",
		"source", m.Source,
		"signals", signals,
		"messages", messages)
}

func (w *Workflow) record(ctx context.Context, action string, details map[string]any) {
	if w.audit == nil {
		return
	}
	if err := w.audit.Log(ctx, action, details); err != nil {
		w.logger.Warn("audit entry not recorded", "action", action, "error", err)
	}
}
