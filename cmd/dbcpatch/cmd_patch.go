// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
	"github.com/AleutianAI/dbcpatch/pkg/ux"
	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/preview"
	"github.com/AleutianAI/dbcpatch/services/review"
)

var (
	errOverwriteDeclined = errors.New("output exists and overwrite was declined")
	errNoOutput          = errors.New("--output is required unless --dry-run is set")
	errNotInteractive    = errors.New("interactive review needs a terminal")
)

// DiffResult is the data of the diff command.
type DiffResult struct {
	Output   string           `json:"output,omitempty"`
	Rules    int              `json:"rules"`
	Counts   map[patch.Op]int `json:"counts"`
	Document *patch.Document  `json:"document,omitempty"`
	Summary  []RuleSummary    `json:"summary"`
}

// RuleSummary is one row of a rule table.
type RuleSummary struct {
	Index     int    `json:"index"`
	Op        string `json:"op"`
	Target    string `json:"target"`
	MessageID string `json:"message_id"`
}

// ApplyResult is the data of the apply and direct commands.
type ApplyResult struct {
	Output   string           `json:"output,omitempty"`
	PatchOut string           `json:"patch_out,omitempty"`
	Written  bool             `json:"written"`
	DryRun   bool             `json:"dry_run,omitempty"`
	Rules    int              `json:"rules"`
	Report   patch.Report     `json:"report"`
	Preview  *preview.Preview `json:"preview,omitempty"`
}

// ReviewResult is the data of the review command.
type ReviewResult struct {
	Output   string `json:"output"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Skipped  int    `json:"skipped"`
}

// =============================================================================
// diff
// =============================================================================

// runDiff generates a patch from a raw and a cleaned descriptor. Without
// --output the document itself is written to stdout.
func runDiff(ctx context.Context, a *app, args []string) (any, bool, error) {
	w := a.workflow(func(wc *patch.WorkflowConfig) {
		if diffPayloads {
			wc.EmbedPayloads = true
		}
		if diffNoReference {
			wc.EmbedReference = false
		}
	})
	doc, err := w.Generate(ctx, args[0], args[1])
	if err != nil {
		return nil, false, err
	}

	data := DiffResult{
		Output:  diffOutput,
		Rules:   len(doc.Rules),
		Counts:  doc.Counts(),
		Summary: summarize(doc),
	}

	if diffOutput == "" {
		data.Document = doc
		if !a.out.JSON && !a.out.Quiet {
			if err := patch.Encode(stdout, doc); err != nil {
				return nil, false, err
			}
		}
		return data, false, nil
	}

	if err := confirmOverwrite(a, diffOutput, false); err != nil {
		return nil, false, err
	}
	if err := patch.WriteFile(diffOutput, doc); err != nil {
		return nil, false, fmt.Errorf("write patch: %w", err)
	}
	if a.human() {
		a.printer.Title("Patch generated")
		printRules(a.printer, data.Summary)
		a.printer.Success(fmt.Sprintf("%d rules written to %s", len(doc.Rules), diffOutput))
	}
	return data, false, nil
}

// =============================================================================
// apply
// =============================================================================

// runApply applies a patch document to a target descriptor.
//
// # Exit Codes
//
//   - 0: Every rule applied or was skipped
//   - 1: At least one rule conflicted
//   - 2: Error, including a refused write
func runApply(ctx context.Context, a *app, args []string) (any, bool, error) {
	targetPath, patchPath := args[0], args[1]
	if applyOutput == "" && !applyDryRun {
		return nil, false, errNoOutput
	}

	doc, err := patch.ReadFile(patchPath)
	if err != nil {
		return nil, false, err
	}
	if applyReview {
		if doc, err = reviewDocument(doc); err != nil {
			return nil, false, err
		}
	}

	w := a.workflow(func(wc *patch.WorkflowConfig) {
		if applyForce {
			wc.Force = true
		}
		if applyRefuse {
			wc.RefuseOnConflict = true
		}
	})

	var target *matrix.Matrix
	if applyDryRun || applyPreview {
		if target, err = a.codec.Load(targetPath); err != nil {
			return nil, false, err
		}
	}

	data := ApplyResult{Output: applyOutput, Rules: len(doc.Rules), DryRun: applyDryRun}
	var result *patch.Result
	if applyDryRun {
		result, err = w.ApplyModel(ctx, target, doc)
		if err != nil {
			return nil, false, err
		}
	} else {
		if err := confirmOverwrite(a, applyOutput, applyYes); err != nil {
			return nil, false, err
		}
		result, err = w.Apply(ctx, targetPath, doc, applyOutput)
		if result == nil {
			return nil, false, err
		}
		data.Written = err == nil
	}
	data.Report = result.Report

	if applyPreview || applyDryRun {
		p, perr := preview.Models(targetPath, target, outputName(applyOutput), result.Model)
		if perr != nil {
			return nil, false, perr
		}
		data.Preview = p
	}

	if a.human() {
		printApply(a.printer, &data)
	}
	return data, result.Report.HasConflicts(), err
}

// =============================================================================
// direct
// =============================================================================

// runDirect derives the patch between the old pair and applies it to the new
// raw descriptor in one step.
func runDirect(ctx context.Context, a *app, args []string) (any, bool, error) {
	if err := confirmOverwrite(a, directOutput, directYes); err != nil {
		return nil, false, err
	}
	w := a.workflow(func(wc *patch.WorkflowConfig) {
		if directForce {
			wc.Force = true
		}
	})
	res, err := w.Direct(ctx, patch.DirectRequest{
		RawOld:     args[0],
		CleanedOld: args[1],
		RawNew:     args[2],
		Output:     directOutput,
		PatchOut:   directPatchOut,
	})
	if res == nil || res.Result == nil {
		return nil, false, err
	}

	data := ApplyResult{
		Output:   directOutput,
		PatchOut: directPatchOut,
		Written:  err == nil,
		Rules:    len(res.Document.Rules),
		Report:   res.Result.Report,
	}
	if directPreview {
		before, lerr := a.codec.Load(args[2])
		if lerr != nil {
			return nil, false, lerr
		}
		p, perr := preview.Models(args[2], before, directOutput, res.Result.Model)
		if perr != nil {
			return nil, false, perr
		}
		data.Preview = p
	}

	if a.human() {
		printRules(a.printer, summarize(res.Document))
		printApply(a.printer, &data)
	}
	return data, res.Result.Report.HasConflicts(), err
}

// =============================================================================
// review
// =============================================================================

// runReview keeps only the rules the user accepts.
func runReview(_ context.Context, a *app, args []string) (any, bool, error) {
	doc, err := patch.ReadFile(args[0])
	if err != nil {
		return nil, false, err
	}
	res, err := runReviewUI(doc)
	if err != nil {
		return nil, false, err
	}

	out := reviewOutput
	if out == "" {
		out = args[0]
	}
	if err := patch.WriteFile(out, res.Document()); err != nil {
		return nil, false, fmt.Errorf("write patch: %w", err)
	}

	counts := res.Counts()
	data := ReviewResult{
		Output:   out,
		Accepted: counts[review.DecisionAccept],
		Rejected: counts[review.DecisionReject],
		Skipped:  counts[review.DecisionSkip] + counts[review.DecisionPending],
	}
	if a.human() {
		a.printer.Summary(
			ux.Count{Label: "accepted", Value: data.Accepted, Icon: ux.IconSuccess},
			ux.Count{Label: "rejected", Value: data.Rejected, Icon: ux.IconError},
			ux.Count{Label: "skipped", Value: data.Skipped, Icon: ux.IconPending},
		)
		a.printer.Success("Reviewed patch written to " + out)
	}
	return data, false, nil
}

func reviewDocument(doc *patch.Document) (*patch.Document, error) {
	res, err := runReviewUI(doc)
	if err != nil {
		return nil, err
	}
	return res.Document(), nil
}

// runReviewUI is replaced in tests.
var runReviewUI = func(doc *patch.Document) (*review.Result, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return nil, errNotInteractive
	}
	return review.Run(doc, review.DefaultConfig())
}

// =============================================================================
// Helpers
// =============================================================================

// confirmOverwrite asks before replacing an existing file on an interactive
// terminal. Non-interactive runs overwrite.
func confirmOverwrite(a *app, path string, yes bool) error {
	if yes || path == "" || a.printer.Mode() != ux.ModeRich || a.out.JSON || a.out.Quiet {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}

	confirmed := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("%s already exists. Overwrite it?", path)).
		Affirmative("Overwrite").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	if err != nil {
		return fmt.Errorf("confirm overwrite: %w", err)
	}
	if !confirmed {
		return errOverwriteDeclined
	}
	return nil
}

func summarize(doc *patch.Document) []RuleSummary {
	out := make([]RuleSummary, 0, len(doc.Rules))
	for i, r := range doc.Rules {
		op, target := patch.Summary(r)
		out = append(out, RuleSummary{Index: i, Op: op, Target: target, MessageID: r.MessageID()})
	}
	return out
}

func outputName(path string) string {
	if path == "" {
		return "patched"
	}
	return path
}
