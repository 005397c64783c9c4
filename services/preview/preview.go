// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package preview renders the textual change a patch makes to a descriptor
// as a unified diff of the DBC text.
package preview

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
	"github.com/AleutianAI/dbcpatch/pkg/matrix/dbc"
)

// DefaultContext is the number of unchanged lines shown around a change.
const DefaultContext = 3

// Preview is the line diff between two descriptor texts.
type Preview struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Unified string `json:"unified"`
	Hunks   int    `json:"hunks"`
	Added   int    `json:"lines_added"`
	Removed int    `json:"lines_removed"`
}

// Empty reports whether the texts were identical.
func (p *Preview) Empty() bool {
	return p.Unified == ""
}

// Models formats both models and diffs the text.
func Models(fromName string, before *matrix.Matrix, toName string, after *matrix.Matrix) (*Preview, error) {
	return Text(fromName, dbc.Format(before), toName, dbc.Format(after), DefaultContext)
}

// Text diffs two texts. context is the number of unchanged lines kept
// around each change.
func Text(fromName string, before []byte, toName string, after []byte, context int) (*Preview, error) {
	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  context,
	})
	if err != nil {
		return nil, fmt.Errorf("compute diff: %w", err)
	}

	p := &Preview{From: fromName, To: toName, Unified: unified}
	if unified == "" {
		return p, nil
	}

	fd, err := diff.ParseFileDiff([]byte(unified))
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	p.Hunks = len(fd.Hunks)
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				p.Added++
			case strings.HasPrefix(line, "-"):
				p.Removed++
			}
		}
	}
	return p, nil
}
