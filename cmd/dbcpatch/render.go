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
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/dbcpatch/pkg/ux"
	"github.com/AleutianAI/dbcpatch/services/patch"
)

func printRules(p *ux.Printer, rules []RuleSummary) {
	if len(rules) == 0 {
		p.Info("No differences found")
		return
	}
	rows := make([][]string, 0, len(rules))
	for _, r := range rules {
		rows = append(rows, []string{strconv.Itoa(r.Index + 1), r.Op, r.MessageID, r.Target})
	}
	p.Table([]string{"#", "Op", "Message", "Target"}, rows)
}

func printApply(p *ux.Printer, data *ApplyResult) {
	report := &data.Report
	p.Summary(
		ux.Count{Label: "applied", Value: len(report.Applied), Icon: ux.IconSuccess},
		ux.Count{Label: "skipped", Value: len(report.Skipped), Icon: ux.IconPending},
		ux.Count{Label: "conflicts", Value: len(report.Conflicts), Icon: conflictIcon(report)},
	)

	if len(report.Skipped) > 0 {
		p.Table([]string{"#", "Op", "Target", "Skipped because"}, outcomeRows(report.Skipped))
	}
	if report.HasConflicts() {
		p.Table([]string{"#", "Op", "Target", "Conflict"}, outcomeRows(report.Conflicts))
	}

	if data.Preview != nil {
		if data.Preview.Empty() {
			p.Muted("Descriptor text unchanged")
		} else {
			p.Box(fmt.Sprintf("%s → %s  (+%d -%d)", data.Preview.From, data.Preview.To,
				data.Preview.Added, data.Preview.Removed), strings.TrimRight(data.Preview.Unified, "\n"))
		}
	}

	switch {
	case data.Written && report.HasConflicts():
		p.Warning(fmt.Sprintf("Written to %s with %d conflicts", data.Output, len(report.Conflicts)))
	case data.Written:
		p.Success("Written to " + data.Output)
	case data.DryRun:
		p.Info("Dry run, nothing written")
	}
	if data.PatchOut != "" && data.Written {
		p.Muted("Patch exported to " + data.PatchOut)
	}
}

func outcomeRows(outcomes []patch.Outcome) [][]string {
	rows := make([][]string, 0, len(outcomes))
	for _, o := range outcomes {
		op, target := patch.Summary(o.Rule)
		rows = append(rows, []string{strconv.Itoa(o.Index + 1), op, target, o.Reason})
	}
	return rows
}

func conflictIcon(r *patch.Report) ux.Icon {
	if r.HasConflicts() {
		return ux.IconError
	}
	return ux.IconSuccess
}
