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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/dbcpatch/services/history"
	"github.com/AleutianAI/dbcpatch/services/reference"
)

// ReferenceImportResult is the data of "reference import".
type ReferenceImportResult struct {
	Source   string          `json:"source"`
	Signals  int             `json:"signals"`
	Messages int             `json:"messages"`
	Stats    reference.Stats `json:"stats"`
}

// ReferenceSearchResult is the data of "reference search".
type ReferenceSearchResult struct {
	Query string          `json:"query"`
	Hits  []reference.Hit `json:"hits"`
}

// HistoryListResult is the data of "history list".
type HistoryListResult struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

func runReferenceImport(_ context.Context, a *app, args []string) (any, bool, error) {
	m, err := a.codec.Load(args[0])
	if err != nil {
		return nil, false, err
	}
	signals, messages := a.catalog.Import(m)
	if err := a.catalog.Save(); err != nil {
		return nil, false, fmt.Errorf("save catalog: %w", err)
	}

	data := ReferenceImportResult{Source: args[0], Signals: signals, Messages: messages, Stats: a.catalog.Stats()}
	if a.human() {
		a.printer.Success(fmt.Sprintf("Imported %d signals and %d messages from %s", signals, messages, args[0]))
		a.printer.KeyValues([][2]string{
			{"Catalog", data.Stats.Path},
			{"Signals", strconv.Itoa(data.Stats.Signals)},
			{"Messages", strconv.Itoa(data.Stats.Messages)},
		})
	}
	return data, false, nil
}

func runReferenceSearch(_ context.Context, a *app, args []string) (any, bool, error) {
	hits := a.catalog.Search(args[0])
	if hits == nil {
		hits = []reference.Hit{}
	}
	data := ReferenceSearchResult{Query: args[0], Hits: hits}
	if a.human() {
		if len(hits) == 0 {
			a.printer.Info(fmt.Sprintf("No catalog entries match %q", args[0]))
			return data, false, nil
		}
		rows := make([][]string, 0, len(hits))
		for _, h := range hits {
			rows = append(rows, []string{h.Kind, h.Name, h.MessageID})
		}
		a.printer.Table([]string{"Kind", "Name", "Message"}, rows)
	}
	return data, false, nil
}

func runReferenceExport(_ context.Context, a *app, args []string) (any, bool, error) {
	if err := a.catalog.Export(args[0]); err != nil {
		return nil, false, err
	}
	stats := a.catalog.Stats()
	if a.human() {
		a.printer.Success(fmt.Sprintf("Exported %d signals and %d messages to %s", stats.Signals, stats.Messages, args[0]))
	}
	return map[string]any{"output": args[0], "stats": stats}, false, nil
}

func runReferenceStats(_ context.Context, a *app, _ []string) (any, bool, error) {
	stats := a.catalog.Stats()
	if a.human() {
		a.printer.KeyValues([][2]string{
			{"Catalog", stats.Path},
			{"Signals", strconv.Itoa(stats.Signals)},
			{"Messages", strconv.Itoa(stats.Messages)},
		})
	}
	return stats, false, nil
}

func runHistoryList(ctx context.Context, a *app, _ []string) (any, bool, error) {
	if historyLimit <= 0 {
		return nil, false, fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}
	entries, err := a.history.List(ctx, historyLimit)
	if err != nil {
		return nil, false, fmt.Errorf("list history: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	data := HistoryListResult{Entries: entries, Count: len(entries)}

	if a.human() {
		if len(entries) == 0 {
			a.printer.Info("No history yet")
			return data, false, nil
		}
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, []string{e.Timestamp.Local().Format(time.DateTime), e.Action, formatDetails(e.Details)})
		}
		a.printer.Table([]string{"Time", "Action", "Details"}, rows)
	}
	return data, false, nil
}

func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}

