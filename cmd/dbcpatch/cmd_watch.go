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

	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/watch"
)

// WatchResult is the data of the watch command, reported after it stops.
type WatchResult struct {
	Runs      int `json:"runs"`
	Failures  int `json:"failures"`
	Conflicts int `json:"conflicts"`
}

// runWatch runs the direct patch once, then again whenever one of the three
// inputs changes, until interrupted.
func runWatch(ctx context.Context, a *app, args []string) (any, bool, error) {
	w := a.workflow(nil)
	req := patch.DirectRequest{
		RawOld:     args[0],
		CleanedOld: args[1],
		RawNew:     args[2],
		Output:     watchOutput,
		PatchOut:   watchPatchOut,
	}

	var stats WatchResult
	once := func(ctx context.Context, changed []string) {
		stats.Runs++
		res, err := w.Direct(ctx, req)
		if err != nil {
			stats.Failures++
			a.logger.Error("direct patch failed", "changed", changed, "error", err)
			if a.human() {
				a.printer.Error(err.Error())
			}
			return
		}
		conflicts := len(res.Result.Report.Conflicts)
		stats.Conflicts += conflicts
		a.logger.Info("direct patch written",
			"changed", changed,
			"output", req.Output,
			"rules", len(res.Document.Rules),
			"conflicts", conflicts)
		if a.human() {
			printApply(a.printer, &ApplyResult{
				Output:  req.Output,
				Written: true,
				Rules:   len(res.Document.Rules),
				Report:  res.Result.Report,
			})
		}
	}

	watcher, err := watch.New([]string{req.RawOld, req.CleanedOld, req.RawNew}, once, watch.Options{
		Debounce: a.cfg.Watch.Debounce,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, false, err
	}

	once(ctx, nil)
	if a.human() {
		a.printer.Muted("Watching for changes, press Ctrl+C to stop")
	}
	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return stats, false, err
	}
	return stats, stats.Conflicts > 0, nil
}
