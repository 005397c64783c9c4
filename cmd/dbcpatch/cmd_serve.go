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

	"github.com/AleutianAI/dbcpatch/services/patchd"
)

// runServe starts the HTTP service and blocks until interrupted.
func runServe(ctx context.Context, a *app, _ []string) (any, bool, error) {
	cfg := a.cfg.Server
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	srv, err := patchd.New(cfg, patchd.Dependencies{
		Codec:    a.codec,
		Catalog:  a.catalog,
		History:  a.history,
		Workflow: a.cfg.Workflow.Patch(),
		Logger:   a.logger,
	})
	if err != nil {
		return nil, false, err
	}
	if a.human() {
		a.printer.Info(fmt.Sprintf("Serving on http://%s", cfg.Addr))
	}
	if err := srv.Run(ctx); err != nil {
		return nil, false, err
	}
	return map[string]string{"addr": cfg.Addr}, false, nil
}
