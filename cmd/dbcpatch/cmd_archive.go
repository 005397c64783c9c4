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

	"github.com/AleutianAI/dbcpatch/pkg/logging"
	"github.com/AleutianAI/dbcpatch/services/archive"
	"github.com/AleutianAI/dbcpatch/services/patch"
)

// ArchiveResult is the data of the archive command.
type ArchiveResult struct {
	Backend string   `json:"backend"`
	Objects []string `json:"objects"`
}

// runArchive uploads a patch document and descriptor files.
func runArchive(ctx context.Context, a *app, args []string) (any, bool, error) {
	doc, err := patch.ReadFile(args[0])
	if err != nil {
		return nil, false, err
	}

	store, closeStore, err := openArchiveStore(ctx, a)
	if err != nil {
		return nil, false, err
	}
	defer closeStore()

	archiver, err := archive.New(store, a.logger, archive.WithPrefix(a.cfg.Archive.Prefix))
	if err != nil {
		return nil, false, err
	}
	names, err := archiver.ArchiveDocument(ctx, doc, args[1:]...)
	if err != nil {
		return nil, false, fmt.Errorf("archive: %w", err)
	}

	data := ArchiveResult{Backend: a.cfg.Archive.Backend, Objects: names}
	if a.human() {
		for _, n := range names {
			a.printer.Success(n)
		}
	}
	return data, false, nil
}

// openArchiveStore is replaced in tests.
var openArchiveStore = func(ctx context.Context, a *app) (archive.Store, func(), error) {
	cfg := a.cfg.Archive
	switch cfg.Backend {
	case "gcs":
		g, err := archive.NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	case "dir", "":
		return archive.Dir{Root: logging.ExpandPath(cfg.Dir)}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}
