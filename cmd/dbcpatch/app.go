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
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/dbcpatch/cmd/dbcpatch/config"
	"github.com/AleutianAI/dbcpatch/pkg/logging"
	"github.com/AleutianAI/dbcpatch/pkg/matrix/dbc"
	"github.com/AleutianAI/dbcpatch/pkg/telemetry"
	"github.com/AleutianAI/dbcpatch/pkg/ux"
	"github.com/AleutianAI/dbcpatch/services/history"
	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/reference"
)

// globalOptions are the persistent root flags.
type globalOptions struct {
	configPath string
	jsonOut    bool
	compact    bool
	quiet      bool
	logLevel   string
	uiMode     string
}

// app holds the collaborators shared by every command.
type app struct {
	cfg     config.DbcpatchConfig
	log     *logging.Logger
	logger  *slog.Logger
	codec   *dbc.Codec
	catalog *reference.Catalog
	history history.Store
	printer *ux.Printer
	out     OutputConfig

	shutdownTelemetry func(context.Context) error
}

// newApp loads configuration and opens the catalog and audit log.
func newApp(ctx context.Context, opts globalOptions) (*app, error) {
	if err := config.Load(opts.configPath); err != nil {
		return nil, err
	}
	return buildApp(ctx, config.Global, opts)
}

func buildApp(ctx context.Context, cfg config.DbcpatchConfig, opts globalOptions) (*app, error) {
	levelName := cfg.Logging.Level
	if opts.logLevel != "" {
		levelName = opts.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "dbcpatch",
		JSON:    cfg.Logging.JSON || opts.jsonOut,
		Quiet:   opts.quiet,
	})
	logger := log.Slog()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	catalog, err := reference.Load(logging.ExpandPath(cfg.Reference.Path), logger)
	if err != nil {
		_ = shutdown(ctx)
		log.Close()
		return nil, fmt.Errorf("load reference catalog: %w", err)
	}

	historyDir := logging.ExpandPath(cfg.History.Dir)
	if err := os.MkdirAll(historyDir, 0o750); err != nil {
		_ = shutdown(ctx)
		log.Close()
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	store, err := history.Open(cfg.History.Backend, historyDir, logger)
	if err != nil {
		_ = shutdown(ctx)
		log.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	mode := ux.ParseMode(opts.uiMode)
	if mode == "" {
		mode = ux.DetectMode(os.Stdout)
	}

	return &app{
		cfg:               cfg,
		log:               log,
		logger:            logger,
		codec:             dbc.NewCodec(logger),
		catalog:           catalog,
		history:           store,
		printer:           ux.NewPrinter(stdout, mode),
		out:               OutputConfig{JSON: opts.jsonOut, Compact: opts.compact, Quiet: opts.quiet},
		shutdownTelemetry: shutdown,
	}, nil
}

// workflow returns a workflow with the configured toggles, adjusted by fn.
func (a *app) workflow(fn func(*patch.WorkflowConfig)) *patch.Workflow {
	wc := a.cfg.Workflow.Patch()
	if fn != nil {
		fn(&wc)
	}
	return patch.NewWorkflow(a.codec, a.catalog, a.history, wc, a.logger)
}

// human reports whether decorated output should be printed.
func (a *app) human() bool {
	return !a.out.JSON && !a.out.Quiet
}

func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.history.Close(); err != nil {
		a.logger.Warn("close history", "error", err)
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		a.logger.Warn("shutdown telemetry", "error", err)
	}
	a.log.Close()
}

