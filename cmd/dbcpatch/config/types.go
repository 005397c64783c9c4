// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/dbcpatch/pkg/telemetry"
	"github.com/AleutianAI/dbcpatch/services/patch"
	"github.com/AleutianAI/dbcpatch/services/patchd"
)

// DbcpatchConfig is the root of dbcpatch.yaml.
type DbcpatchConfig struct {
	Workflow  WorkflowConfig   `yaml:"workflow"`
	Reference ReferenceConfig  `yaml:"reference"`
	History   HistoryConfig    `yaml:"history"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    patchd.Config    `yaml:"server"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Watch     WatchConfig      `yaml:"watch"`
}

// WorkflowConfig holds the patch workflow toggles.
type WorkflowConfig struct {
	EmbedPayloads       bool `yaml:"embed_payloads"`
	EmbedReference      bool `yaml:"embed_reference"`
	AutoUpdateReference bool `yaml:"auto_update_reference"`
	Validate            bool `yaml:"validate"`
	Force               bool `yaml:"force"`
	RefuseOnConflict    bool `yaml:"refuse_on_conflict"`
}

// Patch converts the section to the workflow settings.
func (w WorkflowConfig) Patch() patch.WorkflowConfig {
	return patch.WorkflowConfig{
		EmbedPayloads:       w.EmbedPayloads,
		EmbedReference:      w.EmbedReference,
		AutoUpdateReference: w.AutoUpdateReference,
		Validate:            w.Validate,
		Force:               w.Force,
		RefuseOnConflict:    w.RefuseOnConflict,
	}
}

// ReferenceConfig locates the reference catalog.
type ReferenceConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// HistoryConfig selects the audit log backend.
type HistoryConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file badger"`
	Dir     string `yaml:"dir" validate:"required"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// ArchiveConfig selects where "archive" uploads go.
type ArchiveConfig struct {
	// Backend is "gcs" or "dir".
	Backend         string `yaml:"backend" validate:"oneof=gcs dir"`
	Bucket          string `yaml:"bucket" validate:"required_if=Backend gcs"`
	CredentialsFile string `yaml:"credentials_file" validate:"required_if=Backend gcs"`
	Dir             string `yaml:"dir" validate:"required_if=Backend dir"`
	Prefix          string `yaml:"prefix"`
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the configuration written on first run. home is the
// dbcpatch data directory.
func DefaultConfig(home string) DbcpatchConfig {
	tel := telemetry.DefaultConfig()
	return DbcpatchConfig{
		Workflow: WorkflowConfig{
			EmbedPayloads:       true,
			EmbedReference:      true,
			AutoUpdateReference: false,
			Validate:            true,
		},
		Reference: ReferenceConfig{Path: home + "/reference.json"},
		History:   HistoryConfig{Backend: "file", Dir: home},
		Logging:   LoggingConfig{Level: "info", Dir: home + "/logs"},
		Telemetry: telemetry.Config{
			ServiceName:    tel.ServiceName,
			ServiceVersion: tel.ServiceVersion,
			Environment:    tel.Environment,
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   tel.OTLPEndpoint,
			OTLPInsecure:   true,
		},
		Server:  patchd.DefaultConfig(),
		Archive: ArchiveConfig{Backend: "dir", Dir: home + "/archive", Prefix: "dbcpatch"},
		Watch:   WatchConfig{Debounce: 500 * time.Millisecond},
	}
}
