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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvConfig overrides the config file path.
	EnvConfig = "DBCPATCH_CONFIG"

	// EnvHome overrides the data directory (default ~/.dbcpatch).
	EnvHome = "DBCPATCH_HOME"

	fileName = "dbcpatch.yaml"
)

var (
	// Global is a singleton instance
	Global DbcpatchConfig
	once    sync.Once
	loadErr error

	// Path is the file Global was read from.
	Path string

	validate = validator.New()
)

// Load reads the config into Global once. An explicit path wins over
// DBCPATCH_CONFIG; a .env file in the working directory is applied first.
func Load(path string) error {
	once.Do(func() {
		if envErr := godotenv.Load(); envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
			loadErr = fmt.Errorf("failed to read .env: %w", envErr)
			return
		}
		var cfg DbcpatchConfig
		cfg, Path, loadErr = Read(path)
		if loadErr == nil {
			Global = cfg
		}
	})
	return loadErr
}

// Home returns the dbcpatch data directory.
func Home() (string, error) {
	if h := os.Getenv(EnvHome); h != "" {
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".dbcpatch"), nil
}

// Read loads and validates a config file without touching Global. A missing
// file is created with defaults.
func Read(path string) (DbcpatchConfig, string, error) {
	home, err := Home()
	if err != nil {
		return DbcpatchConfig{}, "", err
	}
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		path = filepath.Join(home, fileName)
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if err := createDefault(path, home); err != nil {
			return DbcpatchConfig{}, path, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return DbcpatchConfig{}, path, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig(home)
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DbcpatchConfig{}, path, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := validate.Struct(cfg); err != nil {
		return DbcpatchConfig{}, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func createDefault(path, home string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig(home))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
