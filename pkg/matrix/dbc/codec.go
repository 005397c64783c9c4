// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dbc

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// ParseError reports descriptor text that could not be read. It is fatal to
// the load that produced it.
type ParseError struct {
	// Source is the file name or label of the text.
	Source string

	// Err is the underlying parser error.
	Err error
}

// Error returns a formatted error message.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError reports that freshly formatted text failed to parse back.
// It is fatal to the save that produced it; nothing is written.
type ValidationError struct {
	// Path is the intended destination.
	Path string

	// Err is the parse failure of the emitted text.
	Err error
}

// Error returns a formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate %s: emitted text does not parse back: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Codec loads, saves and rebuilds matrices through DBC text.
//
// # Thread Safety
//
// Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	logger *slog.Logger
}

// NewCodec creates a codec. A nil logger falls back to slog.Default().
func NewCodec(logger *slog.Logger) *Codec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{logger: logger}
}

// Load reads and parses a DBC file.
func (c *Codec) Load(path string) (*matrix.Matrix, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor %s: %w", path, err)
	}
	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("descriptor loaded",
		"path", path,
		"messages", m.Len(),
		"signals", m.SignalCount(),
		"duration_ms", time.Since(start).Milliseconds())
	return m, nil
}

// Save writes m to path as DBC text. With validate set, the emitted text is
// parsed back first and a *ValidationError is returned if that fails.
//
// The file is written to a temporary sibling and renamed into place.
func (c *Codec) Save(path string, m *matrix.Matrix, validate bool) error {
	data := Format(m)
	if validate {
		if _, err := Parse(path, data); err != nil {
			return &ValidationError{Path: path, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	c.logger.Debug("descriptor saved", "path", path, "bytes", len(data), "validated", validate)
	return nil
}

// Rebuild round-trips m through DBC text and returns the freshly parsed
// model. Derived state (name index, signal order, normalized collections)
// of the result is consistent with its descriptors. Source is preserved.
func (c *Codec) Rebuild(m *matrix.Matrix) (*matrix.Matrix, error) {
	label := m.Source
	if label == "" {
		label = "<rebuild>"
	}
	rebuilt, err := Parse(label, Format(m))
	if err != nil {
		return nil, &ValidationError{Path: label, Err: err}
	}
	rebuilt.Source = m.Source
	return rebuilt, nil
}
