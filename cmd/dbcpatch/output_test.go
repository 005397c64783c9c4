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
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	prevOut, prevErr := stdout, stderr
	stdout, stderr = &out, &errOut
	t.Cleanup(func() { stdout, stderr = prevOut, prevErr })
	return &out, &errOut
}

func TestExitCodeConstants(t *testing.T) {
	assert.Equal(t, 0, CLIExitSuccess)
	assert.Equal(t, 1, CLIExitConflicts)
	assert.Equal(t, 2, CLIExitError)
}

func TestOutputResult_Quiet(t *testing.T) {
	out, errOut := captureOutput(t)
	cfg := OutputConfig{Quiet: true, JSON: true}

	assert.Equal(t, CLIExitSuccess, OutputResult(cfg, "diff", time.Now(), "x", false, nil))
	assert.Equal(t, CLIExitConflicts, OutputResult(cfg, "diff", time.Now(), "x", true, nil))
	assert.Equal(t, CLIExitError, OutputResult(cfg, "diff", time.Now(), nil, false, errors.New("boom")))
	assert.Zero(t, out.Len())
	assert.Zero(t, errOut.Len())
}

func TestOutputResult_JSONEnvelope(t *testing.T) {
	out, _ := captureOutput(t)

	code := OutputResult(OutputConfig{JSON: true, Compact: true}, "apply", time.Now(), map[string]int{"rules": 3}, true, nil)

	assert.Equal(t, CLIExitConflicts, code)
	var result struct {
		APIVersion string         `json:"api_version"`
		Command    string         `json:"command"`
		Success    bool           `json:"success"`
		Data       map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "1.0", result.APIVersion)
	assert.Equal(t, "apply", result.Command)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Data["rules"])
	assert.NotContains(t, out.String(), "\n  ", "compact output has no indentation")
}

func TestOutputResult_Error(t *testing.T) {
	out, errOut := captureOutput(t)

	code := OutputResult(OutputConfig{}, "diff", time.Now(), nil, false, errors.New("missing file"))
	assert.Equal(t, CLIExitError, code)
	assert.Contains(t, errOut.String(), "Error: Command failed: missing file")
	assert.Zero(t, out.Len())

	code = OutputResult(OutputConfig{JSON: true}, "diff", time.Now(), nil, false, errors.New("missing file"))
	assert.Equal(t, CLIExitError, code)
	var result CommandResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.False(t, result.Success)
	assert.Equal(t, "diff", result.Command)
	assert.Equal(t, "Command failed: missing file", result.Error)
}
