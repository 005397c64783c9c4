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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Exit codes. Conflicts are not failures: the output was still produced.
const (
	CLIExitSuccess   = 0
	CLIExitConflicts = 1
	CLIExitError     = 2
)

// envelopeVersion is reported as api_version in every JSON envelope.
const envelopeVersion = "1.0"

// Output streams. Tests swap them for buffers.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// OutputConfig is derived from the --json, --compact and --quiet flags.
type OutputConfig struct {
	JSON    bool
	Compact bool
	Quiet   bool
}

// CommandResult is the --json envelope around a command's data.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// OutputJSON encodes data to stdout, indented unless compact is set.
func OutputJSON(data any, compact bool) error {
	encoder := json.NewEncoder(stdout)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputError reports a failed command: an envelope with success=false on
// stdout in JSON mode, a single "Error:" line on stderr otherwise.
func OutputError(jsonMode bool, cmd, msg string, err error) {
	text := fmt.Sprintf("%s: %v", msg, err)
	if !jsonMode {
		fmt.Fprintln(stderr, "Error: "+text)
		return
	}
	_ = OutputJSON(CommandResult{
		APIVersion: envelopeVersion,
		Command:    cmd,
		Timestamp:  time.Now(),
		Success:    false,
		Error:      text,
	}, false)
}

// OutputResult writes the JSON envelope when requested and maps the outcome
// of a command to its exit code. Commands print their human output
// themselves before returning.
//
// # Inputs
//
//   - cfg: Output flags.
//   - cmd: Command name recorded in the envelope.
//   - start: When the command started, for duration_ms.
//   - data: Command specific result.
//   - conflicts: At least one patch rule conflicted.
//   - err: Command failure, takes precedence over conflicts.
//
// # Outputs
//
//   - int: CLIExitSuccess, CLIExitConflicts or CLIExitError.
func OutputResult(cfg OutputConfig, cmd string, start time.Time, data any, conflicts bool, err error) int {
	code := CLIExitSuccess
	switch {
	case err != nil:
		code = CLIExitError
	case conflicts:
		code = CLIExitConflicts
	}
	if cfg.Quiet {
		return code
	}
	if err != nil {
		OutputError(cfg.JSON, cmd, "Command failed", err)
		return code
	}
	if !cfg.JSON {
		return code
	}

	envelope := CommandResult{
		APIVersion: envelopeVersion,
		Command:    cmd,
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    true,
		Data:       data,
	}
	if encErr := OutputJSON(envelope, cfg.Compact); encErr != nil {
		fmt.Fprintf(stderr, "encode JSON result: %v\n", encErr)
		return CLIExitError
	}
	return code
}
