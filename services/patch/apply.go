// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// Skip and conflict reasons.
const (
	ReasonUnsupported    = "unsupported"
	ReasonMessageMissing = "message missing"
	ReasonSignalMissing  = "signal missing"
	ReasonSignalExists   = "already exists"
	ReasonMessageExists  = "message exists"
	ReasonNotFound       = "not found"
	ReasonNoPayload      = "no message payload"
	ReasonNoSignalName   = "signal name missing"
	ReasonNoNewName      = "new name missing"
)

// Catalog supplies templates for creation rules. Misses are silent.
type Catalog interface {
	LookupSignal(name string) (*matrix.Signal, bool)
	LookupMessage(id uint32, name string) (*matrix.Message, bool)
}

// Rebuilder re-derives a model from its own text form after a batch, so
// the returned model is exactly what a later load would produce.
type Rebuilder interface {
	Rebuild(m *matrix.Matrix) (*matrix.Matrix, error)
}

// Status is the outcome of a single rule.
type Status int

const (
	StatusApplied Status = iota
	StatusSkipped
	StatusConflict
)

// String returns the lowercase outcome name.
func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusSkipped:
		return "skipped"
	case StatusConflict:
		return "conflict"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome records what happened to one rule.
type Outcome struct {
	Index  int
	Rule   Rule
	Status Status
	Reason string
}

// MarshalJSON implements json.Marshaler.
func (o Outcome) MarshalJSON() ([]byte, error) {
	rule, err := MarshalRule(o.Rule)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Index  int             `json:"index"`
		Status string          `json:"status"`
		Reason string          `json:"reason,omitempty"`
		Rule   json.RawMessage `json:"rule"`
	}{o.Index, o.Status.String(), o.Reason, rule})
}

// Report groups rule outcomes by status, each group in document order.
type Report struct {
	Applied   []Outcome `json:"applied"`
	Skipped   []Outcome `json:"skipped"`
	Conflicts []Outcome `json:"conflicts"`
}

func (r *Report) add(o Outcome) {
	switch o.Status {
	case StatusApplied:
		r.Applied = append(r.Applied, o)
	case StatusSkipped:
		r.Skipped = append(r.Skipped, o)
	default:
		r.Conflicts = append(r.Conflicts, o)
	}
}

// Total returns the number of recorded outcomes.
func (r *Report) Total() int {
	return len(r.Applied) + len(r.Skipped) + len(r.Conflicts)
}

// HasConflicts reports whether any rule conflicted.
func (r *Report) HasConflicts() bool {
	return len(r.Conflicts) > 0
}

// Result is the rebuilt model plus the report of an apply batch.
type Result struct {
	Model  *matrix.Matrix
	Report Report
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithCatalog sets the catalog consulted by creation rules.
func WithCatalog(c Catalog) ApplierOption {
	return func(a *Applier) { a.catalog = c }
}

// WithForce makes drifted values be overwritten. Such rules are reported as
// applied with a "forced" reason instead of as conflicts.
func WithForce() ApplierOption {
	return func(a *Applier) { a.force = true }
}

// WithLogger sets the logger for per-rule diagnostics.
func WithLogger(l *slog.Logger) ApplierOption {
	return func(a *Applier) { a.logger = l }
}

// Applier replays patch documents against a target model.
//
// Thread Safety: an Applier holds no per-batch state and may be shared, but a
// single target must not be applied to concurrently.
type Applier struct {
	rebuilder Rebuilder
	catalog   Catalog
	force     bool
	logger    *slog.Logger
}

// NewApplier creates an Applier. rebuilder may be nil, in which case the
// mutated target is returned as is.
func NewApplier(rebuilder Rebuilder, opts ...ApplierOption) *Applier {
	a := &Applier{rebuilder: rebuilder, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply replays doc against target.
//
// # Description
//
// Rules run strictly in document order and each is recorded as applied,
// skipped or conflicting. A rule never aborts the batch. Target is mutated in
// place and there is no rollback; callers that need the original should pass
// a Clone. After the batch the model is rebuilt through the Rebuilder.
//
// # Outputs
//
//   - *Result: The rebuilt model and the report. On rebuild failure the
//     mutated target and the complete report are still returned.
//   - error: Non-nil only when rebuilding failed.
func (a *Applier) Apply(target *matrix.Matrix, doc *Document) (*Result, error) {
	result := &Result{Model: target}
	for i, rule := range doc.Rules {
		status, reason := a.applyRule(target, rule)
		result.Report.add(Outcome{Index: i, Rule: rule, Status: status, Reason: reason})
		rulesTotal.WithLabelValues(string(rule.Op()), status.String()).Inc()

		attrs := []any{"index", i, "op", rule.Op(), "message_id", rule.MessageID(), "status", status.String()}
		if reason != "" {
			attrs = append(attrs, "reason", reason)
		}
		if status == StatusConflict {
			a.logger.Warn("patch rule conflict", attrs...)
		} else {
			a.logger.Debug("patch rule processed", attrs...)
		}
	}

	if a.rebuilder == nil {
		return result, nil
	}
	rebuilt, err := a.rebuilder.Rebuild(target)
	if err != nil {
		return result, fmt.Errorf("rebuild patched model: %w", err)
	}
	result.Model = rebuilt
	return result, nil
}

func (a *Applier) applyRule(m *matrix.Matrix, rule Rule) (Status, string) {
	switch r := rule.(type) {
	case *UpdateSignal:
		return a.updateSignal(m, r)
	case *AddSignalIfMissing:
		return a.addSignal(m, r)
	case *RemoveSignal:
		return removeSignal(m, r)
	case *RenameSignal:
		return renameSignal(m, r)
	case *UpdateMessageSenders:
		return a.updateSenders(m, r)
	case *AddMessage:
		return a.addMessage(m, r)
	case *RemoveMessage:
		return removeMessage(m, r)
	case *UpdateMessage:
		return updateMessage(m, r)
	case *Unknown:
		if r.Err != nil {
			return StatusSkipped, fmt.Sprintf("%s: %v", ReasonUnsupported, r.Err)
		}
		return StatusSkipped, ReasonUnsupported
	default:
		return StatusSkipped, ReasonUnsupported
	}
}

type pendingWrite struct {
	field field
	value any
}

func (a *Applier) updateSignal(m *matrix.Matrix, r *UpdateSignal) (Status, string) {
	msg, ok := m.Message(r.ID)
	if !ok {
		return StatusSkipped, ReasonMessageMissing
	}
	candidates := locate(msg, r.Match, r.Signal)
	if len(candidates) == 0 {
		return StatusSkipped, ReasonSignalMissing
	}

	// Everything is verified before anything is written, so a conflicting
	// rule leaves the signal untouched. The first candidate that holds every
	// expected value is the target.
	var first []pendingWrite
	var firstMismatches []string
	for i, sig := range candidates {
		writes, mismatches, reason := planUpdate(sig, r.Changes)
		if reason != "" {
			return StatusSkipped, reason
		}
		if len(mismatches) == 0 {
			commit(sig, writes)
			return StatusApplied, ""
		}
		if i == 0 {
			first, firstMismatches = writes, mismatches
		}
	}
	if !a.force {
		return StatusConflict, firstMismatches[0]
	}
	commit(candidates[0], first)
	return StatusApplied, forcedReason(firstMismatches)
}

// locate returns the signals at loc. Signals named name come first.
func locate(msg *matrix.Message, loc matrix.Locator, name string) []*matrix.Signal {
	found := msg.SignalsAt(loc)
	if name == "" || len(found) < 2 {
		return found
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Name == name && found[j].Name != name
	})
	return found
}

// planUpdate decodes the changes and checks the expected values against sig
// without writing. A non-empty reason means the rule cannot be applied at all.
func planUpdate(sig *matrix.Signal, changes Changes) (writes []pendingWrite, mismatches []string, reason string) {
	for _, name := range orderedFieldNames(changes) {
		f, ok := lookupField(name)
		if !ok {
			return nil, nil, fmt.Sprintf("%s field %q", ReasonUnsupported, name)
		}
		change := changes[name]
		to, err := f.decode(change.To)
		if err != nil {
			return nil, nil, err.Error()
		}
		if change.HasFrom() {
			mismatch, err := drifted(f, change.From, f.get(sig))
			if err != nil {
				return nil, nil, err.Error()
			}
			if mismatch != "" {
				mismatches = append(mismatches, mismatch)
			}
		}
		writes = append(writes, pendingWrite{field: f, value: to})
	}
	return writes, mismatches, ""
}

func commit(sig *matrix.Signal, writes []pendingWrite) {
	for _, w := range writes {
		w.field.set(sig, w.value)
	}
}

func (a *Applier) updateSenders(m *matrix.Matrix, r *UpdateMessageSenders) (Status, string) {
	msg, ok := m.Message(r.ID)
	if !ok {
		return StatusSkipped, ReasonMessageMissing
	}
	var to []string
	if !isNull(r.Senders.To) {
		if err := json.Unmarshal(r.Senders.To, &to); err != nil {
			return StatusSkipped, fmt.Sprintf("invalid value for senders: %v", err)
		}
	}
	var forced []string
	if r.Senders.HasFrom() {
		var from []string
		if err := json.Unmarshal(r.Senders.From, &from); err != nil {
			return StatusSkipped, fmt.Sprintf("invalid value for senders: %v", err)
		}
		if !equalStrings(from, msg.Senders) {
			mismatch := fmt.Sprintf("senders: expected %s, found %s", r.Senders.From, encodeValue(nonNil(msg.Senders)))
			if !a.force {
				return StatusConflict, mismatch
			}
			forced = append(forced, mismatch)
		}
	}
	msg.Senders = nonNil(to)
	return StatusApplied, forcedReason(forced)
}

func (a *Applier) addSignal(m *matrix.Matrix, r *AddSignalIfMissing) (Status, string) {
	msg, ok := m.Message(r.ID)
	if !ok {
		return StatusSkipped, ReasonMessageMissing
	}
	if r.Signal == "" {
		return StatusSkipped, ReasonNoSignalName
	}
	if _, ok := msg.Signal(r.Signal); ok {
		return StatusSkipped, ReasonSignalExists
	}

	tmpl, source := r.Payload, "payload"
	if tmpl == nil && a.catalog != nil {
		if sig, ok := a.catalog.LookupSignal(r.Signal); ok {
			tmpl, source = sig, "reference"
		}
	}
	if tmpl == nil {
		tmpl, source = matrix.NewDefaultSignal(r.Signal), "default"
	}
	if _, err := matrix.AttachSignal(msg, tmpl, r.Signal); err != nil {
		return StatusSkipped, err.Error()
	}
	return StatusApplied, "created from " + source
}

func removeSignal(m *matrix.Matrix, r *RemoveSignal) (Status, string) {
	msg, ok := m.Message(r.ID)
	if !ok {
		return StatusSkipped, ReasonMessageMissing
	}
	if !msg.RemoveSignal(r.Signal) {
		return StatusSkipped, ReasonNotFound
	}
	return StatusApplied, ""
}

func renameSignal(m *matrix.Matrix, r *RenameSignal) (Status, string) {
	msg, ok := m.Message(r.ID)
	if !ok {
		return StatusSkipped, ReasonMessageMissing
	}
	if r.NewName == "" {
		return StatusSkipped, ReasonNoNewName
	}
	sig, ok := msg.SignalAt(r.Match)
	if !ok {
		return StatusSkipped, ReasonSignalMissing
	}
	// Names stay unique within a message.
	if _, exists := msg.Signal(r.NewName); exists {
		return StatusSkipped, ReasonSignalExists
	}
	sig.Name = r.NewName
	return StatusApplied, ""
}

func (a *Applier) addMessage(m *matrix.Matrix, r *AddMessage) (Status, string) {
	if _, ok := m.Message(r.ID); ok {
		return StatusSkipped, ReasonMessageExists
	}

	tmpl, source := r.Payload, "payload"
	if tmpl == nil && a.catalog != nil {
		if msg, ok := a.catalog.LookupMessage(r.ID, r.Name); ok {
			tmpl, source = msg, "reference"
		}
	}
	if tmpl == nil {
		tmpl, source = matrix.NewPlaceholderMessage(r.ID, r.Name), "placeholder"
	}
	if _, err := matrix.AdoptMessage(m, r.ID, tmpl, r.Name); err != nil {
		if errors.Is(err, matrix.ErrMessageExists) {
			return StatusSkipped, ReasonMessageExists
		}
		return StatusSkipped, err.Error()
	}
	return StatusApplied, "created from " + source
}

func removeMessage(m *matrix.Matrix, r *RemoveMessage) (Status, string) {
	if !m.Delete(r.ID) {
		return StatusSkipped, ReasonNotFound
	}
	return StatusApplied, ""
}

func updateMessage(m *matrix.Matrix, r *UpdateMessage) (Status, string) {
	if _, ok := m.Message(r.ID); !ok {
		return StatusSkipped, ReasonMessageMissing
	}
	if r.Payload == nil {
		return StatusSkipped, ReasonNoPayload
	}
	matrix.ReplaceMessage(m, r.ID, r.Payload)
	return StatusApplied, ""
}

// drifted compares the expected value of a field with the current one and
// describes the mismatch, or returns "" when they agree.
func drifted(f field, expected json.RawMessage, current any) (string, error) {
	want, err := f.decode(expected)
	if err != nil {
		return "", err
	}
	if f.equal(want, current) {
		return "", nil
	}
	return fmt.Sprintf("%s: expected %s, found %s", f.name, strings.TrimSpace(string(expected)), encodeValue(current)), nil
}

func forcedReason(forced []string) string {
	if len(forced) == 0 {
		return ""
	}
	return "forced: " + strings.Join(forced, "; ")
}
