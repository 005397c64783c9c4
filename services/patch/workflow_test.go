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
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
	"github.com/AleutianAI/dbcpatch/pkg/matrix/dbc"
)

type auditEntry struct {
	action  string
	details map[string]any
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *fakeAudit) Log(_ context.Context, action string, details map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{action: action, details: details})
	return nil
}

type fakeCatalogStore struct {
	fakeCatalog
	imported int
	saved    int
}

func (c *fakeCatalogStore) Import(m *matrix.Matrix) (int, int) {
	c.imported++
	if c.signals == nil {
		c.signals = map[string]*matrix.Signal{}
	}
	if c.messages == nil {
		c.messages = map[string]*matrix.Message{}
	}
	for _, msg := range m.Messages() {
		c.messages[msg.HexID()+":"+msg.Name] = msg.Clone()
		c.messages[msg.Name] = msg.Clone()
		for _, s := range msg.Signals {
			c.signals[s.Name] = s.Clone()
		}
	}
	return m.SignalCount(), m.Len()
}

func (c *fakeCatalogStore) Save() error {
	c.saved++
	return nil
}

func writeModel(t *testing.T, dir, name string, m *matrix.Matrix) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, dbc.Format(m), 0o644))
	return path
}

type workflowFixture struct {
	dir        string
	rawOld     string
	cleanedOld string
	rawNew     string
	audit      *fakeAudit
	codec      *dbc.Codec
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	dir := t.TempDir()

	rawOld := testModel(t, testMessage(0x100, "Engine", testSignal("Speed", 0, 16)))
	cleanedSpeed := testSignal("VehicleSpeed", 0, 16)
	cleanedSpeed.Unit = "km/h"
	cleanedOld := testModel(t,
		testMessage(0x100, "Engine", cleanedSpeed),
		testMessage(0x200, "Body", testSignal("Door", 0, 1)),
	)
	rawNew := testModel(t, testMessage(0x100, "Engine", testSignal("Speed", 0, 16), testSignal("Rpm", 16, 16)))

	return &workflowFixture{
		dir:        dir,
		rawOld:     writeModel(t, dir, "raw_old.dbc", rawOld),
		cleanedOld: writeModel(t, dir, "cleaned_old.dbc", cleanedOld),
		rawNew:     writeModel(t, dir, "raw_new.dbc", rawNew),
		audit:      &fakeAudit{},
		codec:      dbc.NewCodec(quietLogger()),
	}
}

func TestWorkflow_Direct(t *testing.T) {
	f := newWorkflowFixture(t)
	catalog := &fakeCatalogStore{}
	w := NewWorkflow(f.codec, catalog, f.audit, WorkflowConfig{
		EmbedReference:      true,
		AutoUpdateReference: true,
		Validate:            true,
	}, quietLogger())

	out := filepath.Join(f.dir, "out", "patched.dbc")
	patchOut := filepath.Join(f.dir, "patch.json")
	res, err := w.Direct(context.Background(), DirectRequest{
		RawOld:     f.rawOld,
		CleanedOld: f.cleanedOld,
		RawNew:     f.rawNew,
		Output:     out,
		PatchOut:   patchOut,
	})
	require.NoError(t, err)

	assert.Equal(t, []Op{OpAddMessage, OpRenameSignal, OpUpdateSignal}, ops(res.Document.Rules))
	assert.True(t, res.Document.Rules[0].(*AddMessage).FromRef)
	assert.Len(t, res.Result.Report.Applied, 3)
	assert.Equal(t, 1, catalog.imported)
	assert.Equal(t, 1, catalog.saved)

	patched, err := f.codec.Load(out)
	require.NoError(t, err)
	assert.Equal(t, "km/h", signalOf(t, patched, 0x100, "VehicleSpeed").Unit)
	signalOf(t, patched, 0x100, "Rpm")
	signalOf(t, patched, 0x200, "Door")

	exported, err := ReadFile(patchOut)
	require.NoError(t, err)
	assert.Len(t, exported.Rules, 3)

	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, ActionDirectPatch, f.audit.entries[0].action)
	assert.Equal(t, 0, f.audit.entries[0].details["conflicts"])
	assert.Equal(t, true, f.audit.entries[0].details["written"])
}

func TestWorkflow_GenerateThenApply(t *testing.T) {
	f := newWorkflowFixture(t)
	w := NewWorkflow(f.codec, nil, f.audit, WorkflowConfig{EmbedPayloads: true}, quietLogger())
	ctx := context.Background()

	doc, err := w.Generate(ctx, f.rawOld, f.cleanedOld)
	require.NoError(t, err)
	require.NotNil(t, doc.Rules[0].(*AddMessage).Payload)

	out := filepath.Join(f.dir, "applied.dbc")
	result, err := w.Apply(ctx, f.rawNew, doc, out)
	require.NoError(t, err)
	assert.False(t, result.Report.HasConflicts())

	patched, err := f.codec.Load(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Door"}, func() []string {
		msg, _ := patched.Message(0x200)
		return msg.SignalNames()
	}())

	require.Len(t, f.audit.entries, 2)
	assert.Equal(t, ActionGeneratePatch, f.audit.entries[0].action)
	assert.Equal(t, 3, f.audit.entries[0].details["rules"])
	assert.Equal(t, ActionApplyPatch, f.audit.entries[1].action)
}

func TestWorkflow_RefuseOnConflict(t *testing.T) {
	f := newWorkflowFixture(t)
	w := NewWorkflow(f.codec, nil, nil, WorkflowConfig{RefuseOnConflict: true}, quietLogger())
	doc := NewDocument(fixedTime, []Rule{
		&UpdateSignal{ID: 0x100, Match: matrix.Locator{StartBit: 0, Length: 16}, Changes: Changes{
			"unit": NewChange("rpm", "km/h"),
		}},
	})

	out := filepath.Join(f.dir, "refused.dbc")
	result, err := w.Apply(context.Background(), f.rawNew, doc, out)

	assert.ErrorIs(t, err, ErrConflictsRefused)
	require.NotNil(t, result)
	assert.Len(t, result.Report.Conflicts, 1)
	assert.NoFileExists(t, out)
}

func TestWorkflow_ApplyModelLeavesInputUntouched(t *testing.T) {
	target := testModel(t, testMessage(0x1, "M", testSignal("S", 0, 8)))
	w := NewWorkflow(dbc.NewCodec(quietLogger()), nil, nil, WorkflowConfig{}, quietLogger())
	doc := NewDocument(fixedTime, []Rule{&RemoveSignal{ID: 0x1, Signal: "S"}})

	result, err := w.ApplyModel(context.Background(), target, doc)

	require.NoError(t, err)
	msg, _ := result.Model.Message(0x1)
	assert.Empty(t, msg.Signals)
	orig, _ := target.Message(0x1)
	assert.Len(t, orig.Signals, 1)
}

func TestWorkflow_LoadFailure(t *testing.T) {
	f := newWorkflowFixture(t)
	w := NewWorkflow(f.codec, nil, f.audit, WorkflowConfig{}, quietLogger())

	_, err := w.Direct(context.Background(), DirectRequest{
		RawOld:     f.rawOld,
		CleanedOld: filepath.Join(f.dir, "missing.dbc"),
		RawNew:     f.rawNew,
		Output:     filepath.Join(f.dir, "out.dbc"),
	})

	assert.Error(t, err)
	assert.Empty(t, f.audit.entries)
}

func TestWorkflow_DirectModels(t *testing.T) {
	rawOld := testModel(t, testMessage(0x100, "Engine", testSignal("Speed", 0, 16)))
	cleanedOld := testModel(t, testMessage(0x100, "Engine", testSignal("VehicleSpeed", 0, 16)))
	rawNew := testModel(t, testMessage(0x100, "Engine", testSignal("Speed", 0, 16), testSignal("Rpm", 16, 16)))
	audit := &fakeAudit{}
	w := NewWorkflow(dbc.NewCodec(quietLogger()), nil, audit, WorkflowConfig{}, quietLogger())

	res, err := w.DirectModels(context.Background(), rawOld, cleanedOld, rawNew)

	require.NoError(t, err)
	assert.Equal(t, []Op{OpRenameSignal}, ops(res.Document.Rules))
	signalOf(t, res.Result.Model, 0x100, "VehicleSpeed")
	orig, _ := rawNew.Message(0x100)
	assert.Equal(t, []string{"Speed", "Rpm"}, orig.SignalNames())

	require.Len(t, audit.entries, 1)
	assert.Equal(t, ActionDirectPatch, audit.entries[0].action)
	assert.Equal(t, false, audit.entries[0].details["written"])
}
