// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package review

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
	"github.com/AleutianAI/dbcpatch/services/patch"
)

var created = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func testDocument() *patch.Document {
	return patch.NewDocument(created, []patch.Rule{
		&patch.AddMessage{ID: 0x200, Name: "Body"},
		&patch.RenameSignal{ID: 0x100, Match: matrix.Locator{StartBit: 0, Length: 16}, NewName: "VehicleSpeed"},
		&patch.UpdateSignal{ID: 0x100, Match: matrix.Locator{StartBit: 0, Length: 16}, Changes: patch.Changes{
			"unit": patch.NewChange("", "km/h"),
		}},
	})
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok)
	}
	return m, cmd
}

func sized(t *testing.T, doc *patch.Document, cfg Config) Model {
	t.Helper()
	m, _ := send(t, NewModel(doc, cfg), tea.WindowSizeMsg{Width: 100, Height: 30})
	require.True(t, m.ready)
	return m
}

func TestNewModel(t *testing.T) {
	m := NewModel(testDocument(), DefaultConfig())

	assert.Len(t, m.decisions, 3)
	assert.Equal(t, 0, m.current)
	assert.Equal(t, ViewRule, m.viewMode)
	assert.True(t, DefaultConfig().ConfirmAcceptAll)
	assert.Equal(t, "Loading...\n", m.View())
}

func TestModel_DecideAndFinish(t *testing.T) {
	m := sized(t, testDocument(), DefaultConfig())

	m, _ = send(t, m, key("y"), key("n"), key("s"))
	assert.Equal(t, ViewSummary, m.viewMode)
	assert.Equal(t, []Decision{DecisionAccept, DecisionReject, DecisionSkip}, m.decisions)
	assert.Contains(t, m.View(), "1 accepted, 1 rejected, 1 skipped, 0 pending")

	m, cmd := send(t, m, key("enter"))
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)

	res := m.Result()
	assert.False(t, res.Cancelled)
	doc := res.Document()
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, patch.OpAddMessage, doc.Rules[0].Op())
	assert.Equal(t, created, doc.Created)
}

func TestModel_AdvanceSkipsDecided(t *testing.T) {
	m := sized(t, testDocument(), DefaultConfig())

	m, _ = send(t, m, key("l"), key("y"))
	assert.Equal(t, 2, m.current)

	m, _ = send(t, m, key("h"), key("h"), key("y"))
	assert.Equal(t, 2, m.current, "rule 1 is already decided")
	assert.Equal(t, DecisionAccept, m.decisions[0])
	assert.Equal(t, DecisionAccept, m.decisions[1])
}

func TestModel_AcceptAllRequiresConfirmation(t *testing.T) {
	m := sized(t, testDocument(), DefaultConfig())

	m, _ = send(t, m, key("n"), key("a"))
	require.True(t, m.showConfirm)
	assert.Contains(t, m.View(), "Type")

	m, _ = send(t, m, key("n"), key("o"), key("enter"))
	assert.False(t, m.showConfirm)
	assert.False(t, m.quitting)
	assert.Equal(t, DecisionPending, m.decisions[1])

	m, _ = send(t, m, key("a"), key("y"), key("e"), key("s"), key("enter"))
	assert.True(t, m.quitting)
	assert.Equal(t, []Decision{DecisionReject, DecisionAccept, DecisionAccept}, m.decisions)
}

func TestModel_AcceptAllWithoutConfirmation(t *testing.T) {
	m := sized(t, testDocument(), Config{})

	m, cmd := send(t, m, key("a"))

	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Len(t, m.Result().Document().Rules, 3)
}

func TestModel_Quit(t *testing.T) {
	m := sized(t, testDocument(), DefaultConfig())

	m, _ = send(t, m, key("y"), key("q"))

	res := m.Result()
	assert.True(t, res.Cancelled)
	assert.Equal(t, "Review cancelled.\n", m.View())
}

func TestModel_TabTogglesSummary(t *testing.T) {
	m := sized(t, testDocument(), DefaultConfig())

	m, _ = send(t, m, key("tab"))
	assert.Equal(t, ViewSummary, m.viewMode)

	m, _ = send(t, m, key("tab"))
	assert.Equal(t, ViewRule, m.viewMode)
}

func TestModel_RenderRule(t *testing.T) {
	m := sized(t, testDocument(), DefaultConfig())
	m.current = 2

	out := m.renderRule()

	assert.Contains(t, out, "update_signal")
	assert.Contains(t, out, "unit")
	assert.Contains(t, out, `+ "km/h"`)
	assert.Contains(t, out, `- ""`)
}

func TestResult_Counts(t *testing.T) {
	res := &Result{Decisions: []Decision{DecisionAccept, DecisionAccept, DecisionPending}}

	counts := res.Counts()

	assert.Equal(t, 2, counts[DecisionAccept])
	assert.Equal(t, 1, counts[DecisionPending])
	assert.Equal(t, "skipped", DecisionSkip.String())
}
