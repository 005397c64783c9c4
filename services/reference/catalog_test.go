// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reference

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleModel(t *testing.T) *matrix.Matrix {
	t.Helper()
	speed := matrix.NewDefaultSignal("VehicleSpeed")
	speed.Length = 16
	speed.Unit = "km/h"
	engine := matrix.NewPlaceholderMessage(0x100, "Engine")
	engine.Signals = []*matrix.Signal{speed, matrix.NewDefaultSignal("Gear")}
	body := matrix.NewPlaceholderMessage(0x200, "BodyStatus")
	body.Signals = []*matrix.Signal{matrix.NewDefaultSignal("DoorOpen")}

	m, err := matrix.New("", nil, []*matrix.Message{engine, body})
	require.NoError(t, err)
	return m
}

func TestLoad_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref", "reference.json")

	c, err := Load(path, quietLogger())
	require.NoError(t, err)

	assert.FileExists(t, path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"signals":{},"messages":{}}`, string(data))
	assert.Equal(t, Stats{Path: path, Signals: 0, Messages: 0}, c.Stats())
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, quietLogger())
	assert.Error(t, err)
}

func TestImportAndLookup(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "reference.json"), quietLogger())

	signals, messages := c.Import(sampleModel(t))
	assert.Equal(t, 3, signals)
	assert.Equal(t, 2, messages)

	s, ok := c.LookupSignal("VehicleSpeed")
	require.True(t, ok)
	assert.Equal(t, "km/h", s.Unit)

	s.Unit = "mutated"
	again, _ := c.LookupSignal("VehicleSpeed")
	assert.Equal(t, "km/h", again.Unit)

	_, ok = c.LookupSignal("Missing")
	assert.False(t, ok)

	m, ok := c.LookupMessage(0x100, "Engine")
	require.True(t, ok)
	assert.Equal(t, []string{"VehicleSpeed", "Gear"}, m.SignalNames())

	m, ok = c.LookupMessage(0x999, "BodyStatus")
	require.True(t, ok, "bare name fallback")
	assert.Equal(t, uint32(0x200), m.ID)

	_, ok = c.LookupMessage(0x999, "")
	assert.False(t, ok)
}

func TestImport_Overwrites(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "reference.json"), quietLogger())
	c.Import(sampleModel(t))

	updated := matrix.NewDefaultSignal("VehicleSpeed")
	updated.Unit = "mph"
	msg := matrix.NewPlaceholderMessage(0x300, "Other")
	msg.Signals = []*matrix.Signal{updated}
	m, err := matrix.New("", nil, []*matrix.Message{msg})
	require.NoError(t, err)
	c.Import(m)

	s, ok := c.LookupSignal("VehicleSpeed")
	require.True(t, ok)
	assert.Equal(t, "mph", s.Unit)
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.json")
	c := New(path, quietLogger())
	c.Import(sampleModel(t))
	require.NoError(t, c.Save())

	loaded, err := Load(path, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, c.Stats(), loaded.Stats())
	m, ok := loaded.LookupMessage(0x100, "Engine")
	require.True(t, ok)
	assert.Equal(t, 8, m.Length)
	s, ok := loaded.LookupSignal("Gear")
	require.True(t, ok)
	assert.Equal(t, matrix.NewDefaultSignal("Gear"), s)
}

func TestExport(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "reference.json"), quietLogger())
	c.Import(sampleModel(t))

	out := filepath.Join(t.TempDir(), "export", "catalog.json")
	require.NoError(t, c.Export(out))

	loaded, err := Load(out, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Stats().Signals)
	assert.NoFileExists(t, out+".tmp")
}

func TestSearch(t *testing.T) {
	c := New("", quietLogger())
	c.Import(sampleModel(t))

	hits := c.Search("SPEED")
	assert.Equal(t, []Hit{{Kind: KindSignal, Name: "VehicleSpeed"}}, hits)

	hits = c.Search("o")
	assert.Equal(t, []Hit{
		{Kind: KindMessage, Name: "BodyStatus", MessageID: "0x200"},
		{Kind: KindSignal, Name: "DoorOpen"},
	}, hits)

	assert.Len(t, c.Search(""), 5)
	assert.Empty(t, c.Search("nothing-like-this"))
}

func TestNilCatalogLookups(t *testing.T) {
	var c *Catalog
	_, ok := c.LookupSignal("x")
	assert.False(t, ok)
	_, ok = c.LookupMessage(1, "x")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New("", quietLogger())
	model := sampleModel(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Import(model)
		}()
		go func() {
			defer wg.Done()
			c.LookupSignal("Gear")
			c.Search("e")
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, c.Stats().Messages)
}
