// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/dbcpatch/services/storage/badger"
)

// steppingClock returns a clock advancing one second per call.
func steppingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.Log(ctx, "generate_patch", map[string]any{"rules": 3}))
	require.NoError(t, s.Log(ctx, "apply_patch", nil))
	require.NoError(t, s.Log(ctx, "direct_patch", map[string]any{"conflicts": 1}))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "direct_patch", all[0].Action)
	assert.Equal(t, "apply_patch", all[1].Action)
	assert.Equal(t, "generate_patch", all[2].Action)
	assert.Equal(t, float64(3), all[2].Details["rules"])
	assert.NotNil(t, all[1].Details)
	_, err = uuid.Parse(all[0].ID)
	assert.NoError(t, err)

	latest, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.Equal(t, "direct_patch", latest[0].Action)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "history.json")
	s := NewFileStore(path, nil)
	s.now = steppingClock()

	exerciseStore(t, s)
	assert.FileExists(t, path)
	assert.NoFileExists(t, path+".tmp")
}

func TestFileStore_EmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "history.json"), nil)

	entries, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.json"), nil, 0o644))
	entries, err = s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	s := NewFileStore(path, nil)

	assert.Error(t, s.Log(context.Background(), "x", nil))
}

func TestBadgerStore(t *testing.T) {
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	s := NewBadgerStore(db)
	s.now = steppingClock()
	defer s.Close()

	exerciseStore(t, s)

	n, err := s.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	entries, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("file", dir, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open("badger", dir, nil)
	require.NoError(t, err)
	assert.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Log(context.Background(), "x", nil))
	require.NoError(t, s.Close())

	_, err = Open("sqlite", dir, nil)
	assert.Error(t, err)
}
