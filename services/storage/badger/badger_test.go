// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestConfigFunctions(t *testing.T) {
	cfg := DefaultConfig("/tmp/x")
	assert.Equal(t, "/tmp/x", cfg.Path)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, 10*time.Minute, cfg.GCInterval)

	mem := InMemoryConfig()
	assert.True(t, mem.InMemory)
	assert.Zero(t, mem.GCInterval)
}

func TestPutGetJSON(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.PutJSON(ctx, "rec/1", record{Name: "a", Count: 2}))

	var got record
	require.NoError(t, db.GetJSON(ctx, "rec/1", &got))
	assert.Equal(t, record{Name: "a", Count: 2}, got)

	err = db.GetJSON(ctx, "rec/missing", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanAndDeletePrefix(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	for _, k := range []string{"a/2", "a/1", "b/1", "a/3"} {
		require.NoError(t, db.PutJSON(ctx, k, record{Name: k}))
	}

	var keys []string
	err = db.ScanPrefix(ctx, "a/", func(key string, value []byte) error {
		keys = append(keys, key)
		assert.Contains(t, string(value), key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2", "a/3"}, keys)

	n, err := db.DeletePrefix(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	keys = nil
	require.NoError(t, db.ScanPrefix(ctx, "", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"b/1"}, keys)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := DefaultConfig(dir)
	cfg.GCInterval = time.Hour
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.PutJSON(ctx, "k", record{Name: "persisted"}))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	var got record
	require.NoError(t, db.GetJSON(ctx, "k", &got))
	assert.Equal(t, "persisted", got.Name)
	assert.Equal(t, dir, db.Path())
	assert.False(t, db.InMemory())
}

func TestCancelledContext(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, db.PutJSON(ctx, "k", record{}), context.Canceled)
}
