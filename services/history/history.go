// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history records an audit trail of patch workflow runs.
//
// Two stores are provided: FileStore keeps a JSON array in a single file,
// BadgerStore keeps one record per run in the embedded key-value store.
// Both return entries newest first.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/dbcpatch/services/storage/badger"
)

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
}

// Store persists and lists audit entries.
type Store interface {
	Log(ctx context.Context, action string, details map[string]any) error
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

func newEntry(now time.Time, action string, details map[string]any) Entry {
	if details == nil {
		details = map[string]any{}
	}
	return Entry{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Action:    action,
		Details:   details,
	}
}

// newestFirst sorts entries by descending timestamp and truncates to limit
// when limit is positive.
func newestFirst(entries []Entry, limit int) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// FileStore keeps the audit log as a JSON array in one file.
type FileStore struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// NewFileStore returns a store writing to path. The file is created on the
// first Log.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, now: time.Now, logger: logger}
}

// Log appends an entry.
func (s *FileStore) Log(ctx context.Context, action string, details map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return err
	}
	entries = append(entries, newEntry(s.now(), action, details))

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0750); err != nil {
		return fmt.Errorf("create history directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	s.logger.Debug("history entry recorded", "action", action, "path", s.path)
	return nil
}

// List returns up to limit entries, newest first. A limit of zero or less
// returns everything.
func (s *FileStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return nil, err
	}
	return newestFirst(entries, limit), nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) read() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", s.path, err)
	}
	return entries, nil
}

const keyPrefix = "history/"

// BadgerStore keeps one record per entry, keyed by timestamp.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerStore returns a store on db. The store takes ownership of db and
// closes it on Close.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

// Log stores an entry.
func (s *BadgerStore) Log(ctx context.Context, action string, details map[string]any) error {
	e := newEntry(s.now(), action, details)
	key := fmt.Sprintf("%s%020d/%s", keyPrefix, e.Timestamp.UnixNano(), e.ID)
	if err := s.db.PutJSON(ctx, key, e); err != nil {
		return fmt.Errorf("store history entry: %w", err)
	}
	return nil
}

// List returns up to limit entries, newest first.
func (s *BadgerStore) List(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.ScanPrefix(ctx, keyPrefix, func(key string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("decode history entry %s: %w", key, err)
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newestFirst(entries, limit), nil
}

// Clear removes all entries.
func (s *BadgerStore) Clear(ctx context.Context) (int, error) {
	return s.db.DeletePrefix(ctx, keyPrefix)
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Open returns the store selected by backend: "file" stores history.json
// under dir, "badger" opens a database in dir/history.
func Open(backend, dir string, logger *slog.Logger) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(filepath.Join(dir, "history.json"), logger), nil
	case "badger":
		cfg := badger.DefaultConfig(filepath.Join(dir, "history"))
		cfg.Logger = logger
		db, err := badger.Open(cfg)
		if err != nil {
			return nil, err
		}
		return NewBadgerStore(db), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
