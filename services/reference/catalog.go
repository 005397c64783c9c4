// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reference implements the reference catalog: a persistent store of
// known-good signal and message definitions used as templates when a patch
// has to create something it carries no definition for.
package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
)

// Hit kinds returned by Search.
const (
	KindSignal  = "signal"
	KindMessage = "message"
)

// Catalog maps signal names to signal definitions and message keys to
// message definitions. Messages are stored twice: under the composite key
// "<hex id>:<name>" and under the bare name. Imports overwrite existing
// entries.
//
// Thread Safety: all methods are safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	path     string
	signals  map[string]*matrix.Signal
	messages map[string]*matrix.Message
	logger   *slog.Logger
}

type catalogFile struct {
	Signals  map[string]*matrix.Signal  `json:"signals"`
	Messages map[string]*matrix.Message `json:"messages"`
}

// Hit is one Search result.
type Hit struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	MessageID string `json:"message_id,omitempty"`
}

// Stats summarises the catalog contents.
type Stats struct {
	Path     string `json:"path"`
	Signals  int    `json:"signals"`
	Messages int    `json:"messages"`
}

// MessageKey returns the composite catalog key of a message.
func MessageKey(id uint32, name string) string {
	return matrix.FormatID(id) + ":" + name
}

// New returns an empty catalog bound to path. Nothing is read or written.
func New(path string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		path:     path,
		signals:  map[string]*matrix.Signal{},
		messages: map[string]*matrix.Message{},
		logger:   logger,
	}
}

// Load reads the catalog at path. A missing file is created empty.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	c := New(path, logger)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Info("creating empty reference catalog", "path", path)
		if err := c.Save(); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reference catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode reference catalog %s: %w", path, err)
	}
	for name, s := range file.Signals {
		if s == nil {
			continue
		}
		if s.Name == "" {
			s.Name = name
		}
		c.signals[name] = s
	}
	for key, m := range file.Messages {
		if m != nil {
			c.messages[key] = m
		}
	}
	c.logger.Debug("reference catalog loaded",
		"path", path,
		"signals", len(c.signals),
		"messages", len(c.messages))
	return c, nil
}

// Path returns the file the catalog is saved to.
func (c *Catalog) Path() string {
	return c.path
}

// Save writes the catalog to its path.
func (c *Catalog) Save() error {
	return c.Export(c.path)
}

// Export writes the catalog to path in the catalog JSON format.
func (c *Catalog) Export(path string) error {
	c.mu.RLock()
	data, err := json.MarshalIndent(catalogFile{Signals: c.signals, Messages: c.messages}, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode reference catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write reference catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace reference catalog: %w", err)
	}
	return nil
}

// Import copies every message and signal of m into the catalog and returns
// how many signals and messages were stored.
func (c *Catalog) Import(m *matrix.Matrix) (signals, messages int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, msg := range m.Messages() {
		c.messages[MessageKey(msg.ID, msg.Name)] = msg.Clone()
		c.messages[msg.Name] = msg.Clone()
		messages++
		for _, s := range msg.Signals {
			c.signals[s.Name] = s.Clone()
			signals++
		}
	}
	c.logger.Info("reference catalog imported",
		"source", m.Source,
		"signals", signals,
		"messages", messages)
	return signals, messages
}

// LookupSignal returns a copy of the named signal definition.
func (c *Catalog) LookupSignal(name string) (*matrix.Signal, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.signals[name]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// LookupMessage returns a copy of the message stored under the composite
// key of id and name, falling back to the bare name.
func (c *Catalog) LookupMessage(id uint32, name string) (*matrix.Message, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.messages[MessageKey(id, name)]; ok {
		return m.Clone(), true
	}
	if name == "" {
		return nil, false
	}
	if m, ok := c.messages[name]; ok {
		return m.Clone(), true
	}
	return nil, false
}

// Search returns signals and messages whose name contains term, ignoring
// case. An empty term matches everything. Results are ordered by kind, then
// name, then id.
func (c *Catalog) Search(term string) []Hit {
	c.mu.RLock()
	defer c.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(term))
	match := func(name string) bool {
		return strings.Contains(strings.ToLower(name), needle)
	}

	var hits []Hit
	for name := range c.signals {
		if match(name) {
			hits = append(hits, Hit{Kind: KindSignal, Name: name})
		}
	}
	for _, m := range c.uniqueMessages() {
		if match(m.Name) {
			hits = append(hits, Hit{Kind: KindMessage, Name: m.Name, MessageID: m.HexID()})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Kind != hits[j].Kind {
			return hits[i].Kind < hits[j].Kind
		}
		if hits[i].Name != hits[j].Name {
			return hits[i].Name < hits[j].Name
		}
		return hits[i].MessageID < hits[j].MessageID
	})
	return hits
}

// Stats returns entry counts. Messages are counted once even though they
// are stored under two keys.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Path: c.path, Signals: len(c.signals), Messages: len(c.uniqueMessages())}
}

// uniqueMessages collapses composite and bare-name entries. Callers hold mu.
func (c *Catalog) uniqueMessages() []*matrix.Message {
	seen := make(map[string]struct{}, len(c.messages))
	var out []*matrix.Message
	for _, m := range c.messages {
		key := MessageKey(m.ID, m.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}
