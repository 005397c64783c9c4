// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive uploads patch documents and the descriptors they were
// produced from to an object store, grouped under a timestamped prefix.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/dbcpatch/services/patch"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeDBC  = "application/octet-stream"

	cacheControl = "no-cache, no-store, must-revalidate"
	stampLayout  = "20060102T150405Z"
)

// ErrNoStore is returned when an Archiver is built without a destination.
var ErrNoStore = errors.New("archive store is not configured")

// Store writes named objects.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) error
}

// =============================================================================
// GCS
// =============================================================================

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	Bucket string
}

// NewGCS opens a client authenticated with the service account key at keyPath.
func NewGCS(ctx context.Context, bucket, keyPath string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s", keyPath)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsFile(keyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{client: client, Bucket: bucket}, nil
}

// Put streams r into gs://Bucket/name.
func (g *GCS) Put(ctx context.Context, name string, r io.Reader, contentType string) error {
	w := g.client.Bucket(g.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = cacheControl

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy to GCS object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// =============================================================================
// Local directory
// =============================================================================

// Dir stores objects as files below Root. It mirrors the bucket layout so an
// archive can be inspected without cloud credentials.
type Dir struct {
	Root string
}

func (d Dir) Put(_ context.Context, name string, r io.Reader, _ string) error {
	dest := filepath.Join(d.Root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive object: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write archive object %s: %w", name, err)
	}
	return f.Close()
}

// =============================================================================
// Archiver
// =============================================================================

// Archiver groups a document and its inputs under one prefix per run.
type Archiver struct {
	store  Store
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithPrefix sets the leading path segment for every object.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) { a.prefix = prefix }
}

// WithClock replaces the clock used for the run prefix.
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New creates an Archiver writing to store.
func New(store Store, logger *slog.Logger, opts ...Option) (*Archiver, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{store: store, prefix: "dbcpatch", now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ArchiveDocument uploads doc as patch.json together with each file in files,
// keyed by base name, under <prefix>/<UTC timestamp>/. It returns the object
// names written, in upload order. Upload stops at the first failure.
func (a *Archiver) ArchiveDocument(ctx context.Context, doc *patch.Document, files ...string) ([]string, error) {
	base := path.Join(a.prefix, a.now().UTC().Format(stampLayout))
	written := make([]string, 0, len(files)+1)

	var buf bytes.Buffer
	if err := patch.Encode(&buf, doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	name := path.Join(base, "patch.json")
	if err := a.store.Put(ctx, name, &buf, ContentTypeJSON); err != nil {
		return written, err
	}
	written = append(written, name)

	for _, file := range files {
		name, err := a.putFile(ctx, base, file)
		if err != nil {
			return written, err
		}
		written = append(written, name)
	}

	a.logger.Info("archived patch",
		"prefix", base,
		"objects", len(written),
		"rules", len(doc.Rules))
	return written, nil
}

func (a *Archiver) putFile(ctx context.Context, base, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", fmt.Errorf("failed to open the local file: %s: %w", file, err)
	}
	defer f.Close()

	name := path.Join(base, filepath.Base(file))
	if err := a.store.Put(ctx, name, f, ContentTypeDBC); err != nil {
		return "", err
	}
	return name, nil
}
