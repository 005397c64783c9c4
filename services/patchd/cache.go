// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patchd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/dbcpatch/pkg/matrix"
	"github.com/AleutianAI/dbcpatch/pkg/matrix/dbc"
)

// modelCache keeps parsed descriptors keyed by name and content hash.
// Cached models are shared between requests and must not be mutated; the
// workflow applies to clones.
type modelCache struct {
	cache *lru.Cache[string, *matrix.Matrix]
}

func newModelCache(size int) (*modelCache, error) {
	cache, err := lru.New[string, *matrix.Matrix](size)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return &modelCache{cache: cache}, nil
}

// parse returns the model for d, parsing it on a miss.
func (c *modelCache) parse(d Descriptor) (*matrix.Matrix, error) {
	sum := sha256.Sum256([]byte(d.Content))
	key := d.Name + "@" + hex.EncodeToString(sum[:])

	if m, ok := c.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return m, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	m, err := dbc.Parse(d.Name, []byte(d.Content))
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, m)
	return m, nil
}

func (c *modelCache) len() int {
	return c.cache.Len()
}
