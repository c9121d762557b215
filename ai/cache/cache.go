// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package cache provides an in-memory LRU decorator for ai.Embedder.
//
// Re-scraped pages frequently produce identical chunks. Cached chunks are
// served without a provider call and count zero tokens.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/core"
)

// Embedder wraps another embedder with an LRU cache keyed by content hash.
type Embedder struct {
	inner ai.Embedder
	cache *lru.Cache[string, []float32]
}

var _ ai.Embedder = (*Embedder)(nil)

// New wraps inner with a cache holding up to size embeddings.
func New(inner ai.Embedder, size int) (*Embedder, error) {
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}
	return &Embedder{inner: inner, cache: c}, nil
}

// EmbedMany serves cached texts from memory and embeds the rest in a single
// call to the wrapped embedder.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
	result := &ai.EmbeddingResult{Embeddings: make([][]float32, len(texts))}

	keys := make([]string, len(texts))
	missing := map[string][]int{}
	var pending []string
	for i, text := range texts {
		keys[i] = core.ContentHash(text)
		if vec, ok := e.cache.Get(keys[i]); ok {
			result.Embeddings[i] = vec
			continue
		}
		if _, seen := missing[keys[i]]; !seen {
			pending = append(pending, text)
		}
		missing[keys[i]] = append(missing[keys[i]], i)
	}

	if len(pending) == 0 {
		return result, nil
	}

	fresh, err := e.inner.EmbedMany(ctx, pending)
	if err != nil {
		return nil, err
	}
	if err := fresh.CheckCount(len(pending)); err != nil {
		return nil, err
	}

	for j, text := range pending {
		key := core.ContentHash(text)
		vec := fresh.Embeddings[j]
		e.cache.Add(key, vec)
		for _, i := range missing[key] {
			result.Embeddings[i] = vec
		}
	}
	result.Tokens = fresh.Tokens
	return result, nil
}

// Len returns the number of cached embeddings.
func (e *Embedder) Len() int {
	return e.cache.Len()
}
