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


// Package chromem implements vector.Store on the embedded chromem-go database.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/vector"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "ragindex"

// errNoEmbedding is returned if chromem is ever asked to embed on its own.
// Points always carry their vectors.
var errNoEmbedding = errors.New("chromem store does not compute embeddings")

// Store implements vector.Store for chromem-go.
type Store struct {
	db          *chromem.DB
	collection  *chromem.Collection
	concurrency int
	logger      *slog.Logger
}

var _ vector.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConcurrency sets how many goroutines chromem uses when adding points.
func WithConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Open opens a persistent store in dir, or an in-memory store if dir is empty.
func Open(dir, collection string, opts ...Option) (*Store, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector database: %w", err)
		}
	}
	if collection == "" {
		collection = DefaultCollection
	}

	metadata := map[string]string{"hnsw:space": "cosine"}
	col, err := db.GetOrCreateCollection(collection, metadata, refuseEmbedding)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collection, err)
	}

	s := &Store{
		db:          db,
		collection:  col,
		concurrency: runtime.NumCPU(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chromem", "collection", collection)
	return s, nil
}

// NewMemoryStore creates an in-memory store for testing.
func NewMemoryStore() (*Store, error) {
	return Open("", DefaultCollection)
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}

// Upsert writes points, replacing any point with the same ID.
func (s *Store) Upsert(ctx context.Context, points []core.EmbeddingPoint) error {
	if len(points) == 0 {
		return nil
	}
	if err := vector.ValidatePoints(points); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.ID,
			Metadata:  vector.PayloadMap(p.Payload),
			Embedding: append([]float32(nil), p.Vector...),
			Content:   p.Payload.Content,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, s.concurrency); err != nil {
		return fmt.Errorf("adding points: %w", err)
	}
	s.logger.Debug("upserted points", "count", len(points))
	return nil
}

// Delete removes every point whose payload matches filter.
func (s *Store) Delete(ctx context.Context, filter vector.Filter) error {
	if err := filter.Validate(); err != nil {
		return err
	}
	where := make(map[string]string, 3)
	for _, c := range filter.Must() {
		where[c.Key] = c.Value
	}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Count returns the number of points in the collection.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Close is a no-op; persistent chromem databases write through on every change.
func (s *Store) Close() error {
	return nil
}
