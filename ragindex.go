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


// Package ragindex keeps a vector index in sync with web sources.
//
// An Index opens the job store described by a Config and builds, on first
// use, the processing stack workers need: vector store, embedder, scraper
// and quota gate.
package ragindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/ai/cache"
	"github.com/poiesic/ragindex/ai/gemini"
	"github.com/poiesic/ragindex/ai/openai"
	"github.com/poiesic/ragindex/catalog"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/fetch"
	"github.com/poiesic/ragindex/fetch/firecrawl"
	"github.com/poiesic/ragindex/indexing"
	"github.com/poiesic/ragindex/quota"
	"github.com/poiesic/ragindex/refresh"
	"github.com/poiesic/ragindex/retry"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/storage/badger"
	"github.com/poiesic/ragindex/storage/sqlstore"
	"github.com/poiesic/ragindex/vector"
	"github.com/poiesic/ragindex/vector/chromem"
	"github.com/poiesic/ragindex/vector/qdrant"
)

// ErrScraperNotConfigured is returned when processing is requested without
// a scraper API key or fetcher.
var ErrScraperNotConfigured = errors.New("scraper api key is not configured")

// Index wires a configuration to a job store and a processing stack.
type Index struct {
	config  *Config
	store   storage.Store
	catalog *catalog.Catalog
	logger  *slog.Logger

	mu       sync.Mutex // guards the processing stack below
	vectors  vector.Store
	embedder ai.Embedder
	fetcher  fetch.Fetcher
	gate     quota.Gate
	splitter chunking.Splitter
	closers  []io.Closer
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithFetcher replaces the configured scraper.
func WithFetcher(f fetch.Fetcher) Option {
	return func(ix *Index) {
		ix.fetcher = f
	}
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e ai.Embedder) Option {
	return func(ix *Index) {
		ix.embedder = e
	}
}

// WithVectorStore replaces the configured vector store. The caller keeps
// ownership and closes it.
func WithVectorStore(v vector.Store) Option {
	return func(ix *Index) {
		ix.vectors = v
	}
}

// WithQuotaGate replaces the configured billing gate.
func WithQuotaGate(g quota.Gate) Option {
	return func(ix *Index) {
		ix.gate = g
	}
}

// Open validates cfg and opens its job store.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Index, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ix := &Index{config: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(ix)
	}

	store, err := openStore(ctx, cfg.Store, ix.logger)
	if err != nil {
		return nil, err
	}
	ix.store = store

	ix.catalog, err = catalog.New(store.Sources(), store.Documents(), catalog.WithLogger(ix.logger))
	if err != nil {
		store.Close()
		return nil, err
	}
	return ix, nil
}

func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Driver {
	case StoreBadger:
		return badger.OpenStore(cfg.Path, logger)
	case StoreSQLite:
		return sqlstore.OpenSQLite(ctx, cfg.Path, sqlstore.WithLogger(logger))
	case StorePostgres:
		return sqlstore.OpenPostgres(ctx, cfg.URL, sqlstore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// Close closes the processing stack and the job store.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var errs []error
	for i := len(ix.closers) - 1; i >= 0; i-- {
		if err := ix.closers[i].Close(); err != nil {
			ix.logger.Error("error closing index component", "err", err)
			errs = append(errs, err)
		}
	}
	ix.closers = nil

	if err := ix.store.Close(); err != nil {
		ix.logger.Error("error closing job store", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the index was opened with.
func (ix *Index) Config() *Config {
	return ix.config
}

// Store returns the job store.
func (ix *Index) Store() storage.Store {
	return ix.store
}

// Catalog returns the source management API.
func (ix *Index) Catalog() *catalog.Catalog {
	return ix.catalog
}

// NewRefresher creates a refresher reporting to progress.
func (ix *Index) NewRefresher(progress io.Writer) *refresh.Refresher {
	return refresh.NewRefresher(ix.store.Sources(), ix.store.Documents(), ix.catalog, nil, progress)
}

// NewPipeline creates a pipeline over the index's processing stack.
// The caller releases it.
func (ix *Index) NewPipeline(opts ...indexing.Option) (*indexing.Pipeline, error) {
	if err := ix.buildStack(context.Background()); err != nil {
		return nil, err
	}
	w := ix.config.Worker
	base := []indexing.Option{
		indexing.WithQuotaGate(ix.gate),
		indexing.WithDocumentConcurrency(w.DocumentConcurrency),
		indexing.WithFetchRetry(retry.Policy{
			Attempts:  w.FetchAttempts,
			BaseDelay: time.Duration(w.FetchRetryDelay),
			MaxDelay:  30 * time.Second,
		}),
		indexing.WithLogger(ix.logger),
	}
	return indexing.NewPipeline(ix.store.Sources(), ix.store.Documents(), ix.vectors,
		ix.fetcher, ix.splitter, ix.embedder, append(base, opts...)...)
}

// NewWorker creates a worker over pipeline with the configured claim policy.
func (ix *Index) NewWorker(pipeline *indexing.Pipeline, name string, opts ...indexing.WorkerOption) (*indexing.Worker, error) {
	w := ix.config.Worker
	base := []indexing.WorkerOption{
		indexing.WithPolicy(w.ClaimPolicy()),
		indexing.WithPollInterval(time.Duration(w.PollInterval)),
		indexing.WithWorkerLogger(ix.logger),
		indexing.WithName(name),
	}
	return indexing.NewWorker(ix.store.Sources(), pipeline, append(base, opts...)...)
}

// buildStack creates the components that were not injected.
func (ix *Index) buildStack(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cfg := ix.config

	if ix.splitter == nil {
		splitter, err := chunking.New(cfg.Chunking)
		if err != nil {
			return err
		}
		ix.splitter = splitter
	}

	if ix.fetcher == nil {
		if cfg.Scraper.APIKey == "" {
			return ErrScraperNotConfigured
		}
		ix.fetcher = firecrawl.New(cfg.Scraper.APIKey,
			firecrawl.WithBaseURL(cfg.Scraper.BaseURL),
			firecrawl.WithRateLimit(cfg.Scraper.RateLimit, cfg.Scraper.Burst),
			firecrawl.WithLogger(ix.logger))
	}

	if ix.gate == nil {
		gate, err := newGate(cfg.Billing, ix.logger)
		if err != nil {
			return err
		}
		ix.gate = gate
	}

	if ix.embedder == nil {
		embedder, err := ix.newEmbedder(ctx)
		if err != nil {
			return err
		}
		ix.embedder = embedder
	}

	if ix.vectors == nil {
		vectors, err := newVectorStore(cfg.Vector, ix.logger)
		if err != nil {
			return err
		}
		ix.vectors = vectors
		ix.closers = append(ix.closers, vectors)
	}
	return nil
}

func (ix *Index) newEmbedder(ctx context.Context) (ai.Embedder, error) {
	cfg := ix.config.Embedding
	var embedder ai.Embedder
	switch cfg.Provider {
	case ai.ProviderGemini:
		g, err := gemini.NewEmbedder(ctx, &cfg, gemini.WithLogger(ix.logger))
		if err != nil {
			return nil, err
		}
		ix.closers = append(ix.closers, g)
		embedder = g
	default:
		o, err := openai.NewEmbedder(&cfg, openai.WithLogger(ix.logger))
		if err != nil {
			return nil, err
		}
		embedder = o
	}
	if cfg.CacheSize > 0 {
		return cache.New(embedder, cfg.CacheSize)
	}
	return embedder, nil
}

func newGate(cfg BillingConfig, logger *slog.Logger) (quota.Gate, error) {
	if !cfg.Enabled {
		return quota.Disabled(), nil
	}
	return quota.NewClient(cfg.URL, quota.WithAPIKey(cfg.APIKey), quota.WithLogger(logger))
}

func newVectorStore(cfg VectorConfig, logger *slog.Logger) (vector.Store, error) {
	switch cfg.Driver {
	case VectorQdrant:
		return qdrant.New(cfg.URL, cfg.Collection, qdrant.WithAPIKey(cfg.APIKey), qdrant.WithLogger(logger))
	case VectorChromem:
		return chromem.Open(cfg.Path, cfg.Collection, chromem.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown vector driver %q", ErrInvalidConfig, cfg.Driver)
	}
}
