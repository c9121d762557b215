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


package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/ragindex/catalog"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// DefaultBatchSize is the number of sources handled between progress checks.
const DefaultBatchSize = 50

// Requeuer puts a source back in the processing queue. *catalog.Catalog
// implements it.
type Requeuer interface {
	Requeue(ctx context.Context, sourceID string) error
}

// Config holds refresh tuning.
type Config struct {
	// BatchSize is the number of sources handled per batch.
	BatchSize int

	// ReportInterval is how often to report progress, in sources.
	ReportInterval int
}

// DefaultConfig returns the default refresh configuration.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 10,
	}
}

// Summary is the outcome of a refresh run.
type Summary struct {
	Sources   int // sources re-queued
	Documents int // documents moved back to pending
	Skipped   int // sources left alone because they are deleted or changed
}

// Refresher re-queues the indexed content of a project.
type Refresher struct {
	sources   storage.SourceRepository
	documents storage.DocumentRepository
	requeuer  Requeuer
	config    *Config
	progress  io.Writer
	logger    *slog.Logger
}

// NewRefresher creates a refresher. A nil config uses DefaultConfig.
func NewRefresher(sources storage.SourceRepository, documents storage.DocumentRepository, requeuer Requeuer, config *Config, progress io.Writer) *Refresher {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Refresher{
		sources:   sources,
		documents: documents,
		requeuer:  requeuer,
		config:    config,
		progress:  progress,
		logger:    slog.Default().With("component", "refresh"),
	}
}

// Run refreshes every source of projectID, or of every project for "".
func (r *Refresher) Run(ctx context.Context, projectID string) (*Summary, error) {
	all, err := r.sources.ListSources(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	summary := &Summary{}
	if len(all) == 0 {
		fmt.Fprintf(r.progress, "No sources found\n")
		return summary, nil
	}
	fmt.Fprintf(r.progress, "Refreshing %d sources (batch size: %d)\n", len(all), r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, len(all), r.config.ReportInterval)
	tracker.Start()

	err = forEachBatch(ctx, all, r.config.BatchSize, func(batch []*core.Source) error {
		for _, src := range batch {
			n, requeued, err := r.refreshSource(ctx, src)
			if err != nil {
				return fmt.Errorf("refreshing source %s: %w", src.ID, err)
			}
			if requeued {
				summary.Sources++
				summary.Documents += n
			} else {
				summary.Skipped++
			}
			tracker.Add(n)
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	tracker.Finish()
	fmt.Fprintf(r.progress, "Refresh complete. Queued %d sources and %d documents in %v\n",
		summary.Sources, summary.Documents, tracker.Elapsed().Round(time.Millisecond))
	return summary, nil
}

// refreshSource moves a source's finished documents back to pending and
// re-queues it. Documents whose version moved on are left alone.
func (r *Refresher) refreshSource(ctx context.Context, src *core.Source) (int, bool, error) {
	if src.Status == core.StatusDeleted {
		return 0, false, nil
	}

	docs, err := r.documents.ListDocuments(ctx, src.ID, core.StatusReady, core.StatusError)
	if err != nil {
		return 0, false, err
	}
	queued := 0
	for _, doc := range docs {
		doc.Status = core.StatusPending
		doc.Error = ""
		applied, err := r.documents.UpdateDocument(ctx, doc)
		if err != nil {
			return queued, false, err
		}
		if applied {
			queued++
		}
	}

	if err := r.requeuer.Requeue(ctx, src.ID); err != nil {
		// Deleted between listing and now.
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, catalog.ErrSourceDeleted) {
			r.logger.Debug("source gone during refresh", "source", src.ID, "err", err)
			return queued, false, nil
		}
		return queued, false, err
	}
	return queued, true, nil
}

// forEachBatch calls fn with consecutive batches of sources, checking ctx
// between batches.
func forEachBatch(ctx context.Context, sources []*core.Source, size int, fn func([]*core.Source) error) error {
	for start := 0; start < len(sources); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(sources))
		if err := fn(sources[start:end]); err != nil {
			return err
		}
	}
	return ctx.Err()
}

var _ Requeuer = (*catalog.Catalog)(nil)
