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


// Package catalog manages sources and their documents on behalf of users.
// Every change that needs indexing work re-queues the source so a worker
// picks it up.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// DefaultMaxTries bounds how often a version-guarded change is re-read and
// retried when a concurrent writer got there first.
const DefaultMaxTries = 5

var (
	// ErrSourceDeleted indicates a change to a source that is being deleted.
	ErrSourceDeleted = errors.New("source is deleted")

	// ErrConcurrentModification indicates a change kept losing to other writers.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrDocumentNotInSource indicates a URL that the source does not contain.
	ErrDocumentNotInSource = errors.New("document not in source")
)

// SourceView is a source with its documents.
type SourceView struct {
	Source    *core.Source
	Documents []*core.Document
}

// Catalog creates, edits and deletes sources.
type Catalog struct {
	sources   storage.SourceRepository
	documents storage.DocumentRepository
	maxTries  int
	logger    *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithMaxTries sets the re-read bound for version-guarded changes.
func WithMaxTries(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a catalog over the job store repositories.
func New(sources storage.SourceRepository, documents storage.DocumentRepository, opts ...Option) (*Catalog, error) {
	if sources == nil || documents == nil {
		return nil, errors.New("catalog requires source and document repositories")
	}
	c := &Catalog{
		sources:   sources,
		documents: documents,
		maxTries:  DefaultMaxTries,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "catalog")
	return c, nil
}

// CreateSource validates urls and stores a pending source with one pending
// document per URL. The documents are stored before the source.
func (c *Catalog) CreateSource(ctx context.Context, projectID, name string, urls []string) (*core.Source, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, core.ErrEmptyProjectID
	}
	valid, err := core.ValidateURLs(urls)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = valid[0]
	}

	src := &core.Source{
		ID:        core.NewSourceID(),
		ProjectID: projectID,
		Name:      name,
		Status:    core.StatusPending,
		Data:      core.SourceData{Type: core.SourceTypeURLs, URLs: valid},
	}

	// Documents go first: a pending source is claimable as soon as it exists.
	if _, err := c.documents.AddDocuments(ctx, newDocuments(src, valid)...); err != nil {
		return nil, fmt.Errorf("creating documents: %w", err)
	}
	created, err := c.sources.CreateSource(ctx, src)
	if err != nil {
		if _, cleanupErr := c.documents.DeleteSourceDocuments(ctx, src.ID); cleanupErr != nil {
			c.logger.Warn("failed to remove documents of unsaved source", "source", src.ID, "err", cleanupErr)
		}
		return nil, fmt.Errorf("creating source: %w", err)
	}
	c.logger.Info("source created", "source", created.ID, "project", projectID, "urls", len(valid))
	return created, nil
}

// AddURLs adds documents for urls and re-queues the source. A URL that was
// removed earlier revives its document.
func (c *Catalog) AddURLs(ctx context.Context, sourceID string, urls []string) ([]*core.Document, error) {
	valid, err := core.ValidateURLs(urls)
	if err != nil {
		return nil, err
	}
	src, err := c.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if src.Status == core.StatusDeleted {
		return nil, ErrSourceDeleted
	}

	stored, err := c.documents.AddDocuments(ctx, newDocuments(src, valid)...)
	if err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}
	for i, doc := range stored {
		if doc.Status != core.StatusDeleted {
			continue
		}
		revived, err := c.modifyDocument(ctx, doc.ID, func(d *core.Document) error {
			d.Status = core.StatusPending
			d.Error = ""
			return nil
		})
		if err != nil {
			return nil, err
		}
		stored[i] = revived
	}

	err = c.requeue(ctx, sourceID, func(s *core.Source) {
		for _, u := range valid {
			if !slices.Contains(s.Data.URLs, u) {
				s.Data.URLs = append(s.Data.URLs, u)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// RemoveURL marks the document for url deleted and re-queues the source so
// its points are removed.
func (c *Catalog) RemoveURL(ctx context.Context, sourceID, url string) error {
	u, err := core.NormalizeURL(url)
	if err != nil {
		return err
	}
	doc, err := c.documents.GetDocument(ctx, core.DocumentID(sourceID, u))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrDocumentNotInSource, u)
	}
	if err != nil {
		return err
	}
	return c.removeDocument(ctx, doc)
}

// RemoveDocument marks a document deleted and re-queues its source.
func (c *Catalog) RemoveDocument(ctx context.Context, docID string) error {
	doc, err := c.documents.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	return c.removeDocument(ctx, doc)
}

func (c *Catalog) removeDocument(ctx context.Context, doc *core.Document) error {
	src, err := c.sources.GetSource(ctx, doc.SourceID)
	if err != nil {
		return err
	}
	if src.Status == core.StatusDeleted {
		return ErrSourceDeleted
	}

	if _, err := c.modifyDocument(ctx, doc.ID, func(d *core.Document) error {
		d.Status = core.StatusDeleted
		return nil
	}); err != nil {
		return err
	}

	err = c.requeue(ctx, doc.SourceID, func(s *core.Source) {
		s.Data.URLs = slices.DeleteFunc(s.Data.URLs, func(u string) bool { return u == doc.Name })
	})
	if err != nil {
		return err
	}
	c.logger.Info("document removed", "source", doc.SourceID, "doc", doc.ID, "url", doc.Name)
	return nil
}

// DeleteSource marks a source deleted with a fresh attempt budget so the
// cascade runs. Deleting a source that is already deleted resets its budget.
func (c *Catalog) DeleteSource(ctx context.Context, sourceID string) error {
	_, err := c.modifySource(ctx, sourceID, func(s *core.Source) error {
		s.Status = core.StatusDeleted
		s.Attempts = 0
		s.Error = ""
		s.BillingError = ""
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("source marked deleted", "source", sourceID)
	return nil
}

// Requeue puts a source back in the processing queue with a fresh attempt
// budget and cleared errors.
func (c *Catalog) Requeue(ctx context.Context, sourceID string) error {
	return c.requeue(ctx, sourceID, nil)
}

// Describe returns a source and all of its documents.
func (c *Catalog) Describe(ctx context.Context, sourceID string) (*SourceView, error) {
	src, err := c.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	docs, err := c.documents.ListDocuments(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return &SourceView{Source: src, Documents: docs}, nil
}

// ListSources returns the sources of a project, or every source for "".
func (c *Catalog) ListSources(ctx context.Context, projectID string) ([]*core.Source, error) {
	return c.sources.ListSources(ctx, projectID)
}

func (c *Catalog) requeue(ctx context.Context, sourceID string, edit func(*core.Source)) error {
	_, err := c.modifySource(ctx, sourceID, func(s *core.Source) error {
		if s.Status == core.StatusDeleted {
			return ErrSourceDeleted
		}
		if edit != nil {
			edit(s)
		}
		s.Status = core.StatusPending
		s.Attempts = 0
		s.Error = ""
		s.BillingError = ""
		return nil
	})
	return err
}

// modifySource applies change to a fresh read of the source until the
// version-guarded write applies or maxTries is reached.
func (c *Catalog) modifySource(ctx context.Context, id string, change func(*core.Source) error) (*core.Source, error) {
	for try := 0; try < c.maxTries; try++ {
		src, err := c.sources.GetSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := change(src); err != nil {
			return nil, err
		}
		applied, err := c.sources.UpdateSource(ctx, src)
		if err != nil {
			return nil, err
		}
		if applied {
			return src, nil
		}
		c.logger.Debug("source changed concurrently, retrying", "source", id, "try", try+1)
	}
	return nil, fmt.Errorf("%w: source %s", ErrConcurrentModification, id)
}

func (c *Catalog) modifyDocument(ctx context.Context, id string, change func(*core.Document) error) (*core.Document, error) {
	for try := 0; try < c.maxTries; try++ {
		doc, err := c.documents.GetDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := change(doc); err != nil {
			return nil, err
		}
		applied, err := c.documents.UpdateDocument(ctx, doc)
		if err != nil {
			return nil, err
		}
		if applied {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: document %s", ErrConcurrentModification, id)
}

func newDocuments(src *core.Source, urls []string) []*core.Document {
	docs := make([]*core.Document, len(urls))
	for i, u := range urls {
		docs[i] = &core.Document{
			ID:        core.DocumentID(src.ID, u),
			SourceID:  src.ID,
			ProjectID: src.ProjectID,
			Name:      u,
			Status:    core.StatusPending,
		}
	}
	return docs
}
