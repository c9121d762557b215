package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragindex/core"
)

// SourceRepository provides operations for managing sources.
// Sources are both configuration and the job queue, so the repository
// also exposes the atomic claim operations used by workers.
type SourceRepository interface {
	// CreateSource stores a new source.
	// Sets Version to 1 and CreatedAt/LastUpdatedAt if not already set.
	// Returns ErrDuplicateKey if a source with the same ID exists.
	CreateSource(ctx context.Context, src *core.Source) (*core.Source, error)

	// GetSource retrieves a single source by ID.
	// Returns ErrNotFound if the source doesn't exist.
	GetSource(ctx context.Context, id string) (*core.Source, error)

	// ListSources returns the sources of a project ordered by creation time.
	// An empty projectID lists every source.
	ListSources(ctx context.Context, projectID string) ([]*core.Source, error)

	// ClaimDeletion atomically claims the oldest deleted source that is still
	// within the policy's attempt ceiling, incrementing Attempts and setting
	// LastAttemptAt to now in the same write.
	// Returns nil, nil if no source is claimable.
	ClaimDeletion(ctx context.Context, now time.Time, policy ClaimPolicy) (*core.Source, error)

	// ClaimProcessing atomically claims the oldest source eligible for
	// processing under the policy, setting Status to pending, incrementing
	// Attempts and setting LastAttemptAt to now in the same write.
	// Returns nil, nil if no source is claimable.
	ClaimProcessing(ctx context.Context, now time.Time, policy ClaimPolicy) (*core.Source, error)

	// UpdateSource writes src if the stored version still equals src.Version.
	// On success the stored version is incremented and src.Version and
	// src.LastUpdatedAt reflect the stored record.
	// Returns false, nil if the source changed or no longer exists.
	UpdateSource(ctx context.Context, src *core.Source) (bool, error)

	// DeleteSource removes the source record. Deleting a missing source is not an error.
	DeleteSource(ctx context.Context, id string) error
}

// DocumentRepository provides operations for managing source documents.
type DocumentRepository interface {
	// AddDocuments stores new documents. Documents whose ID already exists are
	// left untouched and the stored copy is returned in their place.
	AddDocuments(ctx context.Context, docs ...*core.Document) ([]*core.Document, error)

	// GetDocument retrieves a single document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// ListDocuments returns the documents of a source, optionally restricted
	// to the given statuses, ordered by creation time.
	ListDocuments(ctx context.Context, sourceID string, statuses ...core.Status) ([]*core.Document, error)

	// UpdateDocument writes doc if the stored version still equals doc.Version.
	// Returns false, nil if the document changed or no longer exists.
	UpdateDocument(ctx context.Context, doc *core.Document) (bool, error)

	// DeleteDocument removes a document record. Deleting a missing document is not an error.
	DeleteDocument(ctx context.Context, id string) error

	// DeleteSourceDocuments removes every document of a source and returns
	// how many were removed.
	DeleteSourceDocuments(ctx context.Context, sourceID string) (int, error)
}

// Store is a Job Store backend exposing both repositories.
// Implementations must be thread-safe.
type Store interface {
	Sources() SourceRepository
	Documents() DocumentRepository

	// Close closes the storage backend and releases resources.
	Close() error
}
