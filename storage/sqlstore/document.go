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


package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

const documentColumns = `id, source_id, project_id, name, status, content, error,
	version, created_at, last_updated_at`

// documentRepository implements storage.DocumentRepository.
type documentRepository struct {
	store *Store
}

var _ storage.DocumentRepository = (*documentRepository)(nil)

func scanDocument(row rowScanner) (*core.Document, error) {
	var (
		doc                      core.Document
		status                   int
		createdAt, lastUpdatedAt int64
	)
	err := row.Scan(&doc.ID, &doc.SourceID, &doc.ProjectID, &doc.Name, &status, &doc.Content,
		&doc.Error, &doc.Version, &createdAt, &lastUpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = core.Status(status)
	doc.CreatedAt = fromMicros(createdAt)
	doc.LastUpdatedAt = fromMicros(lastUpdatedAt)
	return &doc, nil
}

// AddDocuments stores new documents, returning the stored copy of any that already exist.
func (r *documentRepository) AddDocuments(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	for _, doc := range docs {
		if err := core.ValidateDocument(doc); err != nil {
			return nil, err
		}
	}

	tx, err := r.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	insert := r.store.rebind(`INSERT INTO documents (` + documentColumns + `)
		VALUES (` + placeholders(10) + `)
		ON CONFLICT (id) DO NOTHING`)
	selectOne := r.store.rebind(`SELECT ` + documentColumns + ` FROM documents WHERE id = ?`)

	now := storage.Timestamp(time.Now())
	result := make([]*core.Document, 0, len(docs))
	for i, doc := range docs {
		stored := doc.Clone()
		storage.NormalizeDocumentTimes(stored)
		stored.Version = 1
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = storage.BatchTime(now, i)
		}
		stored.LastUpdatedAt = stored.CreatedAt

		res, err := tx.ExecContext(ctx, insert,
			stored.ID, stored.SourceID, stored.ProjectID, stored.Name, int(stored.Status),
			stored.Content, stored.Error, stored.Version,
			toMicros(stored.CreatedAt), toMicros(stored.LastUpdatedAt))
		if err != nil {
			return nil, fmt.Errorf("inserting document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			stored, err = scanDocument(tx.QueryRowContext(ctx, selectOne, doc.ID))
			if err != nil {
				return nil, fmt.Errorf("reading existing document: %w", err)
			}
		}
		result = append(result, stored)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing documents: %w", err)
	}
	return result, nil
}

// GetDocument retrieves a single document by ID.
func (r *documentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	query := r.store.rebind(`SELECT ` + documentColumns + ` FROM documents WHERE id = ?`)
	doc, err := scanDocument(r.store.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", storage.ErrNotFound, id)
	}
	return doc, err
}

// ListDocuments returns the documents of a source, optionally filtered by status.
func (r *documentRepository) ListDocuments(ctx context.Context, sourceID string, statuses ...core.Status) ([]*core.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE source_id = ?`
	args := []any{sourceID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, int(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.store.db.QueryContext(ctx, r.store.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocument writes doc if the stored version still equals doc.Version.
// The owning source never changes.
func (r *documentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (bool, error) {
	next := doc.Clone()
	storage.NormalizeDocumentTimes(next)
	next.Version = doc.Version + 1
	next.LastUpdatedAt = storage.Timestamp(time.Now())

	query := r.store.rebind(`UPDATE documents SET
			project_id = ?, name = ?, status = ?, content = ?, error = ?,
			version = ?, last_updated_at = ?
		WHERE id = ? AND version = ?`)
	res, err := r.store.db.ExecContext(ctx, query,
		next.ProjectID, next.Name, int(next.Status), next.Content, next.Error,
		next.Version, toMicros(next.LastUpdatedAt), doc.ID, doc.Version)
	if err != nil {
		return false, fmt.Errorf("updating document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	doc.Version = next.Version
	doc.LastUpdatedAt = next.LastUpdatedAt
	return true, nil
}

// DeleteDocument removes a document record.
func (r *documentRepository) DeleteDocument(ctx context.Context, id string) error {
	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// DeleteSourceDocuments removes every document of a source.
func (r *documentRepository) DeleteSourceDocuments(ctx context.Context, sourceID string) (int, error) {
	res, err := r.store.db.ExecContext(ctx, r.store.rebind(`DELETE FROM documents WHERE source_id = ?`), sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting source documents: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
