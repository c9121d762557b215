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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

const sourceColumns = `id, project_id, name, status, attempts, last_attempt_at, error,
	billing_error, version, created_at, last_updated_at, data`

// Eligibility predicates. They mirror storage.ClaimPolicy exactly.
const (
	processingPredicate = `((status = ? AND (attempts = 0 OR last_attempt_at < ?))
	OR (status = ? AND (attempts < ? OR (? = 1 AND last_attempt_at < ?))))`
	deletionPredicate = `(status = ? AND attempts <= ?)`
)

// sourceRepository implements storage.SourceRepository.
type sourceRepository struct {
	store *Store
}

var _ storage.SourceRepository = (*sourceRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*core.Source, error) {
	var (
		src                                     core.Source
		status                                  int
		lastAttemptAt, createdAt, lastUpdatedAt int64
		data                                    string
	)
	err := row.Scan(&src.ID, &src.ProjectID, &src.Name, &status, &src.Attempts, &lastAttemptAt,
		&src.Error, &src.BillingError, &src.Version, &createdAt, &lastUpdatedAt, &data)
	if err != nil {
		return nil, err
	}
	src.Status = core.Status(status)
	src.LastAttemptAt = fromMicros(lastAttemptAt)
	src.CreatedAt = fromMicros(createdAt)
	src.LastUpdatedAt = fromMicros(lastUpdatedAt)
	if err := json.Unmarshal([]byte(data), &src.Data); err != nil {
		return nil, fmt.Errorf("%w: source data: %w", storage.ErrSerializationFailed, err)
	}
	return &src, nil
}

func marshalSourceData(data core.SourceData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshalling source data: %w", err)
	}
	return string(b), nil
}

// CreateSource stores a new source.
func (r *sourceRepository) CreateSource(ctx context.Context, src *core.Source) (*core.Source, error) {
	if err := core.ValidateSource(src); err != nil {
		return nil, err
	}
	stored := src.Clone()
	storage.NormalizeSourceTimes(stored)
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = storage.Timestamp(time.Now())
	}
	if stored.LastUpdatedAt.IsZero() {
		stored.LastUpdatedAt = stored.CreatedAt
	}

	data, err := marshalSourceData(stored.Data)
	if err != nil {
		return nil, err
	}

	query := r.store.rebind(`INSERT INTO sources (` + sourceColumns + `)
		VALUES (` + placeholders(12) + `)
		ON CONFLICT (id) DO NOTHING`)
	res, err := r.store.db.ExecContext(ctx, query,
		stored.ID, stored.ProjectID, stored.Name, int(stored.Status), stored.Attempts,
		toMicros(stored.LastAttemptAt), stored.Error, stored.BillingError, stored.Version,
		toMicros(stored.CreatedAt), toMicros(stored.LastUpdatedAt), data)
	if err != nil {
		return nil, fmt.Errorf("inserting source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: source %s", storage.ErrDuplicateKey, stored.ID)
	}
	return stored, nil
}

// GetSource retrieves a single source by ID.
func (r *sourceRepository) GetSource(ctx context.Context, id string) (*core.Source, error) {
	query := r.store.rebind(`SELECT ` + sourceColumns + ` FROM sources WHERE id = ?`)
	src, err := scanSource(r.store.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source %s", storage.ErrNotFound, id)
	}
	return src, err
}

// ListSources returns the sources of a project ordered by creation time.
func (r *sourceRepository) ListSources(ctx context.Context, projectID string) ([]*core.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.store.db.QueryContext(ctx, r.store.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []*core.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// ClaimDeletion atomically claims the oldest source awaiting the deletion cascade.
func (r *sourceRepository) ClaimDeletion(ctx context.Context, now time.Time, policy storage.ClaimPolicy) (*core.Source, error) {
	policy = policy.Normalize()
	args := []any{int(core.StatusDeleted), policy.MaxAttempts}
	return r.claim(ctx, now, deletionPredicate, args)
}

// ClaimProcessing atomically claims the oldest source eligible for processing.
func (r *sourceRepository) ClaimProcessing(ctx context.Context, now time.Time, policy storage.ClaimPolicy) (*core.Source, error) {
	policy = policy.Normalize()
	cutoff := toMicros(policy.StalledBefore(storage.Timestamp(now)))
	recoverExhausted := 0
	if policy.RecoverExhausted {
		recoverExhausted = 1
	}
	args := []any{
		int(core.StatusPending), cutoff,
		int(core.StatusError), policy.MaxAttempts, recoverExhausted, cutoff,
	}
	return r.claim(ctx, now, processingPredicate, args)
}

// claim marks the oldest row matching predicate in one statement. The
// predicate is repeated on the outer UPDATE so a row that changed between
// subquery and update is never claimed.
func (r *sourceRepository) claim(ctx context.Context, now time.Time, predicate string, predArgs []any) (*core.Source, error) {
	now = storage.Timestamp(now)
	lock := ""
	if r.store.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}

	query := r.store.rebind(`UPDATE sources SET
			status = CASE WHEN status = ? THEN status ELSE ? END,
			attempts = attempts + 1,
			last_attempt_at = ?,
			last_updated_at = ?,
			version = version + 1
		WHERE id = (
			SELECT id FROM sources WHERE ` + predicate + `
			ORDER BY created_at, id LIMIT 1` + lock + `
		) AND ` + predicate + `
		RETURNING ` + sourceColumns)

	args := []any{int(core.StatusDeleted), int(core.StatusPending), toMicros(now), toMicros(now)}
	args = append(args, predArgs...)
	args = append(args, predArgs...)

	src, err := scanSource(r.store.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming source: %w", err)
	}
	return src, nil
}

// UpdateSource writes src if the stored version still equals src.Version.
func (r *sourceRepository) UpdateSource(ctx context.Context, src *core.Source) (bool, error) {
	next := src.Clone()
	storage.NormalizeSourceTimes(next)
	next.Version = src.Version + 1
	next.LastUpdatedAt = storage.Timestamp(time.Now())

	data, err := marshalSourceData(next.Data)
	if err != nil {
		return false, err
	}

	query := r.store.rebind(`UPDATE sources SET
			project_id = ?, name = ?, status = ?, attempts = ?, last_attempt_at = ?,
			error = ?, billing_error = ?, version = ?, last_updated_at = ?, data = ?
		WHERE id = ? AND version = ?`)
	res, err := r.store.db.ExecContext(ctx, query,
		next.ProjectID, next.Name, int(next.Status), next.Attempts, toMicros(next.LastAttemptAt),
		next.Error, next.BillingError, next.Version, toMicros(next.LastUpdatedAt), data,
		src.ID, src.Version)
	if err != nil {
		return false, fmt.Errorf("updating source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	src.Version = next.Version
	src.LastUpdatedAt = next.LastUpdatedAt
	return true, nil
}

// DeleteSource removes the source record.
func (r *sourceRepository) DeleteSource(ctx context.Context, id string) error {
	_, err := r.store.db.ExecContext(ctx, r.store.rebind(`DELETE FROM sources WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	return nil
}
