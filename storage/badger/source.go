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


package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// defaultClaimRetries bounds how often a claim is retried after losing a
// transaction conflict to another claimant.
const defaultClaimRetries = 8

// SourceRepository implements storage.SourceRepository for BadgerDB.
//
// Claims run inside a single read-write transaction that scans, selects and
// writes. BadgerDB's serializable snapshot isolation aborts the commit with
// badger.ErrConflict if another transaction wrote any source read during the
// scan, so two workers can never both commit a claim on the same source.
type SourceRepository struct {
	backend      *Backend
	claimRetries int
	now          func() time.Time
}

var _ storage.SourceRepository = (*SourceRepository)(nil)

// NewSourceRepository creates a new SourceRepository.
func NewSourceRepository(backend *Backend) *SourceRepository {
	return &SourceRepository{
		backend:      backend,
		claimRetries: defaultClaimRetries,
		now:          func() time.Time { return storage.Timestamp(time.Now()) },
	}
}

// CreateSource stores a new source.
func (r *SourceRepository) CreateSource(ctx context.Context, src *core.Source) (*core.Source, error) {
	if err := core.ValidateSource(src); err != nil {
		return nil, err
	}
	stored := src.Clone()
	storage.NormalizeSourceTimes(stored)
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	if stored.LastUpdatedAt.IsZero() {
		stored.LastUpdatedAt = stored.CreatedAt
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeSourceKey(stored.ID)
		if _, err := tx.Get(key); err == nil {
			return fmt.Errorf("%w: source %s", storage.ErrDuplicateKey, stored.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := tx.Set(key, storage.MarshalSource(stored)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetSource retrieves a single source by ID.
func (r *SourceRepository) GetSource(ctx context.Context, id string) (*core.Source, error) {
	var src *core.Source
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		src, err = readSource(tx, makeSourceKey(id))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: source %s", storage.ErrNotFound, id)
	}
	return src, nil
}

// ListSources returns the sources of a project ordered by creation time.
func (r *SourceRepository) ListSources(ctx context.Context, projectID string) ([]*core.Source, error) {
	var sources []*core.Source
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		sources, err = scanSources(tx, func(src *core.Source) bool {
			return projectID == "" || src.ProjectID == projectID
		})
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(sources, storage.ClaimOrder)
	return sources, nil
}

// ClaimDeletion atomically claims the oldest source awaiting the deletion cascade.
func (r *SourceRepository) ClaimDeletion(ctx context.Context, now time.Time, policy storage.ClaimPolicy) (*core.Source, error) {
	policy = policy.Normalize()
	return r.claim(ctx, now, policy.DeletionEligible)
}

// ClaimProcessing atomically claims the oldest source eligible for processing.
func (r *SourceRepository) ClaimProcessing(ctx context.Context, now time.Time, policy storage.ClaimPolicy) (*core.Source, error) {
	policy = policy.Normalize()
	return r.claim(ctx, now, func(src *core.Source) bool {
		return policy.ProcessingEligible(src, now)
	})
}

func (r *SourceRepository) claim(ctx context.Context, now time.Time, eligible func(*core.Source) bool) (*core.Source, error) {
	now = storage.Timestamp(now)
	for range r.claimRetries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var claimed *core.Source
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			candidates, err := scanSources(tx, eligible)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}
			src := slices.MinFunc(candidates, storage.ClaimOrder)
			storage.ApplyClaim(src, now)
			if err := tx.Set(makeSourceKey(src.ID), storage.MarshalSource(src)); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			claimed = src
			return nil
		}, true)

		if errors.Is(err, badger.ErrConflict) {
			r.backend.logger.Debug("claim lost transaction conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}
	return nil, storage.ErrClaimContention
}

// UpdateSource writes src if the stored version still equals src.Version.
func (r *SourceRepository) UpdateSource(ctx context.Context, src *core.Source) (bool, error) {
	next := src.Clone()
	storage.NormalizeSourceTimes(next)
	next.Version = src.Version + 1
	next.LastUpdatedAt = r.now()

	applied := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeSourceKey(src.ID)
		stored, err := readSource(tx, key)
		if err != nil {
			return err
		}
		if stored == nil || stored.Version != src.Version {
			return nil
		}
		if err := tx.Set(key, storage.MarshalSource(next)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied = true
		return nil
	}, true)

	// A conflict means another writer committed this source after we read it.
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if applied {
		src.Version = next.Version
		src.LastUpdatedAt = next.LastUpdatedAt
	}
	return applied, nil
}

// DeleteSource removes the source record.
func (r *SourceRepository) DeleteSource(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeSourceKey(id)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// readSource reads a source by key. Returns nil, nil if not found.
func readSource(tx *badger.Txn, key []byte) (*core.Source, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var src *core.Source
	err = item.Value(func(val []byte) error {
		var err error
		src, err = storage.UnmarshalSource(val)
		return err
	})
	return src, err
}

// scanSources returns every stored source accepted by keep.
func scanSources(tx *badger.Txn, keep func(*core.Source) bool) ([]*core.Source, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(sourceRecordPrefix)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var out []*core.Source
	for iter.Rewind(); iter.Valid(); iter.Next() {
		var src *core.Source
		err := iter.Item().Value(func(val []byte) error {
			var err error
			src, err = storage.UnmarshalSource(val)
			return err
		})
		if err != nil {
			return nil, err
		}
		if keep(src) {
			out = append(out, src)
		}
	}
	return out, nil
}
