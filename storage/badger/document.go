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

// deleteBatchSize caps the keys removed per transaction so large sources
// stay under BadgerDB's transaction size limit.
const deleteBatchSize = 500

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
	now     func() time.Time
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend: backend,
		now:     func() time.Time { return storage.Timestamp(time.Now()) },
	}
}

// AddDocuments stores new documents, returning the stored copy of any that already exist.
func (r *DocumentRepository) AddDocuments(ctx context.Context, docs ...*core.Document) ([]*core.Document, error) {
	for _, doc := range docs {
		if err := core.ValidateDocument(doc); err != nil {
			return nil, err
		}
	}

	now := r.now()
	result := make([]*core.Document, 0, len(docs))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for i, doc := range docs {
			key := makeDocumentKey(doc.ID)
			existing, err := readDocument(tx, key)
			if err != nil {
				return err
			}
			if existing != nil {
				result = append(result, existing)
				continue
			}

			stored := doc.Clone()
			storage.NormalizeDocumentTimes(stored)
			stored.Version = 1
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = storage.BatchTime(now, i)
			}
			stored.LastUpdatedAt = stored.CreatedAt

			if err := tx.Set(key, storage.MarshalDocument(stored)); err != nil {
				return err
			}
			if err := tx.Set(makeDocumentSourceKey(stored.SourceID, stored.ID), nil); err != nil {
				return err
			}
			result = append(result, stored)
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDocument retrieves a single document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, makeDocumentKey(id))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document %s", storage.ErrNotFound, id)
	}
	return doc, nil
}

// ListDocuments returns the documents of a source, optionally filtered by status.
func (r *DocumentRepository) ListDocuments(ctx context.Context, sourceID string, statuses ...core.Status) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		ids, err := sourceDocumentIDs(tx, sourceID, 0)
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, err := readDocument(tx, makeDocumentKey(id))
			if err != nil {
				return err
			}
			if doc == nil {
				continue
			}
			if len(statuses) > 0 && !slices.Contains(statuses, doc.Status) {
				continue
			}
			docs = append(docs, doc)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(docs, func(a, b *core.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return docs, nil
}

// UpdateDocument writes doc if the stored version still equals doc.Version.
func (r *DocumentRepository) UpdateDocument(ctx context.Context, doc *core.Document) (bool, error) {
	next := doc.Clone()
	storage.NormalizeDocumentTimes(next)
	next.Version = doc.Version + 1
	next.LastUpdatedAt = r.now()

	applied := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.ID)
		stored, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if stored == nil || stored.Version != doc.Version {
			return nil
		}
		// The owning source never changes.
		next.SourceID = stored.SourceID
		if err := tx.Set(key, storage.MarshalDocument(next)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied = true
		return nil
	}, true)

	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if applied {
		doc.Version = next.Version
		doc.LastUpdatedAt = next.LastUpdatedAt
	}
	return applied, nil
}

// DeleteDocument removes a document record and its index entry.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		if err := tx.Delete(makeDocumentSourceKey(doc.SourceID, doc.ID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// DeleteSourceDocuments removes every document of a source in batches.
func (r *DocumentRepository) DeleteSourceDocuments(ctx context.Context, sourceID string) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		removed := 0
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			ids, err := sourceDocumentIDs(tx, sourceID, deleteBatchSize)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := tx.Delete(makeDocumentKey(id)); err != nil {
					return err
				}
				if err := tx.Delete(makeDocumentSourceKey(sourceID, id)); err != nil {
					return err
				}
			}
			removed = len(ids)
			if removed == 0 {
				return nil
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return total, err
		}
		if removed == 0 {
			return total, nil
		}
		total += removed
	}
}

// readDocument reads a document by key. Returns nil, nil if not found.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

// sourceDocumentIDs lists document IDs from the source index. A limit of 0
// means no limit.
func sourceDocumentIDs(tx *badger.Txn, sourceID string, limit int) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makePartialDocumentSourceKey(sourceID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		ids = append(ids, docIDFromSourceKey(iter.Item().KeyCopy(nil), sourceID))
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}
