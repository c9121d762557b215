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
	"log/slog"

	"github.com/poiesic/ragindex/storage"
)

// Store implements storage.Store on a single BadgerDB backend.
type Store struct {
	backend   *Backend
	sources   *SourceRepository
	documents *DocumentRepository
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Store over an already opened backend. Closing the
// store closes the backend.
func NewStore(backend *Backend) *Store {
	return &Store{
		backend:   backend,
		sources:   NewSourceRepository(backend),
		documents: NewDocumentRepository(backend),
	}
}

// OpenStore opens (or creates) a BadgerDB job store in dir.
func OpenStore(dir string, logger *slog.Logger) (*Store, error) {
	backend, err := OpenBackend(dir, false, logger)
	if err != nil {
		return nil, err
	}
	return NewStore(backend), nil
}

// Sources returns the source repository.
func (s *Store) Sources() storage.SourceRepository {
	return s.sources
}

// Documents returns the document repository.
func (s *Store) Documents() storage.DocumentRepository {
	return s.documents
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	if s.backend.IsClosed() {
		return nil
	}
	return s.backend.Close()
}
