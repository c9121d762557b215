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


// Package storage provides the Job Store abstraction for ragindex.
//
// Sources double as job configuration and as the job queue: workers claim
// them through SourceRepository.ClaimDeletion and ClaimProcessing, which
// must select, check eligibility and mark the attempt in one atomic write.
// Documents hold the per-URL rows of a source.
//
// # Backends
//
//   - storage/badger: embedded BadgerDB, single process, any number of workers
//   - storage/sqlstore: SQLite for local multi-process use, PostgreSQL for fleets
//
// Both evaluate the same ClaimPolicy so claim behavior does not depend on the
// backend in use.
//
// # Optimistic Concurrency
//
// Every record carries a Version. UpdateSource and UpdateDocument only write
// when the stored version still matches the caller's copy and report a lost
// race as (false, nil) rather than an error. Callers re-read and decide.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
