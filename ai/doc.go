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


// Package ai defines the Embedding Generator used by the indexing pipeline.
//
// Implementations live in subpackages:
//
//   - ai/openai: any OpenAI-compatible embeddings endpoint via langchaingo
//   - ai/gemini: Google Gemini batch embeddings
//   - ai/cache: LRU decorator that skips re-embedding unchanged chunks
//   - ai/mock: deterministic embedder for tests
//
// Every implementation reports the tokens it consumed so usage can be
// billed per document.
package ai
