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


// Package gemini embeds text with Google's Gemini embedding models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"github.com/poiesic/ragindex/ai"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/api/option"
)

// ErrEmptyEmbedding indicates the API returned an embedding with no values.
var ErrEmptyEmbedding = errors.New("empty embedding in response")

// TokenCounter returns the number of tokens model would bill for text.
type TokenCounter func(model, text string) int

// Embedder implements ai.Embedder with Gemini batch embedding requests.
type Embedder struct {
	client      *genai.Client
	model       *genai.EmbeddingModel
	modelName   string
	batchSize   int
	countTokens TokenCounter
	logger      *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// Option configures an Embedder.
type Option func(*Embedder)

// WithTokenCounter replaces the default token estimate.
func WithTokenCounter(counter TokenCounter) Option {
	return func(e *Embedder) {
		if counter != nil {
			e.countTokens = counter
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Embedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmbedder creates a Gemini embedder. Close releases the client.
func NewEmbedder(ctx context.Context, config *ai.Config, opts ...Option) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Provider != ai.ProviderGemini {
		return nil, fmt.Errorf("gemini embedder: provider is %q", config.Provider)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	e := &Embedder{
		client:      client,
		model:       client.EmbeddingModel(config.Model),
		modelName:   config.Model,
		batchSize:   config.BatchSize,
		countTokens: llms.CountTokens,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "gemini-embedder")
	return e, nil
}

// EmbedMany embeds texts, one BatchEmbedContents request per batch.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
	result := &ai.EmbeddingResult{Embeddings: make([][]float32, 0, len(texts))}
	for _, batch := range ai.Batches(texts, e.batchSize) {
		e.logger.Debug("embedding batch", "count", len(batch))

		b := e.model.NewBatch()
		for _, text := range batch {
			b.AddContent(genai.Text(text))
		}
		resp, err := e.model.BatchEmbedContents(ctx, b)
		if err != nil {
			e.logger.Error("failed to generate embeddings", "count", len(batch), "err", err)
			return nil, err
		}

		vectors, err := toVectors(resp.Embeddings)
		if err != nil {
			return nil, err
		}
		result.Embeddings = append(result.Embeddings, vectors...)
	}

	if err := result.CheckCount(len(texts)); err != nil {
		return nil, err
	}
	for _, text := range texts {
		result.Tokens += e.countTokens(e.modelName, text)
	}
	return result, nil
}

// Close closes the client.
func (e *Embedder) Close() error {
	return e.client.Close()
}

func toVectors(embeddings []*genai.ContentEmbedding) ([][]float32, error) {
	out := make([][]float32, len(embeddings))
	for i, emb := range embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: index %d", ErrEmptyEmbedding, i)
		}
		out[i] = append([]float32(nil), emb.Values...)
	}
	return out, nil
}
