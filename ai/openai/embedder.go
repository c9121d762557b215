package openai

import (
	"context"
	"log/slog"

	"github.com/poiesic/ragindex/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// TokenCounter returns the number of tokens model would bill for text.
type TokenCounter func(model, text string) int

// Embedder implements ai.Embedder using langchaingo's OpenAI client.
type Embedder struct {
	embedder    embeddings.Embedder
	model       string
	countTokens TokenCounter
	logger      *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// Option configures an Embedder.
type Option func(*Embedder)

// WithTokenCounter replaces the tiktoken based counter.
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

func newEmbedder(config *ai.Config, opts ...Option) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Local OpenAI-compatible services don't require authentication but the
	// client insists on a token.
	token := config.APIKey
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(config.Host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(config.Model),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	e := &Embedder{
		embedder:    embedder,
		model:       config.Model,
		countTokens: llms.CountTokens,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "openai-embedder")
	return e, nil
}

// NewEmbedder creates an embedder for the configured OpenAI-compatible host.
func NewEmbedder(config *ai.Config, opts ...Option) (ai.Embedder, error) {
	return newEmbedder(config, opts...)
}

// EmbedMany embeds texts in batches of the configured size.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
	if len(texts) == 0 {
		return &ai.EmbeddingResult{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}

	result := &ai.EmbeddingResult{Embeddings: vectors}
	if err := result.CheckCount(len(texts)); err != nil {
		return nil, err
	}
	for _, text := range texts {
		result.Tokens += e.countTokens(e.model, text)
	}
	return result, nil
}
