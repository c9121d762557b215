package ai

import (
	"context"
	"fmt"
)

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedMany embeds texts in one logical call. The returned embeddings are
	// in the same order as texts. An empty input returns an empty result.
	EmbedMany(ctx context.Context, texts []string) (*EmbeddingResult, error)
}

// EmbeddingResult is the output of one EmbedMany call.
type EmbeddingResult struct {
	Embeddings [][]float32

	// Tokens is the number of billable tokens the provider consumed.
	Tokens int
}

// CheckCount returns ErrEmbeddingCount unless r holds exactly n embeddings.
func (r *EmbeddingResult) CheckCount(n int) error {
	got := 0
	if r != nil {
		got = len(r.Embeddings)
	}
	if got != n {
		return fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingCount, n, got)
	}
	return nil
}

// Batches splits texts into consecutive slices of at most size elements.
func Batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}
