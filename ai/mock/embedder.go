package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/poiesic/ragindex/ai"
)

// DefaultDimensions is the vector size produced by MockEmbedder.
const DefaultDimensions = 8

// MockEmbedder is a mock implementation of ai.Embedder for testing.
// It returns deterministic vectors and counts one token per word.
type MockEmbedder struct {
	// EmbedManyFunc is called by EmbedMany if set.
	// If nil, uses default deterministic behavior.
	EmbedManyFunc func(ctx context.Context, texts []string) (*ai.EmbeddingResult, error)

	mu        sync.Mutex
	callCount int
	lastTexts []string
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a new mock embedder with default behavior.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{}
}

// EmbedMany returns a deterministic vector per text.
func (m *MockEmbedder) EmbedMany(ctx context.Context, texts []string) (*ai.EmbeddingResult, error) {
	m.mu.Lock()
	m.callCount++
	m.lastTexts = append([]string(nil), texts...)
	fn := m.EmbedManyFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &ai.EmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i, text := range texts {
		result.Embeddings[i] = Vector(text)
		result.Tokens += len(strings.Fields(text))
	}
	return result, nil
}

// CallCount returns the number of EmbedMany calls.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastTexts returns the texts of the most recent call.
func (m *MockEmbedder) LastTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTexts
}

// Reset clears call tracking and custom behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.lastTexts = nil
	m.EmbedManyFunc = nil
}

// Vector generates the deterministic unit vector MockEmbedder uses for text.
func Vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, DefaultDimensions)
	for i := range vector {
		seed = seed*1664525 + 1013904223 // LCG constants
		vector[i] = float32(seed%1000)/1000.0 + 0.001
	}

	var sumSquares float32
	for _, v := range vector {
		sumSquares += v * v
	}
	norm := float32(1.0 / math.Sqrt(float64(sumSquares)))
	for i := range vector {
		vector[i] *= norm
	}
	return vector
}
