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


// Package chunking splits scraped page text into overlapping chunks for
// embedding.
package chunking

import (
	"errors"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1024
	// DefaultChunkOverlap is the number of characters shared by neighbouring chunks.
	DefaultChunkOverlap = 20
)

// DefaultSeparators prefer paragraph, then line, then sentence, then word boundaries.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter turns text into chunks. Implementations must be deterministic.
type Splitter interface {
	Split(text string) ([]string, error)
}

// Config holds the splitter settings.
type Config struct {
	ChunkSize    int      `toml:"chunk_size"`
	ChunkOverlap int      `toml:"chunk_overlap"`
	Separators   []string `toml:"separators"`
}

// DefaultConfig returns the standard chunking settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   append([]string(nil), DefaultSeparators...),
	}
}

// Validate checks the settings are usable.
func (c Config) Validate() error {
	if c.ChunkSize < 1 {
		return errors.New("chunking config: ChunkSize must be positive")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return errors.New("chunking config: ChunkOverlap must be in [0, ChunkSize)")
	}
	return nil
}

// RecursiveSplitter splits with langchaingo's recursive character splitter.
type RecursiveSplitter struct {
	splitter textsplitter.RecursiveCharacter
}

var _ Splitter = (*RecursiveSplitter)(nil)

// New creates a recursive splitter from cfg. Empty separators fall back to
// DefaultSeparators.
func New(cfg Config) (*RecursiveSplitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	separators := cfg.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &RecursiveSplitter{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
			textsplitter.WithSeparators(separators),
		),
	}, nil
}

// NewDefault creates a recursive splitter with the default settings.
func NewDefault() *RecursiveSplitter {
	s, _ := New(DefaultConfig())
	return s
}

// Split returns the chunks of text. Blank text yields no chunks.
func (s *RecursiveSplitter) Split(text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	chunks, err := s.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	out := chunks[:0]
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) != "" {
			out = append(out, chunk)
		}
	}
	return out, nil
}
