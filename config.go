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


package ragindex

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/storage"
)

// Store drivers.
const (
	StoreBadger   = "badger"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Vector store drivers.
const (
	VectorChromem = "chromem"
	VectorQdrant  = "qdrant"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Duration is a time.Duration written as a string such as "5s" in config files.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// StoreConfig selects the job store.
type StoreConfig struct {
	// Driver is badger, sqlite or postgres.
	Driver string `toml:"driver"`

	// Path is the badger directory or sqlite file.
	Path string `toml:"path"`

	// URL is the postgres connection string.
	URL string `toml:"url"`
}

// VectorConfig selects the vector store.
type VectorConfig struct {
	// Driver is chromem or qdrant.
	Driver string `toml:"driver"`

	// Path is the chromem persistence directory; empty keeps it in memory.
	Path string `toml:"path"`

	// URL is the qdrant base URL.
	URL        string `toml:"url"`
	APIKey     string `toml:"api_key"`
	Collection string `toml:"collection"`
}

// ScraperConfig configures the firecrawl client.
type ScraperConfig struct {
	BaseURL   string  `toml:"base_url"`
	APIKey    string  `toml:"api_key"`
	RateLimit float64 `toml:"rate_limit"` // requests per second, 0 is unlimited
	Burst     int     `toml:"burst"`
}

// BillingConfig configures the quota gate.
type BillingConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	APIKey  string `toml:"api_key"`
}

// WorkerConfig holds scheduling and retry knobs.
type WorkerConfig struct {
	Workers             int      `toml:"workers"`
	PollInterval        Duration `toml:"poll_interval"`
	MaxAttempts         int      `toml:"max_attempts"`
	StallWindow         Duration `toml:"stall_window"`
	RecoverExhausted    bool     `toml:"recover_exhausted"`
	DocumentConcurrency int      `toml:"document_concurrency"`
	FetchAttempts       int      `toml:"fetch_attempts"`
	FetchRetryDelay     Duration `toml:"fetch_retry_delay"`
}

// ClaimPolicy converts the worker knobs to a storage claim policy.
func (w WorkerConfig) ClaimPolicy() storage.ClaimPolicy {
	return storage.ClaimPolicy{
		MaxAttempts:      w.MaxAttempts,
		StallWindow:      time.Duration(w.StallWindow),
		RecoverExhausted: w.RecoverExhausted,
	}
}

// Config is the full ragindex configuration.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Vector    VectorConfig    `toml:"vector"`
	Embedding ai.Config       `toml:"embedding"`
	Chunking  chunking.Config `toml:"chunking"`
	Scraper   ScraperConfig   `toml:"scraper"`
	Billing   BillingConfig   `toml:"billing"`
	Worker    WorkerConfig    `toml:"worker"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: StoreBadger,
			Path:   "ragindex.db",
		},
		Vector: VectorConfig{
			Driver:     VectorChromem,
			Collection: "sources",
		},
		Embedding: *ai.DefaultConfig(),
		Chunking:  chunking.DefaultConfig(),
		Scraper: ScraperConfig{
			BaseURL:   "https://api.firecrawl.dev",
			RateLimit: 2,
			Burst:     2,
		},
		Worker: WorkerConfig{
			Workers:             1,
			PollInterval:        Duration(5 * time.Second),
			MaxAttempts:         storage.DefaultMaxAttempts,
			StallWindow:         Duration(storage.DefaultStallWindow),
			RecoverExhausted:    true,
			DocumentConcurrency: 1,
			FetchAttempts:       3,
			FetchRetryDelay:     Duration(time.Second),
		},
	}
}

// LoadConfigFile reads a TOML file over the defaults. Keys missing from the
// file keep their default values.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreBadger, StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("%w: store path is required for %s", ErrInvalidConfig, c.Store.Driver)
		}
	case StorePostgres:
		if c.Store.URL == "" {
			return fmt.Errorf("%w: store url is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}

	switch c.Vector.Driver {
	case VectorChromem:
	case VectorQdrant:
		if c.Vector.URL == "" {
			return fmt.Errorf("%w: vector url is required for qdrant", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vector driver %q", ErrInvalidConfig, c.Vector.Driver)
	}
	if c.Vector.Collection == "" {
		return fmt.Errorf("%w: vector collection is required", ErrInvalidConfig)
	}

	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("%w: embedding: %w", ErrInvalidConfig, err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("%w: chunking: %w", ErrInvalidConfig, err)
	}

	if c.Billing.Enabled && c.Billing.URL == "" {
		return fmt.Errorf("%w: billing url is required when billing is enabled", ErrInvalidConfig)
	}

	w := c.Worker
	switch {
	case w.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidConfig)
	case w.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	case w.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	case w.StallWindow <= 0:
		return fmt.Errorf("%w: stall window must be positive", ErrInvalidConfig)
	case w.DocumentConcurrency < 1:
		return fmt.Errorf("%w: document concurrency must be at least 1", ErrInvalidConfig)
	case w.FetchAttempts < 1:
		return fmt.Errorf("%w: fetch attempts must be at least 1", ErrInvalidConfig)
	case w.FetchRetryDelay < 0:
		return fmt.Errorf("%w: fetch retry delay cannot be negative", ErrInvalidConfig)
	}
	return nil
}
