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


package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/poiesic/ragindex"
	"github.com/urfave/cli/v2"
)

// envFileVar names the variable that points at the dotenv file loaded before
// flags are parsed.
const envFileVar = "RAGINDEX_ENV_FILE"

func main() {
	if err := loadEnvFile(os.Getenv(envFileVar)); err != nil {
		log.Fatal(err)
	}
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadEnvFile loads path, or .env when path is empty, into the environment.
// A missing default file is ignored; a missing explicit file is an error.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("loading env file %s: %w", path, err)
}

func newApp() *cli.App {
	defaults := ragindex.DefaultConfig()
	return &cli.App{
		Name:  "ragindex",
		Usage: "Keep a vector index in sync with web sources",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"RAGINDEX_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				EnvVars: []string{"RAGINDEX_CONFIG"},
			},
		}, configFlags(defaults)...),
		Before: setupLogger,
		Commands: []*cli.Command{
			workerCommand(defaults),
			sourceCommand(),
			docCommand(),
			refreshCommand(),
		},
	}
}

// configFlags are the global overrides for the configuration file.
func configFlags(defaults *ragindex.Config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Usage:   "Job store driver (badger, sqlite, postgres)",
			Value:   defaults.Store.Driver,
			EnvVars: []string{"RAGINDEX_STORE"},
		},
		&cli.StringFlag{
			Name:    "db",
			Aliases: []string{"d"},
			Usage:   "Path to the badger directory or sqlite file",
			Value:   defaults.Store.Path,
			EnvVars: []string{"RAGINDEX_DB"},
		},
		&cli.StringFlag{
			Name:    "db-url",
			Usage:   "Postgres connection string",
			EnvVars: []string{"RAGINDEX_DB_URL", "DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "vector",
			Usage:   "Vector store driver (chromem, qdrant)",
			Value:   defaults.Vector.Driver,
			EnvVars: []string{"RAGINDEX_VECTOR"},
		},
		&cli.StringFlag{
			Name:    "vector-path",
			Usage:   "Chromem persistence directory; empty keeps vectors in memory",
			EnvVars: []string{"RAGINDEX_VECTOR_PATH"},
		},
		&cli.StringFlag{
			Name:    "qdrant-url",
			Usage:   "Qdrant base URL",
			EnvVars: []string{"RAGINDEX_QDRANT_URL", "QDRANT_URL"},
		},
		&cli.StringFlag{
			Name:    "qdrant-api-key",
			Usage:   "Qdrant API key",
			EnvVars: []string{"RAGINDEX_QDRANT_API_KEY", "QDRANT_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "collection",
			Usage:   "Vector collection name",
			Value:   defaults.Vector.Collection,
			EnvVars: []string{"RAGINDEX_COLLECTION"},
		},
		&cli.StringFlag{
			Name:    "embedding-provider",
			Usage:   "Embedding provider (openai, gemini)",
			Value:   defaults.Embedding.Provider,
			EnvVars: []string{"RAGINDEX_EMBEDDING_PROVIDER"},
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   defaults.Embedding.Host,
			EnvVars: []string{"RAGINDEX_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   defaults.Embedding.Model,
			EnvVars: []string{"RAGINDEX_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "embedding-api-key",
			Usage:   "Embedding provider API key",
			EnvVars: []string{"RAGINDEX_EMBEDDING_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "firecrawl-url",
			Usage:   "Firecrawl API base URL",
			Value:   defaults.Scraper.BaseURL,
			EnvVars: []string{"RAGINDEX_FIRECRAWL_URL"},
		},
		&cli.StringFlag{
			Name:    "firecrawl-api-key",
			Usage:   "Firecrawl API key",
			EnvVars: []string{"RAGINDEX_FIRECRAWL_API_KEY", "FIRECRAWL_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "billing-url",
			Usage:   "Billing service URL; setting it enables quota checks",
			EnvVars: []string{"RAGINDEX_BILLING_URL"},
		},
		&cli.StringFlag{
			Name:    "billing-api-key",
			Usage:   "Billing service API key",
			EnvVars: []string{"RAGINDEX_BILLING_API_KEY"},
		},
	}
}

// loadConfig reads the configuration file, if any, and applies every flag or
// environment variable that was explicitly set.
func loadConfig(c *cli.Context) (*ragindex.Config, error) {
	cfg := ragindex.DefaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = ragindex.LoadConfigFile(path); err != nil {
			return nil, err
		}
	}

	overrideString(c, "store", &cfg.Store.Driver)
	overrideString(c, "db", &cfg.Store.Path)
	overrideString(c, "db-url", &cfg.Store.URL)
	overrideString(c, "vector", &cfg.Vector.Driver)
	overrideString(c, "vector-path", &cfg.Vector.Path)
	overrideString(c, "qdrant-url", &cfg.Vector.URL)
	overrideString(c, "qdrant-api-key", &cfg.Vector.APIKey)
	overrideString(c, "collection", &cfg.Vector.Collection)
	overrideString(c, "embedding-provider", &cfg.Embedding.Provider)
	overrideString(c, "embedding-host", &cfg.Embedding.Host)
	overrideString(c, "embedding-model", &cfg.Embedding.Model)
	overrideString(c, "embedding-api-key", &cfg.Embedding.APIKey)
	overrideString(c, "firecrawl-url", &cfg.Scraper.BaseURL)
	overrideString(c, "firecrawl-api-key", &cfg.Scraper.APIKey)
	overrideString(c, "billing-api-key", &cfg.Billing.APIKey)
	if c.IsSet("billing-url") {
		cfg.Billing.URL = c.String("billing-url")
		cfg.Billing.Enabled = cfg.Billing.URL != ""
	}

	// Worker flags only exist on the worker command.
	w := &cfg.Worker
	overrideInt(c, "workers", &w.Workers)
	overrideDuration(c, "poll-interval", &w.PollInterval)
	overrideInt(c, "max-attempts", &w.MaxAttempts)
	overrideDuration(c, "stall-window", &w.StallWindow)
	overrideInt(c, "document-concurrency", &w.DocumentConcurrency)
	overrideInt(c, "fetch-attempts", &w.FetchAttempts)
	if c.IsSet("recover-exhausted") {
		w.RecoverExhausted = c.Bool("recover-exhausted")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideString(c *cli.Context, name string, dst *string) {
	if c.IsSet(name) {
		*dst = c.String(name)
	}
}

func overrideInt(c *cli.Context, name string, dst *int) {
	if c.IsSet(name) {
		*dst = c.Int(name)
	}
}

func overrideDuration(c *cli.Context, name string, dst *ragindex.Duration) {
	if c.IsSet(name) {
		*dst = ragindex.Duration(c.Duration(name))
	}
}

// openIndex loads the configuration and opens the index it describes.
func openIndex(c *cli.Context) (*ragindex.Index, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return ragindex.Open(c.Context, cfg, ragindex.WithLogger(slog.Default()))
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
