package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/ragindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, cmds []*cli.Command, name string) *cli.Command {
	t.Helper()
	for _, cmd := range cmds {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func findFlag(t *testing.T, flags []cli.Flag, name string) cli.Flag {
	t.Helper()
	for _, flag := range flags {
		for _, n := range flag.Names() {
			if n == name {
				return flag
			}
		}
	}
	t.Fatalf("flag %q not found", name)
	return nil
}

// runProbe runs the app with an extra command that captures the loaded config.
func runProbe(t *testing.T, args ...string) (*ragindex.Config, error) {
	t.Helper()
	app := newApp()
	var cfg *ragindex.Config
	worker := findCommand(t, app.Commands, "worker")
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "probe",
		Flags: worker.Flags,
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = loadConfig(c)
			return err
		},
	})
	err := app.Run(append([]string{"ragindex"}, args...))
	return cfg, err
}

// runApp runs the real app and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run(append([]string{"ragindex"}, args...))
	return out.String(), err
}

func TestWorkerCommandFlags(t *testing.T) {
	defaults := ragindex.DefaultConfig()
	cmd := findCommand(t, newApp().Commands, "worker")

	t.Run("workers defaults to one loop", func(t *testing.T) {
		f, ok := findFlag(t, cmd.Flags, "workers").(*cli.IntFlag)
		require.True(t, ok)
		assert.Equal(t, 1, f.Value)
		assert.Equal(t, []string{"n"}, f.Aliases)
		assert.Contains(t, f.EnvVars, "RAGINDEX_WORKERS")
	})

	t.Run("poll-interval matches the config default", func(t *testing.T) {
		f, ok := findFlag(t, cmd.Flags, "poll-interval").(*cli.DurationFlag)
		require.True(t, ok)
		assert.Equal(t, time.Duration(defaults.Worker.PollInterval), f.Value)
	})

	t.Run("stall-window matches the config default", func(t *testing.T) {
		f, ok := findFlag(t, cmd.Flags, "stall-window").(*cli.DurationFlag)
		require.True(t, ok)
		assert.Equal(t, time.Hour, f.Value)
	})

	t.Run("max-attempts matches the config default", func(t *testing.T) {
		f, ok := findFlag(t, cmd.Flags, "max-attempts").(*cli.IntFlag)
		require.True(t, ok)
		assert.Equal(t, defaults.Worker.MaxAttempts, f.Value)
	})

	t.Run("recover-exhausted is on by default", func(t *testing.T) {
		f, ok := findFlag(t, cmd.Flags, "recover-exhausted").(*cli.BoolFlag)
		require.True(t, ok)
		assert.True(t, f.Value)
	})
}

func TestGlobalFlags(t *testing.T) {
	app := newApp()

	t.Run("api keys read the provider variables", func(t *testing.T) {
		f, ok := findFlag(t, app.Flags, "firecrawl-api-key").(*cli.StringFlag)
		require.True(t, ok)
		assert.Contains(t, f.EnvVars, "FIRECRAWL_API_KEY")
		assert.Empty(t, f.Value)

		f, ok = findFlag(t, app.Flags, "embedding-api-key").(*cli.StringFlag)
		require.True(t, ok)
		assert.Contains(t, f.EnvVars, "OPENAI_API_KEY")
		assert.Contains(t, f.EnvVars, "GEMINI_API_KEY")
	})

	t.Run("db has alias -d and the default path", func(t *testing.T) {
		f, ok := findFlag(t, app.Flags, "db").(*cli.StringFlag)
		require.True(t, ok)
		assert.Equal(t, []string{"d"}, f.Aliases)
		assert.Equal(t, "ragindex.db", f.Value)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := runProbe(t, "probe")
		require.NoError(t, err)
		assert.Equal(t, ragindex.DefaultConfig().Store, cfg.Store)
		assert.Equal(t, 1, cfg.Worker.Workers)
		assert.False(t, cfg.Billing.Enabled)
	})

	t.Run("file values survive unset flags", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ragindex.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[store]
path = "/var/lib/ragindex"

[vector]
collection = "from-file"

[worker]
workers = 4
poll_interval = "30s"
`), 0o644))

		cfg, err := runProbe(t, "--config", path, "probe")
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/ragindex", cfg.Store.Path)
		assert.Equal(t, "from-file", cfg.Vector.Collection)
		assert.Equal(t, 4, cfg.Worker.Workers)
		assert.Equal(t, ragindex.Duration(30*time.Second), cfg.Worker.PollInterval)
	})

	t.Run("explicit flags override the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ragindex.toml")
		require.NoError(t, os.WriteFile(path, []byte("[worker]\nworkers = 4\n"), 0o644))

		cfg, err := runProbe(t, "--config", path, "--db", "/tmp/other", "probe",
			"--workers", "2", "--stall-window", "10m", "--recover-exhausted=false")
		require.NoError(t, err)
		assert.Equal(t, "/tmp/other", cfg.Store.Path)
		assert.Equal(t, 2, cfg.Worker.Workers)
		assert.Equal(t, ragindex.Duration(10*time.Minute), cfg.Worker.StallWindow)
		assert.False(t, cfg.Worker.RecoverExhausted)
	})

	t.Run("environment variables count as set", func(t *testing.T) {
		t.Setenv("RAGINDEX_COLLECTION", "from-env")
		t.Setenv("RAGINDEX_MAX_ATTEMPTS", "7")

		cfg, err := runProbe(t, "probe")
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Vector.Collection)
		assert.Equal(t, 7, cfg.Worker.MaxAttempts)
	})

	t.Run("billing url enables the gate", func(t *testing.T) {
		cfg, err := runProbe(t, "--billing-url", "http://billing.test", "probe")
		require.NoError(t, err)
		assert.True(t, cfg.Billing.Enabled)
		assert.Equal(t, "http://billing.test", cfg.Billing.URL)
	})

	t.Run("invalid driver is rejected", func(t *testing.T) {
		_, err := runProbe(t, "--store", "mongo", "probe")
		require.ErrorIs(t, err, ragindex.ErrInvalidConfig)
	})

	t.Run("missing config file", func(t *testing.T) {
		_, err := runProbe(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "probe")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reading config")
	})
}

func TestSourceCommandValidation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")

	t.Run("project is required", func(t *testing.T) {
		_, err := runApp(t, "--db", db, "source", "add", "https://a.test")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "project")
	})

	t.Run("add needs a URL", func(t *testing.T) {
		_, err := runApp(t, "--db", db, "source", "add", "-p", "proj")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "URL")
	})

	t.Run("show needs a source ID", func(t *testing.T) {
		_, err := runApp(t, "--db", db, "source", "show")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "source ID")
	})

	t.Run("invalid URL is rejected", func(t *testing.T) {
		_, err := runApp(t, "--db", db, "source", "add", "-p", "proj", "ftp://files.test")
		require.Error(t, err)
	})
}

func TestSourceLifecycle(t *testing.T) {
	db := filepath.Join(t.TempDir(), "db")

	out, err := runApp(t, "--db", db, "source", "add", "-p", "proj", "--name", "docs",
		"https://a.test/1", "https://a.test/2")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = runApp(t, "--db", db, "source", "ls", "-p", "proj")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "pending")

	out, err = runApp(t, "--db", db, "source", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "https://a.test/1")
	assert.Contains(t, out, "https://a.test/2")

	_, err = runApp(t, "--db", db, "source", "remove-url", id, "https://a.test/2")
	require.NoError(t, err)
	out, err = runApp(t, "--db", db, "source", "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	out, err = runApp(t, "--db", db, "source", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "queued for deletion")

	t.Run("worker needs a scraper key", func(t *testing.T) {
		t.Setenv("FIRECRAWL_API_KEY", "")
		t.Setenv("RAGINDEX_FIRECRAWL_API_KEY", "")
		_, err := runApp(t, "--db", db, "worker", "--once")
		require.ErrorIs(t, err, ragindex.ErrScraperNotConfigured)
	})

	// The deletion cascade touches only the in-memory vector store.
	_, err = runApp(t, "--db", db, "--firecrawl-api-key", "fc-test", "worker", "--once")
	require.NoError(t, err)

	out, err = runApp(t, "--db", db, "source", "ls", "-p", "proj")
	require.NoError(t, err)
	assert.NotContains(t, out, id)
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "log-level", Value: "info"},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error { return nil },
				}
				require.NoError(t, app.Run([]string{"test", "--log-level", level}))
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		_, err := runApp(t, "--log-level", "loud", "source", "ls", "-p", "proj")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
		assert.Contains(t, err.Error(), "loud")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		f, ok := findFlag(t, newApp().Flags, "log-level").(*cli.StringFlag)
		require.True(t, ok)
		assert.Equal(t, []string{"l"}, f.Aliases)
		assert.Equal(t, "info", f.Value)
	})
}

func TestLoadEnvFile(t *testing.T) {
	t.Run("missing default file is ignored", func(t *testing.T) {
		t.Chdir(t.TempDir())
		require.NoError(t, loadEnvFile(""))
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		require.Error(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	})

	t.Run("explicit file is loaded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "test.env")
		require.NoError(t, os.WriteFile(path, []byte("RAGINDEX_TEST_ENV_VALUE=loaded\n"), 0o644))
		t.Setenv("RAGINDEX_TEST_ENV_VALUE", "")
		os.Unsetenv("RAGINDEX_TEST_ENV_VALUE")

		require.NoError(t, loadEnvFile(path))
		assert.Equal(t, "loaded", os.Getenv("RAGINDEX_TEST_ENV_VALUE"))
	})
}
