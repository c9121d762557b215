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


package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// DefaultPollInterval is how long an idle worker sleeps between claims.
const DefaultPollInterval = 5 * time.Second

// Worker claims sources from the job store and runs them through a Pipeline.
// Several workers may share one store; each claim goes to exactly one of them.
type Worker struct {
	sources      storage.SourceRepository
	pipeline     *Pipeline
	policy       storage.ClaimPolicy
	pollInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
	name         string
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPolicy sets the claim policy. Non-positive fields take defaults.
func WithPolicy(policy storage.ClaimPolicy) WorkerOption {
	return func(w *Worker) {
		w.policy = policy.Normalize()
	}
}

// WithPollInterval sets the idle sleep. Default is DefaultPollInterval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithWorkerClock sets the time used for claims. Default is time.Now.
func WithWorkerClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithWorkerLogger sets a custom logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithName labels the worker's log lines.
func WithName(name string) WorkerOption {
	return func(w *Worker) {
		w.name = name
	}
}

// NewWorker creates a worker claiming from sources.
func NewWorker(sources storage.SourceRepository, pipeline *Pipeline, opts ...WorkerOption) (*Worker, error) {
	if sources == nil {
		return nil, ErrSourceRepositoryRequired
	}
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	w := &Worker{
		sources:      sources,
		pipeline:     pipeline,
		policy:       storage.DefaultClaimPolicy(),
		pollInterval: DefaultPollInterval,
		now:          time.Now,
		logger:       slog.Default(),
		name:         "worker",
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "worker", "worker", w.name)
	return w, nil
}

// Policy returns the claim policy in effect.
func (w *Worker) Policy() storage.ClaimPolicy {
	return w.policy
}

// RunOnce claims and runs at most one source. Deleted sources are claimed
// before anything else. It reports whether a source was claimed.
// Losing a claim race is not an error; it reports false.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	src, err := w.sources.ClaimDeletion(ctx, w.now(), w.policy)
	if err != nil {
		return false, claimError("deletion", err)
	}
	if src == nil {
		src, err = w.sources.ClaimProcessing(ctx, w.now(), w.policy)
		if err != nil {
			return false, claimError("processing", err)
		}
	}
	if src == nil {
		return false, nil
	}

	log := w.logger.With("source", src.ID, "status", src.Status, "attempts", src.Attempts)
	log.Debug("claimed source")

	switch src.Status {
	case core.StatusDeleted:
		return true, w.runDeletion(ctx, log, src)
	case core.StatusPending:
		_, err := w.pipeline.ProcessSource(ctx, src)
		return true, err
	case core.StatusReady, core.StatusError:
		return true, fmt.Errorf("claimed source %s in unexpected status %s", src.ID, src.Status)
	default:
		return true, fmt.Errorf("%w: claimed source %s", core.ErrInvalidStatus, src.ID)
	}
}

// Run loops RunOnce until ctx is canceled, sleeping the poll interval
// whenever nothing was claimed or a run failed. It returns nil on
// cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_interval", w.pollInterval,
		"max_attempts", w.policy.MaxAttempts, "stall_window", w.policy.StallWindow)
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		worked, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			w.logger.Error("run failed", "err", err)
		}
		if worked && err == nil {
			continue
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runDeletion runs the source cascade and records a failure on the source.
// The source stays deleted; the next claim retries until the attempt
// ceiling is reached.
func (w *Worker) runDeletion(ctx context.Context, log *slog.Logger, src *core.Source) error {
	err := w.pipeline.DeleteSource(ctx, src)
	if err == nil || ctx.Err() != nil {
		return err
	}

	failed := src.Clone()
	failed.Error = err.Error()
	if _, uerr := w.sources.UpdateSource(ctx, failed); uerr != nil {
		log.Error("failed to record deletion error", "err", uerr)
	}
	return err
}

func claimError(phase string, err error) error {
	if errors.Is(err, storage.ErrClaimContention) {
		return nil
	}
	return fmt.Errorf("claiming source for %s: %w", phase, err)
}
