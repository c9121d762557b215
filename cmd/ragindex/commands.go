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
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/poiesic/ragindex"
	"github.com/poiesic/ragindex/indexing"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const timeLayout = "2006-01-02 15:04:05"

func workerCommand(defaults *ragindex.Config) *cli.Command {
	w := defaults.Worker
	return &cli.Command{
		Name:   "worker",
		Usage:  "Claim and process queued sources until interrupted",
		Action: workerAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"n"},
				Usage:   "Number of concurrent worker loops",
				Value:   w.Workers,
				EnvVars: []string{"RAGINDEX_WORKERS"},
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Sleep between polls when the queue is empty",
				Value:   time.Duration(w.PollInterval),
				EnvVars: []string{"RAGINDEX_POLL_INTERVAL"},
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Attempts before a failing source stops being retried",
				Value:   w.MaxAttempts,
				EnvVars: []string{"RAGINDEX_MAX_ATTEMPTS"},
			},
			&cli.DurationFlag{
				Name:    "stall-window",
				Usage:   "Age after which an unfinished claim can be taken over",
				Value:   time.Duration(w.StallWindow),
				EnvVars: []string{"RAGINDEX_STALL_WINDOW"},
			},
			&cli.BoolFlag{
				Name:    "recover-exhausted",
				Usage:   "Retry sources that used up their attempts once the stall window passes",
				Value:   w.RecoverExhausted,
				EnvVars: []string{"RAGINDEX_RECOVER_EXHAUSTED"},
			},
			&cli.IntFlag{
				Name:    "document-concurrency",
				Usage:   "Documents of one source processed in parallel",
				Value:   w.DocumentConcurrency,
				EnvVars: []string{"RAGINDEX_DOCUMENT_CONCURRENCY"},
			},
			&cli.IntFlag{
				Name:    "fetch-attempts",
				Usage:   "Scrape attempts per document",
				Value:   w.FetchAttempts,
				EnvVars: []string{"RAGINDEX_FETCH_ATTEMPTS"},
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Drain the queue and exit instead of polling",
			},
		},
	}
}

func workerAction(c *cli.Context) error {
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n := ix.Config().Worker.Workers
	workers := make([]*indexing.Worker, 0, n)
	for i := range n {
		pipeline, err := ix.NewPipeline()
		if err != nil {
			return err
		}
		defer pipeline.Release()

		worker, err := ix.NewWorker(pipeline, fmt.Sprintf("worker-%d", i+1))
		if err != nil {
			return err
		}
		workers = append(workers, worker)
	}

	slog.Info("starting workers", "count", n, "once", c.Bool("once"))
	g, gctx := errgroup.WithContext(ctx)
	for _, worker := range workers {
		if c.Bool("once") {
			g.Go(func() error { return drain(gctx, worker) })
		} else {
			g.Go(func() error { return worker.Run(gctx) })
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("workers stopped")
	return nil
}

// drain runs worker until no source is claimable.
func drain(ctx context.Context, worker *indexing.Worker) error {
	for {
		processed, err := worker.RunOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil && !processed:
			return err
		case err != nil:
			slog.Error("job failed", "err", err)
		case !processed:
			return nil
		}
	}
}

func sourceCommand() *cli.Command {
	projectFlag := &cli.StringFlag{
		Name:     "project",
		Aliases:  []string{"p"},
		Usage:    "Project ID",
		Required: true,
		EnvVars:  []string{"RAGINDEX_PROJECT"},
	}
	return &cli.Command{
		Name:  "source",
		Usage: "Manage sources",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Create a source from a list of URLs",
				ArgsUsage: "URL...",
				Action:    sourceAddAction,
				Flags: []cli.Flag{
					projectFlag,
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name; defaults to the first URL",
					},
				},
			},
			{
				Name:   "ls",
				Usage:  "List the sources of a project",
				Action: sourceListAction,
				Flags:  []cli.Flag{projectFlag},
			},
			{
				Name:      "show",
				Usage:     "Show a source and its documents",
				ArgsUsage: "SOURCE_ID",
				Action:    sourceShowAction,
			},
			{
				Name:      "add-urls",
				Usage:     "Add URLs to a source and re-queue it",
				ArgsUsage: "SOURCE_ID URL...",
				Action:    sourceAddURLsAction,
			},
			{
				Name:      "remove-url",
				Usage:     "Remove a URL from a source and re-queue it",
				ArgsUsage: "SOURCE_ID URL",
				Action:    sourceRemoveURLAction,
			},
			{
				Name:      "requeue",
				Usage:     "Queue a source for processing again",
				ArgsUsage: "SOURCE_ID",
				Action: func(c *cli.Context) error {
					return withSourceID(c, func(ix *ragindex.Index, id string) error {
						return ix.Catalog().Requeue(c.Context, id)
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a source, its documents and its embeddings",
				ArgsUsage: "SOURCE_ID",
				Action: func(c *cli.Context) error {
					return withSourceID(c, func(ix *ragindex.Index, id string) error {
						if err := ix.Catalog().DeleteSource(c.Context, id); err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "Source %s queued for deletion\n", id)
						return nil
					})
				},
			},
		},
	}
}

func sourceAddAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	src, err := ix.Catalog().CreateSource(c.Context, c.String("project"), c.String("name"), c.Args().Slice())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, src.ID)
	return nil
}

func sourceListAction(c *cli.Context) error {
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	sources, err := ix.Catalog().ListSources(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tATTEMPTS\tURLS\tUPDATED")
	for _, src := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", src.ID, src.Name, src.Status,
			src.Attempts, len(src.Data.URLs), src.LastUpdatedAt.Local().Format(timeLayout))
	}
	return tw.Flush()
}

func sourceShowAction(c *cli.Context) error {
	return withSourceID(c, func(ix *ragindex.Index, id string) error {
		view, err := ix.Catalog().Describe(c.Context, id)
		if err != nil {
			return err
		}
		src := view.Source
		out := c.App.Writer
		fmt.Fprintf(out, "ID:       %s\n", src.ID)
		fmt.Fprintf(out, "Project:  %s\n", src.ProjectID)
		fmt.Fprintf(out, "Name:     %s\n", src.Name)
		fmt.Fprintf(out, "Status:   %s\n", src.Status)
		fmt.Fprintf(out, "Attempts: %d\n", src.Attempts)
		if src.Error != "" {
			fmt.Fprintf(out, "Error:    %s\n", src.Error)
		}
		if src.BillingError != "" {
			fmt.Fprintf(out, "Billing:  %s\n", src.BillingError)
		}
		fmt.Fprintln(out)

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DOCUMENT\tSTATUS\tURL\tERROR")
		for _, doc := range view.Documents {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", doc.ID, doc.Status, doc.Name, doc.Error)
		}
		return tw.Flush()
	})
}

func sourceAddURLsAction(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("a source ID and at least one URL are required")
	}
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	docs, err := ix.Catalog().AddURLs(c.Context, c.Args().First(), c.Args().Tail())
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Fprintln(c.App.Writer, doc.ID)
	}
	return nil
}

func sourceRemoveURLAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("a source ID and a URL are required")
	}
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	return ix.Catalog().RemoveURL(c.Context, c.Args().Get(0), c.Args().Get(1))
}

func docCommand() *cli.Command {
	return &cli.Command{
		Name:  "doc",
		Usage: "Manage documents",
		Subcommands: []*cli.Command{
			{
				Name:      "remove",
				Usage:     "Remove a document and its embeddings",
				ArgsUsage: "DOCUMENT_ID",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("a document ID is required")
					}
					ix, err := openIndex(c)
					if err != nil {
						return err
					}
					defer ix.Close()
					return ix.Catalog().RemoveDocument(c.Context, c.Args().First())
				},
			},
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:   "refresh",
		Usage:  "Re-queue every document of a project for scraping and embedding",
		Action: refreshAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "project",
				Aliases:  []string{"p"},
				Usage:    "Project ID",
				Required: true,
				EnvVars:  []string{"RAGINDEX_PROJECT"},
			},
		},
	}
}

func refreshAction(c *cli.Context) error {
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()

	summary, err := ix.NewRefresher(c.App.ErrWriter).Run(c.Context, c.String("project"))
	if err != nil {
		return err
	}
	slog.Info("refresh finished",
		"sources", summary.Sources,
		"documents", summary.Documents,
		"skipped", summary.Skipped)
	return nil
}

// withSourceID opens the index and passes it the single SOURCE_ID argument.
func withSourceID(c *cli.Context, fn func(ix *ragindex.Index, id string) error) error {
	if c.NArg() != 1 {
		return fmt.Errorf("a source ID is required")
	}
	ix, err := openIndex(c)
	if err != nil {
		return err
	}
	defer ix.Close()
	return fn(ix, c.Args().First())
}
