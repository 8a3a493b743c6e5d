// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/aira/pkg/logging"
	"github.com/AleutianAI/aira/services/orchestrator"
	"github.com/AleutianAI/aira/services/orchestrator/assessment"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// =============================================================================
// Command tree
// =============================================================================

// cli carries state shared by the subcommands.
type cli struct {
	configPath string
	quiet      bool

	cfg    FileConfig
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "aira",
		Short: "AIRA conversational wellbeing assistant",
		Long: `aira serves the AIRA chat API and runs its maintenance jobs:
retention cleanup, memory consolidation, corpus ingestion and question
bank seeding.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to aira.yaml")
	root.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "suppress log output on stderr")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API and run the nightly jobs",
			Args:  cobra.NoArgs,
			RunE:  c.runServe,
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Run the retention cleanup once",
			Args:  cobra.NoArgs,
			RunE:  c.runCleanup,
		},
		newConsolidateCmd(c),
		&cobra.Command{
			Use:     "ingest <dir>",
			Short:   "Load a directory of documents into the retrieval index",
			Aliases: []string{"i"},
			Args:    cobra.ExactArgs(1),
			RunE:    c.runIngest,
		},
		&cobra.Command{
			Use:   "seed-questions <file>",
			Short: "Load an assessment question bank YAML file into the store",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runSeedQuestions,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "aira %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

func newConsolidateCmd(c *cli) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run the sentiment pass for every user, or one user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runConsolidate(cmd, userID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "analyse only this user id")
	return cmd
}

// load reads configuration and installs the logger.
func (c *cli) load() error {
	cfg, err := LoadConfig(c.configPath, os.LookupEnv)
	if err != nil {
		return err
	}
	lc, err := cfg.Log.loggingConfig(c.quiet)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(lc)
	slog.SetDefault(c.logger.Slog())
	return nil
}

// open builds the App for a command. The caller must Close it.
func (c *cli) open(ctx context.Context) (*orchestrator.App, error) {
	cfg := c.cfg.Config
	cfg.Telemetry.ServiceVersion = version
	return orchestrator.New(ctx, cfg, orchestrator.WithLogger(c.logger.Slog()))
}

// =============================================================================
// Commands
// =============================================================================

func (c *cli) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Run(ctx)
}

func (c *cli) runCleanup(cmd *cobra.Command, _ []string) error {
	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Cleaner().RunCleanup(cmd.Context())
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.HasErrors() {
		return fmt.Errorf("cleanup finished with %d error(s)", len(res.Errors))
	}
	return nil
}

func (c *cli) runConsolidate(cmd *cobra.Command, userID string) error {
	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	if userID != "" {
		n, err := app.Consolidator().AnalyzeUser(cmd.Context(), userID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"user_id": userID, "days_scored": n})
	}
	res, err := app.Consolidator().RunSentimentPass(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func (c *cli) runIngest(cmd *cobra.Command, args []string) error {
	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := app.Ingester().IngestDir(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %s\n", n, args[0])
	return nil
}

func (c *cli) runSeedQuestions(cmd *cobra.Command, args []string) error {
	qs, err := assessment.LoadBankFile(args[0])
	if err != nil {
		return err
	}
	app, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	if err := assessment.Seed(cmd.Context(), app.Store(), qs); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d questions\n", len(qs))
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
