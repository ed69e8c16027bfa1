package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mosaico-wp2/agentbench/pkg/api"
	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, worker pool and scheduler",
	Long: `Start the agentbench service: the HTTP API, the run worker pool and,
unless disabled, the scheduled task runner.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.pool.Start(ctx); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	var runner scheduler.Runner

	if cfg.Scheduler.Enabled {
		runner = scheduler.NewRunner(log, &cfg.Scheduler, p.schedules, p.runs, p.orch)

		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	srv := api.NewServer(log, &cfg.Server, api.Deps{
		Store:        p.store,
		Runs:         p.runs,
		Orchestrator: p.orch,
		Catalog:      p.catalog,
		Engine:       p.engine,
		Schedules:    p.schedules,
		Alerts:       p.alerts,
		Evaluator:    p.evaluator,
	})

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")

	if err := srv.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop api server")
	}

	if runner != nil {
		if err := runner.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop scheduler")
		}
	}

	// In-flight runs finish before the store closes.
	if err := p.pool.Stop(); err != nil {
		log.WithError(err).Warn("Failed to stop worker pool")
	}

	return nil
}
