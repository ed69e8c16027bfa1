package main

import (
	"context"
	"fmt"

	"github.com/mosaico-wp2/agentbench/pkg/alert"
	"github.com/mosaico-wp2/agentbench/pkg/catalog"
	"github.com/mosaico-wp2/agentbench/pkg/config"
	"github.com/mosaico-wp2/agentbench/pkg/formula"
	"github.com/mosaico-wp2/agentbench/pkg/metric"
	"github.com/mosaico-wp2/agentbench/pkg/orchestrator"
	"github.com/mosaico-wp2/agentbench/pkg/report"
	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
	"github.com/mosaico-wp2/agentbench/pkg/store"
	"github.com/mosaico-wp2/agentbench/pkg/tracesource"
)

// pipeline holds the wired components shared by serve and run.
type pipeline struct {
	store     store.Store
	catalog   catalog.Catalog
	engine    formula.Engine
	runs      runmanager.Manager
	evaluator alert.Evaluator
	alerts    alert.Service
	schedules scheduler.Service
	pool      orchestrator.Pool
	orch      orchestrator.Orchestrator
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	var source tracesource.Source
	if cfg.Traces.IsLangfuse() {
		source = tracesource.NewLangfuseSource(log, &cfg.Traces.Langfuse)
	} else {
		source = tracesource.NewFileSource(log, cfg.Traces.File.Path)
	}

	uploader := report.NewNoopUploader()

	if cfg.Reports.S3.Enabled {
		uploader = report.NewS3Uploader(log, &cfg.Reports.S3)

		if err := uploader.Preflight(ctx); err != nil {
			return nil, fmt.Errorf("checking report bucket: %w", err)
		}
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	engine := formula.NewEngine(log)
	engine.RegisterMetrics(cfg.Metrics.ExtraKnownMetrics...)

	runs := runmanager.New(log, st)
	evaluator := alert.NewEvaluator(log, st, alert.NewDispatcherFromConfig(log, &cfg.Notifications))
	schedules := scheduler.NewService(log, st)
	pool := orchestrator.NewPool(log, cfg.Orchestrator.Workers, cfg.Orchestrator.QueueSize)

	orch := orchestrator.New(
		log,
		&cfg.Orchestrator,
		st,
		runs,
		cat,
		source,
		metric.NewAggregator(log, metric.NewRegistry()),
		engine,
		evaluator,
		pool,
		orchestrator.WithUploader(uploader),
	)

	// Scheduled runs report their outcome back to the schedule.
	orch.AddObserver(schedules)

	return &pipeline{
		store:     st,
		catalog:   cat,
		engine:    engine,
		runs:      runs,
		evaluator: evaluator,
		alerts:    alert.NewService(log, st),
		schedules: schedules,
		pool:      pool,
		orch:      orch,
	}, nil
}

func (p *pipeline) close() {
	if err := p.store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}
