package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/mosaico-wp2/agentbench/pkg/runmanager"
	"github.com/mosaico-wp2/agentbench/pkg/store"
)

var (
	runBenchmarkID string
	runAgentID     string
	runName        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one benchmark synchronously",
	Long: `Create a run for the given benchmark and agent, execute it in the
foreground and print the resulting KPIs.`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runBenchmarkID, "benchmark", "", "Benchmark ID")
	runCmd.Flags().StringVar(&runAgentID, "agent", "", "Agent ID")
	runCmd.Flags().StringVar(&runName, "run-name", "",
		"Trace batch name (default: the benchmark's run name)")

	for _, name := range []string{"benchmark", "agent"} {
		if err := runCmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	run, err := p.runs.Create(ctx, runmanager.CreateRequest{
		BenchmarkID:    runBenchmarkID,
		AgentID:        runAgentID,
		TriggerType:    store.TriggerManual,
		TriggeredBy:    "cli",
		TraceBatchName: runName,
	})
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Cancelling run")

			if _, err := p.orch.Cancel(context.Background(), run.ID); err != nil {
				log.WithError(err).Warn("Failed to cancel run")
			}
		case <-ctx.Done():
		}
	}()

	final, execErr := p.orch.Execute(ctx, run.ID)
	if final == nil {
		return fmt.Errorf("executing run: %w", execErr)
	}

	if err := printRun(ctx, p.store, final); err != nil {
		return err
	}

	if execErr != nil {
		return fmt.Errorf("run %s failed: %w", final.ID, execErr)
	}

	return nil
}

func printRun(ctx context.Context, st store.Store, run *store.Run) error {
	kpis, err := st.ListKPIHistory(ctx, store.KPIHistoryFilter{RunID: run.ID})
	if err != nil {
		return fmt.Errorf("loading kpis: %w", err)
	}

	fmt.Printf("Run %s: %s\n", run.ID, run.Status)
	fmt.Printf("  benchmark: %s\n", run.BenchmarkID)
	fmt.Printf("  agent:     %s\n", run.AgentID)
	fmt.Printf("  traces:    %d\n", run.TracesProcessed)
	fmt.Printf("  metrics:   %d\n", run.MetricsComputed)

	if d := run.Duration(); d > 0 {
		fmt.Printf("  duration:  %s\n", units.HumanDuration(d))
	}

	if run.ErrorMessage != "" {
		fmt.Printf("  error:     %s\n", run.ErrorMessage)
	}

	if len(kpis) == 0 {
		return nil
	}

	fmt.Println()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KPI\tVALUE\tBASELINE\tSTATUS")

	for _, k := range kpis {
		baseline := "-"
		if k.BaselineValue != nil {
			baseline = fmt.Sprintf("%.4f", *k.BaselineValue)
		}

		fmt.Fprintf(tw, "%s\t%.4f\t%s\t%s\n", k.KPIName, k.Value, baseline, k.Status)
	}

	return tw.Flush()
}
