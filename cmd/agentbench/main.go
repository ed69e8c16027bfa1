package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mosaico-wp2/agentbench/pkg/config"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      *logrus.Logger
)

func main() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("Failed to execute command")
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentbench",
	Short: "Benchmark orchestration for AI agents",
	Long: `Agentbench scores agent traces with metric providers, evaluates KPI
formulas over the aggregated metrics and raises alerts when KPIs cross
their thresholds. Runs are triggered manually, by cron schedules, by
webhooks or by agent and dataset events.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agentbench %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (repeatable; later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}

// loadConfig reads and validates the --config files.
func loadConfig() (*config.Config, error) {
	if len(cfgFiles) == 0 {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// A level in the config file applies unless the flag was set.
	if !rootCmd.PersistentFlags().Changed("log-level") && cfg.Global.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}
