package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mosaico-wp2/agentbench/pkg/formula"
)

var (
	formulaAvailable []string
	formulaExtra     []string
)

var formulaCmd = &cobra.Command{
	Use:   "formula",
	Short: "Inspect KPI formulas",
}

var formulaValidateCmd = &cobra.Command{
	Use:   "validate <formula>",
	Short: "Check that a KPI formula compiles",
	Args:  cobra.ExactArgs(1),
	RunE:  runFormulaValidate,
}

var formulaMetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List the metric names formulas may reference",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, m := range newFormulaEngine().KnownMetrics() {
			fmt.Println(m)
		}
	},
}

var formulaSyntaxCmd = &cobra.Command{
	Use:   "syntax",
	Short: "Print the formula syntax reference",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(formula.SyntaxHelp())
	},
}

func init() {
	rootCmd.AddCommand(formulaCmd)
	formulaCmd.AddCommand(formulaValidateCmd, formulaMetricsCmd, formulaSyntaxCmd)

	formulaCmd.PersistentFlags().StringSliceVar(&formulaExtra, "metric", nil,
		"Extra metric name to accept (repeatable)")
	formulaValidateCmd.Flags().StringSliceVar(&formulaAvailable, "available", nil,
		"Restrict referenced metrics to this set (comma-separated or repeated flag)")
}

func newFormulaEngine() formula.Engine {
	engine := formula.NewEngine(log)
	engine.RegisterMetrics(formulaExtra...)

	return engine
}

func runFormulaValidate(cmd *cobra.Command, args []string) error {
	engine := newFormulaEngine()

	var (
		f   formula.Formula
		err error
	)

	if len(formulaAvailable) > 0 {
		f, err = engine.ValidateAgainst(args[0], formulaAvailable)
	} else {
		f, err = engine.Compile(args[0])
	}

	if err != nil {
		return fmt.Errorf("invalid formula: %w", err)
	}

	fmt.Printf("valid %s formula\n", f.Type())
	fmt.Printf("  metrics: %s\n", strings.Join(f.Metrics(), ", "))

	return nil
}
