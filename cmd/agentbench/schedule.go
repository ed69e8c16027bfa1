package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mosaico-wp2/agentbench/pkg/scheduler"
)

var (
	scheduleTimezone string
	scheduleCount    int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Work with run schedules",
}

var scheduleNextCmd = &cobra.Command{
	Use:   "next <cron>",
	Short: "Preview the next fire times of a cron expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := scheduler.LoadLocation(scheduleTimezone)
		if err != nil {
			return err
		}

		times, err := scheduler.NextFireTimes(args[0], scheduleTimezone, time.Now(), scheduleCount)
		if err != nil {
			return err
		}

		for _, t := range times {
			fmt.Println(t.In(loc).Format(time.RFC3339))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleNextCmd)

	scheduleNextCmd.Flags().StringVar(&scheduleTimezone, "timezone", scheduler.DefaultTimezone,
		"IANA timezone the expression is evaluated in")
	scheduleNextCmd.Flags().IntVar(&scheduleCount, "count", 5, "Number of fire times to print")
}
