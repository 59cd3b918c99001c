package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"postscan/pkg/checkpoint"
	"postscan/pkg/config"
	"postscan/pkg/logger"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current analysis run",
	Long: `Show whether an analysis run is in progress and how far it got.

Reads the persisted state file without modifying it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&stateFile, "state-file", "", "analysis state file")
}

func runStatus() error {
	cfg, err := config.Load(configFile, map[string]interface{}{
		"state-file": stateFile,
		"log-level":  "error",
	})
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return err
	}

	store, err := checkpoint.NewStore(cfg.Data.StateFile, logger.GetLogger())
	if err != nil {
		return err
	}

	record, err := store.Load()
	if err != nil {
		return err
	}
	if record == nil {
		fmt.Println("No analysis in progress.")
		return nil
	}

	remaining := record.Statistics.TotalPosts - record.ProcessedCount
	if remaining < 0 {
		remaining = 0
	}

	fmt.Printf("Run %s\n", record.RunID)
	fmt.Printf("  started:    %s\n", record.StartedAt.Local().Format(time.RFC1123))
	fmt.Printf("  last saved: %s (%s ago)\n",
		record.LastSaved.Local().Format(time.RFC1123),
		time.Since(record.LastSaved).Round(time.Second))
	fmt.Printf("  progress:   %d/%d posts (%d successful, %d failed, %d remaining)\n",
		record.ProcessedCount, record.Statistics.TotalPosts,
		record.Statistics.Successful, record.Statistics.Failed, remaining)
	fmt.Printf("  detected:   %d posts with nicotine content\n", record.Statistics.NicotineDetected)
	for category, count := range record.Statistics.ByCategory {
		fmt.Printf("              %s: %d\n", category, count)
	}
	if remaining > 0 {
		fmt.Println("\nRun 'postscan analyze' to resume.")
	}
	return nil
}
