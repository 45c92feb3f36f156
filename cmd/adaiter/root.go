package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "adaiter",
	Short: "Adaptive iteration controller",
	Long: `adaiter decides, epoch by epoch, whether an iteration budget should grow
and whether a run should stop early.

It raises the budget by a fixed factor once a metric has stagnated for a
patience window, and stops when the metric crosses an absolute threshold or
the budget reaches its ceiling.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	Execute()
}
