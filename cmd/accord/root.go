package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var debugLogging bool

var rootCmd = &cobra.Command{
	Use:   "accord",
	Short: "Consensus orchestration for multi-agent delivery pipelines",
	Long: `Accord fans delivery stages out to rosters of AI worker processes,
retries transient failures with backoff and per-endpoint circuit
breakers, and reduces the results to a single consensus verdict.

A stage is routed to a capability tier (simple, medium, complex,
critical) by fixed policy, every roster member runs concurrently, and
the verdict is Full, Degraded, or Failed depending on how many members
agree. Genuinely conflicting conclusions are listed on the verdict
rather than silently dropped.

Spend is tracked per run against a dollar budget; crossing 80% warns
once, and an exhausted budget downgrades new non-critical stages to the
cheapest staffed tier.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

// buildLogger constructs the process logger. Production JSON output by
// default, human-readable development output with --debug.
func buildLogger() *zap.Logger {
	if debugLogging {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return logger
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
