package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/accord/internal/config"
	"github.com/ShayCichocki/accord/internal/telemetry"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's evidence as YAML",
	Long: `Export the stage verdicts, conflict lists, and cost summary recorded
for a run from the project evidence ledger (.accord/evidence.db).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path := cfg.Evidence.Path
		if path == "" {
			path = telemetry.ProjectLedgerPath(".")
		}

		ledger, err := telemetry.Open(path)
		if err != nil {
			return fmt.Errorf("opening evidence ledger: %w", err)
		}
		defer ledger.Close()

		out := os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			out = f
		}
		return ledger.ExportRun(args[0], out)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
}
