package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/internal/backoff"
	"github.com/ShayCichocki/accord/internal/breaker"
	"github.com/ShayCichocki/accord/internal/config"
	"github.com/ShayCichocki/accord/internal/consensus"
	"github.com/ShayCichocki/accord/internal/cost"
	"github.com/ShayCichocki/accord/internal/executor"
	"github.com/ShayCichocki/accord/internal/router"
	"github.com/ShayCichocki/accord/internal/runner"
	"github.com/ShayCichocki/accord/internal/telemetry"
	"github.com/ShayCichocki/accord/pkg/models"
)

var (
	runStages  string
	runTier    string
	runBudget  float64
	runRosters string
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task through one or more consensus stages",
	Long: `Run a task through the given pipeline stages.

Each stage is routed to a tier, fanned out to that tier's roster, and
reduced to a verdict. The pipeline stops at the first Failed stage.

Tier routing (--tier overrides):
  - simple:    one cheap worker
  - medium:    two cheap workers
  - complex:   two cheap workers plus an anchor and an aggregator
  - critical:  the highest-capability roster, never downgraded

Audit and release-gate stages always route to critical regardless of
budget pressure.

Exit status is 0 for Full and Degraded verdicts and 1 when any stage
fails to reach quorum.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runStages, "stages", "implement", "Comma-separated pipeline stages")
	runCmd.Flags().StringVar(&runTier, "tier", "", "Force a tier: simple, medium, complex, or critical")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "Override the run budget in USD")
	runCmd.Flags().StringVar(&runRosters, "rosters", "", "Path to a rosters.yaml (defaults to built-in rosters)")
}

func runTask(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runBudget > 0 {
		cfg.Budget.USD = runBudget
	}
	if runTier != "" && !models.Tier(runTier).Valid() {
		return fmt.Errorf("unknown tier %q", runTier)
	}

	logger := buildLogger()
	defer logger.Sync()

	table, rosterPath, err := loadRosterTable()
	if err != nil {
		return err
	}

	runID := uuid.New().String()[:8]

	tracker := cost.NewTracker(runID, cfg.Budget.USD, logger)
	tracker.SetWarnThreshold(cfg.Budget.WarnThreshold)
	tracker.SetOnAlert(printAlert)

	breakers := breaker.NewRegistry(breaker.Settings{
		Window:      cfg.Breaker.Window,
		MinSamples:  cfg.Breaker.MinSamples,
		FailureRate: cfg.Breaker.FailureThreshold,
		Cooldown:    cfg.Breaker.Cooldown,
	}, logger)
	policy := backoff.New(cfg.Retry.Base, cfg.Retry.Max, cfg.Retry.Jitter, cfg.Retry.MaxAttempts)
	workers := executor.New(cfg.Executor.InlineLimit, logger)
	workers.SetEnvFunc(func(w models.Worker) []string {
		return config.WorkerEnv(cfg, w)
	})
	calls := runner.New(workers, breakers, policy, logger)

	var ledger *telemetry.Ledger
	if cfg.Evidence.Enabled {
		path := cfg.Evidence.Path
		if path == "" {
			path = telemetry.ProjectLedgerPath(".")
		}
		ledger, err = telemetry.Open(path)
		if err != nil {
			logger.Warn("evidence ledger unavailable, continuing log-only", zap.Error(err))
		} else {
			defer ledger.Close()
		}
	}
	recorder := telemetry.NewRecorder(logger, ledger)

	routes := router.New(table, tracker, logger)
	coord := consensus.New(calls, tracker, recorder, consensus.Settings{}, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Roster edits apply to stages routed after the reload; in-flight
	// fan-outs keep the roster they started with.
	if rosterPath != "" {
		go func() {
			if err := config.WatchRosters(ctx, rosterPath, logger, routes.SetTable); err != nil {
				logger.Warn("roster watch unavailable", zap.Error(err))
			}
		}()
	}

	fmt.Printf("run %s: %s\n\n", runID, prompt)

	failed := false
	for _, stage := range strings.Split(runStages, ",") {
		stage = strings.TrimSpace(stage)
		if stage == "" {
			continue
		}

		var roster models.Roster
		if runTier != "" {
			roster, err = routes.RouteTier(stage, models.Tier(runTier))
		} else {
			roster, err = routes.Route(stage, prompt)
		}
		if err != nil {
			return err
		}

		verdict, err := coord.RunStage(ctx, consensus.StageRequest{
			RunID:        runID,
			Stage:        stage,
			Prompt:       prompt,
			Roster:       roster,
			CallTimeout:  cfg.Timeouts.Call,
			StageTimeout: cfg.Timeouts.Stage,
		})
		if err != nil && ctx.Err() != nil {
			return fmt.Errorf("run interrupted during stage %s", stage)
		}
		if err != nil {
			return err
		}

		printVerdict(verdict)
		if !verdict.Accepted() {
			failed = true
			break
		}
	}

	recorder.RunCompleted(runID, tracker.Total(), tracker.Budget(), tracker.Alerts())
	recorder.BreakerSnapshots(breakers.Snapshots())
	printCostSummary(tracker)

	if failed {
		return fmt.Errorf("pipeline failed")
	}
	return nil
}

// loadRosterTable resolves the roster source: explicit flag, a project
// rosters.yaml, or the built-in defaults. The returned path is empty for the
// built-in defaults, which have no file to watch.
func loadRosterTable() (models.RosterTable, string, error) {
	path := runRosters
	if path == "" {
		if _, err := os.Stat("rosters.yaml"); err == nil {
			path = "rosters.yaml"
		}
	}
	if path == "" {
		return config.DefaultRosters(), "", nil
	}
	table, err := config.LoadRosters(path)
	return table, path, err
}

func printVerdict(v models.ConsensusVerdict) {
	switch v.Class {
	case models.VerdictFull:
		color.Green("✓ %s: full consensus (%d/%d)", v.Stage, v.Succeeded, v.Total)
	case models.VerdictDegraded:
		color.Yellow("⚠ %s: degraded consensus (%d/%d)", v.Stage, v.Succeeded, v.Total)
	case models.VerdictFailed:
		color.Red("✗ %s: quorum not met (%d/%d)", v.Stage, v.Succeeded, v.Total)
	}

	for _, m := range v.Members {
		if m.Succeeded() {
			fmt.Printf("  %s: ok (%d attempts, %d tokens)\n", m.Worker.Name, m.Attempts, m.Usage.Total())
		} else {
			fmt.Printf("  %s: %s (%d attempts)\n", m.Worker.Name, m.Fault.Kind, m.Attempts)
		}
	}

	for _, c := range v.Conflicts {
		color.Yellow("  conflict between %s:", strings.Join(c.Workers, ", "))
		for i, w := range c.Workers {
			fmt.Printf("    %s: %s\n", w, firstLine(c.Outputs[i]))
		}
	}

	if v.Class == models.VerdictFailed {
		for _, m := range v.Members {
			if m.Fault != nil {
				fmt.Printf("  last fault for %s: %s\n", m.Worker.Name, m.Fault.Message)
			}
		}
	}
	fmt.Println()
}

func printAlert(a cost.Alert) {
	if a.Level == "exhausted" {
		color.Red("budget alert: %s", a.Message)
		return
	}
	color.Yellow("budget alert: %s", a.Message)
}

func printCostSummary(t *cost.Tracker) {
	if t.Budget() > 0 {
		fmt.Printf("spend: $%.4f of $%.2f (%.0f%%)\n", t.Total(), t.Budget(), t.Utilization()*100)
		return
	}
	fmt.Printf("spend: $%.4f\n", t.Total())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
