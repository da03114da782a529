package telemetry

import (
	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/internal/breaker"
	"github.com/ShayCichocki/accord/internal/cost"
	"github.com/ShayCichocki/accord/pkg/models"
)

// Recorder emits one structured record per completed stage fan-out and one
// cost summary per run, and persists both to the evidence ledger when one is
// attached. Satisfies consensus.Sink.
type Recorder struct {
	logger *zap.Logger
	ledger *Ledger
}

// NewRecorder builds a Recorder. ledger may be nil for log-only operation.
func NewRecorder(logger *zap.Logger, ledger *Ledger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{logger: logger.Named("telemetry"), ledger: ledger}
}

// StageCompleted records one finalized stage verdict.
func (r *Recorder) StageCompleted(v models.ConsensusVerdict, records []cost.Record) {
	fields := []zap.Field{
		zap.String("run", v.RunID),
		zap.String("stage", v.Stage),
		zap.String("class", string(v.Class)),
		zap.Int("succeeded", v.Succeeded),
		zap.Int("total", v.Total),
		zap.Int("conflicts", len(v.Conflicts)),
		zap.Int("cost_records", len(records)),
	}
	for _, m := range v.Members {
		member := zap.Dict(m.Worker.Name,
			zap.String("endpoint", m.Worker.Endpoint()),
			zap.Int("attempts", m.Attempts),
			zap.Int64("tokens", m.Usage.Total()),
			zap.Bool("succeeded", m.Succeeded()),
		)
		fields = append(fields, member)
	}
	r.logger.Info("stage completed", fields...)

	if r.ledger == nil {
		return
	}
	if err := r.ledger.SaveVerdict(v); err != nil {
		r.logger.Error("persist verdict", zap.Error(err))
	}
	if err := r.ledger.SaveCostRecords(v.RunID, records); err != nil {
		r.logger.Error("persist cost records", zap.Error(err))
	}
}

// RunCompleted records the cumulative spend and alert history for a run.
func (r *Recorder) RunCompleted(runID string, totalCost, budget float64, alerts []cost.Alert) {
	r.logger.Info("run cost summary",
		zap.String("run", runID),
		zap.Float64("total_cost", totalCost),
		zap.Float64("budget", budget),
		zap.Int("alerts", len(alerts)))

	if r.ledger == nil {
		return
	}
	if err := r.ledger.SaveRunSummary(runID, totalCost, budget, alerts); err != nil {
		r.logger.Error("persist run summary", zap.Error(err))
	}
}

// BreakerSnapshots logs the current state of every endpoint breaker.
func (r *Recorder) BreakerSnapshots(snaps []breaker.Snapshot) {
	for _, s := range snaps {
		r.logger.Info("breaker state",
			zap.String("endpoint", s.Endpoint),
			zap.String("state", s.State),
			zap.Float64("failure_rate", s.FailureRate),
			zap.Int("samples", s.Samples))
	}
}
