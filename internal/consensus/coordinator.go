// Package consensus fans a stage out to a worker roster, collects whatever
// completes before the stage deadline, and reduces the results to a single
// verdict with a synthesized artifact.
package consensus

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/internal/classify"
	"github.com/ShayCichocki/accord/internal/cost"
	"github.com/ShayCichocki/accord/pkg/models"
)

// DefaultStageTimeout bounds one whole fan-out, distinct from and normally
// longer than any individual call timeout.
const DefaultStageTimeout = 30 * time.Minute

// CallRunner executes one member call to completion. Satisfied by
// runner.Runner.
type CallRunner interface {
	Run(ctx context.Context, task models.AgentTask) (models.AgentOutcome, error)
}

// Ledger records spend for completed calls. Satisfied by cost.Tracker.
type Ledger interface {
	Record(stage string, w models.Worker, u models.Usage) cost.Record
	RecordsForStage(stage string) []cost.Record
}

// Sink receives the finalized verdict for the reporting layer. Satisfied by
// telemetry.Recorder.
type Sink interface {
	StageCompleted(verdict models.ConsensusVerdict, records []cost.Record)
}

// StageRequest describes one stage fan-out.
type StageRequest struct {
	RunID  string
	Stage  string
	Prompt string
	Roster models.Roster
	// CallTimeout bounds each individual worker call. Zero means the
	// executor default applies.
	CallTimeout time.Duration
	// StageTimeout bounds the whole fan-out including the retry round.
	// Zero means DefaultStageTimeout.
	StageTimeout time.Duration
}

// Settings tunes the coordinator.
type Settings struct {
	// Quorum overrides the computed minimum when positive. The default is
	// N-1 for rosters of three or more, otherwise N.
	Quorum int
	// DisableRetryRound skips the extra retry round for failed members.
	DisableRetryRound bool
}

// Coordinator owns the fan-out, quorum, and synthesis logic for one or more
// stage invocations. Safe for concurrent use.
type Coordinator struct {
	runner   CallRunner
	costs    Ledger
	sink     Sink
	logger   *zap.Logger
	settings Settings

	newID func() string
	now   func() time.Time
}

// New builds a Coordinator. costs and sink may be nil.
func New(runner CallRunner, costs Ledger, sink Sink, settings Settings, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		runner:   runner,
		costs:    costs,
		sink:     sink,
		logger:   logger.Named("consensus"),
		settings: settings,
		newID:    shortID,
		now:      time.Now,
	}
}

// shortID returns an 8-character call identifier.
func shortID() string {
	return uuid.New().String()[:8]
}

// memberResult pairs an outcome with its canonical roster position so the
// verdict can be ordered deterministically regardless of completion order.
type memberResult struct {
	index   int
	outcome models.AgentOutcome
}

// RunStage fans the roster out, applies the quorum rule, and returns the
// verdict. A Failed verdict is a normal return, not an error; the error is
// non-nil only for caller cancellation or an empty roster.
func (c *Coordinator) RunStage(ctx context.Context, req StageRequest) (models.ConsensusVerdict, error) {
	n := req.Roster.Size()
	if n == 0 {
		return models.ConsensusVerdict{}, models.NewFault(models.FaultBadInput,
			"stage %s has an empty roster", req.Stage)
	}

	stageTimeout := req.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}
	sctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	c.logger.Info("stage fan-out started",
		zap.String("run", req.RunID),
		zap.String("stage", req.Stage),
		zap.String("tier", string(req.Roster.Tier)),
		zap.Int("roster", n))

	outcomes := c.fanOut(sctx, req)

	if !c.settings.DisableRetryRound && sctx.Err() == nil {
		c.retryRound(sctx, req, outcomes)
	}

	verdict := c.finalize(req, outcomes)

	if err := ctx.Err(); err != nil {
		return verdict, err
	}
	return verdict, nil
}

// launch starts one call in its own goroutine and funnels the result, tagged
// with its canonical roster position, into results.
func (c *Coordinator) launch(ctx context.Context, req StageRequest, w models.Worker, index, maxAttempts int, results chan<- memberResult) {
	task := models.AgentTask{
		ID:          c.newID(),
		RunID:       req.RunID,
		Stage:       req.Stage,
		Tier:        req.Roster.Tier,
		Prompt:      req.Prompt,
		Worker:      w,
		Timeout:     req.CallTimeout,
		MaxAttempts: maxAttempts,
	}
	go func() {
		outcome, err := c.runner.Run(ctx, task)
		if err != nil && outcome.Fault == nil {
			// Stage deadline or caller cancellation surfaced before the
			// runner classified anything.
			outcome.Fault = models.NewFault(models.FaultTimeout,
				"stage deadline exceeded before %s completed", task.Worker.Name)
			outcome.TaskID = task.ID
			outcome.Worker = task.Worker
		}
		results <- memberResult{index: index, outcome: outcome}
	}()
}

// fanOut launches one call per roster member and collects all results into
// canonical roster order, regardless of completion order.
func (c *Coordinator) fanOut(ctx context.Context, req StageRequest) []models.AgentOutcome {
	workers := req.Roster.Workers
	results := make(chan memberResult, len(workers))
	for i, w := range workers {
		c.launch(ctx, req, w, i, 0, results)
	}

	collected := make([]models.AgentOutcome, len(workers))
	for range workers {
		r := <-results
		collected[r.index] = r.outcome
		c.recordCost(req.Stage, r.outcome)
	}
	return collected
}

// retryRound gives failed members with a non-permanent fault one more call
// before the verdict is finalized. Results overwrite the member's slot, with
// the attempt count carried forward.
func (c *Coordinator) retryRound(ctx context.Context, req StageRequest, outcomes []models.AgentOutcome) {
	var retrying []int
	for i, o := range outcomes {
		if o.Succeeded() {
			continue
		}
		if classify.Classify(o.Fault).Kind == classify.Permanent {
			continue
		}
		retrying = append(retrying, i)
	}
	if len(retrying) == 0 {
		return
	}

	c.logger.Info("retry round for failed members",
		zap.String("stage", req.Stage),
		zap.Int("members", len(retrying)))

	results := make(chan memberResult, len(retrying))
	for _, idx := range retrying {
		c.launch(ctx, req, outcomes[idx].Worker, idx, 1, results)
	}
	for range retrying {
		r := <-results
		r.outcome.Attempts += outcomes[r.index].Attempts
		outcomes[r.index] = r.outcome
		c.recordCost(req.Stage, r.outcome)
	}
}

// recordCost records spend for completed calls. Failed calls that billed no
// tokens leave no ledger entry.
func (c *Coordinator) recordCost(stage string, o models.AgentOutcome) {
	if c.costs == nil {
		return
	}
	if !o.Succeeded() && o.Usage.Total() == 0 {
		return
	}
	c.costs.Record(stage, o.Worker, o.Usage)
}

// quorum returns the minimum success count to accept a stage outcome.
func (c *Coordinator) quorum(n int) int {
	if c.settings.Quorum > 0 {
		return c.settings.Quorum
	}
	if n >= 3 {
		return n - 1
	}
	return n
}

// finalize reduces the collected outcomes to a verdict with synthesis.
func (c *Coordinator) finalize(req StageRequest, outcomes []models.AgentOutcome) models.ConsensusVerdict {
	n := len(outcomes)
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded++
		}
	}

	verdict := models.ConsensusVerdict{
		RunID:       req.RunID,
		Stage:       req.Stage,
		Succeeded:   succeeded,
		Total:       n,
		Members:     outcomes,
		CompletedAt: c.now(),
	}

	switch {
	case succeeded == n:
		verdict.Class = models.VerdictFull
	case succeeded >= c.quorum(n):
		verdict.Class = models.VerdictDegraded
	default:
		verdict.Class = models.VerdictFailed
	}

	if verdict.Accepted() {
		verdict.Artifact, verdict.Conflicts = synthesize(outcomes)
	}

	c.logger.Info("stage verdict",
		zap.String("run", req.RunID),
		zap.String("stage", req.Stage),
		zap.String("class", string(verdict.Class)),
		zap.Int("succeeded", succeeded),
		zap.Int("total", n),
		zap.Int("conflicts", len(verdict.Conflicts)))

	if c.sink != nil {
		var records []cost.Record
		if c.costs != nil {
			records = c.costs.RecordsForStage(req.Stage)
		}
		c.sink.StageCompleted(verdict, records)
	}
	return verdict
}
