// Package cost records spend per completed call against a per-run budget and
// emits threshold alerts. The ledger is append-only; records are immutable
// once appended.
package cost

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/pkg/models"
)

// Pricing contains cost per 1M tokens for a model.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing contains the static price table per worker model.
var DefaultPricing = map[string]Pricing{
	"claude-opus-4-5-20251101":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
	"gpt-4o":                     {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.60},
}

// DefaultWarnThreshold is the budget fraction at which the warning fires.
const DefaultWarnThreshold = 0.80

// Status represents the current state of budget consumption.
type Status int

const (
	// StatusOK indicates usage below the warning threshold.
	StatusOK Status = iota
	// StatusWarning indicates usage between warning and exhaustion.
	StatusWarning
	// StatusExhausted indicates the budget is fully consumed.
	StatusExhausted
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarning:
		return "Warning"
	case StatusExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// Record is one append-only ledger entry for a completed call.
type Record struct {
	// Stage is the pipeline stage the call belonged to.
	Stage string `json:"stage"`
	// Worker is the roster name of the worker.
	Worker string `json:"worker"`
	// Endpoint is the provider/model identity.
	Endpoint string `json:"endpoint"`
	// Usage holds the billed token counts.
	Usage models.Usage `json:"usage"`
	// Cost is the computed dollar cost.
	Cost float64 `json:"cost"`
	// Timestamp is when the record was appended.
	Timestamp time.Time `json:"timestamp"`
}

// Alert is a threshold crossing notification.
type Alert struct {
	// Level is "warning" or "exhausted".
	Level string `json:"level"`
	// Message describes the crossing.
	Message string `json:"message"`
	// Utilization is spend over budget at firing time.
	Utilization float64 `json:"utilization"`
	// At is when the alert fired.
	At time.Time `json:"at"`
}

// Tracker maintains the per-run spend ledger and budget state. It is an
// explicit handle scoped to one run identifier; tests construct a fresh
// Tracker instead of resetting shared state. Safe for concurrent use; the
// lock is never held across I/O.
type Tracker struct {
	runID  string
	logger *zap.Logger

	mu             sync.Mutex
	budgetUSD      float64
	warnThreshold  float64
	prices         map[string]Pricing
	records        []Record
	total          float64
	warnFired      bool
	exhaustedFired bool
	alerts         []Alert
	onAlert        func(Alert)
	now            func() time.Time
}

// NewTracker creates a Tracker for one run. A zero budget disables
// enforcement: everything is recorded but no threshold ever fires.
func NewTracker(runID string, budgetUSD float64, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		runID:         runID,
		logger:        logger.Named("cost"),
		budgetUSD:     budgetUSD,
		warnThreshold: DefaultWarnThreshold,
		prices:        DefaultPricing,
		now:           time.Now,
	}
}

// SetWarnThreshold overrides the warning threshold fraction, clamped to [0, 1].
func (t *Tracker) SetWarnThreshold(threshold float64) {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.warnThreshold = threshold
}

// SetPricing replaces the price table.
func (t *Tracker) SetPricing(prices map[string]Pricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices = prices
}

// SetOnAlert registers a callback invoked (outside the lock) when a
// threshold alert fires.
func (t *Tracker) SetOnAlert(fn func(Alert)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onAlert = fn
}

// RunID returns the owning run identifier.
func (t *Tracker) RunID() string {
	return t.runID
}

// Record appends a ledger entry for one completed call and fires threshold
// alerts at most once each. Exceeding the budget never aborts in-flight
// calls; it only influences future roster selection.
func (t *Tracker) Record(stage string, w models.Worker, u models.Usage) Record {
	t.mu.Lock()

	pricing := t.prices[w.Model]
	cost := float64(u.InputTokens)/1_000_000*pricing.InputPerMillion +
		float64(u.OutputTokens)/1_000_000*pricing.OutputPerMillion

	rec := Record{
		Stage:     stage,
		Worker:    w.Name,
		Endpoint:  w.Endpoint(),
		Usage:     u,
		Cost:      cost,
		Timestamp: t.now(),
	}
	t.records = append(t.records, rec)
	t.total += cost

	var fired []Alert
	if t.budgetUSD > 0 {
		utilization := t.total / t.budgetUSD
		// One record can cross both thresholds at once; the warning fires
		// with the exhaustion rather than trailing it on a later record.
		if utilization >= t.warnThreshold && !t.warnFired {
			t.warnFired = true
			fired = append(fired, Alert{
				Level:       "warning",
				Message:     fmt.Sprintf("run %s passed %.0f%% of its $%.2f budget", t.runID, t.warnThreshold*100, t.budgetUSD),
				Utilization: utilization,
				At:          rec.Timestamp,
			})
		}
		if utilization >= 1.0 && !t.exhaustedFired {
			t.exhaustedFired = true
			fired = append(fired, Alert{
				Level:       "exhausted",
				Message:     fmt.Sprintf("run %s exceeded its $%.2f budget", t.runID, t.budgetUSD),
				Utilization: utilization,
				At:          rec.Timestamp,
			})
		}
		t.alerts = append(t.alerts, fired...)
	}
	onAlert := t.onAlert
	t.mu.Unlock()

	for _, a := range fired {
		t.logger.Warn("budget alert",
			zap.String("run", t.runID),
			zap.String("level", a.Level),
			zap.Float64("utilization", a.Utilization))
		if onAlert != nil {
			onAlert(a)
		}
	}
	return rec
}

// Total returns the cumulative spend.
func (t *Tracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Utilization returns spend over budget, zero when no budget is set.
func (t *Tracker) Utilization() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budgetUSD <= 0 {
		return 0
	}
	return t.total / t.budgetUSD
}

// Status returns the budget consumption state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budgetUSD <= 0 {
		return StatusOK
	}
	utilization := t.total / t.budgetUSD
	switch {
	case utilization >= 1.0:
		return StatusExhausted
	case utilization >= t.warnThreshold:
		return StatusWarning
	default:
		return StatusOK
	}
}

// Exhausted reports whether the budget has been fully consumed. The router
// consults this to block new Medium/Complex roster selections in favor of
// the cheapest viable tier.
func (t *Tracker) Exhausted() bool {
	return t.Status() == StatusExhausted
}

// Records returns a copy of the ledger.
func (t *Tracker) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record{}, t.records...)
}

// RecordsForStage returns the ledger entries for one stage.
func (t *Tracker) RecordsForStage(stage string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Record
	for _, r := range t.records {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

// Alerts returns a copy of the threshold-alert history.
func (t *Tracker) Alerts() []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Alert{}, t.alerts...)
}

// Budget returns the configured ceiling.
func (t *Tracker) Budget() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgetUSD
}

// SetBudget raises or lowers the ceiling mid-run. Raising it past current
// spend re-arms the exhaustion alert.
func (t *Tracker) SetBudget(budgetUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.budgetUSD = budgetUSD
	if budgetUSD > 0 && t.total < budgetUSD {
		t.exhaustedFired = false
	}
}
