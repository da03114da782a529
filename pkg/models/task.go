// Package models defines the shared value types for the Accord consensus
// orchestration core: tasks, workers, faults, outcomes, and verdicts.
package models

import "time"

// AgentTask is one logical worker call within a stage fan-out. It is created
// once per roster member and never mutated after construction.
type AgentTask struct {
	// ID is the unique identifier for this call.
	ID string `json:"id"`
	// RunID identifies the owning pipeline run.
	RunID string `json:"run_id"`
	// Stage identifies the pipeline stage (plan, implement, audit, ...).
	Stage string `json:"stage"`
	// Tier is the roster tier this task was routed to.
	Tier Tier `json:"tier"`
	// Prompt is the payload handed to the worker. It may be arbitrarily
	// large; the executor decides between inline and stdin delivery.
	Prompt string `json:"prompt"`
	// Worker is the target worker identity.
	Worker Worker `json:"worker"`
	// Timeout is the per-call hard deadline.
	Timeout time.Duration `json:"timeout"`
	// MaxAttempts is the per-call retry budget. Zero means the runner's
	// configured default applies.
	MaxAttempts int `json:"max_attempts"`
}

// Usage holds token counts reported (or estimated) for one call.
type Usage struct {
	// InputTokens is the number of prompt tokens consumed.
	InputTokens int64 `json:"input_tokens"`
	// OutputTokens is the number of completion tokens produced.
	OutputTokens int64 `json:"output_tokens"`
	// Estimated is true when the counts were derived from content length
	// rather than reported by the worker.
	Estimated bool `json:"estimated,omitempty"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// AgentOutcome is the result of one completed call: a success payload with
// metrics, or the last classified fault.
type AgentOutcome struct {
	// TaskID is the identifier of the call that produced this outcome.
	TaskID string `json:"task_id"`
	// Worker is the identity that produced this outcome.
	Worker Worker `json:"worker"`
	// Output is the worker's result payload on success.
	Output string `json:"output,omitempty"`
	// Usage holds the call's token counts.
	Usage Usage `json:"usage"`
	// Latency is wall-clock time for the final attempt.
	Latency time.Duration `json:"latency"`
	// Attempts is how many attempts the call consumed.
	Attempts int `json:"attempts"`
	// Fault is the terminal fault when the call failed, nil on success.
	Fault *Fault `json:"fault,omitempty"`
}

// Succeeded returns true when the outcome carries a success payload.
func (o AgentOutcome) Succeeded() bool {
	return o.Fault == nil
}
