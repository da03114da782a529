package models

import "time"

// VerdictClass is the coordinator's classification of one stage fan-out.
type VerdictClass string

const (
	// VerdictFull indicates every roster member succeeded.
	VerdictFull VerdictClass = "full"
	// VerdictDegraded indicates quorum was met but not unanimously.
	VerdictDegraded VerdictClass = "degraded"
	// VerdictFailed indicates quorum was not met. Terminal, not an
	// exception path.
	VerdictFailed VerdictClass = "failed"
)

// Valid returns true if the class is a known value.
func (c VerdictClass) Valid() bool {
	switch c {
	case VerdictFull, VerdictDegraded, VerdictFailed:
		return true
	default:
		return false
	}
}

// Conflict records two or more genuinely conflicting worker conclusions,
// verbatim, so callers decide how to surface them.
type Conflict struct {
	// Workers are the names of the disagreeing workers, canonical order.
	Workers []string `json:"workers"`
	// Outputs are the conflicting conclusions, parallel to Workers.
	Outputs []string `json:"outputs"`
}

// ConsensusVerdict is the immutable outcome of one stage fan-out.
type ConsensusVerdict struct {
	// RunID identifies the owning pipeline run.
	RunID string `json:"run_id"`
	// Stage identifies the pipeline stage.
	Stage string `json:"stage"`
	// Class is the verdict classification.
	Class VerdictClass `json:"class"`
	// Succeeded is the number of members that completed successfully.
	// Never exceeds Total.
	Succeeded int `json:"succeeded"`
	// Total is the roster size.
	Total int `json:"total"`
	// Members holds per-worker outcomes in canonical roster order.
	Members []AgentOutcome `json:"members"`
	// Artifact is the synthesized merged output for non-failed verdicts.
	Artifact string `json:"artifact,omitempty"`
	// Conflicts lists unresolvable disagreements, possibly empty.
	Conflicts []Conflict `json:"conflicts,omitempty"`
	// CompletedAt is when the verdict was finalized.
	CompletedAt time.Time `json:"completed_at"`
}

// Accepted returns true for verdicts the caller can proceed on.
func (v ConsensusVerdict) Accepted() bool {
	return v.Class == VerdictFull || v.Class == VerdictDegraded
}
