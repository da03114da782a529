// Package classify maps raised faults to retry classes. Classification is a
// pure function of the fault: the same fault always yields the same class,
// and any fault not recognized by policy is Permanent so nothing silently
// loops on an unknown failure.
package classify

import (
	"time"

	"github.com/ShayCichocki/accord/pkg/models"
)

// Kind is the retry class of a fault.
type Kind int

const (
	// Retryable faults are retried with backoff up to the configured ceiling.
	Retryable Kind = iota
	// Permanent faults are never retried and surface immediately.
	Permanent
	// Degraded marks a partial-quorum stage outcome: accepted after at most
	// one extra retry round, never retried indefinitely.
	Degraded
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Class is the classification of one fault.
type Class struct {
	// Kind is the retry class.
	Kind Kind
	// SuggestedDelay is a provider-supplied delay that overrides the
	// default backoff. Zero when the provider gave none. Retryable only.
	SuggestedDelay time.Duration
	// Reason is the actionable explanation for Permanent faults.
	Reason string
	// Achieved and Required carry quorum counts for Degraded faults.
	Achieved int
	Required int
}

// Classify returns exactly one Class for the given fault. A nil fault is a
// programming error and classifies as Permanent.
func Classify(f *models.Fault) Class {
	if f == nil {
		return Class{Kind: Permanent, Reason: "no fault supplied"}
	}

	switch f.Kind {
	case models.FaultTimeout,
		models.FaultConnection,
		models.FaultServiceUnavailable,
		models.FaultLockContention,
		models.FaultBreakerOpen:
		return Class{Kind: Retryable}

	case models.FaultRateLimit:
		// Rate limits may carry an explicit reset time which takes
		// precedence over computed backoff.
		return Class{Kind: Retryable, SuggestedDelay: f.RetryAfter}

	case models.FaultAuth,
		models.FaultBadInput,
		models.FaultNotFound,
		models.FaultQuotaExhausted,
		models.FaultMissingExecutable:
		// Retrying these wastes budget and time.
		return Class{Kind: Permanent, Reason: f.Message}

	case models.FaultPartialQuorum:
		return Class{Kind: Degraded, Achieved: f.Achieved, Required: f.Required}

	default:
		// Fail closed on anything policy does not recognize.
		return Class{Kind: Permanent, Reason: f.Message}
	}
}
