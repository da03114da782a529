package models

import (
	"fmt"
	"time"
)

// FaultKind identifies the category of a raised fault.
type FaultKind string

const (
	// FaultTimeout indicates the call exceeded its deadline.
	FaultTimeout FaultKind = "timeout"
	// FaultConnection indicates a connection reset or refusal.
	FaultConnection FaultKind = "connection"
	// FaultRateLimit indicates the provider rejected the call for pacing.
	FaultRateLimit FaultKind = "rate_limit"
	// FaultServiceUnavailable indicates the provider is overloaded or down.
	FaultServiceUnavailable FaultKind = "service_unavailable"
	// FaultLockContention indicates a transient storage lock.
	FaultLockContention FaultKind = "lock_contention"
	// FaultAuth indicates missing or rejected credentials.
	FaultAuth FaultKind = "auth"
	// FaultBadInput indicates malformed input the worker cannot act on.
	FaultBadInput FaultKind = "bad_input"
	// FaultNotFound indicates a referenced resource does not exist.
	FaultNotFound FaultKind = "not_found"
	// FaultQuotaExhausted indicates the provider account is out of quota.
	FaultQuotaExhausted FaultKind = "quota_exhausted"
	// FaultMissingExecutable indicates the worker command could not be found.
	FaultMissingExecutable FaultKind = "missing_executable"
	// FaultBreakerOpen indicates the call was rejected by an open breaker
	// without reaching the executor.
	FaultBreakerOpen FaultKind = "breaker_open"
	// FaultPartialQuorum indicates a stage achieved partial agreement.
	FaultPartialQuorum FaultKind = "partial_quorum"
	// FaultUnknown is any fault not recognized by policy.
	FaultUnknown FaultKind = "unknown"
)

// Fault is a typed failure raised by a worker call. It carries enough context
// for classification and for actionable operator messages.
type Fault struct {
	// Kind is the fault category.
	Kind FaultKind `json:"kind"`
	// Message is a human-actionable description of what failed.
	Message string `json:"message"`
	// RetryAfter is a provider-suggested delay, zero if none was given.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// ExitCode is the worker process exit code, if the process ran.
	ExitCode int `json:"exit_code,omitempty"`
	// Stderr is the captured standard error of the worker, if any.
	Stderr string `json:"stderr,omitempty"`
	// Achieved and Required carry quorum counts for partial-quorum faults.
	Achieved int `json:"achieved,omitempty"`
	Required int `json:"required,omitempty"`
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Message == "" {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// NewFault creates a Fault with the given kind and formatted message.
func NewFault(kind FaultKind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
