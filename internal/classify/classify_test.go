package classify

import (
	"testing"
	"time"

	"github.com/ShayCichocki/accord/pkg/models"
)

func TestClassifyRetryable(t *testing.T) {
	tests := []struct {
		name string
		kind models.FaultKind
	}{
		{"timeout", models.FaultTimeout},
		{"connection reset", models.FaultConnection},
		{"service unavailable", models.FaultServiceUnavailable},
		{"lock contention", models.FaultLockContention},
		{"breaker open", models.FaultBreakerOpen},
		{"rate limit", models.FaultRateLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(&models.Fault{Kind: tt.kind, Message: "boom"})
			if got.Kind != Retryable {
				t.Errorf("Classify(%s).Kind = %s, want retryable", tt.kind, got.Kind)
			}
		})
	}
}

func TestClassifyPermanent(t *testing.T) {
	tests := []struct {
		name string
		kind models.FaultKind
	}{
		{"auth", models.FaultAuth},
		{"bad input", models.FaultBadInput},
		{"not found", models.FaultNotFound},
		{"quota exhausted", models.FaultQuotaExhausted},
		{"missing executable", models.FaultMissingExecutable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &models.Fault{Kind: tt.kind, Message: "the claude binary was not found on PATH"}
			got := Classify(f)
			if got.Kind != Permanent {
				t.Errorf("Classify(%s).Kind = %s, want permanent", tt.kind, got.Kind)
			}
			if got.Reason != f.Message {
				t.Errorf("Reason = %q, want fault message %q", got.Reason, f.Message)
			}
		})
	}
}

func TestClassifyRateLimitCarriesSuggestedDelay(t *testing.T) {
	f := &models.Fault{Kind: models.FaultRateLimit, RetryAfter: 12 * time.Second}
	got := Classify(f)
	if got.Kind != Retryable {
		t.Fatalf("Kind = %s, want retryable", got.Kind)
	}
	if got.SuggestedDelay != 12*time.Second {
		t.Errorf("SuggestedDelay = %v, want 12s", got.SuggestedDelay)
	}
}

func TestClassifyPartialQuorumIsDegraded(t *testing.T) {
	f := &models.Fault{Kind: models.FaultPartialQuorum, Achieved: 2, Required: 3}
	got := Classify(f)
	if got.Kind != Degraded {
		t.Fatalf("Kind = %s, want degraded", got.Kind)
	}
	if got.Achieved != 2 || got.Required != 3 {
		t.Errorf("quorum counts = %d/%d, want 2/3", got.Achieved, got.Required)
	}
}

func TestClassifyUnknownFailsClosed(t *testing.T) {
	got := Classify(&models.Fault{Kind: models.FaultKind("made_up"), Message: "???"})
	if got.Kind != Permanent {
		t.Errorf("unknown fault classified as %s, want permanent", got.Kind)
	}
	if got := Classify(nil); got.Kind != Permanent {
		t.Errorf("nil fault classified as %s, want permanent", got.Kind)
	}
}

func TestClassifyIsPure(t *testing.T) {
	f := &models.Fault{Kind: models.FaultRateLimit, RetryAfter: 3 * time.Second}
	first := Classify(f)
	for i := 0; i < 10; i++ {
		if got := Classify(f); got != first {
			t.Fatalf("classification varied across calls: %+v vs %+v", got, first)
		}
	}
}
