package executor

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/accord/pkg/models"
)

// stderrTailLimit bounds how much captured stderr rides along on a fault.
const stderrTailLimit = 2048

// classifySpawn maps a pre-spawn failure to an actionable permanent fault.
func classifySpawn(w models.Worker, err error) *models.Fault {
	msg := err.Error()
	if strings.Contains(msg, "permission denied") {
		return models.NewFault(models.FaultAuth,
			"worker %q cannot execute %q: permission denied; check the file mode", w.Name, w.Command)
	}
	return models.NewFault(models.FaultMissingExecutable,
		"worker %q failed to start %q: %v", w.Name, w.Command, err)
}

// pattern pairs a stderr marker with the fault kind it indicates. Matching is
// ordered: the first hit wins.
type pattern struct {
	marker string
	kind   models.FaultKind
}

// commonPatterns apply to every provider.
var commonPatterns = []pattern{
	{"rate limit", models.FaultRateLimit},
	{"too many requests", models.FaultRateLimit},
	{"429", models.FaultRateLimit},
	{"quota", models.FaultQuotaExhausted},
	{"insufficient credit", models.FaultQuotaExhausted},
	{"credit balance", models.FaultQuotaExhausted},
	{"billing", models.FaultQuotaExhausted},
	{"invalid api key", models.FaultAuth},
	{"authentication", models.FaultAuth},
	{"unauthorized", models.FaultAuth},
	{"401", models.FaultAuth},
	{"forbidden", models.FaultAuth},
	{"403", models.FaultAuth},
	{"model not found", models.FaultNotFound},
	{"no such model", models.FaultNotFound},
	{"not found", models.FaultNotFound},
	{"404", models.FaultNotFound},
	{"invalid request", models.FaultBadInput},
	{"malformed", models.FaultBadInput},
	{"400", models.FaultBadInput},
	{"service unavailable", models.FaultServiceUnavailable},
	{"unavailable", models.FaultServiceUnavailable},
	{"503", models.FaultServiceUnavailable},
	{"connection reset", models.FaultConnection},
	{"connection refused", models.FaultConnection},
	{"econnreset", models.FaultConnection},
	{"broken pipe", models.FaultConnection},
	{"database is locked", models.FaultLockContention},
	{"resource temporarily unavailable", models.FaultLockContention},
	{"timed out", models.FaultTimeout},
	{"timeout", models.FaultTimeout},
}

// providerPatterns hold markers specific to one backend, checked before the
// common set. The provider set is closed, so each case stays exhaustive.
var providerPatterns = map[models.Provider][]pattern{
	models.ProviderAnthropic: {
		{"overloaded_error", models.FaultServiceUnavailable},
		{"rate_limit_error", models.FaultRateLimit},
		{"authentication_error", models.FaultAuth},
		{"not_found_error", models.FaultNotFound},
		{"invalid_request_error", models.FaultBadInput},
	},
	models.ProviderOpenAI: {
		{"insufficient_quota", models.FaultQuotaExhausted},
		{"rate_limit_exceeded", models.FaultRateLimit},
		{"invalid_api_key", models.FaultAuth},
		{"context_length_exceeded", models.FaultBadInput},
	},
	models.ProviderLocal: nil,
}

// classifyExit maps a non-zero worker exit to a typed fault, preserving the
// stderr tail for diagnosis.
func classifyExit(w models.Worker, code int, stderr string) *models.Fault {
	lower := strings.ToLower(stderr)

	kind := models.FaultUnknown
	matched := false
	for _, p := range providerPatterns[w.Provider] {
		if strings.Contains(lower, p.marker) {
			kind = p.kind
			matched = true
			break
		}
	}
	if !matched {
		for _, p := range commonPatterns {
			if strings.Contains(lower, p.marker) {
				kind = p.kind
				break
			}
		}
	}

	f := &models.Fault{
		Kind:     kind,
		Message:  exitMessage(w, code, kind),
		ExitCode: code,
		Stderr:   tail(stderr, stderrTailLimit),
	}
	if kind == models.FaultRateLimit {
		f.RetryAfter = parseRetryAfter(lower)
	}
	return f
}

// exitMessage builds the operator-facing description for a worker exit.
func exitMessage(w models.Worker, code int, kind models.FaultKind) string {
	base := "worker " + w.Name + " (" + w.Endpoint() + ") exited"
	switch kind {
	case models.FaultAuth:
		return base + ": credentials for " + string(w.Provider) + " were missing or rejected"
	case models.FaultQuotaExhausted:
		return base + ": the " + string(w.Provider) + " account is out of quota"
	case models.FaultNotFound:
		return base + ": model " + w.Model + " was not found"
	case models.FaultBadInput:
		return base + ": the request was malformed"
	default:
		return base + " with status " + strconv.Itoa(code)
	}
}

// retryAfterRe matches "retry after 20s", "retry-after: 12", and
// "try again in 20 seconds" style hints.
var retryAfterRe = regexp.MustCompile(`(?:retry.?after|try again in)[^0-9]*([0-9]+(?:\.[0-9]+)?)\s*(ms|milliseconds?|s|seconds?|m|minutes?)?`)

// parseRetryAfter extracts a provider-suggested delay from stderr, zero when
// none is present.
func parseRetryAfter(lower string) time.Duration {
	m := retryAfterRe.FindStringSubmatch(lower)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}

	switch {
	case strings.HasPrefix(m[2], "ms"), strings.HasPrefix(m[2], "millisecond"):
		return time.Duration(value * float64(time.Millisecond))
	case strings.HasPrefix(m[2], "m"):
		return time.Duration(value * float64(time.Minute))
	default:
		return time.Duration(value * float64(time.Second))
	}
}

// tail returns the last n bytes of s, trimmed of leading partial lines.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return cut
}
