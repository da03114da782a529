// Package runner drives one logical agent call to success or permanent
// failure: attempt, classify the fault, back off, retry, consulting the
// endpoint's circuit breaker before every attempt.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/internal/backoff"
	"github.com/ShayCichocki/accord/internal/breaker"
	"github.com/ShayCichocki/accord/internal/classify"
	"github.com/ShayCichocki/accord/pkg/models"
)

// Invoker executes a single attempt. Satisfied by executor.Executor.
type Invoker interface {
	Execute(ctx context.Context, task models.AgentTask) (models.AgentOutcome, error)
}

// Session is the explicit per-call retry state, threaded through an iterative
// loop so the attempt ceiling is structurally enforced and the state is
// inspectable in tests. One Session is owned by exactly one Run invocation.
type Session struct {
	// Attempts is the number of attempts consumed so far.
	Attempts int
	// Elapsed is the cumulative backoff delay slept.
	Elapsed time.Duration
	// LastFault is the most recent classified fault.
	LastFault *models.Fault
	// LastUsage is the token usage reported by the most recent attempt.
	// Failed attempts may still bill tokens before dying.
	LastUsage models.Usage
	// LastLatency is the wall time of the most recent attempt.
	LastLatency time.Duration

	degradedRetried bool
}

// Runner composes the classifier, backoff policy, breaker registry, and
// executor. Safe for concurrent use; all mutable state lives in Sessions.
type Runner struct {
	invoker  Invoker
	breakers *breaker.Registry
	policy   backoff.Policy
	logger   *zap.Logger

	// sleep waits out a backoff delay; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Runner.
func New(invoker Invoker, breakers *breaker.Registry, policy backoff.Policy, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		invoker:  invoker,
		breakers: breakers,
		policy:   policy,
		logger:   logger.Named("runner"),
		sleep:    sleepCtx,
	}
}

// Run executes the task until success or a terminal failure. The returned
// outcome always carries the attempt count; on failure it carries the last
// classified fault, which is also returned as the error.
func (r *Runner) Run(ctx context.Context, task models.AgentTask) (models.AgentOutcome, error) {
	sess := &Session{}
	br := r.breakers.For(task.Worker.Endpoint())

	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.policy.MaxAttempts
	}

	for {
		// An open breaker short-circuits to failure without consuming a
		// retry attempt or invoking the executor.
		if err := br.Allow(); err != nil {
			f := models.NewFault(models.FaultBreakerOpen,
				"endpoint %s is unreachable by policy", task.Worker.Endpoint())
			sess.LastFault = f
			r.logger.Debug("breaker rejected call",
				zap.String("task", task.ID),
				zap.String("endpoint", task.Worker.Endpoint()))
			return r.failure(task, sess, f), f
		}

		sess.Attempts++
		outcome, err := r.invoker.Execute(ctx, task)
		sess.LastUsage = outcome.Usage
		sess.LastLatency = outcome.Latency

		if ctx.Err() != nil {
			// Caller cancellation: not an endpoint failure, so the
			// breaker window is left untouched.
			return r.failure(task, sess, sess.LastFault), ctx.Err()
		}

		br.Record(err == nil)

		if err == nil {
			outcome.Attempts = sess.Attempts
			return outcome, nil
		}

		fault := asFault(err)
		sess.LastFault = fault
		class := classify.Classify(fault)

		switch class.Kind {
		case classify.Permanent:
			r.logger.Debug("permanent fault, not retrying",
				zap.String("task", task.ID),
				zap.String("fault", string(fault.Kind)),
				zap.Int("attempts", sess.Attempts))
			return r.failure(task, sess, fault), fault

		case classify.Degraded:
			// One extra round, then the degraded state stands.
			if sess.degradedRetried {
				return r.failure(task, sess, fault), fault
			}
			sess.degradedRetried = true
			continue

		case classify.Retryable:
			if sess.Attempts >= maxAttempts {
				exhausted := &models.Fault{
					Kind: fault.Kind,
					Message: fmt.Sprintf("retry budget exhausted after %d attempts, last fault: %s",
						sess.Attempts, fault.Message),
					ExitCode: fault.ExitCode,
					Stderr:   fault.Stderr,
				}
				sess.LastFault = exhausted
				r.logger.Warn("retry budget exhausted",
					zap.String("task", task.ID),
					zap.String("worker", task.Worker.Name),
					zap.Int("attempts", sess.Attempts))
				return r.failure(task, sess, exhausted), exhausted
			}

			delay := r.policy.Delay(sess.Attempts, class.SuggestedDelay)
			sess.Elapsed += delay
			r.logger.Debug("retrying after backoff",
				zap.String("task", task.ID),
				zap.Int("attempt", sess.Attempts),
				zap.Duration("delay", delay))
			if err := r.sleep(ctx, delay); err != nil {
				return r.failure(task, sess, fault), err
			}
		}
	}
}

// failure builds the terminal outcome for a failed call, keeping the last
// attempt's usage and latency so billed tokens from failed calls still reach
// the cost ledger.
func (r *Runner) failure(task models.AgentTask, sess *Session, fault *models.Fault) models.AgentOutcome {
	return models.AgentOutcome{
		TaskID:   task.ID,
		Worker:   task.Worker,
		Attempts: sess.Attempts,
		Usage:    sess.LastUsage,
		Latency:  sess.LastLatency,
		Fault:    fault,
	}
}

// asFault extracts the typed fault from an attempt error, wrapping anything
// untyped as unknown so classification fails closed.
func asFault(err error) *models.Fault {
	if f, ok := err.(*models.Fault); ok {
		return f
	}
	return models.NewFault(models.FaultUnknown, "%v", err)
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
