// Package executor spawns one external worker process per logical call,
// streams its input and output concurrently, enforces the call's hard
// timeout, and guarantees process teardown on every exit path.
package executor

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/pkg/models"
)

const (
	// DefaultInlineLimit is the largest payload embedded in the argument
	// vector. Anything bigger goes over stdin: argument lists have hard
	// OS length limits, pipes do not.
	DefaultInlineLimit = 16 * 1024

	// DefaultCallTimeout applies when a task carries no timeout.
	DefaultCallTimeout = 5 * time.Minute

	// PromptPlaceholder marks where the payload lands in an argv template.
	PromptPlaceholder = "{prompt}"
)

// Executor runs worker processes. Safe for concurrent use; each call owns
// its own process and buffers.
type Executor struct {
	inlineLimit int
	logger      *zap.Logger

	// envFunc supplies extra per-worker environment entries, nil for none.
	envFunc func(models.Worker) []string

	// lookPath resolves the worker command; replaced in tests.
	lookPath func(string) (string, error)
}

// New creates an Executor. A non-positive inlineLimit takes the default.
func New(inlineLimit int, logger *zap.Logger) *Executor {
	if inlineLimit <= 0 {
		inlineLimit = DefaultInlineLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		inlineLimit: inlineLimit,
		logger:      logger.Named("executor"),
		lookPath:    exec.LookPath,
	}
}

// SetEnvFunc supplies per-worker environment entries (KEY=VALUE form)
// appended to the inherited environment, typically provider credentials.
func (e *Executor) SetEnvFunc(fn func(models.Worker) []string) {
	e.envFunc = fn
}

// processGuard owns teardown for one spawned process. Release runs on every
// exit path, including timeout and cancellation, so no external process
// outlives its owning call.
type processGuard struct {
	proc *os.Process
	once sync.Once
}

func newProcessGuard(proc *os.Process) *processGuard {
	return &processGuard{proc: proc}
}

// Release unconditionally attempts termination. Killing an already-exited
// process is a harmless no-op.
func (g *processGuard) Release() {
	g.once.Do(func() {
		if g.proc != nil {
			_ = g.proc.Kill()
		}
	})
}

// Execute spawns the task's worker process, delivers the prompt, and collects
// the outcome within the task's timeout. On failure the returned error is the
// same *models.Fault attached to the outcome, except for caller cancellation
// which surfaces as the context's error.
func (e *Executor) Execute(ctx context.Context, task models.AgentTask) (models.AgentOutcome, error) {
	outcome := models.AgentOutcome{TaskID: task.ID, Worker: task.Worker}

	path, err := e.lookPath(task.Worker.Command)
	if err != nil {
		f := models.NewFault(models.FaultMissingExecutable,
			"worker %q requires executable %q which was not found on PATH; install it or fix the roster command",
			task.Worker.Name, task.Worker.Command)
		outcome.Fault = f
		return outcome, f
	}

	args, viaStdin := buildArgs(task.Worker.Args, task.Prompt, e.inlineLimit)

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(path, args...)
	if viaStdin {
		cmd.Stdin = strings.NewReader(task.Prompt)
	}
	if e.envFunc != nil {
		if extra := e.envFunc(task.Worker); len(extra) > 0 {
			cmd.Env = append(os.Environ(), extra...)
		}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		f := models.NewFault(models.FaultUnknown, "create stdout pipe: %v", err)
		outcome.Fault = f
		return outcome, f
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		f := models.NewFault(models.FaultUnknown, "create stderr pipe: %v", err)
		outcome.Fault = f
		return outcome, f
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		f := classifySpawn(task.Worker, err)
		outcome.Fault = f
		return outcome, f
	}

	guard := newProcessGuard(cmd.Process)
	defer guard.Release()

	e.logger.Debug("worker spawned",
		zap.String("task", task.ID),
		zap.String("worker", task.Worker.Name),
		zap.Int("pid", cmd.Process.Pid),
		zap.Bool("stdin_payload", viaStdin))

	// Stdout and stderr are drained concurrently and incrementally so a
	// slow or very large stream never deadlocks on a full pipe buffer.
	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stdout, stdoutPipe)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderr, stderrPipe)
	}()

	done := make(chan error, 1)
	go func() {
		wg.Wait()
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-tctx.Done():
		guard.Release()
		<-done // reap the killed process

		if ctx.Err() != nil {
			// Caller cancellation, not a worker fault. The guard has
			// already terminated the process.
			return outcome, ctx.Err()
		}
		f := models.NewFault(models.FaultTimeout, "worker %q exceeded its %s call timeout",
			task.Worker.Name, timeout)
		outcome.Latency = time.Since(start)
		outcome.Fault = f
		return outcome, f
	case waitErr = <-done:
	}

	outcome.Latency = time.Since(start)

	if waitErr != nil {
		f := classifyExit(task.Worker, exitCode(waitErr), stderr.String())
		outcome.Fault = f
		// Failed attempts carry usage only when the worker reported
		// billed tokens before dying.
		if env, ok := parseEnvelope(stdout.Bytes()); ok {
			outcome.Usage = reportedUsage(env)
		}
		e.logger.Debug("worker failed",
			zap.String("task", task.ID),
			zap.String("fault", string(f.Kind)),
			zap.Int("exit_code", f.ExitCode))
		return outcome, f
	}

	if env, ok := parseEnvelope(stdout.Bytes()); ok {
		outcome.Output = env.Result
		outcome.Usage = reportedUsage(env)
		if outcome.Output == "" {
			outcome.Output = stdout.String()
		}
	} else {
		outcome.Output = strings.TrimRight(stdout.String(), "\n")
		outcome.Usage = estimateUsage(task.Prompt, outcome.Output)
	}
	return outcome, nil
}

// buildArgs renders the argv template. When the payload fits under the inline
// limit the placeholder is substituted in place; otherwise the placeholder
// argument is dropped (together with an immediately preceding flag) and the
// payload is delivered over stdin. Templates without a placeholder always use
// stdin.
func buildArgs(template []string, prompt string, inlineLimit int) (args []string, viaStdin bool) {
	hasPlaceholder := false
	for _, a := range template {
		if strings.Contains(a, PromptPlaceholder) {
			hasPlaceholder = true
			break
		}
	}

	viaStdin = !hasPlaceholder || len(prompt) > inlineLimit
	if !viaStdin {
		args = make([]string, len(template))
		for i, a := range template {
			args[i] = strings.ReplaceAll(a, PromptPlaceholder, prompt)
		}
		return args, false
	}

	args = make([]string, 0, len(template))
	for _, a := range template {
		if !strings.Contains(a, PromptPlaceholder) {
			args = append(args, a)
			continue
		}
		// Drop the flag that introduced the placeholder, if any.
		if n := len(args); n > 0 && strings.HasPrefix(args[n-1], "-") {
			args = args[:n-1]
		}
	}
	return args, true
}

// exitCode extracts the process exit code from a Wait error, -1 if unknown.
func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}
