package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/accord/internal/cost"
	"github.com/ShayCichocki/accord/pkg/models"
)

// scriptedRunner replays a canned outcome sequence per worker; the last
// entry repeats once the sequence is consumed.
type scriptedRunner struct {
	mu      sync.Mutex
	calls   map[string]int
	scripts map[string][]models.AgentOutcome
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		calls:   make(map[string]int),
		scripts: make(map[string][]models.AgentOutcome),
	}
}

func (s *scriptedRunner) on(worker string, outcomes ...models.AgentOutcome) {
	s.scripts[worker] = outcomes
}

func (s *scriptedRunner) callCount(worker string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[worker]
}

func (s *scriptedRunner) Run(_ context.Context, task models.AgentTask) (models.AgentOutcome, error) {
	s.mu.Lock()
	n := s.calls[task.Worker.Name]
	s.calls[task.Worker.Name]++
	seq := s.scripts[task.Worker.Name]
	s.mu.Unlock()

	if len(seq) == 0 {
		return models.AgentOutcome{}, models.NewFault(models.FaultUnknown, "no script for %s", task.Worker.Name)
	}
	if n >= len(seq) {
		n = len(seq) - 1
	}
	o := seq[n]
	o.TaskID = task.ID
	o.Worker = task.Worker
	if o.Fault != nil {
		return o, o.Fault
	}
	return o, nil
}

type stubLedger struct {
	mu      sync.Mutex
	records []cost.Record
}

func (l *stubLedger) Record(stage string, w models.Worker, u models.Usage) cost.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := cost.Record{Stage: stage, Worker: w.Name, Endpoint: w.Endpoint(), Usage: u}
	l.records = append(l.records, rec)
	return rec
}

func (l *stubLedger) RecordsForStage(stage string) []cost.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []cost.Record
	for _, r := range l.records {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out
}

type stubSink struct {
	mu       sync.Mutex
	verdicts []models.ConsensusVerdict
	records  [][]cost.Record
}

func (s *stubSink) StageCompleted(v models.ConsensusVerdict, recs []cost.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, v)
	s.records = append(s.records, recs)
}

func worker(name string) models.Worker {
	return models.Worker{Name: name, Provider: models.ProviderAnthropic, Model: "claude-sonnet-4", Command: "claude"}
}

func roster(names ...string) models.Roster {
	r := models.Roster{Tier: models.TierComplex}
	for _, n := range names {
		r.Workers = append(r.Workers, worker(n))
	}
	return r
}

func success(output string, tokens int64) models.AgentOutcome {
	return models.AgentOutcome{
		Output:   output,
		Usage:    models.Usage{InputTokens: tokens, OutputTokens: tokens},
		Attempts: 1,
	}
}

func failed(kind models.FaultKind) models.AgentOutcome {
	return models.AgentOutcome{
		Fault:    models.NewFault(kind, "scripted %s fault", kind),
		Attempts: 1,
	}
}

func request(names ...string) StageRequest {
	return StageRequest{
		RunID:        "run-1",
		Stage:        "implement",
		Prompt:       "add pagination",
		Roster:       roster(names...),
		StageTimeout: 5 * time.Second,
	}
}

func TestAllMembersSucceedYieldsFull(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", success("answer", 100))
	runner.on("c", success("answer", 100))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictFull {
		t.Errorf("class = %s, want full", v.Class)
	}
	if v.Succeeded != 3 || v.Total != 3 {
		t.Errorf("counts = %d/%d, want 3/3", v.Succeeded, v.Total)
	}
	if v.Artifact != "answer" {
		t.Errorf("artifact = %q, want %q", v.Artifact, "answer")
	}
	if len(v.Conflicts) != 0 {
		t.Errorf("conflicts = %d, want 0", len(v.Conflicts))
	}
}

func TestTwoOfThreeYieldsDegradedAfterRetryRound(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", success("answer", 100))
	runner.on("c", failed(models.FaultServiceUnavailable))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictDegraded {
		t.Errorf("class = %s, want degraded", v.Class)
	}
	if v.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", v.Succeeded)
	}
	// The failed member got exactly one extra call before finalizing.
	if got := runner.callCount("c"); got != 2 {
		t.Errorf("calls to c = %d, want 2", got)
	}
	if got := runner.callCount("a"); got != 1 {
		t.Errorf("calls to a = %d, want 1", got)
	}
}

func TestRetryRoundCanLiftVerdictToFull(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", success("answer", 100))
	runner.on("c", failed(models.FaultConnection), success("answer", 100))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictFull {
		t.Errorf("class = %s, want full after lifted retry", v.Class)
	}
	// Attempts carry across rounds for the retried member.
	if got := v.Members[2].Attempts; got != 2 {
		t.Errorf("member c attempts = %d, want 2", got)
	}
}

func TestBelowQuorumYieldsFailed(t *testing.T) {
	tests := []struct {
		name      string
		succeeded []string
	}{
		{"zero of three", nil},
		{"one of three", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newScriptedRunner()
			for _, n := range []string{"a", "b", "c"} {
				runner.on(n, failed(models.FaultAuth))
			}
			for _, n := range tt.succeeded {
				runner.on(n, success("answer", 100))
			}

			c := New(runner, nil, nil, Settings{}, nil)
			v, err := c.RunStage(context.Background(), request("a", "b", "c"))
			if err != nil {
				t.Fatalf("RunStage: %v", err)
			}
			if v.Class != models.VerdictFailed {
				t.Errorf("class = %s, want failed", v.Class)
			}
			// Failed verdicts still carry the last fault per member.
			for i, m := range v.Members {
				if !m.Succeeded() && m.Fault == nil {
					t.Errorf("member %d missing fault", i)
				}
			}
		})
	}
}

func TestPermanentFaultsSkipRetryRound(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", success("answer", 100))
	runner.on("c", failed(models.FaultAuth))

	c := New(runner, nil, nil, Settings{}, nil)
	if _, err := c.RunStage(context.Background(), request("a", "b", "c")); err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if got := runner.callCount("c"); got != 1 {
		t.Errorf("calls to c = %d, want 1 (permanent fault not retried)", got)
	}
}

func TestTwoMemberRosterRequiresUnanimity(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", failed(models.FaultAuth))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictFailed {
		t.Errorf("class = %s, want failed (quorum is N below 3 members)", v.Class)
	}
}

func TestConflictingOutputsAreListedNotDropped(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("use a mutex for the counter", 100))
	runner.on("b", success("use an atomic for the counter", 100))
	runner.on("c", failed(models.FaultAuth))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictDegraded {
		t.Fatalf("class = %s, want degraded", v.Class)
	}
	if len(v.Conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(v.Conflicts))
	}
	cf := v.Conflicts[0]
	if len(cf.Workers) != 2 || cf.Workers[0] != "a" || cf.Workers[1] != "b" {
		t.Errorf("conflict workers = %v, want [a b] in canonical order", cf.Workers)
	}
	if cf.Outputs[0] != "use a mutex for the counter" || cf.Outputs[1] != "use an atomic for the counter" {
		t.Errorf("conflict outputs not verbatim: %v", cf.Outputs)
	}
	if v.Artifact == "" {
		t.Error("artifact should still carry the merge base")
	}
}

func TestCompatibleOutputsMergeSilently(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("use a mutex", 100))
	runner.on("b", success("use a mutex\nand keep the critical section short", 100))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if len(v.Conflicts) != 0 {
		t.Errorf("conflicts = %d, want 0 for subsumed conclusion", len(v.Conflicts))
	}
	if v.Artifact != "use a mutex\nand keep the critical section short" {
		t.Errorf("artifact = %q, want the superset conclusion", v.Artifact)
	}
}

func TestMembersKeepCanonicalRosterOrder(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("from-a", 10))
	runner.on("b", success("from-a", 10))
	runner.on("c", success("from-a", 10))

	c := New(runner, nil, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if v.Members[i].Worker.Name != want {
			t.Errorf("member %d = %s, want %s", i, v.Members[i].Worker.Name, want)
		}
	}
}

func TestEmptyRosterIsAnError(t *testing.T) {
	c := New(newScriptedRunner(), nil, nil, Settings{}, nil)
	if _, err := c.RunStage(context.Background(), StageRequest{RunID: "r", Stage: "plan"}); err == nil {
		t.Fatal("expected error for empty roster")
	}
}

func TestCostRecordedOnlyForBilledCalls(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", models.AgentOutcome{
		Output:   "answer",
		Usage:    models.Usage{InputTokens: 50, OutputTokens: 50},
		Attempts: 2,
	})
	runner.on("c", failed(models.FaultAuth))

	ledger := &stubLedger{}
	c := New(runner, ledger, nil, Settings{}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictDegraded || v.Succeeded != 2 {
		t.Fatalf("verdict = %s %d/%d, want degraded 2/3", v.Class, v.Succeeded, v.Total)
	}
	if len(v.Conflicts) != 0 {
		t.Errorf("conflicts = %d, want 0 (failed member is excluded, not conflicting)", len(v.Conflicts))
	}
	recs := ledger.RecordsForStage("implement")
	if len(recs) != 2 {
		t.Fatalf("ledger records = %d, want 2 (nothing billed for the failed member)", len(recs))
	}
	names := map[string]bool{}
	for _, r := range recs {
		names[r.Worker] = true
	}
	if !names["a"] || !names["b"] {
		t.Errorf("ledger workers = %v, want a and b", names)
	}
}

func TestFailedCallWithBilledTokensIsRecorded(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", success("answer", 100))
	runner.on("c", models.AgentOutcome{
		Usage:    models.Usage{InputTokens: 200, OutputTokens: 30},
		Fault:    models.NewFault(models.FaultAuth, "expired credentials"),
		Attempts: 1,
	})

	ledger := &stubLedger{}
	c := New(runner, ledger, nil, Settings{}, nil)
	if _, err := c.RunStage(context.Background(), request("a", "b", "c")); err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if got := len(ledger.RecordsForStage("implement")); got != 3 {
		t.Errorf("ledger records = %d, want 3 (failed call billed tokens)", got)
	}
}

func TestSinkReceivesVerdictWithCostRecords(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", success("answer", 100))
	runner.on("c", success("answer", 100))

	ledger := &stubLedger{}
	sink := &stubSink{}
	c := New(runner, ledger, sink, Settings{}, nil)
	if _, err := c.RunStage(context.Background(), request("a", "b", "c")); err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if len(sink.verdicts) != 1 {
		t.Fatalf("sink verdicts = %d, want 1", len(sink.verdicts))
	}
	if sink.verdicts[0].Class != models.VerdictFull {
		t.Errorf("sink verdict class = %s, want full", sink.verdicts[0].Class)
	}
	if len(sink.records[0]) != 3 {
		t.Errorf("sink cost records = %d, want 3", len(sink.records[0]))
	}
}

func TestQuorumOverride(t *testing.T) {
	runner := newScriptedRunner()
	runner.on("a", success("answer", 100))
	runner.on("b", failed(models.FaultAuth))
	runner.on("c", failed(models.FaultAuth))

	c := New(runner, nil, nil, Settings{Quorum: 1}, nil)
	v, err := c.RunStage(context.Background(), request("a", "b", "c"))
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if v.Class != models.VerdictDegraded {
		t.Errorf("class = %s, want degraded with quorum lowered to 1", v.Class)
	}
}
