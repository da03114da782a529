package telemetry

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/accord/internal/cost"
	"github.com/ShayCichocki/accord/pkg/models"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleVerdict() models.ConsensusVerdict {
	w := func(name string) models.Worker {
		return models.Worker{Name: name, Provider: models.ProviderAnthropic, Model: "claude-sonnet-4"}
	}
	return models.ConsensusVerdict{
		RunID:     "run-42",
		Stage:     "implement",
		Class:     models.VerdictDegraded,
		Succeeded: 2,
		Total:     3,
		Members: []models.AgentOutcome{
			{Worker: w("a"), Output: "done", Usage: models.Usage{InputTokens: 100, OutputTokens: 50}, Attempts: 1},
			{Worker: w("b"), Output: "done", Usage: models.Usage{InputTokens: 120, OutputTokens: 60}, Attempts: 2},
			{Worker: w("c"), Attempts: 1, Fault: models.NewFault(models.FaultAuth, "expired credentials")},
		},
		Artifact: "done",
		Conflicts: []models.Conflict{
			{Workers: []string{"a", "b"}, Outputs: []string{"done", "done differently"}},
		},
		CompletedAt: time.Now(),
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Close()

	// Reopening must not re-apply migrations.
	l, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l.Close()
}

func TestSaveVerdictRoundTrip(t *testing.T) {
	l := openTestLedger(t)
	if err := l.SaveVerdict(sampleVerdict()); err != nil {
		t.Fatalf("SaveVerdict: %v", err)
	}

	ev, err := l.EvidenceForRun("run-42")
	if err != nil {
		t.Fatalf("EvidenceForRun: %v", err)
	}
	if len(ev.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(ev.Stages))
	}
	s := ev.Stages[0]
	if s.Stage != "implement" || s.Class != "degraded" || s.Succeeded != 2 || s.Total != 3 {
		t.Errorf("stage = %+v, want implement degraded 2/3", s)
	}
	if len(s.Conflicts) != 1 || s.Conflicts[0].Outputs[1] != "done differently" {
		t.Errorf("conflicts not preserved verbatim: %+v", s.Conflicts)
	}
}

func TestSaveCostRecordsAndSummary(t *testing.T) {
	l := openTestLedger(t)
	records := []cost.Record{
		{Stage: "implement", Worker: "a", Endpoint: "anthropic/claude-sonnet-4",
			Usage: models.Usage{InputTokens: 100, OutputTokens: 50}, Cost: 0.05, Timestamp: time.Now()},
	}
	if err := l.SaveCostRecords("run-42", records); err != nil {
		t.Fatalf("SaveCostRecords: %v", err)
	}
	if err := l.SaveRunSummary("run-42", 0.05, 10, nil); err != nil {
		t.Fatalf("SaveRunSummary: %v", err)
	}
	// Second summary write for the same run replaces the first.
	if err := l.SaveRunSummary("run-42", 0.10, 10, nil); err != nil {
		t.Fatalf("SaveRunSummary again: %v", err)
	}

	ev, err := l.EvidenceForRun("run-42")
	if err != nil {
		t.Fatalf("EvidenceForRun: %v", err)
	}
	if ev.TotalCost != 0.10 || ev.Budget != 10 {
		t.Errorf("summary = %.2f/%.2f, want 0.10/10", ev.TotalCost, ev.Budget)
	}
}

func TestEvidenceForUnknownRunIsEmpty(t *testing.T) {
	l := openTestLedger(t)
	ev, err := l.EvidenceForRun("missing")
	if err != nil {
		t.Fatalf("EvidenceForRun: %v", err)
	}
	if len(ev.Stages) != 0 || ev.TotalCost != 0 {
		t.Errorf("evidence = %+v, want empty", ev)
	}
}

func TestExportRunYAML(t *testing.T) {
	l := openTestLedger(t)
	if err := l.SaveVerdict(sampleVerdict()); err != nil {
		t.Fatalf("SaveVerdict: %v", err)
	}
	if err := l.SaveRunSummary("run-42", 1.25, 10, nil); err != nil {
		t.Fatalf("SaveRunSummary: %v", err)
	}

	var buf bytes.Buffer
	if err := l.ExportRun("run-42", &buf); err != nil {
		t.Fatalf("ExportRun: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"run_id: run-42", "stage: implement", "class: degraded", "total_cost: 1.25"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q:\n%s", want, out)
		}
	}
}

func TestRecorderPersistsThroughSink(t *testing.T) {
	l := openTestLedger(t)
	r := NewRecorder(nil, l)

	v := sampleVerdict()
	r.StageCompleted(v, []cost.Record{
		{Stage: v.Stage, Worker: "a", Usage: models.Usage{InputTokens: 1, OutputTokens: 1}, Timestamp: time.Now()},
	})
	r.RunCompleted(v.RunID, 0.5, 10, nil)

	ev, err := l.EvidenceForRun(v.RunID)
	if err != nil {
		t.Fatalf("EvidenceForRun: %v", err)
	}
	if len(ev.Stages) != 1 || ev.TotalCost != 0.5 {
		t.Errorf("evidence = %+v, want one stage and total 0.5", ev)
	}
}
