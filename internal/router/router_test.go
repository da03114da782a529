package router

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/accord/pkg/models"
)

func testTable() models.RosterTable {
	return models.RosterTable{
		models.TierSimple: {
			{Name: "haiku-1", Provider: models.ProviderAnthropic, Model: "claude-haiku-3-5", Command: "claude"},
		},
		models.TierMedium: {
			{Name: "sonnet-1", Provider: models.ProviderAnthropic, Model: "claude-sonnet-4", Command: "claude"},
			{Name: "gpt-1", Provider: models.ProviderOpenAI, Model: "gpt-4o", Command: "codex"},
		},
		models.TierComplex: {
			{Name: "opus-1", Provider: models.ProviderAnthropic, Model: "claude-opus-4", Command: "claude"},
			{Name: "sonnet-2", Provider: models.ProviderAnthropic, Model: "claude-sonnet-4", Command: "claude"},
			{Name: "gpt-2", Provider: models.ProviderOpenAI, Model: "gpt-4o", Command: "codex"},
		},
		models.TierCritical: {
			{Name: "opus-a", Provider: models.ProviderAnthropic, Model: "claude-opus-4", Command: "claude"},
			{Name: "opus-b", Provider: models.ProviderAnthropic, Model: "claude-opus-4", Command: "claude"},
			{Name: "gpt-3", Provider: models.ProviderOpenAI, Model: "gpt-4o", Command: "codex"},
		},
	}
}

type stubBudget struct{ exhausted bool }

func (s *stubBudget) Exhausted() bool { return s.exhausted }

func TestClassifyTier(t *testing.T) {
	r := New(testTable(), nil, nil)

	tests := []struct {
		name        string
		stage       string
		description string
		want        models.Tier
	}{
		{"audit stage is critical", "audit", "quick sanity pass", models.TierCritical},
		{"release gate is critical", "release-gate", "fix a typo", models.TierCritical},
		{"release gate underscore form", "release_gate", "", models.TierCritical},
		{"critical stage name is case insensitive", "AUDIT", "", models.TierCritical},
		{"typo fix is simple", "implement", "fix a typo in the README", models.TierSimple},
		{"formatting is simple", "implement", "apply formatting to handlers", models.TierSimple},
		{"migration is complex", "plan", "database migration for the orders table", models.TierComplex},
		{"security is complex", "implement", "harden security of the token exchange", models.TierComplex},
		{"complex wins over simple", "implement", "refactor the docs generator", models.TierComplex},
		{"no keywords defaults to medium", "implement", "add pagination to the list endpoint", models.TierMedium},
		{"empty description defaults to medium", "implement", "", models.TierMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.ClassifyTier(tt.stage, tt.description); got != tt.want {
				t.Errorf("ClassifyTier(%q, %q) = %s, want %s", tt.stage, tt.description, got, tt.want)
			}
		})
	}
}

func TestRouteResolvesRoster(t *testing.T) {
	r := New(testTable(), nil, nil)

	roster, err := r.Route("implement", "add pagination")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if roster.Tier != models.TierMedium {
		t.Errorf("tier = %s, want %s", roster.Tier, models.TierMedium)
	}
	if roster.Size() != 2 {
		t.Errorf("size = %d, want 2", roster.Size())
	}
}

func TestRouteDowngradesUnderBudgetPressure(t *testing.T) {
	budget := &stubBudget{exhausted: true}
	r := New(testTable(), budget, nil)

	roster, err := r.Route("implement", "refactor the scheduler architecture")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if roster.Tier != models.TierSimple {
		t.Errorf("tier = %s, want %s after downgrade", roster.Tier, models.TierSimple)
	}
}

func TestCriticalNeverDowngraded(t *testing.T) {
	budget := &stubBudget{exhausted: true}
	r := New(testTable(), budget, nil)

	roster, err := r.Route("audit", "final review")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if roster.Tier != models.TierCritical {
		t.Errorf("tier = %s, want %s", roster.Tier, models.TierCritical)
	}
}

func TestRouteMissingRoster(t *testing.T) {
	table := models.RosterTable{
		models.TierMedium: testTable()[models.TierMedium],
	}
	r := New(table, nil, nil)

	_, err := r.Route("implement", "fix a typo")
	if err == nil {
		t.Fatal("expected error for unstaffed tier")
	}
	var fault *models.Fault
	if !errors.As(err, &fault) || fault.Kind != models.FaultBadInput {
		t.Errorf("err = %v, want bad_input fault", err)
	}
}

func TestCheapestStaffedSkipsEmptyTiers(t *testing.T) {
	table := models.RosterTable{
		models.TierMedium:   testTable()[models.TierMedium],
		models.TierComplex:  testTable()[models.TierComplex],
		models.TierCritical: testTable()[models.TierCritical],
	}
	budget := &stubBudget{exhausted: true}
	r := New(table, budget, nil)

	roster, err := r.Route("implement", "redesign the storage protocol")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if roster.Tier != models.TierMedium {
		t.Errorf("tier = %s, want %s (cheapest staffed)", roster.Tier, models.TierMedium)
	}
}

func TestSetTableSwapsLive(t *testing.T) {
	r := New(testTable(), nil, nil)
	r.SetTable(models.RosterTable{
		models.TierMedium: {
			{Name: "solo", Provider: models.ProviderLocal, Model: "llama", Command: "ollama"},
		},
	})

	roster, err := r.Route("implement", "add pagination")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if roster.Size() != 1 || roster.Workers[0].Name != "solo" {
		t.Errorf("roster = %+v, want the swapped single worker", roster.Workers)
	}
}
