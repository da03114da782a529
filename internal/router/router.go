// Package router assigns delivery stages to capability tiers and resolves
// the worker roster for each tier.
package router

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/accord/pkg/models"
)

// BudgetGuard reports whether the run budget is spent. Satisfied by
// cost.Tracker.
type BudgetGuard interface {
	Exhausted() bool
}

// criticalStages always route to the Critical tier regardless of budget
// pressure. Correctness-sensitive gates are not a place to save money.
var criticalStages = map[string]struct{}{
	"audit":        {},
	"release-gate": {},
	"release_gate": {},
}

// Keyword lists are checked against the lowercased stage description.
// Complex markers win over simple ones when both match.
var complexKeywords = []string{
	"architecture",
	"migration",
	"refactor",
	"security",
	"concurrency",
	"distributed",
	"schema change",
	"protocol",
	"redesign",
	"breaking change",
}

var simpleKeywords = []string{
	"typo",
	"rename",
	"formatting",
	"comment",
	"docs",
	"documentation",
	"readme",
	"changelog",
	"whitespace",
	"lint",
}

// Router classifies stages into tiers and resolves rosters from a
// replaceable table.
type Router struct {
	mu     sync.RWMutex
	table  models.RosterTable
	budget BudgetGuard
	logger *zap.Logger
}

// New builds a Router over the given table. budget may be nil, in which
// case no downgrades happen.
func New(table models.RosterTable, budget BudgetGuard, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{table: table, budget: budget, logger: logger.Named("router")}
}

// SetTable swaps the roster table. Used by config reload.
func (r *Router) SetTable(table models.RosterTable) {
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
}

// ClassifyTier maps a stage name and description to a tier. Critical
// stages are fixed by name; otherwise keyword matching on the
// description decides, defaulting to Medium.
func (r *Router) ClassifyTier(stage, description string) models.Tier {
	if _, ok := criticalStages[strings.ToLower(stage)]; ok {
		return models.TierCritical
	}
	desc := strings.ToLower(description)
	for _, kw := range complexKeywords {
		if strings.Contains(desc, kw) {
			return models.TierComplex
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(desc, kw) {
			return models.TierSimple
		}
	}
	return models.TierMedium
}

// Route classifies the stage and resolves its roster. When the budget is
// exhausted, Medium and Complex work is downgraded to the cheapest tier
// that still has a roster; Critical is never downgraded.
func (r *Router) Route(stage, description string) (models.Roster, error) {
	tier := r.ClassifyTier(stage, description)
	if tier != models.TierCritical && r.budget != nil && r.budget.Exhausted() {
		downgraded := r.cheapestStaffed()
		if downgraded != tier {
			r.logger.Warn("budget exhausted, downgrading tier",
				zap.String("stage", stage),
				zap.String("from", string(tier)),
				zap.String("to", string(downgraded)))
			tier = downgraded
		}
	}
	return r.resolve(stage, tier)
}

// RouteTier resolves a roster for an explicitly chosen tier, bypassing
// classification. Budget downgrades still apply.
func (r *Router) RouteTier(stage string, tier models.Tier) (models.Roster, error) {
	if tier != models.TierCritical && r.budget != nil && r.budget.Exhausted() {
		if downgraded := r.cheapestStaffed(); downgraded.Rank() < tier.Rank() {
			tier = downgraded
		}
	}
	return r.resolve(stage, tier)
}

func (r *Router) resolve(stage string, tier models.Tier) (models.Roster, error) {
	r.mu.RLock()
	roster, ok := r.table.Resolve(tier)
	r.mu.RUnlock()
	if !ok {
		return models.Roster{}, models.NewFault(models.FaultBadInput,
			"no roster configured for tier %s (stage %s)", tier, stage)
	}
	return roster, nil
}

// cheapestStaffed returns the lowest-ranked tier that has workers,
// falling back to Simple when the table is empty.
func (r *Router) cheapestStaffed() models.Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tier := range []models.Tier{models.TierSimple, models.TierMedium, models.TierComplex} {
		if _, ok := r.table.Resolve(tier); ok {
			return tier
		}
	}
	return models.TierSimple
}
