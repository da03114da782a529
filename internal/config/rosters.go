package config

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/accord/pkg/models"
)

// rosterFile is the on-disk shape of rosters.yaml.
type rosterFile struct {
	Tiers map[string][]models.Worker `yaml:"tiers"`
}

// LoadRosters reads a roster table from a YAML file and validates it.
func LoadRosters(path string) (models.RosterTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rosters from %s: %w", path, err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unmarshaling rosters: %w", err)
	}

	table := models.RosterTable{}
	for name, workers := range file.Tiers {
		tier := models.Tier(name)
		if !tier.Valid() {
			return nil, fmt.Errorf("unknown tier %q in %s", name, path)
		}
		table[tier] = workers
	}
	if err := ValidateRosters(table); err != nil {
		return nil, err
	}
	return table, nil
}

// ValidateRosters rejects tables that would fail at dispatch time.
func ValidateRosters(table models.RosterTable) error {
	if len(table) == 0 {
		return fmt.Errorf("roster table has no tiers")
	}
	for tier, workers := range table {
		if len(workers) == 0 {
			return fmt.Errorf("tier %s has no workers", tier)
		}
		seen := map[string]bool{}
		for _, w := range workers {
			if w.Name == "" {
				return fmt.Errorf("tier %s has a worker without a name", tier)
			}
			if seen[w.Name] {
				return fmt.Errorf("tier %s has duplicate worker %q", tier, w.Name)
			}
			seen[w.Name] = true
			if !w.Provider.Valid() {
				return fmt.Errorf("worker %s has unknown provider %q", w.Name, w.Provider)
			}
			if w.Command == "" {
				return fmt.Errorf("worker %s has no command", w.Name)
			}
			if w.Role != "" && !w.Role.Valid() {
				return fmt.Errorf("worker %s has unknown role %q", w.Name, w.Role)
			}
		}
	}
	return nil
}

// WatchRosters reloads the roster file on change and hands each valid new
// table to onReload. Invalid edits are logged and skipped, keeping the last
// good table live. Blocks until ctx is done.
func WatchRosters(ctx context.Context, path string, logger *zap.Logger, onReload func(models.RosterTable)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating roster watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watching %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			table, err := LoadRosters(path)
			if err != nil {
				logger.Warn("ignoring invalid roster edit",
					zap.String("path", path),
					zap.Error(err))
				continue
			}
			logger.Info("roster table reloaded", zap.String("path", path))
			onReload(table)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("roster watcher error", zap.Error(err))
		}
	}
}

// DefaultRosters returns the built-in tier compositions, used when no
// rosters.yaml is present. Simple resolves to a single cheap worker; Medium
// to two cheap workers; Complex adds an anchor and an aggregator; Critical
// always gets the highest-capability roster.
func DefaultRosters() models.RosterTable {
	claude := func(name, model string, role models.Role) models.Worker {
		return models.Worker{
			Name:     name,
			Provider: models.ProviderAnthropic,
			Model:    model,
			Command:  "claude",
			Args:     []string{"-p", "{prompt}", "--output-format", "json", "--model", model},
			Role:     role,
		}
	}
	return models.RosterTable{
		models.TierSimple: {
			claude("haiku-1", "claude-3-5-haiku-20241022", models.RoleMember),
		},
		models.TierMedium: {
			claude("haiku-1", "claude-3-5-haiku-20241022", models.RoleMember),
			claude("haiku-2", "claude-3-5-haiku-20241022", models.RoleMember),
		},
		models.TierComplex: {
			claude("haiku-1", "claude-3-5-haiku-20241022", models.RoleMember),
			claude("haiku-2", "claude-3-5-haiku-20241022", models.RoleMember),
			claude("sonnet-anchor", "claude-sonnet-4-20250514", models.RoleAnchor),
			claude("sonnet-agg", "claude-sonnet-4-20250514", models.RoleAggregator),
		},
		models.TierCritical: {
			claude("opus-1", "claude-opus-4-5-20251101", models.RoleMember),
			claude("opus-2", "claude-opus-4-5-20251101", models.RoleMember),
			claude("opus-anchor", "claude-opus-4-5-20251101", models.RoleAnchor),
		},
	}
}
