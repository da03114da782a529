// Package telemetry produces the evidence output for completed runs: one
// structured log record per stage fan-out plus durable rows in a per-project
// SQLite ledger (.accord/evidence.db).
package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/accord/internal/cost"
	"github.com/ShayCichocki/accord/pkg/models"
)

// Ledger wraps the evidence database. All writes are append-only.
type Ledger struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// ProjectLedgerPath returns the evidence database path for a project root.
func ProjectLedgerPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".accord", "evidence.db")
}

// Open opens the evidence database at the given path, creating parent
// directories and applying pending schema migrations. WAL mode is enabled
// for concurrent reads.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open evidence database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	l := &Ledger{conn: conn, path: path}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Close()
}

// Path returns the path to the database file.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) migrate() error {
	_, err := l.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	row := l.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Verdicts},
		{2, migrationV2Costs},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := l.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const migrationV1Verdicts = `
CREATE TABLE IF NOT EXISTS stage_verdicts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	class TEXT NOT NULL,
	succeeded INTEGER NOT NULL,
	total INTEGER NOT NULL,
	artifact TEXT,
	conflicts TEXT,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stage_verdicts_run ON stage_verdicts(run_id);

CREATE TABLE IF NOT EXISTS member_outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	worker TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	fault_kind TEXT,
	fault_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_member_outcomes_run ON member_outcomes(run_id);
`

const migrationV2Costs = `
CREATE TABLE IF NOT EXISTS cost_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	stage TEXT NOT NULL,
	worker TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_records_run ON cost_records(run_id);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id TEXT PRIMARY KEY,
	total_cost REAL NOT NULL,
	budget REAL NOT NULL,
	alerts TEXT,
	finished_at DATETIME NOT NULL
);
`

// SaveVerdict appends one stage verdict with its member outcomes.
func (l *Ledger) SaveVerdict(v models.ConsensusVerdict) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	conflicts, err := json.Marshal(v.Conflicts)
	if err != nil {
		return fmt.Errorf("encode conflicts: %w", err)
	}

	tx, err := l.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO stage_verdicts (run_id, stage, class, succeeded, total, artifact, conflicts, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.RunID, v.Stage, string(v.Class), v.Succeeded, v.Total, v.Artifact, string(conflicts), v.CompletedAt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert verdict: %w", err)
	}
	for _, m := range v.Members {
		var faultKind, faultMessage string
		if m.Fault != nil {
			faultKind = string(m.Fault.Kind)
			faultMessage = m.Fault.Message
		}
		_, err = tx.Exec(`
			INSERT INTO member_outcomes (run_id, stage, worker, endpoint, attempts, latency_ms, input_tokens, output_tokens, fault_kind, fault_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.RunID, v.Stage, m.Worker.Name, m.Worker.Endpoint(), m.Attempts,
			m.Latency.Milliseconds(), m.Usage.InputTokens, m.Usage.OutputTokens,
			faultKind, faultMessage)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert member outcome: %w", err)
		}
	}
	return tx.Commit()
}

// SaveCostRecords appends the given ledger entries for a run.
func (l *Ledger) SaveCostRecords(runID string, records []cost.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, r := range records {
		_, err = tx.Exec(`
			INSERT INTO cost_records (run_id, stage, worker, endpoint, input_tokens, output_tokens, cost, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Stage, r.Worker, r.Endpoint,
			r.Usage.InputTokens, r.Usage.OutputTokens, r.Cost, r.Timestamp)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert cost record: %w", err)
		}
	}
	return tx.Commit()
}

// SaveRunSummary upserts the cumulative spend record for a finished run.
func (l *Ledger) SaveRunSummary(runID string, totalCost, budget float64, alerts []cost.Alert) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	encoded, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}
	_, err = l.conn.Exec(`
		INSERT INTO run_summaries (run_id, total_cost, budget, alerts, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			total_cost = excluded.total_cost,
			budget = excluded.budget,
			alerts = excluded.alerts,
			finished_at = excluded.finished_at`,
		runID, totalCost, budget, string(encoded), time.Now())
	if err != nil {
		return fmt.Errorf("upsert run summary: %w", err)
	}
	return nil
}

// StageEvidence is one stage verdict as read back from the ledger.
type StageEvidence struct {
	Stage       string            `yaml:"stage"`
	Class       string            `yaml:"class"`
	Succeeded   int               `yaml:"succeeded"`
	Total       int               `yaml:"total"`
	Conflicts   []models.Conflict `yaml:"conflicts,omitempty"`
	CompletedAt time.Time         `yaml:"completed_at"`
}

// RunEvidence is the exportable record of one run.
type RunEvidence struct {
	RunID     string          `yaml:"run_id"`
	Stages    []StageEvidence `yaml:"stages"`
	TotalCost float64         `yaml:"total_cost"`
	Budget    float64         `yaml:"budget"`
}

// EvidenceForRun reads back the stage verdicts and summary for a run.
func (l *Ledger) EvidenceForRun(runID string) (RunEvidence, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev := RunEvidence{RunID: runID}
	rows, err := l.conn.Query(`
		SELECT stage, class, succeeded, total, conflicts, completed_at
		FROM stage_verdicts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return ev, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s StageEvidence
		var conflicts string
		if err := rows.Scan(&s.Stage, &s.Class, &s.Succeeded, &s.Total, &conflicts, &s.CompletedAt); err != nil {
			return ev, fmt.Errorf("scan verdict: %w", err)
		}
		if conflicts != "" && conflicts != "null" {
			if err := json.Unmarshal([]byte(conflicts), &s.Conflicts); err != nil {
				return ev, fmt.Errorf("decode conflicts: %w", err)
			}
		}
		ev.Stages = append(ev.Stages, s)
	}
	if err := rows.Err(); err != nil {
		return ev, fmt.Errorf("iterate verdicts: %w", err)
	}

	row := l.conn.QueryRow(`SELECT total_cost, budget FROM run_summaries WHERE run_id = ?`, runID)
	if err := row.Scan(&ev.TotalCost, &ev.Budget); err != nil && err != sql.ErrNoRows {
		return ev, fmt.Errorf("scan run summary: %w", err)
	}
	return ev, nil
}

// ExportRun writes the run's evidence as YAML.
func (l *Ledger) ExportRun(runID string, w io.Writer) error {
	ev, err := l.EvidenceForRun(runID)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(ev)
}
