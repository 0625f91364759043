// Package sqlite implements the storage boundary on SQLite via the
// cgo-free modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xraylite/xraylite/internal/engine"
	"github.com/xraylite/xraylite/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys are off by default in SQLite; cascade deletes need them.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline_type TEXT NOT NULL,
			name TEXT,
			input_context TEXT,
			output_result TEXT,
			status TEXT NOT NULL DEFAULT 'running',
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			sequence_order INTEGER NOT NULL DEFAULT 0,
			input_data TEXT,
			output_data TEXT,
			config TEXT,
			reasoning TEXT,
			stats TEXT,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			step_id TEXT NOT NULL,
			candidate_id TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			reason TEXT,
			score REAL,
			sequence_order INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (step_id) REFERENCES steps(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS evidence (
			id TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			evidence_type TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (decision_id) REFERENCES decisions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_pipeline_type ON runs(pipeline_type)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_name ON steps(step_name)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_step ON decisions(step_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_candidate ON decisions(candidate_id)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_type ON decisions(decision_type)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_reason ON decisions(reason)`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_decision ON evidence(decision_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal json field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMap(s sql.NullString, dst *map[string]any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal json field: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run *storage.RunRecord) error {
	inputJSON, err := marshalMap(run.InputContext)
	if err != nil {
		return err
	}
	metaJSON, err := marshalMap(run.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO runs (id, pipeline_type, name, input_context, status, started_at, metadata)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.PipelineType, nullString(run.Name), inputJSON, run.Status, run.StartedAt, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*storage.RunRecord, error) {
	query := `SELECT id, pipeline_type, name, input_context, output_result, status, started_at, completed_at, metadata
	          FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*storage.RunRecord, error) {
	var run storage.RunRecord
	var name, inputJSON, outputJSON, metaJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.PipelineType, &name, &inputJSON, &outputJSON,
		&run.Status, &run.StartedAt, &completedAt, &metaJSON)
	if err != nil {
		return nil, err
	}

	run.Name = name.String
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if err := unmarshalMap(inputJSON, &run.InputContext); err != nil {
		return nil, err
	}
	if err := unmarshalMap(outputJSON, &run.OutputResult); err != nil {
		return nil, err
	}
	if err := unmarshalMap(metaJSON, &run.Metadata); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, f storage.RunFilter) ([]*storage.RunRecord, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.PipelineType != "" {
		where += " AND pipeline_type = ?"
		args = append(args, f.PipelineType)
	}
	if f.Status != "" {
		where += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		where += " AND started_at >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where += " AND started_at <= ?"
		args = append(args, f.To)
	}

	// Total comes from a count query, not from loading everything.
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	page, pageSize := normalizePage(f.Page, f.PageSize)
	query := `SELECT id, pipeline_type, name, input_context, output_result, status, started_at, completed_at, metadata
	          FROM runs` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*storage.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, total, rows.Err()
}

func (s *Store) CompleteRun(ctx context.Context, id string, result map[string]any, status string, completedAt time.Time) error {
	resultJSON, err := marshalMap(result)
	if err != nil {
		return err
	}

	query := `UPDATE runs SET output_result = ?, status = ?, completed_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, resultJSON, status, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) CreateStep(ctx context.Context, step *storage.StepRecord, decisions []*storage.DecisionRecord, evidence []*storage.EvidenceRecord) error {
	inputJSON, err := marshalMap(step.InputData)
	if err != nil {
		return err
	}
	outputJSON, err := marshalMap(step.OutputData)
	if err != nil {
		return err
	}
	configJSON, err := marshalMap(step.Config)
	if err != nil {
		return err
	}
	var statsJSON sql.NullString
	if step.Stats != nil {
		data, err := json.Marshal(step.Stats)
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		statsJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// sequence_order is computed inside the insert itself, so two
	// concurrent submissions to the same run cannot both read the same
	// step count and collide.
	err = tx.QueryRowContext(ctx,
		`INSERT INTO steps (id, run_id, step_name, sequence_order, input_data, output_data, config, reasoning, stats, started_at, completed_at)
		 VALUES (?, ?, ?, (SELECT COUNT(*) FROM steps WHERE run_id = ?), ?, ?, ?, ?, ?, ?, ?)
		 RETURNING sequence_order`,
		step.ID, step.RunID, step.Name, step.RunID, inputJSON, outputJSON,
		configJSON, nullString(step.Reasoning), statsJSON, step.StartedAt, step.CompletedAt).
		Scan(&step.SequenceOrder)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}

	for _, d := range decisions {
		metaJSON, err := marshalMap(d.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO decisions (id, step_id, candidate_id, decision_type, reason, score, sequence_order, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.StepID, d.CandidateID, d.DecisionType, nullString(d.Reason),
			nullFloat(d.Score), d.SequenceOrder, metaJSON, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert decision: %w", err)
		}
	}

	for _, e := range evidence {
		dataJSON, err := marshalMap(e.Data)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO evidence (id, decision_id, evidence_type, data, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.DecisionID, e.EvidenceType, dataJSON, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert evidence: %w", err)
		}
	}

	return tx.Commit()
}

func scanStep(row rowScanner) (*storage.StepRecord, error) {
	var step storage.StepRecord
	var inputJSON, outputJSON, configJSON, reasoning, statsJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&step.ID, &step.RunID, &step.Name, &step.SequenceOrder,
		&inputJSON, &outputJSON, &configJSON, &reasoning, &statsJSON,
		&step.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	step.Reasoning = reasoning.String
	if completedAt.Valid {
		step.CompletedAt = &completedAt.Time
	}
	if err := unmarshalMap(inputJSON, &step.InputData); err != nil {
		return nil, err
	}
	if err := unmarshalMap(outputJSON, &step.OutputData); err != nil {
		return nil, err
	}
	if err := unmarshalMap(configJSON, &step.Config); err != nil {
		return nil, err
	}
	if statsJSON.Valid && statsJSON.String != "" {
		var stats engine.Stats
		if err := json.Unmarshal([]byte(statsJSON.String), &stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
		step.Stats = &stats
	}
	return &step, nil
}

const stepColumns = `id, run_id, step_name, sequence_order, input_data, output_data, config, reasoning, stats, started_at, completed_at`

func (s *Store) ListSteps(ctx context.Context, runID string) ([]*storage.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE run_id = ? ORDER BY sequence_order ASC`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*storage.StepRecord
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) GetStep(ctx context.Context, runID, stepID string) (*storage.StepRecord, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE id = ? AND run_id = ?`

	step, err := scanStep(s.db.QueryRowContext(ctx, query, stepID, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("step %s in run %s: %w", stepID, runID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

func scanDecision(row rowScanner) (*storage.DecisionRecord, error) {
	var d storage.DecisionRecord
	var reason, metaJSON sql.NullString
	var score sql.NullFloat64

	err := row.Scan(&d.ID, &d.StepID, &d.CandidateID, &d.DecisionType,
		&reason, &score, &d.SequenceOrder, &metaJSON, &d.CreatedAt)
	if err != nil {
		return nil, err
	}

	d.Reason = reason.String
	if score.Valid {
		d.Score = &score.Float64
	}
	if err := unmarshalMap(metaJSON, &d.Metadata); err != nil {
		return nil, err
	}
	return &d, nil
}

const decisionColumns = `id, step_id, candidate_id, decision_type, reason, score, sequence_order, metadata, created_at`

func (s *Store) ListStepDecisions(ctx context.Context, stepID string, f storage.DecisionFilter) ([]*storage.DecisionRecord, int, error) {
	where := " WHERE step_id = ?"
	args := []any{stepID}
	if f.DecisionType != "" {
		where += " AND decision_type = ?"
		args = append(args, f.DecisionType)
	}
	if f.Reason != "" {
		where += " AND reason = ?"
		args = append(args, f.Reason)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM decisions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count decisions: %w", err)
	}

	page, pageSize := normalizePage(f.Page, f.PageSize)
	query := `SELECT ` + decisionColumns + ` FROM decisions` + where +
		` ORDER BY sequence_order ASC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*storage.DecisionRecord
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, total, rows.Err()
}

func (s *Store) QuerySteps(ctx context.Context, q storage.StepQuery) ([]*storage.StepRecord, error) {
	query := `SELECT s.id, s.run_id, s.step_name, s.sequence_order, s.input_data, s.output_data,
	                 s.config, s.reasoning, s.stats, s.started_at, s.completed_at
	          FROM steps s JOIN runs r ON s.run_id = r.id WHERE 1=1`
	var args []any
	if q.PipelineType != "" {
		query += " AND r.pipeline_type = ?"
		args = append(args, q.PipelineType)
	}
	if q.StepName != "" {
		query += " AND s.step_name = ?"
		args = append(args, q.StepName)
	}
	if !q.From.IsZero() {
		query += " AND s.started_at >= ?"
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		query += " AND s.started_at <= ?"
		args = append(args, q.To)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY s.started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*storage.StepRecord
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		// Rejection-rate bounds filter on the decoded stats document; the
		// stats column is JSON text, so the bound is applied post-scan.
		if q.MinRejectionRate != nil && (step.Stats == nil || step.Stats.RejectionRate < *q.MinRejectionRate) {
			continue
		}
		if q.MaxRejectionRate != nil && step.Stats != nil && step.Stats.RejectionRate > *q.MaxRejectionRate {
			continue
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) QueryDecisions(ctx context.Context, q storage.DecisionQuery) ([]*storage.DecisionRecord, error) {
	query := `SELECT d.id, d.step_id, d.candidate_id, d.decision_type, d.reason, d.score,
	                 d.sequence_order, d.metadata, d.created_at
	          FROM decisions d JOIN steps s ON d.step_id = s.id WHERE 1=1`
	var args []any
	if q.CandidateID != "" {
		query += " AND d.candidate_id = ?"
		args = append(args, q.CandidateID)
	}
	if q.DecisionType != "" {
		query += " AND d.decision_type = ?"
		args = append(args, q.DecisionType)
	}
	if q.Reason != "" {
		query += " AND d.reason = ?"
		args = append(args, q.Reason)
	}
	if q.StepName != "" {
		query += " AND s.step_name = ?"
		args = append(args, q.StepName)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY d.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*storage.DecisionRecord
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}
