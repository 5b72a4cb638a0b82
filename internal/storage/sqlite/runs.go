package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

func (t *connTx) CreateRun(ctx context.Context, run *types.Run) error {
	sources, err := json.Marshal(run.Sources)
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	_, err = t.exec(ctx, `
		INSERT INTO runs (id, status, model, start_date, end_date, sources_json,
			filter_profile_id, output_target, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Model, run.StartDate, run.EndDate,
		string(sources), run.FilterProfileID, run.OutputTarget, string(cfg),
		fmtTs(run.CreatedAt), fmtTs(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (t *connTx) CreateRunBatch(ctx context.Context, runID, importBatchID string) error {
	_, err := t.exec(ctx,
		`INSERT INTO run_batches (run_id, import_batch_id) VALUES (?, ?)`,
		runID, importBatchID)
	if err != nil {
		return fmt.Errorf("failed to create run batch: %w", err)
	}
	return nil
}

func (t *connTx) CreateJob(ctx context.Context, job *types.Job) error {
	_, err := t.exec(ctx, `
		INSERT INTO jobs (id, run_id, day_date, status, attempt)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.RunID, job.DayDate, string(job.Status), job.Attempt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	var r types.Run
	var status, sources, cfg, createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, model, start_date, end_date, sources_json,
			filter_profile_id, output_target, config_json, created_at, updated_at
		FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &status, &r.Model, &r.StartDate, &r.EndDate, &sources,
			&r.FilterProfileID, &r.OutputTarget, &cfg, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, err
	}
	r.Status = types.RunStatus(status)
	r.CreatedAt = parseTs(createdAt)
	r.UpdatedAt = parseTs(updatedAt)
	if err := json.Unmarshal([]byte(sources), &r.Sources); err != nil {
		return nil, fmt.Errorf("failed to parse run sources: %w", err)
	}
	if err := json.Unmarshal([]byte(cfg), &r.Config); err != nil {
		return nil, fmt.Errorf("failed to parse run config: %w", err)
	}
	return &r, nil
}

// UpdateRunStatus writes a new run status. Cancelled is sticky: once a
// run is cancelled, later writes are silently dropped so a tick
// finishing in-flight work can never resurrect the run.
func (s *SQLiteStorage) UpdateRunStatus(ctx context.Context, id string, status types.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ? AND status <> ?`,
		string(status), fmtTs(time.Now()), id, string(types.RunCancelled))
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var cur string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM runs WHERE id = ?`, id).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return &types.NotFoundError{Resource: "run", ID: id}
		}
		return err
	}
	return nil
}

func (s *SQLiteStorage) ListRunBatchIDs(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT import_batch_id FROM run_batches
		WHERE run_id = ? ORDER BY import_batch_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run batches: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EligibleDays returns the distinct day dates within the range that
// have at least one role=user atom carrying a filter-passing label
// under the label spec, unioned across all batches. Ascending order.
func (s *SQLiteStorage) EligibleDays(ctx context.Context, q storage.EligibleDaysQuery) ([]string, error) {
	if len(q.BatchIDs) == 0 || len(q.Sources) == 0 {
		return nil, nil
	}
	catClause, catArgs, ok := categoryPredicate(q.Filter)
	if !ok {
		return nil, nil
	}

	query := `
		SELECT DISTINCT a.day_date
		FROM message_atoms a
		JOIN message_labels l ON l.message_atom_id = a.id
			AND l.model = ? AND l.prompt_version_id = ?
		WHERE a.import_batch_id IN (` + placeholders(len(q.BatchIDs)) + `)
			AND a.day_date >= ? AND a.day_date <= ?
			AND a.source IN (` + placeholders(len(q.Sources)) + `)
			AND a.role = 'user'` + catClause + `
		ORDER BY a.day_date ASC`

	args := []any{q.LabelSpec.Model, q.LabelSpec.PromptVersionID}
	args = append(args, stringArgs(q.BatchIDs)...)
	args = append(args, q.StartDate, q.EndDate)
	for _, src := range q.Sources {
		args = append(args, string(src))
	}
	args = append(args, catArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to compute eligible days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}
