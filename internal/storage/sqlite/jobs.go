package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/chronicle/internal/types"
)

const jobCols = `id, run_id, day_date, status, attempt, started_at, finished_at,
	tokens_in, tokens_out, cost_usd, error_json`

func scanJob(row interface{ Scan(...any) error }) (*types.Job, error) {
	var j types.Job
	var status string
	var startedAt, finishedAt, errJSON sql.NullString
	err := row.Scan(&j.ID, &j.RunID, &j.DayDate, &status, &j.Attempt,
		&startedAt, &finishedAt, &j.TokensIn, &j.TokensOut, &j.CostUsd, &errJSON)
	if err != nil {
		return nil, err
	}
	j.Status = types.JobStatus(status)
	if startedAt.Valid {
		t := parseTs(startedAt.String)
		j.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseTs(finishedAt.String)
		j.FinishedAt = &t
	}
	if errJSON.Valid && errJSON.String != "" {
		var je types.JobError
		if err := json.Unmarshal([]byte(errJSON.String), &je); err == nil {
			j.Error = &je
		}
	}
	return &j, nil
}

func (s *SQLiteStorage) ListQueuedJobs(ctx context.Context, runID string, limit int) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobCols+` FROM jobs
		WHERE run_id = ? AND status = 'queued'
		ORDER BY day_date ASC
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued jobs: %w", err)
	}
	return scanJobs(rows)
}

func (s *SQLiteStorage) ListJobs(ctx context.Context, runID string) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobCols+` FROM jobs
		WHERE run_id = ?
		ORDER BY day_date ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*types.Job, error) {
	defer rows.Close()
	var jobs []*types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStorage) GetJobByDay(ctx context.Context, runID, dayDate string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobCols+` FROM jobs WHERE run_id = ? AND day_date = ?`,
		runID, dayDate)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "job", ID: runID + "/" + dayDate}
	}
	return j, err
}

func (s *SQLiteStorage) MarkJobRunning(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = ? WHERE id = ?`,
		fmtTs(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

// UpdateJobResult records a terminal (or failed) state with the token
// and cost totals accumulated so far. Partial spend on failure is
// preserved.
func (t *connTx) UpdateJobResult(ctx context.Context, jobID string, status types.JobStatus,
	tokensIn, tokensOut int, costUsd float64, jobErr *types.JobError) error {
	var errJSON any
	if jobErr != nil {
		b, err := json.Marshal(jobErr)
		if err != nil {
			return err
		}
		errJSON = string(b)
	}
	_, err := t.exec(ctx, `
		UPDATE jobs SET status = ?, finished_at = ?, tokens_in = ?, tokens_out = ?,
			cost_usd = ?, error_json = ?
		WHERE id = ?`,
		string(status), fmtTs(time.Now()), tokensIn, tokensOut, costUsd, errJSON, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job result: %w", err)
	}
	return nil
}

func (t *connTx) CreateOutput(ctx context.Context, out *types.Output) error {
	meta, err := json.Marshal(map[string]any{"meta": out.Meta})
	if err != nil {
		return err
	}
	_, err = t.exec(ctx, `
		INSERT INTO outputs (id, job_id, stage, output_text, output_json, model,
			prompt_version_id, bundle_hash, bundle_context_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.JobID, string(out.Stage), out.OutputText, string(meta),
		out.Model, out.PromptVersionID, out.BundleHash, out.BundleContextHash,
		fmtTs(out.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	return nil
}

const outputCols = `id, job_id, stage, output_text, output_json, model,
	prompt_version_id, bundle_hash, bundle_context_hash, created_at`

func (s *SQLiteStorage) GetSummarizeOutput(ctx context.Context, jobID string) (*types.Output, error) {
	var o types.Output
	var stage, metaJSON, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT `+outputCols+` FROM outputs
		WHERE job_id = ? AND stage = 'summarize'
		ORDER BY created_at DESC LIMIT 1`, jobID).
		Scan(&o.ID, &o.JobID, &stage, &o.OutputText, &metaJSON, &o.Model,
			&o.PromptVersionID, &o.BundleHash, &o.BundleContextHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "summarize output for job", ID: jobID}
	}
	if err != nil {
		return nil, err
	}
	o.Stage = types.PromptStage(stage)
	o.CreatedAt = parseTs(createdAt)
	var wrapper struct {
		Meta types.OutputMeta `json:"meta"`
	}
	if err := json.Unmarshal([]byte(metaJSON), &wrapper); err != nil {
		return nil, fmt.Errorf("failed to parse output meta: %w", err)
	}
	o.Meta = wrapper.Meta
	return &o, nil
}

func (s *SQLiteStorage) CountSummarizeOutputs(ctx context.Context, jobID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outputs WHERE job_id = ? AND stage = 'summarize'`,
		jobID).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) JobStatusCounts(ctx context.Context, runID string) (map[types.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM jobs WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count job statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// RunSpendUsd sums what the run's jobs have cost so far, terminal or
// not. This is the DB-recorded spend that crosses ticks.
func (s *SQLiteStorage) RunSpendUsd(ctx context.Context, runID string) (float64, error) {
	var spend float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM jobs WHERE run_id = ?`, runID).Scan(&spend)
	return spend, err
}

// DaySpendUsd aggregates spend across all runs and classify runs whose
// work started on the given UTC calendar day.
func (s *SQLiteStorage) DaySpendUsd(ctx context.Context, utcDay string) (float64, error) {
	var jobSpend, classifySpend float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM jobs
		WHERE started_at IS NOT NULL AND substr(started_at, 1, 10) = ?`, utcDay).
		Scan(&jobSpend)
	if err != nil {
		return 0, err
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0) FROM classify_runs
		WHERE substr(started_at, 1, 10) = ?`, utcDay).
		Scan(&classifySpend)
	if err != nil {
		return 0, err
	}
	return jobSpend + classifySpend, nil
}

func (s *SQLiteStorage) RunTokenTotals(ctx context.Context, runID string) (int, int, error) {
	var in, out int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0)
		FROM jobs WHERE run_id = ?`, runID).Scan(&in, &out)
	return in, out, err
}
