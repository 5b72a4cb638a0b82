package sqlite

import (
	"context"
	"fmt"

	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// Search runs an FTS5 match over atoms or outputs with keyset
// pagination ordered strictly by rank DESC, id ASC. Rank is the
// negated bm25 score so that higher means more relevant.
func (s *SQLiteStorage) Search(ctx context.Context, q storage.SearchQuery) ([]*storage.SearchHit, error) {
	switch q.Scope {
	case storage.SearchRaw:
		return s.searchAtoms(ctx, q)
	case storage.SearchOutputs:
		return s.searchOutputs(ctx, q)
	}
	return nil, types.Invalidf("unknown search scope %q", q.Scope)
}

func (s *SQLiteStorage) searchAtoms(ctx context.Context, q storage.SearchQuery) ([]*storage.SearchHit, error) {
	query := `
		SELECT a.id, a.import_batch_id, a.source, a.role, a.day_date,
			snippet(atoms_fts, 0, '<<', '>>', '...', 16),
			-bm25(atoms_fts) AS rank
		FROM atoms_fts
		JOIN message_atoms a ON a.rowid = atoms_fts.rowid`
	args := []any{}

	if len(q.Categories) > 0 && q.LabelSpec != nil {
		query += `
		JOIN message_labels l ON l.message_atom_id = a.id
			AND l.model = ? AND l.prompt_version_id = ?
			AND l.category IN (` + placeholders(len(q.Categories)) + `)`
		args = append(args, q.LabelSpec.Model, q.LabelSpec.PromptVersionID)
		for _, c := range q.Categories {
			args = append(args, string(c))
		}
	}

	query += `
		WHERE atoms_fts MATCH ?`
	args = append(args, q.Text)

	if q.ImportBatchID != "" {
		query += ` AND a.import_batch_id = ?`
		args = append(args, q.ImportBatchID)
	}
	if q.StartDate != "" {
		query += ` AND a.day_date >= ?`
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		query += ` AND a.day_date <= ?`
		args = append(args, q.EndDate)
	}
	if len(q.Sources) > 0 {
		query += ` AND a.source IN (` + placeholders(len(q.Sources)) + `)`
		for _, src := range q.Sources {
			args = append(args, string(src))
		}
	}
	if q.AfterRank != nil {
		query += ` AND (-bm25(atoms_fts) < ? OR (-bm25(atoms_fts) = ? AND a.id > ?))`
		args = append(args, *q.AfterRank, *q.AfterRank, q.AfterID)
	}

	query += `
		ORDER BY rank DESC, a.id ASC
		LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("atom search failed: %w", err)
	}
	defer rows.Close()

	var hits []*storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		var source, role string
		if err := rows.Scan(&h.ID, &h.BatchID, &source, &role, &h.DayDate,
			&h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		h.Source = types.Source(source)
		h.Role = types.Role(role)
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}

func (s *SQLiteStorage) searchOutputs(ctx context.Context, q storage.SearchQuery) ([]*storage.SearchHit, error) {
	query := `
		SELECT o.id, j.run_id, o.stage, j.day_date,
			snippet(outputs_fts, 0, '<<', '>>', '...', 16),
			-bm25(outputs_fts) AS rank
		FROM outputs_fts
		JOIN outputs o ON o.rowid = outputs_fts.rowid
		JOIN jobs j ON j.id = o.job_id
		WHERE outputs_fts MATCH ?`
	args := []any{q.Text}

	if q.RunID != "" {
		query += ` AND j.run_id = ?`
		args = append(args, q.RunID)
	}
	if q.StartDate != "" {
		query += ` AND j.day_date >= ?`
		args = append(args, q.StartDate)
	}
	if q.EndDate != "" {
		query += ` AND j.day_date <= ?`
		args = append(args, q.EndDate)
	}
	if q.AfterRank != nil {
		query += ` AND (-bm25(outputs_fts) < ? OR (-bm25(outputs_fts) = ? AND o.id > ?))`
		args = append(args, *q.AfterRank, *q.AfterRank, q.AfterID)
	}

	query += `
		ORDER BY rank DESC, o.id ASC
		LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("output search failed: %w", err)
	}
	defer rows.Close()

	var hits []*storage.SearchHit
	for rows.Next() {
		var h storage.SearchHit
		var stage string
		if err := rows.Scan(&h.ID, &h.RunID, &stage, &h.DayDate,
			&h.Snippet, &h.Rank); err != nil {
			return nil, err
		}
		h.Stage = types.PromptStage(stage)
		hits = append(hits, &h)
	}
	return hits, rows.Err()
}
