package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/untoldecay/chronicle/internal/types"
)

func (s *SQLiteStorage) CountAtoms(ctx context.Context, batchID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_atoms WHERE import_batch_id = ?`, batchID).Scan(&n)
	return n, err
}

func (s *SQLiteStorage) CountLabeledAtoms(ctx context.Context, batchID string, spec types.LabelSpec) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM message_atoms a
		JOIN message_labels l ON l.message_atom_id = a.id
			AND l.model = ? AND l.prompt_version_id = ?
		WHERE a.import_batch_id = ?`,
		spec.Model, spec.PromptVersionID, batchID).Scan(&n)
	return n, err
}

// ListUnlabeledAtoms keyset-pages through the atoms of a batch that
// have no label under the given spec, cursored on id.
func (s *SQLiteStorage) ListUnlabeledAtoms(ctx context.Context, batchID string, spec types.LabelSpec, afterID string, limit int) ([]*types.MessageAtom, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+atomCols+` FROM message_atoms
		WHERE import_batch_id = ?
			AND id > ?
			AND NOT EXISTS (
				SELECT 1 FROM message_labels l
				WHERE l.message_atom_id = message_atoms.id
					AND l.model = ? AND l.prompt_version_id = ?
			)
		ORDER BY id ASC
		LIMIT ?`,
		batchID, afterID, spec.Model, spec.PromptVersionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlabeled atoms: %w", err)
	}
	return scanAtoms(rows)
}

// InsertLabels bulk-inserts labels with duplicate-safe semantics and
// returns how many were newly written. Existing labels are never
// overwritten.
func (s *SQLiteStorage) InsertLabels(ctx context.Context, labels []*types.MessageLabel) (int, error) {
	inserted := 0
	for _, l := range labels {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO message_labels (message_atom_id, model, prompt_version_id, category, confidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_atom_id, model, prompt_version_id) DO NOTHING`,
			l.MessageAtomID, l.Model, l.PromptVersionID, string(l.Category),
			l.Confidence, fmtTs(l.CreatedAt))
		if err != nil {
			return inserted, fmt.Errorf("failed to insert label: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQLiteStorage) CreateClassifyRun(ctx context.Context, cr *types.ClassifyRun) error {
	var finished any
	if cr.FinishedAt != nil {
		finished = fmtTs(*cr.FinishedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO classify_runs (id, import_batch_id, model, prompt_version_id, mode,
			status, total_atoms, newly_labeled, skipped_already_labeled, labeled_total,
			started_at, finished_at, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cr.ID, cr.ImportBatchID, cr.Model, cr.PromptVersionID, string(cr.Mode),
		cr.Status, cr.TotalAtoms, cr.NewlyLabeled, cr.SkippedAlreadyLabeled,
		cr.LabeledTotal, fmtTs(cr.StartedAt), finished, cr.CostUsd)
	if err != nil {
		return fmt.Errorf("failed to create classify run: %w", err)
	}
	return nil
}

// LatestLabelModelForVersion returns the model of the most recently
// written label under a prompt version, or "" when none exists. Used
// to pair a classify prompt version with its model marker when a run
// omits an explicit label spec.
func (s *SQLiteStorage) LatestLabelModelForVersion(ctx context.Context, promptVersionID string) (string, error) {
	var model string
	err := s.db.QueryRowContext(ctx, `
		SELECT model FROM message_labels
		WHERE prompt_version_id = ?
		ORDER BY created_at DESC LIMIT 1`, promptVersionID).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return model, err
}

func (s *SQLiteStorage) CreateFilterProfile(ctx context.Context, p *types.FilterProfile) error {
	cats, err := json.Marshal(p.Categories)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO filter_profiles (id, name, mode, categories_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(p.Mode), string(cats), fmtTs(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create filter profile: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetFilterProfile(ctx context.Context, id string) (*types.FilterProfile, error) {
	var p types.FilterProfile
	var mode, cats, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, mode, categories_json, created_at
		FROM filter_profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &mode, &cats, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "filter profile", ID: id}
	}
	if err != nil {
		return nil, err
	}
	p.Mode = types.FilterMode(mode)
	p.CreatedAt = parseTs(createdAt)
	if err := json.Unmarshal([]byte(cats), &p.Categories); err != nil {
		return nil, fmt.Errorf("failed to parse filter categories: %w", err)
	}
	return &p, nil
}

// LabelsForAtoms returns the category of each atom under one spec.
// Atoms without a label are simply absent from the map.
func (s *SQLiteStorage) LabelsForAtoms(ctx context.Context, atomIDs []string, spec types.LabelSpec) (map[string]types.Category, error) {
	out := make(map[string]types.Category)
	const chunk = 500
	for start := 0; start < len(atomIDs); start += chunk {
		end := start + chunk
		if end > len(atomIDs) {
			end = len(atomIDs)
		}
		ids := atomIDs[start:end]
		args := []any{spec.Model, spec.PromptVersionID}
		args = append(args, stringArgs(ids)...)
		rows, err := s.db.QueryContext(ctx, `
			SELECT message_atom_id, category FROM message_labels
			WHERE model = ? AND prompt_version_id = ?
				AND message_atom_id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load labels: %w", err)
		}
		for rows.Next() {
			var id, cat string
			if err := rows.Scan(&id, &cat); err != nil {
				rows.Close()
				return nil, err
			}
			out[id] = types.Category(cat)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}
