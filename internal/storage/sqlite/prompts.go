package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/untoldecay/chronicle/internal/types"
)

const promptVersionCols = `id, prompt_id, stage, version_label, template_text, is_active, created_at`

func scanPromptVersion(row interface{ Scan(...any) error }) (*types.PromptVersion, error) {
	var pv types.PromptVersion
	var stage, createdAt string
	var active int
	err := row.Scan(&pv.ID, &pv.PromptID, &stage, &pv.VersionLabel,
		&pv.TemplateText, &active, &createdAt)
	if err != nil {
		return nil, err
	}
	pv.Stage = types.PromptStage(stage)
	pv.IsActive = active != 0
	pv.CreatedAt = parseTs(createdAt)
	return &pv, nil
}

func (s *SQLiteStorage) GetPromptVersion(ctx context.Context, id string) (*types.PromptVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+promptVersionCols+` FROM prompt_versions WHERE id = ?`, id)
	pv, err := scanPromptVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "prompt version", ID: id}
	}
	return pv, err
}

// GetActivePromptVersion returns the single active version for a
// stage. Exactly one is active at any time; that invariant is enforced
// by SetPromptVersionActive running in a transaction.
func (s *SQLiteStorage) GetActivePromptVersion(ctx context.Context, stage types.PromptStage) (*types.PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+promptVersionCols+` FROM prompt_versions
		WHERE stage = ? AND is_active = 1
		ORDER BY created_at DESC LIMIT 1`, string(stage))
	pv, err := scanPromptVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "active prompt version for stage", ID: string(stage)}
	}
	return pv, err
}

func (s *SQLiteStorage) ListPromptVersions(ctx context.Context, stage types.PromptStage) ([]*types.PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptVersionCols+` FROM prompt_versions
		WHERE stage = ? ORDER BY created_at DESC, id DESC`, string(stage))
	if err != nil {
		return nil, fmt.Errorf("failed to list prompt versions: %w", err)
	}
	defer rows.Close()

	var versions []*types.PromptVersion
	for rows.Next() {
		pv, err := scanPromptVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, pv)
	}
	return versions, rows.Err()
}

// SetPromptVersionActive deactivates every other version of the same
// stage and activates the given one, preserving the one-active-per-
// stage invariant.
func (t *connTx) SetPromptVersionActive(ctx context.Context, stage types.PromptStage, versionID string) error {
	if _, err := t.exec(ctx,
		`UPDATE prompt_versions SET is_active = 0 WHERE stage = ?`, string(stage)); err != nil {
		return fmt.Errorf("failed to deactivate prompt versions: %w", err)
	}
	res, err := t.exec(ctx,
		`UPDATE prompt_versions SET is_active = 1 WHERE id = ? AND stage = ?`,
		versionID, string(stage))
	if err != nil {
		return fmt.Errorf("failed to activate prompt version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &types.NotFoundError{Resource: "prompt version", ID: versionID}
	}
	return nil
}
