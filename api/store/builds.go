package store

import (
	"context"
	"encoding/json"
	"fmt"

	"scaffold/api/model"
)

// CreateBuild writes the action, the build, its initial step and logs, and the
// entity version bindings in a single transaction.
func (db *DB) CreateBuild(ctx context.Context, b *model.Build, step *model.ActionStep, logs []model.ActionLog, entityVersionIDs []string) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO actions (id, created_at) VALUES ($1, $2)`, b.ActionID, b.CreatedAt); err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO builds (id, resource_id, user_id, commit_id, version, message, action_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.ResourceID, b.UserID, b.CommitID, b.Version, b.Message, b.ActionID, b.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	if step != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO action_steps (id, action_id, name, message, status, created_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			step.ID, step.ActionID, step.Name, step.Message, step.Status, step.CreatedAt, step.CompletedAt,
		); err != nil {
			return fmt.Errorf("insert step: %w", err)
		}
	}
	for _, l := range logs {
		meta, _ := json.Marshal(l.Meta)
		if l.Meta == nil {
			meta = []byte("{}")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO action_logs (id, step_id, level, message, meta, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ID, l.StepID, l.Level, l.Message, meta, l.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert log: %w", err)
		}
	}
	for _, id := range entityVersionIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO build_entity_versions (build_id, entity_version_id) VALUES ($1, $2)`, b.ID, id,
		); err != nil {
			return fmt.Errorf("bind entity version %s: %w", id, err)
		}
	}
	return tx.Commit(ctx)
}

const buildColumns = `id, resource_id, user_id, commit_id, version, message, action_id, created_at`

func (db *DB) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	var b model.Build
	err := db.Pool.QueryRow(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = $1`, id).
		Scan(&b.ID, &b.ResourceID, &b.UserID, &b.CommitID, &b.Version, &b.Message, &b.ActionID, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (db *DB) ListBuilds(ctx context.Context, resourceID string, limit int) ([]model.Build, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + buildColumns + ` FROM builds`
	args := []interface{}{}
	if resourceID != "" {
		query += " WHERE resource_id = $1 ORDER BY created_at DESC LIMIT $2"
		args = append(args, resourceID, limit)
	} else {
		query += " ORDER BY created_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		var b model.Build
		if err := rows.Scan(&b.ID, &b.ResourceID, &b.UserID, &b.CommitID, &b.Version, &b.Message, &b.ActionID, &b.CreatedAt); err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	return builds, rows.Err()
}

// CanUserAccessBuild reports whether the build's owner shares a workspace with userID.
func (db *DB) CanUserAccessBuild(ctx context.Context, userID, buildID string) (bool, error) {
	var ok bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM builds b
			JOIN users owner ON owner.id = b.user_id
			JOIN users u ON u.workspace_id = owner.workspace_id
			WHERE b.id = $1 AND u.id = $2
		)`, buildID, userID,
	).Scan(&ok)
	return ok, err
}
