package store

import (
	"context"
	"encoding/json"
	"time"

	"scaffold/api/model"
)

const terminalStatuses = `('Success', 'Failed')`

// EnsureStep inserts the step unless one with the same name already exists
// under the action, and returns whichever row is stored.
func (db *DB) EnsureStep(ctx context.Context, step *model.ActionStep) (*model.ActionStep, error) {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO action_steps (id, action_id, name, message, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (action_id, name) DO NOTHING`,
		step.ID, step.ActionID, step.Name, step.Message, step.Status, step.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return db.StepByName(ctx, step.ActionID, step.Name)
}

const stepColumns = `id, action_id, name, message, status, created_at, completed_at`

func (db *DB) StepByName(ctx context.Context, actionID, name string) (*model.ActionStep, error) {
	var s model.ActionStep
	err := db.Pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM action_steps WHERE action_id = $1 AND name = $2`, actionID, name,
	).Scan(&s.ID, &s.ActionID, &s.Name, &s.Message, &s.Status, &s.CreatedAt, &s.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (db *DB) GetStep(ctx context.Context, id string) (*model.ActionStep, error) {
	var s model.ActionStep
	err := db.Pool.QueryRow(ctx, `SELECT `+stepColumns+` FROM action_steps WHERE id = $1`, id).
		Scan(&s.ID, &s.ActionID, &s.Name, &s.Message, &s.Status, &s.CreatedAt, &s.CompletedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// StartStep moves a Waiting step to Running. It reports false when the step
// was not Waiting.
func (db *DB) StartStep(ctx context.Context, id string) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE action_steps SET status = 'Running' WHERE id = $1 AND status = 'Waiting'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteStep sets a terminal status once. It reports false when the step
// was already terminal.
func (db *DB) CompleteStep(ctx context.Context, id string, status model.StepStatus, at time.Time) (bool, error) {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE action_steps SET status = $1, completed_at = $2
		 WHERE id = $3 AND status NOT IN `+terminalStatuses, status, at, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (db *DB) AppendLog(ctx context.Context, l *model.ActionLog) error {
	meta, _ := json.Marshal(l.Meta)
	if l.Meta == nil {
		meta = []byte("{}")
	}
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO action_logs (id, step_id, level, message, meta, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.StepID, l.Level, l.Message, meta, l.CreatedAt,
	)
	return err
}

// ListSteps returns the action's steps in creation order with their logs.
func (db *DB) ListSteps(ctx context.Context, actionID string) ([]model.ActionStep, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+stepColumns+` FROM action_steps WHERE action_id = $1 ORDER BY created_at, seq`, actionID)
	if err != nil {
		return nil, err
	}
	var steps []model.ActionStep
	index := map[string]int{}
	for rows.Next() {
		var s model.ActionStep
		if err := rows.Scan(&s.ID, &s.ActionID, &s.Name, &s.Message, &s.Status, &s.CreatedAt, &s.CompletedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[s.ID] = len(steps)
		steps = append(steps, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return steps, nil
	}

	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.ID)
	}
	logRows, err := db.Pool.Query(ctx,
		`SELECT id, step_id, level, message, meta, created_at FROM action_logs
		 WHERE step_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return nil, err
	}
	defer logRows.Close()
	logs, err := scanLogs(logRows)
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		i := index[l.StepID]
		steps[i].Logs = append(steps[i].Logs, l)
	}
	return steps, nil
}

func scanLogs(rows scannable) ([]model.ActionLog, error) {
	var logs []model.ActionLog
	for rows.Next() {
		var l model.ActionLog
		var meta []byte
		if err := rows.Scan(&l.ID, &l.StepID, &l.Level, &l.Message, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			json.Unmarshal(meta, &l.Meta)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
