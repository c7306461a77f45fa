package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	Pool *pgxpool.Pool
}

// Connect opens a pool against databaseURL. tracer may be nil.
func Connect(databaseURL string, tracer pgx.QueryTracer) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	if tracer != nil {
		cfg.ConnConfig.Tracer = tracer
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func Migrate(db *DB) error {
	ctx := context.Background()
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			email        TEXT NOT NULL DEFAULT '',
			workspace_id TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS projects (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			base_directory TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS resources (
			id            TEXT PRIMARY KEY,
			project_id    TEXT NOT NULL REFERENCES projects(id),
			name          TEXT NOT NULL,
			description   TEXT NOT NULL DEFAULT '',
			resource_type TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at    TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_resources_project ON resources(project_id, created_at);

		CREATE TABLE IF NOT EXISTS entities (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL REFERENCES resources(id),
			name        TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at  TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS entity_versions (
			id                  TEXT PRIMARY KEY,
			entity_id           TEXT NOT NULL REFERENCES entities(id),
			version_number      INT NOT NULL,
			name                TEXT NOT NULL,
			display_name        TEXT NOT NULL DEFAULT '',
			plural_display_name TEXT NOT NULL DEFAULT '',
			description         TEXT NOT NULL DEFAULT '',
			fields              JSONB NOT NULL DEFAULT '[]',
			permissions         JSONB NOT NULL DEFAULT '[]',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (entity_id, version_number)
		);

		CREATE TABLE IF NOT EXISTS roles (
			id           TEXT PRIMARY KEY,
			resource_id  TEXT NOT NULL REFERENCES resources(id),
			name         TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS plugin_installations (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL REFERENCES resources(id),
			plugin_id   TEXT NOT NULL,
			npm         TEXT NOT NULL,
			version     TEXT NOT NULL DEFAULT 'latest',
			enabled     BOOLEAN NOT NULL DEFAULT true,
			settings    JSONB,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS topics (
			id           TEXT PRIMARY KEY,
			resource_id  TEXT NOT NULL REFERENCES resources(id),
			name         TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			description  TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS service_topics (
			id                TEXT PRIMARY KEY,
			resource_id       TEXT NOT NULL REFERENCES resources(id),
			message_broker_id TEXT NOT NULL,
			enabled           BOOLEAN NOT NULL DEFAULT true,
			patterns          JSONB NOT NULL DEFAULT '[]'
		);

		CREATE TABLE IF NOT EXISTS service_settings (
			resource_id TEXT PRIMARY KEY REFERENCES resources(id),
			settings    JSONB NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS actions (
			id         TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS action_steps (
			id           TEXT PRIMARY KEY,
			seq          BIGSERIAL,
			action_id    TEXT NOT NULL REFERENCES actions(id),
			name         TEXT NOT NULL,
			message      TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ,
			UNIQUE (action_id, name)
		);

		CREATE TABLE IF NOT EXISTS action_logs (
			id         TEXT PRIMARY KEY,
			seq        BIGSERIAL,
			step_id    TEXT NOT NULL REFERENCES action_steps(id),
			level      TEXT NOT NULL,
			message    TEXT NOT NULL,
			meta       JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_action_logs_step ON action_logs(step_id, seq);

		CREATE TABLE IF NOT EXISTS builds (
			id          TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL REFERENCES resources(id),
			user_id     TEXT NOT NULL REFERENCES users(id),
			commit_id   TEXT NOT NULL,
			version     TEXT NOT NULL,
			message     TEXT NOT NULL DEFAULT '',
			action_id   TEXT NOT NULL UNIQUE REFERENCES actions(id),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_builds_resource ON builds(resource_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS build_entity_versions (
			build_id          TEXT NOT NULL REFERENCES builds(id),
			entity_version_id TEXT NOT NULL REFERENCES entity_versions(id),
			PRIMARY KEY (build_id, entity_version_id)
		);
	`)
	return err
}

// Healthy checks the database connection.
func (db *DB) Healthy(ctx context.Context) error {
	var n int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type scannable interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}
