package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Connect opens a pgx pool and verifies the connection
func Connect(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS deployment_workflows (
	workflow_id  TEXT PRIMARY KEY,
	revision     BIGINT NOT NULL DEFAULT 0,
	last_version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deployment_versions (
	id                 TEXT PRIMARY KEY,
	workflow_id        TEXT NOT NULL REFERENCES deployment_workflows(workflow_id),
	version_number     INTEGER NOT NULL,
	status             TEXT NOT NULL,
	graph              JSONB NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	failure_reason     TEXT NOT NULL DEFAULT '',
	deployed_at        TIMESTAMPTZ NOT NULL,
	rolled_back_at     TIMESTAMPTZ,
	total_queries      BIGINT NOT NULL DEFAULT 0,
	successful_queries BIGINT NOT NULL DEFAULT 0,
	total_response_ms  BIGINT NOT NULL DEFAULT 0,
	total_cost         DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (workflow_id, version_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS deployment_versions_one_active
	ON deployment_versions (workflow_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS credentials (
	key_id       TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL DEFAULT '',
	name         TEXT NOT NULL DEFAULT '',
	digest       TEXT NOT NULL,
	rate_limit   BIGINT,
	cost_limit   DOUBLE PRECISION,
	is_active    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS webhooks (
	id          TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	digest      TEXT NOT NULL,
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	rate_limit  BIGINT,
	cost_limit  DOUBLE PRECISION,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_called TIMESTAMPTZ
);
`

// InitSchema creates the tables and indexes if they do not exist.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	logger.Info("postgres schema ready")
	return nil
}
