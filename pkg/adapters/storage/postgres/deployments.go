package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const versionColumns = `id, workflow_id, version_number, status, graph, description, failure_reason,
	deployed_at, rolled_back_at, total_queries, successful_queries, total_response_ms, total_cost`

// DeploymentStore implements ports.DeploymentRepository in PostgreSQL. The
// workflow row is locked for every lifecycle write and carries the revision;
// a partial unique index keeps at most one active version per workflow.
type DeploymentStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewDeploymentStore creates a new Postgres deployment store
func NewDeploymentStore(pool *pgxpool.Pool, logger *zap.Logger) *DeploymentStore {
	return &DeploymentStore{db: pool, logger: logger}
}

// Revision returns the workflow's current revision, 0 before the first deploy
func (s *DeploymentStore) Revision(ctx context.Context, workflowID string) (int64, error) {
	var revision int64
	err := s.db.QueryRow(ctx,
		`SELECT revision FROM deployment_workflows WHERE workflow_id = $1`, workflowID).Scan(&revision)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return revision, nil
}

// CreateVersion stores a new version if the workflow is still at expectedRevision
func (s *DeploymentStore) CreateVersion(ctx context.Context, v *domain.DeploymentVersion, expectedRevision int64) error {
	graph, err := json.Marshal(v.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO deployment_workflows (workflow_id) VALUES ($1) ON CONFLICT (workflow_id) DO NOTHING`,
			v.WorkflowID); err != nil {
			return fmt.Errorf("failed to create workflow row: %w", err)
		}

		lastVersion, err := lockWorkflow(ctx, tx, v.WorkflowID, expectedRevision)
		if err != nil {
			return err
		}

		if v.Status == domain.VersionStatusActive {
			if _, err := tx.Exec(ctx,
				`UPDATE deployment_versions SET status = $2 WHERE workflow_id = $1 AND status = $3`,
				v.WorkflowID, domain.VersionStatusInactive, domain.VersionStatusActive); err != nil {
				return fmt.Errorf("failed to deactivate previous version: %w", err)
			}
		}

		number := lastVersion + 1
		if _, err := tx.Exec(ctx, `
			INSERT INTO deployment_versions (id, workflow_id, version_number, status, graph, description,
				failure_reason, deployed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			v.ID, v.WorkflowID, number, v.Status, graph, v.Description, v.FailureReason, v.DeployedAt); err != nil {
			return mapWriteError("insert version", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE deployment_workflows SET revision = revision + 1, last_version = $2 WHERE workflow_id = $1`,
			v.WorkflowID, number); err != nil {
			return fmt.Errorf("failed to bump revision: %w", err)
		}

		v.VersionNumber = number
		return nil
	})
}

// ApplyStatus changes version statuses together if the workflow is still at expectedRevision
func (s *DeploymentStore) ApplyStatus(ctx context.Context, workflowID string, expectedRevision int64, changes []domain.StatusChange) error {
	// Deactivations go first so the partial unique index never sees two active rows.
	ordered := append([]domain.StatusChange(nil), changes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Status != domain.VersionStatusActive && ordered[j].Status == domain.VersionStatusActive
	})

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := lockWorkflow(ctx, tx, workflowID, expectedRevision); err != nil {
			return err
		}

		for _, change := range ordered {
			tag, err := tx.Exec(ctx, `
				UPDATE deployment_versions
				SET status = $3, rolled_back_at = COALESCE($4, rolled_back_at)
				WHERE id = $1 AND workflow_id = $2`,
				change.VersionID, workflowID, change.Status, change.RolledBackAt)
			if err != nil {
				return mapWriteError("update version status", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", domain.ErrVersionNotFound, change.VersionID)
			}
		}

		if _, err := tx.Exec(ctx,
			`UPDATE deployment_workflows SET revision = revision + 1 WHERE workflow_id = $1`, workflowID); err != nil {
			return fmt.Errorf("failed to bump revision: %w", err)
		}
		return nil
	})
}

// AddOutcome adds one finished run to a version's health counters
func (s *DeploymentStore) AddOutcome(ctx context.Context, versionID string, result domain.RunResult) error {
	successful := 0
	if result.Success {
		successful = 1
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE deployment_versions
		SET total_queries = total_queries + 1,
			successful_queries = successful_queries + $2,
			total_response_ms = total_response_ms + $3,
			total_cost = total_cost + $4
		WHERE id = $1`,
		versionID, successful, result.DurationMs, result.Cost)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionNotFound
	}
	return nil
}

// GetVersion loads a version by id
func (s *DeploymentStore) GetVersion(ctx context.Context, versionID string) (*domain.DeploymentVersion, error) {
	row := s.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM deployment_versions WHERE id = $1`, versionID)
	return scanVersion(row, domain.ErrVersionNotFound)
}

// GetVersionByNumber loads a workflow's version by its number
func (s *DeploymentStore) GetVersionByNumber(ctx context.Context, workflowID string, number int) (*domain.DeploymentVersion, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM deployment_versions WHERE workflow_id = $1 AND version_number = $2`,
		workflowID, number)
	return scanVersion(row, domain.ErrVersionNotFound)
}

// ActiveVersion returns the workflow's active version or domain.ErrNotDeployed
func (s *DeploymentStore) ActiveVersion(ctx context.Context, workflowID string) (*domain.DeploymentVersion, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM deployment_versions WHERE workflow_id = $1 AND status = $2`,
		workflowID, domain.VersionStatusActive)
	return scanVersion(row, domain.ErrNotDeployed)
}

// ListVersions returns a workflow's versions, newest first
func (s *DeploymentStore) ListVersions(ctx context.Context, workflowID string) ([]*domain.DeploymentVersion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM deployment_versions WHERE workflow_id = $1 ORDER BY version_number DESC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*domain.DeploymentVersion
	for rows.Next() {
		v, err := scanVersion(rows, domain.ErrVersionNotFound)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// lockWorkflow locks the workflow row, checks the revision and returns the last version number.
func lockWorkflow(ctx context.Context, tx pgx.Tx, workflowID string, expectedRevision int64) (int, error) {
	var revision int64
	var lastVersion int
	err := tx.QueryRow(ctx,
		`SELECT revision, last_version FROM deployment_workflows WHERE workflow_id = $1 FOR UPDATE`,
		workflowID).Scan(&revision, &lastVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrVersionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock workflow: %w", err)
	}
	if revision != expectedRevision {
		return 0, domain.ErrDeploymentConflict
	}
	return lastVersion, nil
}

func scanVersion(row pgx.Row, notFound error) (*domain.DeploymentVersion, error) {
	var v domain.DeploymentVersion
	var graph []byte
	err := row.Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &v.Status, &graph, &v.Description, &v.FailureReason,
		&v.DeployedAt, &v.RolledBackAt, &v.Health.TotalQueries, &v.Health.SuccessfulQueries,
		&v.Health.TotalResponseMs, &v.Health.TotalCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	if err := json.Unmarshal(graph, &v.Graph); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return &v, nil
}

func mapWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrDeploymentConflict
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
