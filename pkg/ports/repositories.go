package ports

import (
	"context"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
)

// RunRepository persists run records.
type RunRepository interface {
	// SaveRun creates or replaces a run.
	SaveRun(ctx context.Context, run *domain.Run) error

	// GetRun returns domain.ErrRunNotFound when the run does not exist.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)

	// ListRuns returns the most recent runs of a workflow, newest first.
	ListRuns(ctx context.Context, workflowID string, limit int) ([]*domain.Run, error)

	// DeleteFinishedBefore removes finished runs older than cutoff and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// DeploymentRepository persists deployment versions. Writes carry the
// workflow revision the caller read; a stale revision returns
// domain.ErrDeploymentConflict. At most one version per workflow is active.
type DeploymentRepository interface {
	// Revision returns the current revision of a workflow's version set (0 when none).
	Revision(ctx context.Context, workflowID string) (int64, error)

	// CreateVersion assigns the next version number, stores the version and,
	// when it is active, deactivates the previously active version.
	CreateVersion(ctx context.Context, v *domain.DeploymentVersion, expectedRevision int64) error

	// ApplyStatus applies status changes to versions of one workflow atomically.
	ApplyStatus(ctx context.Context, workflowID string, expectedRevision int64, changes []domain.StatusChange) error

	// AddOutcome adds one run result to a version's health counters.
	AddOutcome(ctx context.Context, versionID string, result domain.RunResult) error

	GetVersion(ctx context.Context, versionID string) (*domain.DeploymentVersion, error)
	GetVersionByNumber(ctx context.Context, workflowID string, number int) (*domain.DeploymentVersion, error)
	ActiveVersion(ctx context.Context, workflowID string) (*domain.DeploymentVersion, error)

	// ListVersions returns versions newest first.
	ListVersions(ctx context.Context, workflowID string) ([]*domain.DeploymentVersion, error)
}

// CredentialRepository persists API keys.
type CredentialRepository interface {
	CreateCredential(ctx context.Context, c *domain.Credential) error
	GetCredential(ctx context.Context, keyID string) (*domain.Credential, error)
	UpdateCredential(ctx context.Context, c *domain.Credential) error

	// TouchCredential sets only the key's last-use time, and only while the key
	// is active. A missing or revoked key returns domain.ErrInvalidCredential.
	TouchCredential(ctx context.Context, keyID string, at time.Time) error
}

// WebhookRepository persists webhooks.
type WebhookRepository interface {
	CreateWebhook(ctx context.Context, w *domain.Webhook) error
	GetWebhook(ctx context.Context, webhookID string) (*domain.Webhook, error)
	UpdateWebhook(ctx context.Context, w *domain.Webhook) error

	// TouchWebhook sets only the webhook's last-call time, and only while it is
	// enabled. A missing or disabled webhook returns domain.ErrInvalidCredential.
	TouchWebhook(ctx context.Context, webhookID string, at time.Time) error
}
