package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mettice/nodeai/pkg/domain"
)

// CredentialStore implements ports.CredentialRepository and
// ports.WebhookRepository in PostgreSQL.
type CredentialStore struct {
	db *pgxpool.Pool
}

// NewCredentialStore creates a new Postgres credential store
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{db: pool}
}

// CreateCredential inserts a new API key
func (s *CredentialStore) CreateCredential(ctx context.Context, c *domain.Credential) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO credentials (key_id, workflow_id, name, digest, rate_limit, cost_limit, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.KeyID, c.WorkflowID, c.Name, c.Digest, c.RateLimit, c.CostLimit, c.IsActive, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// GetCredential loads an API key by id
func (s *CredentialStore) GetCredential(ctx context.Context, keyID string) (*domain.Credential, error) {
	var c domain.Credential
	err := s.db.QueryRow(ctx, `
		SELECT key_id, workflow_id, name, digest, rate_limit, cost_limit, is_active, created_at, last_used_at
		FROM credentials WHERE key_id = $1`, keyID).
		Scan(&c.KeyID, &c.WorkflowID, &c.Name, &c.Digest, &c.RateLimit, &c.CostLimit, &c.IsActive,
			&c.CreatedAt, &c.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

// UpdateCredential rewrites an API key's mutable columns
func (s *CredentialStore) UpdateCredential(ctx context.Context, c *domain.Credential) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE credentials
		SET name = $2, rate_limit = $3, cost_limit = $4, is_active = $5, last_used_at = $6
		WHERE key_id = $1`,
		c.KeyID, c.Name, c.RateLimit, c.CostLimit, c.IsActive, c.LastUsedAt)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

// TouchCredential sets last_used_at without touching any other column. The
// update only matches an active key.
func (s *CredentialStore) TouchCredential(ctx context.Context, keyID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE credentials SET last_used_at = $2 WHERE key_id = $1 AND is_active`,
		keyID, at)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidCredential
	}
	return nil
}

// CreateWebhook inserts a new webhook
func (s *CredentialStore) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhooks (id, workflow_id, digest, enabled, rate_limit, cost_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		w.ID, w.WorkflowID, w.Digest, w.Enabled, w.RateLimit, w.CostLimit, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

// GetWebhook loads a webhook by id
func (s *CredentialStore) GetWebhook(ctx context.Context, webhookID string) (*domain.Webhook, error) {
	var w domain.Webhook
	err := s.db.QueryRow(ctx, `
		SELECT id, workflow_id, digest, enabled, rate_limit, cost_limit, created_at, last_called
		FROM webhooks WHERE id = $1`, webhookID).
		Scan(&w.ID, &w.WorkflowID, &w.Digest, &w.Enabled, &w.RateLimit, &w.CostLimit, &w.CreatedAt, &w.LastCalled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return &w, nil
}

// UpdateWebhook rewrites a webhook's mutable columns
func (s *CredentialStore) UpdateWebhook(ctx context.Context, w *domain.Webhook) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE webhooks
		SET enabled = $2, rate_limit = $3, cost_limit = $4, last_called = $5
		WHERE id = $1`,
		w.ID, w.Enabled, w.RateLimit, w.CostLimit, w.LastCalled)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

// TouchWebhook sets last_called without touching any other column. The update
// only matches an enabled webhook.
func (s *CredentialStore) TouchWebhook(ctx context.Context, webhookID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE webhooks SET last_called = $2 WHERE id = $1 AND enabled`,
		webhookID, at)
	if err != nil {
		return fmt.Errorf("failed to touch webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidCredential
	}
	return nil
}
