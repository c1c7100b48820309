package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefix = "nai_"

// Service issues and verifies API keys and webhook secrets. Plaintext
// secrets are returned once at creation; only bcrypt digests are stored.
type Service struct {
	keys   ports.CredentialRepository
	hooks  ports.WebhookRepository
	logger *zap.Logger
	cost   int
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// NewService creates a credential service
func NewService(keys ports.CredentialRepository, hooks ports.WebhookRepository, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		keys:   keys,
		hooks:  hooks,
		logger: logger,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// KeyRequest describes a new API key.
type KeyRequest struct {
	WorkflowID string
	Name       string
	RateLimit  *int64
	CostLimit  *float64
}

// CreateKey issues a key of the form nai_<keyID>_<secret>.
func (s *Service) CreateKey(ctx context.Context, req KeyRequest) (*domain.Credential, string, error) {
	keyID, err := randomHex(8)
	if err != nil {
		return nil, "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key: %w", err)
	}

	c := &domain.Credential{
		KeyID:      keyID,
		WorkflowID: req.WorkflowID,
		Name:       req.Name,
		Digest:     string(digest),
		RateLimit:  req.RateLimit,
		CostLimit:  req.CostLimit,
		IsActive:   true,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.keys.CreateCredential(ctx, c); err != nil {
		return nil, "", fmt.Errorf("failed to store key: %w", err)
	}

	s.logger.Info("api key created",
		zap.String("key_id", keyID),
		zap.String("workflow_id", req.WorkflowID))

	return c, keyPrefix + keyID + "_" + secret, nil
}

// Authenticate verifies a plaintext key. Any mismatch, including an unknown
// or revoked key, is domain.ErrInvalidCredential.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*domain.Credential, error) {
	keyID, secret, ok := parseKey(plaintext)
	if !ok {
		return nil, domain.ErrInvalidCredential
	}

	c, err := s.keys.GetCredential(ctx, keyID)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		return nil, domain.ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key: %w", err)
	}
	if !c.IsActive {
		return nil, domain.ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.Digest), []byte(secret)); err != nil {
		return nil, domain.ErrInvalidCredential
	}

	// The touch only matches a key that is still active, so a revoke that
	// lands while the digest is compared wins.
	now := s.now().UTC()
	if err := s.keys.TouchCredential(ctx, keyID, now); err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			return nil, err
		}
		s.logger.Warn("failed to update key last use",
			zap.String("key_id", keyID),
			zap.Error(err))
	}
	c.LastUsedAt = &now
	return c, nil
}

// GetKey returns a key's metadata.
func (s *Service) GetKey(ctx context.Context, keyID string) (*domain.Credential, error) {
	return s.keys.GetCredential(ctx, keyID)
}

// RevokeKey deactivates a key. Revoking twice is not an error.
func (s *Service) RevokeKey(ctx context.Context, keyID string) error {
	c, err := s.keys.GetCredential(ctx, keyID)
	if err != nil {
		return err
	}
	if !c.IsActive {
		return nil
	}
	c.IsActive = false
	if err := s.keys.UpdateCredential(ctx, c); err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	s.logger.Info("api key revoked", zap.String("key_id", keyID))
	return nil
}

// WebhookRequest describes a new webhook.
type WebhookRequest struct {
	WorkflowID string
	RateLimit  *int64
	CostLimit  *float64
}

// CreateWebhook registers a webhook and returns its shared secret.
func (s *Service) CreateWebhook(ctx context.Context, req WebhookRequest) (*domain.Webhook, string, error) {
	secret, err := randomHex(24)
	if err != nil {
		return nil, "", err
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash webhook secret: %w", err)
	}

	w := &domain.Webhook{
		ID:         uuid.New().String(),
		WorkflowID: req.WorkflowID,
		Digest:     string(digest),
		Enabled:    true,
		RateLimit:  req.RateLimit,
		CostLimit:  req.CostLimit,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.hooks.CreateWebhook(ctx, w); err != nil {
		return nil, "", fmt.Errorf("failed to store webhook: %w", err)
	}

	s.logger.Info("webhook created",
		zap.String("webhook_id", w.ID),
		zap.String("workflow_id", w.WorkflowID))

	return w, secret, nil
}

// AuthenticateWebhook verifies a webhook call. Unknown webhooks return
// domain.ErrWebhookNotFound; a wrong secret or a disabled webhook returns
// domain.ErrInvalidCredential.
func (s *Service) AuthenticateWebhook(ctx context.Context, webhookID, secret string) (*domain.Webhook, error) {
	w, err := s.hooks.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	if !w.Enabled {
		return nil, domain.ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(w.Digest), []byte(secret)); err != nil {
		return nil, domain.ErrInvalidCredential
	}

	now := s.now().UTC()
	if err := s.hooks.TouchWebhook(ctx, webhookID, now); err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			return nil, err
		}
		s.logger.Warn("failed to update webhook last call",
			zap.String("webhook_id", webhookID),
			zap.Error(err))
	}
	w.LastCalled = &now
	return w, nil
}

// GetWebhook returns a webhook's metadata.
func (s *Service) GetWebhook(ctx context.Context, webhookID string) (*domain.Webhook, error) {
	return s.hooks.GetWebhook(ctx, webhookID)
}

// DisableWebhook stops a webhook from triggering runs.
func (s *Service) DisableWebhook(ctx context.Context, webhookID string) error {
	w, err := s.hooks.GetWebhook(ctx, webhookID)
	if err != nil {
		return err
	}
	w.Enabled = false
	if err := s.hooks.UpdateWebhook(ctx, w); err != nil {
		return fmt.Errorf("failed to disable webhook: %w", err)
	}
	return nil
}

func parseKey(plaintext string) (keyID, secret string, ok bool) {
	rest, found := strings.CutPrefix(plaintext, keyPrefix)
	if !found {
		return "", "", false
	}
	keyID, secret, found = strings.Cut(rest, "_")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
