package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
)

// CredentialStore implements ports.CredentialRepository and
// ports.WebhookRepository in memory.
type CredentialStore struct {
	mu       sync.RWMutex
	keys     map[string]domain.Credential
	webhooks map[string]domain.Webhook
}

// NewCredentialStore creates a new in-memory credential store
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		keys:     make(map[string]domain.Credential),
		webhooks: make(map[string]domain.Webhook),
	}
}

// CreateCredential stores a new API key
func (s *CredentialStore) CreateCredential(ctx context.Context, c *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[c.KeyID] = *c
	return nil
}

// GetCredential returns a copy of an API key
func (s *CredentialStore) GetCredential(ctx context.Context, keyID string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.keys[keyID]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &c, nil
}

// UpdateCredential replaces an existing API key
func (s *CredentialStore) UpdateCredential(ctx context.Context, c *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[c.KeyID]; !ok {
		return domain.ErrCredentialNotFound
	}
	s.keys[c.KeyID] = *c
	return nil
}

// TouchCredential records a key's last use if the key is still active
func (s *CredentialStore) TouchCredential(ctx context.Context, keyID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.keys[keyID]
	if !ok || !c.IsActive {
		return domain.ErrInvalidCredential
	}
	c.LastUsedAt = &at
	s.keys[keyID] = c
	return nil
}

// CreateWebhook stores a new webhook
func (s *CredentialStore) CreateWebhook(ctx context.Context, w *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks[w.ID] = *w
	return nil
}

// GetWebhook returns a copy of a webhook
func (s *CredentialStore) GetWebhook(ctx context.Context, webhookID string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.webhooks[webhookID]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return &w, nil
}

// UpdateWebhook replaces an existing webhook
func (s *CredentialStore) UpdateWebhook(ctx context.Context, w *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhooks[w.ID]; !ok {
		return domain.ErrWebhookNotFound
	}
	s.webhooks[w.ID] = *w
	return nil
}

// TouchWebhook records a webhook's last call if the webhook is still enabled
func (s *CredentialStore) TouchWebhook(ctx context.Context, webhookID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.webhooks[webhookID]
	if !ok || !w.Enabled {
		return domain.ErrInvalidCredential
	}
	w.LastCalled = &at
	s.webhooks[webhookID] = w
	return nil
}
