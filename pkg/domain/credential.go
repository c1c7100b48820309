package domain

import "time"

// Credential is an API key. Only a digest of the secret part is stored.
type Credential struct {
	KeyID      string     `json:"key_id"`
	WorkflowID string     `json:"workflow_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Digest     string     `json:"-"`
	RateLimit  *int64     `json:"rate_limit,omitempty"`
	CostLimit  *float64   `json:"cost_limit,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Subject returns the quota identity metered for this key.
func (c *Credential) Subject() *QuotaSubject {
	return &QuotaSubject{ID: "key:" + c.KeyID, RateLimit: c.RateLimit, CostLimit: c.CostLimit}
}

// Webhook is an externally reachable trigger bound to one workflow.
type Webhook struct {
	ID         string     `json:"webhook_id"`
	WorkflowID string     `json:"workflow_id"`
	Digest     string     `json:"-"`
	Enabled    bool       `json:"enabled"`
	RateLimit  *int64     `json:"rate_limit,omitempty"`
	CostLimit  *float64   `json:"cost_limit,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastCalled *time.Time `json:"last_called_at,omitempty"`
}

// Subject returns the quota identity metered for this webhook.
func (w *Webhook) Subject() *QuotaSubject {
	return &QuotaSubject{ID: "webhook:" + w.ID, RateLimit: w.RateLimit, CostLimit: w.CostLimit}
}
