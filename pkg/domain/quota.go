package domain

import "time"

// QuotaSubject is the identity quota is metered against.
// A nil limit means unlimited.
type QuotaSubject struct {
	ID        string   `json:"id"`
	RateLimit *int64   `json:"rate_limit,omitempty"`
	CostLimit *float64 `json:"cost_limit,omitempty"`
}

// Deny reasons.
const (
	QuotaReasonRateLimit = "rate_limit"
	QuotaReasonCostLimit = "cost_limit"
)

// QuotaDecision is the result of a quota check.
type QuotaDecision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	// Limit and Remaining describe the rate window; Limit is 0 when unlimited.
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Usage is the counters view returned by the usage API.
type Usage struct {
	SubjectID      string    `json:"subject_id"`
	TotalRequests  int64     `json:"total_requests"`
	TotalCost      float64   `json:"total_cost"`
	TodayRequests  int64     `json:"today_requests"`
	TodayCost      float64   `json:"today_cost"`
	WindowRequests int64     `json:"window_requests"`
	PeriodSpent    float64   `json:"period_spent"`
	PeriodReserved float64   `json:"period_reserved"`
	RateLimit      *int64    `json:"rate_limit,omitempty"`
	CostLimit      *float64  `json:"cost_limit,omitempty"`
	WindowResetAt  time.Time `json:"window_reset_at"`
}
