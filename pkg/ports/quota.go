package ports

import (
	"context"
	"time"
)

// QuotaAdmit is one atomic check-and-increment against a subject's counters.
// Limits are nil when unlimited. Costs are integer micro-dollars.
type QuotaAdmit struct {
	SubjectID string

	// CountRequest increments the rate window counter and request totals.
	CountRequest bool
	RateLimit    *int64
	RateWindow   int64
	RateTTL      time.Duration

	// ReserveMicros is held against the billing period when the check passes.
	ReserveMicros int64
	CostLimit     *int64
	Period        int64
	PeriodTTL     time.Duration

	Day string
}

// QuotaAdmitResult reports the outcome of QuotaAdmit.
type QuotaAdmitResult struct {
	Allowed bool
	Reason  string

	// WindowCount is the rate counter after the call.
	WindowCount int64

	SpentMicros    int64
	ReservedMicros int64
}

// QuotaSettle releases a reservation and charges the actual cost.
type QuotaSettle struct {
	SubjectID      string
	Period         int64
	ReservedMicros int64
	ActualMicros   int64
	Day            string
	PeriodTTL      time.Duration
}

// QuotaCounters is the raw state of a subject's counters.
type QuotaCounters struct {
	TotalRequests  int64
	TotalMicros    int64
	DayRequests    int64
	DayMicros      int64
	WindowCount    int64
	SpentMicros    int64
	ReservedMicros int64
}

// QuotaStore keeps quota counters. Admit and Settle are atomic per subject and
// are the only operations that mutate counters.
type QuotaStore interface {
	Admit(ctx context.Context, req QuotaAdmit) (*QuotaAdmitResult, error)
	Settle(ctx context.Context, req QuotaSettle) error
	Counters(ctx context.Context, subjectID string, window, period int64, day string) (*QuotaCounters, error)
}
