package quota

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"go.uber.org/zap"
)

const dayFormat = "20060102"

// Enforcer applies rate and cost limits to quota subjects. Windows are fixed
// and aligned to the Unix epoch. Costs are converted to integer micro-dollars
// before they reach the store.
type Enforcer struct {
	store      ports.QuotaStore
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	rateWindow time.Duration
	period     time.Duration
	now        func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer creates a quota enforcer
func NewEnforcer(
	store ports.QuotaStore,
	metrics ports.MetricsCollector,
	rateWindow, billingPeriod time.Duration,
	logger *zap.Logger,
	opts ...Option,
) *Enforcer {
	e := &Enforcer{
		store:      store,
		metrics:    metrics,
		logger:     logger,
		rateWindow: rateWindow,
		period:     billingPeriod,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reservation is predicted cost held against a billing period until settled.
type Reservation struct {
	SubjectID string
	Period    int64
	Micros    int64
	settled   atomic.Bool
}

// Admit counts one request against the subject's rate window and checks the
// predicted cost against the remaining budget, atomically. A denial returns
// the decision together with a *domain.QuotaExceededError.
func (e *Enforcer) Admit(ctx context.Context, subject *domain.QuotaSubject, predictedCost float64) (*domain.QuotaDecision, *Reservation, error) {
	return e.check(ctx, subject, predictedCost, true)
}

// Reserve holds predicted cost for one billed call without counting a request.
func (e *Enforcer) Reserve(ctx context.Context, subject *domain.QuotaSubject, predictedCost float64) (*Reservation, error) {
	_, res, err := e.check(ctx, subject, predictedCost, false)
	return res, err
}

func (e *Enforcer) check(ctx context.Context, subject *domain.QuotaSubject, predictedCost float64, countRequest bool) (*domain.QuotaDecision, *Reservation, error) {
	now := e.now()
	window := windowIndex(now, e.rateWindow)
	period := windowIndex(now, e.period)
	resetAt := windowEnd(window, e.rateWindow)

	req := ports.QuotaAdmit{
		SubjectID:     subject.ID,
		CountRequest:  countRequest,
		RateLimit:     subject.RateLimit,
		RateWindow:    window,
		RateTTL:       resetAt.Sub(now) + time.Second,
		ReserveMicros: toMicros(predictedCost),
		Period:        period,
		PeriodTTL:     windowEnd(period, e.period).Sub(now) + time.Hour,
		Day:           now.UTC().Format(dayFormat),
	}
	if subject.CostLimit != nil {
		limit := toMicros(*subject.CostLimit)
		req.CostLimit = &limit
	}

	result, err := e.store.Admit(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check quota: %w", err)
	}

	decision := &domain.QuotaDecision{
		Allowed: result.Allowed,
		Reason:  result.Reason,
		ResetAt: resetAt,
	}
	if subject.RateLimit != nil {
		decision.Limit = *subject.RateLimit
		decision.Remaining = max(*subject.RateLimit-result.WindowCount, 0)
	}

	if !result.Allowed {
		if result.Reason == domain.QuotaReasonRateLimit {
			decision.RetryAfter = resetAt.Sub(now)
		}
		e.metrics.RecordQuotaDenied(result.Reason)
		e.logger.Info("quota denied",
			zap.String("subject_id", subject.ID),
			zap.String("reason", result.Reason),
			zap.Float64("predicted_cost", predictedCost),
			zap.Int64("spent_micros", result.SpentMicros),
			zap.Int64("reserved_micros", result.ReservedMicros))
		return decision, nil, &domain.QuotaExceededError{SubjectID: subject.ID, Decision: *decision}
	}

	return decision, &Reservation{SubjectID: subject.ID, Period: period, Micros: req.ReserveMicros}, nil
}

// Settle releases a reservation and charges the actual cost to the period the
// reservation was made in. Settling twice is a no-op.
func (e *Enforcer) Settle(ctx context.Context, res *Reservation, actualCost float64) error {
	if res == nil || !res.settled.CompareAndSwap(false, true) {
		return nil
	}

	err := e.store.Settle(ctx, ports.QuotaSettle{
		SubjectID:      res.SubjectID,
		Period:         res.Period,
		ReservedMicros: res.Micros,
		ActualMicros:   toMicros(actualCost),
		Day:            e.now().UTC().Format(dayFormat),
		PeriodTTL:      windowEnd(res.Period, e.period).Sub(e.now()) + time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to settle quota reservation: %w", err)
	}
	return nil
}

// Charge records cost that was incurred without a reservation.
func (e *Enforcer) Charge(ctx context.Context, subject *domain.QuotaSubject, cost float64) error {
	res := &Reservation{SubjectID: subject.ID, Period: windowIndex(e.now(), e.period)}
	return e.Settle(ctx, res, cost)
}

// Usage returns the subject's counters for the current window, period and day.
func (e *Enforcer) Usage(ctx context.Context, subject *domain.QuotaSubject) (*domain.Usage, error) {
	now := e.now()
	window := windowIndex(now, e.rateWindow)

	c, err := e.store.Counters(ctx, subject.ID, window, windowIndex(now, e.period), now.UTC().Format(dayFormat))
	if err != nil {
		return nil, fmt.Errorf("failed to load quota counters: %w", err)
	}

	return &domain.Usage{
		SubjectID:      subject.ID,
		TotalRequests:  c.TotalRequests,
		TotalCost:      fromMicros(c.TotalMicros),
		TodayRequests:  c.DayRequests,
		TodayCost:      fromMicros(c.DayMicros),
		WindowRequests: c.WindowCount,
		PeriodSpent:    fromMicros(c.SpentMicros),
		PeriodReserved: fromMicros(c.ReservedMicros),
		RateLimit:      subject.RateLimit,
		CostLimit:      subject.CostLimit,
		WindowResetAt:  windowEnd(window, e.rateWindow),
	}, nil
}

func windowIndex(t time.Time, size time.Duration) int64 {
	return t.UnixNano() / int64(size)
}

func windowEnd(index int64, size time.Duration) time.Time {
	return time.Unix(0, (index+1)*int64(size))
}

func toMicros(cost float64) int64 {
	if cost <= 0 {
		return 0
	}
	return int64(math.Round(cost * 1e6))
}

func fromMicros(micros int64) float64 {
	return float64(micros) / 1e6
}
