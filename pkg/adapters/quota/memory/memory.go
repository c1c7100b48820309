package memory

import (
	"context"
	"sync"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
)

type subjectCounters struct {
	window      int64
	windowCount int64

	period   int64
	spent    int64
	reserved int64

	day         string
	dayRequests int64
	dayMicros   int64

	totalRequests int64
	totalMicros   int64
}

// Store implements ports.QuotaStore in memory. Every operation holds one
// mutex, which makes check-and-increment atomic within the process.
type Store struct {
	mu       sync.Mutex
	subjects map[string]*subjectCounters
}

// NewStore creates a new in-memory quota store
func NewStore() *Store {
	return &Store{subjects: make(map[string]*subjectCounters)}
}

// counters returns the subject's counters rolled forward to the given
// window, period and day. Callers hold s.mu.
func (s *Store) counters(subjectID string, window, period int64, day string) *subjectCounters {
	c, ok := s.subjects[subjectID]
	if !ok {
		c = &subjectCounters{window: window, period: period, day: day}
		s.subjects[subjectID] = c
	}
	if c.window != window {
		c.window, c.windowCount = window, 0
	}
	if c.period != period {
		c.period, c.spent, c.reserved = period, 0, 0
	}
	if c.day != day {
		c.day, c.dayRequests, c.dayMicros = day, 0, 0
	}
	return c
}

// Admit checks and increments the subject's counters in one step
func (s *Store) Admit(ctx context.Context, req ports.QuotaAdmit) (*ports.QuotaAdmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters(req.SubjectID, req.RateWindow, req.Period, req.Day)
	result := &ports.QuotaAdmitResult{
		WindowCount:    c.windowCount,
		SpentMicros:    c.spent,
		ReservedMicros: c.reserved,
	}

	if req.CountRequest && req.RateLimit != nil && c.windowCount >= *req.RateLimit {
		result.Reason = domain.QuotaReasonRateLimit
		return result, nil
	}
	if req.CostLimit != nil {
		used := c.spent + c.reserved
		if used >= *req.CostLimit || used+req.ReserveMicros > *req.CostLimit {
			result.Reason = domain.QuotaReasonCostLimit
			return result, nil
		}
	}

	if req.CountRequest {
		c.windowCount++
		c.dayRequests++
		c.totalRequests++
	}
	c.reserved += req.ReserveMicros

	result.Allowed = true
	result.WindowCount = c.windowCount
	result.ReservedMicros = c.reserved
	return result, nil
}

// Settle releases a reservation and charges the actual cost
func (s *Store) Settle(ctx context.Context, req ports.QuotaSettle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.subjects[req.SubjectID]
	if !ok {
		c = &subjectCounters{period: req.Period, day: req.Day}
		s.subjects[req.SubjectID] = c
	}

	if req.Period > c.period {
		c.period, c.spent, c.reserved = req.Period, 0, 0
	}
	// A reservation from an elapsed period no longer counts against anything.
	if c.period == req.Period {
		c.reserved = max(c.reserved-req.ReservedMicros, 0)
		c.spent += req.ActualMicros
	}
	if c.day != req.Day {
		c.day, c.dayRequests, c.dayMicros = req.Day, 0, 0
	}
	c.dayMicros += req.ActualMicros
	c.totalMicros += req.ActualMicros
	return nil
}

// Counters reads the subject's counters for the given window, period and day
func (s *Store) Counters(ctx context.Context, subjectID string, window, period int64, day string) (*ports.QuotaCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters(subjectID, window, period, day)
	return &ports.QuotaCounters{
		TotalRequests:  c.totalRequests,
		TotalMicros:    c.totalMicros,
		DayRequests:    c.dayRequests,
		DayMicros:      c.dayMicros,
		WindowCount:    c.windowCount,
		SpentMicros:    c.spent,
		ReservedMicros: c.reserved,
	}, nil
}
