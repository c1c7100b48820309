package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mettice/nodeai/pkg/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "nodeai:quota:"
	dayTTL    = 48 * time.Hour
)

// admitScript checks the rate window and the cost budget and, only when both
// pass, increments the counters and records the reservation.
//
// KEYS: rate, cost, usage, day
// ARGV: count_request, rate_limit (-1 = none), rate_ttl_ms, reserve,
// cost_limit (-1 = none), period_ttl_ms, day_ttl_ms
var admitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local spent = tonumber(redis.call('HGET', KEYS[2], 'spent') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[2], 'reserved') or '0')
local count_request = tonumber(ARGV[1])
local rate_limit = tonumber(ARGV[2])
local reserve = tonumber(ARGV[4])
local cost_limit = tonumber(ARGV[5])

if count_request == 1 and rate_limit >= 0 and count >= rate_limit then
  return {0, 'rate_limit', count, spent, reserved}
end

if cost_limit >= 0 then
  local used = spent + reserved
  if used >= cost_limit or used + reserve > cost_limit then
    return {0, 'cost_limit', count, spent, reserved}
  end
end

if count_request == 1 then
  count = redis.call('INCR', KEYS[1])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  redis.call('HINCRBY', KEYS[3], 'requests', 1)
  redis.call('HINCRBY', KEYS[4], 'requests', 1)
  redis.call('PEXPIRE', KEYS[4], ARGV[7])
end

if reserve > 0 then
  reserved = redis.call('HINCRBY', KEYS[2], 'reserved', reserve)
  redis.call('PEXPIRE', KEYS[2], ARGV[6])
end

return {1, '', count, spent, reserved}
`)

// settleScript releases a reservation and charges the actual cost.
//
// KEYS: cost, usage, day
// ARGV: reserved, actual, period_ttl_ms, day_ttl_ms
var settleScript = redis.NewScript(`
local reserved = tonumber(ARGV[1])
local actual = tonumber(ARGV[2])

if reserved > 0 and redis.call('EXISTS', KEYS[1]) == 1 then
  local left = redis.call('HINCRBY', KEYS[1], 'reserved', -reserved)
  if left < 0 then
    redis.call('HSET', KEYS[1], 'reserved', 0)
  end
end

if actual > 0 then
  redis.call('HINCRBY', KEYS[1], 'spent', actual)
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  redis.call('HINCRBY', KEYS[2], 'micros', actual)
  redis.call('HINCRBY', KEYS[3], 'micros', actual)
  redis.call('PEXPIRE', KEYS[3], ARGV[4])
end

return 1
`)

// Store implements ports.QuotaStore on Redis. Admit and Settle each run as a
// single Lua script, so they are atomic across every process sharing the
// Redis instance.
type Store struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewStore creates a new Redis quota store
func NewStore(client redis.UniversalClient, logger *zap.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Admit checks and increments the subject's counters in one step
func (s *Store) Admit(ctx context.Context, req ports.QuotaAdmit) (*ports.QuotaAdmitResult, error) {
	keys := []string{
		rateKey(req.SubjectID, req.RateWindow),
		costKey(req.SubjectID, req.Period),
		usageKey(req.SubjectID),
		dayKey(req.SubjectID, req.Day),
	}

	countRequest := 0
	if req.CountRequest {
		countRequest = 1
	}

	raw, err := admitScript.Run(ctx, s.client, keys,
		countRequest,
		limitArg(req.RateLimit),
		req.RateTTL.Milliseconds(),
		req.ReserveMicros,
		limitArg(req.CostLimit),
		req.PeriodTTL.Milliseconds(),
		dayTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run admit script: %w", err)
	}
	if len(raw) != 5 {
		return nil, fmt.Errorf("unexpected admit script reply: %v", raw)
	}

	reason, _ := raw[1].(string)
	return &ports.QuotaAdmitResult{
		Allowed:        toInt64(raw[0]) == 1,
		Reason:         reason,
		WindowCount:    toInt64(raw[2]),
		SpentMicros:    toInt64(raw[3]),
		ReservedMicros: toInt64(raw[4]),
	}, nil
}

// Settle releases a reservation and charges the actual cost
func (s *Store) Settle(ctx context.Context, req ports.QuotaSettle) error {
	keys := []string{
		costKey(req.SubjectID, req.Period),
		usageKey(req.SubjectID),
		dayKey(req.SubjectID, req.Day),
	}

	err := settleScript.Run(ctx, s.client, keys,
		req.ReservedMicros,
		req.ActualMicros,
		req.PeriodTTL.Milliseconds(),
		dayTTL.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to run settle script: %w", err)
	}
	return nil
}

// Counters reads the subject's counters for the given window, period and day
func (s *Store) Counters(ctx context.Context, subjectID string, window, period int64, day string) (*ports.QuotaCounters, error) {
	pipe := s.client.Pipeline()
	rate := pipe.Get(ctx, rateKey(subjectID, window))
	cost := pipe.HGetAll(ctx, costKey(subjectID, period))
	usage := pipe.HGetAll(ctx, usageKey(subjectID))
	today := pipe.HGetAll(ctx, dayKey(subjectID, day))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read quota counters: %w", err)
	}

	windowCount, _ := rate.Int64()
	return &ports.QuotaCounters{
		TotalRequests:  field(usage.Val(), "requests"),
		TotalMicros:    field(usage.Val(), "micros"),
		DayRequests:    field(today.Val(), "requests"),
		DayMicros:      field(today.Val(), "micros"),
		WindowCount:    windowCount,
		SpentMicros:    field(cost.Val(), "spent"),
		ReservedMicros: field(cost.Val(), "reserved"),
	}, nil
}

func rateKey(subjectID string, window int64) string {
	return keyPrefix + subjectID + ":rate:" + strconv.FormatInt(window, 10)
}

func costKey(subjectID string, period int64) string {
	return keyPrefix + subjectID + ":cost:" + strconv.FormatInt(period, 10)
}

func usageKey(subjectID string) string {
	return keyPrefix + subjectID + ":usage"
}

func dayKey(subjectID, day string) string {
	return keyPrefix + subjectID + ":day:" + day
}

func limitArg(limit *int64) int64 {
	if limit == nil {
		return -1
	}
	return *limit
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}

func field(m map[string]string, name string) int64 {
	v, err := strconv.ParseInt(m[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
