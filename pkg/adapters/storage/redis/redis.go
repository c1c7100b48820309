package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	runKeyPrefix = "nodeai:run:"
	runScanMatch = runKeyPrefix + "*"
)

// RunStore implements ports.RunRepository using Redis. Each run is a JSON
// value with a TTL; a sorted set per workflow, scored by start time, backs
// ListRuns.
type RunStore struct {
	client redis.UniversalClient
	logger *zap.Logger
	ttl    time.Duration
}

// NewRunStore creates a new Redis run store
func NewRunStore(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RunStore {
	return &RunStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveRun persists a run and indexes it under its workflow
func (s *RunStore) SaveRun(ctx context.Context, run *domain.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(run.ID), data, s.ttl)
	if run.WorkflowID != "" {
		index := workflowKey(run.WorkflowID)
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(run.StartedAt.UnixNano()), Member: run.ID})
		pipe.Expire(ctx, index, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	s.logger.Debug("run saved",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)))

	return nil
}

// GetRun retrieves a run by id
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	data, err := s.client.Get(ctx, runKey(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ListRuns returns a workflow's runs, newest first. Index entries whose run
// has expired are pruned.
func (s *RunStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*domain.Run, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	index := workflowKey(workflowID)
	ids, err := s.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*domain.Run, 0, len(ids))
	var expired []any
	for _, id := range ids {
		run, err := s.GetRun(ctx, id)
		if errors.Is(err, domain.ErrRunNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, index, expired...).Err(); err != nil {
			s.logger.Warn("failed to prune run index",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
		}
	}

	return runs, nil
}

// DeleteFinishedBefore scans all runs and deletes finished ones older than cutoff
func (s *RunStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var cursor uint64
	removed := 0

	for {
		var keys []string
		var err error

		keys, cursor, err = s.client.Scan(ctx, cursor, runScanMatch, 100).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			run, err := s.GetRun(ctx, key[len(runKeyPrefix):])
			if err != nil {
				continue
			}
			if !run.IsFinished() || run.FinishedAt == nil || !run.FinishedAt.Before(cutoff) {
				continue
			}

			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			if run.WorkflowID != "" {
				pipe.ZRem(ctx, workflowKey(run.WorkflowID), run.ID)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("failed to delete run: %w", err)
			}
			removed++
		}

		if cursor == 0 {
			break
		}
	}

	return removed, nil
}

func runKey(runID string) string {
	return runKeyPrefix + runID
}

func workflowKey(workflowID string) string {
	return fmt.Sprintf("nodeai:runs:workflow:%s", workflowID)
}
