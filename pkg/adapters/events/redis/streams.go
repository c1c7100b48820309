package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamMirror copies run events into one Redis stream per run so they can
// be replayed after the in-memory topic is gone. Appends are queued and
// written by a background goroutine; a full queue drops the event.
type StreamMirror struct {
	client redis.UniversalClient
	logger *zap.Logger
	maxLen int64
	ttl    time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan domain.RunEvent
	wg     sync.WaitGroup
}

// NewStreamMirror creates a new Redis Streams event mirror
func NewStreamMirror(client redis.UniversalClient, maxLen int64, ttl time.Duration, queueSize int, logger *zap.Logger) *StreamMirror {
	if queueSize < 1 {
		queueSize = 1024
	}
	return &StreamMirror{
		client: client,
		logger: logger,
		maxLen: maxLen,
		ttl:    ttl,
		queue:  make(chan domain.RunEvent, queueSize),
	}
}

// Start launches the writer goroutine.
func (m *StreamMirror) Start() {
	m.wg.Add(1)
	go m.run()
}

// Append queues an event for writing. It never blocks.
func (m *StreamMirror) Append(event domain.RunEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- event:
	default:
		m.logger.Warn("event mirror queue full, dropping event",
			zap.String("run_id", event.RunID),
			zap.Uint64("sequence", event.Sequence))
	}
}

func (m *StreamMirror) run() {
	defer m.wg.Done()
	for event := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.write(ctx, event); err != nil {
			m.logger.Error("failed to mirror event",
				zap.String("run_id", event.RunID),
				zap.Uint64("sequence", event.Sequence),
				zap.Error(err))
		}
		cancel()
	}
}

func (m *StreamMirror) write(ctx context.Context, event domain.RunEvent) error {
	streamKey := getStreamKey(event.RunID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": string(event.Type),
			"data": string(data),
		},
	})
	if m.ttl > 0 {
		pipe.Expire(ctx, streamKey, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	m.logger.Debug("event mirrored",
		zap.String("run_id", event.RunID),
		zap.String("type", string(event.Type)),
		zap.String("stream", streamKey))

	return nil
}

// History returns the mirrored events of a run in publish order.
func (m *StreamMirror) History(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	messages, err := m.client.XRange(ctx, getStreamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	events := make([]domain.RunEvent, 0, len(messages))
	for _, message := range messages {
		data, ok := message.Values["data"].(string)
		if !ok {
			m.logger.Error("invalid message format",
				zap.String("run_id", runID),
				zap.String("message_id", message.ID))
			continue
		}

		var event domain.RunEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			m.logger.Error("failed to unmarshal event",
				zap.String("run_id", runID),
				zap.String("message_id", message.ID),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// Close flushes queued events and stops the writer.
func (m *StreamMirror) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

func getStreamKey(runID string) string {
	return fmt.Sprintf("nodeai:events:run:%s", runID)
}
