package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mettice/nodeai/pkg/domain"
	"github.com/mettice/nodeai/pkg/ports"
	"go.uber.org/zap"
)

// Broker implements ports.EventPublisher in memory with one topic per run.
// Each subscriber owns a bounded channel; a subscriber whose channel is full
// is dropped instead of blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic

	buffer  int
	linger  time.Duration
	sinks   []ports.EventSink
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

type topic struct {
	mu       sync.Mutex
	snapshot domain.RunSnapshot
	subs     map[uint64]*subscriber
	nextID   uint64
	closed   bool
}

type subscriber struct {
	ch     chan domain.RunEvent
	err    error
	closed bool
}

// NewBroker creates a new in-memory event broker
func NewBroker(buffer int, linger time.Duration, metrics ports.MetricsCollector, logger *zap.Logger, sinks ...ports.EventSink) *Broker {
	if buffer < 1 {
		buffer = 1
	}
	return &Broker{
		topics:  make(map[string]*topic),
		buffer:  buffer,
		linger:  linger,
		sinks:   sinks,
		metrics: metrics,
		logger:  logger,
	}
}

// Open registers a run with its initial snapshot.
func (b *Broker) Open(runID string, snapshot domain.RunSnapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[runID] = &topic{
		snapshot: snapshot.Clone(),
		subs:     make(map[uint64]*subscriber),
	}
}

// Publish folds the event into the run's snapshot and offers it to every
// subscriber without blocking.
func (b *Broker) Publish(runID string, event domain.RunEvent) {
	t := b.topic(runID)
	if t == nil {
		b.logger.Warn("publish to unknown run", zap.String("run_id", runID))
		return
	}

	dropped := 0
	t.mu.Lock()
	if !t.closed {
		t.snapshot.Apply(event)
		for id, sub := range t.subs {
			select {
			case sub.ch <- event:
			default:
				sub.err = domain.ErrSubscriberOverflow
				sub.closed = true
				close(sub.ch)
				delete(t.subs, id)
				dropped++
			}
		}
	}
	t.mu.Unlock()

	for i := 0; i < dropped; i++ {
		b.metrics.RecordSubscriberDropped()
	}
	if dropped > 0 {
		b.logger.Warn("dropped slow subscribers",
			zap.String("run_id", runID),
			zap.Int("count", dropped))
	}

	for _, sink := range b.sinks {
		sink.Append(event)
	}
}

// Subscribe registers a subscriber. The returned snapshot and the start of
// the event channel are taken under the same lock, so nothing is missed or
// delivered twice. A finished run yields its final snapshot and a closed
// channel until it is forgotten.
func (b *Broker) Subscribe(ctx context.Context, runID string) (*ports.Subscription, error) {
	t := b.topic(runID)
	if t == nil {
		return nil, domain.ErrRunNotFound
	}

	sub := &subscriber{ch: make(chan domain.RunEvent, b.buffer)}

	t.mu.Lock()
	snapshot := t.snapshot.Clone()
	var id uint64
	if t.closed {
		sub.closed = true
		close(sub.ch)
	} else {
		id = t.nextID
		t.nextID++
		t.subs[id] = sub
	}
	t.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(subCtx, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
			delete(t.subs, id)
		}
	})

	return &ports.Subscription{
		Snapshot: snapshot,
		Events:   sub.ch,
		Err: func() error {
			t.mu.Lock()
			defer t.mu.Unlock()
			return sub.err
		},
		Cancel: func() {
			cancel()
			stop()
			t.mu.Lock()
			defer t.mu.Unlock()
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
				delete(t.subs, id)
			}
		},
	}, nil
}

// Close ends the run's stream. Subscribers see their channels closed; the
// final snapshot stays available for the linger period.
func (b *Broker) Close(runID string) {
	t := b.topic(runID)
	if t == nil {
		return
	}

	t.mu.Lock()
	if !t.closed {
		t.closed = true
		for id, sub := range t.subs {
			sub.closed = true
			close(sub.ch)
			delete(t.subs, id)
		}
	}
	t.mu.Unlock()

	time.AfterFunc(b.linger, func() {
		b.mu.Lock()
		if b.topics[runID] == t {
			delete(b.topics, runID)
		}
		b.mu.Unlock()
	})
}

// Subscribers returns the number of live subscribers of a run.
func (b *Broker) Subscribers(runID string) int {
	t := b.topic(runID)
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

func (b *Broker) topic(runID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topics[runID]
}
