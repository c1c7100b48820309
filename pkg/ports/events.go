package ports

import (
	"context"

	"github.com/mettice/nodeai/pkg/domain"
)

// Subscription is one observer's view of a run: the snapshot at the time of
// subscribing followed by every later event in order.
type Subscription struct {
	Snapshot domain.RunSnapshot
	Events   <-chan domain.RunEvent

	// Err reports why Events was closed early; nil after a normal finish.
	Err    func() error
	Cancel func()
}

// EventPublisher fans run events out to subscribers. Publish never blocks.
type EventPublisher interface {
	Open(runID string, snapshot domain.RunSnapshot)
	Publish(runID string, event domain.RunEvent)
	Subscribe(ctx context.Context, runID string) (*Subscription, error)
	Close(runID string)
}

// EventSink receives a copy of every published event.
type EventSink interface {
	Append(event domain.RunEvent)
}

// EventHistory serves past events of a run.
type EventHistory interface {
	History(ctx context.Context, runID string) ([]domain.RunEvent, error)
}
