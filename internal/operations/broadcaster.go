package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clinicledger/internal/infrastructure"
	"clinicledger/pkg/contracts/events"
)

// ErrBroadcasterStopped is returned when subscribing after Stop.
var ErrBroadcasterStopped = errors.New("progress broadcaster stopped")

// Observer receives progress events. Deliver must not block; an error marks
// only that one delivery as failed.
type Observer interface {
	ID() string
	Deliver(event events.ProgressEvent) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc struct {
	Name string
	Fn   func(events.ProgressEvent) error
}

func (o ObserverFunc) ID() string                               { return o.Name }
func (o ObserverFunc) Deliver(event events.ProgressEvent) error { return o.Fn(event) }

// Publisher is the sending side used by the ingestion pipeline.
type Publisher interface {
	Publish(ctx context.Context, event events.ProgressEvent) int
}

// ProgressBroadcaster fans progress events out to observers.
type ProgressBroadcaster struct {
	mu        sync.RWMutex
	observers map[string]Observer
	running   bool
	stopped   bool
	metrics   *infrastructure.IngestionMetrics
	logger    *slog.Logger
}

// NewProgressBroadcaster creates a broadcaster. Publishing is a no-op until Start.
func NewProgressBroadcaster(metrics *infrastructure.IngestionMetrics, logger *slog.Logger) *ProgressBroadcaster {
	if metrics == nil {
		metrics = infrastructure.NoopIngestionMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressBroadcaster{
		observers: make(map[string]Observer),
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "progress_broadcaster")),
	}
}

// Start begins delivering events.
func (b *ProgressBroadcaster) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.running = true
	}
}

// Stop drops every observer. Later publishes do nothing.
func (b *ProgressBroadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	n := len(b.observers)
	b.observers = make(map[string]Observer)
	b.running = false
	b.stopped = true
	b.metrics.ObserversChanged(context.Background(), -int64(n))
	b.logger.Info("progress broadcaster stopped", slog.Int("observers_dropped", n))
}

// Subscribe adds o, replacing any observer with the same ID.
func (b *ProgressBroadcaster) Subscribe(o Observer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrBroadcasterStopped
	}
	if _, exists := b.observers[o.ID()]; !exists {
		b.metrics.ObserversChanged(context.Background(), 1)
	}
	b.observers[o.ID()] = o
	return nil
}

// Unsubscribe removes the observer with id, if present.
func (b *ProgressBroadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[id]; ok {
		delete(b.observers, id)
		b.metrics.ObserversChanged(context.Background(), -1)
	}
}

// Count returns the number of subscribed observers.
func (b *ProgressBroadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Publish delivers event to a point-in-time copy of the observer set and
// returns how many deliveries succeeded.
func (b *ProgressBroadcaster) Publish(ctx context.Context, event events.ProgressEvent) int {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return 0
	}
	targets := make([]Observer, 0, len(b.observers))
	for _, o := range b.observers {
		targets = append(targets, o)
	}
	b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Progress = events.ClampProgress(event.Progress)

	delivered := 0
	for _, o := range targets {
		if err := b.deliver(o, event); err != nil {
			b.metrics.DeliveryFailed(ctx)
			b.logger.WarnContext(ctx, "progress delivery failed",
				slog.String("observer", o.ID()),
				slog.String("upload_id", event.UploadID),
				slog.String("error", err.Error()))
			continue
		}
		delivered++
	}
	return delivered
}

func (b *ProgressBroadcaster) deliver(o Observer, event events.ProgressEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return o.Deliver(event)
}
