package operations

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/internal/shared/testutil"
	"clinicledger/pkg/contracts/events"
)

type recordingObserver struct {
	id  string
	mu  sync.Mutex
	got []events.ProgressEvent
	err error
}

func (o *recordingObserver) ID() string { return o.id }

func (o *recordingObserver) Deliver(e events.ProgressEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.got = append(o.got, e)
	return nil
}

func (o *recordingObserver) events() []events.ProgressEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]events.ProgressEvent(nil), o.got...)
}

func TestProgressBroadcasterPublish(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	b := NewProgressBroadcaster(nil, logger)

	a := &recordingObserver{id: "a"}
	c := &recordingObserver{id: "c"}
	require.NoError(t, b.Subscribe(a))
	require.NoError(t, b.Subscribe(c))

	assert.Zero(t, b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1"}), "not started")

	b.Start()
	n := b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1", Status: events.StatusProcessing, Progress: 140})
	assert.Equal(t, 2, n)

	got := a.events()
	require.Len(t, got, 1)
	assert.Equal(t, 100, got[0].Progress)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Len(t, c.events(), 1)
}

func TestProgressBroadcasterFailingObserver(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	b := NewProgressBroadcaster(nil, logger)
	b.Start()

	healthy := &recordingObserver{id: "healthy"}
	broken := &recordingObserver{id: "broken", err: errors.New("connection reset")}
	require.NoError(t, b.Subscribe(healthy))
	require.NoError(t, b.Subscribe(broken))
	require.NoError(t, b.Subscribe(ObserverFunc{Name: "panicky", Fn: func(events.ProgressEvent) error {
		panic("boom")
	}}))

	n := b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1"})
	assert.Equal(t, 1, n)
	assert.Len(t, healthy.events(), 1)
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "progress delivery failed")
}

func TestProgressBroadcasterLateSubscriber(t *testing.T) {
	b := NewProgressBroadcaster(nil, nil)
	b.Start()

	early := &recordingObserver{id: "early"}
	require.NoError(t, b.Subscribe(early))
	b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1", Progress: 10})

	late := &recordingObserver{id: "late"}
	require.NoError(t, b.Subscribe(late))
	b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1", Progress: 20})

	assert.Len(t, early.events(), 2)
	lateEvents := late.events()
	require.Len(t, lateEvents, 1)
	assert.Equal(t, 20, lateEvents[0].Progress)
}

func TestProgressBroadcasterUnsubscribeAndStop(t *testing.T) {
	b := NewProgressBroadcaster(nil, nil)
	b.Start()

	o := &recordingObserver{id: "o"}
	require.NoError(t, b.Subscribe(o))
	require.NoError(t, b.Subscribe(o))
	assert.Equal(t, 1, b.Count())

	b.Unsubscribe("o")
	b.Unsubscribe("missing")
	assert.Zero(t, b.Count())
	assert.Zero(t, b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1"}))

	require.NoError(t, b.Subscribe(o))
	b.Stop()
	b.Stop()
	assert.Zero(t, b.Count())
	assert.ErrorIs(t, b.Subscribe(o), ErrBroadcasterStopped)
	assert.Zero(t, b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1"}))
	assert.Empty(t, o.events())
}

func TestProgressBroadcasterConcurrentPublish(t *testing.T) {
	b := NewProgressBroadcaster(nil, nil)
	b.Start()
	o := &recordingObserver{id: "o"}
	require.NoError(t, b.Subscribe(o))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Publish(context.Background(), events.ProgressEvent{UploadID: "u1", Progress: i})
			if i%5 == 0 {
				_ = b.Subscribe(&recordingObserver{id: "extra"})
				b.Unsubscribe("extra")
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, o.events(), 20)
}
