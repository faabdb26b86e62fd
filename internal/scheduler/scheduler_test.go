package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/internal/config"
	"clinicledger/internal/shared/testutil"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
	err   error
}

func (f *fakeSweeper) EnqueuePending(_ context.Context, olderThan time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, olderThan)
	return f.n, f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCleaner struct{}

func (fakeCleaner) Cleanup() int { return 3 }

func TestSweepPendingUsesThreshold(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	sweeper := &fakeSweeper{n: 2}
	s := New(config.SchedulerConfig{PendingSweepSpec: "@every 1m", StalePendingAfter: 10 * time.Minute}, sweeper, nil, logger)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.SweepPending()

	require.Equal(t, 1, sweeper.count())
	assert.Equal(t, now.Add(-10*time.Minute), sweeper.calls[0])
	assert.True(t, logs.ContainsMessage("re-enqueued stale uploads"))
}

func TestSweepPendingLogsFailure(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	s := New(config.SchedulerConfig{PendingSweepSpec: "@every 1m"}, &fakeSweeper{err: errors.New("db down")}, nil, logger)

	s.SweepPending()
	assert.True(t, logs.ContainsMessage("pending sweep failed"))
}

func TestStartRejectsBadSchedule(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	s := New(config.SchedulerConfig{PendingSweepSpec: "every now and then"}, &fakeSweeper{}, nil, logger)
	assert.Error(t, s.Start())
}

func TestStartRunsJobs(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	sweeper := &fakeSweeper{}
	s := New(config.SchedulerConfig{PendingSweepSpec: "@every 1s"}, sweeper, fakeCleaner{}, logger)
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 2)

	assert.Eventually(t, func() bool { return sweeper.count() > 0 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}
