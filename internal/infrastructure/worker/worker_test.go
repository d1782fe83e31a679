package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/portal-workflow/internal/application/service"
)

type mockBatch struct {
	RunFunc func(ctx context.Context) (*service.BatchReport, error)
	calls   atomic.Int32
}

func (m *mockBatch) Run(ctx context.Context) (*service.BatchReport, error) {
	m.calls.Add(1)
	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return &service.BatchReport{Reap: &service.ReapReport{}}, nil
}

type mockWorker struct {
	name     string
	startErr error
	stopErr  error
	started  bool
	stopped  bool
}

func (w *mockWorker) Start(ctx context.Context) error {
	w.started = w.startErr == nil
	return w.startErr
}

func (w *mockWorker) Stop() error {
	w.stopped = true
	return w.stopErr
}

func (w *mockWorker) Name() string { return w.name }

func TestWorkerManager_Lifecycle(t *testing.T) {
	m := NewWorkerManager(zaptest.NewLogger(t))
	good := &mockWorker{name: "good"}
	bad := &mockWorker{name: "bad", startErr: errors.New("no schedule")}
	m.Register(bad)
	m.Register(good)
	assert.Equal(t, 2, m.GetWorkerCount())

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.True(t, good.started, "later workers still start")
	assert.True(t, m.IsRunning())

	assert.Error(t, m.StartAll(context.Background()))

	require.NoError(t, m.StopAll())
	assert.True(t, good.stopped)
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.StopAll())
}

func TestWorkerManager_StopErrors(t *testing.T) {
	m := NewWorkerManager(zaptest.NewLogger(t))
	m.Register(&mockWorker{name: "a", stopErr: errors.New("stuck")})
	m.Register(&mockWorker{name: "b"})

	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 workers")
}

func TestBatchWorker_RunOnce(t *testing.T) {
	batch := &mockBatch{}
	w := NewBatchWorker(BatchWorkerConfig{}, batch, zaptest.NewLogger(t))

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	stats := w.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 0, stats.Failures)
	assert.False(t, stats.LastRunAt.IsZero())
	assert.Equal(t, DefaultBatchSchedule, w.config.Schedule)
}

func TestBatchWorker_RecordsFailure(t *testing.T) {
	boom := errors.New("sweep failed")
	batch := &mockBatch{RunFunc: func(ctx context.Context) (*service.BatchReport, error) {
		return &service.BatchReport{}, boom
	}}
	core, logs := observer.New(zap.InfoLevel)
	w := NewBatchWorker(BatchWorkerConfig{}, batch, zap.New(core))

	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)

	stats := w.Stats()
	assert.Equal(t, 1, stats.Failures)
	assert.ErrorIs(t, stats.LastError, boom)
	assert.Equal(t, 1, logs.FilterMessage("Batch pass failed").Len())
}

func TestBatchWorker_SkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	batch := &mockBatch{RunFunc: func(ctx context.Context) (*service.BatchReport, error) {
		close(entered)
		<-release
		return &service.BatchReport{}, nil
	}}
	w := NewBatchWorker(BatchWorkerConfig{}, batch, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = w.RunOnce(context.Background())
	}()
	<-entered

	report, err := w.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, report)

	close(release)
	wg.Wait()

	stats := w.Stats()
	assert.Equal(t, 1, stats.Runs)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, int32(1), batch.calls.Load())
}

func TestBatchWorker_RunTimeout(t *testing.T) {
	batch := &mockBatch{RunFunc: func(ctx context.Context) (*service.BatchReport, error) {
		<-ctx.Done()
		return &service.BatchReport{}, ctx.Err()
	}}
	w := NewBatchWorker(BatchWorkerConfig{RunTimeout: 20 * time.Millisecond}, batch, zaptest.NewLogger(t))

	_, err := w.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatchWorker_Schedule(t *testing.T) {
	batch := &mockBatch{}
	w := NewBatchWorker(BatchWorkerConfig{Schedule: "@every 1s"}, batch, zaptest.NewLogger(t))

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return batch.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
	assert.Equal(t, "BatchWorker", w.Name())
}

func TestBatchWorker_InvalidSchedule(t *testing.T) {
	w := NewBatchWorker(BatchWorkerConfig{Schedule: "every tuesday"}, &mockBatch{}, zaptest.NewLogger(t))
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid batch schedule")
}

func TestCronLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewCronLogger(zap.New(core))

	l.Info("wake", "now", "x")
	l.Error(errors.New("panic"), "job failed", "entry", 1)

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "cron", entries[1].LoggerName)
	assert.Contains(t, entries[1].ContextMap(), "error")
}
