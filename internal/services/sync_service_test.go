package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/ortelius/cve-mirror/internal/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu      sync.Mutex
	full    int
	incr    int
	release chan struct{}
	started chan struct{}
	sawDead bool
}

func (r *fakeRunner) run(ctx context.Context, mode string) collector.RunResult {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mode == collector.ModeFull {
		r.full++
	} else {
		r.incr++
	}
	_, r.sawDead = ctx.Deadline()
	return collector.RunResult{RunID: mode + "-run", Mode: mode, StopReason: collector.StopExhausted}
}

func (r *fakeRunner) RunFull(ctx context.Context) collector.RunResult {
	return r.run(ctx, collector.ModeFull)
}

func (r *fakeRunner) RunIncremental(ctx context.Context) collector.RunResult {
	return r.run(ctx, collector.ModeIncremental)
}

type recordingPublisher struct {
	mu   sync.Mutex
	runs []collector.RunResult
	err  error
}

func (p *recordingPublisher) PublishSyncCompleted(_ context.Context, res collector.RunResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.runs = append(p.runs, res)
	return p.err
}

func TestTriggerRunsRequestedMode(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewSyncService(runner, zap.NewNop(), 0)

	res, err := svc.Trigger(context.Background(), "full")
	require.NoError(t, err)
	assert.Equal(t, collector.ModeFull, res.Mode)

	res, err = svc.Trigger(context.Background(), "update")
	require.NoError(t, err)
	assert.Equal(t, collector.ModeIncremental, res.Mode)

	assert.Equal(t, 1, runner.full)
	assert.Equal(t, 1, runner.incr)
	assert.False(t, runner.sawDead)

	st := svc.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, "incremental-run", st.LastRun.RunID)
}

func TestTriggerRejectsUnknownMode(t *testing.T) {
	svc := NewSyncService(&fakeRunner{}, zap.NewNop(), 0)

	_, err := svc.Trigger(context.Background(), "partial")
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.ErrorIs(t, svc.TriggerAsync(context.Background(), ""), ErrUnknownMode)
}

func TestOnlyOneRunAtATime(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	svc := NewSyncService(runner, zap.NewNop(), 0)

	require.NoError(t, svc.TriggerAsync(context.Background(), collector.ModeFull))
	<-runner.started

	st := svc.Status()
	assert.True(t, st.Running)
	assert.Equal(t, collector.ModeFull, st.Mode)

	assert.ErrorIs(t, svc.TriggerAsync(context.Background(), collector.ModeIncremental), ErrRunInProgress)
	_, err := svc.Trigger(context.Background(), collector.ModeIncremental)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	svc.Wait()

	assert.False(t, svc.Status().Running)
	assert.Equal(t, 1, runner.full)
	assert.Zero(t, runner.incr)

	runner.started = nil
	_, err = svc.Trigger(context.Background(), collector.ModeIncremental)
	assert.NoError(t, err)
}

func TestRunTimeoutBoundsRun(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewSyncService(runner, zap.NewNop(), time.Hour)

	_, err := svc.Trigger(context.Background(), collector.ModeIncremental)
	require.NoError(t, err)
	assert.True(t, runner.sawDead)
}

func TestPublishesCompletedRuns(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewSyncService(&fakeRunner{}, zap.NewNop(), 0)
	svc.SetPublisher(pub)

	_, err := svc.Trigger(context.Background(), collector.ModeFull)
	require.NoError(t, err)

	require.Len(t, pub.runs, 1)
	assert.Equal(t, "full-run", pub.runs[0].RunID)
}

func TestPublishFailureDoesNotFailRun(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := NewSyncService(&fakeRunner{}, zap.NewNop(), 0)
	svc.SetPublisher(pub)

	res, err := svc.Trigger(context.Background(), collector.ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, collector.StopExhausted, res.StopReason)
}

func TestScheduleFiresIncrementalRuns(t *testing.T) {
	runner := &fakeRunner{started: make(chan struct{}, 8)}
	svc := NewSyncService(runner, zap.NewNop(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Schedule(ctx, 10*time.Millisecond) }()

	<-runner.started
	<-runner.started
	cancel()

	require.NoError(t, <-done)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.GreaterOrEqual(t, runner.incr, 1)
	assert.Zero(t, runner.full)
}

func TestScheduleRejectsBadInterval(t *testing.T) {
	svc := NewSyncService(&fakeRunner{}, zap.NewNop(), 0)
	assert.Error(t, svc.Schedule(context.Background(), 0))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" FULL ")
	require.NoError(t, err)
	assert.Equal(t, collector.ModeFull, mode)

	mode, err = ParseMode("incremental")
	require.NoError(t, err)
	assert.Equal(t, collector.ModeIncremental, mode)
}

type lockStub struct {
	held     bool
	err      error
	acquired int
	released int
}

func (l *lockStub) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	if l.err != nil {
		return nil, nil, l.err
	}
	if l.held {
		return nil, nil, lock.ErrHeld
	}
	l.acquired++
	return ctx, func() { l.released++ }, nil
}

func TestSharedLockGuardsRuns(t *testing.T) {
	locker := &lockStub{}
	runner := &fakeRunner{}
	svc := NewSyncService(runner, zap.NewNop(), 0)
	svc.SetLocker(locker)

	_, err := svc.Trigger(context.Background(), collector.ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)

	locker.held = true
	_, err = svc.Trigger(context.Background(), collector.ModeIncremental)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.False(t, svc.Status().Running, "local slot is freed when the shared lock is held")
	assert.Equal(t, 1, runner.incr)

	locker.held = false
	locker.err = errors.New("redis down")
	assert.Error(t, svc.TriggerAsync(context.Background(), collector.ModeFull))
	assert.False(t, svc.Status().Running)
	assert.Zero(t, runner.full)
}

// lostLock hands out leases that are already canceled as lost
type lostLock struct{}

func (lostLock) Acquire(ctx context.Context, _ string) (context.Context, func(), error) {
	lease, lose := context.WithCancelCause(ctx)
	lose(lock.ErrLost)
	return lease, func() {}, nil
}

type leaseRunner struct {
	cause error
}

func (r *leaseRunner) RunFull(ctx context.Context) collector.RunResult {
	return r.RunIncremental(ctx)
}

func (r *leaseRunner) RunIncremental(ctx context.Context) collector.RunResult {
	r.cause = context.Cause(ctx)
	return collector.RunResult{StopReason: collector.StopCanceled}
}

func TestRunStopsWhenSharedLockLost(t *testing.T) {
	runner := &leaseRunner{}
	svc := NewSyncService(runner, zap.NewNop(), time.Hour)
	svc.SetLocker(lostLock{})

	res, err := svc.Trigger(context.Background(), collector.ModeIncremental)
	require.NoError(t, err)
	assert.ErrorIs(t, runner.cause, lock.ErrLost)
	assert.Equal(t, collector.StopCanceled, res.StopReason)
	assert.False(t, svc.Status().Running)
}
