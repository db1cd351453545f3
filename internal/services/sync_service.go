// Package services wires the collector into the long-running process: it
// serializes runs, fires them on a schedule and reports what happened.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ortelius/cve-mirror/internal/collector"
	"github.com/ortelius/cve-mirror/internal/lock"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a run is requested while another one is active
var ErrRunInProgress = errors.New("a sync run is already in progress")

// ErrUnknownMode is returned for a mode other than full or incremental
var ErrUnknownMode = errors.New("unknown sync mode")

const publishTimeout = 10 * time.Second

// LockKey names the lock shared by every process writing the same mirror
const LockKey = "cve-mirror:sync"

// Runner executes collection runs
type Runner interface {
	RunFull(ctx context.Context) collector.RunResult
	RunIncremental(ctx context.Context) collector.RunResult
}

// Locker grants exclusive runs across processes. The returned context is
// canceled when the lock can no longer be guaranteed.
type Locker interface {
	Acquire(ctx context.Context, key string) (lease context.Context, release func(), err error)
}

// Publisher announces finished runs
type Publisher interface {
	PublishSyncCompleted(ctx context.Context, res collector.RunResult) error
}

// Status is a snapshot of the service
type Status struct {
	Running bool                 `json:"running"`
	Mode    string               `json:"mode,omitempty"`
	LastRun *collector.RunResult `json:"last_run,omitempty"`
}

// SyncService allows at most one collection run at a time within the process
type SyncService struct {
	runner     Runner
	logger     *zap.Logger
	runTimeout time.Duration
	publisher  Publisher
	locker     Locker

	mu      sync.Mutex
	running bool
	mode    string
	last    *collector.RunResult
	wg      sync.WaitGroup
}

// NewSyncService returns a service driving runner. A zero runTimeout leaves runs unbounded.
func NewSyncService(runner Runner, logger *zap.Logger, runTimeout time.Duration) *SyncService {
	return &SyncService{runner: runner, logger: logger, runTimeout: runTimeout}
}

// SetPublisher registers where completed runs are announced
func (s *SyncService) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// SetLocker makes runs also take a lock shared with other processes
func (s *SyncService) SetLocker(l Locker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locker = l
}

// ParseMode normalizes a user supplied run mode
func ParseMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case collector.ModeFull:
		return collector.ModeFull, nil
	case collector.ModeIncremental, "update":
		return collector.ModeIncremental, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Trigger runs mode synchronously
func (s *SyncService) Trigger(ctx context.Context, mode string) (collector.RunResult, error) {
	mode, err := ParseMode(mode)
	if err != nil {
		return collector.RunResult{}, err
	}
	lease, release, err := s.acquire(ctx, mode)
	if err != nil {
		return collector.RunResult{}, err
	}
	return s.run(ctx, lease, mode, release), nil
}

// TriggerAsync starts mode in the background. The slot is taken before
// returning so a second caller sees ErrRunInProgress right away.
func (s *SyncService) TriggerAsync(ctx context.Context, mode string) error {
	mode, err := ParseMode(mode)
	if err != nil {
		return err
	}
	lease, release, err := s.acquire(ctx, mode)
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx, lease, mode, release)
	}()
	return nil
}

// Wait blocks until background runs have finished
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// Status reports whether a run is active and the result of the last one
func (s *SyncService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Running: s.running, Mode: s.mode}
	if s.last != nil {
		last := *s.last
		st.LastRun = &last
	}
	return st
}

// Schedule fires an incremental run every interval until ctx is done
func (s *SyncService) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sync interval %s", interval)
	}

	s.logger.Info("Scheduling incremental CVE updates", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Trigger(ctx, collector.ModeIncremental); err != nil {
				s.logger.Warn("Skipping scheduled update", zap.Error(err))
			}
		}
	}
}

// acquire claims the local slot, then the shared lock when one is configured.
// The run must use the returned context.
func (s *SyncService) acquire(ctx context.Context, mode string) (context.Context, func(), error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, nil, ErrRunInProgress
	}
	s.running = true
	s.mode = mode
	locker := s.locker
	s.mu.Unlock()

	if locker == nil {
		return ctx, func() {}, nil
	}

	lease, release, err := locker.Acquire(ctx, LockKey)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mode = ""
		s.mu.Unlock()

		if errors.Is(err, lock.ErrHeld) {
			return nil, nil, fmt.Errorf("%w: held by another process", ErrRunInProgress)
		}
		return nil, nil, err
	}
	return lease, release, nil
}

// run executes mode under lease and frees the shared lock before the local slot.
// ctx only outlives the run for publishing.
func (s *SyncService) run(ctx, lease context.Context, mode string, release func()) collector.RunResult {
	runCtx := lease
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(lease, s.runTimeout)
		defer cancel()
	}

	var res collector.RunResult
	if mode == collector.ModeFull {
		res = s.runner.RunFull(runCtx)
	} else {
		res = s.runner.RunIncremental(runCtx)
	}
	if errors.Is(context.Cause(lease), lock.ErrLost) {
		s.logger.Error("Run stopped after losing the shared lock",
			zap.String("run_id", res.RunID), zap.String("stop_reason", string(res.StopReason)))
	}
	release()

	s.mu.Lock()
	s.running = false
	s.mode = ""
	s.last = &res
	publisher := s.publisher
	s.mu.Unlock()

	if publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := publisher.PublishSyncCompleted(pubCtx, res); err != nil {
			s.logger.Error("Failed to publish sync event", zap.String("run_id", res.RunID), zap.Error(err))
		}
	}
	return res
}
