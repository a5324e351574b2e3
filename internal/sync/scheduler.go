package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backoff durations for consecutive failed cycles in daemon mode.
// Threshold: 3 consecutive failures before any backoff is applied.
const (
	backoffThreshold = 3
	backoffMaxCap    = 1 * time.Hour
)

// backoffSteps maps consecutive failure counts (starting at the threshold)
// to their backoff durations: 3→1m, 4→5m, 5→15m, 6+→1h.
var backoffSteps = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	backoffMaxCap,
}

// backoffDuration returns the backoff for the given number of consecutive
// failures. Returns 0 for fewer than backoffThreshold failures.
func backoffDuration(failures int) time.Duration {
	if failures < backoffThreshold {
		return 0
	}

	idx := failures - backoffThreshold
	if idx >= len(backoffSteps) {
		return backoffMaxCap
	}

	return backoffSteps[idx]
}

// CycleFunc runs one reconciliation cycle, typically a closure over
// Engine.RunCycle with a fixed mode.
type CycleFunc func(ctx context.Context) (*CycleReport, error)

// CycleResult is the outcome of one scheduled cycle. Err and Report are
// mutually exclusive: when Err is set, Report is nil.
type CycleResult struct {
	Report *CycleReport
	Err    error
}

// SchedulerConfig holds the options for NewScheduler.
type SchedulerConfig struct {
	Cycle    CycleFunc
	Interval time.Duration
	Timeout  time.Duration // per cycle; 0 means no limit
	Logger   *slog.Logger
}

// Scheduler runs cycles on an interval and on demand. RunNow may be called
// from any goroutine; callers that arrive while a cycle is in flight (an
// interval cycle or another on-demand one) share its result. Consecutive
// failures push interval runs back; on-demand runs are never held back.
type Scheduler struct {
	mu       stdsync.Mutex
	cycle    CycleFunc
	interval time.Duration
	timeout  time.Duration
	failures int
	lastFail time.Time

	flight  singleflight.Group
	updated chan struct{} // capacity 1: interval changed

	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewScheduler validates cfg and builds a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Cycle == nil {
		return nil, errors.New("sync: scheduler needs a cycle function")
	}

	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sync: scheduler interval must be positive, got %s", cfg.Interval)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cycle:    cfg.Cycle,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		updated:  make(chan struct{}, 1),
		logger:   logger,
		nowFunc:  time.Now,
	}, nil
}

// Update swaps the cycle function and timing, e.g. after a config reload.
// The next cycle uses the new values; an in-flight cycle is not interrupted.
func (s *Scheduler) Update(cycle CycleFunc, interval, timeout time.Duration) {
	s.mu.Lock()

	if cycle != nil {
		s.cycle = cycle
	}

	changed := interval > 0 && interval != s.interval
	if interval > 0 {
		s.interval = interval
	}

	s.timeout = timeout
	s.mu.Unlock()

	if changed {
		select {
		case s.updated <- struct{}{}:
		default:
		}
	}
}

// Failures returns the number of consecutive failed cycles.
func (s *Scheduler) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failures
}

// Run executes one cycle immediately, then one per interval until ctx is
// canceled. Returns nil on clean cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting", slog.Duration("interval", s.currentInterval()))

	s.RunNow(ctx)

	ticker := time.NewTicker(s.currentInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil

		case <-s.updated:
			interval := s.currentInterval()
			ticker.Reset(interval)
			s.logger.Info("scheduler interval changed", slog.Duration("interval", interval))

		case <-ticker.C:
			if wait := s.backoffRemaining(); wait > 0 {
				s.logger.Debug("skipping scheduled cycle during backoff",
					slog.Int("failures", s.Failures()),
					slog.Duration("remaining", wait),
				)

				continue
			}

			s.RunNow(ctx)
		}
	}
}

// RunNow runs a cycle and waits for it. When a cycle is already in flight
// the caller shares its result instead of starting another.
func (s *Scheduler) RunNow(ctx context.Context) *CycleResult {
	v, _, _ := s.flight.Do("cycle", func() (any, error) {
		return s.execute(ctx), nil
	})

	return v.(*CycleResult)
}

func (s *Scheduler) execute(ctx context.Context) *CycleResult {
	s.mu.Lock()
	cycle, timeout := s.cycle, s.timeout
	s.mu.Unlock()

	cctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result := runSafely(cctx, cycle)
	s.record(ctx, result)

	return result
}

// record updates the failure streak. A cycle cut short by shutdown does
// not count as a failure.
func (s *Scheduler) record(ctx context.Context, result *CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.Err == nil {
		if s.failures > 0 {
			s.logger.Info("sync recovered", slog.Int("previous_failures", s.failures))
		}

		s.failures = 0

		return
	}

	if ctx.Err() != nil {
		return
	}

	s.failures++
	s.lastFail = s.nowFunc()

	s.logger.Error("sync cycle failed",
		slog.Int("consecutive_failures", s.failures),
		slog.Duration("backoff", backoffDuration(s.failures)),
		slog.String("error", result.Err.Error()),
	)
}

func (s *Scheduler) backoffRemaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := backoffDuration(s.failures)
	if d == 0 {
		return 0
	}

	return max(s.lastFail.Add(d).Sub(s.nowFunc()), 0)
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

// runSafely executes fn, converting a panic into an error so a single bad
// cycle cannot take the daemon down.
func runSafely(ctx context.Context, fn CycleFunc) (result *CycleResult) {
	result = &CycleResult{}

	defer func() {
		if r := recover(); r != nil {
			result.Report = nil
			result.Err = fmt.Errorf("sync: panic in cycle: %v", r)
		}
	}()

	report, err := fn(ctx)
	if err != nil {
		result.Err = err
		return result
	}

	result.Report = report

	return result
}
