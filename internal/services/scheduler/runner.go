package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	ErrStopped        = errors.New("scheduler stopped")
	ErrAlreadyStarted = errors.New("scheduler already started")
	// ErrForcedStop is returned by Stop when the in-flight run had to be cancelled.
	ErrForcedStop = errors.New("scheduler stop timed out, in-flight run cancelled")
)

var (
	mTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_ticks_total", Help: "Scheduler ticks by outcome",
	}, []string{"result"})
	mMissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_missed_ticks_total", Help: "Due times skipped forward without a run",
	})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_errors_total", Help: "Runs that returned an error",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_loop_duration_seconds", Help: "Duration of one scheduled run",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	})
)

// Job is one scheduled unit of work. It must honor ctx cancellation.
type Job func(ctx context.Context) error

type Config struct {
	Interval     time.Duration
	Jitter       time.Duration
	MisfireGrace time.Duration
	StopTimeout  time.Duration
	FireOnStart  bool
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Scheduler fires Job on a fixed interval. Runs never overlap: a tick that arrives while a run is
// in progress is coalesced into it.
type Scheduler struct {
	log *zap.Logger
	job Job
	cfg Config

	started  atomic.Bool
	stopped  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once

	stopCh    chan struct{}
	loopDone  chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	coalesced atomic.Int64
	dropped   atomic.Int64

	now    func() time.Time
	jitter func() time.Duration
}

func New(log *zap.Logger, job Job, cfg Config) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduler: nil job")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", cfg.Interval)
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		log:      log.With(zap.String("component", "scheduler")),
		job:      job,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		now:      time.Now,
	}
	s.jitter = func() time.Duration {
		if s.cfg.Jitter <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(s.cfg.Jitter) + 1))
	}
	return s, nil
}

// Start launches the timer goroutine. ctx bounds the scheduler's lifetime: cancelling it stops
// ticking and cancels any in-flight run without waiting; use Stop for a graceful shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	go s.loop(ctx)
	s.log.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("jitter", s.cfg.Jitter),
		zap.Duration("misfire_grace", s.cfg.MisfireGrace),
	)
	return nil
}

// Stop halts ticking, waits for an in-flight run up to StopTimeout or the ctx deadline, and then
// cancels it. Calling Stop more than once is safe.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
	})
	if !s.started.Load() {
		return nil
	}
	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if s.cfg.StopTimeout > 0 {
		t := time.NewTimer(s.cfg.StopTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-done:
		s.runCancel()
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
	case <-timeout:
	}

	s.log.Warn("in-flight run did not finish in time, cancelling")
	s.runCancel()
	<-done
	return ErrForcedStop
}

func (s *Scheduler) State() State {
	// A run still draining during Stop keeps the scheduler Running until it returns.
	switch {
	case s.running.Load():
		return StateRunning
	case s.stopped.Load():
		return StateStopped
	default:
		return StateIdle
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	base := s.now()
	if !s.cfg.FireOnStart {
		base = base.Add(s.cfg.Interval)
	}
	fireAt := base.Add(s.jitter())
	timer := time.NewTimer(fireAt.Sub(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		now := s.now()
		if shouldRun(fireAt, now, s.cfg.MisfireGrace) {
			s.fire()
		} else {
			s.dropped.Add(1)
			mTicks.WithLabelValues("dropped").Inc()
			s.log.Warn("tick dropped past misfire grace",
				zap.Time("due", fireAt),
				zap.Duration("late", now.Sub(fireAt)),
			)
		}

		next, missed := nextDue(base, now, s.cfg.Interval)
		if missed > 0 {
			mMissed.Add(float64(missed))
			s.log.Debug("skipping missed due times", zap.Int64("missed", missed))
		}
		base = next
		fireAt = base.Add(s.jitter())
		timer.Reset(fireAt.Sub(s.now()))
	}
}

func (s *Scheduler) fire() {
	if !s.running.CompareAndSwap(false, true) {
		s.coalesced.Add(1)
		mTicks.WithLabelValues("coalesced").Inc()
		s.log.Debug("tick coalesced into in-flight run")
		return
	}
	mTicks.WithLabelValues("run").Inc()
	s.runWG.Add(1)
	go func() {
		defer s.runWG.Done()
		defer s.running.Store(false)
		s.run()
	}()
}

func (s *Scheduler) run() {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			mErr.Inc()
			s.log.Error("scheduled run panicked", zap.Any("panic", r))
		}
		mLoopDur.Observe(time.Since(start).Seconds())
	}()
	if err := s.job(s.runCtx); err != nil {
		mErr.Inc()
		s.log.Warn("scheduled run error", zap.Error(err))
	}
}

// shouldRun reports whether a tick due at due and observed at now is within the misfire grace.
// A non-positive grace accepts any lateness.
func shouldRun(due, now time.Time, grace time.Duration) bool {
	if grace <= 0 {
		return true
	}
	return now.Sub(due) <= grace
}

// nextDue returns the first due time after now on the grid base + k*interval, and how many grid
// points between base and now were skipped.
func nextDue(base, now time.Time, interval time.Duration) (time.Time, int64) {
	elapsed := now.Sub(base)
	if elapsed < 0 {
		return base.Add(interval), 0
	}
	k := int64(elapsed / interval)
	return base.Add(time.Duration(k+1) * interval), k
}
