// Package broadcast delivers the daily promo message and admin-scheduled
// jobs to every active user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"umabot/internal/metrics"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

const (
	SourceDaily     = "daily"
	SourceScheduled = "scheduled"
	SourceManual    = "manual"
)

type Deps struct {
	Store     Store
	Messenger Messenger
	// Keyboard is attached to every broadcast message.
	Keyboard *transport.Keyboard
	Log      logx.Logger
	Metrics  *metrics.Metrics
}

type Scheduler struct {
	store   Store
	msgr    Messenger
	kb      *transport.Keyboard
	log     logx.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	cfg     Config
	trigger *dailyTrigger
	cancel  context.CancelFunc
	done    chan struct{}
	snap    Snapshot
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	trig, err := parseTrigger(cfg.DailySpec, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		store:   deps.Store,
		msgr:    deps.Messenger,
		kb:      deps.Keyboard,
		log:     log.With(logx.String("comp", "broadcast")),
		metrics: deps.Metrics,
		now:     time.Now,
		cfg:     cfg,
		trigger: trig,
	}, nil
}

// Apply swaps the config of a live scheduler. The tick interval takes
// effect on the next wait.
func (s *Scheduler) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	trig, err := parseTrigger(cfg.DailySpec, cfg.Timezone)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.trigger = trig
	s.mu.Unlock()
	return nil
}

// Start launches the loop. Calling it on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.snap.Running = true
	go s.loop(runCtx, s.done)
	s.log.Info("scheduler started", logx.Duration("tick", s.cfg.Tick), logx.String("daily", s.cfg.DailySpec))
}

// Stop interrupts the wait between ticks. Deliveries of a tick already in
// progress run to completion unless ctx expires first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	if s.trigger != nil {
		snap.NextDaily = s.trigger.Next(s.now())
	}
	return snap
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.snap.Running = false
		s.mu.Unlock()
		close(done)
	}()

	// The tick itself is detached from ctx so Stop never cuts a fan-out short.
	work := context.WithoutCancel(ctx)
	prev := s.now()
	for {
		now := s.now()
		if err := s.Tick(work, prev, now); err != nil {
			s.log.Error("scheduler tick failed", logx.Err(err))
		}
		prev = now

		s.mu.Lock()
		wait := s.cfg.Tick
		s.mu.Unlock()
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Tick runs one scheduler pass over the window (prev, now]: the daily
// message if its instant fell inside the window, then every due job.
func (s *Scheduler) Tick(ctx context.Context, prev, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.Tick(outcome)

		s.mu.Lock()
		s.snap.LastTick = now
		s.snap.Ticks++
		s.snap.LastError = ""
		if err != nil {
			s.snap.LastError = err.Error()
		}
		s.mu.Unlock()
	}()

	return errors.Join(s.runDaily(ctx, prev, now), s.runJobs(ctx, now))
}

func (s *Scheduler) runDaily(ctx context.Context, prev, now time.Time) error {
	s.mu.Lock()
	trig := s.trigger
	pool := s.cfg.DailyMessages
	s.mu.Unlock()

	if trig == nil || len(pool) == 0 || !trig.Fired(prev, now) {
		return nil
	}
	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("daily: list users: %w", err)
	}
	text := pool[rand.IntN(len(pool))]
	s.log.Info("daily broadcast due", logx.Int("recipients", len(users)))
	s.FanOut(ctx, SourceDaily, users, text)

	s.mu.Lock()
	s.snap.LastDaily = now
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) runJobs(ctx context.Context, now time.Time) error {
	jobs, err := s.store.ListUnsentJobs(ctx)
	if err != nil {
		return fmt.Errorf("jobs: list: %w", err)
	}
	var errs []error
	for _, j := range jobs {
		if !j.Due(now) {
			continue
		}
		users, err := s.store.ListActiveUsers(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %d: list users: %w", j.ID, err))
			continue
		}
		s.log.Info("scheduled broadcast due", logx.Int64("job", j.ID), logx.Int("recipients", len(users)))
		s.FanOut(ctx, SourceScheduled, users, j.Message)
		if err := s.store.MarkJobSent(ctx, j.ID); err != nil {
			errs = append(errs, fmt.Errorf("job %d: mark sent: %w", j.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SendManual broadcasts text right away, to onlyUser when non-zero or to
// every active user otherwise. It never touches job state.
func (s *Scheduler) SendManual(ctx context.Context, text string, onlyUser int64) (Result, error) {
	var users []int64
	if onlyUser != 0 {
		users = []int64{onlyUser}
	} else {
		var err error
		if users, err = s.store.ListActiveUsers(ctx); err != nil {
			return Result{}, err
		}
	}
	return s.FanOut(ctx, SourceManual, users, text), nil
}

// Schedule persists a job for delivery by the first tick at or after at.
func (s *Scheduler) Schedule(ctx context.Context, text string, at time.Time) (int64, error) {
	id, err := s.store.CreateBroadcastJob(ctx, text, &at)
	if err != nil {
		return 0, err
	}
	s.log.Info("broadcast scheduled", logx.Int64("job", id), logx.Time("at", at))
	return id, nil
}
