package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler owns the process's timers: wall-clock publish triggers armed once
// from the schedule plan, and fixed-interval tickers for ingestion and
// analysis. The plan is read only at startup or through an explicit Rearm;
// it is never re-read on a tick, so a firing can never register a duplicate
// trigger.
type Scheduler struct {
	plan             []models.TimeOfDay
	loc              *time.Location
	publish          Task
	ingest           Task
	analyze          Task
	ingestInterval   time.Duration
	analysisInterval time.Duration

	publishBusy atomic.Bool
	ingestBusy  atomic.Bool
	analyzeBusy atomic.Bool

	planMu sync.Mutex
	rearm  chan []models.TimeOfDay
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func New(plan []models.TimeOfDay, loc *time.Location, publish, ingest, analyze Task,
	ingestInterval, analysisInterval time.Duration) *Scheduler {
	return &Scheduler{
		plan:             plan,
		loc:              loc,
		publish:          publish,
		ingest:           ingest,
		analyze:          analyze,
		ingestInterval:   ingestInterval,
		analysisInterval: analysisInterval,
		rearm:            make(chan []models.TimeOfDay),
		now:              time.Now,
	}
}

// Start arms all timers. It returns immediately; the timers run until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx

	s.wg.Add(1)
	go s.publishLoop(ctx)

	s.wg.Add(1)
	go s.intervalLoop(ctx, models.TaskIngest, s.ingestInterval, &s.ingestBusy, s.ingest)

	s.wg.Add(1)
	go s.intervalLoop(ctx, models.TaskAnalyze, s.analysisInterval, &s.analyzeBusy, s.analyze)

	slog.Info("Scheduler armed",
		"publishTriggers", len(s.plan),
		"ingestInterval", s.ingestInterval.String(),
		"analysisInterval", s.analysisInterval.String())
}

// Stop halts all timers and waits for in-flight tasks to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Rearm replaces the publish plan. This is the only way the live trigger set
// changes after startup. Returns false if the scheduler is not running, so a
// caller can never block on a stopped publish loop.
func (s *Scheduler) Rearm(plan []models.TimeOfDay) bool {
	if s.ctx == nil {
		return false
	}
	s.planMu.Lock()
	s.plan = plan
	s.planMu.Unlock()
	select {
	case s.rearm <- plan:
		slog.Info("Schedule plan rearmed", "publishTriggers", len(plan))
		return true
	case <-s.ctx.Done():
		return false
	}
}

// TriggerPublishNow runs one publish cycle through the same single-flight
// guard as a scheduled firing. Returns false if a cycle is already running.
func (s *Scheduler) TriggerPublishNow(ctx context.Context) bool {
	return s.runSingleFlight(ctx, models.TaskPublish, &s.publishBusy, s.publish)
}

// NextPublishAt returns the next scheduled publish time, for diagnostics.
func (s *Scheduler) NextPublishAt() time.Time {
	s.planMu.Lock()
	plan := s.plan
	s.planMu.Unlock()
	return nextFiring(plan, s.now(), s.loc)
}

func (s *Scheduler) publishLoop(ctx context.Context) {
	defer s.wg.Done()

	s.planMu.Lock()
	plan := s.plan
	s.planMu.Unlock()
	for {
		next := nextFiring(plan, s.now(), s.loc)
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case newPlan := <-s.rearm:
			timer.Stop()
			plan = newPlan
		case <-timer.C:
			s.runSingleFlight(ctx, models.TaskPublish, &s.publishBusy, s.publish)
		}
	}
}

func (s *Scheduler) intervalLoop(ctx context.Context, kind models.TaskKind, interval time.Duration, busy *atomic.Bool, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run once at startup so a fresh process populates its stores without
	// waiting a full interval.
	s.runSingleFlight(ctx, kind, busy, task)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSingleFlight(ctx, kind, busy, task)
		}
	}
}

// runSingleFlight executes the task unless a prior firing of the same kind is
// still running, in which case the firing is skipped, never queued or run
// concurrently. A panicking cycle is contained here; the process never
// crashes from one cycle's failure.
func (s *Scheduler) runSingleFlight(ctx context.Context, kind models.TaskKind, busy *atomic.Bool, task Task) bool {
	if !busy.CompareAndSwap(false, true) {
		slog.Warn("Previous task still running, skipping firing", "kind", kind)
		return false
	}
	defer busy.Store(false)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in scheduled task", "kind", kind, "panic", r)
		}
	}()

	if err := task(ctx); err != nil {
		slog.Error("Scheduled task failed", "kind", kind, "error", err)
	}
	return true
}

// nextFiring returns the earliest next occurrence across the plan.
func nextFiring(plan []models.TimeOfDay, after time.Time, loc *time.Location) time.Time {
	var next time.Time
	for _, tod := range plan {
		candidate := tod.NextAfter(after, loc)
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}
