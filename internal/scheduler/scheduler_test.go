package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pricepulse/pricepulse-bot/internal/models"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q) error = %v", name, err)
	}
	return loc
}

func TestTimeOfDayNextAfter(t *testing.T) {
	loc := mustLoadLocation(t, "America/Toronto")

	tests := []struct {
		name string
		tod  models.TimeOfDay
		now  time.Time
		want time.Time
	}{
		{
			name: "later today",
			tod:  models.TimeOfDay{Hour: 20, Minute: 0},
			now:  time.Date(2026, 3, 2, 8, 30, 0, 0, loc),
			want: time.Date(2026, 3, 2, 20, 0, 0, 0, loc),
		},
		{
			name: "already passed rolls to tomorrow",
			tod:  models.TimeOfDay{Hour: 8, Minute: 0},
			now:  time.Date(2026, 3, 2, 8, 30, 0, 0, loc),
			want: time.Date(2026, 3, 3, 8, 0, 0, 0, loc),
		},
		{
			name: "exact trigger time rolls to tomorrow",
			tod:  models.TimeOfDay{Hour: 8, Minute: 0},
			now:  time.Date(2026, 3, 2, 8, 0, 0, 0, loc),
			want: time.Date(2026, 3, 3, 8, 0, 0, 0, loc),
		},
		{
			// DST spring-forward: 2026-03-08 02:30 does not exist in Toronto.
			name: "across DST transition",
			tod:  models.TimeOfDay{Hour: 8, Minute: 0},
			now:  time.Date(2026, 3, 7, 22, 0, 0, 0, loc),
			want: time.Date(2026, 3, 8, 8, 0, 0, 0, loc),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.tod.NextAfter(tc.now, loc)
			if !got.Equal(tc.want) {
				t.Errorf("NextAfter(%v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}

func TestNextFiring_EarliestAcrossPlan(t *testing.T) {
	loc := mustLoadLocation(t, "America/Toronto")
	plan := []models.TimeOfDay{
		{Hour: 8, Minute: 0},
		{Hour: 20, Minute: 0},
	}

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, loc)
	got := nextFiring(plan, now, loc)
	want := time.Date(2026, 3, 2, 20, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("nextFiring at 09:00 = %v, want 20:00 today", got)
	}

	now = time.Date(2026, 3, 2, 21, 0, 0, 0, loc)
	got = nextFiring(plan, now, loc)
	want = time.Date(2026, 3, 3, 8, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Errorf("nextFiring at 21:00 = %v, want 08:00 tomorrow", got)
	}
}

func TestNextPublishAt_UsesInjectedClock(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	s := New([]models.TimeOfDay{{Hour: 12, Minute: 0}}, loc, nil, nil, nil, time.Hour, time.Hour)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 11, 0, 0, 0, loc) }

	want := time.Date(2026, 6, 1, 12, 0, 0, 0, loc)
	if got := s.NextPublishAt(); !got.Equal(want) {
		t.Errorf("NextPublishAt() = %v, want %v", got, want)
	}
}

func TestRunSingleFlight_SkipsOverlap(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	task := func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}

	s := New([]models.TimeOfDay{{Hour: 0, Minute: 0}}, loc, task, nil, nil, time.Hour, time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runSingleFlight(context.Background(), models.TaskPublish, &s.publishBusy, task)
	}()
	<-started

	// Second firing while the first is in flight must be skipped, not queued.
	if s.runSingleFlight(context.Background(), models.TaskPublish, &s.publishBusy, task) {
		t.Error("Overlapping firing must be skipped")
	}

	close(release)
	wg.Wait()

	if got := runs.Load(); got != 1 {
		t.Errorf("Task ran %d times, want 1", got)
	}

	// After the first completes, the next firing runs again.
	release = make(chan struct{})
	close(release)
	done := make(chan struct{})
	go func() {
		s.runSingleFlight(context.Background(), models.TaskPublish, &s.publishBusy, func(ctx context.Context) error {
			return nil
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subsequent firing never ran")
	}
}

func TestRunSingleFlight_ContainsPanic(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	task := func(ctx context.Context) error { panic("cycle blew up") }
	s := New([]models.TimeOfDay{{Hour: 0, Minute: 0}}, loc, task, nil, nil, time.Hour, time.Hour)

	// Must not propagate the panic, and must release the busy flag.
	s.runSingleFlight(context.Background(), models.TaskPublish, &s.publishBusy, task)
	if s.publishBusy.Load() {
		t.Error("Busy flag must be released after a panicking task")
	}
}

func TestRunSingleFlight_SwallowsTaskError(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	task := func(ctx context.Context) error { return errors.New("cycle failed") }
	s := New([]models.TimeOfDay{{Hour: 0, Minute: 0}}, loc, task, nil, nil, time.Hour, time.Hour)

	if !s.runSingleFlight(context.Background(), models.TaskPublish, &s.publishBusy, task) {
		t.Error("A failing task still counts as a completed firing")
	}
	if s.publishBusy.Load() {
		t.Error("Busy flag must be released after a failing task")
	}
}

func TestIntervalTasksRunOnceAtStartup(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")

	var ingests, analyses atomic.Int32
	ingest := func(ctx context.Context) error { ingests.Add(1); return nil }
	analyze := func(ctx context.Context) error { analyses.Add(1); return nil }
	publish := func(ctx context.Context) error { return nil }

	s := New([]models.TimeOfDay{{Hour: 23, Minute: 59}}, loc, publish, ingest, analyze, time.Hour, time.Hour)
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(time.Second)
	for ingests.Load() == 0 || analyses.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("Startup runs missing: ingest=%d analyze=%d", ingests.Load(), analyses.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTriggerPublishNow(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	var runs atomic.Int32
	publish := func(ctx context.Context) error { runs.Add(1); return nil }

	s := New([]models.TimeOfDay{{Hour: 23, Minute: 59}}, loc, publish, nil, nil, time.Hour, time.Hour)
	if !s.TriggerPublishNow(context.Background()) {
		t.Fatal("Manual trigger should run when idle")
	}
	if runs.Load() != 1 {
		t.Errorf("Publish ran %d times, want 1", runs.Load())
	}
}

func TestRearmReplacesPlan(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	publish := func(ctx context.Context) error { return nil }
	ingest := func(ctx context.Context) error { return nil }
	analyze := func(ctx context.Context) error { return nil }

	s := New([]models.TimeOfDay{{Hour: 6, Minute: 0}}, loc, publish, ingest, analyze, time.Hour, time.Hour)
	s.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, loc) }
	s.Start(context.Background())
	defer s.Stop()

	done := make(chan bool, 1)
	go func() {
		done <- s.Rearm([]models.TimeOfDay{{Hour: 18, Minute: 0}})
	}()
	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Rearm on a running scheduler must succeed")
		}
	case <-time.After(time.Second):
		t.Fatal("Rearm never completed; publish loop not consuming")
	}

	want := time.Date(2026, 6, 1, 18, 0, 0, 0, loc)
	if got := s.NextPublishAt(); !got.Equal(want) {
		t.Errorf("NextPublishAt() after rearm = %v, want %v", got, want)
	}
}

func TestRearm_StoppedSchedulerDoesNotBlock(t *testing.T) {
	loc := mustLoadLocation(t, "UTC")
	publish := func(ctx context.Context) error { return nil }

	noop := func(ctx context.Context) error { return nil }
	s := New([]models.TimeOfDay{{Hour: 6, Minute: 0}}, loc, publish, noop, noop, time.Hour, time.Hour)

	// Before Start there is no loop to consume the plan.
	if s.Rearm([]models.TimeOfDay{{Hour: 9, Minute: 0}}) {
		t.Error("Rearm before Start must report failure")
	}

	s.Start(context.Background())
	s.Stop()

	done := make(chan bool, 1)
	go func() {
		done <- s.Rearm([]models.TimeOfDay{{Hour: 9, Minute: 0}})
	}()
	select {
	case ok := <-done:
		if ok {
			t.Error("Rearm after Stop must report failure")
		}
	case <-time.After(time.Second):
		t.Fatal("Rearm blocked on a stopped scheduler")
	}
}
