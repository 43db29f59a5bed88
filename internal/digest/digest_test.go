package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/dockyard/internal/db/dbtest"
	"github.com/zulandar/dockyard/internal/models"
	"github.com/zulandar/dockyard/internal/queue"
	"github.com/zulandar/dockyard/internal/state"
)

type recorder struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recorder) Record(_ context.Context, src, level, event, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.Event{Source: src, Level: level, Type: event, Detail: detail})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type failingCounter struct{}

func (failingCounter) CountByStatus(context.Context) (map[string]int64, error) {
	return nil, errors.New("db down")
}

func TestNextCronDuration_ValidExpression(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	// "0 9 * * *" = daily at 09:00.
	if d := nextCronDuration("0 9 * * *", now); d != 30*time.Minute {
		t.Fatalf("expected 30m, got %v", d)
	}
}

func TestNextCronDuration_InvalidExpression(t *testing.T) {
	if d := nextCronDuration("not a cron expr", time.Now()); d != 0 {
		t.Fatalf("expected 0 for invalid expression, got %v", d)
	}
}

func TestNextCronDuration_EveryMinute(t *testing.T) {
	d := nextCronDuration("* * * * *", time.Now())
	if d <= 0 || d > 61*time.Second {
		t.Fatalf("expected duration in (0, 61s], got %v", d)
	}
}

func TestNew_Validation(t *testing.T) {
	rec := &recorder{}
	if _, err := New("bogus", Options{Events: rec}); err == nil {
		t.Error("expected error for bad schedule")
	}
	if _, err := New("0 * * * *", Options{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}

func TestEmit_SummarisesFleet(t *testing.T) {
	g := dbtest.Open(t)
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	q := queue.New(g, queue.Options{Now: now})
	st := state.New(g, 0, now)
	ctx := context.Background()

	low, ok := 12.0, 80.0
	for _, s := range []models.RobotState{
		{RobotID: "r1", BatteryPct: &low},
		{RobotID: "r2", BatteryPct: &ok},
		{RobotID: "r3"},
	} {
		if _, err := st.Upsert(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	for _, c := range []string{"A", "B"} {
		if _, err := q.Enqueue(ctx, queue.EnqueueOpts{RobotID: "r1", Command: c}); err != nil {
			t.Fatal(err)
		}
	}

	rec := &recorder{}
	s, err := New("0 * * * *", Options{Queue: q, States: st, Events: rec, BatteryThreshold: 30, Now: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(ctx); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("events = %v", rec.events)
	}
	ev := rec.events[0]
	if ev.Type != EventDigest || ev.Level != models.LevelWarn || ev.Source != "SERVER" {
		t.Errorf("event = %+v", ev)
	}
	want := "robots=3 low_battery=1 no_battery=1 pending=2 running=0 done=0 fail=0 ignored=0 canceled=0"
	if ev.Detail != want {
		t.Errorf("detail = %q, want %q", ev.Detail, want)
	}
}

func TestEmit_FailureIsRecorded(t *testing.T) {
	g := dbtest.Open(t)
	rec := &recorder{}
	s, err := New("0 * * * *", Options{Queue: failingCounter{}, States: state.New(g, 0, nil), Events: rec})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Emit(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if rec.count() != 1 || rec.events[0].Level != models.LevelError || !strings.Contains(rec.events[0].Detail, "db down") {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	g := dbtest.Open(t)
	s, err := New("0 0 1 1 *", Options{Queue: queue.New(g, queue.Options{}), States: state.New(g, 0, nil), Events: &recorder{}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
