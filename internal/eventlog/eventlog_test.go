package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/dockyard/internal/db/dbtest"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/models"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestLog(t *testing.T, mirrors ...Mirror) (*Log, *gorm.DB) {
	t.Helper()
	g := dbtest.Open(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(g, Options{Now: clock.Now, Mirrors: mirrors}), g
}

type recordingMirror struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (m *recordingMirror) Name() string { return "recording" }

func (m *recordingMirror) Mirror(_ context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func TestRecord_PersistsRow(t *testing.T) {
	l, g := newTestLog(t)
	l.Record(context.Background(), "r1", "warn", "CMD_ACK", "robot_id=r1 cmd_id=4 status=IGNORED")

	var got []models.Event
	if err := g.Find(&got).Error; err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}
	if got[0].Level != models.LevelWarn || got[0].Type != "CMD_ACK" || got[0].Source != "r1" {
		t.Errorf("event = %+v", got[0])
	}
}

func TestRecord_CancelledContextStillWrites(t *testing.T) {
	l, g := newTestLog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l.Record(ctx, SourceServer, "INFO", "SERVER_STOP", "")

	var n int64
	g.Model(&models.Event{}).Count(&n)
	if n != 1 {
		t.Errorf("rows = %d, want 1", n)
	}
}

func TestRecord_SwallowsWriteFailure(t *testing.T) {
	l, g := newTestLog(t)
	if err := g.Migrator().DropTable(&models.Event{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	// Must not panic or block.
	l.Record(context.Background(), "r1", "ERROR", "BOOM", "")
}

func TestRecord_FansOutToMirrors(t *testing.T) {
	ok := &recordingMirror{}
	failing := &recordingMirror{err: errors.New("broker down")}
	l, _ := newTestLog(t, ok, failing)

	l.Record(context.Background(), "r1", "ERROR", "CMD_ACK", "robot_id=r1 status=FAIL")
	l.Close()

	if len(ok.events) != 1 || ok.events[0].Type != "CMD_ACK" {
		t.Errorf("mirror events = %+v", ok.events)
	}
	if len(failing.events) != 1 {
		t.Errorf("failing mirror should still be called once, got %d", len(failing.events))
	}

	l.Record(context.Background(), "r1", "INFO", "AFTER_CLOSE", "")
	if len(ok.events) != 1 {
		t.Error("closed log must not deliver to mirrors")
	}
}

func TestRecent_NewestFirstAndBounded(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Record(ctx, "r1", "INFO", fmt.Sprintf("E%d", i), "")
	}

	got, err := l.Recent(ctx, 3, "")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"E4", "E3", "E2"}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, ev.Type, want[i])
		}
	}
}

func TestRecent_SameTimestampOrdersByID(t *testing.T) {
	g := dbtest.Open(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(g, Options{Now: func() time.Time { return fixed }})
	ctx := context.Background()
	l.Record(ctx, "r1", "INFO", "FIRST", "")
	l.Record(ctx, "r1", "INFO", "SECOND", "")

	got, err := l.Recent(ctx, 0, "")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Type != "SECOND" || got[1].Type != "FIRST" {
		t.Errorf("order = %+v", got)
	}
}

func TestRecent_RobotFilter(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	l.Record(ctx, "r1", "INFO", "OWN", "")
	l.Record(ctx, SourceServer, "INFO", "MENTION", "robot_id=r1 cmd_id=1")
	l.Record(ctx, "r2", "INFO", "OTHER", "robot_id=r2")

	got, err := l.Recent(ctx, 10, "r1")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].Type != "MENTION" || got[1].Type != "OWN" {
		t.Errorf("got = %s, %s", got[0].Type, got[1].Type)
	}
}

func TestRecent_RobotFilterTreatsWildcardsLiterally(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()
	l.Record(ctx, SourceServer, "INFO", "ONE", "robot_id=r1 cmd_id=1")
	l.Record(ctx, SourceServer, "INFO", "TWO", "robot_id=r22 cmd_id=2")
	l.Record(ctx, SourceServer, "INFO", "UNDERSCORE", "robot_id=r_9 cmd_id=3")

	for _, id := range []string{"r_", "%", "r%", "!", "_1"} {
		got, err := l.Recent(ctx, 10, id)
		if err != nil {
			t.Fatalf("Recent(%q): %v", id, err)
		}
		if len(got) != 0 {
			t.Errorf("Recent(%q) = %d events, want 0: %+v", id, len(got), got)
		}
	}

	got, err := l.Recent(ctx, 10, "r_9")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Type != "UNDERSCORE" {
		t.Errorf("Recent(r_9) = %+v, want only UNDERSCORE", got)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct{ in, want string }{
		{"r1", "r1"},
		{"r_1", "r!_1"},
		{"50%", "50!%"},
		{"a!b", "a!!b"},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.in); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecent_QueryIsBounded(t *testing.T) {
	l := New(dbtest.Open(t), Options{WriteTimeout: 750 * time.Millisecond})

	ctx, cancel := l.ctx(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline on the query context")
	}
	if d := time.Until(deadline); d <= 0 || d > 750*time.Millisecond {
		t.Errorf("deadline in %v, want within 750ms", d)
	}

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	if _, err := l.Recent(cancelled, 10, ""); !fault.Retryable(err) {
		t.Errorf("err = %v, want retryable unavailable fault", err)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 50}, {-3, 1}, {1, 1}, {200, 200}, {500, 500}, {501, 500}, {10000, 500},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeLevel(t *testing.T) {
	tests := map[string]string{
		"info": "INFO", "WARN": "WARN", "warning": "WARN", " error ": "ERROR", "debug": "INFO", "": "INFO",
	}
	for in, want := range tests {
		if got := NormalizeLevel(in); got != want {
			t.Errorf("NormalizeLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
