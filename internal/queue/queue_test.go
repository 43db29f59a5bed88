package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/dockyard/internal/db/dbtest"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/models"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	return New(dbtest.Open(t), Options{Now: c.Now}), c
}

func enqueue(t *testing.T, q *Queue, opts EnqueueOpts) *models.Command {
	t.Helper()
	cmd, err := q.Enqueue(context.Background(), opts)
	if err != nil {
		t.Fatalf("Enqueue(%+v): %v", opts, err)
	}
	return cmd
}

func boolp(b bool) *bool { return &b }

func TestEnqueue_Defaults(t *testing.T) {
	q, c := testQueue(t)
	cmd := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: " IDLE_START "})

	if cmd.ID == 0 {
		t.Error("ID not assigned")
	}
	if cmd.Command != "IDLE_START" {
		t.Errorf("Command = %q", cmd.Command)
	}
	if cmd.Status != models.StatusPending || cmd.Origin != models.OriginManual || cmd.IsAuto {
		t.Errorf("cmd = %+v", cmd)
	}
	if !cmd.CreatedAt.Equal(c.Now()) {
		t.Errorf("CreatedAt = %s", cmd.CreatedAt)
	}

	got, err := q.Get(context.Background(), cmd.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Args == nil || len(got.Args) != 0 {
		t.Errorf("Args = %#v, want empty map", got.Args)
	}
}

func TestEnqueue_IsAutoDerivation(t *testing.T) {
	q, _ := testQueue(t)
	tests := []struct {
		name   string
		origin string
		isAuto *bool
		want   bool
		wantO  string
	}{
		{"auto origin", "AUTO", nil, true, models.OriginAuto},
		{"gui origin", "GUI", nil, false, models.OriginManual},
		{"server origin", "server", nil, false, models.OriginServer},
		{"explicit override", "MANUAL", boolp(true), true, models.OriginManual},
		{"auto overridden off", "AUTO", boolp(false), false, models.OriginAuto},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE", Origin: tt.origin, IsAuto: tt.isAuto})
			if cmd.IsAuto != tt.want || cmd.Origin != tt.wantO {
				t.Errorf("origin=%s is_auto=%v, want %s/%v", cmd.Origin, cmd.IsAuto, tt.wantO, tt.want)
			}
		})
	}
}

func TestEnqueue_Validation(t *testing.T) {
	q, _ := testQueue(t)
	tests := []struct {
		name string
		opts EnqueueOpts
	}{
		{"no robot", EnqueueOpts{Command: "CHARGE"}},
		{"no command", EnqueueOpts{RobotID: "r1"}},
		{"two tokens", EnqueueOpts{RobotID: "r1", Command: "GO HOME"}},
		{"too long", EnqueueOpts{RobotID: "r1", Command: strings.Repeat("X", 65)}},
		{"bad origin", EnqueueOpts{RobotID: "r1", Command: "CHARGE", Origin: "ROBOT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tt.opts)
			if !fault.Is(err, fault.KindValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestEnqueue_NotIdempotent(t *testing.T) {
	q, _ := testQueue(t)
	a := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})
	b := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})
	if a.ID == b.ID || b.ID < a.ID {
		t.Errorf("ids = %d, %d; want distinct and increasing", a.ID, b.ID)
	}
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	q, _ := testQueue(t)
	cmd, err := q.ClaimNext(context.Background(), "r1")
	if err != nil || cmd != nil {
		t.Errorf("ClaimNext = %+v, %v; want nil, nil", cmd, err)
	}
}

func TestClaimNext_ImmediateEligibility(t *testing.T) {
	q, c := testQueue(t)
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "IDLE_START"})

	cmd, err := q.ClaimNext(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if cmd == nil {
		t.Fatal("command with no available_at must be claimable at once")
	}
	if cmd.Status != models.StatusRunning || cmd.ClaimedAt == nil || !cmd.ClaimedAt.Equal(c.Now()) {
		t.Errorf("claimed = %+v", cmd)
	}
}

func TestClaimNext_Ordering(t *testing.T) {
	q, c := testQueue(t)
	later := c.Now().Add(-1 * time.Minute)
	earlier := c.Now().Add(-2 * time.Minute)
	future := c.Now().Add(time.Hour)

	scheduledLate := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "B", AvailableAt: &later})
	c.Advance(time.Second)
	scheduledEarly := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "A", AvailableAt: &earlier})
	c.Advance(time.Second)
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "FUTURE", AvailableAt: &future})
	c.Advance(time.Second)
	immediate := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "NOW"})
	enqueue(t, q, EnqueueOpts{RobotID: "r2", Command: "OTHER"})

	want := []uint64{immediate.ID, scheduledEarly.ID, scheduledLate.ID}
	for i, id := range want {
		cmd, err := q.ClaimNext(context.Background(), "r1")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if cmd == nil || cmd.ID != id {
			t.Fatalf("claim %d = %+v, want id %d", i, cmd, id)
		}
	}

	cmd, err := q.ClaimNext(context.Background(), "r1")
	if err != nil || cmd != nil {
		t.Errorf("future command claimed early: %+v, %v", cmd, err)
	}

	c.Advance(2 * time.Hour)
	cmd, err = q.ClaimNext(context.Background(), "r1")
	if err != nil || cmd == nil || cmd.Command != "FUTURE" {
		t.Errorf("after available_at: %+v, %v", cmd, err)
	}
}

func TestClaimNext_SameCreatedAtOrdersByID(t *testing.T) {
	q, _ := testQueue(t)
	first := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "A"})
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "B"})

	cmd, err := q.ClaimNext(context.Background(), "r1")
	if err != nil || cmd == nil || cmd.ID != first.ID {
		t.Errorf("ClaimNext = %+v, %v; want id %d", cmd, err, first.ID)
	}
}

func TestClaimNext_SingleFlight(t *testing.T) {
	q, _ := testQueue(t)
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})

	const pollers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			cmd, err := q.ClaimNext(context.Background(), "r1")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if cmd != nil {
				winners++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("claim errors: %v", errs)
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestAcknowledge_LastWriteWins(t *testing.T) {
	q, c := testQueue(t)
	ctx := context.Background()
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})
	claimed, err := q.ClaimNext(ctx, "r1")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v, %v", claimed, err)
	}

	c.Advance(time.Second)
	if _, err := q.Acknowledge(ctx, AckOpts{ID: claimed.ID, RobotID: "r1", Status: "DONE"}); err != nil {
		t.Fatalf("first ack: %v", err)
	}
	c.Advance(time.Second)
	got, err := q.Acknowledge(ctx, AckOpts{ID: claimed.ID, RobotID: "r1", Status: "fail", Detail: "late"})
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if got.Status != models.StatusFail || got.Detail != "late" {
		t.Errorf("after second ack = %s/%q", got.Status, got.Detail)
	}
	if got.DoneAt == nil || !got.DoneAt.Equal(c.Now()) {
		t.Errorf("DoneAt = %v, want %s", got.DoneAt, c.Now())
	}
}

func TestAcknowledge_DefaultsToDone(t *testing.T) {
	q, _ := testQueue(t)
	cmd := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})
	got, err := q.Acknowledge(context.Background(), AckOpts{ID: cmd.ID, RobotID: "r1"})
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got.Status != models.StatusDone {
		t.Errorf("Status = %s, want DONE", got.Status)
	}
}

func TestAcknowledge_Mismatch(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	cmd := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})

	_, err := q.Acknowledge(ctx, AckOpts{ID: cmd.ID, RobotID: "r2", Status: "DONE"})
	if !fault.Is(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	_, err = q.Acknowledge(ctx, AckOpts{ID: cmd.ID + 100, RobotID: "r1", Status: "DONE"})
	if !fault.Is(err, fault.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	got, _ := q.Get(ctx, cmd.ID)
	if got.Status != models.StatusPending {
		t.Errorf("mismatched ack changed status to %s", got.Status)
	}
}

func TestAcknowledge_Validation(t *testing.T) {
	q, _ := testQueue(t)
	_, err := q.Acknowledge(context.Background(), AckOpts{ID: 1, RobotID: "r1", Status: "RUNNING"})
	if !fault.Is(err, fault.KindValidation) {
		t.Errorf("non-terminal status: err = %v", err)
	}
	_, err = q.Acknowledge(context.Background(), AckOpts{RobotID: "r1"})
	if !fault.Is(err, fault.KindValidation) {
		t.Errorf("missing id: err = %v", err)
	}
}

func TestAcknowledge_TruncatesDetail(t *testing.T) {
	q, _ := testQueue(t)
	cmd := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE"})
	long := strings.Repeat("é", 300)

	got, err := q.Acknowledge(context.Background(), AckOpts{ID: cmd.ID, RobotID: "r1", Status: "FAIL", Detail: long})
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if n := len([]rune(got.Detail)); n != models.DetailMaxLen {
		t.Errorf("detail runes = %d, want %d", n, models.DetailMaxLen)
	}
}

func TestList_NewestFirstWithFilter(t *testing.T) {
	q, c := testQueue(t)
	ctx := context.Background()
	a := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "A"})
	c.Advance(time.Second)
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "B"})
	c.Advance(time.Second)
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "C"})
	if _, err := q.Acknowledge(ctx, AckOpts{ID: a.ID, RobotID: "r1"}); err != nil {
		t.Fatal(err)
	}

	all, err := q.List(ctx, "r1", ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].Command != "C" || all[2].Command != "A" {
		t.Errorf("List = %+v", all)
	}

	pending, err := q.List(ctx, "r1", ListFilter{Statuses: []string{"pending"}, Limit: 1})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(pending) != 1 || pending[0].Command != "C" {
		t.Errorf("filtered = %+v", pending)
	}
}

func TestHasActiveAndLastCompletion(t *testing.T) {
	q, c := testQueue(t)
	ctx := context.Background()

	active, err := q.HasActive(ctx, "r1")
	if err != nil || active {
		t.Fatalf("HasActive on empty = %v, %v", active, err)
	}
	last, err := q.LastCompletion(ctx, "r1")
	if err != nil || last != nil {
		t.Fatalf("LastCompletion on empty = %v, %v", last, err)
	}

	cmd := enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "CHARGE", IsAuto: boolp(false)})
	if active, _ = q.HasActive(ctx, "r1"); !active {
		t.Error("PENDING command must count as active")
	}
	if _, err := q.ClaimNext(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if active, _ = q.HasActive(ctx, "r1"); !active {
		t.Error("RUNNING command must count as active")
	}

	c.Advance(3 * time.Second)
	if _, err := q.Acknowledge(ctx, AckOpts{ID: cmd.ID, RobotID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if active, _ = q.HasActive(ctx, "r1"); active {
		t.Error("closed command must not count as active")
	}
	last, err = q.LastCompletion(ctx, "r1")
	if err != nil || last == nil || !last.Equal(c.Now()) {
		t.Errorf("LastCompletion = %v, %v; want %s", last, err, c.Now())
	}
}

func TestClear(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "A"})
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "B"})
	enqueue(t, q, EnqueueOpts{RobotID: "r2", Command: "C"})
	if _, err := q.ClaimNext(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	n, err := q.Clear(ctx, "r1", "pending")
	if err != nil || n != 1 {
		t.Fatalf("Clear PENDING = %d, %v; want 1", n, err)
	}
	if active, _ := q.HasActive(ctx, "r1"); !active {
		t.Error("RUNNING command must survive a PENDING clear")
	}

	n, err = q.Clear(ctx, "r1", ClearAll)
	if err != nil || n != 1 {
		t.Fatalf("Clear ALL = %d, %v; want 1", n, err)
	}
	if active, _ := q.HasActive(ctx, "r1"); active {
		t.Error("ALL clear must cancel RUNNING commands")
	}
	if active, _ := q.HasActive(ctx, "r2"); !active {
		t.Error("other robots must be untouched")
	}

	cmds, _ := q.List(ctx, "r1", ListFilter{Statuses: []string{models.StatusCanceled}})
	for _, c := range cmds {
		if c.Detail != ClearedDetail || c.DoneAt == nil {
			t.Errorf("cleared command = %+v", c)
		}
	}

	if _, err := q.Clear(ctx, "r1", "SOME"); !fault.Is(err, fault.KindValidation) {
		t.Errorf("bad mode err = %v", err)
	}
}

func TestCountByStatus(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()
	enqueue(t, q, EnqueueOpts{RobotID: "r1", Command: "A"})
	enqueue(t, q, EnqueueOpts{RobotID: "r2", Command: "B"})
	done := enqueue(t, q, EnqueueOpts{RobotID: "r2", Command: "C"})
	if _, err := q.Acknowledge(ctx, AckOpts{ID: done.ID, RobotID: "r2"}); err != nil {
		t.Fatal(err)
	}

	got, err := q.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if got[models.StatusPending] != 2 || got[models.StatusDone] != 1 {
		t.Errorf("counts = %v", got)
	}
}

func TestNormalizeOrigin(t *testing.T) {
	tests := map[string]string{"": "MANUAL", "gui": "MANUAL", "MANUAL": "MANUAL", "auto": "AUTO", "SERVER": "SERVER"}
	for in, want := range tests {
		got, err := NormalizeOrigin(in)
		if err != nil || got != want {
			t.Errorf("NormalizeOrigin(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeOrigin("ROS"); err == nil {
		t.Error("unknown origin should fail")
	}
}
