// Package digest periodically records a FLEET_DIGEST event summarising queue
// counts and robot battery levels on a cron schedule.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/zulandar/dockyard/internal/eventlog"
	"github.com/zulandar/dockyard/internal/models"
)

// EventDigest is the audit event type written on each fire.
const EventDigest = "FLEET_DIGEST"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// from now until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Counter reports command counts per status.
type Counter interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// StateLister lists robot snapshots.
type StateLister interface {
	List(ctx context.Context) ([]models.RobotState, error)
}

// Recorder receives audit events.
type Recorder interface {
	Record(ctx context.Context, src, level, event, detail string)
}

// Options configures a Scheduler.
type Options struct {
	Queue            Counter
	States           StateLister
	Events           Recorder
	BatteryThreshold float64
	Logger           zerolog.Logger
	Now              func() time.Time
}

// Scheduler fires digests on a cron schedule.
type Scheduler struct {
	expr      string
	queue     Counter
	states    StateLister
	events    Recorder
	threshold float64
	log       zerolog.Logger
	now       func() time.Time
}

// New validates expr and returns a Scheduler.
func New(expr string, opts Options) (*Scheduler, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return nil, fmt.Errorf("digest: parse schedule %q: %w", expr, err)
	}
	if opts.Queue == nil || opts.States == nil || opts.Events == nil {
		return nil, fmt.Errorf("digest: queue, states and events are required")
	}
	s := &Scheduler{
		expr:      expr,
		queue:     opts.Queue,
		states:    opts.States,
		events:    opts.Events,
		threshold: opts.BatteryThreshold,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Report is one digest's content.
type Report struct {
	Robots     int
	LowBattery int
	NoBattery  int
	Commands   map[string]int64
}

// Build computes a Report from the current store contents.
func (s *Scheduler) Build(ctx context.Context) (*Report, error) {
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("digest: count commands: %w", err)
	}
	states, err := s.states.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("digest: list states: %w", err)
	}

	r := &Report{Robots: len(states), Commands: counts}
	for _, st := range states {
		switch {
		case st.BatteryPct == nil:
			r.NoBattery++
		case *st.BatteryPct < s.threshold:
			r.LowBattery++
		}
	}
	return r, nil
}

var statusOrder = []string{
	models.StatusPending,
	models.StatusRunning,
	models.StatusDone,
	models.StatusFail,
	models.StatusIgnored,
	models.StatusCanceled,
}

// FormatDetail renders a Report as a key=value event detail.
func FormatDetail(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "robots=%d low_battery=%d no_battery=%d", r.Robots, r.LowBattery, r.NoBattery)
	for _, st := range statusOrder {
		fmt.Fprintf(&b, " %s=%d", strings.ToLower(st), r.Commands[st])
	}
	return b.String()
}

// Emit builds a digest and records it. Failures are recorded as an ERROR
// digest event and returned.
func (s *Scheduler) Emit(ctx context.Context) error {
	r, err := s.Build(ctx)
	if err != nil {
		s.events.Record(ctx, eventlog.SourceServer, models.LevelError, EventDigest, err.Error())
		return err
	}
	level := models.LevelInfo
	if r.LowBattery > 0 || r.Commands[models.StatusFail] > 0 {
		level = models.LevelWarn
	}
	s.events.Record(ctx, eventlog.SourceServer, level, EventDigest, FormatDetail(r))
	return nil
}

// Run sleeps until each cron fire time and emits a digest, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait := nextCronDuration(s.expr, s.now())
		if wait <= 0 {
			wait = time.Minute
		}
		s.log.Debug().Dur("wait", wait).Msg("next digest scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if err := s.Emit(ctx); err != nil {
			s.log.Warn().Err(err).Msg("digest failed")
		}
	}
}
