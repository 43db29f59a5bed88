// Package policy runs the auto-policy loop that injects IDLE_START or CHARGE
// for robots that have gone quiet with nothing queued.
package policy

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/dockyard/internal/metrics"
	"github.com/zulandar/dockyard/internal/models"
	"github.com/zulandar/dockyard/internal/queue"
)

// Synthesized commands.
const (
	CommandIdleStart = "IDLE_START"
	CommandCharge    = "CHARGE"
)

// EventAutoEnqueued is written for every synthesized command.
const EventAutoEnqueued = "AUTO_ENQ"

const (
	DefaultTick             = time.Second
	DefaultTriggerAfter     = 6 * time.Second
	DefaultCooldown         = 7 * time.Second
	DefaultBatteryThreshold = 30.0
)

// StateLister supplies the robots to sweep.
type StateLister interface {
	List(ctx context.Context) ([]models.RobotState, error)
}

// CommandQueue is the subset of the queue the engine reads and writes.
type CommandQueue interface {
	HasActive(ctx context.Context, robotID string) (bool, error)
	LastCompletion(ctx context.Context, robotID string) (*time.Time, error)
	Enqueue(ctx context.Context, opts queue.EnqueueOpts) (*models.Command, error)
}

// Recorder receives audit events.
type Recorder interface {
	Record(ctx context.Context, src, level, event, detail string)
}

// Config tunes the engine.
type Config struct {
	Tick             time.Duration
	TriggerAfter     time.Duration
	Cooldown         time.Duration
	BatteryThreshold *float64 // nil means DefaultBatteryThreshold; 0 never charges
}

func (c *Config) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.TriggerAfter <= 0 {
		c.TriggerAfter = DefaultTriggerAfter
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	threshold := DefaultBatteryThreshold
	if c.BatteryThreshold != nil {
		threshold = *c.BatteryThreshold
	}
	c.BatteryThreshold = &threshold
}

// Options wires the engine's collaborators.
type Options struct {
	States  StateLister
	Queue   CommandQueue
	Events  Recorder
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine holds the per-robot volatile memory of the policy loop. The seeded
// set and the lastAuto cooldown map are lost on restart, which at most allows
// one extra auto command per robot.
type Engine struct {
	cfg     Config
	states  StateLister
	queue   CommandQueue
	events  Recorder
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	seeded   map[string]bool
	lastAuto map[string]time.Time
}

// New returns an engine. States and Queue are required.
func New(cfg Config, opts Options) (*Engine, error) {
	if opts.States == nil {
		return nil, fmt.Errorf("policy: state lister is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("policy: queue is required")
	}
	cfg.applyDefaults()
	if t := *cfg.BatteryThreshold; math.IsNaN(t) || t < 0 || t > 100 {
		return nil, fmt.Errorf("policy: battery threshold %v out of range 0-100", t)
	}
	e := &Engine{
		cfg:      cfg,
		states:   opts.States,
		queue:    opts.Queue,
		events:   opts.Events,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
		seeded:   make(map[string]bool),
		lastAuto: make(map[string]time.Time),
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Decision is the command the engine would synthesize and why.
type Decision struct {
	Command string
	Detail  string
}

// Decide picks CHARGE when battery is below threshold and IDLE_START
// otherwise. Missing or unusable battery data falls back to IDLE_START.
func Decide(battery *float64, threshold float64) Decision {
	if battery == nil {
		return Decision{Command: CommandIdleStart, Detail: "missing battery data"}
	}
	b := *battery
	if math.IsNaN(b) || math.IsInf(b, 0) || b < 0 || b > 100 {
		return Decision{Command: CommandIdleStart, Detail: "battery parse failed"}
	}
	if b < threshold {
		return Decision{Command: CommandCharge, Detail: fmt.Sprintf("battery %.0f%% < %.0f%%", b, threshold)}
	}
	return Decision{Command: CommandIdleStart, Detail: fmt.Sprintf("battery %.0f%% >= %.0f%%", b, threshold)}
}

// Run sweeps once immediately and then every Tick until ctx is done. Errors
// never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().
		Dur("tick", e.cfg.Tick).
		Dur("trigger_after", e.cfg.TriggerAfter).
		Dur("cooldown", e.cfg.Cooldown).
		Float64("battery_threshold", *e.cfg.BatteryThreshold).
		Msg("auto policy enabled")

	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()
	for {
		if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn().Err(err).Msg("auto policy sweep failed")
		}
		select {
		case <-ctx.Done():
			e.log.Info().Msg("auto policy stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick performs one sweep over every known robot and returns the commands it
// enqueued. A failure for one robot is logged and the sweep moves on; only a
// failure to list robots aborts the tick.
func (e *Engine) Tick(ctx context.Context) ([]*models.Command, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	robots, err := e.states.List(ctx)
	if err != nil {
		e.metrics.PolicyError()
		return nil, fmt.Errorf("policy: list robots: %w", err)
	}
	e.metrics.PolicyTick()

	var enqueued []*models.Command
	for _, r := range robots {
		if ctx.Err() != nil {
			break
		}
		robotID := strings.TrimSpace(r.RobotID)
		if robotID == "" {
			continue
		}
		cmd, err := e.evaluate(ctx, robotID, r.BatteryPct)
		if err != nil {
			e.metrics.PolicyError()
			e.log.Warn().Err(err).Str("robot_id", robotID).Msg("auto policy skipped robot")
			continue
		}
		if cmd != nil {
			enqueued = append(enqueued, cmd)
		}
	}
	return enqueued, nil
}

func (e *Engine) evaluate(ctx context.Context, robotID string, battery *float64) (*models.Command, error) {
	active, err := e.queue.HasActive(ctx, robotID)
	if err != nil {
		return nil, fmt.Errorf("policy: active check: %w", err)
	}
	if active {
		return nil, nil
	}

	last, err := e.queue.LastCompletion(ctx, robotID)
	if err != nil {
		return nil, fmt.Errorf("policy: last completion: %w", err)
	}
	now := e.now()

	bootstrap := last == nil
	if bootstrap {
		if e.seeded[robotID] {
			return nil, nil
		}
	} else if now.Sub(*last) < e.cfg.TriggerAfter {
		return nil, nil
	}

	if prev, ok := e.lastAuto[robotID]; ok && now.Sub(prev) < e.cfg.Cooldown {
		return nil, nil
	}

	d := Decide(battery, *e.cfg.BatteryThreshold)
	detail := d.Detail
	if bootstrap {
		detail = "bootstrap: " + detail
	}

	cmd, err := e.queue.Enqueue(ctx, queue.EnqueueOpts{
		RobotID: robotID,
		Command: d.Command,
		Payload: "{}",
		Detail:  detail,
		Origin:  models.OriginAuto,
		IsAuto:  boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("policy: enqueue %s: %w", d.Command, err)
	}

	e.lastAuto[robotID] = now
	if bootstrap {
		e.seeded[robotID] = true
	}
	e.metrics.PolicyEnqueued(d.Command)
	if e.events != nil {
		e.events.Record(ctx, robotID, models.LevelInfo, EventAutoEnqueued,
			fmt.Sprintf("robot_id=%s cmd_id=%d command=%s detail=%s", robotID, cmd.ID, cmd.Command, detail))
	}
	return cmd, nil
}

func boolPtr(b bool) *bool { return &b }
