// Package queue implements the per-robot durable command queue: enqueue,
// single-flight claim, acknowledgement and operator clears.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/metrics"
	"github.com/zulandar/dockyard/internal/models"
	"gorm.io/gorm"
)

const (
	// MaxCommandLen bounds a command name.
	MaxCommandLen = 64
	// DefaultListLimit applies when List is called without a limit.
	DefaultListLimit = 50
	// MaxListLimit caps List.
	MaxListLimit = 500

	// ClearedDetail is written on commands canceled by Clear.
	ClearedDetail = "cleared by operator"
)

// Clear modes.
const (
	ClearPending = "PENDING"
	ClearAll     = "ALL"
)

// Options configures a Queue.
type Options struct {
	OpTimeout time.Duration
	Now       func() time.Time
	Metrics   *metrics.Metrics
}

// Queue reads and writes the commands table.
type Queue struct {
	db        *gorm.DB
	opTimeout time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
}

// New returns a Queue backed by g.
func New(g *gorm.DB, opts Options) *Queue {
	q := &Queue{db: g, opTimeout: opts.OpTimeout, now: opts.Now, metrics: opts.Metrics}
	if q.now == nil {
		q.now = time.Now
	}
	return q
}

func (q *Queue) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, q.opTimeout)
}

// EnqueueOpts describes a new command.
type EnqueueOpts struct {
	RobotID     string
	Command     string
	Payload     string
	Args        map[string]any
	Detail      string
	Origin      string // "", GUI, MANUAL, AUTO or SERVER
	IsAuto      *bool  // nil derives from Origin
	AvailableAt *time.Time
}

// NormalizeOrigin maps a caller-supplied origin onto MANUAL, AUTO or SERVER.
// Empty and GUI mean MANUAL.
func NormalizeOrigin(origin string) (string, error) {
	switch o := strings.ToUpper(strings.TrimSpace(origin)); o {
	case "", "GUI", models.OriginManual:
		return models.OriginManual, nil
	case models.OriginAuto, models.OriginServer:
		return o, nil
	default:
		return "", fault.Validation("queue: enqueue", "unknown origin %q", origin)
	}
}

// NormalizeCommand trims name and checks it is a single token.
func NormalizeCommand(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fault.Validation("queue: enqueue", "command is required")
	}
	if strings.ContainsFunc(name, unicode.IsSpace) {
		return "", fault.Validation("queue: enqueue", "command %q must be a single token", name)
	}
	if utf8.RuneCountInString(name) > MaxCommandLen {
		return "", fault.Validation("queue: enqueue", "command longer than %d characters", MaxCommandLen)
	}
	return name, nil
}

// TruncateDetail cuts s to models.DetailMaxLen runes.
func TruncateDetail(s string) string {
	if utf8.RuneCountInString(s) <= models.DetailMaxLen {
		return s
	}
	return string([]rune(s)[:models.DetailMaxLen])
}

// Enqueue appends a PENDING command. Enqueue is not idempotent: two calls
// create two commands.
func (q *Queue) Enqueue(ctx context.Context, opts EnqueueOpts) (*models.Command, error) {
	robotID := strings.TrimSpace(opts.RobotID)
	if robotID == "" {
		return nil, fault.Validation("queue: enqueue", "robot_id is required")
	}
	name, err := NormalizeCommand(opts.Command)
	if err != nil {
		return nil, err
	}
	origin, err := NormalizeOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	isAuto := origin == models.OriginAuto
	if opts.IsAuto != nil {
		isAuto = *opts.IsAuto
	}
	args := opts.Args
	if args == nil {
		args = map[string]any{}
	}

	cmd := models.Command{
		RobotID:     robotID,
		Command:     name,
		Payload:     opts.Payload,
		Args:        args,
		Status:      models.StatusPending,
		Detail:      TruncateDetail(opts.Detail),
		Origin:      origin,
		IsAuto:      isAuto,
		CreatedAt:   q.now().UTC(),
		AvailableAt: utc(opts.AvailableAt),
	}

	ctx, cancel := q.ctx(ctx)
	defer cancel()
	if err := q.db.WithContext(ctx).Create(&cmd).Error; err != nil {
		return nil, db.Classify("queue: enqueue", err)
	}
	q.metrics.CommandEnqueued(origin)
	return &cmd, nil
}

// ClaimNext moves the robot's next eligible PENDING command to RUNNING and
// returns it. Eligible means available_at is NULL or not in the future;
// NULL sorts first, then available_at, created_at and id ascending.
//
// The transition is a conditional UPDATE on status = PENDING. When a
// concurrent claimer wins the row, ClaimNext returns (nil, nil) exactly as
// for an empty queue and the caller re-polls.
func (q *Queue) ClaimNext(ctx context.Context, robotID string) (*models.Command, error) {
	robotID = strings.TrimSpace(robotID)
	if robotID == "" {
		return nil, fault.Validation("queue: claim", "robot_id is required")
	}
	ctx, cancel := q.ctx(ctx)
	defer cancel()

	now := q.now().UTC()
	tx := q.db.WithContext(ctx)

	var cand models.Command
	res := tx.Where("robot_id = ? AND status = ?", robotID, models.StatusPending).
		Where("available_at IS NULL OR available_at <= ?", now).
		Order("(available_at IS NULL) DESC").
		Order("available_at ASC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(1).
		Find(&cand)
	if res.Error != nil {
		return nil, db.Classify("queue: claim", res.Error)
	}
	if res.RowsAffected == 0 {
		q.metrics.ClaimResult("empty")
		return nil, nil
	}

	upd := tx.Model(&models.Command{}).
		Where("id = ? AND status = ?", cand.ID, models.StatusPending).
		Updates(map[string]any{
			"status":     models.StatusRunning,
			"claimed_at": now,
		})
	if upd.Error != nil {
		return nil, db.Classify("queue: claim", upd.Error)
	}
	if upd.RowsAffected == 0 {
		q.metrics.ClaimResult("lost")
		return nil, nil
	}

	cand.Status = models.StatusRunning
	cand.ClaimedAt = &now
	q.metrics.ClaimResult("claimed")
	return &cand, nil
}

// AckOpts closes a command.
type AckOpts struct {
	ID      uint64
	RobotID string
	Status  string // terminal status; empty means DONE
	Detail  string
}

// NormalizeAckStatus upper-cases status, defaults it to DONE and rejects
// non-terminal values.
func NormalizeAckStatus(status string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(status))
	if s == "" {
		return models.StatusDone, nil
	}
	if !models.IsTerminal(s) {
		return "", fault.Validation("queue: ack", "status %q is not terminal", status)
	}
	return s, nil
}

// Acknowledge records the executor's outcome. The update matches on both id
// and robot_id; no match is a Conflict fault and changes nothing. Acking an
// already closed command overwrites status, detail and done_at.
func (q *Queue) Acknowledge(ctx context.Context, opts AckOpts) (*models.Command, error) {
	robotID := strings.TrimSpace(opts.RobotID)
	if robotID == "" {
		return nil, fault.Validation("queue: ack", "robot_id is required")
	}
	if opts.ID == 0 {
		return nil, fault.Validation("queue: ack", "cmd_id is required")
	}
	status, err := NormalizeAckStatus(opts.Status)
	if err != nil {
		return nil, err
	}
	detail := TruncateDetail(opts.Detail)
	doneAt := q.now().UTC()

	ctx, cancel := q.ctx(ctx)
	defer cancel()
	tx := q.db.WithContext(ctx)

	res := tx.Model(&models.Command{}).
		Where("id = ? AND robot_id = ?", opts.ID, robotID).
		Updates(map[string]any{
			"status":  status,
			"detail":  detail,
			"done_at": doneAt,
		})
	if res.Error != nil {
		return nil, db.Classify("queue: ack", res.Error)
	}
	if res.RowsAffected == 0 {
		q.metrics.AckConflict()
		return nil, fault.Conflict("queue: ack", "no command %d for robot %q", opts.ID, robotID)
	}
	q.metrics.CommandAcked(status)

	var cmd models.Command
	if err := tx.Where("id = ?", opts.ID).Take(&cmd).Error; err != nil {
		return nil, db.Classify("queue: ack", err)
	}
	return &cmd, nil
}

// Get returns one command by id.
func (q *Queue) Get(ctx context.Context, id uint64) (*models.Command, error) {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	var cmd models.Command
	if err := q.db.WithContext(ctx).Where("id = ?", id).Take(&cmd).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("queue: get", "no command %d", id)
		}
		return nil, db.Classify("queue: get", err)
	}
	return &cmd, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Statuses []string
	Limit    int
}

// List returns the robot's commands newest first. It never changes state.
func (q *Queue) List(ctx context.Context, robotID string, f ListFilter) ([]models.Command, error) {
	robotID = strings.TrimSpace(robotID)
	if robotID == "" {
		return nil, fault.Validation("queue: list", "robot_id is required")
	}
	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	ctx, cancel := q.ctx(ctx)
	defer cancel()
	tx := q.db.WithContext(ctx).Where("robot_id = ?", robotID)
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				statuses = append(statuses, s)
			}
		}
		if len(statuses) > 0 {
			tx = tx.Where("status IN ?", statuses)
		}
	}

	var out []models.Command
	if err := tx.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, db.Classify("queue: list", err)
	}
	return out, nil
}

// HasActive reports whether the robot has any PENDING or RUNNING command,
// regardless of origin or is_auto.
func (q *Queue) HasActive(ctx context.Context, robotID string) (bool, error) {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	var n int64
	err := q.db.WithContext(ctx).Model(&models.Command{}).
		Where("robot_id = ? AND status IN ?", robotID, []string{models.StatusPending, models.StatusRunning}).
		Count(&n).Error
	if err != nil {
		return false, db.Classify("queue: has active", err)
	}
	return n > 0, nil
}

// LastCompletion returns the most recent done_at for the robot, or nil when
// no command has ever been closed.
func (q *Queue) LastCompletion(ctx context.Context, robotID string) (*time.Time, error) {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	var cmd models.Command
	res := q.db.WithContext(ctx).
		Select("id", "done_at").
		Where("robot_id = ? AND done_at IS NOT NULL", robotID).
		Order("done_at DESC").
		Limit(1).
		Find(&cmd)
	if res.Error != nil {
		return nil, db.Classify("queue: last completion", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return cmd.DoneAt, nil
}

// Clear cancels the robot's outstanding commands in one statement. Mode
// PENDING touches only PENDING rows; ALL also cancels RUNNING ones.
func (q *Queue) Clear(ctx context.Context, robotID, mode string) (int64, error) {
	robotID = strings.TrimSpace(robotID)
	if robotID == "" {
		return 0, fault.Validation("queue: clear", "robot_id is required")
	}
	var statuses []string
	switch m := strings.ToUpper(strings.TrimSpace(mode)); m {
	case "", ClearPending:
		statuses = []string{models.StatusPending}
	case ClearAll:
		statuses = []string{models.StatusPending, models.StatusRunning}
	default:
		return 0, fault.Validation("queue: clear", "mode %q must be PENDING or ALL", mode)
	}

	ctx, cancel := q.ctx(ctx)
	defer cancel()
	res := q.db.WithContext(ctx).Model(&models.Command{}).
		Where("robot_id = ? AND status IN ?", robotID, statuses).
		Updates(map[string]any{
			"status":  models.StatusCanceled,
			"detail":  ClearedDetail,
			"done_at": q.now().UTC(),
		})
	if res.Error != nil {
		return 0, db.Classify("queue: clear", res.Error)
	}
	q.metrics.CommandsCleared(res.RowsAffected)
	return res.RowsAffected, nil
}

// CountByStatus returns fleet-wide command counts keyed by status.
func (q *Queue) CountByStatus(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := q.ctx(ctx)
	defer cancel()
	var rows []struct {
		Status string
		N      int64
	}
	err := q.db.WithContext(ctx).Model(&models.Command{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, db.Classify("queue: count", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
