// Package state stores the latest reported snapshot of each robot.
package state

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/zulandar/dockyard/internal/db"
	"github.com/zulandar/dockyard/internal/fault"
	"github.com/zulandar/dockyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Snapshot defaults applied when a report leaves a string field empty.
const (
	DefaultFSMState     = "IDLE"
	DefaultTaskState    = "NONE"
	DefaultDockState    = "UNKNOWN"
	DefaultDockingState = "NONE"
)

// trackedColumns is every column an upsert rewrites. A field omitted from a
// report is written as its default or NULL, never kept from the old row.
var trackedColumns = []string{
	"fsm_state", "task_state",
	"goal_x", "goal_y", "goal_yaw",
	"pose_x", "pose_y", "pose_yaw",
	"battery_pct", "dock_state", "docking_state",
	"updated_at", "cooldown_until",
}

// Store reads and writes robot_states.
type Store struct {
	db        *gorm.DB
	opTimeout time.Duration
	now       func() time.Time
}

// New returns a Store. opTimeout bounds every call; zero disables the bound.
func New(g *gorm.DB, opTimeout time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: g, opTimeout: opTimeout, now: now}
}

func (s *Store) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Validate checks a snapshot and fills its string defaults in place.
func Validate(st *models.RobotState) error {
	st.RobotID = strings.TrimSpace(st.RobotID)
	if st.RobotID == "" {
		return fault.Validation("state: upsert", "robot_id is required")
	}
	if b := st.BatteryPct; b != nil {
		if math.IsNaN(*b) || math.IsInf(*b, 0) || *b < 0 || *b > 100 {
			return fault.Validation("state: upsert", "battery_pct %v out of range 0-100", *b)
		}
	}
	if st.FSMState == "" {
		st.FSMState = DefaultFSMState
	}
	if st.TaskState == "" {
		st.TaskState = DefaultTaskState
	}
	if st.DockState == "" {
		st.DockState = DefaultDockState
	}
	if st.DockingState == "" {
		st.DockingState = DefaultDockingState
	}
	return nil
}

// Upsert replaces the robot's snapshot with st. updated_at is set to now.
func (s *Store) Upsert(ctx context.Context, st models.RobotState) (*models.RobotState, error) {
	if err := Validate(&st); err != nil {
		return nil, err
	}
	st.UpdatedAt = s.now().UTC()

	ctx, cancel := s.ctx(ctx)
	defer cancel()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "robot_id"}},
		DoUpdates: clause.AssignmentColumns(trackedColumns),
	}).Create(&st).Error
	if err != nil {
		return nil, db.Classify("state: upsert", err)
	}
	return &st, nil
}

// Get returns the snapshot for robotID or a NotFound fault.
func (s *Store) Get(ctx context.Context, robotID string) (*models.RobotState, error) {
	if strings.TrimSpace(robotID) == "" {
		return nil, fault.Validation("state: get", "robot_id is required")
	}
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var st models.RobotState
	err := s.db.WithContext(ctx).Where("robot_id = ?", robotID).Take(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fault.NotFound("state: get", "no state for robot %q", robotID)
		}
		return nil, db.Classify("state: get", err)
	}
	return &st, nil
}

// List returns every snapshot ordered by robot_id.
func (s *Store) List(ctx context.Context) ([]models.RobotState, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var out []models.RobotState
	if err := s.db.WithContext(ctx).Order("robot_id ASC").Find(&out).Error; err != nil {
		return nil, db.Classify("state: list", err)
	}
	return out, nil
}
