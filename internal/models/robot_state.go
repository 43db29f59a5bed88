package models

import "time"

// RobotState is the latest reported snapshot for one robot. Every write
// replaces the whole tracked field set; nil optionals are stored as NULL.
type RobotState struct {
	RobotID       string `gorm:"primaryKey;size:64"`
	FSMState      string `gorm:"column:fsm_state;size:32;not null;default:IDLE"`
	TaskState     string `gorm:"size:32;not null;default:NONE"`
	GoalX         *float64
	GoalY         *float64
	GoalYaw       *float64
	PoseX         *float64
	PoseY         *float64
	PoseYaw       *float64
	BatteryPct    *float64
	DockState     string `gorm:"size:32;not null;default:UNKNOWN"`
	DockingState  string `gorm:"size:32;not null;default:NONE"`
	UpdatedAt     time.Time
	CooldownUntil *time.Time
}

// Pose is a planar position with heading.
type Pose struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Yaw float64 `json:"yaw"`
}

// Goal returns the goal pose, or nil when any component is unset.
func (s RobotState) Goal() *Pose {
	return pose(s.GoalX, s.GoalY, s.GoalYaw)
}

// Current returns the current pose, or nil when any component is unset.
func (s RobotState) Current() *Pose {
	return pose(s.PoseX, s.PoseY, s.PoseYaw)
}

func pose(x, y, yaw *float64) *Pose {
	if x == nil || y == nil || yaw == nil {
		return nil
	}
	return &Pose{X: *x, Y: *y, Yaw: *yaw}
}
