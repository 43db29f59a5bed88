package models

import "time"

// Command status values.
const (
	StatusPending  = "PENDING"
	StatusRunning  = "RUNNING"
	StatusDone     = "DONE"
	StatusFail     = "FAIL"
	StatusCanceled = "CANCELED"
	StatusIgnored  = "IGNORED"
)

// Command origins.
const (
	OriginManual = "MANUAL"
	OriginAuto   = "AUTO"
	OriginServer = "SERVER"
)

// DetailMaxLen bounds Command.Detail in runes.
const DetailMaxLen = 255

// Command is one entry in a robot's durable queue.
type Command struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	RobotID     string         `gorm:"size:64;not null;index:idx_cmd_robot_status_created,priority:1;index:idx_cmd_robot_available,priority:1;index:idx_cmd_robot_created,priority:1"`
	Command     string         `gorm:"size:64;not null"`
	Payload     string         `gorm:"type:text"`
	Args        map[string]any `gorm:"column:args_json;type:text;serializer:json"`
	Status      string         `gorm:"size:16;not null;default:PENDING;index:idx_cmd_robot_status_created,priority:2;index:idx_cmd_robot_available,priority:2"`
	Detail      string         `gorm:"size:255;not null;default:''"`
	Origin      string         `gorm:"column:src;size:32;not null;default:SERVER"`
	IsAuto      bool           `gorm:"not null;default:false"`
	CreatedAt   time.Time      `gorm:"index:idx_cmd_robot_status_created,priority:3;index:idx_cmd_robot_created,priority:2"`
	AvailableAt *time.Time     `gorm:"index:idx_cmd_robot_available,priority:3"`
	ClaimedAt   *time.Time
	DoneAt      *time.Time
}

// IsTerminal reports whether status closes a command.
func IsTerminal(status string) bool {
	switch status {
	case StatusDone, StatusFail, StatusCanceled, StatusIgnored:
		return true
	}
	return false
}

// IsActive reports whether status blocks automatic enqueueing.
func IsActive(status string) bool {
	return status == StatusPending || status == StatusRunning
}
