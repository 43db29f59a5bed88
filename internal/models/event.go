package models

import "time"

// Event levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Event is an append-only audit record.
type Event struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"index:idx_event_created;index:idx_event_src_created,priority:2"`
	Source    string    `gorm:"column:src;size:64;not null;index:idx_event_src_created,priority:1"`
	Level     string    `gorm:"size:16;not null"`
	Type      string    `gorm:"column:event;size:64;not null"`
	Detail    string    `gorm:"type:text"`
}
