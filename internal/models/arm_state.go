package models

import "time"

// ArmState is the latest state of a docking arm station.
type ArmState struct {
	ClientID  string `gorm:"primaryKey;size:64"`
	State     string `gorm:"size:32;not null;default:READY"`
	Job       string `gorm:"size:32;not null;default:NONE"`
	Detected  bool   `gorm:"not null;default:false"`
	Warn      string `gorm:"size:64;not null;default:'--'"`
	UpdatedAt time.Time
}
