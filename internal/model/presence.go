package model

import (
	"time"
)

// PresenceStatus is the debounced desk status reported to clients.
type PresenceStatus string

const (
	StatusAtDesk PresenceStatus = "At Desk"
	StatusAway   PresenceStatus = "Away"
)

// DateLayout is the layout of the session date columns.
const DateLayout = "2006-01-02"

// PartialLog is one absence that outlasted the debounce threshold.
// Rows are append-only.
type PartialLog struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionDate     string    `gorm:"size:10;not null;index" json:"date"`
	AwayStart       time.Time `gorm:"not null" json:"start"`
	AwayEnd         time.Time `gorm:"not null" json:"end"`
	DurationSeconds float64   `gorm:"not null" json:"duration_seconds"`
}

// PermanentSession is an explicit log-on/log-off work session.
// The partial unique index allows a single row with is_active set.
type PermanentSession struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Date       string     `gorm:"size:10;not null;index" json:"date"`
	LogOnTime  time.Time  `gorm:"not null" json:"log_on_time"`
	LogOffTime *time.Time `json:"log_off_time"`
	IsActive   bool       `gorm:"not null;uniqueIndex:idx_permanent_sessions_active,where:is_active" json:"is_active"`
}

// PermanentEvent is the payload of a permanent_status_change message.
type PermanentEvent struct {
	Status    string            `json:"status"`
	Session   *PermanentSession `json:"session,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const (
	PermanentLoggedOn  = "logged_on"
	PermanentLoggedOff = "logged_off"
)
