package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventType names an event on an exam's live monitor channel.
type MonitorEventType string

const (
	MonitorJoined    MonitorEventType = "joined"
	MonitorViolation MonitorEventType = "violation"
	MonitorCompleted MonitorEventType = "completed"
	MonitorLeft      MonitorEventType = "left"
)

// MonitorEvent is published to Redis for admins watching an exam.
type MonitorEvent struct {
	Type      MonitorEventType `json:"type"`
	SessionID uuid.UUID        `json:"session_id"`
	Kind      ViolationKind    `json:"kind,omitempty"`
	At        time.Time        `json:"at"`
}
