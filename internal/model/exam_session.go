package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionRef identifies a live session for persistence calls.
type SessionRef struct {
	SessionID uuid.UUID
	ExamID    uuid.UUID
}

// SessionRecord is the durable view of a session, as loaded from storage.
type SessionRecord struct {
	ID             uuid.UUID      `json:"id"`
	ExamID         uuid.UUID      `json:"exam_id"`
	AccessCode     string         `json:"access_code"`
	IsUsed         bool           `json:"is_used"`
	IsActive       bool           `json:"is_active"`
	IsCompleted    bool           `json:"is_completed"`
	StartedAt      time.Time      `json:"started_at"`
	FirstAccessAt  *time.Time     `json:"first_access_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Answers        map[int]Answer `json:"answers"`
	Violations     ViolationTally `json:"violations"`
	ViolationCount int            `json:"violation_count"`
}

// IssuedSession is an access code handed out to a student.
type IssuedSession struct {
	ID         uuid.UUID `json:"id"`
	ExamID     uuid.UUID `json:"exam_id"`
	AccessCode string    `json:"access_code"`
	StartedAt  time.Time `json:"started_at"`
}

// IssueSessionsRequest is the payload for issuing access codes for an exam.
type IssueSessionsRequest struct {
	Count int `json:"count" binding:"required,min=1,max=500"`
}

// SessionAccess is returned by the read-only access check.
type SessionAccess struct {
	SessionID        uuid.UUID `json:"session_id"`
	ExamID           uuid.UUID `json:"exam_id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
	QuestionCount    int       `json:"question_count"`
}

// SessionResult is one completed session in the admin results view.
type SessionResult struct {
	SessionID      uuid.UUID      `json:"session_id"`
	AccessCode     string         `json:"access_code"`
	StartedAt      time.Time      `json:"started_at"`
	FirstAccessAt  *time.Time     `json:"first_access_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	Answers        []Answer       `json:"answers"`
	Violations     ViolationTally `json:"violations"`
	ViolationCount int            `json:"violation_count"`
	Flagged        bool           `json:"flagged"`
}
