package model

import (
	"time"

	"github.com/google/uuid"
)

// Lifecycle is the stage of a proctored session.
type Lifecycle string

const (
	LifecycleLoading    Lifecycle = "loading"
	LifecycleInProgress Lifecycle = "in_progress"
	LifecycleSubmitting Lifecycle = "submitting"
	LifecycleTerminated Lifecycle = "terminated"
)

// Warning is a user-facing notice raised during a session.
type Warning struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Answer is the last saved response to one question.
type Answer struct {
	QuestionIndex int                   `json:"question_index"`
	Text          string                `json:"text"`
	SavedAt       time.Time             `json:"saved_at"`
	Keystrokes    *KeystrokeProfile     `json:"keystroke_profile,omitempty"`
	Provenance    *TextProvenanceResult `json:"provenance,omitempty"`
}

// SessionState is the in-memory state of one exam attempt.
type SessionState struct {
	SessionID            uuid.UUID      `json:"session_id"`
	ExamID               uuid.UUID      `json:"exam_id"`
	Lifecycle            Lifecycle      `json:"lifecycle"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	Buffer               string         `json:"buffer"`
	Answers              map[int]Answer `json:"answers"`
	RemainingSeconds     int            `json:"remaining_seconds"`
	ViolationCount       int            `json:"violation_count"`
	Violations           ViolationTally `json:"violations"`
	Warnings             []Warning      `json:"warnings"`
}

// AnsweredCount returns the number of questions saved at least once.
func (s *SessionState) AnsweredCount() int {
	return len(s.Answers)
}
