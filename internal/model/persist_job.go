package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerJob is a queued answer write. The newest (SavedAt, Seq) wins.
type AnswerJob struct {
	SessionID uuid.UUID `json:"session_id"`
	ExamID    uuid.UUID `json:"exam_id"`
	Seq       int64     `json:"seq"`
	Answer    Answer    `json:"answer"`
}

// NewerThan orders answer writes by save time, then by per-controller sequence.
func (j AnswerJob) NewerThan(o AnswerJob) bool {
	if !j.Answer.SavedAt.Equal(o.Answer.SavedAt) {
		return j.Answer.SavedAt.After(o.Answer.SavedAt)
	}
	return j.Seq > o.Seq
}

// ViolationJob is a queued violation event.
type ViolationJob struct {
	SessionID  uuid.UUID     `json:"session_id"`
	ExamID     uuid.UUID     `json:"exam_id"`
	Kind       ViolationKind `json:"kind"`
	RecordedAt time.Time     `json:"recorded_at"`
}
