package proctor

import (
	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Snapshot is the read model published after every event. Its maps are shared
// with the controller's state and must not be modified.
type Snapshot struct {
	Revision             int64                `json:"revision"`
	SessionID            uuid.UUID            `json:"session_id"`
	ExamID               uuid.UUID            `json:"exam_id"`
	Title                string               `json:"title"`
	Lifecycle            model.Lifecycle      `json:"lifecycle"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	QuestionCount        int                  `json:"question_count"`
	CurrentQuestion      model.Question       `json:"current_question"`
	Buffer               string               `json:"buffer"`
	Answers              map[int]model.Answer `json:"answers"`
	AnsweredCount        int                  `json:"answered_count"`
	ProgressPercent      float64              `json:"progress_percent"`
	RemainingSeconds     int                  `json:"remaining_seconds"`
	ViolationCount       int                  `json:"violation_count"`
	MaxViolations        int                  `json:"max_violations"`
	Violations           model.ViolationTally `json:"violations"`
	AutoSubmitPending    bool                 `json:"auto_submit_pending"`
	WarningCount         int                  `json:"warning_count"`
	RecentWarnings       []model.Warning      `json:"recent_warnings"`
}

// buildSnapshot reads s without copying it. Reduce never mutates a state it
// has returned, so only the recent warnings tail is copied.
func buildSnapshot(s State, exam *model.ExamDefinition, p Policy) Snapshot {
	var current model.Question
	if s.CurrentQuestionIndex >= 0 && s.CurrentQuestionIndex < len(exam.Questions) {
		current = exam.Questions[s.CurrentQuestionIndex]
	}

	var progress float64
	if s.QuestionCount > 0 {
		progress = float64(len(s.Answers)) / float64(s.QuestionCount) * 100
	}

	recent := s.Warnings
	if len(recent) > p.RecentWarnings {
		recent = recent[len(recent)-p.RecentWarnings:]
	}

	return Snapshot{
		Revision:             s.Revision,
		SessionID:            s.SessionID,
		ExamID:               s.ExamID,
		Title:                exam.Title,
		Lifecycle:            s.Lifecycle,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionCount:        s.QuestionCount,
		CurrentQuestion:      current,
		Buffer:               s.Buffer,
		Answers:              s.Answers,
		AnsweredCount:        len(s.Answers),
		ProgressPercent:      progress,
		RemainingSeconds:     s.RemainingSeconds,
		ViolationCount:       s.ViolationCount,
		MaxViolations:        p.MaxViolations,
		Violations:           s.Violations,
		AutoSubmitPending:    s.autoSubmitScheduled,
		WarningCount:         len(s.Warnings),
		RecentWarnings:       append([]model.Warning(nil), recent...),
	}
}
