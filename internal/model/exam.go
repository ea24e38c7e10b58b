package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamDefinition is an authored exam. It is read-only for the whole life of a session.
type ExamDefinition struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	TimeLimitMinutes int        `json:"time_limit_minutes"`
	Questions        []Question `json:"questions"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// QuestionCount returns the number of questions in the exam.
func (e *ExamDefinition) QuestionCount() int {
	return len(e.Questions)
}

// TimeLimit returns the time limit as a duration.
func (e *ExamDefinition) TimeLimit() time.Duration {
	return time.Duration(e.TimeLimitMinutes) * time.Minute
}

// ExamSummary is the list view of an exam, without question bodies.
type ExamSummary struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	TimeLimitMinutes int       `json:"time_limit_minutes"`
	QuestionCount    int       `json:"question_count"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title            string          `json:"title" binding:"required,notblank,min=3,max=255"`
	Description      string          `json:"description" binding:"omitempty,max=2000"`
	TimeLimitMinutes int             `json:"time_limit_minutes" binding:"required,min=1,max=480"`
	Questions        []QuestionInput `json:"questions" binding:"required,min=1,max=200,dive"`
}

// ToDefinition converts the request into a new, active ExamDefinition.
func (r *CreateExamRequest) ToDefinition() *ExamDefinition {
	questions := make([]Question, len(r.Questions))
	for i, q := range r.Questions {
		questions[i] = Question{Index: i, Prompt: q.Prompt}
	}
	return &ExamDefinition{
		Title:            r.Title,
		Description:      r.Description,
		TimeLimitMinutes: r.TimeLimitMinutes,
		Questions:        questions,
		IsActive:         true,
	}
}
