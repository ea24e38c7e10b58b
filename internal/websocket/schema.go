package websocket

import (
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal   Action = "signal"
	ActionPing     Action = "ping"
	ActionAnswer   Action = "answer"
	ActionSave     Action = "save"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionJump     Action = "jump"
	ActionSubmit   Action = "submit"
	ActionState    Action = "state"
)

// Request is every client frame. Fields not used by the action are ignored.
type Request struct {
	Action Action `json:"action"`

	// signal
	Signal string `json:"signal,omitempty"`
	Key    string `json:"key,omitempty"`
	Ctrl   bool   `json:"ctrl,omitempty"`
	Shift  bool   `json:"shift,omitempty"`
	Alt    bool   `json:"alt,omitempty"`
	Meta   bool   `json:"meta,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
	// At is the client timestamp in Unix milliseconds.
	At int64 `json:"at,omitempty"`

	// ping
	Focused *bool `json:"focused,omitempty"`

	// answer
	Text string `json:"text,omitempty"`

	// jump
	Index *int `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot   Event = "snapshot"
	EventTick       Event = "tick"
	EventSuppress   Event = "suppress"
	EventError      Event = "error"
	EventPong       Event = "pong"
	EventTerminated Event = "terminated"
)

// StudentAnswer is a saved answer as shown to the student. Analyzer results stay server-side.
type StudentAnswer struct {
	Text    string    `json:"text"`
	SavedAt time.Time `json:"saved_at"`
}

// StudentSnapshot is the session read model sent to the student.
type StudentSnapshot struct {
	SessionID            uuid.UUID             `json:"session_id"`
	Title                string                `json:"title"`
	Lifecycle            model.Lifecycle       `json:"lifecycle"`
	CurrentQuestionIndex int                   `json:"current_question_index"`
	QuestionCount        int                   `json:"question_count"`
	CurrentQuestion      model.Question        `json:"current_question"`
	Buffer               string                `json:"buffer"`
	Answers              map[int]StudentAnswer `json:"answers"`
	AnsweredCount        int                   `json:"answered_count"`
	ProgressPercent      float64               `json:"progress_percent"`
	RemainingSeconds     int                   `json:"remaining_seconds"`
	ViolationCount       int                   `json:"violation_count"`
	MaxViolations        int                   `json:"max_violations"`
	AutoSubmitPending    bool                  `json:"auto_submit_pending"`
	RecentWarnings       []model.Warning       `json:"recent_warnings"`
}

// NewStudentSnapshot strips analyzer metadata and the full warning history from s.
func NewStudentSnapshot(s proctor.Snapshot) StudentSnapshot {
	answers := make(map[int]StudentAnswer, len(s.Answers))
	for idx, a := range s.Answers {
		answers[idx] = StudentAnswer{Text: a.Text, SavedAt: a.SavedAt}
	}
	return StudentSnapshot{
		SessionID:            s.SessionID,
		Title:                s.Title,
		Lifecycle:            s.Lifecycle,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		QuestionCount:        s.QuestionCount,
		CurrentQuestion:      s.CurrentQuestion,
		Buffer:               s.Buffer,
		Answers:              answers,
		AnsweredCount:        s.AnsweredCount,
		ProgressPercent:      s.ProgressPercent,
		RemainingSeconds:     s.RemainingSeconds,
		ViolationCount:       s.ViolationCount,
		MaxViolations:        s.MaxViolations,
		AutoSubmitPending:    s.AutoSubmitPending,
		RecentWarnings:       s.RecentWarnings,
	}
}

type SnapshotResponse struct {
	Event    Event           `json:"event"`
	Snapshot StudentSnapshot `json:"snapshot"`
}

// TickResponse replaces a snapshot when only the countdown moved.
type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// SuppressResponse tells the client to cancel the default action of a signal.
type SuppressResponse struct {
	Event  Event  `json:"event"`
	Signal string `json:"signal"`
}

type ErrorResponse struct {
	Event   Event            `json:"event"`
	Code    response.ErrCode `json:"code"`
	Message string           `json:"message"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// TerminatedResponse is the last frame of a finished session.
type TerminatedResponse struct {
	Event    Event           `json:"event"`
	Snapshot StudentSnapshot `json:"snapshot"`
}

// NewSnapshotResponse wraps a controller snapshot for the wire.
func NewSnapshotResponse(s proctor.Snapshot) SnapshotResponse {
	return SnapshotResponse{Event: EventSnapshot, Snapshot: NewStudentSnapshot(s)}
}

// SnapshotFramer picks the frame for each published snapshot. It is not safe
// for concurrent use; call it from the controller observer only.
type SnapshotFramer struct {
	sent     bool
	revision int64
}

// Frame returns a full snapshot frame the first time and whenever anything
// besides the countdown changed, and a tick frame otherwise.
func (f *SnapshotFramer) Frame(s proctor.Snapshot) interface{} {
	if f.sent && s.Revision == f.revision {
		return TickResponse{Event: EventTick, RemainingSeconds: s.RemainingSeconds}
	}
	f.sent = true
	f.revision = s.Revision
	return NewSnapshotResponse(s)
}

// NewErrorResponse builds an error frame with the localized message for code.
func NewErrorResponse(code response.ErrCode) ErrorResponse {
	return ErrorResponse{Event: EventError, Code: code, Message: response.GetMessage(code)}
}
