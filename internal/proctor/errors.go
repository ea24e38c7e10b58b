package proctor

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Command errors.
var (
	ErrSessionTerminated  = errors.New("session is terminated")
	ErrNotInProgress      = errors.New("session is not in progress")
	ErrNothingToSubmit    = errors.New("no answer to submit")
	ErrQuestionOutOfRange = errors.New("question index out of range")
)

// AccessReason says why a session could not be opened.
type AccessReason string

const (
	AccessNotFound         AccessReason = "not_found"
	AccessAlreadyUsed      AccessReason = "already_used"
	AccessAlreadyCompleted AccessReason = "already_completed"
	AccessInactive         AccessReason = "inactive"
)

// SessionAccessError is raised before a session exists. It is never retried automatically.
type SessionAccessError struct {
	Reason AccessReason
}

func (e *SessionAccessError) Error() string {
	return fmt.Sprintf("session access denied: %s", e.Reason)
}

// Is matches any SessionAccessError with the same reason.
func (e *SessionAccessError) Is(target error) bool {
	t, ok := target.(*SessionAccessError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrSessionNotFound    = &SessionAccessError{Reason: AccessNotFound}
	ErrSessionAlreadyUsed = &SessionAccessError{Reason: AccessAlreadyUsed}
	ErrSessionCompleted   = &SessionAccessError{Reason: AccessAlreadyCompleted}
	ErrSessionInactive    = &SessionAccessError{Reason: AccessInactive}
)

// PolicyViolation is a detected cheating-class event. It is recorded and never aborts the session.
type PolicyViolation struct {
	Kind model.ViolationKind
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation: %s", e.Kind)
}

// TransientPersistenceError is a failed save or violation mirror. Failed saves
// are resent on the next flush and hold completion until stored. Failed
// mirrors are resent on the next tick.
type TransientPersistenceError struct {
	Op            string
	QuestionIndex int
	Err           error
}

func (e *TransientPersistenceError) Error() string {
	if e.Op == opSaveAnswer {
		return fmt.Sprintf("%s question %d: %v", e.Op, e.QuestionIndex, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientPersistenceError) Unwrap() error { return e.Err }

// TerminalPersistenceError is a failed completion write. The session stays Submitting.
type TerminalPersistenceError struct {
	Err error
}

func (e *TerminalPersistenceError) Error() string {
	return fmt.Sprintf("complete session: %v", e.Err)
}

func (e *TerminalPersistenceError) Unwrap() error { return e.Err }

// UnsupportedEnvironmentError reports a host capability that is missing. The exam continues without it.
type UnsupportedEnvironmentError struct {
	Feature string
}

func (e *UnsupportedEnvironmentError) Error() string {
	return fmt.Sprintf("unsupported environment: %s unavailable", e.Feature)
}

const (
	opSaveAnswer      = "save answer"
	opRecordViolation = "record violation"
)

// IsAccessError reports whether err is a SessionAccessError.
func IsAccessError(err error) bool {
	var ae *SessionAccessError
	return errors.As(err, &ae)
}
