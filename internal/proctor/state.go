package proctor

import (
	"maps"
	"slices"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// State is the reducer's view of a session: the public SessionState plus bookkeeping.
type State struct {
	model.SessionState
	QuestionCount int
	// Revision changes on every reduction except a tick that only moved the countdown.
	Revision int64

	nextSeq   int64
	latestSeq map[int]int64
	// inflight holds question indexes whose latest save has not reported back.
	inflight map[int]bool
	// unsynced holds question indexes whose latest save failed.
	unsynced map[int]bool
	// unmirrored counts violation increments the gateway has not accepted yet.
	unmirrored          map[model.ViolationKind]int
	autoSubmitScheduled bool
	completing          bool
	// heldReason is the reason of a completion waiting for answers to sync.
	heldReason string
}

// NewState builds a Loading state, rehydrating answers and violations from rec when present.
func NewState(ref model.SessionRef, questionCount int, remaining int, rec *model.SessionRecord) State {
	s := State{
		SessionState: model.SessionState{
			SessionID:        ref.SessionID,
			ExamID:           ref.ExamID,
			Lifecycle:        model.LifecycleLoading,
			Answers:          make(map[int]model.Answer),
			Violations:       make(model.ViolationTally),
			RemainingSeconds: max(remaining, 0),
		},
		QuestionCount: questionCount,
		latestSeq:     make(map[int]int64),
		inflight:      make(map[int]bool),
		unsynced:      make(map[int]bool),
		unmirrored:    make(map[model.ViolationKind]int),
	}
	if rec == nil {
		return s
	}
	for idx, a := range rec.Answers {
		if idx >= 0 && idx < questionCount {
			s.Answers[idx] = a
		}
	}
	for k, v := range rec.Violations {
		s.Violations[k] = v
	}
	s.ViolationCount = max(rec.ViolationCount, s.Violations.Total())
	return s
}

func (s State) clone() State {
	out := s
	out.Answers = make(map[int]model.Answer, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	out.Violations = s.Violations.Clone()
	// Warnings is append-only, so a clipped slice is enough to keep appends
	// off the shared backing array.
	out.Warnings = slices.Clip(s.Warnings)
	out.latestSeq = cloneMap(s.latestSeq)
	out.inflight = cloneMap(s.inflight)
	out.unsynced = cloneMap(s.unsynced)
	out.unmirrored = cloneMap(s.unmirrored)
	return out
}

// cloneMap copies m into a fresh non-nil map.
func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	maps.Copy(out, m)
	return out
}

// AutoSubmitPending reports whether the violation threshold has scheduled a submit.
func (s State) AutoSubmitPending() bool { return s.autoSubmitScheduled }

// Event is an input to the reducer.
type Event interface{ isEvent() }

// Direction of a navigation command.
type Direction int

const (
	DirNext Direction = iota
	DirPrevious
	DirJump
)

type (
	// EventStart moves a Loading session to InProgress.
	EventStart struct{}
	// EventTick is one countdown second.
	EventTick struct{}
	// EventAutosave is the periodic autosave trigger.
	EventAutosave struct{}
	// EventViolation is a violation reported by the event monitor.
	EventViolation struct{ Kind model.ViolationKind }
	// EventNotice appends a warning without counting a violation.
	EventNotice struct{ Message string }
	// EventUpdateBuffer replaces the current question's draft.
	EventUpdateBuffer struct{ Text string }
	// EventSave saves the current draft.
	EventSave struct{}
	// EventNavigate moves to another question.
	EventNavigate struct {
		Dir   Direction
		Index int
	}
	// EventSubmit is a manual submit request.
	EventSubmit struct{}
	// EventAutoSubmitDue fires when the auto-submit grace delay elapses.
	EventAutoSubmitDue struct{}
	// EventSaveResult reports the outcome of an answer write.
	EventSaveResult struct {
		Index int
		Seq   int64
		Err   error
	}
	// EventMirrorResult reports the outcome of a violation mirror write.
	EventMirrorResult struct {
		Kind  model.ViolationKind
		Retry bool
		Err   error
	}
	// EventCompleteResult reports the outcome of the completion write.
	EventCompleteResult struct{ Err error }
)

func (EventStart) isEvent()          {}
func (EventTick) isEvent()           {}
func (EventAutosave) isEvent()       {}
func (EventViolation) isEvent()      {}
func (EventNotice) isEvent()         {}
func (EventUpdateBuffer) isEvent()   {}
func (EventSave) isEvent()           {}
func (EventNavigate) isEvent()       {}
func (EventSubmit) isEvent()         {}
func (EventAutoSubmitDue) isEvent()  {}
func (EventSaveResult) isEvent()     {}
func (EventMirrorResult) isEvent()   {}
func (EventCompleteResult) isEvent() {}

// Effect is work the controller performs after a reduction.
type Effect interface{ isEffect() }

type (
	// EffectPersistAnswer writes an answer through the gateway.
	EffectPersistAnswer struct {
		Answer model.Answer
		Seq    int64
	}
	// EffectMirrorViolation increments the durable violation tally. Retry marks
	// the resend of an increment that failed earlier.
	EffectMirrorViolation struct {
		Kind  model.ViolationKind
		Retry bool
	}
	// EffectScheduleAutoSubmit arms the auto-submit timer.
	EffectScheduleAutoSubmit struct{ After time.Duration }
	// EffectCompleteSession issues the terminal completion write.
	EffectCompleteSession struct{ Reason string }
	// EffectTeardown stops the monitor and every timer.
	EffectTeardown struct{}
)

func (EffectPersistAnswer) isEffect()      {}
func (EffectMirrorViolation) isEffect()    {}
func (EffectScheduleAutoSubmit) isEffect() {}
func (EffectCompleteSession) isEffect()    {}
func (EffectTeardown) isEffect()           {}

// Env supplies the impure inputs a reduction may read.
type Env struct {
	Now        time.Time
	Keystrokes func() model.KeystrokeProfile
	Analyze    func(string) model.TextProvenanceResult
}
