package proctor

import (
	"maps"
	"slices"
	"strings"

	"github.com/stemsi/exstem-proctor/internal/analyzer"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Reduce applies ev to s and returns the next state and the effects to run.
// It never mutates s. Terminated is absorbing.
func Reduce(p Policy, s State, ev Event, env Env) (State, []Effect, error) {
	s = s.clone()
	lifecycle, warnings := s.Lifecycle, len(s.Warnings)
	r := &reduction{p: p, s: &s, env: env}
	err := r.apply(ev)
	if _, tick := ev.(EventTick); !tick || len(r.effects) > 0 || s.Lifecycle != lifecycle || len(s.Warnings) != warnings {
		s.Revision++
	}
	return s, r.effects, err
}

type reduction struct {
	p       Policy
	s       *State
	env     Env
	effects []Effect
}

func (r *reduction) emit(e Effect) { r.effects = append(r.effects, e) }

func (r *reduction) warn(msg string) {
	r.s.Warnings = append(r.s.Warnings, model.Warning{Message: msg, Timestamp: r.env.Now})
}

func (r *reduction) lifecycle() model.Lifecycle { return r.s.Lifecycle }

func (r *reduction) apply(ev Event) error {
	if r.lifecycle() == model.LifecycleTerminated {
		switch ev.(type) {
		case EventUpdateBuffer, EventSave, EventNavigate:
			return ErrSessionTerminated
		}
		return nil
	}

	switch e := ev.(type) {
	case EventStart:
		r.start()
	case EventTick:
		r.retryMirrors()
		r.tick()
	case EventAutosave:
		r.autosave()
	case EventViolation:
		if r.lifecycle() == model.LifecycleInProgress && e.Kind.Counted() {
			r.retryMirrors()
			r.violation(e.Kind)
		}
	case EventNotice:
		r.warn(e.Message)
	case EventUpdateBuffer:
		if r.lifecycle() != model.LifecycleInProgress {
			return ErrNotInProgress
		}
		r.s.Buffer = e.Text
	case EventSave:
		if r.lifecycle() != model.LifecycleInProgress {
			return ErrNotInProgress
		}
		r.flush()
	case EventNavigate:
		return r.navigate(e)
	case EventSubmit:
		return r.submit()
	case EventAutoSubmitDue:
		if r.lifecycle() == model.LifecycleInProgress {
			r.beginSubmit(reasonViolations)
		}
	case EventSaveResult:
		r.saveResult(e)
	case EventMirrorResult:
		if e.Err != nil {
			r.s.unmirrored[e.Kind]++
			if !e.Retry {
				r.warn(msgMirrorFailed)
			}
		}
	case EventCompleteResult:
		r.completeResult(e)
	}
	return nil
}

func (r *reduction) start() {
	if r.lifecycle() != model.LifecycleLoading {
		return
	}
	r.s.Lifecycle = model.LifecycleInProgress
	r.s.CurrentQuestionIndex = firstUnanswered(r.s.Answers, r.s.QuestionCount)
	r.s.Buffer = r.s.Answers[r.s.CurrentQuestionIndex].Text

	switch {
	case r.s.RemainingSeconds <= 0:
		r.warn(msgTimeUp)
		r.beginSubmit(reasonTimeout)
	case r.s.ViolationCount >= r.p.MaxViolations:
		r.scheduleAutoSubmit()
	}
}

func (r *reduction) tick() {
	if r.lifecycle() != model.LifecycleInProgress {
		return
	}
	if r.s.RemainingSeconds > 0 {
		r.s.RemainingSeconds--
	}
	if r.s.RemainingSeconds == 0 {
		r.warn(msgTimeUp)
		r.beginSubmit(reasonTimeout)
	}
}

func (r *reduction) autosave() {
	switch r.lifecycle() {
	case model.LifecycleInProgress:
		r.flush()
	case model.LifecycleSubmitting:
		r.retryAnswers()
		r.retryMirrors()
	}
}

// flush saves the current draft and resends every write that failed earlier.
func (r *reduction) flush() {
	r.save()
	r.retryAnswers()
	r.retryMirrors()
}

// save persists the current draft unless it is blank, already saved, or
// already on its way to the gateway.
func (r *reduction) save() {
	idx := r.s.CurrentQuestionIndex
	text := r.s.Buffer
	if strings.TrimSpace(text) == "" {
		return
	}
	if prev, ok := r.s.Answers[idx]; ok && prev.Text == text && (!r.s.unsynced[idx] || r.s.inflight[idx]) {
		return
	}

	profile := safeKeystrokes(r.env.Keystrokes)
	prov := safeAnalyze(r.env.Analyze, text)
	answer := model.Answer{
		QuestionIndex: idx,
		Text:          text,
		SavedAt:       r.env.Now,
		Keystrokes:    &profile,
		Provenance:    &prov,
	}

	r.persist(answer)

	if prov.Likelihood == model.LikelihoodHigh && r.lifecycle() == model.LifecycleInProgress {
		r.violation(model.ViolationSuspiciousKeystrokes)
		r.warn(msgSuspiciousContent)
	}
}

func (r *reduction) persist(answer model.Answer) {
	idx := answer.QuestionIndex
	r.s.nextSeq++
	r.s.latestSeq[idx] = r.s.nextSeq
	r.s.inflight[idx] = true
	r.s.Answers[idx] = answer
	r.emit(EffectPersistAnswer{Answer: answer, Seq: r.s.nextSeq})
}

// retryAnswers resends the stored answer of every question whose latest
// save failed, whichever question is on screen.
func (r *reduction) retryAnswers() {
	for _, idx := range slices.Sorted(maps.Keys(r.s.unsynced)) {
		if r.s.inflight[idx] {
			continue
		}
		answer, ok := r.s.Answers[idx]
		if !ok {
			delete(r.s.unsynced, idx)
			continue
		}
		answer.SavedAt = r.env.Now
		r.persist(answer)
	}
}

// retryMirrors resends violation increments the gateway rejected. A resend
// that fails again is counted back by its result.
func (r *reduction) retryMirrors() {
	if len(r.s.unmirrored) == 0 {
		return
	}
	switch r.lifecycle() {
	case model.LifecycleInProgress, model.LifecycleSubmitting:
	default:
		return
	}
	for _, kind := range slices.Sorted(maps.Keys(r.s.unmirrored)) {
		for i := 0; i < r.s.unmirrored[kind]; i++ {
			r.emit(EffectMirrorViolation{Kind: kind, Retry: true})
		}
	}
	clear(r.s.unmirrored)
}

func (r *reduction) violation(kind model.ViolationKind) {
	r.s.Violations[kind]++
	r.s.ViolationCount++
	r.emit(EffectMirrorViolation{Kind: kind})
	r.warn(msgViolationPrefix + kind.Message())

	if r.s.ViolationCount >= r.p.MaxViolations {
		r.scheduleAutoSubmit()
	}
}

func (r *reduction) scheduleAutoSubmit() {
	if r.s.autoSubmitScheduled {
		return
	}
	r.s.autoSubmitScheduled = true
	r.warn(msgMaxViolations)
	r.emit(EffectScheduleAutoSubmit{After: r.p.AutoSubmitGrace})
}

func (r *reduction) navigate(e EventNavigate) error {
	if r.lifecycle() != model.LifecycleInProgress {
		return ErrNotInProgress
	}

	cur := r.s.CurrentQuestionIndex
	target := cur
	switch e.Dir {
	case DirNext:
		target = cur + 1
	case DirPrevious:
		target = cur - 1
	case DirJump:
		if e.Index < 0 || e.Index >= r.s.QuestionCount {
			return ErrQuestionOutOfRange
		}
		target = e.Index
	}
	if target == cur || target < 0 || target >= r.s.QuestionCount {
		return nil
	}

	r.flush()
	r.s.CurrentQuestionIndex = target
	r.s.Buffer = r.s.Answers[target].Text
	return nil
}

func (r *reduction) submit() error {
	switch r.lifecycle() {
	case model.LifecycleSubmitting:
		if !r.s.completing {
			r.retryAnswers()
			r.retryMirrors()
			reason := r.s.heldReason
			if reason == "" {
				reason = reasonManual
			}
			r.complete(reason)
		}
		return nil
	case model.LifecycleInProgress:
		if len(r.s.Answers) == 0 && strings.TrimSpace(r.s.Buffer) == "" {
			return ErrNothingToSubmit
		}
		r.beginSubmit(reasonManual)
		return nil
	default:
		return ErrNotInProgress
	}
}

// beginSubmit enters Submitting, flushes every pending write and issues the
// completion write once all answers are stored.
func (r *reduction) beginSubmit(reason string) {
	r.s.Lifecycle = model.LifecycleSubmitting
	r.flush()
	r.complete(reason)
}

// complete emits the completion write, or holds it while any answer is in
// flight or failed. A held completion is released by the last save result.
func (r *reduction) complete(reason string) {
	if r.s.completing {
		return
	}
	if len(r.s.inflight) > 0 || len(r.s.unsynced) > 0 {
		r.s.heldReason = reason
		return
	}
	r.s.heldReason = ""
	r.s.completing = true
	r.emit(EffectCompleteSession{Reason: reason})
}

func (r *reduction) saveResult(e EventSaveResult) {
	if e.Seq != r.s.latestSeq[e.Index] {
		return
	}
	delete(r.s.inflight, e.Index)
	if e.Err == nil {
		delete(r.s.unsynced, e.Index)
	} else {
		r.s.unsynced[e.Index] = true
		r.warn(msgSaveFailed)
	}
	if r.lifecycle() == model.LifecycleSubmitting && r.s.heldReason != "" {
		r.complete(r.s.heldReason)
	}
}

func (r *reduction) completeResult(e EventCompleteResult) {
	if r.lifecycle() != model.LifecycleSubmitting || !r.s.completing {
		return
	}
	r.s.completing = false
	if e.Err != nil {
		r.warn(msgSubmitFailed)
		return
	}
	r.s.Lifecycle = model.LifecycleTerminated
	r.emit(EffectTeardown{})
}

func firstUnanswered(answers map[int]model.Answer, count int) int {
	for i := 0; i < count; i++ {
		if _, ok := answers[i]; !ok {
			return i
		}
	}
	return 0
}

func safeKeystrokes(fn func() model.KeystrokeProfile) (p model.KeystrokeProfile) {
	defer func() {
		if recover() != nil {
			p = model.KeystrokeProfile{Classification: model.KeystrokeInsufficientData}
		}
	}()
	if fn == nil {
		return model.KeystrokeProfile{Classification: model.KeystrokeInsufficientData}
	}
	return fn()
}

func safeAnalyze(fn func(string) model.TextProvenanceResult, text string) (res model.TextProvenanceResult) {
	defer func() {
		if recover() != nil {
			res = model.TextProvenanceResult{Likelihood: model.LikelihoodLow, Recommendation: model.RecommendAccept}
		}
	}()
	if fn == nil {
		fn = analyzer.AnalyzeText
	}
	return fn(text)
}
