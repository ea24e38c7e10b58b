package proctor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
)

// Gateway is the durable store the controller writes through.
type Gateway interface {
	SaveAnswer(ctx context.Context, ref model.SessionRef, answer model.Answer, seq int64) error
	RecordViolation(ctx context.Context, ref model.SessionRef, kind model.ViolationKind) error
	CompleteSession(ctx context.Context, ref model.SessionRef) error
}

// EventSource produces violations for one session.
type EventSource interface {
	Start()
	Stop()
	Subscribe(fn func(model.ViolationKind))
	OnNotice(fn func(monitor.NoticeType))
	KeystrokeAnalysis() model.KeystrokeProfile
}

// Params configures a Controller.
type Params struct {
	Ref     model.SessionRef
	Exam    *model.ExamDefinition
	Record  *model.SessionRecord
	Gateway Gateway
	Monitor EventSource
	Policy  Policy
	Clock   clockwork.Clock
	Log     zerolog.Logger
	// Analyze overrides the text provenance analyzer.
	Analyze func(string) model.TextProvenanceResult
}

type reply struct {
	snap Snapshot
	err  error
}

type envelope struct {
	ev    Event
	reply chan reply
}

type writeKind int

const (
	writeAnswer writeKind = iota
	writeViolation
	writeComplete
)

type write struct {
	kind   writeKind
	answer model.Answer
	seq    int64
	vk     model.ViolationKind
	retry  bool
}

// Controller owns one session. Every mutation runs on a single goroutine as a
// reduction; gateway writes run in issue order on a second goroutine.
type Controller struct {
	ref     model.SessionRef
	exam    *model.ExamDefinition
	policy  Policy
	clock   clockwork.Clock
	gw      Gateway
	mon     EventSource
	analyze func(string) model.TextProvenanceResult
	log     zerolog.Logger

	inbox  *mailbox[envelope]
	writes *mailbox[write]

	// Owned by the loop goroutine.
	state     State
	autoTimer clockwork.Timer

	snap     atomic.Pointer[Snapshot]
	observer func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	started    bool
	disposed   bool
	quit       chan struct{}
	done       chan struct{}
	writerDone chan struct{}
}

// New builds a controller in the Loading state. Remaining time is measured from
// the record's first access.
func New(p Params) *Controller {
	if p.Clock == nil {
		p.Clock = clockwork.NewRealClock()
	}
	policy := p.Policy.withDefaults()

	remaining := int(p.Exam.TimeLimit() / time.Second)
	if p.Record != nil && p.Record.FirstAccessAt != nil {
		left := p.Exam.TimeLimit() - p.Clock.Since(*p.Record.FirstAccessAt)
		remaining = max(int(left/time.Second), 0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		ref:     p.Ref,
		exam:    p.Exam,
		policy:  policy,
		clock:   p.Clock,
		gw:      p.Gateway,
		mon:     p.Monitor,
		analyze: p.Analyze,
		log: p.Log.With().
			Str("component", "session_controller").
			Str("session_id", p.Ref.SessionID.String()).
			Str("exam_id", p.Ref.ExamID.String()).
			Logger(),
		inbox:      newMailbox[envelope](),
		writes:     newMailbox[write](),
		state:      NewState(p.Ref, p.Exam.QuestionCount(), remaining, p.Record),
		ctx:        ctx,
		cancel:     cancel,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.publish()
	return c
}

// OnChange registers an observer for every published snapshot. Set it before Start.
// The observer runs on the controller goroutine and must not block.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.observer = fn
	}
}

// Start subscribes to the monitor, starts the timers and moves to InProgress.
// Calling it more than once is a no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.disposed {
		return
	}
	c.started = true

	c.log.Info().
		Int("remaining_seconds", c.state.RemainingSeconds).
		Int("answers", len(c.state.Answers)).
		Int("violations", c.state.ViolationCount).
		Msg("Session started")

	c.mon.Subscribe(c.ReportViolation)
	c.mon.OnNotice(c.handleNotice)
	c.inbox.push(envelope{ev: EventStart{}})

	countdown := c.clock.NewTicker(c.policy.TickInterval)
	autosave := c.clock.NewTicker(c.policy.AutosaveInterval)

	go c.runWriter()
	go c.run(countdown, autosave)

	c.mon.Start()
}

// Dispose tears the session down without a terminal write and waits for it to stop.
// Queued writes get ShutdownGrace to drain. Safe to call repeatedly.
func (c *Controller) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.disposed = true
	started := c.started
	c.mu.Unlock()

	close(c.quit)
	if !started {
		c.cancel()
		close(c.writerDone)
		close(c.done)
		return
	}
	<-c.done
}

// Done is closed once the session has stopped, by termination or Dispose.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Snapshot returns the latest published snapshot.
func (c *Controller) Snapshot() Snapshot { return *c.snap.Load() }

// Ref identifies the session.
func (c *Controller) Ref() model.SessionRef { return c.ref }

// ReportViolation feeds a violation into the session. It never blocks.
func (c *Controller) ReportViolation(kind model.ViolationKind) {
	c.inbox.push(envelope{ev: EventViolation{Kind: kind}})
}

// Notify appends a warning without counting a violation.
func (c *Controller) Notify(message string) {
	c.inbox.push(envelope{ev: EventNotice{Message: message}})
}

// UpdateAnswer replaces the draft of the current question.
func (c *Controller) UpdateAnswer(ctx context.Context, text string) (Snapshot, error) {
	return c.command(ctx, EventUpdateBuffer{Text: text})
}

// SaveCurrentAnswer saves the current draft. Blank drafts are ignored.
func (c *Controller) SaveCurrentAnswer(ctx context.Context) (Snapshot, error) {
	return c.command(ctx, EventSave{})
}

// Next saves the draft and moves forward. No-op on the last question.
func (c *Controller) Next(ctx context.Context) (Snapshot, error) {
	return c.command(ctx, EventNavigate{Dir: DirNext})
}

// Previous saves the draft and moves back. No-op on the first question.
func (c *Controller) Previous(ctx context.Context) (Snapshot, error) {
	return c.command(ctx, EventNavigate{Dir: DirPrevious})
}

// JumpTo saves the draft and moves to index.
func (c *Controller) JumpTo(ctx context.Context, index int) (Snapshot, error) {
	return c.command(ctx, EventNavigate{Dir: DirJump, Index: index})
}

// SubmitExam submits the session. Repeated calls issue at most one completion write at a time.
func (c *Controller) SubmitExam(ctx context.Context) (Snapshot, error) {
	return c.command(ctx, EventSubmit{})
}

func (c *Controller) command(ctx context.Context, ev Event) (Snapshot, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return c.Snapshot(), ErrNotInProgress
	}

	r := make(chan reply, 1)
	if !c.inbox.push(envelope{ev: ev, reply: r}) {
		return c.closedReply(ev)
	}

	select {
	case res := <-r:
		return res.snap, res.err
	case <-c.done:
		select {
		case res := <-r:
			return res.snap, res.err
		default:
			return c.closedReply(ev)
		}
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// closedReply answers a command that arrived after the loop stopped.
// Submitting a terminated session is a no-op.
func (c *Controller) closedReply(ev Event) (Snapshot, error) {
	snap := c.Snapshot()
	if _, ok := ev.(EventSubmit); ok && snap.Lifecycle == model.LifecycleTerminated {
		return snap, nil
	}
	return snap, ErrSessionTerminated
}

func (c *Controller) handleNotice(n monitor.NoticeType) {
	switch n {
	case monitor.NoticeFullscreenExit:
		c.Notify(msgFullscreenExit)
	case monitor.NoticeFullscreenUnavailable:
		c.log.Warn().Err(&UnsupportedEnvironmentError{Feature: "fullscreen"}).Msg("Continuing without fullscreen")
		c.Notify(msgFullscreenMissing)
	}
}

// ─── Event loop ─────────────────────────────────────────────────────

func (c *Controller) run(countdown, autosave clockwork.Ticker) {
	defer c.finish(countdown, autosave)

	for {
		select {
		case <-c.quit:
			return
		case <-c.inbox.wait():
			batch, _ := c.inbox.drain()
			for _, env := range batch {
				c.dispatch(env)
			}
		case <-countdown.Chan():
			c.dispatch(envelope{ev: EventTick{}})
		case <-autosave.Chan():
			c.dispatch(envelope{ev: EventAutosave{}})
		}

		if c.state.Lifecycle == model.LifecycleTerminated {
			return
		}
	}
}

func (c *Controller) dispatch(env envelope) {
	c.logResult(env.ev)
	next, effects, err := Reduce(c.policy, c.state, env.ev, Env{
		Now:        c.clock.Now(),
		Keystrokes: c.mon.KeystrokeAnalysis,
		Analyze:    c.analyze,
	})
	prev := c.state.Lifecycle
	c.state = next

	for _, eff := range effects {
		c.execute(eff)
	}
	if prev != next.Lifecycle {
		c.log.Info().
			Str("from", string(prev)).
			Str("to", string(next.Lifecycle)).
			Msg("Lifecycle changed")
	}

	snap := c.publish()
	if env.reply != nil {
		env.reply <- reply{snap: snap, err: err}
	}
}

// logResult logs failures carried by write result events.
func (c *Controller) logResult(ev Event) {
	switch e := ev.(type) {
	case EventSaveResult:
		if e.Err != nil {
			c.log.Warn().Err(e.Err).Int("question_index", e.Index).Msg("Answer save failed")
		}
	case EventMirrorResult:
		if e.Err != nil && e.Retry {
			c.log.Debug().Err(e.Err).Str("kind", string(e.Kind)).Msg("Violation mirror retry failed")
		} else if e.Err != nil {
			c.log.Warn().Err(e.Err).Str("kind", string(e.Kind)).Msg("Violation mirror failed")
		}
	case EventCompleteResult:
		if e.Err != nil {
			c.log.Error().Err(e.Err).Msg("Session completion failed")
		}
	}
}

func (c *Controller) execute(eff Effect) {
	switch e := eff.(type) {
	case EffectPersistAnswer:
		if e.Answer.Provenance.Flagged() {
			metrics.ProvenanceFlags.Inc()
		}
		c.writes.push(write{kind: writeAnswer, answer: e.Answer, seq: e.Seq})
	case EffectMirrorViolation:
		if e.Retry {
			c.writes.push(write{kind: writeViolation, vk: e.Kind, retry: true})
			return
		}
		metrics.Violations.WithLabelValues(string(e.Kind)).Inc()
		c.log.Warn().
			Err(&PolicyViolation{Kind: e.Kind}).
			Int("violation_count", c.state.ViolationCount).
			Msg("Violation recorded")
		c.writes.push(write{kind: writeViolation, vk: e.Kind})
	case EffectScheduleAutoSubmit:
		c.log.Warn().Dur("grace", e.After).Msg("Violation limit reached, auto-submit scheduled")
		c.autoTimer = c.clock.AfterFunc(e.After, func() {
			c.inbox.push(envelope{ev: EventAutoSubmitDue{}})
		})
	case EffectCompleteSession:
		if e.Reason != reasonManual {
			metrics.AutoSubmits.WithLabelValues(e.Reason).Inc()
		}
		c.log.Info().Str("reason", e.Reason).Msg("Submitting session")
		c.writes.push(write{kind: writeComplete})
	case EffectTeardown:
		c.log.Info().Msg("Session terminated")
	}
}

func (c *Controller) publish() Snapshot {
	snap := buildSnapshot(c.state, c.exam, c.policy)
	c.snap.Store(&snap)
	if c.observer != nil {
		c.observer(snap)
	}
	return snap
}

// finish releases every timer and the monitor, then lets queued writes drain.
func (c *Controller) finish(countdown, autosave clockwork.Ticker) {
	countdown.Stop()
	autosave.Stop()
	if c.autoTimer != nil {
		c.autoTimer.Stop()
	}
	c.mon.Stop()
	c.inbox.close()
	c.writes.close()

	grace := time.NewTimer(c.policy.ShutdownGrace)
	select {
	case <-c.writerDone:
	case <-grace.C:
		c.log.Warn().Dur("grace", c.policy.ShutdownGrace).Msg("Pending writes abandoned")
		c.cancel()
		<-c.writerDone
	}
	grace.Stop()
	c.cancel()
	close(c.done)
}

// ─── Ordered writer ─────────────────────────────────────────────────

func (c *Controller) runWriter() {
	defer close(c.writerDone)
	for {
		batch, closed := c.writes.drain()
		if len(batch) == 0 {
			if closed {
				return
			}
			<-c.writes.wait()
			continue
		}
		for _, w := range batch {
			c.perform(w)
		}
	}
}

func (c *Controller) perform(w write) {
	ctx, cancel := context.WithTimeout(c.ctx, c.policy.WriteTimeout)
	defer cancel()

	switch w.kind {
	case writeAnswer:
		var err error
		if gerr := c.gw.SaveAnswer(ctx, c.ref, w.answer, w.seq); gerr != nil {
			err = &TransientPersistenceError{Op: opSaveAnswer, QuestionIndex: w.answer.QuestionIndex, Err: gerr}
			metrics.AnswerSaves.WithLabelValues("error").Inc()
		} else {
			metrics.AnswerSaves.WithLabelValues("ok").Inc()
		}
		c.inbox.push(envelope{ev: EventSaveResult{Index: w.answer.QuestionIndex, Seq: w.seq, Err: err}})
	case writeViolation:
		var err error
		if gerr := c.gw.RecordViolation(ctx, c.ref, w.vk); gerr != nil {
			err = &TransientPersistenceError{Op: opRecordViolation, Err: gerr}
		}
		c.inbox.push(envelope{ev: EventMirrorResult{Kind: w.vk, Retry: w.retry, Err: err}})
	case writeComplete:
		var err error
		if gerr := c.gw.CompleteSession(ctx, c.ref); gerr != nil {
			err = &TerminalPersistenceError{Err: gerr}
		}
		c.inbox.push(envelope{ev: EventCompleteResult{Err: err}})
	}
}
