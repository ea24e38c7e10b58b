package proctor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
)

type fakeGateway struct {
	mu           sync.Mutex
	saves        []model.Answer
	seqs         []int64
	violations   []model.ViolationKind
	completes    int
	saveErr      error
	violationErr error
	completeErrs []error
	// ops records accepted writes in arrival order.
	ops []string
}

func (g *fakeGateway) SaveAnswer(_ context.Context, _ model.SessionRef, a model.Answer, seq int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return g.saveErr
	}
	g.saves = append(g.saves, a)
	g.seqs = append(g.seqs, seq)
	g.ops = append(g.ops, fmt.Sprintf("save:%d", a.QuestionIndex))
	return nil
}

func (g *fakeGateway) RecordViolation(_ context.Context, _ model.SessionRef, kind model.ViolationKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.violationErr != nil {
		return g.violationErr
	}
	g.violations = append(g.violations, kind)
	return nil
}

func (g *fakeGateway) CompleteSession(context.Context, model.SessionRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completes++
	if len(g.completeErrs) > 0 {
		err := g.completeErrs[0]
		g.completeErrs = g.completeErrs[1:]
		return err
	}
	g.ops = append(g.ops, "complete")
	return nil
}

func (g *fakeGateway) setSaveErr(err error) {
	g.mu.Lock()
	g.saveErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) setViolationErr(err error) {
	g.mu.Lock()
	g.violationErr = err
	g.mu.Unlock()
}

func (g *fakeGateway) writeOps() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.ops...)
}

func (g *fakeGateway) savedTexts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.saves))
	for i, a := range g.saves {
		out[i] = a.Text
	}
	return out
}

func (g *fakeGateway) mirrored() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.violations)
}

func (g *fakeGateway) completed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completes
}

type harness struct {
	ctrl  *Controller
	host  *monitor.FakeHost
	clock *clockwork.FakeClock
	gw    *fakeGateway
}

func testExam(questions int) *model.ExamDefinition {
	exam := &model.ExamDefinition{
		ID:               uuid.New(),
		Title:            "Earth Science",
		TimeLimitMinutes: 1,
		IsActive:         true,
	}
	for i := 0; i < questions; i++ {
		exam.Questions = append(exam.Questions, model.Question{Index: i, Prompt: fmt.Sprintf("Question %d", i+1)})
	}
	return exam
}

func newHarness(t *testing.T, exam *model.ExamDefinition, rec *model.SessionRecord, opts ...func(*Params)) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	host := monitor.NewFakeHost()
	gw := &fakeGateway{}

	p := Params{
		Ref:     model.SessionRef{SessionID: uuid.New(), ExamID: exam.ID},
		Exam:    exam,
		Record:  rec,
		Gateway: gw,
		Monitor: monitor.New(host, monitor.DefaultConfig(), clock, zerolog.Nop()),
		Policy:  DefaultPolicy(),
		Clock:   clock,
		Log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(&p)
	}

	ctrl := New(p)
	t.Cleanup(ctrl.Dispose)
	return &harness{ctrl: ctrl, host: host, clock: clock, gw: gw}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.ctrl.Start()
	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Lifecycle == model.LifecycleInProgress
	}, time.Second, 5*time.Millisecond)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) warned(msg string) bool {
	for _, w := range h.ctrl.Snapshot().RecentWarnings {
		if w.Message == msg {
			return true
		}
	}
	return false
}

func TestController_ViolationsAutoSubmit(t *testing.T) {
	h := newHarness(t, testExam(2), nil)
	h.start(t)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "Plate tectonics moves continents")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.host.Blur()
		h.host.Focus()
	}
	waitFor(t, func() bool { return h.ctrl.Snapshot().AutoSubmitPending })

	snap := h.ctrl.Snapshot()
	assert.Equal(t, 3, snap.ViolationCount)
	assert.Equal(t, model.LifecycleInProgress, snap.Lifecycle)

	h.clock.Advance(2 * time.Second)

	select {
	case <-h.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	assert.Equal(t, model.LifecycleTerminated, h.ctrl.Snapshot().Lifecycle)
	assert.Equal(t, []string{"Plate tectonics moves continents"}, h.gw.savedTexts())
	assert.Equal(t, 1, h.gw.completed())
	assert.Equal(t, 3, h.gw.mirrored())
	assert.Zero(t, h.host.ListenerCount())
}

func TestController_NavigationPersistsOnce(t *testing.T) {
	h := newHarness(t, testExam(3), nil)
	h.start(t)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "Igneous rock forms from magma")
	require.NoError(t, err)
	snap, err := h.ctrl.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentQuestionIndex)

	snap, err = h.ctrl.Previous(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Igneous rock forms from magma", snap.Buffer)

	_, err = h.ctrl.Next(ctx)
	require.NoError(t, err)

	waitFor(t, func() bool { return len(h.gw.savedTexts()) == 1 })
	h.clock.Advance(30 * time.Second)
	_, err = h.ctrl.SaveCurrentAnswer(ctx)
	require.NoError(t, err)
	assert.Len(t, h.gw.savedTexts(), 1)
}

func TestController_ResumesAtFirstUnanswered(t *testing.T) {
	first := time.Date(2026, 3, 2, 8, 59, 30, 0, time.UTC)
	rec := &model.SessionRecord{
		FirstAccessAt: &first,
		Answers:       map[int]model.Answer{0: {QuestionIndex: 0, Text: "x"}},
	}
	h := newHarness(t, testExam(3), rec)
	h.start(t)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, 1, snap.CurrentQuestionIndex)
	assert.Equal(t, 1, snap.AnsweredCount)
	assert.Equal(t, 30, snap.RemainingSeconds)
}

func TestController_SubmitTwiceCompletesOnce(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	h.start(t)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "Weathering breaks rocks down")
	require.NoError(t, err)
	_, err = h.ctrl.SubmitExam(ctx)
	require.NoError(t, err)

	<-h.ctrl.Done()
	snap, err := h.ctrl.SubmitExam(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.LifecycleTerminated, snap.Lifecycle)
	assert.Equal(t, 1, h.gw.completed())

	_, err = h.ctrl.UpdateAnswer(ctx, "late edit")
	assert.ErrorIs(t, err, ErrSessionTerminated)
}

func TestController_ContextMenuPreventedNotCounted(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	h.start(t)

	assert.True(t, h.host.ContextMenu())
	h.host.Copy()

	waitFor(t, func() bool { return h.ctrl.Snapshot().ViolationCount == 1 })
	snap := h.ctrl.Snapshot()
	assert.Equal(t, 1, snap.Violations[model.ViolationCopy])
	assert.Zero(t, snap.Violations[model.ViolationContextMenu])
	assert.ElementsMatch(t, []monitor.SignalType{monitor.SignalContextMenu, monitor.SignalCopy}, h.host.Prevented())
}

func TestController_SuspiciousContentRaisesViolation(t *testing.T) {
	h := newHarness(t, testExam(1), nil, func(p *Params) {
		p.Analyze = func(string) model.TextProvenanceResult {
			return model.TextProvenanceResult{SuspicionScore: 3.5, Likelihood: model.LikelihoodHigh, Recommendation: model.RecommendFlagForReview}
		}
	})
	h.start(t)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "Moreover, it is important to note the result.")
	require.NoError(t, err)
	snap, err := h.ctrl.SaveCurrentAnswer(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.ViolationCount)
	assert.Equal(t, 1, snap.Violations[model.ViolationSuspiciousKeystrokes])
	require.Len(t, snap.RecentWarnings, 2)
	assert.Equal(t, msgSuspiciousContent, snap.RecentWarnings[1].Message)
	require.NotNil(t, snap.Answers[0].Provenance)
	assert.Equal(t, model.RecommendFlagForReview, snap.Answers[0].Provenance.Recommendation)
}

func TestController_TimeoutSubmits(t *testing.T) {
	first := time.Date(2026, 3, 2, 8, 59, 2, 0, time.UTC)
	h := newHarness(t, testExam(2), &model.SessionRecord{FirstAccessAt: &first})
	h.start(t)
	ctx := context.Background()

	require.Equal(t, 2, h.ctrl.Snapshot().RemainingSeconds)
	_, err := h.ctrl.UpdateAnswer(ctx, "Unsaved draft")
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return h.ctrl.Snapshot().RemainingSeconds == 1 })
	h.clock.Advance(time.Second)

	select {
	case <-h.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
	snap := h.ctrl.Snapshot()
	assert.Equal(t, 0, snap.RemainingSeconds)
	assert.Equal(t, []string{"Unsaved draft"}, h.gw.savedTexts())
	assert.Equal(t, 1, h.gw.completed())
}

func TestController_SaveFailureIsRetriedByAutosave(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	h.start(t)
	ctx := context.Background()
	h.gw.setSaveErr(errors.New("redis unavailable"))

	_, err := h.ctrl.UpdateAnswer(ctx, "Sediment settles in layers")
	require.NoError(t, err)
	_, err = h.ctrl.SaveCurrentAnswer(ctx)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.warned(msgSaveFailed) })

	h.gw.setSaveErr(nil)
	h.clock.Advance(30 * time.Second)
	waitFor(t, func() bool { return len(h.gw.savedTexts()) == 1 })
	assert.Equal(t, model.LifecycleInProgress, h.ctrl.Snapshot().Lifecycle)
}

func TestController_SubmitResendsFailedSaveOfEarlierQuestion(t *testing.T) {
	h := newHarness(t, testExam(3), nil)
	h.start(t)
	ctx := context.Background()
	h.gw.setSaveErr(errors.New("redis unavailable"))

	_, err := h.ctrl.UpdateAnswer(ctx, "Magma cools into basalt")
	require.NoError(t, err)
	_, err = h.ctrl.Next(ctx)
	require.NoError(t, err)
	waitFor(t, func() bool { return h.warned(msgSaveFailed) })

	h.gw.setSaveErr(nil)
	_, err = h.ctrl.UpdateAnswer(ctx, "Limestone dissolves in acid")
	require.NoError(t, err)
	_, err = h.ctrl.SubmitExam(ctx)
	require.NoError(t, err)

	select {
	case <-h.ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
	assert.Equal(t, []string{"save:1", "save:0", "complete"}, h.gw.writeOps())
	assert.ElementsMatch(t, []string{"Magma cools into basalt", "Limestone dissolves in acid"}, h.gw.savedTexts())
	assert.Equal(t, 1, h.gw.completed())
}

func TestController_FailedViolationMirrorIsRetried(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	h.start(t)
	h.gw.setViolationErr(errors.New("postgres down"))

	h.host.Copy()
	waitFor(t, func() bool { return h.warned(msgMirrorFailed) })
	assert.Zero(t, h.gw.mirrored())

	h.gw.setViolationErr(nil)
	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return h.gw.mirrored() == 1 })

	h.clock.Advance(time.Second)
	waitFor(t, func() bool { return h.ctrl.Snapshot().RemainingSeconds == 58 })
	assert.Equal(t, 1, h.gw.mirrored())
	assert.Equal(t, 1, h.ctrl.Snapshot().ViolationCount)
	assert.Equal(t, 2, h.ctrl.Snapshot().WarningCount, "a resend does not warn")
}

func TestController_CompleteFailureStaysSubmitting(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	h.gw.completeErrs = []error{errors.New("postgres down")}
	h.start(t)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "Fossils date strata")
	require.NoError(t, err)
	_, err = h.ctrl.SubmitExam(ctx)
	require.NoError(t, err)

	waitFor(t, func() bool {
		ws := h.ctrl.Snapshot().RecentWarnings
		return len(ws) > 0 && ws[len(ws)-1].Message == msgSubmitFailed
	})
	assert.Equal(t, model.LifecycleSubmitting, h.ctrl.Snapshot().Lifecycle)

	_, err = h.ctrl.SubmitExam(ctx)
	require.NoError(t, err)
	<-h.ctrl.Done()

	assert.Equal(t, model.LifecycleTerminated, h.ctrl.Snapshot().Lifecycle)
	assert.Equal(t, 2, h.gw.completed())
}

func TestController_DisposeSkipsTerminalWrite(t *testing.T) {
	h := newHarness(t, testExam(2), nil)
	h.start(t)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "Half an answer")
	require.NoError(t, err)
	_, err = h.ctrl.SaveCurrentAnswer(ctx)
	require.NoError(t, err)

	h.ctrl.Dispose()
	h.ctrl.Dispose()

	select {
	case <-h.ctrl.Done():
	default:
		t.Fatal("done not closed after dispose")
	}
	assert.Zero(t, h.gw.completed())
	assert.Equal(t, []string{"Half an answer"}, h.gw.savedTexts())
	assert.Zero(t, h.host.ListenerCount())

	_, err = h.ctrl.Next(ctx)
	assert.ErrorIs(t, err, ErrSessionTerminated)
}

func TestController_CommandErrors(t *testing.T) {
	h := newHarness(t, testExam(2), nil)
	ctx := context.Background()

	_, err := h.ctrl.UpdateAnswer(ctx, "too early")
	assert.ErrorIs(t, err, ErrNotInProgress)

	h.start(t)

	_, err = h.ctrl.SubmitExam(ctx)
	assert.ErrorIs(t, err, ErrNothingToSubmit)

	_, err = h.ctrl.JumpTo(ctx, 5)
	assert.ErrorIs(t, err, ErrQuestionOutOfRange)

	snap, err := h.ctrl.JumpTo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CurrentQuestionIndex)
}

func TestController_RehydratedViolationsScheduleAtStart(t *testing.T) {
	rec := &model.SessionRecord{
		Violations:     model.ViolationTally{model.ViolationTabSwitch: 3},
		ViolationCount: 3,
	}
	h := newHarness(t, testExam(1), rec)
	h.start(t)

	waitFor(t, func() bool { return h.ctrl.Snapshot().AutoSubmitPending })
	h.clock.Advance(2 * time.Second)
	<-h.ctrl.Done()

	assert.Equal(t, 1, h.gw.completed())
	assert.Empty(t, h.gw.savedTexts())
}

func TestController_FullscreenNotices(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	h.start(t)

	h.host.ExitFullscreen()
	h.host.FullscreenUnavailable()

	waitFor(t, func() bool { return h.ctrl.Snapshot().WarningCount == 2 })
	snap := h.ctrl.Snapshot()
	require.Len(t, snap.RecentWarnings, 2)
	assert.Equal(t, msgFullscreenExit, snap.RecentWarnings[0].Message)
	assert.Equal(t, msgFullscreenMissing, snap.RecentWarnings[1].Message)
	assert.Zero(t, snap.ViolationCount)
}

func TestController_ObserverSeesEverySnapshot(t *testing.T) {
	h := newHarness(t, testExam(1), nil)
	var mu sync.Mutex
	var seen []model.Lifecycle
	h.ctrl.OnChange(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.Lifecycle)
		mu.Unlock()
	})
	h.start(t)

	_, err := h.ctrl.UpdateAnswer(context.Background(), "answer")
	require.NoError(t, err)
	_, err = h.ctrl.SubmitExam(context.Background())
	require.NoError(t, err)
	<-h.ctrl.Done()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, model.LifecycleInProgress, seen[0])
	assert.Equal(t, model.LifecycleTerminated, seen[len(seen)-1])
}

func TestMailbox_FIFOAndClose(t *testing.T) {
	m := newMailbox[int]()
	for i := 1; i <= 3; i++ {
		require.True(t, m.push(i))
	}
	<-m.wait()

	items, closed := m.drain()
	assert.Equal(t, []int{1, 2, 3}, items)
	assert.False(t, closed)

	m.push(4)
	m.close()
	assert.False(t, m.push(5))

	items, closed = m.drain()
	assert.Equal(t, []int{4}, items)
	assert.True(t, closed)
}
