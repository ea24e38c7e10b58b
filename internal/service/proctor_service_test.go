package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

type memGateway struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	records   map[string]*model.SessionRecord
	saved     []model.Answer
	completed []uuid.UUID
	events    []model.MonitorEvent
}

func newMemGateway(clock clockwork.Clock, recs ...*model.SessionRecord) *memGateway {
	g := &memGateway{clock: clock, records: make(map[string]*model.SessionRecord)}
	for _, r := range recs {
		g.records[r.AccessCode] = r
	}
	return g
}

func (g *memGateway) LoadSession(_ context.Context, code string) (*model.SessionRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.records[code]
	switch {
	case !ok:
		return nil, proctor.ErrSessionNotFound
	case r.IsCompleted:
		return nil, proctor.ErrSessionCompleted
	case r.IsUsed:
		return nil, proctor.ErrSessionAlreadyUsed
	case !r.IsActive:
		return nil, proctor.ErrSessionInactive
	}
	cp := *r
	return &cp, nil
}

func (g *memGateway) MarkSessionUsed(_ context.Context, id uuid.UUID) (time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.records {
		if r.ID != id {
			continue
		}
		if r.IsUsed {
			return time.Time{}, proctor.ErrSessionAlreadyUsed
		}
		r.IsUsed = true
		if r.FirstAccessAt == nil {
			now := g.clock.Now()
			r.FirstAccessAt = &now
		}
		return *r.FirstAccessAt, nil
	}
	return time.Time{}, proctor.ErrSessionNotFound
}

func (g *memGateway) SaveAnswer(_ context.Context, _ model.SessionRef, a model.Answer, _ int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = append(g.saved, a)
	return nil
}

func (g *memGateway) RecordViolation(_ context.Context, _ model.SessionRef, _ model.ViolationKind) error {
	return nil
}

func (g *memGateway) CompleteSession(_ context.Context, ref model.SessionRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, ref.SessionID)
	return nil
}

func (g *memGateway) Publish(_ context.Context, _ uuid.UUID, ev model.MonitorEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
}

func (g *memGateway) eventTypes() []model.MonitorEventType {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.MonitorEventType, len(g.events))
	for i, ev := range g.events {
		out[i] = ev.Type
	}
	return out
}

type memExams map[uuid.UUID]*model.ExamDefinition

func (m memExams) GetDefinition(_ context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e, ok := m[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

type proctorHarness struct {
	svc   *ProctorService
	gw    *memGateway
	clock *clockwork.FakeClock
	exam  *model.ExamDefinition
}

func newProctorHarness(t *testing.T, recs ...*model.SessionRecord) *proctorHarness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	exam := &model.ExamDefinition{
		ID:               uuid.New(),
		Title:            "Biology",
		TimeLimitMinutes: 10,
		IsActive:         true,
		Questions:        []model.Question{{Index: 0, Prompt: "Define a cell."}, {Index: 1, Prompt: "Define a tissue."}},
	}
	for _, r := range recs {
		r.ExamID = exam.ID
	}
	gw := newMemGateway(clock, recs...)
	svc := NewProctorService(gw, memExams{exam.ID: exam}, config.ProctorConfig{}, clock, zerolog.Nop())
	t.Cleanup(svc.Shutdown)
	return &proctorHarness{svc: svc, gw: gw, clock: clock, exam: exam}
}

func freshRecord(code string) *model.SessionRecord {
	return &model.SessionRecord{
		ID:         uuid.New(),
		AccessCode: code,
		IsActive:   true,
		Answers:    map[int]model.Answer{},
		Violations: model.ViolationTally{},
	}
}

func TestProctorService_Inspect(t *testing.T) {
	h := newProctorHarness(t, freshRecord("ABCDEFGH1"))
	ctx := context.Background()

	access, err := h.svc.Inspect(ctx, "ABCDEFGH1")
	require.NoError(t, err)
	assert.Equal(t, "Biology", access.Title)
	assert.Equal(t, 2, access.QuestionCount)
	assert.Equal(t, 0, h.svc.ActiveCount())

	_, err = h.svc.Inspect(ctx, "NOPE00000")
	assert.ErrorIs(t, err, proctor.ErrSessionNotFound)

	h.exam.IsActive = false
	_, err = h.svc.Inspect(ctx, "ABCDEFGH1")
	assert.ErrorIs(t, err, ErrExamNotAvailable)
}

func TestProctorService_OpenClaimsOnce(t *testing.T) {
	h := newProctorHarness(t, freshRecord("ABCDEFGH1"))
	ctx := context.Background()

	ctrl, err := h.svc.Open(ctx, "ABCDEFGH1", monitor.NewFakeHost(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.svc.ActiveCount())
	assert.Equal(t, 600, ctrl.Snapshot().RemainingSeconds)

	_, err = h.svc.Open(ctx, "ABCDEFGH1", monitor.NewFakeHost(), nil)
	assert.ErrorIs(t, err, proctor.ErrSessionAlreadyUsed)

	got, ok := h.svc.Get(ctrl.Ref().SessionID)
	require.True(t, ok)
	assert.Same(t, ctrl, got)
}

func TestProctorService_SubmitUnregisters(t *testing.T) {
	h := newProctorHarness(t, freshRecord("ABCDEFGH1"))
	ctx := context.Background()

	var mu sync.Mutex
	var seen []model.Lifecycle
	ctrl, err := h.svc.Open(ctx, "ABCDEFGH1", monitor.NewFakeHost(), func(s proctor.Snapshot) {
		mu.Lock()
		seen = append(seen, s.Lifecycle)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Lifecycle == model.LifecycleInProgress
	}, time.Second, 5*time.Millisecond)

	_, err = ctrl.UpdateAnswer(ctx, "A cell is the smallest unit of life.")
	require.NoError(t, err)
	_, err = ctrl.SubmitExam(ctx)
	require.NoError(t, err)

	select {
	case <-ctrl.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after submit")
	}

	require.Eventually(t, func() bool { return h.svc.ActiveCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{ctrl.Ref().SessionID}, h.gw.completed)
	assert.Equal(t, []model.MonitorEventType{model.MonitorJoined}, h.gw.eventTypes())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, model.LifecycleTerminated)
}

func TestProctorService_ResumeUsesFirstAccess(t *testing.T) {
	rec := freshRecord("ABCDEFGH1")
	h := newProctorHarness(t, rec)
	first := h.clock.Now().Add(-4 * time.Minute)
	rec.FirstAccessAt = &first
	rec.Answers[0] = model.Answer{QuestionIndex: 0, Text: "earlier", SavedAt: first}

	ctrl, err := h.svc.Open(context.Background(), "ABCDEFGH1", monitor.NewFakeHost(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return ctrl.Snapshot().Lifecycle == model.LifecycleInProgress
	}, time.Second, 5*time.Millisecond)
	snap := ctrl.Snapshot()
	assert.Equal(t, 360, snap.RemainingSeconds)
	assert.Equal(t, 1, snap.CurrentQuestionIndex)
}

func TestProctorService_ShutdownDisposesAll(t *testing.T) {
	h := newProctorHarness(t, freshRecord("ABCDEFGH1"), freshRecord("ABCDEFGH2"))
	ctx := context.Background()

	a, err := h.svc.Open(ctx, "ABCDEFGH1", monitor.NewFakeHost(), nil)
	require.NoError(t, err)
	host := monitor.NewFakeHost()
	_, err = h.svc.Open(ctx, "ABCDEFGH2", host, nil)
	require.NoError(t, err)

	h.svc.Shutdown()

	assert.Equal(t, 0, h.svc.ActiveCount())
	assert.Equal(t, 0, host.ListenerCount())
	assert.Empty(t, h.gw.completed)
	assert.NotEqual(t, model.LifecycleTerminated, a.Snapshot().Lifecycle)

	_, err = h.svc.Open(ctx, "ABCDEFGH1", monitor.NewFakeHost(), nil)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.ProctorConfig{
		MaxViolations:    5,
		AutoSubmitGrace:  time.Second,
		AutosaveInterval: time.Minute,
		FastTyping:       50 * time.Millisecond,
		KeystrokeWindow:  20,
	}
	p := PolicyFromConfig(cfg)
	assert.Equal(t, 5, p.MaxViolations)
	assert.Equal(t, time.Minute, p.AutosaveInterval)

	m := MonitorConfigFromConfig(cfg)
	assert.Equal(t, 50*time.Millisecond, m.FastTypingThreshold)
	assert.Equal(t, 20, m.Window)
}
