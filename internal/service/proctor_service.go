package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/monitor"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ErrShuttingDown is returned by Open once Shutdown has begun.
var ErrShuttingDown = errors.New("proctor service is shutting down")

// SessionGateway is the persistence surface the registry needs.
type SessionGateway interface {
	proctor.Gateway
	LoadSession(ctx context.Context, code string) (*model.SessionRecord, error)
	MarkSessionUsed(ctx context.Context, sessionID uuid.UUID) (time.Time, error)
	Publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent)
}

// ExamSource provides read-only exam definitions.
type ExamSource interface {
	GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
}

// ProctorService opens proctored sessions and keeps the live ones registered by session id.
type ProctorService struct {
	gw     SessionGateway
	exams  ExamSource
	policy proctor.Policy
	monCfg monitor.Config
	clock  clockwork.Clock
	log    zerolog.Logger

	mu      sync.Mutex
	live    map[uuid.UUID]*proctor.Controller
	closing bool
	wg      sync.WaitGroup
}

// NewProctorService creates a new ProctorService. A nil clock uses the real clock.
func NewProctorService(gw SessionGateway, exams ExamSource, cfg config.ProctorConfig, clock clockwork.Clock, log zerolog.Logger) *ProctorService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProctorService{
		gw:     gw,
		exams:  exams,
		policy: PolicyFromConfig(cfg),
		monCfg: MonitorConfigFromConfig(cfg),
		clock:  clock,
		log:    log.With().Str("component", "proctor_service").Logger(),
		live:   make(map[uuid.UUID]*proctor.Controller),
	}
}

// PolicyFromConfig builds the controller policy.
func PolicyFromConfig(cfg config.ProctorConfig) proctor.Policy {
	return proctor.Policy{
		MaxViolations:    cfg.MaxViolations,
		AutoSubmitGrace:  cfg.AutoSubmitGrace,
		AutosaveInterval: cfg.AutosaveInterval,
		TickInterval:     cfg.TickInterval,
		RecentWarnings:   cfg.RecentWarnings,
		ShutdownGrace:    cfg.ShutdownGrace,
		WriteTimeout:     cfg.WriteTimeout,
	}
}

// MonitorConfigFromConfig builds the event monitor settings.
func MonitorConfigFromConfig(cfg config.ProctorConfig) monitor.Config {
	return monitor.Config{
		FocusPollInterval:   cfg.FocusPollInterval,
		FastTypingThreshold: cfg.FastTyping,
		Window:              cfg.KeystrokeWindow,
		BufferSize:          cfg.KeystrokeBuffer,
	}
}

// Inspect checks an access code without claiming it.
func (s *ProctorService) Inspect(ctx context.Context, code string) (*model.SessionAccess, error) {
	rec, err := s.gw.LoadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	exam, err := s.examFor(ctx, rec)
	if err != nil {
		return nil, err
	}
	return &model.SessionAccess{
		SessionID:        rec.ID,
		ExamID:           exam.ID,
		Title:            exam.Title,
		Description:      exam.Description,
		TimeLimitMinutes: exam.TimeLimitMinutes,
		QuestionCount:    exam.QuestionCount(),
	}, nil
}

// Open claims an access code and starts its session. observe, if set, receives every
// snapshot and must not block. The session is unregistered once its controller stops.
func (s *ProctorService) Open(ctx context.Context, code string, host monitor.Host, observe func(proctor.Snapshot)) (*proctor.Controller, error) {
	if s.isClosing() {
		return nil, ErrShuttingDown
	}

	rec, err := s.gw.LoadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	exam, err := s.examFor(ctx, rec)
	if err != nil {
		return nil, err
	}

	firstAccess, err := s.gw.MarkSessionUsed(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.IsUsed = true
	rec.FirstAccessAt = &firstAccess

	ref := model.SessionRef{SessionID: rec.ID, ExamID: exam.ID}
	log := s.log.With().Str("session_id", rec.ID.String()).Logger()

	mon := monitor.New(host, s.monCfg, s.clock, log)
	ctrl := proctor.New(proctor.Params{
		Ref:     ref,
		Exam:    exam,
		Record:  rec,
		Gateway: s.gw,
		Monitor: mon,
		Policy:  s.policy,
		Clock:   s.clock,
		Log:     log,
	})
	if observe != nil {
		ctrl.OnChange(observe)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ctrl.Dispose()
		return nil, ErrShuttingDown
	}
	s.live[rec.ID] = ctrl
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.gw.Publish(ctx, exam.ID, model.MonitorEvent{Type: model.MonitorJoined, SessionID: rec.ID, At: s.clock.Now()})

	go s.watch(ref, ctrl, mon)
	ctrl.Start()

	s.log.Info().
		Str("session_id", rec.ID.String()).
		Str("exam_id", exam.ID.String()).
		Bool("resumed", len(rec.Answers) > 0 || rec.ViolationCount > 0).
		Msg("Session opened")
	return ctrl, nil
}

// Get returns the live controller of a session.
func (s *ProctorService) Get(sessionID uuid.UUID) (*proctor.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.live[sessionID]
	return c, ok
}

// ActiveCount returns the number of live sessions.
func (s *ProctorService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown disposes every live session and waits for them to stop. Open fails afterwards.
func (s *ProctorService) Shutdown() {
	s.mu.Lock()
	s.closing = true
	ctrls := make([]*proctor.Controller, 0, len(s.live))
	for _, c := range s.live {
		ctrls = append(ctrls, c)
	}
	s.mu.Unlock()

	s.log.Info().Int("sessions", len(ctrls)).Msg("Disposing live sessions...")

	var wg sync.WaitGroup
	for _, c := range ctrls {
		wg.Add(1)
		go func(c *proctor.Controller) {
			defer wg.Done()
			c.Dispose()
		}(c)
	}
	wg.Wait()
	s.wg.Wait()

	s.log.Info().Msg("All sessions disposed")
}

func (s *ProctorService) watch(ref model.SessionRef, ctrl *proctor.Controller, mon *monitor.Monitor) {
	defer s.wg.Done()
	<-ctrl.Done()

	s.mu.Lock()
	delete(s.live, ref.SessionID)
	s.mu.Unlock()
	metrics.ActiveSessions.Dec()

	snap := ctrl.Snapshot()
	if snap.Lifecycle != model.LifecycleTerminated {
		ctx, cancel := context.WithTimeout(context.Background(), s.policy.WriteTimeout)
		s.gw.Publish(ctx, ref.ExamID, model.MonitorEvent{Type: model.MonitorLeft, SessionID: ref.SessionID, At: s.clock.Now()})
		cancel()
	}

	s.log.Info().
		Str("session_id", ref.SessionID.String()).
		Str("lifecycle", string(snap.Lifecycle)).
		Int("violations", snap.ViolationCount).
		Int("answered", snap.AnsweredCount).
		Int("typing_patterns", len(mon.Patterns())).
		Msg("Session closed")
}

func (s *ProctorService) examFor(ctx context.Context, rec *model.SessionRecord) (*model.ExamDefinition, error) {
	exam, err := s.exams.GetDefinition(ctx, rec.ExamID)
	if errors.Is(err, ErrExamNotFound) {
		return nil, ErrExamNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if !exam.IsActive {
		return nil, ErrExamNotAvailable
	}
	if exam.QuestionCount() == 0 {
		return nil, ErrNoQuestions
	}
	return exam, nil
}

func (s *ProctorService) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
