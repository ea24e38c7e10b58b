package service

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	// AccessCodeLength is the number of base-36 characters in an access code.
	AccessCodeLength = 9
	issueAttempts    = 3
)

// accessCodeSpace is 36^9.
const accessCodeSpace uint64 = 101559956668416

// Domain Errors
var (
	ErrSessionRecordNotFound = errors.New("session not found")
	ErrSessionNotReopenable  = errors.New("session is not in progress")
)

// SessionAdminStore is the durable session surface used by admins.
type SessionAdminStore interface {
	CreateBatch(ctx context.Context, examID uuid.UUID, codes []string) ([]model.IssuedSession, error)
	ListCompletedByExam(ctx context.Context, examID uuid.UUID) ([]model.SessionRecord, error)
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error)
}

// LiveSessions looks up sessions running on this instance.
type LiveSessions interface {
	Get(sessionID uuid.UUID) (*proctor.Controller, bool)
}

// SessionAdminService issues access codes and manages finished or stuck sessions.
type SessionAdminService struct {
	store SessionAdminStore
	exams ExamSource
	gw    *PersistenceGateway
	live  LiveSessions
	log   zerolog.Logger
}

// offlineSessions is used when no sessions run in this process.
type offlineSessions struct{}

func (offlineSessions) Get(uuid.UUID) (*proctor.Controller, bool) { return nil, false }

// NewSessionAdminService creates a new SessionAdminService. live may be nil for
// tools that never host sessions.
func NewSessionAdminService(store SessionAdminStore, exams ExamSource, gw *PersistenceGateway, live LiveSessions, log zerolog.Logger) *SessionAdminService {
	if live == nil {
		live = offlineSessions{}
	}
	return &SessionAdminService{
		store: store,
		exams: exams,
		gw:    gw,
		live:  live,
		log:   log.With().Str("component", "session_admin_service").Logger(),
	}
}

// NewAccessCode returns a random code of AccessCodeLength uppercase base-36 characters.
func NewAccessCode() string {
	id := uuid.New()
	n := binary.BigEndian.Uint64(id[:8]) % accessCodeSpace
	code := strings.ToUpper(strconv.FormatUint(n, 36))
	if len(code) < AccessCodeLength {
		code = strings.Repeat("0", AccessCodeLength-len(code)) + code
	}
	return code
}

// IssueSessions creates count single-use sessions for an active exam.
// A batch that collides with an existing code is regenerated.
func (s *SessionAdminService) IssueSessions(ctx context.Context, examID uuid.UUID, count int) ([]model.IssuedSession, error) {
	exam, err := s.exams.GetDefinition(ctx, examID)
	if err != nil {
		return nil, err
	}
	if !exam.IsActive {
		return nil, ErrExamNotAvailable
	}

	for attempt := 1; ; attempt++ {
		codes := make([]string, 0, count)
		seen := make(map[string]struct{}, count)
		for len(codes) < count {
			c := NewAccessCode()
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			codes = append(codes, c)
		}

		issued, err := s.store.CreateBatch(ctx, examID, codes)
		if errors.Is(err, repository.ErrDuplicateAccessCode) && attempt < issueAttempts {
			s.log.Warn().Int("attempt", attempt).Msg("Access code collision, regenerating batch")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("issue sessions: %w", err)
		}

		s.log.Info().
			Str("exam_id", examID.String()).
			Int("count", len(issued)).
			Msg("Sessions issued")
		return issued, nil
	}
}

// Results returns every completed session of an exam with answers ordered by question.
func (s *SessionAdminService) Results(ctx context.Context, examID uuid.UUID) ([]model.SessionResult, error) {
	records, err := s.store.ListCompletedByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list completed sessions: %w", err)
	}

	results := make([]model.SessionResult, 0, len(records))
	for i := range records {
		rec := &records[i]
		if err := s.gw.Overlay(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("session_id", rec.ID.String()).Msg("Hot state unavailable, using persisted results")
		}

		answers := make([]model.Answer, 0, len(rec.Answers))
		flagged := rec.ViolationCount > 0
		for _, a := range rec.Answers {
			answers = append(answers, a)
			if a.Provenance.Flagged() {
				flagged = true
			}
			if a.Keystrokes != nil && a.Keystrokes.Classification == model.KeystrokeAutomationLikely {
				flagged = true
			}
		}
		sort.Slice(answers, func(i, j int) bool { return answers[i].QuestionIndex < answers[j].QuestionIndex })

		results = append(results, model.SessionResult{
			SessionID:      rec.ID,
			AccessCode:     rec.AccessCode,
			StartedAt:      rec.StartedAt,
			FirstAccessAt:  rec.FirstAccessAt,
			CompletedAt:    rec.CompletedAt,
			Answers:        answers,
			Violations:     rec.Violations,
			ViolationCount: rec.ViolationCount,
			Flagged:        flagged,
		})
	}
	return results, nil
}

// Reopen lets a student reconnect to an unfinished session. A live session on this
// instance is disposed first. Answers, violations and the first access time are kept.
func (s *SessionAdminService) Reopen(ctx context.Context, sessionID uuid.UUID) error {
	if ctrl, ok := s.live.Get(sessionID); ok {
		ctrl.Dispose()
	}

	ok, err := s.store.Reopen(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("reopen session: %w", err)
	}
	if !ok {
		return ErrSessionNotReopenable
	}

	s.log.Info().Str("session_id", sessionID.String()).Msg("Session reopened")
	return nil
}

// DeleteSession removes one session with its answers and violations.
func (s *SessionAdminService) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if ctrl, ok := s.live.Get(sessionID); ok {
		ctrl.Dispose()
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionRecordNotFound
		}
		return err
	}
	if err := s.gw.Forget(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to clear hot session keys")
	}
	return nil
}

// ClearExamSessions removes every session of an exam and returns how many were deleted.
func (s *SessionAdminService) ClearExamSessions(ctx context.Context, examID uuid.UUID) (int, error) {
	ids, err := s.store.DeleteByExam(ctx, examID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	for _, id := range ids {
		if ctrl, ok := s.live.Get(id); ok {
			ctrl.Dispose()
		}
	}
	if err := s.gw.Forget(ctx, ids...); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to clear hot session keys")
	}

	s.log.Info().Str("exam_id", examID.String()).Int("count", len(ids)).Msg("Exam sessions cleared")
	return len(ids), nil
}
