package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrExamNotAvailable = errors.New("exam is not active")
)

// ExamStore is the durable exam source.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error)
	ListActive(ctx context.Context) ([]model.ExamSummary, error)
	Create(ctx context.Context, e *model.ExamDefinition) ([]uuid.UUID, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListActiveIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ExamService serves exam definitions from Redis, falling back to PostgreSQL.
type ExamService struct {
	repo ExamStore
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(repo ExamStore, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "exam_service").Logger(),
	}
}

// GetDefinition returns an exam with its questions. A cache miss is loaded from
// PostgreSQL and written back.
func (s *ExamService) GetDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var exam model.ExamDefinition
		if err := json.Unmarshal(data, &exam); err == nil {
			return &exam, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt exam payload in cache, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Exam cache read failed, using database")
	}

	exam, err := s.repo.GetByID(ctx, examID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Self-heal cache write failed")
	}
	return exam, nil
}

// ListActive returns summaries of every active exam.
func (s *ExamService) ListActive(ctx context.Context) ([]model.ExamSummary, error) {
	exams, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if exams == nil {
		exams = []model.ExamSummary{}
	}
	return exams, nil
}

// Create stores a new active exam. Any previously active exam is deactivated.
func (s *ExamService) Create(ctx context.Context, exam *model.ExamDefinition) error {
	if exam.QuestionCount() == 0 {
		return ErrNoQuestions
	}

	deactivated, err := s.repo.Create(ctx, exam)
	if err != nil {
		return err
	}

	s.evict(ctx, deactivated...)
	if err := s.WarmExamCache(ctx, exam); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to warm new exam")
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("questions", exam.QuestionCount()).
		Int("deactivated", len(deactivated)).
		Msg("Exam created")
	return nil
}

// Deactivate takes an exam out of service and drops it from the cache.
func (s *ExamService) Deactivate(ctx context.Context, examID uuid.UUID) error {
	if err := s.repo.Deactivate(ctx, examID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrExamNotFound
		}
		return err
	}
	s.evict(ctx, examID)
	s.log.Info().Str("exam_id", examID.String()).Msg("Exam deactivated")
	return nil
}

// WarmExamCache writes the exam payload into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.ExamDefinition) error {
	payload, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := s.rdb.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID.String()), payload, 0).Err(); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", exam.QuestionCount()).
		Msg("Cache warmed")
	return nil
}

// PrewarmAll loads every active exam into Redis on application startup.
func (s *ExamService) PrewarmAll(ctx context.Context) error {
	ids, err := s.repo.ListActiveIDs(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	if len(ids) == 0 {
		s.log.Info().Msg("No active exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(ids)).Msg("Prewarming active exams...")

	warmed := 0
	for _, id := range ids {
		exam, err := s.repo.GetByID(ctx, id)
		if err == nil {
			err = s.WarmExamCache(ctx, exam)
		}
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", id.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

func (s *ExamService) evict(ctx context.Context, ids ...uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = config.CacheKey.ExamPayloadKey(id.String())
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn().Err(err).Int("count", len(keys)).Msg("Failed to evict exam payloads")
	}
}
