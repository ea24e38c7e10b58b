package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// ProgressSource reads persisted and live session progress.
type ProgressSource interface {
	GetSessionProgress(ctx context.Context, examID uuid.UUID) ([]repository.SessionProgress, error)
	GetLiveCounts(ctx context.Context, sessionIDs []uuid.UUID) (answered, violations map[uuid.UUID]int64, err error)
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	repo ProgressSource
	rdb  *redis.Client
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(repo ProgressSource, rdb *redis.Client) *MonitorService {
	return &MonitorService{repo: repo, rdb: rdb}
}

// ExamProgress is the monitor table for one exam.
type ExamProgress struct {
	Sessions        []repository.SessionProgress `json:"sessions"`
	InProgress      int                          `json:"in_progress"`
	Completed       int                          `json:"completed"`
	TotalViolations int64                        `json:"total_violations"`
}

// GetExamProgress returns every session of the exam. Live Redis counts win over
// persisted ones when they are ahead.
func (s *MonitorService) GetExamProgress(ctx context.Context, examID uuid.UUID) (*ExamProgress, error) {
	sessions, err := s.repo.GetSessionProgress(ctx, examID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].SessionID
	}

	// Live counts are best-effort.
	answered, violations, liveErr := s.repo.GetLiveCounts(ctx, ids)

	out := &ExamProgress{Sessions: sessions}
	if out.Sessions == nil {
		out.Sessions = []repository.SessionProgress{}
	}
	for i := range out.Sessions {
		p := &out.Sessions[i]
		if liveErr == nil {
			p.AnsweredCount = max(p.AnsweredCount, answered[p.SessionID])
			p.ViolationCount = max(p.ViolationCount, violations[p.SessionID])
		}
		switch p.Status {
		case repository.SessionStatusInProgress:
			out.InProgress++
		case repository.SessionStatusCompleted:
			out.Completed++
		}
		out.TotalViolations += p.ViolationCount
	}
	return out, nil
}

// Subscribe opens the live event channel of an exam. Callers must Close it.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}
