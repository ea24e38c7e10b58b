package repository

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-proctor/internal/config"
)

// SessionStatus is the admin-facing status of an issued session.
type SessionStatus string

const (
	SessionStatusIssued     SessionStatus = "ISSUED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusInactive   SessionStatus = "INACTIVE"
)

// SessionProgress is one row of the live monitor.
type SessionProgress struct {
	SessionID      uuid.UUID     `json:"session_id"`
	AccessCode     string        `json:"access_code"`
	Status         SessionStatus `json:"status"`
	AnsweredCount  int64         `json:"answered_count"`
	ViolationCount int64         `json:"violation_count"`
}

// MonitorRepository provides data access for the live exam monitoring feature.
// It combines PostgreSQL (session state) and Redis (live answer and violation counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// GetSessionProgress returns every session of the exam with its persisted counts.
func (r *MonitorRepository) GetSessionProgress(ctx context.Context, examID uuid.UUID) ([]SessionProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT es.id, es.access_code,
		        CASE
		            WHEN es.is_completed THEN 'COMPLETED'
		            WHEN NOT es.is_active THEN 'INACTIVE'
		            WHEN es.is_used THEN 'IN_PROGRESS'
		            ELSE 'ISSUED'
		        END,
		        (SELECT COUNT(*) FROM session_answers sa WHERE sa.session_id = es.id),
		        es.violation_count
		 FROM exam_sessions es
		 WHERE es.exam_id = $1
		 ORDER BY es.started_at`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionProgress
	for rows.Next() {
		var p SessionProgress
		var count int32
		if err := rows.Scan(&p.SessionID, &p.AccessCode, &p.Status, &p.AnsweredCount, &count); err != nil {
			return nil, err
		}
		p.ViolationCount = int64(count)
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLiveCounts reads the answered and violation counts held in Redis, which run ahead of the workers.
// Sessions with nothing cached are omitted.
func (r *MonitorRepository) GetLiveCounts(ctx context.Context, sessionIDs []uuid.UUID) (answered, violations map[uuid.UUID]int64, err error) {
	answered = make(map[uuid.UUID]int64, len(sessionIDs))
	violations = make(map[uuid.UUID]int64, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return answered, violations, nil
	}

	pipe := r.rdb.Pipeline()
	lens := make([]*redis.IntCmd, len(sessionIDs))
	tallies := make([]*redis.MapStringStringCmd, len(sessionIDs))
	for i, id := range sessionIDs {
		lens[i] = pipe.HLen(ctx, config.CacheKey.SessionAnswersKey(id.String()))
		tallies[i] = pipe.HGetAll(ctx, config.CacheKey.SessionViolationsKey(id.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}

	for i, id := range sessionIDs {
		if n := lens[i].Val(); n > 0 {
			answered[id] = n
		}
		var total int64
		for _, v := range tallies[i].Val() {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				total += n
			}
		}
		if total > 0 {
			violations[id] = total
		}
	}
	return answered, violations, nil
}
