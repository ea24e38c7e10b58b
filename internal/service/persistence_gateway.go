package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// completedKeyTTL bounds how long a finished session's hot keys outlive it.
const completedKeyTTL = 24 * time.Hour

// SessionStore is the durable side of the gateway.
type SessionStore interface {
	GetByAccessCode(ctx context.Context, code string) (*model.SessionRecord, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (*time.Time, bool, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// PersistenceGateway writes session state through Redis and drains it to PostgreSQL
// with background workers. Completion is written to PostgreSQL synchronously.
type PersistenceGateway struct {
	store SessionStore
	rdb   *redis.Client
	now   func() time.Time
	log   zerolog.Logger
}

// NewPersistenceGateway creates a new PersistenceGateway.
func NewPersistenceGateway(store SessionStore, rdb *redis.Client, log zerolog.Logger) *PersistenceGateway {
	return &PersistenceGateway{
		store: store,
		rdb:   rdb,
		now:   time.Now,
		log:   log.With().Str("component", "persistence_gateway").Logger(),
	}
}

// LoadSession loads a session by access code with answers and violations merged from the hot store.
// Access failures are returned as *proctor.SessionAccessError.
func (g *PersistenceGateway) LoadSession(ctx context.Context, code string) (*model.SessionRecord, error) {
	rec, err := g.Peek(ctx, code)
	if err != nil {
		return nil, err
	}
	switch {
	case rec.IsCompleted:
		return nil, proctor.ErrSessionCompleted
	case rec.IsUsed:
		return nil, proctor.ErrSessionAlreadyUsed
	case !rec.IsActive:
		return nil, proctor.ErrSessionInactive
	}
	return rec, nil
}

// Peek loads a session by access code without access checks.
func (g *PersistenceGateway) Peek(ctx context.Context, code string) (*model.SessionRecord, error) {
	rec, err := g.store.GetByAccessCode(ctx, code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, proctor.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if err := g.Overlay(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Overlay merges answers and violation counts from Redis into rec. Redis runs ahead of the workers.
func (g *PersistenceGateway) Overlay(ctx context.Context, rec *model.SessionRecord) error {
	sid := rec.ID.String()

	pipe := g.rdb.Pipeline()
	answersCmd := pipe.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sid))
	tallyCmd := pipe.HGetAll(ctx, config.CacheKey.SessionViolationsKey(sid))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read hot session state: %w", err)
	}

	if rec.Answers == nil {
		rec.Answers = make(map[int]model.Answer)
	}
	for field, raw := range answersCmd.Val() {
		var job model.AnswerJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			g.log.Warn().Err(err).Str("session_id", sid).Str("field", field).Msg("Skipping malformed cached answer")
			continue
		}
		cur, ok := rec.Answers[job.Answer.QuestionIndex]
		if !ok || job.NewerThan(model.AnswerJob{Answer: cur}) {
			rec.Answers[job.Answer.QuestionIndex] = job.Answer
		}
	}

	if rec.Violations == nil {
		rec.Violations = make(model.ViolationTally)
	}
	for kind, raw := range tallyCmd.Val() {
		n, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		k := model.ViolationKind(kind)
		if n > rec.Violations[k] {
			rec.Violations[k] = n
		}
	}
	rec.ViolationCount = max(rec.ViolationCount, rec.Violations.Total())
	return nil
}

// MarkSessionUsed claims the session. A second claim fails with proctor.ErrSessionAlreadyUsed.
func (g *PersistenceGateway) MarkSessionUsed(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	first, ok, err := g.store.MarkUsed(ctx, sessionID, g.now())
	if err != nil {
		return time.Time{}, fmt.Errorf("mark session used: %w", err)
	}
	if !ok {
		return time.Time{}, proctor.ErrSessionAlreadyUsed
	}
	return *first, nil
}

// SaveAnswer caches the answer and queues it for PostgreSQL.
func (g *PersistenceGateway) SaveAnswer(ctx context.Context, ref model.SessionRef, answer model.Answer, seq int64) error {
	job := model.AnswerJob{SessionID: ref.SessionID, ExamID: ref.ExamID, Seq: seq, Answer: answer}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	pipe := g.rdb.TxPipeline()
	pipe.HSet(ctx, config.CacheKey.SessionAnswersKey(ref.SessionID.String()), strconv.Itoa(answer.QuestionIndex), payload)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// RecordViolation bumps the hot tally, queues the event and notifies the live monitor.
func (g *PersistenceGateway) RecordViolation(ctx context.Context, ref model.SessionRef, kind model.ViolationKind) error {
	now := g.now()
	payload, err := json.Marshal(model.ViolationJob{SessionID: ref.SessionID, ExamID: ref.ExamID, Kind: kind, RecordedAt: now})
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	pipe := g.rdb.TxPipeline()
	pipe.HIncrBy(ctx, config.CacheKey.SessionViolationsKey(ref.SessionID.String()), string(kind), 1)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record violation: %w", err)
	}

	g.Publish(ctx, ref.ExamID, model.MonitorEvent{Type: model.MonitorViolation, SessionID: ref.SessionID, Kind: kind, At: now})
	return nil
}

// CompleteSession marks the session completed in PostgreSQL. Completing twice is harmless.
func (g *PersistenceGateway) CompleteSession(ctx context.Context, ref model.SessionRef) error {
	now := g.now()
	if err := g.store.Complete(ctx, ref.SessionID, now); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}

	sid := ref.SessionID.String()
	pipe := g.rdb.Pipeline()
	pipe.Expire(ctx, config.CacheKey.SessionAnswersKey(sid), completedKeyTTL)
	pipe.Expire(ctx, config.CacheKey.SessionViolationsKey(sid), completedKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		g.log.Warn().Err(err).Str("session_id", sid).Msg("Failed to expire hot session keys")
	}

	g.Publish(ctx, ref.ExamID, model.MonitorEvent{Type: model.MonitorCompleted, SessionID: ref.SessionID, At: now})
	return nil
}

// Forget drops the hot keys of a deleted session.
func (g *PersistenceGateway) Forget(ctx context.Context, sessionIDs ...uuid.UUID) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(sessionIDs))
	for _, id := range sessionIDs {
		keys = append(keys,
			config.CacheKey.SessionAnswersKey(id.String()),
			config.CacheKey.SessionViolationsKey(id.String()),
		)
	}
	return g.rdb.Del(ctx, keys...).Err()
}

// Publish sends a live monitor event. Failures are logged only.
func (g *PersistenceGateway) Publish(ctx context.Context, examID uuid.UUID, ev model.MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := g.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), data).Err(); err != nil {
		g.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Monitor publish failed")
	}
}
