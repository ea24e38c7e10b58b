package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	BatchSize       = 50
	BatchTimeout    = 2 * time.Second
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	ShutdownTimeout = 5 * time.Second
)

// ViolationWriter persists queued violation events.
type ViolationWriter interface {
	CopyViolations(ctx context.Context, jobs []model.ViolationJob) error
	InsertViolation(ctx context.Context, job model.ViolationJob) error
}

// ViolationWorker consumes persist_violations_queue in batches and keeps the
// per-session tallies in PostgreSQL current.
type ViolationWorker struct {
	store      ViolationWriter
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(store ViolationWriter, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store:      store,
		rdb:        rdb,
		log:        log.With().Str("component", "violation_worker").Logger(),
		retryDelay: 2 * time.Second,
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]model.ViolationJob, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job model.ViolationJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			// Malformed JSON can never succeed.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, job)
	}
}

// flushSafe attempts a bulk copy, then row-by-row inserts, then requeues what still failed.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationJob) {
	if err := w.store.CopyViolations(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violations persisted")
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, batch []model.ViolationJob) {
	var requeue []model.ViolationJob

	for _, job := range batch {
		err := w.store.InsertViolation(ctx, job)
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrSessionGone):
			w.log.Warn().Str("session_id", job.SessionID.String()).Msg("Dropping violation for deleted session")
		default:
			w.log.Error().Err(err).Str("session_id", job.SessionID.String()).Msg("Insert failed, requeueing")
			requeue = append(requeue, job)
		}
	}

	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, jobs []model.ViolationJob) {
	pipe := w.rdb.Pipeline()
	for _, job := range jobs {
		data, _ := json.Marshal(job)
		pipe.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(context.WithoutCancel(ctx)); err != nil {
		w.log.Error().Err(err).Int("count", len(jobs)).Msg("CRITICAL: Failed to requeue violations, data lost")
		return
	}
	w.log.Info().Int("count", len(jobs)).Msg("Requeued failed items back to Redis")
	sleepCtx(ctx, w.retryDelay)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationJob) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	for {
		data, err := w.rdb.LPop(ctx, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			break
		}
		var job model.ViolationJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		buffer = append(buffer, job)
	}

	if len(buffer) > 0 {
		w.flushSafe(ctx, buffer)
	}
	w.log.Info().Msg("Worker stopped")
}
