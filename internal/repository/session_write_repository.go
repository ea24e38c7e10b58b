package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrSessionGone is returned when a queued write targets a deleted session.
var ErrSessionGone = errors.New("session no longer exists")

const pgForeignKeyViolation = "23503"

// recomputeTallySQL rebuilds the per-kind flags and the counted total from the event log.
const recomputeTallySQL = `
UPDATE exam_sessions es
SET violation_flags = COALESCE(t.flags, '{}'::jsonb),
    violation_count = t.total,
    last_updated = NOW()
FROM (
    SELECT s.id,
           (SELECT jsonb_object_agg(k.kind, k.n)
            FROM (SELECT kind, COUNT(*) AS n FROM session_violations v
                  WHERE v.session_id = s.id GROUP BY kind) k) AS flags,
           (SELECT COUNT(*) FROM session_violations v
            WHERE v.session_id = s.id AND v.kind <> 'contextMenu') AS total
    FROM exam_sessions s
    WHERE s.id = ANY($1)
) t
WHERE es.id = t.id`

// SessionWriteRepository applies queued answer and violation writes.
type SessionWriteRepository struct {
	pool *pgxpool.Pool
}

// NewSessionWriteRepository creates a new SessionWriteRepository.
func NewSessionWriteRepository(pool *pgxpool.Pool) *SessionWriteRepository {
	return &SessionWriteRepository{pool: pool}
}

// UpsertAnswer stores an answer unless a newer one is already persisted.
func (r *SessionWriteRepository) UpsertAnswer(ctx context.Context, job model.AnswerJob) error {
	keystrokes, err := jsonOrNil(job.Answer.Keystrokes)
	if err != nil {
		return err
	}
	provenance, err := jsonOrNil(job.Answer.Provenance)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO session_answers (session_id, question_index, answer, keystroke_profile, provenance, seq, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, question_index) DO UPDATE
		 SET answer = EXCLUDED.answer,
		     keystroke_profile = EXCLUDED.keystroke_profile,
		     provenance = EXCLUDED.provenance,
		     seq = EXCLUDED.seq,
		     saved_at = EXCLUDED.saved_at
		 WHERE (EXCLUDED.saved_at, EXCLUDED.seq) > (session_answers.saved_at, session_answers.seq)`,
		job.SessionID, job.Answer.QuestionIndex, job.Answer.Text, keystrokes, provenance, job.Seq, job.Answer.SavedAt,
	)
	return mapWriteErr(err)
}

// CopyViolations bulk-appends violation events and refreshes the affected tallies in one transaction.
func (r *SessionWriteRepository) CopyViolations(ctx context.Context, jobs []model.ViolationJob) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := make([][]any, len(jobs))
	for i, j := range jobs {
		rows[i] = []any{j.SessionID, string(j.Kind), j.RecordedAt}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"session_violations"},
		[]string{"session_id", "kind", "recorded_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return mapWriteErr(err)
	}

	if _, err := tx.Exec(ctx, recomputeTallySQL, sessionIDs(jobs)); err != nil {
		return fmt.Errorf("recompute tallies: %w", err)
	}
	return tx.Commit(ctx)
}

// InsertViolation appends a single violation event and refreshes its session's tally.
func (r *SessionWriteRepository) InsertViolation(ctx context.Context, job model.ViolationJob) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO session_violations (session_id, kind, recorded_at) VALUES ($1, $2, $3)`,
		job.SessionID, string(job.Kind), job.RecordedAt,
	); err != nil {
		return mapWriteErr(err)
	}
	if _, err := tx.Exec(ctx, recomputeTallySQL, []uuid.UUID{job.SessionID}); err != nil {
		return fmt.Errorf("recompute tally: %w", err)
	}
	return tx.Commit(ctx)
}

func sessionIDs(jobs []model.ViolationJob) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(jobs))
	ids := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		if _, ok := seen[j.SessionID]; ok {
			continue
		}
		seen[j.SessionID] = struct{}{}
		ids = append(ids, j.SessionID)
	}
	return ids
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return ErrSessionGone
	}
	return err
}
