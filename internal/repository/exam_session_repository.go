package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrDuplicateAccessCode is returned when a generated access code already exists.
var ErrDuplicateAccessCode = errors.New("access code already exists")

const sessionColumns = `id, exam_id, access_code, is_used, is_active, is_completed,
	violation_flags, violation_count, started_at, first_access_at, completed_at`

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.SessionRecord, error) {
	s := &model.SessionRecord{}
	var flags []byte
	if err := row.Scan(&s.ID, &s.ExamID, &s.AccessCode, &s.IsUsed, &s.IsActive, &s.IsCompleted,
		&flags, &s.ViolationCount, &s.StartedAt, &s.FirstAccessAt, &s.CompletedAt); err != nil {
		return nil, err
	}
	s.Violations = make(model.ViolationTally)
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &s.Violations); err != nil {
			return nil, fmt.Errorf("decode violation flags: %w", err)
		}
	}
	return s, nil
}

// GetByAccessCode retrieves a session and its persisted answers. Returns pgx.ErrNoRows if missing.
func (r *ExamSessionRepository) GetByAccessCode(ctx context.Context, code string) (*model.SessionRecord, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE access_code = $1`, code))
	if err != nil {
		return nil, err
	}
	s.Answers, err = r.answers(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a session without its answers. Returns pgx.ErrNoRows if missing.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SessionRecord, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

func (r *ExamSessionRepository) answers(ctx context.Context, sessionID uuid.UUID) (map[int]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_index, answer, keystroke_profile, provenance, saved_at
		 FROM session_answers WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[int]model.Answer)
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers[a.QuestionIndex] = a
	}
	return answers, rows.Err()
}

func scanAnswer(row pgx.Row) (model.Answer, error) {
	var a model.Answer
	var keystrokes, provenance []byte
	if err := row.Scan(&a.QuestionIndex, &a.Text, &keystrokes, &provenance, &a.SavedAt); err != nil {
		return a, err
	}
	if len(keystrokes) > 0 {
		a.Keystrokes = &model.KeystrokeProfile{}
		if err := json.Unmarshal(keystrokes, a.Keystrokes); err != nil {
			return a, fmt.Errorf("decode keystroke profile: %w", err)
		}
	}
	if len(provenance) > 0 {
		a.Provenance = &model.TextProvenanceResult{}
		if err := json.Unmarshal(provenance, a.Provenance); err != nil {
			return a, fmt.Errorf("decode provenance: %w", err)
		}
	}
	return a, nil
}

// CreateBatch inserts one session per access code in a single round trip.
// Returns ErrDuplicateAccessCode if any code collides.
func (r *ExamSessionRepository) CreateBatch(ctx context.Context, examID uuid.UUID, codes []string) ([]model.IssuedSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, code := range codes {
		batch.Queue(
			`INSERT INTO exam_sessions (exam_id, access_code) VALUES ($1, $2)
			 RETURNING id, started_at`, examID, code)
	}

	results := tx.SendBatch(ctx, batch)
	issued := make([]model.IssuedSession, 0, len(codes))
	for _, code := range codes {
		s := model.IssuedSession{ExamID: examID, AccessCode: code}
		if err := results.QueryRow().Scan(&s.ID, &s.StartedAt); err != nil {
			results.Close()
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return nil, ErrDuplicateAccessCode
			}
			return nil, fmt.Errorf("insert session: %w", err)
		}
		issued = append(issued, s)
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return issued, nil
}

// MarkUsed claims a session for its single use and records the first access time.
// Returns false if the session was already used, completed or deactivated.
func (r *ExamSessionRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (*time.Time, bool, error) {
	var firstAccess time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET is_used = TRUE, first_access_at = COALESCE(first_access_at, $2), last_updated = NOW()
		 WHERE id = $1 AND is_used = FALSE AND is_completed = FALSE AND is_active = TRUE
		 RETURNING first_access_at`, id, at,
	).Scan(&firstAccess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &firstAccess, true, nil
}

// Complete marks a session completed and inactive. Completing twice is a no-op.
func (r *ExamSessionRepository) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET is_completed = TRUE, is_active = FALSE, completed_at = COALESCE(completed_at, $2), last_updated = NOW()
		 WHERE id = $1`, id, at)
	return err
}

// Reopen releases a used, unfinished session so its code can be entered again.
// Answers, violations and the first access time are kept.
func (r *ExamSessionRepository) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET is_used = FALSE, last_updated = NOW()
		 WHERE id = $1 AND is_used = TRUE AND is_completed = FALSE AND is_active = TRUE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListCompletedByExam returns every completed session of an exam with its answers, oldest completion first.
func (r *ExamSessionRepository) ListCompletedByExam(ctx context.Context, examID uuid.UUID) ([]model.SessionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE exam_id = $1 AND is_completed = TRUE
		 ORDER BY completed_at`, examID)
	if err != nil {
		return nil, err
	}

	var sessions []model.SessionRecord
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sessions {
		answers, err := r.answers(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Answers = answers
	}
	return sessions, nil
}

// Delete removes a session and, by cascade, its answers and violations.
func (r *ExamSessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exam_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteByExam removes every session of an exam and returns their ids.
func (r *ExamSessionRepository) DeleteByExam(ctx context.Context, examID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`DELETE FROM exam_sessions WHERE exam_id = $1 RETURNING id`, examID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
