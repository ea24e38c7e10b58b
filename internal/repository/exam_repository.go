package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam with its questions in order. Returns pgx.ErrNoRows if missing.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	e := &model.ExamDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, description, time_limit_minutes, is_active, created_at, updated_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.Description, &e.TimeLimitMinutes, &e.IsActive, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT idx, prompt FROM exam_questions WHERE exam_id = $1 ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.Index, &q.Prompt); err != nil {
			return nil, err
		}
		e.Questions = append(e.Questions, q)
	}
	return e, rows.Err()
}

// ListActive returns summaries of all active exams, newest first.
func (r *ExamRepository) ListActive(ctx context.Context) ([]model.ExamSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.title, e.description, e.time_limit_minutes, e.is_active, e.created_at,
		        (SELECT COUNT(*) FROM exam_questions q WHERE q.exam_id = e.id)
		 FROM exams e
		 WHERE e.is_active = TRUE
		 ORDER BY e.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.ExamSummary
	for rows.Next() {
		var s model.ExamSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.TimeLimitMinutes, &s.IsActive, &s.CreatedAt, &s.QuestionCount); err != nil {
			return nil, err
		}
		exams = append(exams, s)
	}
	return exams, rows.Err()
}

// Create inserts a new active exam and its questions, deactivating any exam that was active.
func (r *ExamRepository) Create(ctx context.Context, e *model.ExamDefinition) ([]uuid.UUID, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE exams SET is_active = FALSE, updated_at = NOW()
		 WHERE is_active = TRUE
		 RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("deactivate previous: %w", err)
	}
	deactivated, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("deactivate previous: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO exams (title, description, time_limit_minutes, is_active)
		 VALUES ($1, $2, $3, TRUE)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.Description, e.TimeLimitMinutes,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}
	e.IsActive = true

	questionRows := make([][]any, len(e.Questions))
	for i := range e.Questions {
		e.Questions[i].Index = i
		questionRows[i] = []any{e.ID, i, e.Questions[i].Prompt}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"exam_questions"},
		[]string{"exam_id", "idx", "prompt"},
		pgx.CopyFromRows(questionRows),
	); err != nil {
		return nil, fmt.Errorf("insert questions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return deactivated, nil
}

// Deactivate marks an exam inactive. Returns pgx.ErrNoRows if the exam does not exist.
func (r *ExamRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exams SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListActiveIDs returns the ids of every active exam.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListActiveIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM exams WHERE is_active = TRUE ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}
