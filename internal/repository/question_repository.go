package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegis-dev/aegis-api/internal/models"
)

// QuestionRepository provides database access for the question bank.
type QuestionRepository struct {
	db *sqlx.DB
}

// NewQuestionRepository creates a new instance.
func NewQuestionRepository(db *sqlx.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *models.Question) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO questions (id, text, canonical_answer, explanation, difficulty, type, options, correct_option, created_at) VALUES (:id, :text, :canonical_answer, :explanation, :difficulty, :type, :options, :correct_option, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, q); err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// FindByID returns a question by identifier.
func (r *QuestionRepository) FindByID(ctx context.Context, id string) (*models.Question, error) {
	const query = `SELECT id, text, canonical_answer, explanation, difficulty, type, options, correct_option, created_at FROM questions WHERE id = $1 LIMIT 1`
	var q models.Question
	if err := r.db.GetContext(ctx, &q, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find question by id: %w", err)
	}
	return &q, nil
}

// SampleByDifficulty draws a random sample of questions within the difficulty
// band. A single query guarantees no duplicates within the sample; ordering
// is intentionally not repeatable across calls.
func (r *QuestionRepository) SampleByDifficulty(ctx context.Context, minDifficulty, maxDifficulty, limit int) ([]models.Question, error) {
	const query = `SELECT id, text, canonical_answer, explanation, difficulty, type, options, correct_option, created_at FROM questions WHERE difficulty BETWEEN $1 AND $2 ORDER BY random() LIMIT $3`
	var questions []models.Question
	if err := r.db.SelectContext(ctx, &questions, query, minDifficulty, maxDifficulty, limit); err != nil {
		return nil, fmt.Errorf("sample questions: %w", err)
	}
	return questions, nil
}

// Count returns the number of questions in the bank.
func (r *QuestionRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM questions`); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return count, nil
}
