package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegis-dev/aegis-api/internal/models"
)

// ErrVersionConflict signals that a compare-and-swap update lost the race.
var ErrVersionConflict = errors.New("session version conflict")

// ExamRepository provides database access for exam sessions, answer records
// and proctor events.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository creates a new instance.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// CreateSession inserts a new exam session.
func (r *ExamRepository) CreateSession(ctx context.Context, session *models.ExamSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	const query = `INSERT INTO exam_sessions (id, user_id, question_ids, position, status, score, recording_path, recording_size, version, created_at, updated_at) VALUES (:id, :user_id, :question_ids, :position, :status, :score, :recording_path, :recording_size, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create exam session: %w", err)
	}
	return nil
}

// FindSession returns a session by identifier.
func (r *ExamRepository) FindSession(ctx context.Context, id string) (*models.ExamSession, error) {
	const query = `SELECT id, user_id, question_ids, position, status, score, recording_path, recording_size, version, created_at, updated_at, finalized_at FROM exam_sessions WHERE id = $1 LIMIT 1`
	var session models.ExamSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find exam session: %w", err)
	}
	return &session, nil
}

// UpdateSession applies mutable fields with an optimistic version check. The
// caller's session must carry the version it read; on success the version is
// bumped in place. ErrVersionConflict is returned when another writer won.
func (r *ExamRepository) UpdateSession(ctx context.Context, session *models.ExamSession) error {
	return r.updateSession(ctx, r.db, session)
}

type execer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

func (r *ExamRepository) updateSession(ctx context.Context, ex execer, session *models.ExamSession) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE exam_sessions SET position = :position, status = :status, score = :score, recording_path = :recording_path, recording_size = :recording_size, finalized_at = :finalized_at, updated_at = :updated_at, version = version + 1 WHERE id = :id AND version = :version`
	res, err := ex.NamedExecContext(ctx, query, session)
	if err != nil {
		return fmt.Errorf("update exam session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update exam session rows: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	session.Version++
	return nil
}

// RecordAnswer atomically stores an answer record and advances the session
// under the version check. Losing the race rolls back the answer insert so a
// rejected submission never mutates the answer set.
func (r *ExamRepository) RecordAnswer(ctx context.Context, session *models.ExamSession, answer *models.AnswerRecord) error {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin answer tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `INSERT INTO answer_records (id, session_id, question_id, position, answer, correct, created_at) VALUES (:id, :session_id, :question_id, :position, :answer, :correct, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, answer); err != nil {
		return fmt.Errorf("insert answer record: %w", err)
	}

	if err := r.updateSession(ctx, tx, session); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit answer tx: %w", err)
	}
	return nil
}

// ListAnswers returns the answer records of a session in submission order.
func (r *ExamRepository) ListAnswers(ctx context.Context, sessionID string) ([]models.AnswerRecord, error) {
	const query = `SELECT id, session_id, question_id, position, answer, correct, created_at FROM answer_records WHERE session_id = $1 ORDER BY position ASC`
	var answers []models.AnswerRecord
	if err := r.db.SelectContext(ctx, &answers, query, sessionID); err != nil {
		return nil, fmt.Errorf("list answer records: %w", err)
	}
	return answers, nil
}

// CountCorrect returns the number of correct answer records for a session.
// Open-ended answers carry NULL correctness and are excluded.
func (r *ExamRepository) CountCorrect(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM answer_records WHERE session_id = $1 AND correct = TRUE`, sessionID); err != nil {
		return 0, fmt.Errorf("count correct answers: %w", err)
	}
	return count, nil
}

// CreateProctorEvent stores a proctoring observation.
func (r *ExamRepository) CreateProctorEvent(ctx context.Context, event *models.ProctorEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO proctor_events (id, session_id, kind, occurred_at, created_at) VALUES (:id, :session_id, :kind, :occurred_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("create proctor event: %w", err)
	}
	return nil
}
