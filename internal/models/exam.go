package models

import (
	"time"

	"github.com/lib/pq"
)

// SessionStatus tracks the exam session state machine. Transitions only move
// forward: initialized -> in_progress -> finalized.
type SessionStatus string

const (
	SessionInitialized SessionStatus = "initialized"
	SessionInProgress  SessionStatus = "in_progress"
	SessionFinalized   SessionStatus = "finalized"
)

// ExamSession is one user's attempt at one exam instance. Version backs the
// optimistic concurrency check serializing per-session mutations.
type ExamSession struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	QuestionIDs   pq.StringArray `db:"question_ids" json:"question_ids"`
	Position      int            `db:"position" json:"position"`
	Status        SessionStatus  `db:"status" json:"status"`
	Score         int            `db:"score" json:"score"`
	RecordingPath string         `db:"recording_path" json:"-"`
	RecordingSize int64          `db:"recording_size" json:"-"`
	Version       int            `db:"version" json:"-"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
	FinalizedAt   *time.Time     `db:"finalized_at" json:"finalized_at,omitempty"`
}

// TotalQuestions returns the number of questions presented in the session.
func (s *ExamSession) TotalQuestions() int {
	return len(s.QuestionIDs)
}

// Completed reports whether every question has been answered.
func (s *ExamSession) Completed() bool {
	return s.Position >= len(s.QuestionIDs)
}

// AnswerRecord stores one graded submission. Correct is NULL for open-ended
// answers, which are graded out of band.
type AnswerRecord struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	QuestionID string    `db:"question_id" json:"question_id"`
	Position   int       `db:"position" json:"position"`
	Answer     string    `db:"answer" json:"answer"`
	Correct    *bool     `db:"correct" json:"correct,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ProctorEventKind enumerates the events a proctoring provider can emit.
type ProctorEventKind string

const (
	ProctorFaceDetected    ProctorEventKind = "face_detected"
	ProctorMultipleFaces   ProctorEventKind = "multiple_faces"
	ProctorLookingAway     ProctorEventKind = "looking_away"
	ProctorBackgroundNoise ProctorEventKind = "background_noise"
)

// ProctorEvent is a timestamped observation attached to a session. Events
// are informational and never influence scoring.
type ProctorEvent struct {
	ID         string           `db:"id" json:"id"`
	SessionID  string           `db:"session_id" json:"session_id"`
	Kind       ProctorEventKind `db:"kind" json:"kind"`
	OccurredAt time.Time        `db:"occurred_at" json:"occurred_at"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}
