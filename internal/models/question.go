package models

import (
	"time"

	"github.com/lib/pq"
)

// QuestionType distinguishes grading behaviour.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionOpenEnded      QuestionType = "open_ended"
)

const (
	MinDifficulty = 1
	MaxDifficulty = 8
)

// Question represents an exam question. Multiple-choice questions carry a
// non-empty options set containing the correct option.
type Question struct {
	ID              string         `db:"id" json:"id"`
	Text            string         `db:"text" json:"text"`
	CanonicalAnswer string         `db:"canonical_answer" json:"-"`
	Explanation     string         `db:"explanation" json:"-"`
	Difficulty      int            `db:"difficulty" json:"difficulty"`
	Type            QuestionType   `db:"type" json:"type"`
	Options         pq.StringArray `db:"options" json:"options,omitempty"`
	CorrectOption   string         `db:"correct_option" json:"-"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// Valid reports whether the question satisfies its structural invariants.
func (q *Question) Valid() bool {
	if q.Text == "" || q.Difficulty < MinDifficulty || q.Difficulty > MaxDifficulty {
		return false
	}
	switch q.Type {
	case QuestionMultipleChoice:
		if len(q.Options) == 0 {
			return false
		}
		for _, opt := range q.Options {
			if opt == q.CorrectOption {
				return true
			}
		}
		return false
	case QuestionOpenEnded:
		return true
	default:
		return false
	}
}
