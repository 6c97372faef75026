package dto

import "github.com/aegis-dev/aegis-api/internal/models"

// InitializeSessionResponse returns the newly created session identifier.
type InitializeSessionResponse struct {
	SessionID      string `json:"session_id"`
	TotalQuestions int    `json:"total_questions"`
}

// QuestionView is the client-safe projection of a question: the canonical
// answer, explanation and correct option are stripped.
type QuestionView struct {
	ID         string              `json:"id"`
	Position   int                 `json:"position"`
	Text       string              `json:"text"`
	Type       models.QuestionType `json:"type"`
	Difficulty int                 `json:"difficulty"`
	Options    []string            `json:"options,omitempty"`
}

// NextQuestionResponse carries either the outstanding question or the
// completion signal, never both.
type NextQuestionResponse struct {
	Completed bool          `json:"completed"`
	Question  *QuestionView `json:"question,omitempty"`
}

// SubmitAnswerRequest submits the answer for the question at Position.
type SubmitAnswerRequest struct {
	Position int    `json:"position"`
	Answer   string `json:"answer" validate:"required"`
}

// SubmitAnswerResponse acknowledges a graded submission.
type SubmitAnswerResponse struct {
	Position  int  `json:"position"`
	Remaining int  `json:"remaining"`
	Completed bool `json:"completed"`
}

// RecordingResponse acknowledges a stored recording artifact.
type RecordingResponse struct {
	SessionID string `json:"session_id"`
	SizeBytes int64  `json:"size_bytes"`
}

// FinalizeResponse returns the computed result of a finalized session.
type FinalizeResponse struct {
	SessionID      string `json:"session_id"`
	Score          int    `json:"score"`
	TotalQuestions int    `json:"total_questions"`
}
