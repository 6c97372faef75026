package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-dev/aegis-api/internal/dto"
	"github.com/aegis-dev/aegis-api/internal/models"
	"github.com/aegis-dev/aegis-api/internal/repository"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
	"github.com/aegis-dev/aegis-api/pkg/export"
)

type examSessionStore interface {
	CreateSession(ctx context.Context, session *models.ExamSession) error
	FindSession(ctx context.Context, id string) (*models.ExamSession, error)
	UpdateSession(ctx context.Context, session *models.ExamSession) error
	RecordAnswer(ctx context.Context, session *models.ExamSession, answer *models.AnswerRecord) error
	ListAnswers(ctx context.Context, sessionID string) ([]models.AnswerRecord, error)
	CountCorrect(ctx context.Context, sessionID string) (int, error)
}

type questionBank interface {
	SampleByDifficulty(ctx context.Context, minDifficulty, maxDifficulty, limit int) ([]models.Question, error)
	FindByID(ctx context.Context, id string) (*models.Question, error)
}

type recordingStorage interface {
	SaveStream(filename string, r io.Reader) (int64, error)
	Open(filename string) (io.ReadCloser, error)
	Delete(filename string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// sessionTracker lets a proctoring event source follow active sessions.
type sessionTracker interface {
	Track(sessionID string)
	Untrack(sessionID string)
}

// RecordingUpload carries the recording stream and its declared size.
type RecordingUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// ExamServiceConfig holds session composition and upload limits.
type ExamServiceConfig struct {
	QuestionCount    int
	MinDifficulty    int
	MaxDifficulty    int
	MaxRecordingSize int64
}

// ExamService drives the exam session lifecycle:
// initialized -> in_progress -> finalized, forward only.
type ExamService struct {
	sessions  examSessionStore
	questions questionBank
	storage   recordingStorage
	audit     auditLogger
	tracker   sessionTracker
	metrics   *MetricsService
	pdf       *export.PDFExporter
	csv       *export.CSVExporter
	logger    *zap.Logger
	cfg       ExamServiceConfig
}

// NewExamService constructs the service. tracker and metrics may be nil.
func NewExamService(sessions examSessionStore, questions questionBank, storage recordingStorage, audit auditLogger, tracker sessionTracker, metrics *MetricsService, logger *zap.Logger, cfg ExamServiceConfig) *ExamService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = 5
	}
	if cfg.MinDifficulty < models.MinDifficulty {
		cfg.MinDifficulty = models.MinDifficulty
	}
	if cfg.MaxDifficulty <= 0 || cfg.MaxDifficulty > models.MaxDifficulty {
		cfg.MaxDifficulty = models.MaxDifficulty
	}
	if cfg.MaxRecordingSize <= 0 {
		cfg.MaxRecordingSize = 50 * 1024 * 1024
	}
	return &ExamService{
		sessions:  sessions,
		questions: questions,
		storage:   storage,
		audit:     audit,
		tracker:   tracker,
		metrics:   metrics,
		pdf:       export.NewPDFExporter(),
		csv:       export.NewCSVExporter(),
		logger:    logger,
		cfg:       cfg,
	}
}

// Initialize creates a session, draws its question sample and moves it into
// progress. The single-query sample never repeats a question within a
// session; ordering across sessions is deliberately not repeatable.
func (s *ExamService) Initialize(ctx context.Context, userID string) (*dto.InitializeSessionResponse, error) {
	sample, err := s.questions.SampleByDifficulty(ctx, s.cfg.MinDifficulty, s.cfg.MaxDifficulty, s.cfg.QuestionCount)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSessionCreation.Code, appErrors.ErrSessionCreation.Status, "question selection failed")
	}
	if len(sample) == 0 {
		return nil, appErrors.Clone(appErrors.ErrSessionCreation, "question selection returned no questions")
	}

	ids := make([]string, len(sample))
	for i, q := range sample {
		ids[i] = q.ID
	}

	session := &models.ExamSession{
		UserID:      userID,
		QuestionIDs: ids,
		Position:    0,
		Status:      models.SessionInProgress,
	}

	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSessionCreation.Code, appErrors.ErrSessionCreation.Status, "failed to persist session")
	}

	if s.tracker != nil {
		s.tracker.Track(session.ID)
	}
	if s.metrics != nil {
		s.metrics.SessionStarted()
	}

	return &dto.InitializeSessionResponse{
		SessionID:      session.ID,
		TotalQuestions: len(ids),
	}, nil
}

// NextQuestion returns the outstanding question, or the completion signal
// once every question has been answered. It never finalizes implicitly and
// is idempotent between submissions.
func (s *ExamService) NextQuestion(ctx context.Context, sessionID, userID string) (*dto.NextQuestionResponse, error) {
	session, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	if session.Completed() {
		return &dto.NextQuestionResponse{Completed: true}, nil
	}

	question, err := s.questions.FindByID(ctx, session.QuestionIDs[session.Position])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "question not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
	}

	view := &dto.QuestionView{
		ID:         question.ID,
		Position:   session.Position,
		Text:       question.Text,
		Type:       question.Type,
		Difficulty: question.Difficulty,
	}
	if question.Type == models.QuestionMultipleChoice {
		view.Options = append([]string(nil), question.Options...)
	}

	return &dto.NextQuestionResponse{Question: view}, nil
}

// SubmitAnswer grades and records the answer for the outstanding question
// and advances the position. The version check serializes concurrent
// submissions; the losing writer is retried once against fresh state.
func (s *ExamService) SubmitAnswer(ctx context.Context, sessionID, userID string, req dto.SubmitAnswerRequest) (*dto.SubmitAnswerResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.loadOwned(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}

		if session.Status != models.SessionInProgress {
			return nil, appErrors.Clone(appErrors.ErrInvalidSessionState, "session is not in progress")
		}
		if session.Completed() {
			return nil, appErrors.Clone(appErrors.ErrOutOfSequence, "no outstanding question")
		}
		if req.Position != session.Position {
			return nil, appErrors.Clone(appErrors.ErrOutOfSequence,
				fmt.Sprintf("expected answer for question %d, got %d", session.Position, req.Position))
		}

		question, err := s.questions.FindByID(ctx, session.QuestionIDs[session.Position])
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
		}

		answer := &models.AnswerRecord{
			SessionID:  session.ID,
			QuestionID: question.ID,
			Position:   session.Position,
			Answer:     req.Answer,
		}
		if question.Type == models.QuestionMultipleChoice {
			correct := req.Answer == question.CorrectOption
			answer.Correct = &correct
		}

		session.Position++

		if err := s.sessions.RecordAnswer(ctx, session, answer); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record answer")
		}

		return &dto.SubmitAnswerResponse{
			Position:  answer.Position,
			Remaining: len(session.QuestionIDs) - session.Position,
			Completed: session.Completed(),
		}, nil
	}

	return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "")
}

// AttachRecording stores a size-bounded recording artifact on the session.
// An upload of exactly the limit is accepted; one byte over is rejected.
// Scoring state is untouched.
func (s *ExamService) AttachRecording(ctx context.Context, sessionID, userID string, upload RecordingUpload) (*dto.RecordingResponse, error) {
	if upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recording file is required")
	}
	if upload.Size > s.cfg.MaxRecordingSize {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
			fmt.Sprintf("recording exceeds %d bytes limit", s.cfg.MaxRecordingSize))
	}

	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.loadOwned(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if session.Status != models.SessionInProgress {
			return nil, appErrors.Clone(appErrors.ErrInvalidSessionState, "session is not in progress")
		}

		path := fmt.Sprintf("sessions/%s/recording", session.ID)
		written, err := s.storage.SaveStream(path, io.LimitReader(upload.Content, s.cfg.MaxRecordingSize+1))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store recording")
		}
		if written > s.cfg.MaxRecordingSize {
			if err := s.storage.Delete(path); err != nil {
				s.logger.Warn("failed to remove oversized recording", zap.String("session_id", session.ID), zap.Error(err))
			}
			return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
				fmt.Sprintf("recording exceeds %d bytes limit", s.cfg.MaxRecordingSize))
		}

		session.RecordingPath = path
		session.RecordingSize = written

		if err := s.sessions.UpdateSession(ctx, session); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach recording")
		}

		return &dto.RecordingResponse{SessionID: session.ID, SizeBytes: written}, nil
	}

	return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "")
}

// DownloadRecording streams back the recording attached to the session. The
// caller owns the returned reader.
func (s *ExamService) DownloadRecording(ctx context.Context, sessionID, userID string) (io.ReadCloser, int64, error) {
	session, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, 0, err
	}
	if session.RecordingPath == "" {
		return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "no recording attached to this session")
	}

	rc, err := s.storage.Open(session.RecordingPath)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open recording")
	}
	return rc, session.RecordingSize, nil
}

// Finalize computes the score and closes the session. Finalizing before any
// answer is legal and scores zero; a second call reports the session as
// already finalized and leaves the score unchanged.
func (s *ExamService) Finalize(ctx context.Context, sessionID, userID string) (*dto.FinalizeResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		session, err := s.loadOwned(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}

		if session.Status == models.SessionFinalized {
			return nil, appErrors.Clone(appErrors.ErrAlreadyFinalized, "")
		}
		if session.Status != models.SessionInProgress {
			return nil, appErrors.Clone(appErrors.ErrInvalidSessionState, "session is not in progress")
		}

		score, err := s.sessions.CountCorrect(ctx, session.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute score")
		}

		now := time.Now().UTC()
		session.Status = models.SessionFinalized
		session.Score = score
		session.FinalizedAt = &now

		if err := s.sessions.UpdateSession(ctx, session); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize session")
		}

		if s.tracker != nil {
			s.tracker.Untrack(session.ID)
		}
		if s.metrics != nil {
			s.metrics.SessionFinalized()
		}

		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &session.UserID,
			Action:     models.AuditActionFinalize,
			Resource:   "exam_session",
			ResourceID: &session.ID,
			NewValues:  []byte(fmt.Sprintf(`{"score":%d,"total":%d}`, score, session.TotalQuestions())),
		}); err != nil {
			s.logger.Warn("failed to record finalize audit log", zap.Error(err))
		}

		return &dto.FinalizeResponse{
			SessionID:      session.ID,
			Score:          score,
			TotalQuestions: session.TotalQuestions(),
		}, nil
	}

	return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "")
}

// Report renders the score report of a finalized session as PDF or CSV.
func (s *ExamService) Report(ctx context.Context, sessionID, userID, format string) ([]byte, string, error) {
	session, err := s.loadOwned(ctx, sessionID, userID)
	if err != nil {
		return nil, "", err
	}
	if session.Status != models.SessionFinalized {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidSessionState, "session is not finalized")
	}

	answers, err := s.sessions.ListAnswers(ctx, session.ID)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load answers")
	}

	data := export.Dataset{Headers: []string{"Position", "Question", "Answer", "Correct"}}
	for _, a := range answers {
		question, err := s.questions.FindByID(ctx, a.QuestionID)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question")
		}
		correct := "pending"
		if a.Correct != nil {
			correct = strconv.FormatBool(*a.Correct)
		}
		data.Rows = append(data.Rows, map[string]string{
			"Position": strconv.Itoa(a.Position + 1),
			"Question": question.Text,
			"Answer":   a.Answer,
			"Correct":  correct,
		})
	}

	summary := []string{
		fmt.Sprintf("Session: %s", session.ID),
		fmt.Sprintf("Score: %d / %d", session.Score, session.TotalQuestions()),
	}
	if session.FinalizedAt != nil {
		summary = append(summary, fmt.Sprintf("Finalized: %s", session.FinalizedAt.Format(time.RFC3339)))
	}

	switch format {
	case "csv":
		out, err := s.csv.Render(data, summary)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
		}
		return out, "text/csv", nil
	case "", "pdf":
		out, err := s.pdf.Render(data, "Exam Score Report", summary)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
		}
		return out, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
}

func (s *ExamService) loadOwned(ctx context.Context, sessionID, userID string) (*models.ExamSession, error) {
	session, err := s.sessions.FindSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	return session, nil
}
