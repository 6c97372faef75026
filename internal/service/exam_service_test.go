package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis-api/internal/dto"
	"github.com/aegis-dev/aegis-api/internal/models"
	"github.com/aegis-dev/aegis-api/internal/repository"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
)

type sessionStoreStub struct {
	sessions map[string]*models.ExamSession
	answers  map[string][]models.AnswerRecord

	// conflicts forces the next n CAS writes to lose the race.
	conflicts int
	created   int
}

func newSessionStoreStub() *sessionStoreStub {
	return &sessionStoreStub{
		sessions: make(map[string]*models.ExamSession),
		answers:  make(map[string][]models.AnswerRecord),
	}
}

func (s *sessionStoreStub) CreateSession(ctx context.Context, session *models.ExamSession) error {
	s.created++
	if session.ID == "" {
		session.ID = fmt.Sprintf("sess-%d", s.created)
	}
	stored := *session
	stored.QuestionIDs = append([]string(nil), session.QuestionIDs...)
	s.sessions[session.ID] = &stored
	return nil
}

func (s *sessionStoreStub) FindSession(ctx context.Context, id string) (*models.ExamSession, error) {
	stored, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *stored
	copy.QuestionIDs = append([]string(nil), stored.QuestionIDs...)
	return &copy, nil
}

func (s *sessionStoreStub) UpdateSession(ctx context.Context, session *models.ExamSession) error {
	if s.conflicts > 0 {
		s.conflicts--
		return repository.ErrVersionConflict
	}
	stored, ok := s.sessions[session.ID]
	if !ok || stored.Version != session.Version {
		return repository.ErrVersionConflict
	}
	updated := *session
	updated.Version++
	updated.QuestionIDs = append([]string(nil), session.QuestionIDs...)
	s.sessions[session.ID] = &updated
	session.Version++
	return nil
}

func (s *sessionStoreStub) RecordAnswer(ctx context.Context, session *models.ExamSession, answer *models.AnswerRecord) error {
	if err := s.UpdateSession(ctx, session); err != nil {
		return err
	}
	s.answers[session.ID] = append(s.answers[session.ID], *answer)
	return nil
}

func (s *sessionStoreStub) ListAnswers(ctx context.Context, sessionID string) ([]models.AnswerRecord, error) {
	return append([]models.AnswerRecord(nil), s.answers[sessionID]...), nil
}

func (s *sessionStoreStub) CountCorrect(ctx context.Context, sessionID string) (int, error) {
	count := 0
	for _, a := range s.answers[sessionID] {
		if a.Correct != nil && *a.Correct {
			count++
		}
	}
	return count, nil
}

type questionBankStub struct {
	questions map[string]*models.Question
	sample    []models.Question
}

func newQuestionBankStub(questions ...models.Question) *questionBankStub {
	stub := &questionBankStub{questions: make(map[string]*models.Question), sample: questions}
	for i := range questions {
		q := questions[i]
		stub.questions[q.ID] = &q
	}
	return stub
}

func (b *questionBankStub) SampleByDifficulty(ctx context.Context, minDifficulty, maxDifficulty, limit int) ([]models.Question, error) {
	if limit > len(b.sample) {
		limit = len(b.sample)
	}
	return append([]models.Question(nil), b.sample[:limit]...), nil
}

func (b *questionBankStub) FindByID(ctx context.Context, id string) (*models.Question, error) {
	q, ok := b.questions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *q
	return &copy, nil
}

type recordingStoreStub struct {
	saved   map[string][]byte
	deleted []string
}

func newRecordingStoreStub() *recordingStoreStub {
	return &recordingStoreStub{saved: make(map[string][]byte)}
}

func (s *recordingStoreStub) SaveStream(filename string, r io.Reader) (int64, error) {
	buf := &bytes.Buffer{}
	n, err := io.Copy(buf, r)
	if err != nil {
		return n, err
	}
	s.saved[filename] = buf.Bytes()
	return n, nil
}

func (s *recordingStoreStub) Open(filename string) (io.ReadCloser, error) {
	data, ok := s.saved[filename]
	if !ok {
		return nil, fmt.Errorf("recording %s not found", filename)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *recordingStoreStub) Delete(filename string) error {
	s.deleted = append(s.deleted, filename)
	delete(s.saved, filename)
	return nil
}

type auditStub struct {
	logs []models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, *log)
	return nil
}

type trackerStub struct {
	tracked   []string
	untracked []string
}

func (t *trackerStub) Track(sessionID string)   { t.tracked = append(t.tracked, sessionID) }
func (t *trackerStub) Untrack(sessionID string) { t.untracked = append(t.untracked, sessionID) }

func defaultQuestions() []models.Question {
	return []models.Question{
		{ID: "q1", Text: "What does TCP stand for?", Type: models.QuestionMultipleChoice, Difficulty: 2, Options: []string{"Transmission Control Protocol", "Transfer Control Program"}, CorrectOption: "Transmission Control Protocol"},
		{ID: "q2", Text: "Explain goroutine scheduling.", Type: models.QuestionOpenEnded, Difficulty: 5, CanonicalAnswer: "GMP model"},
		{ID: "q3", Text: "Which is a B-tree index?", Type: models.QuestionMultipleChoice, Difficulty: 3, Options: []string{"btree", "hash"}, CorrectOption: "btree"},
		{ID: "q4", Text: "Describe CAP theorem.", Type: models.QuestionOpenEnded, Difficulty: 6, CanonicalAnswer: "pick two"},
		{ID: "q5", Text: "HTTP status for conflict?", Type: models.QuestionMultipleChoice, Difficulty: 1, Options: []string{"404", "409", "500"}, CorrectOption: "409"},
	}
}

func newTestExamService(store *sessionStoreStub, bank *questionBankStub, recordings *recordingStoreStub, tracker *trackerStub) (*ExamService, *auditStub) {
	audit := &auditStub{}
	var tr sessionTracker
	if tracker != nil {
		tr = tracker
	}
	svc := NewExamService(store, bank, recordings, audit, tr, nil, nil, ExamServiceConfig{
		QuestionCount:    5,
		MinDifficulty:    1,
		MaxDifficulty:    8,
		MaxRecordingSize: 1024,
	})
	return svc, audit
}

func TestInitializeDrawsSampleAndStartsSession(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	tracker := &trackerStub{}
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), tracker)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalQuestions)
	require.NotEmpty(t, res.SessionID)

	stored := store.sessions[res.SessionID]
	require.NotNil(t, stored)
	assert.Equal(t, models.SessionInProgress, stored.Status)
	assert.Equal(t, 0, stored.Position)
	assert.Len(t, stored.QuestionIDs, 5)
	assert.Equal(t, []string{res.SessionID}, tracker.tracked)
}

func TestInitializeFailsOnEmptyBank(t *testing.T) {
	svc, _ := newTestExamService(newSessionStoreStub(), newQuestionBankStub(), newRecordingStoreStub(), nil)

	_, err := svc.Initialize(context.Background(), "user-1")
	require.Error(t, err)
	assert.Equal(t, "SESSION_CREATION_FAILED", appErrors.FromError(err).Code)
}

func TestNextQuestionStripsGradingFields(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	next, err := svc.NextQuestion(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)
	require.NotNil(t, next.Question)
	assert.False(t, next.Completed)
	assert.Equal(t, "q1", next.Question.ID)
	assert.Equal(t, 0, next.Question.Position)
	assert.ElementsMatch(t, []string{"Transmission Control Protocol", "Transfer Control Program"}, next.Question.Options)

	// Asking again without answering returns the same question.
	again, err := svc.NextQuestion(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, next.Question.ID, again.Question.ID)
}

func TestNextQuestionHidesSessionsOfOtherUsers(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = svc.NextQuestion(context.Background(), res.SessionID, "user-2")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestFullExamFlow(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	tracker := &trackerStub{}
	svc, audit := newTestExamService(store, bank, newRecordingStoreStub(), tracker)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	// q1 correct, q3 wrong, q5 correct; open-ended answers stay ungraded.
	answers := []string{"Transmission Control Protocol", "scheduler multiplexes goroutines", "hash", "consistency, availability, partition tolerance", "409"}
	for i, answer := range answers {
		out, err := svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: i, Answer: answer})
		require.NoError(t, err)
		assert.Equal(t, i, out.Position)
		assert.Equal(t, len(answers)-i-1, out.Remaining)
	}

	next, err := svc.NextQuestion(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)
	assert.True(t, next.Completed)
	assert.Nil(t, next.Question)

	final, err := svc.Finalize(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, final.Score)
	assert.Equal(t, 5, final.TotalQuestions)
	assert.Equal(t, []string{res.SessionID}, tracker.untracked)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionFinalize, audit.logs[0].Action)

	// Open-ended records carry NULL correctness.
	records := store.answers[res.SessionID]
	require.Len(t, records, 5)
	assert.Nil(t, records[1].Correct)
	assert.Nil(t, records[3].Correct)
	require.NotNil(t, records[0].Correct)
	assert.True(t, *records[0].Correct)
	require.NotNil(t, records[2].Correct)
	assert.False(t, *records[2].Correct)

	_, err = svc.Finalize(context.Background(), res.SessionID, "user-1")
	require.Error(t, err)
	assert.Equal(t, "ALREADY_FINALIZED", appErrors.FromError(err).Code)
}

func TestSubmitAnswerOutOfSequenceDoesNotMutate(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 2, Answer: "early"})
	require.Error(t, err)
	assert.Equal(t, "OUT_OF_SEQUENCE", appErrors.FromError(err).Code)

	assert.Empty(t, store.answers[res.SessionID])
	assert.Equal(t, 0, store.sessions[res.SessionID].Position)

	// Replaying an already-answered position is rejected the same way.
	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 0, Answer: "409"})
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 0, Answer: "409"})
	require.Error(t, err)
	assert.Equal(t, "OUT_OF_SEQUENCE", appErrors.FromError(err).Code)
	assert.Len(t, store.answers[res.SessionID], 1)
}

func TestSubmitAnswerRetriesLostRaceOnce(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	store.conflicts = 1
	out, err := svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 0, Answer: "Transmission Control Protocol"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Position)

	store.conflicts = 2
	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 1, Answer: "whatever"})
	require.Error(t, err)
	assert.Equal(t, "CONCURRENT_MODIFICATION", appErrors.FromError(err).Code)
}

func TestSubmitAnswerRequiresInProgressSession(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = svc.Finalize(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)

	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 0, Answer: "late"})
	require.Error(t, err)
	assert.Equal(t, "INVALID_SESSION_STATE", appErrors.FromError(err).Code)
}

func TestAttachRecordingSizeBoundary(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	recordings := newRecordingStoreStub()
	svc, _ := newTestExamService(store, bank, recordings, nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	atLimit := bytes.Repeat([]byte("a"), 1024)
	out, err := svc.AttachRecording(context.Background(), res.SessionID, "user-1", RecordingUpload{
		Filename: "exam.webm",
		Size:     int64(len(atLimit)),
		Content:  bytes.NewReader(atLimit),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1024), out.SizeBytes)
	assert.Equal(t, int64(1024), store.sessions[res.SessionID].RecordingSize)

	oneOver := bytes.Repeat([]byte("a"), 1025)
	_, err = svc.AttachRecording(context.Background(), res.SessionID, "user-1", RecordingUpload{
		Filename: "exam.webm",
		Size:     int64(len(oneOver)),
		Content:  bytes.NewReader(oneOver),
	})
	require.Error(t, err)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", appErrors.FromError(err).Code)
}

func TestAttachRecordingRejectsUnderdeclaredStream(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	recordings := newRecordingStoreStub()
	svc, _ := newTestExamService(store, bank, recordings, nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	// Declared size lies; the stream itself is over the limit.
	oneOver := bytes.Repeat([]byte("a"), 1025)
	_, err = svc.AttachRecording(context.Background(), res.SessionID, "user-1", RecordingUpload{
		Filename: "exam.webm",
		Size:     10,
		Content:  bytes.NewReader(oneOver),
	})
	require.Error(t, err)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", appErrors.FromError(err).Code)
	assert.NotEmpty(t, recordings.deleted)
}

func TestDownloadRecordingRoundTrip(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	recordings := newRecordingStoreStub()
	svc, _ := newTestExamService(store, bank, recordings, nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	payload := []byte("webm-bytes")
	_, err = svc.AttachRecording(context.Background(), res.SessionID, "user-1", RecordingUpload{
		Filename: "exam.webm",
		Size:     int64(len(payload)),
		Content:  bytes.NewReader(payload),
	})
	require.NoError(t, err)

	rc, size, err := svc.DownloadRecording(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(len(payload)), size)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDownloadRecordingMissing(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	_, _, err = svc.DownloadRecording(context.Background(), res.SessionID, "user-1")
	require.Error(t, err)
	assert.Equal(t, "NOT_FOUND", appErrors.FromError(err).Code)
}

func TestFinalizeWithNoAnswersScoresZero(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	final, err := svc.Finalize(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, final.Score)
	assert.Equal(t, models.SessionFinalized, store.sessions[res.SessionID].Status)
	require.NotNil(t, store.sessions[res.SessionID].FinalizedAt)
}

func TestReportRequiresFinalizedSession(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	_, _, err = svc.Report(context.Background(), res.SessionID, "user-1", "csv")
	require.Error(t, err)
	assert.Equal(t, "INVALID_SESSION_STATE", appErrors.FromError(err).Code)
}

func TestReportRendersCSVAndPDF(t *testing.T) {
	store := newSessionStoreStub()
	bank := newQuestionBankStub(defaultQuestions()...)
	svc, _ := newTestExamService(store, bank, newRecordingStoreStub(), nil)

	res, err := svc.Initialize(context.Background(), "user-1")
	require.NoError(t, err)

	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 0, Answer: "Transmission Control Protocol"})
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(context.Background(), res.SessionID, "user-1", dto.SubmitAnswerRequest{Position: 1, Answer: "scheduler"})
	require.NoError(t, err)
	_, err = svc.Finalize(context.Background(), res.SessionID, "user-1")
	require.NoError(t, err)

	csvOut, contentType, err := svc.Report(context.Background(), res.SessionID, "user-1", "csv")
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	body := string(csvOut)
	assert.Contains(t, body, "Session: "+res.SessionID)
	assert.Contains(t, body, "Score: ")
	assert.Contains(t, body, "What does TCP stand for?")
	assert.Contains(t, body, "true")
	assert.Contains(t, body, "pending")

	pdfOut, contentType, err := svc.Report(context.Background(), res.SessionID, "user-1", "pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", contentType)
	assert.True(t, strings.HasPrefix(string(pdfOut), "%PDF"))

	_, _, err = svc.Report(context.Background(), res.SessionID, "user-1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_ERROR", appErrors.FromError(err).Code)
}
