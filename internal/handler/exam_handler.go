package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-dev/aegis-api/internal/dto"
	"github.com/aegis-dev/aegis-api/internal/service"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
	"github.com/aegis-dev/aegis-api/pkg/response"
)

type examService interface {
	Initialize(ctx context.Context, userID string) (*dto.InitializeSessionResponse, error)
	NextQuestion(ctx context.Context, sessionID, userID string) (*dto.NextQuestionResponse, error)
	SubmitAnswer(ctx context.Context, sessionID, userID string, req dto.SubmitAnswerRequest) (*dto.SubmitAnswerResponse, error)
	AttachRecording(ctx context.Context, sessionID, userID string, upload service.RecordingUpload) (*dto.RecordingResponse, error)
	DownloadRecording(ctx context.Context, sessionID, userID string) (io.ReadCloser, int64, error)
	Finalize(ctx context.Context, sessionID, userID string) (*dto.FinalizeResponse, error)
	Report(ctx context.Context, sessionID, userID, format string) ([]byte, string, error)
}

// ExamHandler manages exam session HTTP endpoints.
type ExamHandler struct {
	service examService
}

// NewExamHandler constructs the handler.
func NewExamHandler(service examService) *ExamHandler {
	return &ExamHandler{service: service}
}

// Initialize godoc
// @Summary Start a new exam session
// @Tags Exam
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /exam/initialize [post]
func (h *ExamHandler) Initialize(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.service.Initialize(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Next godoc
// @Summary Get the outstanding question
// @Tags Exam
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exam/{sessionId}/next [get]
func (h *ExamHandler) Next(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.service.NextQuestion(c.Request.Context(), c.Param("sessionId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Answer godoc
// @Summary Submit the answer for the outstanding question
// @Tags Exam
// @Accept json
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param payload body dto.SubmitAnswerRequest true "Answer payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam/{sessionId}/answer [post]
func (h *ExamHandler) Answer(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid answer payload"))
		return
	}

	res, err := h.service.SubmitAnswer(c.Request.Context(), c.Param("sessionId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Recording godoc
// @Summary Attach a proctoring recording to the session
// @Tags Exam
// @Accept multipart/form-data
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param file formData file true "Recording"
// @Success 200 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /exam/{sessionId}/recording [post]
func (h *ExamHandler) Recording(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "recording file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	upload := service.RecordingUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  src,
	}

	res, err := h.service.AttachRecording(c.Request.Context(), c.Param("sessionId"), claims.UserID, upload)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// GetRecording godoc
// @Summary Download the recording attached to the session
// @Tags Exam
// @Produce application/octet-stream
// @Param sessionId path string true "Session ID"
// @Success 200 {file} binary
// @Failure 404 {object} response.Envelope
// @Router /exam/{sessionId}/recording [get]
func (h *ExamHandler) GetRecording(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID := c.Param("sessionId")
	rc, size, err := h.service.DownloadRecording(c.Request.Context(), sessionID, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"recording-%s\"", sessionID))
	c.DataFromReader(http.StatusOK, size, "application/octet-stream", rc, nil)
}

// Finalize godoc
// @Summary Finalize the session and compute the score
// @Tags Exam
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /exam/{sessionId}/finalize [post]
func (h *ExamHandler) Finalize(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.service.Finalize(c.Request.Context(), c.Param("sessionId"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Report godoc
// @Summary Download the score report of a finalized session
// @Tags Exam
// @Produce application/pdf
// @Param sessionId path string true "Session ID"
// @Param format query string false "Report format (pdf or csv)"
// @Success 200 {file} binary
// @Failure 409 {object} response.Envelope
// @Router /exam/{sessionId}/report [get]
func (h *ExamHandler) Report(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sessionID := c.Param("sessionId")
	format := c.DefaultQuery("format", "pdf")

	out, contentType, err := h.service.Report(c.Request.Context(), sessionID, claims.UserID, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	ext := "pdf"
	if contentType == "text/csv" {
		ext = "csv"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"exam-report-%s.%s\"", sessionID, ext))
	c.Data(http.StatusOK, contentType, out)
}
