package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-dev/aegis-api/internal/dto"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
	"github.com/aegis-dev/aegis-api/pkg/response"
)

type questionGenerator interface {
	Generate(ctx context.Context, req dto.GenerateQuestionsRequest) (*dto.GenerateQuestionsResponse, error)
}

// QuestionHandler manages question bank HTTP endpoints.
type QuestionHandler struct {
	service questionGenerator
}

// NewQuestionHandler constructs the handler.
func NewQuestionHandler(service questionGenerator) *QuestionHandler {
	return &QuestionHandler{service: service}
}

// Generate godoc
// @Summary Generate questions into the bank
// @Description Asks the configured LLM provider for new questions (admin only)
// @Tags Questions
// @Accept json
// @Produce json
// @Param payload body dto.GenerateQuestionsRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /questions/generate [post]
func (h *QuestionHandler) Generate(c *gin.Context) {
	var req dto.GenerateQuestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return
	}

	res, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}
