package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aegis-dev/aegis-api/internal/dto"
	"github.com/aegis-dev/aegis-api/internal/models"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
)

type questionWriter interface {
	Create(ctx context.Context, q *models.Question) error
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// QuestionGenConfig configures the LLM-backed generator. Disabled when no
// API key is present; the feature degrades instead of failing startup.
type QuestionGenConfig struct {
	Enabled        bool
	Model          string
	RequestTimeout time.Duration
}

// QuestionService generates exam questions through an OpenAI-compatible
// provider and persists them into the question bank.
type QuestionService struct {
	repo      questionWriter
	client    chatCompleter
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       QuestionGenConfig
}

// NewOpenAIClient builds the provider client from config.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
}

// NewQuestionService constructs the service. client and metrics may be nil;
// a nil client means the feature is disabled.
func NewQuestionService(repo questionWriter, client chatCompleter, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger, cfg QuestionGenConfig) *QuestionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &QuestionService{repo: repo, client: client, validator: validate, metrics: metrics, logger: logger, cfg: cfg}
}

type generatedQuestion struct {
	Text            string   `json:"text"`
	CanonicalAnswer string   `json:"canonical_answer"`
	Explanation     string   `json:"explanation"`
	Difficulty      int      `json:"difficulty"`
	Type            string   `json:"type"`
	Options         []string `json:"options"`
	CorrectOption   string   `json:"correct_option"`
}

// Generate asks the provider for a batch of questions and stores the valid
// ones. Provider calls are bounded by the configured timeout.
func (s *QuestionService) Generate(ctx context.Context, req dto.GenerateQuestionsRequest) (*dto.GenerateQuestionsResponse, error) {
	if !s.cfg.Enabled || s.client == nil {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "question generation is disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation payload")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildGenerationPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordUpstreamCall("openai", "timeout")
			return nil, appErrors.Wrap(err, appErrors.ErrUpstreamTimeout.Code, appErrors.ErrUpstreamTimeout.Status, "question provider timed out")
		}
		s.metrics.RecordUpstreamCall("openai", "error")
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "question provider request failed")
	}
	s.metrics.RecordUpstreamCall("openai", "ok")
	if len(resp.Choices) == 0 {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "question provider returned no choices")
	}

	var payload struct {
		Questions []generatedQuestion `json:"questions"`
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "question provider returned malformed JSON")
	}

	result := &dto.GenerateQuestionsResponse{}
	for _, g := range payload.Questions {
		question := &models.Question{
			Text:            g.Text,
			CanonicalAnswer: g.CanonicalAnswer,
			Explanation:     g.Explanation,
			Difficulty:      g.Difficulty,
			Type:            models.QuestionType(g.Type),
			Options:         g.Options,
			CorrectOption:   g.CorrectOption,
		}
		if question.Difficulty == 0 {
			question.Difficulty = req.Difficulty
		}
		if !question.Valid() {
			s.logger.Warn("skipping invalid generated question", zap.String("text", g.Text))
			continue
		}
		if err := s.repo.Create(ctx, question); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist question")
		}
		result.Created++
		result.IDs = append(result.IDs, question.ID)
	}

	if result.Created == 0 {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "question provider produced no usable questions")
	}
	return result, nil
}

const generationSystemPrompt = `You are an exam author for technical interviews. Respond with a JSON object of the form {"questions": [...]}. Each question has: text, canonical_answer, explanation, difficulty (1-8), type ("multiple_choice" or "open_ended"), options (multiple_choice only) and correct_option (must appear in options).`

func buildGenerationPrompt(req dto.GenerateQuestionsRequest) string {
	return fmt.Sprintf("Generate %d questions about %s at difficulty %d.", req.Count, req.Topic, req.Difficulty)
}
