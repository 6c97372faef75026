package dto

// GenerateQuestionsRequest asks the LLM provider for new exam questions.
type GenerateQuestionsRequest struct {
	Topic      string `json:"topic" validate:"required"`
	Count      int    `json:"count" validate:"required,min=1,max=20"`
	Difficulty int    `json:"difficulty" validate:"required,min=1,max=8"`
}

// GenerateQuestionsResponse reports how many questions were persisted.
type GenerateQuestionsResponse struct {
	Created int      `json:"created"`
	IDs     []string `json:"ids"`
}
