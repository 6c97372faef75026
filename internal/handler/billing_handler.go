package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-dev/aegis-api/internal/dto"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
	"github.com/aegis-dev/aegis-api/pkg/response"
)

type billingService interface {
	CreateCheckout(ctx context.Context, userID, email string, req dto.CheckoutRequest) (*dto.CheckoutResponse, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// BillingHandler manages billing HTTP endpoints.
type BillingHandler struct {
	service billingService
}

// NewBillingHandler constructs the handler.
func NewBillingHandler(service billingService) *BillingHandler {
	return &BillingHandler{service: service}
}

// Checkout godoc
// @Summary Start a subscription checkout
// @Tags Billing
// @Accept json
// @Produce json
// @Param payload body dto.CheckoutRequest true "Checkout payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /billing/checkout [post]
func (h *BillingHandler) Checkout(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid checkout payload"))
		return
	}

	res, err := h.service.CreateCheckout(c.Request.Context(), claims.UserID, claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Webhook godoc
// @Summary Receive billing provider webhooks
// @Description Signature-verified endpoint for subscription lifecycle events
// @Tags Billing
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /billing/webhook [post]
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read webhook body"))
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if err := h.service.HandleWebhook(c.Request.Context(), payload, signature); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"received": true}, nil)
}
