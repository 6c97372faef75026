package dto

import "github.com/aegis-dev/aegis-api/internal/models"

// CheckoutRequest starts a subscription purchase for a plan.
type CheckoutRequest struct {
	Plan models.SubscriptionPlan `json:"plan" validate:"required,oneof=basic pro premium"`
}

// CheckoutResponse carries the hosted checkout URL.
type CheckoutResponse struct {
	URL string `json:"url"`
}
