package models

import "time"

// SubscriptionPlan enumerates the paid tiers.
type SubscriptionPlan string

const (
	PlanBasic   SubscriptionPlan = "basic"
	PlanPro     SubscriptionPlan = "pro"
	PlanPremium SubscriptionPlan = "premium"
)

// Subscription mirrors the billing provider's view of a user's access.
// Mutated only by webhook sync and admin paths.
type Subscription struct {
	ID                   string           `db:"id" json:"id"`
	UserID               string           `db:"user_id" json:"user_id"`
	Plan                 SubscriptionPlan `db:"plan" json:"plan"`
	Active               bool             `db:"active" json:"active"`
	StripeCustomerID     string           `db:"stripe_customer_id" json:"-"`
	StripeSubscriptionID string           `db:"stripe_subscription_id" json:"-"`
	CurrentPeriodEnd     *time.Time       `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}
