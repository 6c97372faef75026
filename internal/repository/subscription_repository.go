package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/aegis-dev/aegis-api/internal/models"
)

// SubscriptionRepository provides database access for subscription records.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository creates a new instance.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// FindByUserID returns the subscription for a user.
func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	const query = `SELECT id, user_id, plan, active, stripe_customer_id, stripe_subscription_id, current_period_end, created_at, updated_at FROM subscriptions WHERE user_id = $1 LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription by user: %w", err)
	}
	return &sub, nil
}

// FindByStripeSubscriptionID resolves the local record for a provider event.
func (r *SubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	const query = `SELECT id, user_id, plan, active, stripe_customer_id, stripe_subscription_id, current_period_end, created_at, updated_at FROM subscriptions WHERE stripe_subscription_id = $1 LIMIT 1`
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, stripeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription by stripe id: %w", err)
	}
	return &sub, nil
}

// Upsert creates or replaces the subscription record keyed by user.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	const query = `INSERT INTO subscriptions (id, user_id, plan, active, stripe_customer_id, stripe_subscription_id, current_period_end, created_at, updated_at)
		VALUES (:id, :user_id, :plan, :active, :stripe_customer_id, :stripe_subscription_id, :current_period_end, :created_at, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET plan = EXCLUDED.plan, active = EXCLUDED.active, stripe_customer_id = EXCLUDED.stripe_customer_id, stripe_subscription_id = EXCLUDED.stripe_subscription_id, current_period_end = EXCLUDED.current_period_end, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// SetActive flips the active flag, used on subscription deletion events.
func (r *SubscriptionRepository) SetActive(ctx context.Context, userID string, active bool) error {
	const query = `UPDATE subscriptions SET active = $2, updated_at = $3 WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	return nil
}
