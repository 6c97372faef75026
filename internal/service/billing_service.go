package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/aegis-dev/aegis-api/internal/dto"
	"github.com/aegis-dev/aegis-api/internal/models"
	appErrors "github.com/aegis-dev/aegis-api/pkg/errors"
)

type billingSubscriptionStore interface {
	Upsert(ctx context.Context, sub *models.Subscription) error
	FindByStripeSubscriptionID(ctx context.Context, stripeID string) (*models.Subscription, error)
	SetActive(ctx context.Context, userID string, active bool) error
}

type checkoutCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type statusInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// BillingConfig configures the Stripe integration. Disabled when keys are
// absent; billing then degrades instead of failing startup.
type BillingConfig struct {
	Enabled        bool
	WebhookSecret  string
	PriceBasic     string
	PricePro       string
	PricePremium   string
	SuccessURL     string
	CancelURL      string
	RequestTimeout time.Duration
}

// BillingService creates checkout sessions and syncs subscription records
// from provider webhooks. Webhook mutations are never retried.
type BillingService struct {
	store       billingSubscriptionStore
	checkout    checkoutCreator
	invalidator statusInvalidator
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         BillingConfig
}

// NewStripeClient builds an explicit Stripe API client, avoiding the SDK's
// package-level key.
func NewStripeClient(secretKey string) *client.API {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return sc
}

// NewBillingService constructs the service. checkout, invalidator and
// metrics may be nil.
func NewBillingService(store billingSubscriptionStore, checkout checkoutCreator, invalidator statusInvalidator, metrics *MetricsService, logger *zap.Logger, cfg BillingConfig) *BillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &BillingService{store: store, checkout: checkout, invalidator: invalidator, metrics: metrics, logger: logger, cfg: cfg}
}

// CreateCheckout starts a hosted checkout for the requested plan.
func (s *BillingService) CreateCheckout(ctx context.Context, userID, email string, req dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if !s.cfg.Enabled || s.checkout == nil {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "billing is disabled")
	}

	priceID := s.priceFor(req.Plan)
	if priceID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown subscription plan")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: callCtx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(userID),
		CustomerEmail:     stripe.String(email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
	}
	params.AddMetadata("plan", string(req.Plan))

	session, err := s.checkout.New(params)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.metrics.RecordUpstreamCall("stripe", "timeout")
			return nil, appErrors.Wrap(err, appErrors.ErrUpstreamTimeout.Code, appErrors.ErrUpstreamTimeout.Status, "billing provider timed out")
		}
		s.metrics.RecordUpstreamCall("stripe", "error")
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "billing provider request failed")
	}
	s.metrics.RecordUpstreamCall("stripe", "ok")

	return &dto.CheckoutResponse{URL: session.URL}, nil
}

// HandleWebhook verifies the provider signature and applies the event.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.cfg.Enabled {
		return appErrors.Clone(appErrors.ErrUpstreamUnavailable, "billing is disabled")
	}

	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid webhook signature")
	}

	return s.processEvent(ctx, event)
}

func (s *BillingService) processEvent(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed checkout event")
		}
		return s.applyCheckoutCompleted(ctx, &session)

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed subscription event")
		}
		return s.applySubscriptionUpdated(ctx, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed subscription event")
		}
		return s.applySubscriptionDeleted(ctx, &sub)

	default:
		s.logger.Debug("ignoring webhook event", zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *BillingService) applyCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	userID := session.ClientReferenceID
	if userID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "checkout event missing client reference")
	}

	sub := &models.Subscription{
		UserID: userID,
		Plan:   models.SubscriptionPlan(session.Metadata["plan"]),
		Active: true,
	}
	if session.Customer != nil {
		sub.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		sub.StripeSubscriptionID = session.Subscription.ID
	}

	if err := s.store.Upsert(ctx, sub); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sync subscription")
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, userID)
	}
	return nil
}

func (s *BillingService) applySubscriptionUpdated(ctx context.Context, remote *stripe.Subscription) error {
	local, err := s.store.FindByStripeSubscriptionID(ctx, remote.ID)
	if err != nil {
		s.logger.Warn("subscription update for unknown record", zap.String("stripe_id", remote.ID), zap.Error(err))
		return nil
	}

	local.Active = remote.Status == stripe.SubscriptionStatusActive || remote.Status == stripe.SubscriptionStatusTrialing
	if remote.CurrentPeriodEnd > 0 {
		periodEnd := time.Unix(remote.CurrentPeriodEnd, 0).UTC()
		local.CurrentPeriodEnd = &periodEnd
	}

	if err := s.store.Upsert(ctx, local); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sync subscription")
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, local.UserID)
	}
	return nil
}

func (s *BillingService) applySubscriptionDeleted(ctx context.Context, remote *stripe.Subscription) error {
	local, err := s.store.FindByStripeSubscriptionID(ctx, remote.ID)
	if err != nil {
		s.logger.Warn("subscription delete for unknown record", zap.String("stripe_id", remote.ID), zap.Error(err))
		return nil
	}

	if err := s.store.SetActive(ctx, local.UserID, false); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate subscription")
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, local.UserID)
	}
	return nil
}

func (s *BillingService) priceFor(plan models.SubscriptionPlan) string {
	switch plan {
	case models.PlanBasic:
		return s.cfg.PriceBasic
	case models.PlanPro:
		return s.cfg.PricePro
	case models.PlanPremium:
		return s.cfg.PricePremium
	default:
		return ""
	}
}
