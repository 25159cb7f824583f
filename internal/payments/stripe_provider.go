package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey       string
	SuccessURL   string
	CancelURL    string
	ProductName  string
	Logger       StripeLogger
	Clock        func() time.Time
	PollInterval time.Duration
	Sessions     stripeSessionAPI
}

// StripeProvider collects payments through Stripe's hosted checkout page. It
// is the fallback for currencies the widget gateway does not serve.
type StripeProvider struct {
	sessions     stripeSessionAPI
	successURL   string
	cancelURL    string
	productName  string
	logger       StripeLogger
	clock        func() time.Time
	pollInterval time.Duration
}

// NewStripeProvider constructs a Stripe backed Provider.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, nil)
		sessions = sc.CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	return &StripeProvider{
		sessions:     sessions,
		successURL:   strings.TrimSpace(cfg.SuccessURL),
		cancelURL:    strings.TrimSpace(cfg.CancelURL),
		productName:  defaultString(cfg.ProductName, "Order"),
		logger:       logger,
		clock:        clock,
		pollInterval: interval,
	}, nil
}

// Name identifies the provider for manager routing.
func (p *StripeProvider) Name() string { return "stripe" }

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// Ready reports whether the provider can open a checkout session.
func (p *StripeProvider) Ready(ctx context.Context) error {
	if p == nil || p.sessions == nil {
		return errors.New("stripe: provider is not configured")
	}
	return nil
}

// Collect opens a hosted checkout session and polls it until the shopper pays,
// abandons it, or ctx expires.
func (p *StripeProvider) Collect(ctx context.Context, req CollectRequest) (Receipt, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Order.Currency)),
				UnitAmount: stripe.Int64(req.Order.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.productName),
				},
			},
		}},
		ClientReferenceID: stripe.String(req.Order.OrderID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if email := strings.TrimSpace(req.Prefill.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := p.sessions.New(params)
	if err != nil {
		return Receipt{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"session_id": session.ID,
		"order_id":   req.Order.OrderID,
	})

	return p.await(ctx, req.Order.OrderID, session.ID)
}

// await polls the checkout session until it reaches a terminal state.
func (p *StripeProvider) await(ctx context.Context, orderID, sessionID string) (Receipt, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	receipt := Receipt{Provider: p.Name(), OrderID: orderID}
	for {
		select {
		case <-ctx.Done():
			receipt.Status = StatusDismissed
			receipt.Reason = "context cancelled"
			return receipt, nil
		case <-ticker.C:
		}

		getParams := &stripe.CheckoutSessionParams{}
		getParams.Context = ctx
		session, err := p.sessions.Get(sessionID, getParams)
		if err != nil {
			p.logger(ctx, "payments.stripe.poll_error", map[string]any{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			continue
		}

		switch session.Status {
		case stripe.CheckoutSessionStatusComplete:
			if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
				receipt.Status = StatusFailed
				receipt.Reason = "session complete but unpaid"
				return receipt, nil
			}
			receipt.Status = StatusSucceeded
			if session.PaymentIntent != nil {
				receipt.PaymentID = session.PaymentIntent.ID
			}
			p.logger(ctx, "payments.stripe.settled", map[string]any{
				"session_id": sessionID,
				"order_id":   orderID,
			})
			return receipt, nil
		case stripe.CheckoutSessionStatusExpired:
			receipt.Status = StatusDismissed
			receipt.Reason = "session expired"
			return receipt, nil
		}
	}
}
