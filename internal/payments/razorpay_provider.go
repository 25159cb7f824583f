package payments

import (
	"context"
	"errors"
	"time"

	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/widget"
)

// VerifyFunc checks a payment confirmation's signature with the commerce API.
type VerifyFunc func(ctx context.Context, confirmation domain.PaymentConfirmation) error

// RazorpayLogger defines the logging contract for widget payment operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

// RazorpayProviderConfig configures the RazorpayProvider.
type RazorpayProviderConfig struct {
	Bridge *widget.Bridge
	Verify VerifyFunc
	Logger RazorpayLogger
	Clock  func() time.Time
}

// RazorpayProvider collects payments through the hosted widget. Order creation
// and signature verification stay with the commerce API; this process only
// drives the widget interaction.
type RazorpayProvider struct {
	bridge *widget.Bridge
	verify VerifyFunc
	logger RazorpayLogger
	clock  func() time.Time
}

// NewRazorpayProvider constructs a widget backed Provider.
func NewRazorpayProvider(cfg RazorpayProviderConfig) (*RazorpayProvider, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("razorpay: widget bridge is required")
	}
	if cfg.Verify == nil {
		return nil, errors.New("razorpay: verify func is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RazorpayProvider{
		bridge: cfg.Bridge,
		verify: cfg.Verify,
		logger: logger,
		clock:  clock,
	}, nil
}

// Name identifies the provider for manager routing.
func (p *RazorpayProvider) Name() string { return "razorpay" }

// Ready reports whether a new widget interaction may start.
func (p *RazorpayProvider) Ready(ctx context.Context) error {
	if p == nil || p.bridge == nil {
		return errors.New("razorpay: provider is not configured")
	}
	if p.bridge.Active() {
		return widget.ErrPaymentActive
	}
	return nil
}

// Collect opens the widget for the order and maps its outcome to a receipt.
// A success outcome carrying a signed confirmation is verified with the
// commerce API before the receipt reports settlement; a confirmation without
// a signature came from the status watcher and is already settled upstream.
func (p *RazorpayProvider) Collect(ctx context.Context, req CollectRequest) (Receipt, error) {
	outcome, err := p.bridge.Open(ctx, req.Order, req.Prefill)
	if err != nil {
		return Receipt{}, err
	}

	receipt := Receipt{
		Provider:  p.Name(),
		OrderID:   req.Order.ExternalOrderID,
		PaymentID: outcome.Confirmation.PaymentID,
		Reason:    outcome.Reason,
	}

	switch outcome.Kind {
	case widget.OutcomeSuccess:
		if outcome.Confirmation.Signature != "" {
			if err := p.verify(ctx, outcome.Confirmation); err != nil {
				p.logger(ctx, "payments.razorpay.verify_failed", map[string]any{
					"order_id": req.Order.ExternalOrderID,
					"error":    err.Error(),
				})
				receipt.Status = StatusFailed
				receipt.Reason = "verification failed"
				return receipt, nil
			}
		}
		receipt.Status = StatusSucceeded
		p.logger(ctx, "payments.razorpay.settled", map[string]any{
			"order_id":   req.Order.ExternalOrderID,
			"payment_id": outcome.Confirmation.PaymentID,
		})
	case widget.OutcomeFailed:
		receipt.Status = StatusFailed
	case widget.OutcomeDismissed:
		receipt.Status = StatusDismissed
	default:
		receipt.Status = StatusPending
	}
	return receipt, nil
}
