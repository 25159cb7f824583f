package checkout

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsonic/storefront/internal/backend"
	"github.com/tsonic/storefront/internal/cart"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/payments"
)

// Phase tracks where a submission currently is. Exactly one submission may be
// in flight at a time; a finished flow always lands back on PhaseIdle or
// PhaseFailed.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseValidating      Phase = "validating"
	PhaseCreatingUser    Phase = "creating_user"
	PhaseCreatingOrder   Phase = "creating_order"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseSettling        Phase = "settling"
	PhaseFailed          Phase = "failed"
)

var (
	// ErrSubmissionActive is returned when Submit is called while an earlier
	// submission has not finished.
	ErrSubmissionActive = errors.New("checkout: submission already in progress")
	// ErrCartEmpty is returned when the cart holds nothing to pay for.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrOrderUnavailable is returned when the commerce API cannot open the
	// order.
	ErrOrderUnavailable = errors.New("checkout: order creation unavailable")
	// ErrPaymentFailed is returned when the payment ended in a terminal
	// failure.
	ErrPaymentFailed = errors.New("checkout: payment failed")
	// ErrPaymentDismissed is returned when the shopper abandoned the payment.
	ErrPaymentDismissed = errors.New("checkout: payment dismissed")
)

var tracer = otel.Tracer("github.com/tsonic/storefront/internal/checkout")

// Backend is the slice of the commerce API the flow depends on.
type Backend interface {
	CreateUser(ctx context.Context, form domain.CheckoutForm) (domain.RemoteUser, error)
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (domain.RemoteOrder, error)
}

// Collector runs the payment for an order; the payments.Manager satisfies it.
type Collector interface {
	Collect(ctx context.Context, preferred string, req payments.CollectRequest) (payments.Receipt, error)
}

// FlowDeps configures a submission flow.
type FlowDeps struct {
	Backend   Backend
	Collector Collector
	Cart      *cart.Store
	Form      *Form
	Currency  string
	// OnSettled runs after a successful settlement has cleared the cart and
	// form, so the owning session can return the shopper to the catalog.
	OnSettled func()
	Log       func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
}

// Flow drives one cart through validation, user and order creation, payment
// and settlement. On success the cart and form are cleared; on any failure
// both stay intact so the shopper can retry.
type Flow struct {
	deps       FlowDeps
	processing atomic.Bool

	mu      sync.Mutex
	phase   Phase
	lastErr string
	pending *domain.RemoteOrder
}

// Result reports what the submission produced.
type Result struct {
	User    domain.RemoteUser
	Order   domain.RemoteOrder
	Receipt payments.Receipt
}

// NewFlow validates deps and constructs a Flow.
func NewFlow(deps FlowDeps) (*Flow, error) {
	if deps.Backend == nil {
		return nil, errors.New("checkout: backend is required")
	}
	if deps.Collector == nil {
		return nil, errors.New("checkout: collector is required")
	}
	if deps.Cart == nil {
		return nil, errors.New("checkout: cart is required")
	}
	if deps.Form == nil {
		return nil, errors.New("checkout: form is required")
	}
	if deps.Currency == "" {
		deps.Currency = "INR"
	}
	if deps.OnSettled == nil {
		deps.OnSettled = func() {}
	}
	if deps.Log == nil {
		deps.Log = func(context.Context, string, map[string]any) {}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Flow{deps: deps, phase: PhaseIdle}, nil
}

// Phase returns the current submission phase.
func (f *Flow) Phase() Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

// LastError returns the message recorded for the most recent failure, if any.
func (f *Flow) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Processing reports whether a submission is in flight.
func (f *Flow) Processing() bool {
	return f.processing.Load()
}

// PendingOrder returns the order currently awaiting payment, when there is
// one. The serving layer uses it to hand widget options to the client.
func (f *Flow) PendingOrder() (domain.RemoteOrder, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return domain.RemoteOrder{}, false
	}
	return *f.pending, true
}

func (f *Flow) setPhase(p Phase) {
	f.mu.Lock()
	f.phase = p
	f.mu.Unlock()
}

func (f *Flow) fail(err error) {
	f.mu.Lock()
	f.phase = PhaseFailed
	f.lastErr = err.Error()
	f.mu.Unlock()
}

// Submit runs the whole flow. Nothing leaves the process until the form and
// cart have passed validation. The returned error is nil only when the
// payment settled.
func (f *Flow) Submit(ctx context.Context, preferredProvider string) (Result, error) {
	if !f.processing.CompareAndSwap(false, true) {
		return Result{}, ErrSubmissionActive
	}
	defer f.processing.Store(false)

	ctx, span := tracer.Start(ctx, "checkout.submit",
		trace.WithAttributes(attribute.String("provider.preferred", preferredProvider)))
	defer span.End()

	result, err := f.run(ctx, span, preferredProvider)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.fail(err)
		return result, err
	}
	span.SetStatus(codes.Ok, "")
	f.mu.Lock()
	f.phase = PhaseIdle
	f.lastErr = ""
	f.mu.Unlock()
	return result, nil
}

func (f *Flow) run(ctx context.Context, span trace.Span, preferredProvider string) (Result, error) {
	var result Result

	f.setPhase(PhaseValidating)
	span.AddEvent("validating")
	if err := f.deps.Form.Validate(); err != nil {
		return result, err
	}
	if f.deps.Cart.IsEmpty() {
		return result, ErrCartEmpty
	}
	form := f.deps.Form.Snapshot()
	lines := f.deps.Cart.Lines()
	total := f.deps.Cart.Total()

	// The commerce API deduplicates users by email; every submission posts
	// the latest contact details.
	f.setPhase(PhaseCreatingUser)
	span.AddEvent("creating_user")
	user, err := f.deps.Backend.CreateUser(ctx, form)
	if err != nil {
		return result, err
	}
	result.User = user

	f.setPhase(PhaseCreatingOrder)
	span.AddEvent("creating_order")
	order, err := f.deps.Backend.CreateOrder(ctx, backend.CreateOrderRequest{
		Amount:         total,
		Currency:       f.deps.Currency,
		UserID:         user.UID,
		Items:          lines,
		IdempotencyKey: newSubmissionKey(f.deps.Clock()),
	})
	if err != nil {
		return result, errors.Join(ErrOrderUnavailable, err)
	}
	result.Order = order
	span.SetAttributes(
		attribute.String("order.id", order.OrderID),
		attribute.Int64("order.amount", order.Amount),
	)

	f.mu.Lock()
	f.phase = PhaseAwaitingPayment
	f.pending = &order
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.pending = nil
		f.mu.Unlock()
	}()
	span.AddEvent("awaiting_payment")
	f.deps.Log(ctx, "checkout.payment_started", map[string]any{
		"order_id": order.ExternalOrderID,
		"amount":   order.Amount,
		"currency": order.Currency,
	})
	receipt, err := f.deps.Collector.Collect(ctx, preferredProvider, payments.CollectRequest{
		Order:   order,
		Prefill: f.deps.Form.Prefill(),
	})
	if err != nil {
		return result, err
	}
	result.Receipt = receipt

	f.setPhase(PhaseSettling)
	span.AddEvent("settling")
	switch receipt.Status {
	case payments.StatusSucceeded:
		f.deps.Cart.Clear()
		f.deps.Form.Reset()
		f.deps.OnSettled()
		f.deps.Log(ctx, "checkout.settled", map[string]any{
			"order_id":   receipt.OrderID,
			"payment_id": receipt.PaymentID,
		})
		return result, nil
	case payments.StatusDismissed:
		return result, ErrPaymentDismissed
	default:
		return result, ErrPaymentFailed
	}
}

func newSubmissionKey(now time.Time) string {
	return "sub_" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
