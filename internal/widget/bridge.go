package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsonic/storefront/internal/domain"
)

const (
	defaultWatchInterval = 2 * time.Second
	defaultWatchTimeout  = 15 * time.Minute
	defaultResetGrace    = 300 * time.Millisecond
	defaultOpenDelay     = 100 * time.Millisecond
)

var (
	// ErrPaymentActive is returned when a payment interaction is already in
	// flight; only one widget session may exist per process.
	ErrPaymentActive = errors.New("widget: payment already in progress")
	// ErrNoSession is returned when a callback arrives with no session open.
	ErrNoSession = errors.New("widget: no active payment session")
	// ErrOrderMismatch is returned when a callback names a different order
	// than the open session.
	ErrOrderMismatch = errors.New("widget: order id does not match active session")
)

// OutcomeKind classifies how a payment interaction ended.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeDismissed OutcomeKind = "dismissed"
)

// Outcome is the terminal result of one widget session.
type Outcome struct {
	Kind         OutcomeKind
	Confirmation domain.PaymentConfirmation
	Reason       string
}

// BridgeDeps configures a Bridge. Loader is required; OrderStatus enables the
// watcher that detects settlement or abandonment when no explicit callback
// arrives.
type BridgeDeps struct {
	Loader      *Loader
	Branding    Branding
	OrderStatus func(ctx context.Context, orderID string) (domain.OrderStatus, error)
	Clock       func() time.Time
	Log         func(ctx context.Context, event string, fields map[string]any)

	WatchInterval time.Duration
	WatchTimeout  time.Duration
	ResetGrace    time.Duration
	OpenDelay     time.Duration
}

// Bridge owns the single payment interaction allowed at a time. Open blocks
// until the widget reports success, failure or dismissal, or until the watcher
// gives up on the order.
type Bridge struct {
	deps   BridgeDeps
	active atomic.Bool

	mu      sync.Mutex
	session *session
}

type session struct {
	orderID string
	done    chan Outcome
	once    sync.Once
	cancel  context.CancelFunc
}

func (s *session) finish(out Outcome) {
	s.once.Do(func() {
		s.done <- out
		s.cancel()
	})
}

// NewBridge validates deps and constructs a Bridge.
func NewBridge(deps BridgeDeps) (*Bridge, error) {
	if deps.Loader == nil {
		return nil, errors.New("widget: loader is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Log == nil {
		deps.Log = func(context.Context, string, map[string]any) {}
	}
	if deps.WatchInterval <= 0 {
		deps.WatchInterval = defaultWatchInterval
	}
	if deps.WatchTimeout <= 0 {
		deps.WatchTimeout = defaultWatchTimeout
	}
	if deps.ResetGrace <= 0 {
		deps.ResetGrace = defaultResetGrace
	}
	if deps.OpenDelay == 0 {
		deps.OpenDelay = defaultOpenDelay
	}
	return &Bridge{deps: deps}, nil
}

// Active reports whether a payment interaction is currently open.
func (b *Bridge) Active() bool {
	return b.active.Load()
}

// Options returns the widget options for the currently open session, so the
// serving layer can hand them to the client.
func (b *Bridge) Options(order domain.RemoteOrder, prefill domain.Prefill) Options {
	return BuildOptions(order, prefill, b.deps.Branding)
}

// Open starts a payment interaction for the order and blocks until it ends.
// It verifies the script, takes the interaction lock, waits the short settle
// delay, then watches for an explicit callback or a terminal order status.
// The lock is released after the grace period regardless of outcome.
func (b *Bridge) Open(ctx context.Context, order domain.RemoteOrder, prefill domain.Prefill) (Outcome, error) {
	if err := b.deps.Loader.EnsureLoaded(ctx); err != nil {
		return Outcome{}, err
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{
		orderID: order.ExternalOrderID,
		done:    make(chan Outcome, 1),
		cancel:  cancel,
	}

	b.mu.Lock()
	if !b.active.CompareAndSwap(false, true) {
		b.mu.Unlock()
		cancel()
		return Outcome{}, ErrPaymentActive
	}
	b.session = sess
	b.mu.Unlock()
	defer b.release(ctx)

	b.deps.Log(ctx, "widget.open", map[string]any{
		"order_id": order.ExternalOrderID,
		"amount":   order.Amount,
		"currency": order.Currency,
	})

	// Give the widget a beat to initialise before we start watching.
	if b.deps.OpenDelay > 0 {
		select {
		case <-time.After(b.deps.OpenDelay):
		case <-ctx.Done():
			sess.finish(Outcome{Kind: OutcomeDismissed, Reason: "context cancelled"})
		}
	}

	if b.deps.OrderStatus != nil {
		go b.watch(watchCtx, sess)
	}

	select {
	case out := <-sess.done:
		b.deps.Log(ctx, "widget.closed", map[string]any{
			"order_id": sess.orderID,
			"outcome":  string(out.Kind),
		})
		return out, nil
	case <-ctx.Done():
		sess.finish(Outcome{Kind: OutcomeDismissed, Reason: "context cancelled"})
		return <-sess.done, nil
	}
}

// Confirm delivers the widget's success payload to the open session.
func (b *Bridge) Confirm(confirmation domain.PaymentConfirmation) error {
	if confirmation.Empty() {
		return ErrOrderMismatch
	}
	sess, err := b.sessionFor(confirmation.OrderID)
	if err != nil {
		return err
	}
	sess.finish(Outcome{Kind: OutcomeSuccess, Confirmation: confirmation})
	return nil
}

// Fail reports an explicit payment failure from the widget.
func (b *Bridge) Fail(orderID, reason string) error {
	sess, err := b.sessionFor(orderID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "payment failed"
	}
	sess.finish(Outcome{Kind: OutcomeFailed, Reason: reason})
	return nil
}

// Dismiss reports that the shopper closed the widget without paying.
func (b *Bridge) Dismiss(orderID string) error {
	sess, err := b.sessionFor(orderID)
	if err != nil {
		return err
	}
	sess.finish(Outcome{Kind: OutcomeDismissed, Reason: "dismissed"})
	return nil
}

// Reset forcibly ends any open session as dismissed and clears the
// interaction lock. Safe to call at any time, any number of times.
func (b *Bridge) Reset() {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()
	if sess != nil {
		sess.finish(Outcome{Kind: OutcomeDismissed, Reason: "reset"})
		return
	}
	b.active.Store(false)
}

func (b *Bridge) sessionFor(orderID string) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil, ErrNoSession
	}
	if orderID != "" && b.session.orderID != "" && orderID != b.session.orderID {
		return nil, ErrOrderMismatch
	}
	return b.session, nil
}

// release clears the session and, after the grace period, the interaction
// lock. The grace keeps an immediate resubmit from racing the widget's own
// teardown.
func (b *Bridge) release(ctx context.Context) {
	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()

	select {
	case <-time.After(b.deps.ResetGrace):
	case <-ctx.Done():
	}
	b.active.Store(false)
}

// watch polls the order status until it turns terminal or the timeout lapses.
// A timeout counts as an implicit dismissal.
func (b *Bridge) watch(ctx context.Context, sess *session) {
	deadline := b.deps.Clock().Add(b.deps.WatchTimeout)
	ticker := time.NewTicker(b.deps.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if b.deps.Clock().After(deadline) {
			sess.finish(Outcome{Kind: OutcomeDismissed, Reason: "abandoned"})
			return
		}

		status, err := b.deps.OrderStatus(ctx, sess.orderID)
		if err != nil {
			b.deps.Log(ctx, "widget.watch_error", map[string]any{
				"order_id": sess.orderID,
				"error":    err.Error(),
			})
			continue
		}
		switch status {
		case domain.OrderPaid:
			sess.finish(Outcome{Kind: OutcomeSuccess, Confirmation: domain.PaymentConfirmation{OrderID: sess.orderID}})
			return
		case domain.OrderFailed:
			sess.finish(Outcome{Kind: OutcomeFailed, Reason: "order failed"})
			return
		}
	}
}
