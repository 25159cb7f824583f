package shop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tsonic/storefront/internal/backend"
	"github.com/tsonic/storefront/internal/cart"
	"github.com/tsonic/storefront/internal/checkout"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/payments"
)

type flowBackend struct{}

func (flowBackend) CreateUser(ctx context.Context, form domain.CheckoutForm) (domain.RemoteUser, error) {
	return domain.RemoteUser{UID: "u_1", Email: form.Email}, nil
}

func (flowBackend) CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (domain.RemoteOrder, error) {
	return domain.RemoteOrder{OrderID: "order_local_1", ExternalOrderID: "order_ext_1", Amount: req.Amount}, nil
}

type blockingCollector struct {
	mu    sync.Mutex
	block chan struct{}
}

func (c *blockingCollector) Collect(ctx context.Context, preferred string, req payments.CollectRequest) (payments.Receipt, error) {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	return payments.Receipt{Status: payments.StatusSucceeded, OrderID: req.Order.ExternalOrderID}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clk *clock, collector checkout.Collector) *Store {
	t.Helper()
	if collector == nil {
		collector = &blockingCollector{}
	}
	store, err := NewStore(StoreDeps{
		Secret: []byte("test-secret"),
		NewFlow: func(c *cart.Store, f *checkout.Form, onSettled func()) (*checkout.Flow, error) {
			return checkout.NewFlow(checkout.FlowDeps{
				Backend:   flowBackend{},
				Collector: collector,
				Cart:      c,
				Form:      f,
				OnSettled: onSettled,
				Clock:     clk.Now,
			})
		},
		TTL:   45 * time.Minute,
		Clock: clk.Now,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestCreateAndResolve(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)

	session, token, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.Step() != StepCatalog {
		t.Fatalf("new session not on catalog step: %q", session.Step())
	}

	resolved, err := store.Resolve(token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ID != session.ID {
		t.Fatalf("resolved wrong session: %q vs %q", resolved.ID, session.ID)
	}
}

func TestResolveRejectsBadToken(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)

	if _, err := store.Resolve("not-a-token"); !errors.Is(err, ErrSessionToken) {
		t.Fatalf("expected ErrSessionToken, got %v", err)
	}
}

func TestResolveRejectsForeignSignature(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)
	other := newTestStore(t, clk, nil)

	// Signing key differs per deployment, so reuse the same secret here and
	// tamper instead.
	_, token, err := other.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Resolve(token + "x"); !errors.Is(err, ErrSessionToken) {
		t.Fatalf("expected ErrSessionToken for tampered token, got %v", err)
	}
}

func TestResolveExpiredToken(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)

	_, token, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(46 * time.Minute)
	if _, err := store.Resolve(token); !errors.Is(err, ErrSessionToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestStepTransitions(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)
	session, _, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := session.Advance(StepCheckout); !errors.Is(err, ErrCheckoutEmptyCart) {
		t.Fatalf("expected empty cart guard, got %v", err)
	}
	if session.Step() != StepCatalog {
		t.Fatalf("rejected transition moved the step: %q", session.Step())
	}

	session.Cart.Add(domain.Product{ID: 1, Price: 4290})
	if err := session.Advance(StepCart); err != nil {
		t.Fatalf("Advance(cart): %v", err)
	}
	if err := session.Advance(StepCheckout); err != nil {
		t.Fatalf("Advance(checkout): %v", err)
	}
	if err := session.Advance(StepCatalog); err != nil {
		t.Fatalf("Advance(catalog): %v", err)
	}

	if err := session.Advance(Step("basket")); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep, got %v", err)
	}
}

func TestSettledSubmissionReturnsToCatalog(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)
	session, _, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	session.Cart.Add(domain.Product{ID: 1, Price: 4290})
	if err := session.Form.Apply(map[string]string{
		"name": "Asha Rao", "email": "asha@example.com", "phone": "9876543210",
		"address": "14 MG Road", "city": "Bengaluru", "state": "Karnataka", "pincode": "560001",
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := session.Advance(StepCheckout); err != nil {
		t.Fatalf("Advance(checkout): %v", err)
	}

	if _, err := session.Flow.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !session.Cart.IsEmpty() {
		t.Fatalf("settled submission left the cart filled")
	}
	if session.Step() != StepCatalog {
		t.Fatalf("settled submission left the session on step %q", session.Step())
	}
}

func TestCloseRefusesBusySession(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	collector := &blockingCollector{block: make(chan struct{})}
	store := newTestStore(t, clk, collector)

	session, _, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	session.Cart.Add(domain.Product{ID: 1, Price: 4290})
	if err := session.Form.Apply(map[string]string{
		"name": "Asha Rao", "email": "asha@example.com", "phone": "9876543210",
		"address": "14 MG Road", "city": "Bengaluru", "state": "Karnataka", "pincode": "560001",
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = session.Flow.Submit(context.Background(), "")
	}()
	for !session.Flow.Processing() {
		time.Sleep(time.Millisecond)
	}

	if err := store.Close(context.Background(), session.ID); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}

	close(collector.block)
	<-done

	if err := store.Close(context.Background(), session.ID); err != nil {
		t.Fatalf("Close after settle: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("closed session still stored")
	}
}

func TestSweepDropsIdleSessions(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	store := newTestStore(t, clk, nil)

	_, staleToken, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(30 * time.Minute)
	fresh, _, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	clk.Advance(20 * time.Minute)
	if removed := store.Sweep(context.Background()); removed != 1 {
		t.Fatalf("expected 1 swept session, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", store.Len())
	}
	if _, err := store.Resolve(staleToken); err == nil {
		t.Fatalf("swept session still resolvable")
	}
	if fresh.Step() != StepCatalog {
		t.Fatalf("fresh session disturbed")
	}
}
