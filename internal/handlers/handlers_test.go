package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tsonic/storefront/internal/backend"
	"github.com/tsonic/storefront/internal/cart"
	"github.com/tsonic/storefront/internal/checkout"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/payments"
	"github.com/tsonic/storefront/internal/shop"
	"github.com/tsonic/storefront/internal/widget"
)

type fakeBackend struct{}

func (fakeBackend) CreateUser(ctx context.Context, form domain.CheckoutForm) (domain.RemoteUser, error) {
	return domain.RemoteUser{UID: "u_1", Name: form.Name, Email: form.Email}, nil
}

func (fakeBackend) CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (domain.RemoteOrder, error) {
	return domain.RemoteOrder{
		OrderID:         "order_local_1",
		ExternalOrderID: "order_ext_1",
		Amount:          req.Amount,
		Currency:        req.Currency,
		WidgetKey:       "rzp_test_abc",
		Status:          domain.OrderCreated,
	}, nil
}

type testEnv struct {
	srv    *httptest.Server
	bridge *widget.Bridge
	store  *shop.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	scriptSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(scriptSrv.Close)

	bridge, err := widget.NewBridge(widget.BridgeDeps{
		Loader:     widget.NewLoader(scriptSrv.URL, scriptSrv.Client()),
		Branding:   widget.Branding{Name: "TSONIC", Description: "Purchase of TSONIC Smart Glasses", ThemeColor: "#2563eb"},
		ResetGrace: time.Millisecond,
		OpenDelay:  -1,
	})
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	razorpay, err := payments.NewRazorpayProvider(payments.RazorpayProviderConfig{
		Bridge: bridge,
		Verify: func(context.Context, domain.PaymentConfirmation) error { return nil },
	})
	if err != nil {
		t.Fatalf("NewRazorpayProvider: %v", err)
	}
	manager, err := payments.NewManager([]payments.Provider{razorpay})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	store, err := shop.NewStore(shop.StoreDeps{
		Secret: []byte("test-secret"),
		NewFlow: func(c *cart.Store, f *checkout.Form, onSettled func()) (*checkout.Flow, error) {
			return checkout.NewFlow(checkout.FlowDeps{
				Backend:   fakeBackend{},
				Collector: manager,
				Cart:      c,
				Form:      f,
				OnSettled: onSettled,
			})
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	router := NewRouter(
		WithCatalogRoutes(NewCatalogHandlers().Routes),
		WithSessionRoutes(NewSessionHandlers(store, store).Routes),
		WithCartRoutes(NewCartHandlers().Routes),
		WithCheckoutRoutes(NewCheckoutHandlers(bridge).Routes),
		WithPaymentRoutes(NewPaymentHandlers(bridge).Routes),
		WithSessionMiddlewares(RequireSession(store)),
	)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, bridge: bridge, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, data, err)
		}
	}
	return resp, decoded
}

func (e *testEnv) newSession(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/session", "", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d", resp.StatusCode)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("create session returned no token")
	}
	return token
}

func fullFormFields() map[string]string {
	return map[string]string{
		"name":    "Asha Rao",
		"email":   "asha@example.com",
		"phone":   "9876543210",
		"address": "14 MG Road",
		"city":    "Bengaluru",
		"state":   "Karnataka",
		"pincode": "560001",
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body %v", body)
	}
}

func TestRouteNotFoundEnvelope(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/nothing", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body["code"] != "route_not_found" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestCatalogList(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("products status %d", resp.StatusCode)
	}
	products, ok := body["products"].([]any)
	if !ok || len(products) == 0 {
		t.Fatalf("expected products, got %v", body)
	}
	first, _ := products[0].(map[string]any)
	if first["displayPrice"] != "₹4,290" {
		t.Fatalf("unexpected display price %v", first["displayPrice"])
	}
}

func TestCartRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/cart", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if body["code"] != "session_required" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestCartLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	for _, id := range []int{1, 1, 5} {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": id})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("add item %d: status %d", id, resp.StatusCode)
		}
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get cart: status %d", resp.StatusCode)
	}
	if total := body["total"].(float64); total != 85579 {
		t.Fatalf("expected total 85579, got %v", total)
	}
	if body["displayTotal"] != "₹85,579" {
		t.Fatalf("unexpected display total %v", body["displayTotal"])
	}
	if lines := body["lines"].([]any); len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	resp, body = env.do(t, http.MethodPatch, "/api/v1/cart/items/1", token, map[string]any{"quantity": 0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch item: status %d", resp.StatusCode)
	}
	if lines := body["lines"].([]any); len(lines) != 1 {
		t.Fatalf("quantity zero kept the line: %v", body)
	}

	resp, body = env.do(t, http.MethodDelete, "/api/v1/cart/items/5", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete item: status %d", resp.StatusCode)
	}
	if total := body["total"].(float64); total != 0 {
		t.Fatalf("expected empty cart, got total %v", total)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": 99})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d", resp.StatusCode)
	}
}

func TestCheckoutStepGuard(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/session/step", token, map[string]any{"step": "checkout"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for empty cart checkout, got %d", resp.StatusCode)
	}
	if body["code"] != "cart_empty" {
		t.Fatalf("unexpected error body %v", body)
	}

	env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": 1})
	resp, body = env.do(t, http.MethodPost, "/api/v1/session/step", token, map[string]any{"step": "checkout"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("checkout step with items: status %d (%v)", resp.StatusCode, body)
	}
	if body["step"] != "checkout" {
		t.Fatalf("unexpected step %v", body["step"])
	}
}

func TestSubmitIncompleteForm(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)
	env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": 1})

	resp, body := env.do(t, http.MethodPost, "/api/v1/checkout/submit", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%v)", resp.StatusCode, body)
	}
	if body["code"] != "form_incomplete" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestSubmitEmptyCart(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	resp, _ := env.do(t, http.MethodPut, "/api/v1/checkout/form", token, fullFormFields())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put form: status %d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodPost, "/api/v1/checkout/submit", token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%v)", resp.StatusCode, body)
	}
}

func TestSubmitAndSettleThroughCallbacks(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	for _, id := range []int{1, 1, 5} {
		env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": id})
	}
	resp, _ := env.do(t, http.MethodPut, "/api/v1/checkout/form", token, fullFormFields())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put form: status %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/v1/session/step", token, map[string]any{"step": "checkout"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("advance to checkout: status %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/checkout/submit", token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}

	// Wait for the flow to open the widget and expose its options.
	var options map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body := env.do(t, http.MethodGet, "/api/v1/checkout/status", token, nil)
		if opts, ok := body["widgetOptions"].(map[string]any); ok {
			options = opts
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("widget options never appeared: %v", body)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if options["key"] != "rzp_test_abc" || options["order_id"] != "order_ext_1" {
		t.Fatalf("unexpected widget options %v", options)
	}
	if options["amount"].(float64) != 85579 {
		t.Fatalf("unexpected widget amount %v", options["amount"])
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/payments/callback/success", token, map[string]any{
		"orderId":   "order_ext_1",
		"paymentId": "pay_1",
		"signature": "sig_1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("success callback: status %d", resp.StatusCode)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		_, body := env.do(t, http.MethodGet, "/api/v1/checkout/status", token, nil)
		if body["phase"] == "idle" && body["processing"] == false {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flow never settled: %v", body)
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, cartBody := env.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	if total := cartBody["total"].(float64); total != 0 {
		t.Fatalf("settled order left the cart filled: %v", cartBody)
	}
	_, formBody := env.do(t, http.MethodGet, "/api/v1/checkout/form", token, nil)
	if formBody["name"] != "" {
		t.Fatalf("settled order left the form filled: %v", formBody)
	}
	if formBody["country"] != "India" {
		t.Fatalf("form reset lost country preset: %v", formBody)
	}
	_, sessBody := env.do(t, http.MethodGet, "/api/v1/session", token, nil)
	if sessBody["step"] != "catalog" {
		t.Fatalf("settled order left the session on step %v", sessBody["step"])
	}
}

func TestDismissCallbackFailsFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": 1})
	env.do(t, http.MethodPut, "/api/v1/checkout/form", token, fullFormFields())
	env.do(t, http.MethodPost, "/api/v1/session/step", token, map[string]any{"step": "checkout"})

	resp, _ := env.do(t, http.MethodPost, "/api/v1/checkout/submit", token, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !env.bridge.Active() {
		if time.Now().After(deadline) {
			t.Fatalf("widget never opened")
		}
		time.Sleep(time.Millisecond)
	}

	for {
		resp, body := env.do(t, http.MethodPost, "/api/v1/payments/callback/dismiss", token, map[string]any{"orderId": "order_ext_1"})
		if resp.StatusCode == http.StatusOK {
			break
		}
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("dismiss callback: status %d (%v)", resp.StatusCode, body)
		}
		if time.Now().After(deadline) {
			t.Fatalf("dismiss never accepted")
		}
		time.Sleep(time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		_, body := env.do(t, http.MethodGet, "/api/v1/checkout/status", token, nil)
		if body["phase"] == "failed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flow never failed: %v", body)
		}
		time.Sleep(5 * time.Millisecond)
	}

	_, cartBody := env.do(t, http.MethodGet, "/api/v1/cart", token, nil)
	if total := cartBody["total"].(float64); total != 4290 {
		t.Fatalf("dismissal changed the cart: %v", cartBody)
	}
	_, sessBody := env.do(t, http.MethodGet, "/api/v1/session", token, nil)
	if sessBody["step"] != "checkout" {
		t.Fatalf("dismissal moved the session off checkout: %v", sessBody["step"])
	}
}

func TestCallbackWithoutOpenPayment(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/payments/callback/dismiss", token, map[string]any{"orderId": "order_ext_1"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%v)", resp.StatusCode, body)
	}
	if body["code"] != "no_active_payment" {
		t.Fatalf("unexpected error body %v", body)
	}
}

func TestSessionCloseWhileSubmitting(t *testing.T) {
	env := newTestEnv(t)
	token := env.newSession(t)

	env.do(t, http.MethodPost, "/api/v1/cart/items", token, map[string]any{"productId": 1})
	env.do(t, http.MethodPut, "/api/v1/checkout/form", token, fullFormFields())
	env.do(t, http.MethodPost, "/api/v1/checkout/submit", token, nil)

	deadline := time.Now().Add(2 * time.Second)
	for !env.bridge.Active() {
		if time.Now().After(deadline) {
			t.Fatalf("widget never opened")
		}
		time.Sleep(time.Millisecond)
	}

	resp, body := env.do(t, http.MethodDelete, "/api/v1/session", token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 closing busy session, got %d (%v)", resp.StatusCode, body)
	}

	env.bridge.Reset()
}

func TestSubmitRateLimit(t *testing.T) {
	limiter := newKeyedRateLimiter(2, nil)
	key := fmt.Sprintf("ses_%d", time.Now().UnixNano())
	if !limiter.Allow(key) || !limiter.Allow(key) {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow(key) {
		t.Fatalf("expected third attempt inside the window to be limited")
	}
	if !limiter.Allow("other") {
		t.Fatalf("unrelated key was limited")
	}
}
