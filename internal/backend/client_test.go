package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tsonic/storefront/internal/domain"
)

func envelope(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func TestCreateUser(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/users" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(envelope(map[string]any{
			"uid":    "u_123",
			"name":   "Asha Rao",
			"email":  "asha@example.com",
			"mobile": "9876543210",
			"address": map[string]string{
				"street":  "14 MG Road",
				"city":    "Bengaluru",
				"state":   "Karnataka",
				"pincode": "560001",
				"country": "India",
			},
		}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	user, err := c.CreateUser(context.Background(), domain.CheckoutForm{
		Name:    "Asha Rao",
		Email:   "asha@example.com",
		Phone:   "9876543210",
		Address: "14 MG Road",
		City:    "Bengaluru",
		State:   "Karnataka",
		Pincode: "560001",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.UID != "u_123" {
		t.Fatalf("unexpected uid %q", user.UID)
	}
	if user.Address.City != "Bengaluru" {
		t.Fatalf("unexpected address %+v", user.Address)
	}

	address, ok := gotBody["address"].(map[string]any)
	if !ok {
		t.Fatalf("address was not sent as an object: %v", gotBody["address"])
	}
	want := map[string]string{
		"street":  "14 MG Road",
		"city":    "Bengaluru",
		"state":   "Karnataka",
		"pincode": "560001",
		"country": "India",
	}
	for key, value := range want {
		if address[key] != value {
			t.Fatalf("address[%q] = %v, want %q", key, address[key], value)
		}
	}
}

func TestGetUserByEmailNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "no such user"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetUserByEmail(context.Background(), "missing@example.com")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateOrderSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/create-order" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewEncoder(w).Encode(envelope(map[string]any{
			"orderId":         "order_local_1",
			"razorpayOrderId": "order_ext_1",
			"amount":          85579,
			"currency":        "INR",
			"key":             "rzp_test_abc",
		}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	order, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 85579})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if gotKey == "" {
		t.Fatalf("expected an idempotency key header")
	}
	if order.ExternalOrderID != "order_ext_1" || order.WidgetKey != "rzp_test_abc" {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Status != domain.OrderCreated {
		t.Fatalf("unexpected status %q", order.Status)
	}
}

func TestCreateOrderSendsLineItems(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(envelope(map[string]any{
			"orderId":         "order_local_1",
			"razorpayOrderId": "order_ext_1",
			"amount":          85579,
			"key":             "rzp_test_abc",
		}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		Amount: 85579,
		UserID: "u_123",
		Items: []domain.CartLine{
			{Product: domain.Product{ID: 1, Name: "TSONIC Smart Glasses", Price: 4290}, Quantity: 2},
			{Product: domain.Product{ID: 5, Name: "TSONIC Pro Max", Price: 76999}, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	items, ok := gotBody["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 items in the body, got %v", gotBody["items"])
	}
	first, _ := items[0].(map[string]any)
	if first["id"] != float64(1) || first["name"] != "TSONIC Smart Glasses" {
		t.Fatalf("unexpected first item %v", first)
	}
	if first["price"] != float64(4290) || first["quantity"] != float64(2) {
		t.Fatalf("unexpected first item amounts %v", first)
	}
	if gotBody["userId"] != "u_123" {
		t.Fatalf("unexpected userId %v", gotBody["userId"])
	}
}

func TestCreateOrderRejectsNonPositiveAmount(t *testing.T) {
	c := NewClient("http://127.0.0.1:0")
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: 0})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Status != http.StatusBadRequest {
		t.Fatalf("expected bad request error, got %v", err)
	}
}

func TestVerifyPaymentWirePayload(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/verify" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(envelope(nil))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.VerifyPayment(context.Background(), VerifyRequest{
		OrderID:   "order_ext_1",
		PaymentID: "pay_1",
		Signature: "sig_1",
	})
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	want := map[string]string{
		"razorpayOrderId":   "order_ext_1",
		"razorpayPaymentId": "pay_1",
		"razorpaySignature": "sig_1",
	}
	for key, value := range want {
		if gotBody[key] != value {
			t.Fatalf("body[%q] = %q, want %q", key, gotBody[key], value)
		}
	}
}

func TestVerifyPaymentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "signature mismatch"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.VerifyPayment(context.Background(), VerifyRequest{
		OrderID:   "order_ext_1",
		PaymentID: "pay_1",
		Signature: "bogus",
	})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "signature mismatch" {
		t.Fatalf("unexpected message %q", remote.Message)
	}
}

func TestEnvelopeFailureWithOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "gateway unavailable"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetOrderStatus(context.Background(), "order_1")
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "gateway unavailable" {
		t.Fatalf("unexpected message %q", remote.Message)
	}
}

func TestGetOrderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(envelope(map[string]string{"status": "paid"}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.GetOrderStatus(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if status != domain.OrderPaid {
		t.Fatalf("expected paid, got %q", status)
	}
}
