// Package backend talks to the commerce API that owns users, orders and
// payment verification. Every response uses the {success, data, message}
// envelope.
package backend

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tsonic/storefront/internal/domain"
)

const (
	defaultTimeout    = 8 * time.Second
	idempotencyHeader = "Idempotency-Key"
)

// ErrUserNotFound is returned when no user exists for the requested email.
var ErrUserNotFound = errors.New("backend: user not found")

// RemoteError is a non-2xx response from the commerce API, carrying the
// envelope message when one was present.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Message)
}

// Client issues user and payment calls against the commerce API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs an API client rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// CreateOrderRequest carries the inputs for order creation. Items is the cart
// snapshot forwarded for order details; the backend treats it as optional.
type CreateOrderRequest struct {
	Amount         int64
	Currency       string
	UserID         string
	Items          []domain.CartLine
	IdempotencyKey string
}

// VerifyRequest forwards the widget's confirmation payload for signature
// verification.
type VerifyRequest struct {
	OrderID   string
	PaymentID string
	Signature string
}

// CreateUser registers the checkout contact with the commerce API and returns
// the stored user. The API deduplicates by email, so repeated submissions are
// safe.
func (c *Client) CreateUser(ctx context.Context, form domain.CheckoutForm) (domain.RemoteUser, error) {
	body := map[string]any{
		"name":   strings.TrimSpace(form.Name),
		"email":  strings.TrimSpace(form.Email),
		"mobile": strings.TrimSpace(form.Phone),
		"address": addressPayload{
			Street:  strings.TrimSpace(form.Address),
			City:    strings.TrimSpace(form.City),
			State:   strings.TrimSpace(form.State),
			Pincode: strings.TrimSpace(form.Pincode),
			Country: defaultString(form.Country, domain.DefaultCountry),
		},
	}

	var payload userPayload
	if err := c.do(ctx, http.MethodPost, []string{"users"}, body, "", &payload); err != nil {
		return domain.RemoteUser{}, err
	}
	return payload.toUser(), nil
}

// GetUserByEmail looks up an existing user. ErrUserNotFound is returned when
// the API reports no match.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (domain.RemoteUser, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.RemoteUser{}, ErrUserNotFound
	}

	var payload userPayload
	err := c.do(ctx, http.MethodGet, []string{"users", url.PathEscape(email)}, nil, "", &payload)
	if err != nil {
		var remote *RemoteError
		if errors.As(err, &remote) && remote.Status == http.StatusNotFound {
			return domain.RemoteUser{}, ErrUserNotFound
		}
		return domain.RemoteUser{}, err
	}
	if payload.UID == "" {
		return domain.RemoteUser{}, ErrUserNotFound
	}
	return payload.toUser(), nil
}

// CreateOrder asks the commerce API to open a payment order with its gateway.
// The returned order carries the public widget key; secrets never reach this
// process.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.RemoteOrder, error) {
	if req.Amount <= 0 {
		return domain.RemoteOrder{}, &RemoteError{Status: http.StatusBadRequest, Message: "amount must be positive"}
	}

	body := map[string]any{
		"amount":   req.Amount,
		"currency": defaultString(req.Currency, "INR"),
	}
	if req.UserID != "" {
		body["userId"] = req.UserID
	}
	if len(req.Items) > 0 {
		body["items"] = orderItems(req.Items)
	}

	var payload orderPayload
	key := ensureIdempotencyKey(req.IdempotencyKey)
	if err := c.do(ctx, http.MethodPost, []string{"payments", "create-order"}, body, key, &payload); err != nil {
		return domain.RemoteOrder{}, err
	}
	return payload.toOrder(), nil
}

// VerifyPayment submits the widget confirmation for server-side signature
// verification. A nil error means the payment is settled.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyRequest) error {
	body := map[string]string{
		"razorpayOrderId":   strings.TrimSpace(req.OrderID),
		"razorpayPaymentId": strings.TrimSpace(req.PaymentID),
		"razorpaySignature": strings.TrimSpace(req.Signature),
	}
	return c.do(ctx, http.MethodPost, []string{"payments", "verify"}, body, "", nil)
}

// GetOrderStatus fetches the current status of an order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return "", &RemoteError{Status: http.StatusBadRequest, Message: "missing order id"}
	}

	var payload orderPayload
	if err := c.do(ctx, http.MethodGet, []string{"payments", url.PathEscape(orderID)}, nil, "", &payload); err != nil {
		return "", err
	}
	return domain.OrderStatus(defaultString(payload.Status, string(domain.OrderCreated))), nil
}

// do runs one request/response cycle and unwraps the envelope into out.
func (c *Client) do(ctx context.Context, method string, parts []string, body any, idempotencyKey string, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, parts...)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Message string          `json:"message"`
	}
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope)

	if resp.StatusCode >= 400 {
		return &RemoteError{Status: resp.StatusCode, Message: envelope.Message}
	}
	if decodeErr != nil {
		return decodeErr
	}
	if !envelope.Success {
		return &RemoteError{Status: resp.StatusCode, Message: defaultString(envelope.Message, "request rejected")}
	}
	if out != nil && len(envelope.Data) > 0 {
		return json.Unmarshal(envelope.Data, out)
	}
	return nil
}

func ensureIdempotencyKey(key string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	return "ord_" + ulid.MustNew(ulid.Now(), rand.Reader).String()
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return strings.TrimSpace(val)
}

type addressPayload struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
}

type orderItemPayload struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

func orderItems(lines []domain.CartLine) []orderItemPayload {
	items := make([]orderItemPayload, 0, len(lines))
	for _, line := range lines {
		items = append(items, orderItemPayload{
			ID:       line.Product.ID,
			Name:     line.Product.Name,
			Price:    line.Product.Price,
			Quantity: line.Quantity,
		})
	}
	return items
}

type userPayload struct {
	UID     string         `json:"uid"`
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Mobile  string         `json:"mobile"`
	Address addressPayload `json:"address"`
}

func (p userPayload) toUser() domain.RemoteUser {
	return domain.RemoteUser{
		UID:    strings.TrimSpace(p.UID),
		Name:   strings.TrimSpace(p.Name),
		Email:  strings.TrimSpace(p.Email),
		Mobile: strings.TrimSpace(p.Mobile),
		Address: domain.RemoteAddress{
			Street:  strings.TrimSpace(p.Address.Street),
			City:    strings.TrimSpace(p.Address.City),
			State:   strings.TrimSpace(p.Address.State),
			Pincode: strings.TrimSpace(p.Address.Pincode),
			Country: strings.TrimSpace(p.Address.Country),
		},
	}
}

type orderPayload struct {
	OrderID         string `json:"orderId"`
	ExternalOrderID string `json:"razorpayOrderId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Key             string `json:"key"`
	Status          string `json:"status"`
}

func (p orderPayload) toOrder() domain.RemoteOrder {
	return domain.RemoteOrder{
		OrderID:         strings.TrimSpace(p.OrderID),
		ExternalOrderID: strings.TrimSpace(p.ExternalOrderID),
		Amount:          p.Amount,
		Currency:        defaultString(p.Currency, "INR"),
		WidgetKey:       strings.TrimSpace(p.Key),
		Status:          domain.OrderStatus(defaultString(p.Status, string(domain.OrderCreated))),
	}
}
