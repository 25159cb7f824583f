package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tsonic/storefront/internal/checkout"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/platform/httpx"
	"github.com/tsonic/storefront/internal/platform/requestctx"
	"github.com/tsonic/storefront/internal/widget"
)

// CheckoutHandlers exposes the order form and the submission flow.
type CheckoutHandlers struct {
	bridge  *widget.Bridge
	limiter rateLimiter
}

// CheckoutOption customises the checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithSubmitRateLimit caps submissions per session per minute.
func WithSubmitRateLimit(perMinute int, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newKeyedRateLimiter(perMinute, clock)
	}
}

// NewCheckoutHandlers constructs the checkout handlers. The bridge is used to
// expose widget options while a payment is open; it may be nil when only the
// hosted redirect provider is registered.
func NewCheckoutHandlers(bridge *widget.Bridge, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{bridge: bridge}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router. The session
// middleware must already have run.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/form", h.getForm)
	r.Put("/form", h.putForm)
	r.Post("/submit", h.submit)
	r.Get("/status", h.status)
}

type formPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
	Country string `json:"country"`
	Notes   string `json:"notes,omitempty"`
}

func (h *CheckoutHandlers) getForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFormPayload(session.Form.Snapshot()))
}

func (h *CheckoutHandlers) putForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	var fields map[string]string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&fields); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be a JSON object of form fields", http.StatusBadRequest))
		return
	}

	if err := session.Form.Apply(fields); err != nil {
		if errors.Is(err, checkout.ErrUnknownField) {
			httpx.WriteError(ctx, w, httpx.NewError("unknown_field", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildFormPayload(session.Form.Snapshot()))
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(session.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many submission attempts", http.StatusTooManyRequests))
		return
	}

	var body struct {
		Provider string `json:"provider"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON", http.StatusBadRequest))
			return
		}
	}

	// Fail early so an obviously bad submission never reports accepted.
	if err := session.Form.Validate(); err != nil {
		var verr *checkout.ValidationError
		if errors.As(err, &verr) {
			httpx.WriteError(ctx, w, httpx.NewError("form_incomplete", verr.Error(), http.StatusUnprocessableEntity).
				WithDetails(map[string]any{"missing": verr.Missing}))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("form_invalid", err.Error(), http.StatusUnprocessableEntity))
		return
	}
	if session.Cart.IsEmpty() {
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "add something to the cart before submitting", http.StatusConflict))
		return
	}
	if session.Flow.Processing() {
		httpx.WriteError(ctx, w, httpx.NewError("submission_active", "a submission is already in progress", http.StatusConflict))
		return
	}

	// The flow outlives this request; payment callbacks arrive on their own
	// connections.
	flowCtx := requestctx.WithSessionID(context.WithoutCancel(ctx), session.ID)
	go func() {
		_, _ = session.Flow.Submit(flowCtx, body.Provider)
	}()

	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"phase": string(checkout.PhaseValidating),
	})
}

func (h *CheckoutHandlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	payload := map[string]any{
		"phase":      string(session.Flow.Phase()),
		"processing": session.Flow.Processing(),
	}
	if msg := session.Flow.LastError(); msg != "" {
		payload["error"] = msg
	}
	if order, pending := session.Flow.PendingOrder(); pending && h.bridge != nil {
		payload["order"] = map[string]any{
			"orderId":  order.ExternalOrderID,
			"amount":   order.Amount,
			"currency": order.Currency,
		}
		payload["widgetOptions"] = h.bridge.Options(order, session.Form.Prefill())
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func buildFormPayload(form domain.CheckoutForm) formPayload {
	return formPayload{
		Name:    form.Name,
		Email:   form.Email,
		Phone:   form.Phone,
		Address: form.Address,
		City:    form.City,
		State:   form.State,
		Pincode: form.Pincode,
		Country: form.Country,
		Notes:   form.Notes,
	}
}
