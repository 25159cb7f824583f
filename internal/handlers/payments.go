package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/platform/httpx"
	"github.com/tsonic/storefront/internal/widget"
)

// PaymentHandlers receives the widget's explicit callbacks and routes them to
// the bridge.
type PaymentHandlers struct {
	bridge *widget.Bridge
}

// NewPaymentHandlers constructs handlers over the widget bridge.
func NewPaymentHandlers(bridge *widget.Bridge) *PaymentHandlers {
	return &PaymentHandlers{bridge: bridge}
}

// Routes wires the /payments endpoints onto the provided router. The session
// middleware must already have run.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/callback/success", h.success)
	r.Post("/callback/failure", h.failure)
	r.Post("/callback/dismiss", h.dismiss)
	r.Post("/reset", h.reset)
}

func (h *PaymentHandlers) success(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bridge == nil {
		httpx.WriteError(ctx, w, httpx.NewError("widget_unavailable", "widget provider is not registered", http.StatusServiceUnavailable))
		return
	}

	var body struct {
		OrderID   string `json:"orderId"`
		PaymentID string `json:"paymentId"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON", http.StatusBadRequest))
		return
	}

	confirmation := domain.PaymentConfirmation{
		OrderID:   body.OrderID,
		PaymentID: body.PaymentID,
		Signature: body.Signature,
	}
	if confirmation.Empty() {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderId, paymentId and signature are required", http.StatusBadRequest))
		return
	}

	if err := h.bridge.Confirm(confirmation); err != nil {
		h.writeBridgeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *PaymentHandlers) failure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bridge == nil {
		httpx.WriteError(ctx, w, httpx.NewError("widget_unavailable", "widget provider is not registered", http.StatusServiceUnavailable))
		return
	}

	var body struct {
		OrderID string `json:"orderId"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON", http.StatusBadRequest))
		return
	}

	if err := h.bridge.Fail(body.OrderID, body.Reason); err != nil {
		h.writeBridgeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *PaymentHandlers) dismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bridge == nil {
		httpx.WriteError(ctx, w, httpx.NewError("widget_unavailable", "widget provider is not registered", http.StatusServiceUnavailable))
		return
	}

	var body struct {
		OrderID string `json:"orderId"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON", http.StatusBadRequest))
			return
		}
	}

	if err := h.bridge.Dismiss(body.OrderID); err != nil {
		h.writeBridgeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// reset always succeeds; clearing an already idle bridge is a no-op.
func (h *PaymentHandlers) reset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bridge == nil {
		httpx.WriteError(ctx, w, httpx.NewError("widget_unavailable", "widget provider is not registered", http.StatusServiceUnavailable))
		return
	}
	h.bridge.Reset()
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *PaymentHandlers) writeBridgeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, widget.ErrNoSession):
		httpx.WriteError(ctx, w, httpx.NewError("no_active_payment", "no payment is currently open", http.StatusConflict))
	case errors.Is(err, widget.ErrOrderMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("order_mismatch", "callback names a different order", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("callback_failed", err.Error(), http.StatusInternalServerError))
	}
}
