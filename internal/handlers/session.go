package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tsonic/storefront/internal/platform/httpx"
	"github.com/tsonic/storefront/internal/shop"
)

// SessionStore is the slice of the session store the handlers need.
type SessionStore interface {
	Create(ctx context.Context) (*shop.Session, string, error)
	Close(ctx context.Context, id string) error
}

// SessionHandlers manages shopper session lifecycle and step navigation.
type SessionHandlers struct {
	store    SessionStore
	resolver SessionResolver
}

// NewSessionHandlers constructs handlers over the session store.
func NewSessionHandlers(store SessionStore, resolver SessionResolver) *SessionHandlers {
	return &SessionHandlers{store: store, resolver: resolver}
}

// Routes wires the /session endpoints. Creation is anonymous; everything else
// resolves the caller's token.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createSession)
	r.Group(func(g chi.Router) {
		g.Use(RequireSession(h.resolver))
		g.Get("/", h.getSession)
		g.Post("/step", h.setStep)
		g.Delete("/", h.closeSession)
	})
}

type sessionPayload struct {
	SessionID   string `json:"sessionId"`
	Step        string `json:"step"`
	CartEmpty   bool   `json:"cartEmpty"`
	CartTotal   int64  `json:"cartTotal"`
	Highlighted bool   `json:"cartHighlighted"`
	Phase       string `json:"submissionPhase"`
}

func (h *SessionHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, token, err := h.store.Create(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("session_unavailable", "could not open a session", http.StatusServiceUnavailable))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"token":   token,
		"session": buildSessionPayload(session),
	})
}

func (h *SessionHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(session))
}

func (h *SessionHandlers) setStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	var body struct {
		Step string `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON with a step field", http.StatusBadRequest))
		return
	}

	if err := session.Advance(shop.Step(body.Step)); err != nil {
		switch {
		case errors.Is(err, shop.ErrCheckoutEmptyCart):
			httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "add something to the cart before checkout", http.StatusConflict))
		case errors.Is(err, shop.ErrInvalidStep):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_step", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("step_rejected", err.Error(), http.StatusConflict))
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSessionPayload(session))
}

func (h *SessionHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	if err := h.store.Close(ctx, session.ID); err != nil {
		switch {
		case errors.Is(err, shop.ErrSessionBusy):
			httpx.WriteError(ctx, w, httpx.NewError("session_busy", "a submission is still in progress", http.StatusConflict))
		case errors.Is(err, shop.ErrSessionNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "session no longer exists", http.StatusNotFound))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("session_close_failed", err.Error(), http.StatusInternalServerError))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildSessionPayload(session *shop.Session) sessionPayload {
	return sessionPayload{
		SessionID:   session.ID,
		Step:        string(session.Step()),
		CartEmpty:   session.Cart.IsEmpty(),
		CartTotal:   session.Cart.Total(),
		Highlighted: session.Cart.Highlighted(),
		Phase:       string(session.Flow.Phase()),
	}
}
