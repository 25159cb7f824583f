package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tsonic/storefront/internal/catalog"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/platform/httpx"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the session's cart.
type CartHandlers struct{}

// NewCartHandlers constructs the cart handlers.
func NewCartHandlers() *CartHandlers {
	return &CartHandlers{}
}

// Routes wires the /cart endpoints onto the provided router. The session
// middleware must already have run.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type cartLinePayload struct {
	Product  productPayload `json:"product"`
	Quantity int            `json:"quantity"`
	Subtotal int64          `json:"subtotal"`
}

type cartPayload struct {
	Lines        []cartLinePayload `json:"lines"`
	Total        int64             `json:"total"`
	DisplayTotal string            `json:"displayTotal"`
	Highlighted  bool              `json:"highlighted"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(session.Cart.Lines(), session.Cart.Total(), session.Cart.Highlighted()))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	var body struct {
		ProductID int `json:"productId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON with a productId field", http.StatusBadRequest))
		return
	}

	product, found := catalog.Find(body.ProductID)
	if !found {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "no such product", http.StatusNotFound))
		return
	}

	session.Cart.Add(product)
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(session.Cart.Lines(), session.Cart.Total(), session.Cart.Highlighted()))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product_id", "product id must be an integer", http.StatusBadRequest))
		return
	}

	var body struct {
		Quantity *int `json:"quantity"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCartBodySize)).Decode(&body); err != nil || body.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body must be JSON with a quantity field", http.StatusBadRequest))
		return
	}

	session.Cart.UpdateQuantity(productID, *body.Quantity)
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(session.Cart.Lines(), session.Cart.Total(), session.Cart.Highlighted()))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := SessionFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
		return
	}

	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product_id", "product id must be an integer", http.StatusBadRequest))
		return
	}

	session.Cart.Remove(productID)
	httpx.WriteJSON(w, http.StatusOK, buildCartPayload(session.Cart.Lines(), session.Cart.Total(), session.Cart.Highlighted()))
}

func buildCartPayload(lines []domain.CartLine, total int64, highlighted bool) cartPayload {
	payload := cartPayload{
		Lines:        make([]cartLinePayload, 0, len(lines)),
		Total:        total,
		DisplayTotal: catalog.DisplayPrice(total),
		Highlighted:  highlighted,
	}
	for _, line := range lines {
		payload.Lines = append(payload.Lines, cartLinePayload{
			Product:  buildProductPayload(line.Product),
			Quantity: line.Quantity,
			Subtotal: line.Subtotal(),
		})
	}
	return payload
}
