package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tsonic/storefront/internal/catalog"
	"github.com/tsonic/storefront/internal/domain"
	"github.com/tsonic/storefront/internal/platform/httpx"
)

// CatalogHandlers serves the static product catalog.
type CatalogHandlers struct{}

// NewCatalogHandlers constructs the catalog handlers.
func NewCatalogHandlers() *CatalogHandlers {
	return &CatalogHandlers{}
}

// Routes wires the /products endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)
}

type productPayload struct {
	ID              int    `json:"id"`
	Name            string `json:"name"`
	Category        string `json:"category"`
	Price           int64  `json:"price"`
	DisplayPrice    string `json:"displayPrice"`
	OriginalPrice   int64  `json:"originalPrice,omitempty"`
	DiscountPercent int    `json:"discountPercent,omitempty"`
	Image           string `json:"image,omitempty"`
	Color           string `json:"color,omitempty"`
	Notify          bool   `json:"notify"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	products := catalog.Products()
	payload := make([]productPayload, 0, len(products))
	for _, p := range products {
		payload = append(payload, buildProductPayload(p))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"products":   payload,
		"categories": catalog.Categories(),
	})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_product_id", "product id must be an integer", http.StatusBadRequest))
		return
	}
	product, ok := catalog.Find(id)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "no such product", http.StatusNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProductPayload(product))
}

func buildProductPayload(p domain.Product) productPayload {
	return productPayload{
		ID:              p.ID,
		Name:            p.Name,
		Category:        p.Category,
		Price:           p.Price,
		DisplayPrice:    catalog.DisplayPrice(p.Price),
		OriginalPrice:   p.OriginalPrice,
		DiscountPercent: p.DiscountPercent,
		Image:           p.Image,
		Color:           p.Color,
		Notify:          p.Notify,
	}
}
