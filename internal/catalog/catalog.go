// Package catalog exposes the build-time product list for the storefront.
// Products are immutable at runtime; callers always receive copies.
package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/tsonic/storefront/internal/domain"
)

var products = []domain.Product{
	{
		ID:              1,
		Name:            "v1.0 BT Glass",
		Category:        "Over-Ear",
		Price:           4290,
		OriginalPrice:   5500,
		DiscountPercent: 22,
		Image:           "https://res.cloudinary.com/dynwaflwt/image/upload/v1744442887/p1_gpual1.png",
		Color:           "Matte Black",
	},
	{
		ID:       5,
		Name:     "v2.0 AUGMx Glass",
		Category: "Futuristic",
		Price:    76999,
		Image:    "https://res.cloudinary.com/dynwaflwt/image/upload/v1744442887/p7_qgkrwv.jpg",
		Color:    "Jet Black",
		Notify:   true,
	},
}

var pricePrinter = message.NewPrinter(language.MustParse("en-IN"))

// Products returns the full catalog in stable id order.
func Products() []domain.Product {
	out := make([]domain.Product, len(products))
	copy(out, products)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the product with the given id.
func Find(id int) (domain.Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Product{}, false
}

// Categories returns the distinct product categories in catalog order.
func Categories() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(products))
	for _, p := range Products() {
		cat := strings.TrimSpace(p.Category)
		if cat == "" || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	return out
}

// DisplayPrice renders a price with Indian digit grouping, e.g. "₹76,999".
func DisplayPrice(amount int64) string {
	return pricePrinter.Sprintf("₹%v", number.Decimal(amount))
}
