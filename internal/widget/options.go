package widget

import (
	"strings"

	"github.com/tsonic/storefront/internal/domain"
)

// Options is the configuration handed to the hosted widget for one payment.
// Field names follow the widget's wire format.
type Options struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	Theme       Theme   `json:"theme"`
	Modal       Modal   `json:"modal"`
}

// Prefill seeds the widget's contact fields from the checkout form.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Theme controls the widget accent colour.
type Theme struct {
	Color string `json:"color,omitempty"`
}

// Modal keeps the widget from being closed by accident mid-payment.
type Modal struct {
	BackdropClose bool `json:"backdropclose"`
	Escape        bool `json:"escape"`
	HandleBack    bool `json:"handleback"`
	Animation     bool `json:"animation"`
	ConfirmClose  bool `json:"confirm_close"`
}

// Branding carries the merchant presentation used for every payment.
type Branding struct {
	Name        string
	Description string
	ThemeColor  string
}

// BuildOptions assembles the widget options for an order. The amount is the
// gateway amount in the currency's minor unit, taken verbatim from the order.
func BuildOptions(order domain.RemoteOrder, prefill domain.Prefill, branding Branding) Options {
	return Options{
		Key:         order.WidgetKey,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Name:        branding.Name,
		Description: branding.Description,
		OrderID:     order.ExternalOrderID,
		Prefill: Prefill{
			Name:    strings.TrimSpace(prefill.Name),
			Email:   strings.TrimSpace(prefill.Email),
			Contact: strings.TrimSpace(prefill.Contact),
		},
		Theme: Theme{Color: branding.ThemeColor},
		// backdropclose and escape stay false so a stray click or keypress
		// cannot close the overlay mid-payment.
		Modal: Modal{HandleBack: true, Animation: true, ConfirmClose: true},
	}
}
