package domain

import (
	"strings"
	"time"
)

// Product is a purchasable catalog entry. The catalog is defined at build time
// and never mutated at runtime; prices are minor currency units (paise).
type Product struct {
	ID              int
	Name            string
	Category        string
	Price           int64
	OriginalPrice   int64
	DiscountPercent int
	Image           string
	Color           string
	// Notify marks items that only collect interest instead of selling.
	Notify bool
}

// CartLine couples a product with a quantity. Quantity is always >= 1 for a
// line held in a cart; quantity zero means the line is removed.
type CartLine struct {
	Product  Product
	Quantity int
}

// Subtotal returns price multiplied by quantity for the line.
func (l CartLine) Subtotal() int64 {
	if l.Quantity <= 0 {
		return 0
	}
	return l.Product.Price * int64(l.Quantity)
}

// Cart holds the selected lines in insertion order. At most one line exists
// per product id.
type Cart struct {
	Lines []CartLine
	// HighlightUntil drives the transient "cart changed" accent in the UI.
	HighlightUntil time.Time
}

// Total returns the sum of line subtotals; zero for an empty cart.
func (c Cart) Total() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.Subtotal()
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool { return len(c.Lines) == 0 }

// CheckoutForm captures buyer-entered fields. All but Notes and Country are
// required before submission.
type CheckoutForm struct {
	Name    string
	Email   string
	Phone   string
	Address string
	City    string
	State   string
	Pincode string
	Country string
	Notes   string
}

// DefaultCountry is applied when the buyer leaves the country field blank.
const DefaultCountry = "India"

// Reset restores the form to its defaults.
func (f *CheckoutForm) Reset() {
	*f = CheckoutForm{Country: DefaultCountry}
}

// RemoteAddress is the postal address block of the backend user model.
type RemoteAddress struct {
	Street  string
	City    string
	State   string
	Pincode string
	Country string
}

// RemoteUser is the backend user record; the storefront keeps only the UID
// for the current session.
type RemoteUser struct {
	UID     string
	Name    string
	Email   string
	Mobile  string
	Address RemoteAddress
}

// OrderStatus enumerates the backend order states.
type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// RemoteOrder is the backend order record returned by create-order. One order
// maps to exactly one payment attempt.
type RemoteOrder struct {
	OrderID         string
	ExternalOrderID string
	Amount          int64
	Currency        string
	WidgetKey       string
	Status          OrderStatus
}

// Prefill carries buyer identity fields into the payment widget so the vendor
// form opens pre-populated.
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// PaymentConfirmation is the raw payload delivered by the widget success
// handler and forwarded to the backend for verification.
type PaymentConfirmation struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Empty reports whether the confirmation carries no identifiers.
func (p PaymentConfirmation) Empty() bool {
	return strings.TrimSpace(p.OrderID) == "" && strings.TrimSpace(p.PaymentID) == ""
}
