// Package cart implements the in-memory shopping cart for a shop session.
package cart

import (
	"sync"
	"time"

	"github.com/tsonic/storefront/internal/domain"
)

const defaultHighlightTTL = 1500 * time.Millisecond

// StoreDeps configures a cart store.
type StoreDeps struct {
	Clock        func() time.Time
	HighlightTTL time.Duration
}

// Store holds the selected lines for one session. All methods are safe for
// concurrent use; the cart is never persisted.
type Store struct {
	mu             sync.Mutex
	lines          []domain.CartLine
	now            func() time.Time
	highlightTTL   time.Duration
	highlightUntil time.Time
}

// NewStore constructs an empty cart store.
func NewStore(deps StoreDeps) *Store {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := deps.HighlightTTL
	if ttl <= 0 {
		ttl = defaultHighlightTTL
	}
	return &Store{
		now:          clock,
		highlightTTL: ttl,
	}
}

// Add increments the quantity of an existing line for the product, or appends
// a new line with quantity 1. Repeated calls only ever grow the quantity.
func (s *Store) Add(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.lines {
		if s.lines[i].Product.ID == product.ID {
			s.lines[i].Quantity++
			s.markChangedLocked()
			return
		}
	}
	s.lines = append(s.lines, domain.CartLine{Product: product, Quantity: 1})
	s.markChangedLocked()
}

// UpdateQuantity sets the quantity for the product's line. Negative values are
// ignored, zero removes the line. A line with quantity zero never survives.
func (s *Store) UpdateQuantity(productID, quantity int) {
	if quantity < 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(productID)
	if idx < 0 {
		return
	}
	if quantity == 0 {
		s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	} else {
		s.lines[idx].Quantity = quantity
	}
	s.markChangedLocked()
}

// Remove drops the product's line unconditionally; no-op when absent.
func (s *Store) Remove(productID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(productID)
	if idx < 0 {
		return
	}
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	s.markChangedLocked()
}

// Total returns the sum of price times quantity over all lines.
func (s *Store) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, line := range s.lines {
		total += line.Subtotal()
	}
	return total
}

// Lines returns a copy of the current lines in insertion order.
func (s *Store) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

// IsEmpty reports whether the cart holds no lines.
func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines) == 0
}

// Clear empties the cart, e.g. after a successful order.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.highlightUntil = time.Time{}
}

// Highlighted reports whether the transient "cart changed" accent is still
// active. The flag is timestamp based and clears itself on read.
func (s *Store) Highlighted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.highlightUntil)
}

// Snapshot returns the cart as a domain value.
func (s *Store) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := make([]domain.CartLine, len(s.lines))
	copy(lines, s.lines)
	return domain.Cart{
		Lines:          lines,
		HighlightUntil: s.highlightUntil,
	}
}

func (s *Store) indexOfLocked(productID int) int {
	for i := range s.lines {
		if s.lines[i].Product.ID == productID {
			return i
		}
	}
	return -1
}

// markChangedLocked arms the transient highlight when the cart is non-empty
// after a mutation.
func (s *Store) markChangedLocked() {
	if len(s.lines) == 0 {
		s.highlightUntil = time.Time{}
		return
	}
	s.highlightUntil = s.now().Add(s.highlightTTL)
}
