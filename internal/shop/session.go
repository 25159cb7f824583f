// Package shop tracks shopper sessions: which step of the storefront they are
// on, their cart, their form and their submission flow.
package shop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tsonic/storefront/internal/cart"
	"github.com/tsonic/storefront/internal/checkout"
)

// Step is the storefront step a session currently shows.
type Step string

const (
	StepCatalog  Step = "catalog"
	StepCart     Step = "cart"
	StepCheckout Step = "checkout"
)

var (
	// ErrInvalidStep is returned for a step name outside the enum.
	ErrInvalidStep = errors.New("shop: invalid step")
	// ErrCheckoutEmptyCart is returned when a session tries to enter checkout
	// with nothing in the cart.
	ErrCheckoutEmptyCart = errors.New("shop: cannot enter checkout with an empty cart")
)

// Session is one shopper's state. Fields set at construction never change;
// the step moves under the session's own lock.
type Session struct {
	ID   string
	Cart *cart.Store
	Form *checkout.Form
	Flow *checkout.Flow

	mu        sync.Mutex
	step      Step
	createdAt time.Time
	lastSeen  time.Time
}

// Step returns the session's current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Advance moves the session to the given step. Any step may return to the
// catalog; checkout requires a non-empty cart.
func (s *Session) Advance(to Step) error {
	switch to {
	case StepCatalog, StepCart:
	case StepCheckout:
		if s.Cart.IsEmpty() {
			return ErrCheckoutEmptyCart
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStep, to)
	}

	s.mu.Lock()
	s.step = to
	s.mu.Unlock()
	return nil
}

// Touch records activity so the sweeper keeps the session alive.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// IdleSince returns the last recorded activity.
func (s *Session) IdleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Busy reports whether the session's submission flow is mid-payment. A busy
// session must not be closed or swept.
func (s *Session) Busy() bool {
	return s.Flow != nil && s.Flow.Processing()
}
