// Package payments coordinates the adapters that collect money for an order.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsonic/storefront/internal/domain"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting shopper action.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the payment was captured and verified.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider reports a terminal failure.
	StatusFailed Status = "failed"
	// StatusDismissed indicates the shopper walked away without paying.
	StatusDismissed Status = "dismissed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// CollectRequest carries everything a provider needs to run one payment.
type CollectRequest struct {
	Order          domain.RemoteOrder
	Prefill        domain.Prefill
	IdempotencyKey string
}

// Receipt is the normalised result of a collection attempt.
type Receipt struct {
	Provider  string
	OrderID   string
	PaymentID string
	Status    Status
	Reason    string
}

// Settled reports whether the receipt represents captured money.
func (r Receipt) Settled() bool {
	return r.Status == StatusSucceeded
}

// Provider is implemented by payment adapters. Collect blocks until the
// interaction reaches a terminal state or ctx is cancelled.
type Provider interface {
	Name() string
	Ready(ctx context.Context) error
	Collect(ctx context.Context, req CollectRequest) (Receipt, error)
}

// Manager selects a provider by preference and delegates collection to it.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the provider used when no preference is given.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		key := strings.ToLower(strings.TrimSpace(p.Name()))
		if key == "" {
			return nil, errors.New("payments: provider with empty name")
		}
		if _, exists := byName[key]; exists {
			return nil, fmt.Errorf("payments: duplicate provider %q", key)
		}
		byName[key] = p
	}
	m := &Manager{providers: byName}
	if _, ok := byName["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Resolve returns the provider for the given preference. A missing or unknown
// preference falls back to the default, then to a sole registration.
func (m *Manager) Resolve(preferred string) (Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return nil, errors.New("payments: no providers registered")
	}
	if key := strings.ToLower(strings.TrimSpace(preferred)); key != "" {
		if p, ok := m.providers[key]; ok {
			return p, nil
		}
	}
	if m.defaultProvider != "" {
		if p, ok := m.providers[m.defaultProvider]; ok {
			return p, nil
		}
	}
	if len(m.providers) == 1 {
		for _, p := range m.providers {
			return p, nil
		}
	}
	return nil, ErrUnsupportedProvider
}

// Collect resolves the preferred provider and runs the payment.
func (m *Manager) Collect(ctx context.Context, preferred string, req CollectRequest) (Receipt, error) {
	provider, err := m.Resolve(preferred)
	if err != nil {
		return Receipt{}, err
	}
	if err := provider.Ready(ctx); err != nil {
		return Receipt{}, err
	}
	receipt, err := provider.Collect(ctx, req)
	if err != nil {
		return Receipt{}, err
	}
	receipt.Provider = provider.Name()
	return receipt, nil
}

// Names lists the registered provider names.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}
