// Package checkout holds the order form and the submission flow that turns a
// cart into a settled payment.
package checkout

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/tsonic/storefront/internal/domain"
)

// ErrUnknownField is returned for a field name the form does not carry.
var ErrUnknownField = errors.New("checkout: unknown form field")

// ValidationError lists the required fields that are still blank.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("checkout: missing required fields: %s", strings.Join(e.Missing, ", "))
}

var requiredFields = []string{"name", "email", "phone", "address", "city", "state", "pincode"}

// Form is the mutable checkout form for one session. All input is stripped of
// markup before it is stored.
type Form struct {
	mu     sync.Mutex
	data   domain.CheckoutForm
	policy *bluemonday.Policy
}

// NewForm constructs a form with the country preset.
func NewForm() *Form {
	f := &Form{policy: bluemonday.StrictPolicy()}
	f.data.Reset()
	return f
}

// SetField stores one field by its wire name.
func (f *Form) SetField(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	value = strings.TrimSpace(f.policy.Sanitize(value))
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "name":
		f.data.Name = value
	case "email":
		f.data.Email = value
	case "phone":
		f.data.Phone = value
	case "address":
		f.data.Address = value
	case "city":
		f.data.City = value
	case "state":
		f.data.State = value
	case "pincode":
		f.data.Pincode = value
	case "country":
		if value == "" {
			value = domain.DefaultCountry
		}
		f.data.Country = value
	case "notes":
		f.data.Notes = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return nil
}

// Apply sets every non-empty field from the given form value.
func (f *Form) Apply(values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := f.SetField(name, values[name]); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks that every required field is present. Values are only
// checked for presence; format checks belong to the commerce API.
func (f *Form) Validate() error {
	snapshot := f.Snapshot()
	byName := map[string]string{
		"name":    snapshot.Name,
		"email":   snapshot.Email,
		"phone":   snapshot.Phone,
		"address": snapshot.Address,
		"city":    snapshot.City,
		"state":   snapshot.State,
		"pincode": snapshot.Pincode,
	}
	var missing []string
	for _, name := range requiredFields {
		if strings.TrimSpace(byName[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// Snapshot returns a copy of the current form data.
func (f *Form) Snapshot() domain.CheckoutForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data
}

// Prefill derives the widget contact fields from the form.
func (f *Form) Prefill() domain.Prefill {
	snapshot := f.Snapshot()
	return domain.Prefill{
		Name:    snapshot.Name,
		Email:   snapshot.Email,
		Contact: snapshot.Phone,
	}
}

// Reset blanks every field and restores the country preset.
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Reset()
}
