package cart

import (
	"sync"
	"testing"
	"time"

	"github.com/tsonic/storefront/internal/domain"
)

var (
	glassV1 = domain.Product{ID: 1, Name: "v1.0 BT Glass", Price: 4290}
	glassV2 = domain.Product{ID: 5, Name: "v2.0 AUGMx Glass", Price: 76999}
)

func newTestStore(now time.Time) *Store {
	return NewStore(StoreDeps{Clock: func() time.Time { return now }})
}

func TestAddIncrementsExistingLine(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))

	s.Add(glassV1)
	s.Add(glassV1)
	s.Add(glassV2)

	lines := s.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Product.ID != 1 || lines[0].Quantity != 2 {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}
	if lines[1].Product.ID != 5 || lines[1].Quantity != 1 {
		t.Fatalf("unexpected second line: %+v", lines[1])
	}
}

func TestNoDuplicateLines(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))
	for i := 0; i < 10; i++ {
		s.Add(glassV1)
	}

	lines := s.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected a single line, got %d", len(lines))
	}
	if lines[0].Quantity != 10 {
		t.Fatalf("expected quantity 10, got %d", lines[0].Quantity)
	}
}

func TestUpdateQuantity(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))
	s.Add(glassV1)

	s.UpdateQuantity(1, 4)
	if got := s.Lines()[0].Quantity; got != 4 {
		t.Fatalf("expected quantity 4, got %d", got)
	}

	// Negative quantities are ignored.
	s.UpdateQuantity(1, -1)
	if got := s.Lines()[0].Quantity; got != 4 {
		t.Fatalf("negative update changed quantity to %d", got)
	}

	// Unknown product ids are ignored.
	s.UpdateQuantity(99, 2)
	if len(s.Lines()) != 1 {
		t.Fatalf("update for unknown product changed the cart")
	}
}

func TestUpdateQuantityZeroRemovesLine(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))
	s.Add(glassV1)
	s.Add(glassV2)

	s.UpdateQuantity(1, 0)

	lines := s.Lines()
	if len(lines) != 1 || lines[0].Product.ID != 5 {
		t.Fatalf("expected only product 5 to remain, got %+v", lines)
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			t.Fatalf("line with non-positive quantity survived: %+v", line)
		}
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))
	s.Add(glassV1)
	s.UpdateQuantity(1, 3)

	s.Remove(1)
	if !s.IsEmpty() {
		t.Fatalf("expected empty cart after remove")
	}

	// Removing an absent product is a no-op.
	s.Remove(1)
	if !s.IsEmpty() {
		t.Fatalf("remove of absent product changed the cart")
	}
}

func TestTotal(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))
	if got := s.Total(); got != 0 {
		t.Fatalf("expected zero total for empty cart, got %d", got)
	}

	s.Add(glassV1)
	s.Add(glassV1)
	s.Add(glassV2)

	if got := s.Total(); got != 85579 {
		t.Fatalf("expected total 85579, got %d", got)
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))
	s.Add(glassV1)

	s.Clear()
	if !s.IsEmpty() {
		t.Fatalf("expected empty cart after clear")
	}
	if got := s.Total(); got != 0 {
		t.Fatalf("expected zero total after clear, got %d", got)
	}
	if s.Highlighted() {
		t.Fatalf("highlight survived clear")
	}
}

func TestHighlightExpires(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewStore(StoreDeps{
		Clock:        func() time.Time { return now },
		HighlightTTL: 1500 * time.Millisecond,
	})

	s.Add(glassV1)
	if !s.Highlighted() {
		t.Fatalf("expected highlight right after mutation")
	}

	now = now.Add(2 * time.Second)
	if s.Highlighted() {
		t.Fatalf("expected highlight to expire")
	}
}

func TestConcurrentMutations(t *testing.T) {
	s := newTestStore(time.Unix(0, 0))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(glassV1)
		}()
	}
	wg.Wait()

	lines := s.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected a single line, got %d", len(lines))
	}
	if lines[0].Quantity != 50 {
		t.Fatalf("expected quantity 50, got %d", lines[0].Quantity)
	}
}
