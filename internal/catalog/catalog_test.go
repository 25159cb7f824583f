package catalog

import "testing"

func TestProductsReturnsCopies(t *testing.T) {
	first := Products()
	if len(first) == 0 {
		t.Fatal("catalog must not be empty")
	}
	first[0].Name = "mutated"

	second := Products()
	if second[0].Name == "mutated" {
		t.Fatal("catalog exposed internal slice")
	}
}

func TestFind(t *testing.T) {
	p, ok := Find(1)
	if !ok {
		t.Fatal("expected product 1")
	}
	if p.Price != 4290 {
		t.Fatalf("unexpected price %d", p.Price)
	}

	if _, ok := Find(999); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestNotifyOnlyProduct(t *testing.T) {
	p, ok := Find(5)
	if !ok {
		t.Fatal("expected product 5")
	}
	if !p.Notify {
		t.Fatal("product 5 should be notify-only")
	}
	if p.Price != 76999 {
		t.Fatalf("unexpected price %d", p.Price)
	}
}

func TestDisplayPrice(t *testing.T) {
	cases := map[int64]string{
		0:     "₹0",
		4290:  "₹4,290",
		76999: "₹76,999",
	}
	for amount, want := range cases {
		if got := DisplayPrice(amount); got != want {
			t.Fatalf("DisplayPrice(%d) = %q, want %q", amount, got, want)
		}
	}
}

func TestCategories(t *testing.T) {
	cats := Categories()
	if len(cats) == 0 {
		t.Fatal("expected categories")
	}
	seen := map[string]bool{}
	for _, c := range cats {
		if seen[c] {
			t.Fatalf("duplicate category %q", c)
		}
		seen[c] = true
	}
}
