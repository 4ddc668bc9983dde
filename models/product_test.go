package models

import "testing"

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		original float64
		sale     float64
		want     int
	}{
		{120, 84, 30},
		{100, 50, 50},
		{99.99, 84.99, 15},
		{100, 100, 0},
		{84, 120, 0},
		{0, 50, 0},
		{100, -1, 0},
	}
	for _, tt := range tests {
		if got := ComputeDiscount(tt.original, tt.sale); got != tt.want {
			t.Errorf("ComputeDiscount(%v, %v) = %d, want %d", tt.original, tt.sale, got, tt.want)
		}
	}
}

func TestDedupKeyCascade(t *testing.T) {
	withID := Product{ExternalID: "SKU-1", ProductURL: "https://shop.example.com/p/air-max", Name: "Air Max 90", SalePrice: 84}
	if got := withID.DedupKey(); got != "id:sku-1" {
		t.Errorf("external id key: got %q", got)
	}

	withURL := Product{ProductURL: "https://Shop.Example.com/p/air-max?utm_source=feed#reviews", Name: "Air Max 90", SalePrice: 84}
	if got := withURL.DedupKey(); got != "url:https://shop.example.com/p/air-max" {
		t.Errorf("url key: got %q", got)
	}

	bare := Product{Name: " Air Max 90 ", SalePrice: 84}
	if got := bare.DedupKey(); got != "np:air max 90:84.00" {
		t.Errorf("name/price key: got %q", got)
	}
}

func TestDedupKeyMatchesAcrossProviders(t *testing.T) {
	a := Product{ProductURL: "https://shop.example.com/p/air-max?ref=serplens", Source: "serplens"}
	b := Product{ProductURL: "https://shop.example.com/p/air-max/", Source: "dealcrest"}
	if a.DedupKey() != b.DedupKey() {
		t.Errorf("same listing keyed differently: %q vs %q", a.DedupKey(), b.DedupKey())
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://shop.example.com/p/air-max?utm_source=x&gclid=y", "https://shop.example.com/p/air-max"},
		{"https://shop.example.com/p/air-max/", "https://shop.example.com/p/air-max"},
		{"https://SHOP.example.com/P/Air-Max", "https://shop.example.com/P/Air-Max"},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.raw); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"Footwear", CategoryShoes},
		{" sneakers ", CategoryShoes},
		{"clothing", CategoryApparel},
		{"Tech", CategoryElectronics},
		{"kitchen", CategoryHome},
		{"gardening", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		if got := ParseCategory(tt.in); got != tt.want {
			t.Errorf("ParseCategory(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
