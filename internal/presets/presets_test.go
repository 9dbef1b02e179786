package presets

import (
	"context"
	"testing"
	"time"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
)

func shopSource(id string) *config.Source {
	return &config.Source{
		ID:      id,
		BaseURL: "https://www.Shop.example.com",
		Kind:    config.KindProduct,
		Active:  true,
		Product: &config.ProductSelectors{
			Name:  config.FieldConfig{Selector: "h1.product-name"},
			Price: config.FieldConfig{Selector: ".price"},
		},
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"Shop.Example.com":               "shop.example.com",
		"www.shop.example.com/":          "shop.example.com",
		"https://www.shop.example.com/x": "shop.example.com",
	}
	for in, want := range tests {
		if got := NormalizeDomain(in); got != want {
			t.Errorf("NormalizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryRepository_SaveAndFind(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	if err := repo.Save(ctx, &Preset{Source: shopSource("shop-v1")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repo.Save(ctx, &Preset{Name: "alt", Source: shopSource("shop-v2")}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	updated := shopSource("shop-v1")
	updated.Product.Price.Selector = ".price-new"
	if err := repo.Save(ctx, &Preset{Source: updated}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	found, err := repo.FindByDomain(ctx, "https://shop.example.com/any/page")
	if err != nil {
		t.Fatalf("FindByDomain failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 presets, got %d", len(found))
	}
	if found[0].Name != "alt" || found[1].Name != "shop-v1" {
		t.Errorf("unexpected order %s, %s", found[0].Name, found[1].Name)
	}
	if found[1].Source.Product.Price.Selector != ".price-new" {
		t.Error("save should replace a preset with the same name")
	}
	if found[1].Source.Request.TimeoutMS == 0 || found[1].UpdatedAt.IsZero() {
		t.Error("expected defaults to be applied")
	}

	if none, _ := repo.FindByDomain(ctx, "other.example.com"); len(none) != 0 {
		t.Errorf("expected no presets, got %d", len(none))
	}
}

func TestNormalize_Rejects(t *testing.T) {
	invalid := shopSource("bad")
	invalid.Product.Name.Selector = ""

	tests := []struct {
		name string
		p    *Preset
	}{
		{"no source", &Preset{Domain: "a.example.com", Name: "x"}},
		{"no domain", &Preset{Source: &config.Source{ID: "x", BaseURL: "not a url"}}},
		{"invalid source", &Preset{Source: invalid}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Normalize(tt.p); errors.KindOf(err) != errors.KindConfigValidation {
				t.Errorf("expected config validation error, got %v", err)
			}
		})
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	p := &Preset{Source: shopSource("shop"), UpdatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	if err := Normalize(p); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	doc, err := toDocument(p)
	if err != nil {
		t.Fatalf("toDocument failed: %v", err)
	}
	if doc.ID != "shop.example.com/shop" {
		t.Errorf("document id = %q", doc.ID)
	}
	back, err := fromDocument(doc)
	if err != nil {
		t.Fatalf("fromDocument failed: %v", err)
	}
	if back.Source.Product.Name.Selector != "h1.product-name" || back.Domain != p.Domain {
		t.Errorf("unexpected preset %+v", back)
	}
}

func TestNewMongoRepository_RequiresURI(t *testing.T) {
	if _, err := NewMongoRepository(context.Background(), MongoOptions{}); err == nil {
		t.Error("expected error without URI")
	}
}
