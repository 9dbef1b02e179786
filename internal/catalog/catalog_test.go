package catalog

import (
	"context"
	"testing"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
)

func sampleTree() []*Category {
	return []*Category{
		{ID: "1", Name: "Tin tức", Children: []*Category{
			{ID: "2", Name: "Kinh tế", Children: []*Category{
				{ID: "3", Name: "Vàng"},
			}},
			{ID: "4", Name: "Thể thao"},
		}},
		{ID: "5", Name: "Review"},
	}
}

func TestFlattenCategories(t *testing.T) {
	flat := FlattenCategories(sampleTree())

	want := []struct {
		id    string
		depth int
		label string
	}{
		{"1", 0, "Tin tức"},
		{"2", 1, "Tin tức / Kinh tế"},
		{"3", 2, "Tin tức / Kinh tế / Vàng"},
		{"4", 1, "Tin tức / Thể thao"},
		{"5", 0, "Review"},
	}
	if len(flat) != len(want) {
		t.Fatalf("expected %d nodes, got %d", len(want), len(flat))
	}
	for i, w := range want {
		if flat[i].ID != w.id || flat[i].Depth != w.depth || flat[i].Label != w.label {
			t.Errorf("node %d = %+v, want %+v", i, flat[i], w)
		}
	}
}

func TestWalkCategories_SkipChildren(t *testing.T) {
	var visited []string
	WalkCategories(sampleTree(), func(c *Category, depth int, _ []string) bool {
		visited = append(visited, c.ID)
		return c.ID != "2"
	})
	if len(visited) != 4 {
		t.Errorf("expected children of 2 to be skipped, visited %v", visited)
	}
}

func TestFindCategoryAndBuildTree(t *testing.T) {
	if c := FindCategory(sampleTree(), "3"); c == nil || c.Name != "Vàng" {
		t.Errorf("FindCategory = %+v", c)
	}
	if c := FindCategory(sampleTree(), "missing"); c != nil {
		t.Errorf("expected nil, got %+v", c)
	}

	roots := BuildTree([]*Category{
		{ID: "b", ParentID: "a", Name: "B"},
		{ID: "a", Name: "A"},
		{ID: "c", ParentID: "ghost", Name: "C"},
	})
	if len(roots) != 2 || roots[0].ID != "a" || len(roots[0].Children) != 1 {
		t.Errorf("unexpected tree %+v", roots)
	}
}

func TestDetector_Check(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id, err := store.CreateArticle(ctx, &Article{Title: "Giá vàng", Slug: "gia-vang", SourceURL: "https://news.example.com/gia-vang/"})
	if err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}

	d := NewDetector(store)
	tests := []struct {
		name string
		kind config.ContentKind
		url  string
		slug string
		want VerdictKind
	}{
		{"same url normalized", config.KindArticle, "HTTPS://news.example.com/gia-vang#top", "other", Duplicate},
		{"same slug different url", config.KindArticle, "https://other.example.com/x", "gia-vang", SlugConflict},
		{"new content", config.KindArticle, "https://news.example.com/new", "new", Unique},
		{"other kind", config.KindProduct, "https://news.example.com/gia-vang", "gia-vang", Unique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := d.Check(ctx, tt.kind, tt.url, tt.slug)
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if v.Kind != tt.want {
				t.Errorf("verdict = %s, want %s", v.Kind, tt.want)
			}
			if tt.want != Unique && v.DuplicateOf != id {
				t.Errorf("expected duplicate of %s, got %s", id, v.DuplicateOf)
			}
		})
	}
}

func TestDetector_CheckContent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	hash := ArticleHash("<p>Giá vàng   tăng</p>")
	id, err := store.CreateArticle(ctx, &Article{
		Title: "Giá vàng", Slug: "gia-vang", SourceURL: "https://news.example.com/gia-vang", ContentHash: hash,
	})
	if err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}
	d := NewDetector(store)

	tests := []struct {
		name string
		slug string
		hash string
		want VerdictKind
	}{
		{"same body other url", "gia-vang", ArticleHash("<div>Giá vàng tăng</div>"), Duplicate},
		{"same body new slug", "ban-sao", hash, Duplicate},
		{"different body same slug", "gia-vang", ArticleHash("<p>Giá vàng giảm</p>"), SlugConflict},
		{"no hash", "moi", "", Unique},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := d.CheckContent(ctx, config.KindArticle, "https://mirror.example.com/a", tt.slug, tt.hash)
			if err != nil {
				t.Fatalf("CheckContent failed: %v", err)
			}
			if v.Kind != tt.want {
				t.Errorf("verdict = %s, want %s", v.Kind, tt.want)
			}
			if tt.want != Unique && v.DuplicateOf != id {
				t.Errorf("expected %s, got %s", id, v.DuplicateOf)
			}
		})
	}
}

func TestContentHashes(t *testing.T) {
	if ArticleHash("<p>  </p>") != "" {
		t.Error("empty body should have no hash")
	}
	if ProductHash("Áo", "") != "" {
		t.Error("product without description should have no hash")
	}
	if ProductHash("Áo thun", "Miễn phí vận chuyển") == ProductHash("Quần jean", "Miễn phí vận chuyển") {
		t.Error("products sharing boilerplate text must hash differently")
	}
}

func TestVerdict_Err(t *testing.T) {
	if (Verdict{Kind: Unique}).Err() != nil {
		t.Error("unique verdict should have no error")
	}
	if err := (Verdict{Kind: Duplicate, DuplicateOf: "x"}).Err(); !errors.Is(err, errors.ErrDuplicateContent) {
		t.Errorf("expected duplicate error, got %v", err)
	}
	if err := (Verdict{Kind: SlugConflict}).Err(); !errors.Is(err, errors.ErrSlugConflict) {
		t.Errorf("expected slug conflict error, got %v", err)
	}
}

func TestMemoryStore_SlugUniquePerKind(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if _, err := store.CreateProduct(ctx, &Product{Name: "A", Slug: "a", Variants: []Variant{{Name: "S"}}}); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	if _, err := store.CreateProduct(ctx, &Product{Name: "A2", Slug: "a"}); errors.KindOf(err) != errors.KindCatalogWrite {
		t.Errorf("expected catalog write error, got %v", err)
	}
	if _, err := store.CreateArticle(ctx, &Article{Title: "A", Slug: "a"}); err != nil {
		t.Errorf("article with product slug should be allowed: %v", err)
	}
	if store.Count(config.KindProduct) != 1 || store.Count(config.KindArticle) != 1 {
		t.Error("unexpected counts")
	}
}
