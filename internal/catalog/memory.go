package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// MemoryStore is an in-process catalog. Slugs are unique per kind.
type MemoryStore struct {
	mu         sync.RWMutex
	articles   map[string]*Article
	products   map[string]*Product
	categories map[config.ContentKind][]*Category
}

// NewMemoryStore creates an empty catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles:   make(map[string]*Article),
		products:   make(map[string]*Product),
		categories: make(map[config.ContentKind][]*Category),
	}
}

// SetCategories replaces the category forest of kind.
func (s *MemoryStore) SetCategories(kind config.ContentKind, roots []*Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[kind] = roots
}

func (s *MemoryStore) CreateArticle(ctx context.Context, a *Article) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.articles {
		if existing.Slug == a.Slug {
			return "", errors.New(errors.KindCatalogWrite, "article slug %q already exists", a.Slug)
		}
	}
	stored := *a
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.articles[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p *Product) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.Slug == p.Slug {
			return "", errors.New(errors.KindCatalogWrite, "product slug %q already exists", p.Slug)
		}
	}
	stored := *p
	stored.ID = uuid.NewString()
	stored.Variants = append([]Variant(nil), p.Variants...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.products[stored.ID] = &stored
	return stored.ID, nil
}

func (s *MemoryStore) FindExisting(ctx context.Context, kind config.ContentKind, q Lookup) ([]Existing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := ""
	if q.SourceURL != "" {
		key = utils.MustNormalizeURL(q.SourceURL)
	}
	match := func(e Existing) bool {
		return (q.Slug != "" && e.Slug == q.Slug) ||
			(key != "" && utils.MustNormalizeURL(e.SourceURL) == key) ||
			(q.ContentHash != "" && e.ContentHash == q.ContentHash)
	}

	var out []Existing
	switch kind {
	case config.KindArticle:
		for _, a := range s.articles {
			e := Existing{ID: a.ID, Kind: kind, Slug: a.Slug, SourceURL: a.SourceURL, ContentHash: a.ContentHash}
			if match(e) {
				out = append(out, e)
			}
		}
	case config.KindProduct:
		for _, p := range s.products {
			e := Existing{ID: p.ID, Kind: kind, Slug: p.Slug, SourceURL: p.SourceURL, ContentHash: p.ContentHash}
			if match(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Categories(ctx context.Context, kind config.ContentKind) ([]*Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.categories[kind], nil
}

// Article returns a stored article by id.
func (s *MemoryStore) Article(id string) (*Article, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.articles[id]
	return a, ok
}

// Product returns a stored product by id.
func (s *MemoryStore) Product(id string) (*Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

// Count returns the number of stored items of kind.
func (s *MemoryStore) Count(kind config.ContentKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if kind == config.KindProduct {
		return len(s.products)
	}
	return len(s.articles)
}
