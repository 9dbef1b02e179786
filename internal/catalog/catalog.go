// Package catalog is the boundary to the platform's content catalog:
// articles, products and their category trees.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/utils"
)

// Article is a catalog article as written by the import pipeline.
type Article struct {
	ID            string               `json:"id"`
	Title         string               `json:"title"`
	Slug          string               `json:"slug"`
	Excerpt       string               `json:"excerpt,omitempty"`
	Content       string               `json:"content"`
	Author        string               `json:"author,omitempty"`
	Tags          []string             `json:"tags,omitempty"`
	FeaturedImage string               `json:"featured_image,omitempty"`
	Images        []string             `json:"images,omitempty"`
	CategoryID    string               `json:"category_id,omitempty"`
	Status        config.PublishStatus `json:"status"`
	SourceURL     string               `json:"source_url"`
	ContentHash   string               `json:"content_hash,omitempty"`
	SEO           SEO                  `json:"seo"`
	CreatedAt     time.Time            `json:"created_at"`
}

// Product is a catalog product as written by the import pipeline.
type Product struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Slug             string               `json:"slug"`
	Price            float64              `json:"price"`
	SalePrice        float64              `json:"sale_price,omitempty"`
	SKU              string               `json:"sku,omitempty"`
	Brand            string               `json:"brand,omitempty"`
	ShortDescription string               `json:"short_description,omitempty"`
	Description      string               `json:"description,omitempty"`
	FeaturedImage    string               `json:"featured_image,omitempty"`
	Gallery          []string             `json:"gallery,omitempty"`
	Variants         []Variant            `json:"variants,omitempty"`
	CategoryID       string               `json:"category_id,omitempty"`
	Status           config.PublishStatus `json:"status"`
	SourceURL        string               `json:"source_url"`
	ContentHash      string               `json:"content_hash,omitempty"`
	SEO              SEO                  `json:"seo"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Variant is one purchasable option of a product.
type Variant struct {
	Name  string  `json:"name"`
	SKU   string  `json:"sku,omitempty"`
	Price float64 `json:"price,omitempty"`
}

// SEO carries the search metadata of an item.
type SEO struct {
	MetaTitle       string `json:"meta_title,omitempty"`
	MetaDescription string `json:"meta_description,omitempty"`
	Canonical       string `json:"canonical,omitempty"`
}

// Existing identifies an item already in the catalog.
type Existing struct {
	ID          string             `json:"id"`
	Kind        config.ContentKind `json:"kind"`
	Slug        string             `json:"slug"`
	SourceURL   string             `json:"source_url"`
	ContentHash string             `json:"content_hash,omitempty"`
}

// Lookup selects existing items by any of its keys. Empty keys match
// nothing.
type Lookup struct {
	Slug        string
	SourceURL   string
	ContentHash string
}

// ArticleHash is the content key of an article: its body text with markup
// and whitespace differences removed. It is empty for an empty body.
func ArticleHash(content string) string {
	text := strings.TrimSpace(utils.StripHTMLTags(content))
	if text == "" {
		return ""
	}
	return utils.HashContent(text)
}

// ProductHash keys a product by name and description text, since short
// boilerplate descriptions are shared between products.
func ProductHash(name, description string) string {
	text := strings.TrimSpace(utils.StripHTMLTags(description))
	if text == "" {
		return ""
	}
	return utils.HashContent(strings.TrimSpace(name) + "\n" + text)
}

// Category is a node of a category tree.
type Category struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Slug     string      `json:"slug"`
	ParentID string      `json:"parent_id,omitempty"`
	Children []*Category `json:"children,omitempty"`
}

// Store is the catalog as seen by the import pipeline.
type Store interface {
	CreateArticle(ctx context.Context, a *Article) (string, error)
	CreateProduct(ctx context.Context, p *Product) (string, error)

	// FindExisting returns items of kind matching the lookup's slug,
	// normalized source URL or content hash.
	FindExisting(ctx context.Context, kind config.ContentKind, q Lookup) ([]Existing, error)

	// Categories returns the category forest for kind.
	Categories(ctx context.Context, kind config.ContentKind) ([]*Category, error)
}
