// internal/config/types.go

// Package config provides the source definitions that drive importing:
// per-site selectors, transform chains, image rules, list-page discovery
// and pagination, category mappings and request policy. It also holds the
// source registry and the application settings.
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/pipeline"
)

// ContentKind is the catalog entity a source produces.
type ContentKind string

const (
	KindArticle ContentKind = "article"
	KindProduct ContentKind = "product"
)

// PublishStatus is the catalog status an imported item is created with.
type PublishStatus string

const (
	StatusDraft         PublishStatus = "draft"
	StatusPendingReview PublishStatus = "pending_review"
	StatusPublished     PublishStatus = "published"
)

// Valid reports whether s is a known publish status.
func (s PublishStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusPublished:
		return true
	}
	return false
}

// Source is the configuration for one external site.
type Source struct {
	// ID identifies the source; defaults to the file name when loaded from disk
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable label
	Name string `yaml:"name" json:"name"`

	// BaseURL is the site root; relative URLs are resolved against it
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Kind selects which selector set is used
	Kind ContentKind `yaml:"kind" json:"kind"`

	// Active sources can be run; inactive ones are kept for reference
	Active bool `yaml:"active" json:"active"`

	// Request is the politeness and transport policy
	Request RequestPolicy `yaml:"request" json:"request"`

	// Article selectors, used when Kind is article
	Article *ArticleSelectors `yaml:"article,omitempty" json:"article,omitempty"`

	// Product selectors, used when Kind is product
	Product *ProductSelectors `yaml:"product,omitempty" json:"product,omitempty"`

	// ListPage configures discovery of detail URLs on listing pages
	ListPage ListPageConfig `yaml:"list_page" json:"list_page"`

	// CategoryMappings bind listing URLs to catalog categories
	CategoryMappings []CategoryMapping `yaml:"category_mappings,omitempty" json:"category_mappings,omitempty"`

	// SEO selectors for meta title, description and canonical URL
	SEO SEOSelectors `yaml:"seo" json:"seo"`

	// UseFrontContentImageAsFeatured promotes the first content image when
	// no featured image was found
	UseFrontContentImageAsFeatured bool `yaml:"use_front_content_image_as_featured" json:"use_front_content_image_as_featured"`
}

// RequestPolicy controls how pages of a source are fetched.
type RequestPolicy struct {
	DelayMS   int               `yaml:"delay_ms" json:"delay_ms"`
	TimeoutMS int               `yaml:"timeout_ms" json:"timeout_ms"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	UserAgent string            `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
}

// Delay returns the delay between requests.
func (r RequestPolicy) Delay() time.Duration {
	return time.Duration(r.DelayMS) * time.Millisecond
}

// Timeout returns the per-request timeout.
func (r RequestPolicy) Timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// FieldConfig defines how to extract a single field.
type FieldConfig struct {
	// Selector is the CSS selector for the field
	Selector string `yaml:"selector" json:"selector"`

	// Attribute is read instead of the element text when set
	Attribute string `yaml:"attribute,omitempty" json:"attribute,omitempty"`

	// HTML captures the inner HTML instead of the text
	HTML bool `yaml:"html,omitempty" json:"html,omitempty"`

	// Multiple concatenates every match instead of taking the first
	Multiple bool `yaml:"multiple,omitempty" json:"multiple,omitempty"`

	// Separator joins multiple matches; defaults to a newline
	Separator string `yaml:"separator,omitempty" json:"separator,omitempty"`

	// Transforms run in order over the captured value
	Transforms pipeline.TransformList `yaml:"transforms,omitempty" json:"transforms,omitempty"`

	// RemoveSelectors are stripped from the captured subtree first
	RemoveSelectors []string `yaml:"remove_selectors,omitempty" json:"remove_selectors,omitempty"`

	// RemoveAttributes are stripped from every element of the captured subtree
	RemoveAttributes []string `yaml:"remove_attributes,omitempty" json:"remove_attributes,omitempty"`
}

// IsSet reports whether the field has a selector.
func (f FieldConfig) IsSet() bool {
	return strings.TrimSpace(f.Selector) != ""
}

// DefaultLazyAttributes are consulted when an image has no usable src.
var DefaultLazyAttributes = []string{"data-src", "data-original", "data-lazy-src", "data-srcset"}

// ImageFieldConfig extends FieldConfig with image resolution rules.
type ImageFieldConfig struct {
	FieldConfig `yaml:",inline" json:",inline"`

	// LazyAttributes are scanned in order when src is missing or a placeholder
	LazyAttributes []string `yaml:"lazy_attributes,omitempty" json:"lazy_attributes,omitempty"`

	// Upload re-hosts resolved images on the asset store
	Upload bool `yaml:"upload,omitempty" json:"upload,omitempty"`

	// Folder is the asset store folder for uploads
	Folder string `yaml:"folder,omitempty" json:"folder,omitempty"`

	// MaxSizeMB rejects larger originals; zero means no limit
	MaxSizeMB float64 `yaml:"max_size_mb,omitempty" json:"max_size_mb,omitempty"`

	// SkipTrackingImages drops 1x1 and tracker-looking images
	SkipTrackingImages bool `yaml:"skip_tracking_images,omitempty" json:"skip_tracking_images,omitempty"`

	// MinImageSize drops images whose known width or height is smaller
	MinImageSize int `yaml:"min_image_size,omitempty" json:"min_image_size,omitempty"`
}

// MaxSizeBytes converts MaxSizeMB to bytes; zero means unlimited.
func (c ImageFieldConfig) MaxSizeBytes() int64 {
	if c.MaxSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxSizeMB * 1024 * 1024)
}

// ArticleSelectors are the fields of an article source.
type ArticleSelectors struct {
	Title         FieldConfig      `yaml:"title" json:"title"`
	Content       FieldConfig      `yaml:"content" json:"content"`
	Excerpt       FieldConfig      `yaml:"excerpt,omitempty" json:"excerpt,omitempty"`
	Author        FieldConfig      `yaml:"author,omitempty" json:"author,omitempty"`
	PublishedAt   FieldConfig      `yaml:"published_at,omitempty" json:"published_at,omitempty"`
	Tags          FieldConfig      `yaml:"tags,omitempty" json:"tags,omitempty"`
	FeaturedImage ImageFieldConfig `yaml:"featured_image,omitempty" json:"featured_image,omitempty"`

	// ContentImages selects images inside the content subtree; the selector
	// defaults to "img"
	ContentImages ImageFieldConfig `yaml:"content_images,omitempty" json:"content_images,omitempty"`
}

// ProductSelectors are the fields of a product source.
type ProductSelectors struct {
	Name             FieldConfig      `yaml:"name" json:"name"`
	Price            FieldConfig      `yaml:"price" json:"price"`
	SalePrice        FieldConfig      `yaml:"sale_price,omitempty" json:"sale_price,omitempty"`
	SKU              FieldConfig      `yaml:"sku,omitempty" json:"sku,omitempty"`
	Brand            FieldConfig      `yaml:"brand,omitempty" json:"brand,omitempty"`
	ShortDescription FieldConfig      `yaml:"short_description,omitempty" json:"short_description,omitempty"`
	Description      FieldConfig      `yaml:"description,omitempty" json:"description,omitempty"`
	Variants         FieldConfig      `yaml:"variants,omitempty" json:"variants,omitempty"`
	FeaturedImage    ImageFieldConfig `yaml:"featured_image,omitempty" json:"featured_image,omitempty"`
	Gallery          ImageFieldConfig `yaml:"gallery,omitempty" json:"gallery,omitempty"`
}

// SEOSelectors override the og:/meta fallbacks.
type SEOSelectors struct {
	MetaTitle       FieldConfig `yaml:"meta_title,omitempty" json:"meta_title,omitempty"`
	MetaDescription FieldConfig `yaml:"meta_description,omitempty" json:"meta_description,omitempty"`
	Canonical       FieldConfig `yaml:"canonical,omitempty" json:"canonical,omitempty"`
}

// ListPageConfig configures discovery on listing pages.
type ListPageConfig struct {
	Enabled       bool             `yaml:"enabled" json:"enabled"`
	ItemSelector  string           `yaml:"item_selector" json:"item_selector"`
	LinkSelector  string           `yaml:"link_selector" json:"link_selector"`
	TitleSelector string           `yaml:"title_selector,omitempty" json:"title_selector,omitempty"`
	ImageSelector string           `yaml:"image_selector,omitempty" json:"image_selector,omitempty"`
	Pagination    PaginationConfig `yaml:"pagination" json:"pagination"`

	// Feed treats the listing URL as an RSS or Atom feed
	Feed bool `yaml:"feed,omitempty" json:"feed,omitempty"`

	// MaxItems caps the number of candidates; zero means no cap
	MaxItems int `yaml:"max_items,omitempty" json:"max_items,omitempty"`
}

// PaginationType names a pagination variant.
type PaginationType string

const (
	PaginationNone           PaginationType = "none"
	PaginationNextButton     PaginationType = "next_button"
	PaginationInfiniteScroll PaginationType = "infinite_scroll"
	PaginationNumberedURL    PaginationType = "numbered_url"
)

// DefaultMaxPages applies when a pagination config sets no cap.
const DefaultMaxPages = 5

// PageNumberPlaceholder is substituted in numbered_url patterns.
const PageNumberPlaceholder = "{n}"

// PaginationConfig is a closed union over the pagination variants. Which
// fields are meaningful depends on Type:
//
//	next_button:     Selector
//	infinite_scroll: LoadMoreSelector, ScrollDelayMS
//	numbered_url:    URLPattern
//
// MaxPages bounds the number of fetched pages for every variant.
type PaginationConfig struct {
	Type             PaginationType `yaml:"type" json:"type"`
	Selector         string         `yaml:"selector,omitempty" json:"selector,omitempty"`
	LoadMoreSelector string         `yaml:"load_more_selector,omitempty" json:"load_more_selector,omitempty"`
	ScrollDelayMS    int            `yaml:"scroll_delay_ms,omitempty" json:"scroll_delay_ms,omitempty"`
	URLPattern       string         `yaml:"url_pattern,omitempty" json:"url_pattern,omitempty"`
	MaxPages         int            `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
}

// UnmarshalYAML rejects unknown pagination types at load time.
func (p *PaginationConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain PaginationConfig
	var v plain
	if err := node.Decode(&v); err != nil {
		return err
	}
	switch PaginationType(v.Type) {
	case "", PaginationNone, PaginationNextButton, PaginationInfiniteScroll, PaginationNumberedURL:
	default:
		return fmt.Errorf("line %d: unknown pagination type %q", node.Line, v.Type)
	}
	*p = PaginationConfig(v)
	return nil
}

// PageLimit returns MaxPages, or DefaultMaxPages when unset.
func (p PaginationConfig) PageLimit() int {
	if p.MaxPages < 1 {
		return DefaultMaxPages
	}
	return p.MaxPages
}

// ScrollDelay returns the wait between load-more iterations.
func (p PaginationConfig) ScrollDelay() time.Duration {
	return time.Duration(p.ScrollDelayMS) * time.Millisecond
}

// PageURL substitutes page number n into URLPattern.
func (p PaginationConfig) PageURL(n int) string {
	return strings.ReplaceAll(p.URLPattern, PageNumberPlaceholder, fmt.Sprint(n))
}

// CategoryMapping binds a listing URL to a catalog category.
type CategoryMapping struct {
	ListingURL string        `yaml:"listing_url" json:"listing_url"`
	CategoryID string        `yaml:"category_id" json:"category_id"`
	Status     PublishStatus `yaml:"status" json:"status"`
}

// MappingFor returns the category mapping whose listing URL matches, if any.
func (s *Source) MappingFor(listingURL string) (CategoryMapping, bool) {
	for _, m := range s.CategoryMappings {
		if strings.TrimRight(m.ListingURL, "/") == strings.TrimRight(listingURL, "/") {
			return m, true
		}
	}
	return CategoryMapping{}, false
}
