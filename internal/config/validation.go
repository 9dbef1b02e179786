// internal/config/validation.go - Source validation with detailed error messages
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/pipeline"
)

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("%s: %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`

	// Warnings leave the source valid, e.g. a transform step that will be
	// skipped at run time
	Warnings []ValidationError `json:"warnings,omitempty"`
}

func (r *ValidationResult) add(field, value, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

func (r *ValidationResult) warn(field, value, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf(format, args...),
	})
}

// Validate checks a source without touching the network.
func Validate(s *Source) []ValidationError {
	return ValidateWithDetails(s).Errors
}

// ValidateWithDetails provides detailed validation results
func ValidateWithDetails(s *Source) *ValidationResult {
	result := &ValidationResult{Errors: make([]ValidationError, 0)}
	if s == nil {
		result.add("source", "", "source cannot be nil")
		return result
	}

	validateBasicFields(s, result)
	validateSelectors(s, result)
	validateListPage(s, result)
	validateMappings(s, result)

	result.Valid = len(result.Errors) == 0
	return result
}

// Warnings lists problems that do not make the source invalid.
func (s *Source) Warnings() []ValidationError {
	return ValidateWithDetails(s).Warnings
}

// Validate returns a ConfigValidation error listing every problem, or nil.
func (s *Source) Validate() error {
	result := ValidateWithDetails(s)
	if result.Valid {
		return nil
	}
	return formatValidationError(s, result)
}

func validateBasicFields(s *Source, result *ValidationResult) {
	if strings.TrimSpace(s.ID) == "" {
		result.add("id", "", "source id is required")
	}

	if s.BaseURL == "" {
		result.add("base_url", "", "base URL is required")
	} else if u, err := url.Parse(s.BaseURL); err != nil || !u.IsAbs() || u.Host == "" {
		result.add("base_url", s.BaseURL, "base URL must be an absolute http(s) URL")
	} else if u.Scheme != "http" && u.Scheme != "https" {
		result.add("base_url", s.BaseURL, "unsupported scheme %q", u.Scheme)
	}

	if s.Request.DelayMS < 0 {
		result.add("request.delay_ms", fmt.Sprint(s.Request.DelayMS), "delay cannot be negative")
	}
	if s.Request.TimeoutMS < 0 {
		result.add("request.timeout_ms", fmt.Sprint(s.Request.TimeoutMS), "timeout cannot be negative")
	}
}

func validateSelectors(s *Source, result *ValidationResult) {
	switch s.Kind {
	case KindArticle:
		if s.Article == nil {
			result.add("article", "", "article sources need article selectors")
			return
		}
		if s.Product != nil {
			result.add("product", "", "article sources must not define product selectors")
		}
		requireField(result, "article.title", s.Article.Title)
		requireField(result, "article.content", s.Article.Content)
		checkField(result, "article.excerpt", s.Article.Excerpt)
		checkField(result, "article.author", s.Article.Author)
		checkField(result, "article.published_at", s.Article.PublishedAt)
		checkField(result, "article.tags", s.Article.Tags)
		checkImageField(result, "article.featured_image", s.Article.FeaturedImage)
		checkImageField(result, "article.content_images", s.Article.ContentImages)

	case KindProduct:
		if s.Product == nil {
			result.add("product", "", "product sources need product selectors")
			return
		}
		if s.Article != nil {
			result.add("article", "", "product sources must not define article selectors")
		}
		requireField(result, "product.name", s.Product.Name)
		requireField(result, "product.price", s.Product.Price)
		checkField(result, "product.sale_price", s.Product.SalePrice)
		checkField(result, "product.sku", s.Product.SKU)
		checkField(result, "product.brand", s.Product.Brand)
		checkField(result, "product.short_description", s.Product.ShortDescription)
		checkField(result, "product.description", s.Product.Description)
		checkField(result, "product.variants", s.Product.Variants)
		checkImageField(result, "product.featured_image", s.Product.FeaturedImage)
		checkImageField(result, "product.gallery", s.Product.Gallery)

	default:
		result.add("kind", string(s.Kind), "kind must be %q or %q", KindArticle, KindProduct)
	}

	checkField(result, "seo.meta_title", s.SEO.MetaTitle)
	checkField(result, "seo.meta_description", s.SEO.MetaDescription)
	checkField(result, "seo.canonical", s.SEO.Canonical)
}

func requireField(result *ValidationResult, path string, f FieldConfig) {
	if !f.IsSet() {
		result.add(path+".selector", "", "selector is required")
		return
	}
	checkField(result, path, f)
}

func checkField(result *ValidationResult, path string, f FieldConfig) {
	if f.IsSet() {
		checkSelector(result, path+".selector", f.Selector)
	}
	for i, sel := range f.RemoveSelectors {
		checkSelector(result, fmt.Sprintf("%s.remove_selectors[%d]", path, i), sel)
	}
	checkTransforms(result, path+".transforms", f.Transforms)
}

func checkImageField(result *ValidationResult, path string, f ImageFieldConfig) {
	checkField(result, path, f.FieldConfig)
	if f.MaxSizeMB < 0 {
		result.add(path+".max_size_mb", fmt.Sprint(f.MaxSizeMB), "max size cannot be negative")
	}
	if f.MinImageSize < 0 {
		result.add(path+".min_image_size", fmt.Sprint(f.MinImageSize), "min image size cannot be negative")
	}
	if f.Upload && strings.Contains(f.Folder, "..") {
		result.add(path+".folder", f.Folder, "folder must not contain '..'")
	}
}

func checkTransforms(result *ValidationResult, path string, list pipeline.TransformList) {
	for i := range list {
		if err := list[i].Validate(); err != nil {
			result.add(fmt.Sprintf("%s[%d]", path, i), string(list[i].Type), "%v", err)
			continue
		}
		if warn := list[i].Warning(); warn != nil {
			result.warn(fmt.Sprintf("%s[%d]", path, i), list[i].Pattern, "step will be skipped: %v", warn)
		}
	}
}

func checkSelector(result *ValidationResult, path, selector string) {
	if err := validateCSSSelector(selector); err != nil {
		result.add(path, selector, "invalid CSS selector: %v", err)
	}
}

func validateListPage(s *Source, result *ValidationResult) {
	if !s.ListPage.Enabled {
		return
	}
	checkListPage(s.ListPage, result)
}

// ValidateListPage checks a discovery configuration on its own, regardless
// of its Enabled flag.
func ValidateListPage(lp ListPageConfig) []ValidationError {
	result := &ValidationResult{Valid: true}
	checkListPage(lp, result)
	return result.Errors
}

func checkListPage(lp ListPageConfig, result *ValidationResult) {
	if lp.Feed {
		if lp.MaxItems < 0 {
			result.add("list_page.max_items", fmt.Sprint(lp.MaxItems), "max items cannot be negative")
		}
		return
	}

	if strings.TrimSpace(lp.ItemSelector) == "" {
		result.add("list_page.item_selector", "", "item selector is required when list discovery is enabled")
	} else {
		checkSelector(result, "list_page.item_selector", lp.ItemSelector)
	}
	if strings.TrimSpace(lp.LinkSelector) == "" {
		result.add("list_page.link_selector", "", "link selector is required when list discovery is enabled")
	} else {
		checkSelector(result, "list_page.link_selector", lp.LinkSelector)
	}
	if lp.TitleSelector != "" {
		checkSelector(result, "list_page.title_selector", lp.TitleSelector)
	}
	if lp.ImageSelector != "" {
		checkSelector(result, "list_page.image_selector", lp.ImageSelector)
	}

	ValidatePagination(lp.Pagination, "list_page.pagination", result)
}

// ValidatePagination checks the variant-specific parameters of p.
func ValidatePagination(p PaginationConfig, path string, result *ValidationResult) {
	if p.MaxPages < 0 {
		result.add(path+".max_pages", fmt.Sprint(p.MaxPages), "max pages must be >= 1")
	}

	switch p.Type {
	case "", PaginationNone:
	case PaginationNextButton:
		if strings.TrimSpace(p.Selector) == "" {
			result.add(path+".selector", "", "next_button pagination requires a selector")
		} else {
			checkSelector(result, path+".selector", p.Selector)
		}
	case PaginationInfiniteScroll:
		if strings.TrimSpace(p.LoadMoreSelector) == "" {
			result.add(path+".load_more_selector", "", "infinite_scroll pagination requires a load-more selector")
		} else {
			checkSelector(result, path+".load_more_selector", p.LoadMoreSelector)
		}
		if p.ScrollDelayMS < 0 {
			result.add(path+".scroll_delay_ms", fmt.Sprint(p.ScrollDelayMS), "scroll delay cannot be negative")
		}
	case PaginationNumberedURL:
		if err := validateURLPattern(p.URLPattern); err != nil {
			result.add(path+".url_pattern", p.URLPattern, "%v", err)
		}
	default:
		result.add(path+".type", string(p.Type), "unknown pagination type")
	}
}

func validateURLPattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return fmt.Errorf("numbered_url pagination requires a URL pattern")
	}
	if !strings.Contains(pattern, PageNumberPlaceholder) {
		return fmt.Errorf("URL pattern must contain %s", PageNumberPlaceholder)
	}
	sample := strings.ReplaceAll(pattern, PageNumberPlaceholder, "1")
	u, err := url.Parse(sample)
	if err != nil {
		return fmt.Errorf("URL pattern does not parse: %v", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("URL pattern must be absolute")
	}
	return nil
}

func validateMappings(s *Source, result *ValidationResult) {
	for i, m := range s.CategoryMappings {
		path := fmt.Sprintf("category_mappings[%d]", i)
		if m.ListingURL == "" {
			result.add(path+".listing_url", "", "listing URL is required")
		}
		if m.CategoryID == "" {
			result.add(path+".category_id", "", "category id is required")
		}
		if m.Status != "" && !m.Status.Valid() {
			result.add(path+".status", string(m.Status), "status must be draft, pending_review or published")
		}
	}
}

// validateCSSSelector compiles the selector with the same engine goquery uses.
func validateCSSSelector(selector string) error {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return fmt.Errorf("empty selector")
	}
	_, err := cascadia.ParseGroup(selector)
	return err
}

// formatValidationError creates a comprehensive error message
func formatValidationError(s *Source, result *ValidationResult) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "source %q failed validation:", s.ID)
	for i, err := range result.Errors {
		fmt.Fprintf(&msg, "\n  %d. %s", i+1, err.Error())
	}
	e := errors.New(errors.KindConfigValidation, "%s", msg.String())
	return e.WithContext("errors", result.Errors)
}

// GetValidationSuggestions provides actionable suggestions for fixing validation errors
func GetValidationSuggestions(result *ValidationResult) []string {
	suggestions := make([]string, 0)

	var hasURLError, hasSelectorError, hasPaginationError bool
	for _, err := range result.Errors {
		switch {
		case strings.Contains(err.Field, "pagination"):
			hasPaginationError = true
		case strings.Contains(err.Field, "url"):
			hasURLError = true
		case strings.Contains(err.Field, "selector"):
			hasSelectorError = true
		}
	}

	if hasURLError {
		suggestions = append(suggestions,
			"Ensure URLs include protocol (http:// or https://)",
			"Verify domain names are correct")
	}
	if hasSelectorError {
		suggestions = append(suggestions,
			"Test CSS selectors with 'importexter test-selector <url> <selector>'",
			"Start with simple selectors and make them more specific as needed")
	}
	if hasPaginationError {
		suggestions = append(suggestions,
			"numbered_url patterns look like https://site/list?page={n}",
			"next_button needs the selector of the link to the next page")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions,
			"Review the source file for YAML syntax errors",
			"Check YAML indentation and formatting")
	}

	return suggestions
}
