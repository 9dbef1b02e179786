// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/pipeline"
)

const (
	defaultDelayMS   = 1000
	defaultTimeoutMS = 30000
)

// LoadFromFile loads a source from a YAML file. The ID defaults to the file
// name without extension.
func LoadFromFile(filename string) (*Source, error) {
	if filename == "" {
		return nil, fmt.Errorf("source filename cannot be empty")
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("source file not found: %s", filename)
		}
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	base := filepath.Base(filename)
	return loadFromBytes(data, strings.TrimSuffix(base, filepath.Ext(base)))
}

// LoadFromBytes loads a source from YAML bytes
func LoadFromBytes(data []byte) (*Source, error) {
	return loadFromBytes(data, "")
}

// LoadFromReader loads a source from an io.Reader
func LoadFromReader(reader io.Reader) (*Source, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read from reader: %w", err)
	}
	return LoadFromBytes(data)
}

func loadFromBytes(data []byte, defaultID string) (*Source, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New(errors.KindConfigValidation, "source data cannot be empty")
	}

	expanded := expandEnvironmentVariables(string(data))

	src := Source{Active: true}
	if err := yaml.Unmarshal([]byte(expanded), &src); err != nil {
		return nil, errors.Wrap(errors.KindConfigValidation, err, "failed to parse source YAML")
	}
	if src.ID == "" {
		src.ID = defaultID
	}

	ApplyDefaults(&src)

	if err := src.Validate(); err != nil {
		return nil, err
	}
	return &src, nil
}

// SaveToFile validates and writes a source as YAML.
func SaveToFile(src *Source, filename string) error {
	if src == nil {
		return fmt.Errorf("source cannot be nil")
	}
	if err := src.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source to YAML: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(filename, data, 0644)
}

// expandEnvironmentVariables substitutes ${VAR} references
func expandEnvironmentVariables(content string) string {
	return os.ExpandEnv(content)
}

// ApplyDefaults fills request policy, pagination and image defaults.
func ApplyDefaults(src *Source) {
	if src.Request.DelayMS == 0 {
		src.Request.DelayMS = defaultDelayMS
	}
	if src.Request.TimeoutMS == 0 {
		src.Request.TimeoutMS = defaultTimeoutMS
	}
	if src.ListPage.Pagination.Type == "" {
		src.ListPage.Pagination.Type = PaginationNone
	}
	if src.ListPage.Pagination.MaxPages == 0 {
		src.ListPage.Pagination.MaxPages = DefaultMaxPages
	}

	for i := range src.CategoryMappings {
		if src.CategoryMappings[i].Status == "" {
			src.CategoryMappings[i].Status = StatusPendingReview
		}
	}

	if a := src.Article; a != nil {
		imageDefaults(&a.FeaturedImage)
		imageDefaults(&a.ContentImages)
		if a.ContentImages.Selector == "" {
			a.ContentImages.Selector = "img"
		}
	}
	if p := src.Product; p != nil {
		imageDefaults(&p.FeaturedImage)
		imageDefaults(&p.Gallery)
	}
}

func imageDefaults(f *ImageFieldConfig) {
	if len(f.LazyAttributes) == 0 {
		f.LazyAttributes = append([]string(nil), DefaultLazyAttributes...)
	}
}

// GenerateTemplate generates a starter source for the given content kind.
func GenerateTemplate(kind string) Source {
	switch ContentKind(strings.ToLower(kind)) {
	case KindProduct:
		return generateProductTemplate()
	default:
		return generateArticleTemplate()
	}
}

func generateArticleTemplate() Source {
	src := Source{
		ID:      "news_site",
		Name:    "News site",
		BaseURL: "https://example.com",
		Kind:    KindArticle,
		Active:  true,
		Request: RequestPolicy{DelayMS: 1500, TimeoutMS: 30000},
		Article: &ArticleSelectors{
			Title: FieldConfig{
				Selector:   "h1.title-detail",
				Transforms: pipeline.TransformList{{Type: pipeline.TransformTrim}},
			},
			Content: FieldConfig{
				Selector:         "article.fck_detail",
				HTML:             true,
				RemoveSelectors:  []string{"script", "style", ".ads"},
				RemoveAttributes: []string{"style", "onclick"},
			},
			Excerpt: FieldConfig{
				Selector: "p.description",
				Transforms: pipeline.TransformList{
					{Type: pipeline.TransformStripTags},
					{Type: pipeline.TransformMaxLength, Max: 300, Ellipsis: true},
				},
			},
			FeaturedImage: ImageFieldConfig{
				FieldConfig:        FieldConfig{Selector: "meta[property='og:image']", Attribute: "content"},
				Upload:             true,
				Folder:             "articles",
				MaxSizeMB:          5,
				SkipTrackingImages: true,
			},
			ContentImages: ImageFieldConfig{
				FieldConfig:        FieldConfig{Selector: "img"},
				SkipTrackingImages: true,
				MinImageSize:       100,
			},
		},
		ListPage: ListPageConfig{
			Enabled:       true,
			ItemSelector:  "article.item-news",
			LinkSelector:  "h3.title-news a",
			TitleSelector: "h3.title-news",
			ImageSelector: "img",
			Pagination: PaginationConfig{
				Type:       PaginationNumberedURL,
				URLPattern: "https://example.com/tin-tuc-p{n}",
				MaxPages:   3,
			},
		},
		CategoryMappings: []CategoryMapping{
			{ListingURL: "https://example.com/tin-tuc", CategoryID: "news", Status: StatusPendingReview},
		},
		UseFrontContentImageAsFeatured: true,
	}
	ApplyDefaults(&src)
	return src
}

func generateProductTemplate() Source {
	src := Source{
		ID:      "shop_site",
		Name:    "Shop",
		BaseURL: "https://shop.example.com",
		Kind:    KindProduct,
		Active:  true,
		Request: RequestPolicy{DelayMS: 2000, TimeoutMS: 30000},
		Product: &ProductSelectors{
			Name: FieldConfig{
				Selector:   "h1.product-title",
				Transforms: pipeline.TransformList{{Type: pipeline.TransformTrim}},
			},
			Price: FieldConfig{
				Selector: ".price-current",
				Transforms: pipeline.TransformList{
					{Type: pipeline.TransformRemoveNonDigit},
				},
			},
			SKU:         FieldConfig{Selector: "[itemprop='sku']"},
			Description: FieldConfig{Selector: "#product-description", HTML: true, RemoveSelectors: []string{"script"}},
			Variants:    FieldConfig{Selector: ".variant-option", Multiple: true},
			FeaturedImage: ImageFieldConfig{
				FieldConfig: FieldConfig{Selector: ".product-gallery img"},
				Upload:      true,
				Folder:      "products",
				MaxSizeMB:   5,
			},
			Gallery: ImageFieldConfig{
				FieldConfig:        FieldConfig{Selector: ".product-gallery img", Multiple: true},
				SkipTrackingImages: true,
				MinImageSize:       200,
			},
		},
		ListPage: ListPageConfig{
			Enabled:       true,
			ItemSelector:  ".product-item",
			LinkSelector:  "a.product-link",
			TitleSelector: ".product-name",
			ImageSelector: "img",
			Pagination: PaginationConfig{
				Type:     PaginationNextButton,
				Selector: "a.next",
				MaxPages: 5,
			},
		},
	}
	ApplyDefaults(&src)
	return src
}
