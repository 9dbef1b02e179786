package jobs

import (
	"context"
	"regexp"
	"strings"

	"github.com/valpere/Importexter/internal/catalog"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/pipeline"
	"github.com/valpere/Importexter/internal/scraper"
)

// groupedThousands matches prices written with thousands separators, such
// as "1.250.000" or "1,250,000".
var groupedThousands = regexp.MustCompile(`^\d{1,3}([.,\s]\d{3})+$`)

var priceChars = regexp.MustCompile(`\d[\d.,\s]*`)

// parsePrice reads a catalog price from an extracted value. Formatted
// prices like "199.000đ" are read as whole numbers.
func parsePrice(raw string) float64 {
	number := strings.TrimSpace(priceChars.FindString(raw))
	if groupedThousands.MatchString(number) {
		return pipeline.ParseNumber(pipeline.RemoveNonDigit(number))
	}
	return pipeline.ParseNumber(strings.ReplaceAll(number, ",", "."))
}

// contentHash is the record's secondary duplicate key.
func contentHash(kind config.ContentKind, rec *scraper.Record) string {
	if kind == config.KindProduct {
		return catalog.ProductHash(rec.Get(scraper.FieldName), rec.Get(scraper.FieldDescription))
	}
	return catalog.ArticleHash(rec.Get(scraper.FieldContent))
}

// commitRequest is everything needed to write one record to the catalog.
type commitRequest struct {
	kind       config.ContentKind
	record     *scraper.Record
	slug       string
	sourceURL  string
	categoryID string
	status     config.PublishStatus
}

// commit writes a record to the catalog and returns the new catalog id.
// Store errors are reported as KindCatalogWrite.
func commit(ctx context.Context, store catalog.Store, req commitRequest) (string, error) {
	rec := req.record
	seo := catalog.SEO{
		MetaTitle:       rec.Get(scraper.FieldMetaTitle),
		MetaDescription: rec.Get(scraper.FieldMetaDescription),
		Canonical:       rec.Get(scraper.FieldCanonical),
	}

	var (
		id  string
		err error
	)
	switch req.kind {
	case config.KindArticle:
		id, err = store.CreateArticle(ctx, &catalog.Article{
			Title:         rec.Get(scraper.FieldTitle),
			Slug:          req.slug,
			Excerpt:       rec.Get(scraper.FieldExcerpt),
			Content:       rec.Get(scraper.FieldContent),
			Author:        rec.Get(scraper.FieldAuthor),
			Tags:          rec.List(scraper.FieldTags),
			FeaturedImage: rec.Get(scraper.FieldFeaturedImage),
			Images:        rec.List(scraper.ListImages),
			CategoryID:    req.categoryID,
			Status:        req.status,
			SourceURL:     req.sourceURL,
			ContentHash:   contentHash(req.kind, rec),
			SEO:           seo,
		})
	case config.KindProduct:
		var variants []catalog.Variant
		for _, name := range rec.List(scraper.ListVariants) {
			variants = append(variants, catalog.Variant{Name: name})
		}
		id, err = store.CreateProduct(ctx, &catalog.Product{
			Name:             rec.Get(scraper.FieldName),
			Slug:             req.slug,
			Price:            parsePrice(rec.Get(scraper.FieldPrice)),
			SalePrice:        parsePrice(rec.Get(scraper.FieldSalePrice)),
			SKU:              rec.Get(scraper.FieldSKU),
			Brand:            rec.Get(scraper.FieldBrand),
			ShortDescription: rec.Get(scraper.FieldShortDescription),
			Description:      rec.Get(scraper.FieldDescription),
			FeaturedImage:    rec.Get(scraper.FieldFeaturedImage),
			Gallery:          rec.List(scraper.ListGallery),
			Variants:         variants,
			CategoryID:       req.categoryID,
			Status:           req.status,
			SourceURL:        req.sourceURL,
			ContentHash:      contentHash(req.kind, rec),
			SEO:              seo,
		})
	default:
		return "", errors.New(errors.KindConfigValidation, "unknown content kind %q", req.kind)
	}

	if err != nil {
		if errors.KindOf(err) == errors.KindCatalogWrite {
			return "", err
		}
		return "", errors.Wrap(errors.KindCatalogWrite, err, "catalog write failed for %s", req.sourceURL)
	}
	return id, nil
}
