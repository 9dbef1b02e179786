// internal/scraper/extractor.go
package scraper

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/pipeline"
	"github.com/valpere/Importexter/internal/utils"
)

// Extractor turns detail pages into records using a source's selectors.
type Extractor struct {
	images  *ImageResolver
	metrics *monitoring.MetricsManager
	logger  utils.Logger
}

// NewExtractor creates an extractor. A nil resolver resolves images
// without uploading them.
func NewExtractor(images *ImageResolver, metrics *monitoring.MetricsManager, logger utils.Logger) *Extractor {
	if logger == nil {
		logger = utils.NewComponentLogger("extractor")
	}
	if images == nil {
		images = NewImageResolver(nil, metrics, logger)
	}
	return &Extractor{images: images, metrics: metrics, logger: logger}
}

// Extract parses html and extracts a record for src. Missing required
// fields yield a KindRequiredFieldMissing error; every other field is
// best-effort.
func (e *Extractor) Extract(ctx context.Context, pageURL string, html []byte, src *config.Source) (*Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "failed to parse HTML of %s", pageURL)
	}
	return e.ExtractDocument(ctx, pageURL, doc, src)
}

// ExtractDocument is Extract over an already parsed document.
func (e *Extractor) ExtractDocument(ctx context.Context, pageURL string, doc *goquery.Document, src *config.Source) (*Record, error) {
	rec := NewRecord()
	rec.Set(FieldSourceURL, pageURL)

	var required []string
	switch src.Kind {
	case config.KindArticle:
		if src.Article == nil {
			return nil, errors.New(errors.KindConfigValidation, "source %s has no article selectors", src.ID)
		}
		e.extractArticle(ctx, pageURL, doc, src, rec)
		required = []string{FieldTitle, FieldContent}
	case config.KindProduct:
		if src.Product == nil {
			return nil, errors.New(errors.KindConfigValidation, "source %s has no product selectors", src.ID)
		}
		e.extractProduct(ctx, pageURL, doc, src, rec)
		required = []string{FieldName, FieldPrice}
	default:
		return nil, errors.New(errors.KindConfigValidation, "source %s has unknown kind %q", src.ID, src.Kind)
	}

	e.extractSEO(pageURL, doc, src.SEO, rec)

	var missing []string
	for _, f := range required {
		if strings.TrimSpace(rec.Get(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return rec, errors.New(errors.KindRequiredFieldMissing, "required field(s) missing on %s: %s",
			pageURL, strings.Join(missing, ", ")).WithContext("fields", missing)
	}
	return rec, nil
}

func (e *Extractor) extractArticle(ctx context.Context, pageURL string, doc *goquery.Document, src *config.Source, rec *Record) {
	sel := src.Article

	rec.Set(FieldTitle, e.field(doc.Selection, sel.Title))
	rec.Set(FieldExcerpt, e.field(doc.Selection, sel.Excerpt))
	rec.Set(FieldAuthor, e.field(doc.Selection, sel.Author))
	rec.Set(FieldPublishedAt, e.field(doc.Selection, sel.PublishedAt))
	if sel.Tags.IsSet() {
		rec.SetList(FieldTags, e.list(doc.Selection, sel.Tags))
		rec.Set(FieldTags, strings.Join(rec.List(FieldTags), ", "))
	}

	// Content images are resolved inside the cleaned content subtree so the
	// captured HTML references the resolved (or re-hosted) URLs.
	if sel.Content.IsSet() {
		content := cleaned(doc.Find(sel.Content.Selector), sel.Content)
		images := e.resolveImagesIn(ctx, pageURL, content, sel.ContentImages)
		rec.SetList(ListImages, images)
		rec.Set(FieldContent, e.capture(content, sel.Content))
	}

	featured := e.image(ctx, pageURL, doc.Selection, sel.FeaturedImage)
	if featured == "" && src.UseFrontContentImageAsFeatured {
		if images := rec.List(ListImages); len(images) > 0 {
			featured = images[0]
		}
	}
	rec.Set(FieldFeaturedImage, featured)
}

func (e *Extractor) extractProduct(ctx context.Context, pageURL string, doc *goquery.Document, src *config.Source, rec *Record) {
	sel := src.Product

	rec.Set(FieldName, e.field(doc.Selection, sel.Name))
	rec.Set(FieldPrice, e.field(doc.Selection, sel.Price))
	rec.Set(FieldSalePrice, e.field(doc.Selection, sel.SalePrice))
	rec.Set(FieldSKU, e.field(doc.Selection, sel.SKU))
	rec.Set(FieldBrand, e.field(doc.Selection, sel.Brand))
	rec.Set(FieldShortDescription, e.field(doc.Selection, sel.ShortDescription))
	rec.Set(FieldDescription, e.field(doc.Selection, sel.Description))
	if sel.Variants.IsSet() {
		rec.SetList(ListVariants, e.list(doc.Selection, sel.Variants))
	}

	if sel.Gallery.IsSet() {
		rec.SetList(ListGallery, e.resolveAll(ctx, pageURL, doc.Find(sel.Gallery.Selector), sel.Gallery))
	}

	featured := e.image(ctx, pageURL, doc.Selection, sel.FeaturedImage)
	if featured == "" && src.UseFrontContentImageAsFeatured {
		if gallery := rec.List(ListGallery); len(gallery) > 0 {
			featured = gallery[0]
		}
	}
	rec.Set(FieldFeaturedImage, featured)
}

// extractSEO reads configured SEO selectors, falling back to og: and
// standard meta tags.
func (e *Extractor) extractSEO(pageURL string, doc *goquery.Document, seo config.SEOSelectors, rec *Record) {
	title := e.field(doc.Selection, seo.MetaTitle)
	if title == "" {
		title = metaContent(doc, `meta[property="og:title"]`, `meta[name="twitter:title"]`)
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("head title").First().Text())
	}
	rec.Set(FieldMetaTitle, title)

	desc := e.field(doc.Selection, seo.MetaDescription)
	if desc == "" {
		desc = metaContent(doc, `meta[property="og:description"]`, `meta[name="description"]`)
	}
	rec.Set(FieldMetaDescription, desc)

	canonical := e.field(doc.Selection, seo.Canonical)
	if canonical == "" {
		canonical, _ = doc.Find(`link[rel="canonical"]`).First().Attr("href")
	}
	if canonical == "" {
		canonical = metaContent(doc, `meta[property="og:url"]`)
	}
	if canonical != "" {
		canonical = utils.ResolveURL(pageURL, canonical)
	}
	rec.Set(FieldCanonical, canonical)
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, s := range selectors {
		if v, ok := doc.Find(s).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// field captures f within root and runs its transforms. Unset or unmatched
// fields yield "".
func (e *Extractor) field(root *goquery.Selection, f config.FieldConfig) string {
	if !f.IsSet() {
		return ""
	}
	sel := root.Find(f.Selector)
	if sel.Length() == 0 {
		return ""
	}
	return e.capture(cleaned(sel, f), f)
}

// list captures every match of f separately, transforming each one.
func (e *Extractor) list(root *goquery.Selection, f config.FieldConfig) []string {
	f.Multiple = true
	var out []string
	cleaned(root.Find(f.Selector), f).Each(func(_ int, s *goquery.Selection) {
		v := e.transform(raw(s, f), f.Transforms)
		if v != "" {
			out = append(out, v)
		}
	})
	return out
}

// capture reads the raw value of the cleaned selection and transforms it.
func (e *Extractor) capture(sel *goquery.Selection, f config.FieldConfig) string {
	if sel.Length() == 0 {
		return ""
	}
	if !f.Multiple {
		return e.transform(raw(sel.First(), f), f.Transforms)
	}

	sep := f.Separator
	if sep == "" {
		sep = "\n"
	}
	parts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if v := raw(s, f); v != "" {
			parts = append(parts, v)
		}
	})
	return e.transform(strings.Join(parts, sep), f.Transforms)
}

func (e *Extractor) transform(value string, transforms pipeline.TransformList) string {
	if len(transforms) == 0 {
		return value
	}
	return transforms.ApplyWithObserver(value, func(_ int, rule pipeline.TransformRule, err error) {
		e.metrics.RecordTransformSkipped(string(rule.Type))
		e.logger.Debugf("transform skipped: %v", err)
	})
}

// raw reads one element as attribute, inner HTML or text.
func raw(s *goquery.Selection, f config.FieldConfig) string {
	switch {
	case f.Attribute != "":
		v, _ := s.Attr(f.Attribute)
		return strings.TrimSpace(v)
	case f.HTML:
		html, err := s.Html()
		if err != nil {
			return ""
		}
		return strings.TrimSpace(html)
	default:
		return strings.TrimSpace(s.Text())
	}
}

// cleaned returns a detached copy of sel (first match only unless Multiple)
// with RemoveSelectors and RemoveAttributes applied. The document itself is
// left untouched.
func cleaned(sel *goquery.Selection, f config.FieldConfig) *goquery.Selection {
	if sel.Length() == 0 {
		return sel
	}
	if !f.Multiple {
		sel = sel.First()
	}
	if len(f.RemoveSelectors) == 0 && len(f.RemoveAttributes) == 0 {
		return sel.Clone()
	}

	clone := sel.Clone()
	for _, rs := range f.RemoveSelectors {
		if strings.TrimSpace(rs) != "" {
			clone.Find(rs).Remove()
		}
	}
	if len(f.RemoveAttributes) > 0 {
		all := clone.Find("*").AddSelection(clone)
		for _, attr := range f.RemoveAttributes {
			all.RemoveAttr(attr)
		}
	}
	return clone
}

// image resolves the first usable match of cfg within root.
func (e *Extractor) image(ctx context.Context, pageURL string, root *goquery.Selection, cfg config.ImageFieldConfig) string {
	if !cfg.IsSet() {
		return ""
	}
	var found string
	root.Find(cfg.Selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if u, ok := e.images.Resolve(ctx, pageURL, e.candidate(s, cfg), cfg); ok {
			found = u
			return false
		}
		return true
	})
	return found
}

// resolveAll resolves every match of sel, dropping filtered images and
// duplicates while keeping document order.
func (e *Extractor) resolveAll(ctx context.Context, pageURL string, sel *goquery.Selection, cfg config.ImageFieldConfig) []string {
	var out []string
	seen := make(map[string]bool)
	sel.Each(func(_ int, s *goquery.Selection) {
		if ctx.Err() != nil {
			return
		}
		if u, ok := e.images.Resolve(ctx, pageURL, e.candidate(s, cfg), cfg); ok && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	})
	return out
}

// resolveImagesIn resolves the images of a detached content subtree in
// place: kept images get their src rewritten, dropped ones are removed.
func (e *Extractor) resolveImagesIn(ctx context.Context, pageURL string, content *goquery.Selection, cfg config.ImageFieldConfig) []string {
	selector := cfg.Selector
	if selector == "" {
		selector = "img"
	}
	var out []string
	seen := make(map[string]bool)
	content.Find(selector).Each(func(_ int, s *goquery.Selection) {
		u, ok := e.images.Resolve(ctx, pageURL, e.candidate(s, cfg), cfg)
		if !ok {
			s.Remove()
			return
		}
		s.SetAttr("src", u)
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	})
	return out
}

// candidate reads an image node; a configured Attribute replaces src.
func (e *Extractor) candidate(s *goquery.Selection, cfg config.ImageFieldConfig) ImageCandidate {
	c := CandidateFromSelection(s)
	if cfg.Attribute != "" {
		c.Src = c.Attrs[strings.ToLower(cfg.Attribute)]
	}
	return c
}
