// internal/scraper/types.go
package scraper

import (
	"bytes"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Record field names. Multi-valued fields are stored as lists.
const (
	FieldTitle            = "title"
	FieldContent          = "content"
	FieldExcerpt          = "excerpt"
	FieldAuthor           = "author"
	FieldPublishedAt      = "published_at"
	FieldTags             = "tags"
	FieldName             = "name"
	FieldPrice            = "price"
	FieldSalePrice        = "sale_price"
	FieldSKU              = "sku"
	FieldBrand            = "brand"
	FieldShortDescription = "short_description"
	FieldDescription      = "description"
	FieldFeaturedImage    = "featured_image"
	FieldMetaTitle        = "meta_title"
	FieldMetaDescription  = "meta_description"
	FieldCanonical        = "canonical"
	FieldSourceURL        = "source_url"

	ListImages   = "images"
	ListGallery  = "gallery"
	ListVariants = "variants"
)

// Record is the structured output of extraction: single values by field
// name plus ordered multi-valued fields.
type Record struct {
	Values map[string]string   `json:"values"`
	Lists  map[string][]string `json:"lists,omitempty"`
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{
		Values: make(map[string]string),
		Lists:  make(map[string][]string),
	}
}

// Get returns a single value, or "" when absent.
func (r *Record) Get(field string) string {
	if r == nil || r.Values == nil {
		return ""
	}
	return r.Values[field]
}

// Set stores a single value.
func (r *Record) Set(field, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	r.Values[field] = value
}

// List returns a multi-valued field.
func (r *Record) List(field string) []string {
	if r == nil || r.Lists == nil {
		return nil
	}
	return r.Lists[field]
}

// SetList stores a multi-valued field; empty lists are dropped.
func (r *Record) SetList(field string, values []string) {
	if r.Lists == nil {
		r.Lists = make(map[string][]string)
	}
	if len(values) == 0 {
		delete(r.Lists, field)
		return
	}
	r.Lists[field] = values
}

// Fields returns the names of all single-valued fields, sorted.
func (r *Record) Fields() []string {
	out := make([]string, 0, len(r.Values))
	for k := range r.Values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := NewRecord()
	if r == nil {
		return c
	}
	for k, v := range r.Values {
		c.Values[k] = v
	}
	for k, v := range r.Lists {
		c.Lists[k] = append([]string(nil), v...)
	}
	return c
}

// Candidate is a detail-page URL found on a listing page.
type Candidate struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Image string `json:"image,omitempty"`
}

// Page is a fetched document.
type Page struct {
	URL         string `json:"url"`
	FinalURL    string `json:"final_url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"-"`
}

// Document parses the page body.
func (p *Page) Document() (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
}

// BaseURL is the URL relative links on the page resolve against.
func (p *Page) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// ImageCandidate is the attribute set of an <img>-like node.
type ImageCandidate struct {
	Src    string
	Attrs  map[string]string
	Width  int // zero when unknown
	Height int
}

// CandidateFromSelection reads src, every attribute and declared dimensions.
func CandidateFromSelection(s *goquery.Selection) ImageCandidate {
	c := ImageCandidate{Attrs: make(map[string]string)}
	if node := s.Get(0); node != nil {
		for _, a := range node.Attr {
			c.Attrs[strings.ToLower(a.Key)] = a.Val
		}
	}
	c.Src = c.Attrs["src"]
	c.Width = parseDimension(c.Attrs["width"])
	c.Height = parseDimension(c.Attrs["height"])
	return c
}

func parseDimension(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(v)), "px")
	n := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			return 0
		}
	}
	return n
}
