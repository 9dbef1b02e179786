// internal/scraper/pagination.go
package scraper

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/utils"
)

// PaginationStrategy decides which listing page to fetch next.
type PaginationStrategy interface {
	// FirstURL returns the URL of page 1.
	FirstURL(listingURL string) string

	// NextURL returns the URL of page pageNum+1, or "" when done. newItems
	// is the number of candidates page pageNum added.
	NextURL(currentURL string, doc *goquery.Document, pageNum, newItems int) string

	// Delay is waited before each page after the first.
	Delay() time.Duration

	Name() string
}

// NewPaginationStrategy builds the strategy for cfg.
func NewPaginationStrategy(cfg config.PaginationConfig) (PaginationStrategy, error) {
	switch cfg.Type {
	case "", config.PaginationNone:
		return singlePage{}, nil
	case config.PaginationNextButton:
		return &NextButtonStrategy{Selector: cfg.Selector}, nil
	case config.PaginationNumberedURL:
		return &NumberedURLStrategy{Config: cfg}, nil
	case config.PaginationInfiniteScroll:
		return &InfiniteScrollStrategy{LoadMoreSelector: cfg.LoadMoreSelector, ScrollDelay: cfg.ScrollDelay()}, nil
	default:
		return nil, fmt.Errorf("unsupported pagination type: %s", cfg.Type)
	}
}

type singlePage struct{}

func (singlePage) FirstURL(listingURL string) string                  { return listingURL }
func (singlePage) NextURL(string, *goquery.Document, int, int) string { return "" }
func (singlePage) Delay() time.Duration                               { return 0 }
func (singlePage) Name() string                                       { return string(config.PaginationNone) }

// NextButtonStrategy follows the href of a "next" link.
type NextButtonStrategy struct {
	Selector string
}

func (s *NextButtonStrategy) FirstURL(listingURL string) string { return listingURL }

// NextURL stops when the link is absent or points back at the current page.
func (s *NextButtonStrategy) NextURL(currentURL string, doc *goquery.Document, _, _ int) string {
	href, ok := doc.Find(s.Selector).First().Attr("href")
	if !ok {
		return ""
	}
	next := utils.ResolveURL(currentURL, href)
	if next == "" || sameURL(next, currentURL) {
		return ""
	}
	return next
}

func (s *NextButtonStrategy) Delay() time.Duration { return 0 }

func (s *NextButtonStrategy) Name() string { return string(config.PaginationNextButton) }

// NumberedURLStrategy substitutes page numbers into a URL pattern.
type NumberedURLStrategy struct {
	Config config.PaginationConfig
}

func (s *NumberedURLStrategy) FirstURL(string) string { return s.Config.PageURL(1) }

// NextURL treats a page that added nothing new as the end of the list.
func (s *NumberedURLStrategy) NextURL(_ string, _ *goquery.Document, pageNum, newItems int) string {
	if newItems == 0 {
		return ""
	}
	return s.Config.PageURL(pageNum + 1)
}

func (s *NumberedURLStrategy) Delay() time.Duration { return 0 }

func (s *NumberedURLStrategy) Name() string { return string(config.PaginationNumberedURL) }

// loadMoreAttrs hold the URL a "load more" control would request.
var loadMoreAttrs = []string{"href", "data-url", "data-href", "data-next"}

// InfiniteScrollStrategy follows a "load more" control. Each trigger is
// modeled as a fetch of the URL the control points at.
type InfiniteScrollStrategy struct {
	LoadMoreSelector string
	ScrollDelay      time.Duration
}

func (s *InfiniteScrollStrategy) FirstURL(listingURL string) string { return listingURL }

func (s *InfiniteScrollStrategy) NextURL(currentURL string, doc *goquery.Document, _, newItems int) string {
	if newItems == 0 {
		return ""
	}
	control := doc.Find(s.LoadMoreSelector).First()
	if control.Length() == 0 {
		return ""
	}
	for _, attr := range loadMoreAttrs {
		if v, ok := control.Attr(attr); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(strings.TrimSpace(v), "#") {
			next := utils.ResolveURL(currentURL, v)
			if next == "" || sameURL(next, currentURL) {
				return ""
			}
			return next
		}
	}
	return ""
}

func (s *InfiniteScrollStrategy) Delay() time.Duration { return s.ScrollDelay }

func (s *InfiniteScrollStrategy) Name() string { return string(config.PaginationInfiniteScroll) }

func sameURL(a, b string) bool {
	return utils.MustNormalizeURL(a) == utils.MustNormalizeURL(b)
}
