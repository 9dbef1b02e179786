// internal/scraper/discovery.go
package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/utils"
)

// Discoverer enumerates detail-page URLs on listing pages.
type Discoverer struct {
	fetcher Fetcher
	metrics *monitoring.MetricsManager
	logger  utils.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewDiscoverer creates a discoverer fetching through fetcher.
func NewDiscoverer(fetcher Fetcher, metrics *monitoring.MetricsManager, logger utils.Logger) *Discoverer {
	if logger == nil {
		logger = utils.NewComponentLogger("discovery")
	}
	return &Discoverer{fetcher: fetcher, metrics: metrics, logger: logger, sleep: sleepContext}
}

// DiscoverSource runs discovery with the source's list page config and
// request policy. An empty listingURL means the source's base URL.
func (d *Discoverer) DiscoverSource(ctx context.Context, src *config.Source, listingURL string) ([]Candidate, error) {
	if listingURL == "" {
		listingURL = src.BaseURL
	}
	return d.Discover(ctx, listingURL, src.ListPage, src.Request)
}

// Discover walks the listing starting at listingURL and returns candidates
// in page order, unique by normalized URL. At most MaxPages pages are
// fetched whatever the strategy decides. A failure on the first page is
// returned; a failure on a later page ends discovery with what was found.
func (d *Discoverer) Discover(ctx context.Context, listingURL string, lp config.ListPageConfig, policy config.RequestPolicy) ([]Candidate, error) {
	if !utils.IsValidURL(listingURL) {
		return nil, errors.New(errors.KindConfigValidation, "listing URL %q is not an absolute http(s) URL", listingURL)
	}
	if errs := config.ValidateListPage(lp); len(errs) > 0 {
		return nil, errors.New(errors.KindConfigValidation, "invalid list page config: %s", errs[0].Error()).
			WithContext("errors", errs)
	}

	if lp.Feed {
		return d.discoverFeed(ctx, listingURL, lp, policy)
	}

	strategy, err := NewPaginationStrategy(lp.Pagination)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfigValidation, err, "invalid pagination")
	}

	var (
		out     []Candidate
		seen    = make(map[string]bool)
		visited = make(map[string]bool)
		limit   = lp.Pagination.PageLimit()
		pageURL = strategy.FirstURL(listingURL)
	)

	for page := 1; page <= limit && pageURL != ""; page++ {
		if page > 1 {
			if err := d.sleep(ctx, strategy.Delay()); err != nil {
				return out, errors.Wrap(errors.KindCanceled, err, "discovery canceled after %d page(s)", page-1)
			}
		}
		visited[utils.MustNormalizeURL(pageURL)] = true

		p, err := d.fetcher.Fetch(ctx, requestWith(policy, pageURL))
		if err != nil {
			if page == 1 {
				return nil, err
			}
			d.logger.Warnf("discovery stopped at page %d of %s: %v", page, listingURL, err)
			break
		}
		doc, err := p.Document()
		if err != nil {
			if page == 1 {
				return nil, errors.Wrap(errors.KindInternal, err, "failed to parse %s", pageURL)
			}
			break
		}

		added := collectCandidates(doc, p.BaseURL(), lp, seen, &out)
		d.logger.Debugf("page %d (%s): %d new candidate(s)", page, pageURL, added)

		if lp.MaxItems > 0 && len(out) >= lp.MaxItems {
			out = out[:lp.MaxItems]
			break
		}

		next := strategy.NextURL(p.BaseURL(), doc, page, added)
		if next != "" && visited[utils.MustNormalizeURL(next)] {
			next = ""
		}
		pageURL = next
	}

	d.metrics.RecordCandidates(strategy.Name(), len(out))
	return out, nil
}

// collectCandidates appends the unseen items of doc to out and returns how
// many were added.
func collectCandidates(doc *goquery.Document, baseURL string, lp config.ListPageConfig, seen map[string]bool, out *[]Candidate) int {
	added := 0
	doc.Find(lp.ItemSelector).Each(func(_ int, item *goquery.Selection) {
		link := item.Find(lp.LinkSelector).First()
		if link.Length() == 0 && item.Is(lp.LinkSelector) {
			link = item
		}
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		target := utils.ResolveURL(baseURL, href)
		if !utils.IsValidURL(target) {
			return
		}
		target = stripFragment(target)
		key := utils.MustNormalizeURL(target)
		if seen[key] {
			return
		}
		seen[key] = true

		c := Candidate{URL: target}
		if lp.TitleSelector != "" {
			c.Title = collapseSpace(item.Find(lp.TitleSelector).First().Text())
		}
		if c.Title == "" {
			c.Title = collapseSpace(link.Text())
		}
		if c.Title == "" {
			c.Title, _ = link.Attr("title")
		}
		if lp.ImageSelector != "" {
			if img := item.Find(lp.ImageSelector).First(); img.Length() > 0 {
				if src := sourceOf(CandidateFromSelection(img), nil); src != "" {
					c.Image = utils.ResolveURL(baseURL, src)
				}
			}
		}

		*out = append(*out, c)
		added++
	})
	return added
}

func requestWith(policy config.RequestPolicy, target string) FetchRequest {
	return FetchRequest{
		URL:       target,
		Headers:   policy.Headers,
		UserAgent: policy.UserAgent,
		Timeout:   policy.Timeout(),
		Delay:     policy.Delay(),
	}
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
