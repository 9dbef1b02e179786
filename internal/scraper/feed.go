// internal/scraper/feed.go
package scraper

import (
	"bytes"
	"context"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// discoverFeed reads candidates from an RSS or Atom feed.
func (d *Discoverer) discoverFeed(ctx context.Context, feedURL string, lp config.ListPageConfig, policy config.RequestPolicy) ([]Candidate, error) {
	p, err := d.fetcher.Fetch(ctx, requestWith(policy, feedURL))
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(p.Body))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "%s is not a valid RSS or Atom feed", feedURL)
	}

	var out []Candidate
	seen := make(map[string]bool)
	for _, item := range feed.Items {
		link := item.Link
		if link == "" && utils.IsValidURL(item.GUID) {
			link = item.GUID
		}
		target := utils.ResolveURL(p.BaseURL(), link)
		if !utils.IsValidURL(target) {
			continue
		}
		key := utils.MustNormalizeURL(target)
		if seen[key] {
			continue
		}
		seen[key] = true

		out = append(out, Candidate{
			URL:   target,
			Title: collapseSpace(item.Title),
			Image: feedItemImage(item),
		})
		if lp.MaxItems > 0 && len(out) == lp.MaxItems {
			break
		}
	}

	d.metrics.RecordCandidates("feed", len(out))
	return out, nil
}

func feedItemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
