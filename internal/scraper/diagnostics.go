// internal/scraper/diagnostics.go
package scraper

import (
	"context"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// Diagnostics runs selectors against live pages without creating jobs.
type Diagnostics struct {
	fetcher Fetcher
	policy  config.RequestPolicy
}

// NewDiagnostics creates a diagnostics service. policy applies to every
// fetch it makes.
func NewDiagnostics(fetcher Fetcher, policy config.RequestPolicy) *Diagnostics {
	return &Diagnostics{fetcher: fetcher, policy: policy}
}

// SelectorMatch is what a selector matched on a page.
type SelectorMatch struct {
	URL      string   `json:"url"`
	Selector string   `json:"selector"`
	Count    int      `json:"count"`
	Texts    []string `json:"texts"`
	HTML     string   `json:"html,omitempty"`
	Images   []string `json:"images,omitempty"`
	Links    []string `json:"links,omitempty"`
}

// ImageSelectorSuggestion is one ranked image selector.
type ImageSelectorSuggestion struct {
	Selector string   `json:"selector"`
	Count    int      `json:"count"`
	Score    int      `json:"score"`
	Samples  []string `json:"samples"`
}

const maxSamples = 5

// TestSelector fetches pageURL and reports what selector matches.
func (d *Diagnostics) TestSelector(ctx context.Context, pageURL, selector string) (*SelectorMatch, error) {
	if err := checkSelectorSyntax(selector); err != nil {
		return nil, err
	}
	doc, base, err := d.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return MatchSelector(doc, base, selector), nil
}

// MatchSelector is TestSelector over a parsed document.
func MatchSelector(doc *goquery.Document, baseURL, selector string) *SelectorMatch {
	sel := doc.Find(selector)
	m := &SelectorMatch{URL: baseURL, Selector: selector, Count: sel.Length(), Texts: []string{}}
	if m.Count == 0 {
		return m
	}
	m.HTML, _ = sel.First().Html()
	m.HTML = strings.TrimSpace(m.HTML)

	seenImg := make(map[string]bool)
	seenLink := make(map[string]bool)
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := collapseSpace(s.Text()); t != "" && len(m.Texts) < maxSamples {
			m.Texts = append(m.Texts, t)
		}
		s.Find("img").AddSelection(s.Filter("img")).Each(func(_ int, img *goquery.Selection) {
			if src := sourceOf(CandidateFromSelection(img), nil); src != "" {
				if u := utils.ResolveURL(baseURL, src); u != "" && !seenImg[u] {
					seenImg[u] = true
					m.Images = append(m.Images, u)
				}
			}
		})
		s.Find("a[href]").AddSelection(s.Filter("a[href]")).Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			if u := utils.ResolveURL(baseURL, href); utils.IsValidURL(u) && !seenLink[u] {
				seenLink[u] = true
				m.Links = append(m.Links, u)
			}
		})
	})
	return m
}

// DetectImageSelectors fetches pageURL and ranks selectors that would pick
// up its content images.
func (d *Diagnostics) DetectImageSelectors(ctx context.Context, pageURL string) ([]ImageSelectorSuggestion, error) {
	doc, base, err := d.load(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return RankImageSelectors(doc, base), nil
}

// contentContainers earn a bonus when an image sits inside them.
var contentContainers = []string{"article", "main", "figure", ".content", ".post-content", ".entry-content", ".product-gallery", ".gallery"}

// RankImageSelectors groups the images of doc by a container-based selector
// and ranks the groups by how content-like they look.
func RankImageSelectors(doc *goquery.Document, baseURL string) []ImageSelectorSuggestion {
	groups := make(map[string]*ImageSelectorSuggestion)
	var order []string

	add := func(selector, url string, score int) {
		g, ok := groups[selector]
		if !ok {
			g = &ImageSelectorSuggestion{Selector: selector}
			groups[selector] = g
			order = append(order, selector)
		}
		g.Count++
		g.Score += score
		if len(g.Samples) < maxSamples {
			g.Samples = append(g.Samples, url)
		}
	}

	if og := metaContent(doc, `meta[property="og:image"]`); og != "" {
		if u := utils.ResolveURL(baseURL, og); u != "" {
			add(`meta[property="og:image"]`, u, 3)
		}
	}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		c := CandidateFromSelection(img)
		src := sourceOf(c, nil)
		if src == "" {
			return
		}
		u := utils.ResolveURL(baseURL, src)
		if u == "" || isTrackingImage(u, c) {
			return
		}

		score := 1
		if c.Width >= 300 || c.Height >= 300 {
			score += 2
		} else if (c.Width > 0 && c.Width < 100) || (c.Height > 0 && c.Height < 100) {
			score--
		}
		if img.ParentsFiltered("header, footer, nav, aside").Length() > 0 {
			score -= 2
		}
		for _, container := range contentContainers {
			if img.ParentsFiltered(container).Length() > 0 {
				score += 2
				break
			}
		}
		add(containerSelector(img), u, score)
	})

	out := make([]ImageSelectorSuggestion, 0, len(order))
	for _, sel := range order {
		if g := groups[sel]; g.Score > 0 {
			out = append(out, *g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Count > out[j].Count
	})
	return out
}

// containerSelector names the closest ancestor with an id or class, e.g.
// "div.post-body img".
func containerSelector(img *goquery.Selection) string {
	for p := img.Parent(); p.Length() > 0; p = p.Parent() {
		tag := goquery.NodeName(p)
		if tag == "body" || tag == "html" {
			break
		}
		if id, ok := p.Attr("id"); ok && isSimpleIdent(id) {
			return "#" + id + " img"
		}
		if class, ok := p.Attr("class"); ok {
			for _, c := range strings.Fields(class) {
				if isSimpleIdent(c) {
					return tag + "." + c + " img"
				}
			}
		}
		if tag == "article" || tag == "main" || tag == "figure" {
			return tag + " img"
		}
	}
	return "img"
}

func isSimpleIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func (d *Diagnostics) load(ctx context.Context, pageURL string) (*goquery.Document, string, error) {
	if !utils.IsValidURL(pageURL) {
		return nil, "", errors.New(errors.KindConfigValidation, "%q is not an absolute http(s) URL", pageURL)
	}
	p, err := d.fetcher.Fetch(ctx, requestWith(d.policy, pageURL))
	if err != nil {
		return nil, "", err
	}
	doc, err := p.Document()
	if err != nil {
		return nil, "", errors.Wrap(errors.KindInternal, err, "failed to parse %s", pageURL)
	}
	return doc, p.BaseURL(), nil
}

func checkSelectorSyntax(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return errors.New(errors.KindConfigValidation, "selector is required")
	}
	if _, err := cascadia.ParseGroup(selector); err != nil {
		return errors.Wrap(errors.KindConfigValidation, err, "invalid CSS selector %q", selector)
	}
	return nil
}
