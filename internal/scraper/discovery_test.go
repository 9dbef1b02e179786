package scraper

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

func listingPage(links []string, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><ul>")
	for _, l := range links {
		fmt.Fprintf(&b, `<li class="item"><a class="link" href="%s">Post %s</a><img src="/thumbs%s.jpg"></li>`, l, l, l)
	}
	b.WriteString("</ul>")
	if next != "" {
		fmt.Fprintf(&b, `<a class="next" href="%s">Next</a><button class="more" data-url="%s">More</button>`, next, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func listConfig(p config.PaginationConfig) config.ListPageConfig {
	return config.ListPageConfig{
		Enabled:       true,
		ItemSelector:  "li.item",
		LinkSelector:  "a.link",
		ImageSelector: "img",
		Pagination:    p,
	}
}

func newTestDiscoverer(f Fetcher) *Discoverer {
	d := NewDiscoverer(f, nil, utils.NewNopLogger())
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestDiscover_NextButton(t *testing.T) {
	f := NewStaticFetcher(map[string]string{
		"https://s.example/list":        listingPage([]string{"/a", "/b"}, "/list?page=2"),
		"https://s.example/list?page=2": listingPage([]string{"/b", "/c"}, "/list?page=3"),
		"https://s.example/list?page=3": listingPage([]string{"/d"}, ""),
	})
	lp := listConfig(config.PaginationConfig{Type: config.PaginationNextButton, Selector: "a.next", MaxPages: 10})

	got, err := newTestDiscoverer(f).Discover(context.Background(), "https://s.example/list", lp, config.RequestPolicy{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	var urls []string
	for _, c := range got {
		urls = append(urls, c.URL)
	}
	want := "https://s.example/a,https://s.example/b,https://s.example/c,https://s.example/d"
	if strings.Join(urls, ",") != want {
		t.Errorf("urls = %v", urls)
	}
	if got[0].Title != "Post /a" || got[0].Image != "https://s.example/thumbs/a.jpg" {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if n := len(f.Calls()); n != 3 {
		t.Errorf("expected 3 fetches, got %d", n)
	}
}

func TestDiscover_NextButtonCycleGuard(t *testing.T) {
	f := NewStaticFetcher(map[string]string{
		"https://s.example/list":   listingPage([]string{"/a"}, "/list/2"),
		"https://s.example/list/2": listingPage([]string{"/b"}, "/list"),
	})
	lp := listConfig(config.PaginationConfig{Type: config.PaginationNextButton, Selector: "a.next", MaxPages: 10})

	got, err := newTestDiscoverer(f).Discover(context.Background(), "https://s.example/list", lp, config.RequestPolicy{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(got) != 2 || len(f.Calls()) != 2 {
		t.Errorf("expected 2 candidates from 2 fetches, got %d from %v", len(got), f.Calls())
	}
}

// endlessFetcher serves a fresh page with a fresh next link forever.
type endlessFetcher struct {
	calls int
}

func (f *endlessFetcher) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	f.calls++
	n := f.calls
	body := listingPage([]string{fmt.Sprintf("/item-%d", n)}, fmt.Sprintf("/list?p=%d", n+1))
	return &Page{URL: req.URL, FinalURL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func TestDiscover_MaxPagesBoundsEveryStrategy(t *testing.T) {
	strategies := []config.PaginationConfig{
		{Type: config.PaginationNextButton, Selector: "a.next", MaxPages: 3},
		{Type: config.PaginationInfiniteScroll, LoadMoreSelector: "button.more", MaxPages: 3},
		{Type: config.PaginationNumberedURL, URLPattern: "https://s.example/list?p={n}", MaxPages: 3},
	}

	for _, p := range strategies {
		t.Run(string(p.Type), func(t *testing.T) {
			f := &endlessFetcher{}
			got, err := newTestDiscoverer(f).Discover(context.Background(), "https://s.example/list", listConfig(p), config.RequestPolicy{})
			if err != nil {
				t.Fatalf("Discover failed: %v", err)
			}
			if f.calls != 3 {
				t.Errorf("expected exactly 3 fetches, got %d", f.calls)
			}
			if len(got) != 3 {
				t.Errorf("expected 3 candidates, got %d", len(got))
			}
		})
	}
}

func TestDiscover_NumberedURLStopsOnNoNewItems(t *testing.T) {
	f := NewStaticFetcher(map[string]string{
		"https://s.example/p/1": listingPage([]string{"/a", "/b"}, ""),
		"https://s.example/p/2": listingPage([]string{"/c"}, ""),
		"https://s.example/p/3": listingPage([]string{"/a", "/c"}, ""),
		"https://s.example/p/4": listingPage([]string{"/z"}, ""),
	})
	lp := listConfig(config.PaginationConfig{Type: config.PaginationNumberedURL, URLPattern: "https://s.example/p/{n}", MaxPages: 10})

	got, err := newTestDiscoverer(f).Discover(context.Background(), "https://s.example/", lp, config.RequestPolicy{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 candidates, got %v", got)
	}
	if calls := f.Calls(); len(calls) != 3 || calls[2] != "https://s.example/p/3" {
		t.Errorf("expected to stop after page 3, fetched %v", calls)
	}
}

func TestDiscover_InfiniteScrollFollowsLoadMore(t *testing.T) {
	var slept []time.Duration
	f := NewStaticFetcher(map[string]string{
		"https://s.example/feed":          listingPage([]string{"/a"}, "/feed?offset=1"),
		"https://s.example/feed?offset=1": listingPage([]string{"/b"}, "/feed?offset=2"),
		"https://s.example/feed?offset=2": listingPage([]string{"/a"}, "/feed?offset=3"),
	})
	d := newTestDiscoverer(f)
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	lp := listConfig(config.PaginationConfig{Type: config.PaginationInfiniteScroll, LoadMoreSelector: "button.more", ScrollDelayMS: 250, MaxPages: 10})

	got, err := d.Discover(context.Background(), "https://s.example/feed", lp, config.RequestPolicy{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %v", got)
	}
	if len(f.Calls()) != 3 {
		t.Errorf("expected 3 fetches, got %v", f.Calls())
	}
	if len(slept) != 2 || slept[0] != 250*time.Millisecond {
		t.Errorf("expected two 250ms delays, got %v", slept)
	}
}

func TestDiscover_Errors(t *testing.T) {
	f := NewStaticFetcher(map[string]string{
		"https://s.example/list": listingPage([]string{"/a"}, "/missing"),
	})
	lp := listConfig(config.PaginationConfig{Type: config.PaginationNextButton, Selector: "a.next", MaxPages: 5})
	d := newTestDiscoverer(f)

	got, err := d.Discover(context.Background(), "https://s.example/list", lp, config.RequestPolicy{})
	if err != nil || len(got) != 1 {
		t.Errorf("later page failure should return partial results, got %v %v", got, err)
	}

	_, err = d.Discover(context.Background(), "https://s.example/nothing", lp, config.RequestPolicy{})
	if errors.KindOf(err) != errors.KindHTTPStatus {
		t.Errorf("first page failure should be returned, got %v", err)
	}

	bad := lp
	bad.Pagination = config.PaginationConfig{Type: config.PaginationNumberedURL, URLPattern: "https://s.example/list"}
	_, err = d.Discover(context.Background(), "https://s.example/list", bad, config.RequestPolicy{})
	if errors.KindOf(err) != errors.KindConfigValidation {
		t.Errorf("expected config validation error, got %v", err)
	}
	if n := len(f.Calls()); n != 3 {
		t.Errorf("invalid config must not fetch; total calls %d", n)
	}
}

func TestDiscover_MaxItems(t *testing.T) {
	f := NewStaticFetcher(map[string]string{
		"https://s.example/list": listingPage([]string{"/a", "/b", "/c"}, ""),
	})
	lp := listConfig(config.PaginationConfig{})
	lp.MaxItems = 2

	got, err := newTestDiscoverer(f).Discover(context.Background(), "https://s.example/list", lp, config.RequestPolicy{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(got))
	}
}

func TestDiscover_Feed(t *testing.T) {
	rss := `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>News</title>
<item><title>First</title><link>https://s.example/first</link>
  <enclosure url="https://s.example/first.jpg" type="image/jpeg" length="1"/></item>
<item><title>Second</title><link>https://s.example/second</link></item>
<item><title>First again</title><link>https://s.example/first/</link></item>
<item><title>Third</title><link>https://s.example/third</link></item>
</channel></rss>`
	f := NewStaticFetcher(map[string]string{"https://s.example/rss": rss})
	lp := config.ListPageConfig{Enabled: true, Feed: true, MaxItems: 2}

	got, err := newTestDiscoverer(f).Discover(context.Background(), "https://s.example/rss", lp, config.RequestPolicy{})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %v", got)
	}
	if got[0].Title != "First" || got[0].Image != "https://s.example/first.jpg" {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if got[1].URL != "https://s.example/second" {
		t.Errorf("unexpected second candidate %+v", got[1])
	}
}
