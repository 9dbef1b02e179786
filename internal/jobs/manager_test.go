package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/Importexter/internal/catalog"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/utils"
)

const (
	articleURL = "https://news.example.com/gia-vang-hom-nay"
	emptyURL   = "https://news.example.com/empty"
	listingURL = "https://news.example.com/tin-tuc"
)

const articlePage = `<html><body>
<h1 class="title">Giá vàng hôm nay</h1>
<div class="sapo">Tóm tắt</div>
<div class="content"><p>Nội dung</p></div>
</body></html>`

const emptyPage = `<html><body><div class="content"><p>no title here</p></div></body></html>`

type sourceMap map[string]*config.Source

func (s sourceMap) Get(id string) (*config.Source, error) {
	if src, ok := s[id]; ok {
		return src, nil
	}
	return nil, errors.New(errors.KindNotFound, "source %q not found", id)
}

func (s sourceMap) Match(rawURL string) (*config.Source, bool) {
	host, err := utils.ExtractDomain(rawURL)
	if err != nil {
		return nil, false
	}
	for _, src := range s {
		if h, _ := utils.ExtractDomain(src.BaseURL); h == host {
			return src, true
		}
	}
	return nil, false
}

func newsSource() *config.Source {
	src := &config.Source{
		ID:      "news",
		Name:    "News",
		BaseURL: "https://news.example.com",
		Kind:    config.KindArticle,
		Active:  true,
		Article: &config.ArticleSelectors{
			Title:   config.FieldConfig{Selector: "h1.title"},
			Excerpt: config.FieldConfig{Selector: ".sapo"},
			Content: config.FieldConfig{Selector: ".content", HTML: true},
		},
	}
	config.ApplyDefaults(src)
	return src
}

type fixture struct {
	manager *Manager
	repo    *MemoryRepository
	store   *catalog.MemoryStore
	fetcher *scraper.StaticFetcher
	sources sourceMap
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  NewMemoryRepository(),
		store: catalog.NewMemoryStore(),
		fetcher: scraper.NewStaticFetcher(map[string]string{
			articleURL: articlePage,
			emptyURL:   emptyPage,
		}),
		sources: sourceMap{"news": newsSource()},
	}
	m, err := NewManager(ManagerConfig{
		Repository: f.repo,
		Sources:    f.sources,
		Fetcher:    f.fetcher,
		Catalog:    f.store,
		Logger:     utils.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	m.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	f.manager = m
	return f
}

func (f *fixture) enqueue(t *testing.T, url string) string {
	t.Helper()
	ids, err := f.manager.Enqueue(context.Background(), []EnqueueRequest{{URL: url}})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return ids[0]
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestEnqueue(t *testing.T) {
	f := newFixture(t)
	f.sources["news"].CategoryMappings = []config.CategoryMapping{
		{ListingURL: listingURL, CategoryID: "cat-gold", Status: config.StatusDraft},
		{ListingURL: articleURL, CategoryID: "cat-wrong", Status: config.StatusPublished},
	}

	ids, err := f.manager.Enqueue(context.Background(), []EnqueueRequest{
		{URL: articleURL, ListingURL: listingURL + "/"},
		{URL: " " + emptyURL + " ", SourceID: "news", CategoryID: "cat-1"},
		{URL: articleURL},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}

	first, _ := f.manager.Get(context.Background(), ids[0])
	if first.Status != StatusQueued || first.Kind != config.KindArticle || first.SourceID != "news" {
		t.Errorf("unexpected job %+v", first)
	}
	if first.CategoryID != "cat-gold" || first.TargetStatus != config.StatusDraft {
		t.Errorf("mapping not applied: %+v", first)
	}
	second, _ := f.manager.Get(context.Background(), ids[1])
	if second.SourceURL != emptyURL || second.CategoryID != "cat-1" || second.TargetStatus != config.StatusPendingReview {
		t.Errorf("unexpected job %+v", second)
	}
	third, _ := f.manager.Get(context.Background(), ids[2])
	if third.CategoryID != "" || third.TargetStatus != config.StatusPendingReview {
		t.Errorf("a detail URL must not select a mapping: %+v", third)
	}
}

func TestEnqueue_RejectsWholeRequest(t *testing.T) {
	tests := []struct {
		name string
		reqs []EnqueueRequest
	}{
		{"empty", nil},
		{"relative url", []EnqueueRequest{{URL: articleURL}, {URL: "/relative"}}},
		{"unknown source", []EnqueueRequest{{URL: articleURL}, {URL: "https://other.example.org/x"}}},
		{"kind mismatch", []EnqueueRequest{{URL: articleURL, Kind: config.KindProduct}}},
		{"bad status", []EnqueueRequest{{URL: articleURL, TargetStatus: "live"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.manager.Enqueue(context.Background(), tt.reqs)
			if errors.KindOf(err) != errors.KindConfigValidation {
				t.Errorf("expected config validation error, got %v", err)
			}
			jobs, _ := f.manager.List(context.Background(), Filter{})
			if len(jobs) != 0 {
				t.Errorf("expected no jobs to be created, got %d", len(jobs))
			}
		})
	}
}

func TestRun_PendingReview(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, articleURL)

	job, err := f.manager.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusPendingReview {
		t.Fatalf("expected pending_review, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.Slug != "gia-vang-hom-nay" {
		t.Errorf("slug = %q", job.Slug)
	}
	if job.Record.Get(scraper.FieldTitle) != "Giá vàng hôm nay" {
		t.Errorf("record title = %q", job.Record.Get(scraper.FieldTitle))
	}
	if job.ProcessedAt == nil {
		t.Error("expected processed timestamp")
	}

	stored, _ := f.manager.Get(context.Background(), id)
	if stored.Status != StatusPendingReview {
		t.Errorf("stored status = %s", stored.Status)
	}
	if f.store.Count(config.KindArticle) != 0 {
		t.Error("queued path must not write to the catalog before review")
	}
}

func TestRun_CommitsWhenNoReviewNeeded(t *testing.T) {
	tests := []struct {
		target config.PublishStatus
		want   Status
	}{
		{config.StatusPublished, StatusSuccess},
		{config.StatusDraft, StatusSuccess},
		{config.StatusPendingReview, StatusPendingReview},
	}
	for _, tt := range tests {
		t.Run(string(tt.target), func(t *testing.T) {
			f := newFixture(t)
			ids, err := f.manager.Enqueue(context.Background(), []EnqueueRequest{
				{URL: articleURL, CategoryID: "cat-gold", TargetStatus: tt.target},
			})
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			job, err := f.manager.Run(context.Background(), ids[0])
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if job.Status != tt.want {
				t.Fatalf("status = %s, want %s (%s)", job.Status, tt.want, job.ErrorMessage)
			}
			if tt.want == StatusPendingReview {
				if f.store.Count(config.KindArticle) != 0 {
					t.Error("review target must not write to the catalog")
				}
				return
			}
			article, ok := f.store.Article(job.CatalogID)
			if !ok || article.Status != tt.target || article.CategoryID != "cat-gold" || article.Slug != "gia-vang-hom-nay" {
				t.Errorf("unexpected catalog article %+v", article)
			}
			stored, _ := f.manager.Get(context.Background(), ids[0])
			if stored.Status != StatusSuccess || stored.CatalogID != job.CatalogID {
				t.Errorf("stored job = %+v", stored)
			}
		})
	}
}

func TestRun_CommitFailureFails(t *testing.T) {
	f := newFixture(t)
	f.manager.catalog = failingCatalog{f.store}
	ids, err := f.manager.Enqueue(context.Background(), []EnqueueRequest{
		{URL: articleURL, TargetStatus: config.StatusPublished},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := f.manager.Run(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorKind != string(errors.KindCatalogWrite) {
		t.Errorf("expected failed catalog_write, got %s %s", job.Status, job.ErrorKind)
	}
}

func TestRun_RequiredFieldMissingFails(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, emptyURL)

	job, err := f.manager.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind != string(errors.KindRequiredFieldMissing) {
		t.Errorf("error kind = %q", job.ErrorKind)
	}
	if job.ErrorMessage == "" {
		t.Error("expected an error message")
	}
}

func TestRun_FetchErrorFails(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, "https://news.example.com/missing")

	job, err := f.manager.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorKind != string(errors.KindHTTPStatus) {
		t.Errorf("expected failed http_status, got %s %s", job.Status, job.ErrorKind)
	}
}

func TestRun_InvalidSourceMakesNoRequest(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, articleURL)
	f.sources["news"].Article.Title.Selector = "h1[["

	job, err := f.manager.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusFailed || job.ErrorKind != string(errors.KindConfigValidation) {
		t.Errorf("expected config validation failure, got %s %s", job.Status, job.ErrorKind)
	}
	if calls := f.fetcher.Calls(); len(calls) != 0 {
		t.Errorf("expected no fetches, got %v", calls)
	}
}

func TestRun_Duplicate(t *testing.T) {
	f := newFixture(t)
	existing, err := f.store.CreateArticle(context.Background(), &catalog.Article{
		Title: "Old", Slug: "old", SourceURL: articleURL + "/",
	})
	if err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}
	id := f.enqueue(t, articleURL)

	job, err := f.manager.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusDuplicate || job.DuplicateOf != existing {
		t.Errorf("expected duplicate of %s, got %s %s", existing, job.Status, job.DuplicateOf)
	}
}

func TestRun_SlugConflictStaysInReview(t *testing.T) {
	f := newFixture(t)
	if _, err := f.store.CreateArticle(context.Background(), &catalog.Article{
		Title: "Giá vàng hôm nay", Slug: "gia-vang-hom-nay", SourceURL: "https://elsewhere.example.com/a",
	}); err != nil {
		t.Fatalf("CreateArticle failed: %v", err)
	}
	ids, err := f.manager.Enqueue(context.Background(), []EnqueueRequest{
		{URL: articleURL, TargetStatus: config.StatusPublished},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := f.manager.Run(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if job.Status != StatusPendingReview {
		t.Errorf("queued path should park slug collisions for review, got %s", job.Status)
	}
	if f.store.Count(config.KindArticle) != 1 {
		t.Error("a colliding slug must not be committed")
	}
}

func TestRun_ClaimIsExclusive(t *testing.T) {
	f := newFixture(t)
	id := f.enqueue(t, articleURL)

	const workers = 8
	var (
		wg       sync.WaitGroup
		ran      atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Run(context.Background(), id)
			switch {
			case err == nil:
				ran.Add(1)
			case errors.KindOf(err) == errors.KindInvalidState:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ran.Load() != 1 || rejected.Load() != workers-1 {
		t.Errorf("expected exactly one run, got %d runs and %d rejections", ran.Load(), rejected.Load())
	}
	if n := len(f.fetcher.Calls()); n != 1 {
		t.Errorf("expected one fetch, got %d", n)
	}
}

type denyingGuard struct{}

func (denyingGuard) Acquire(ctx context.Context, key string) (bool, error) { return false, nil }
func (denyingGuard) Release(ctx context.Context, key string) error         { return nil }

func TestRun_GuardHeldElsewhere(t *testing.T) {
	f := newFixture(t)
	f.manager.guard = denyingGuard{}
	id := f.enqueue(t, articleURL)

	if _, err := f.manager.Run(context.Background(), id); errors.KindOf(err) != errors.KindInvalidState {
		t.Errorf("expected invalid state, got %v", err)
	}
	job, _ := f.manager.Get(context.Background(), id)
	if job.Status != StatusQueued {
		t.Errorf("job should stay queued, got %s", job.Status)
	}
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	f.manager.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	first := f.enqueue(t, articleURL)
	second := f.enqueue(t, emptyURL)
	if _, err := f.manager.Run(context.Background(), second); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	all, _ := f.manager.List(context.Background(), Filter{})
	if len(all) != 2 || all[0].ID != second {
		t.Fatalf("expected newest first, got %v", all)
	}
	failed, _ := f.manager.List(context.Background(), Filter{Status: StatusFailed})
	if len(failed) != 1 || failed[0].ID != second {
		t.Errorf("unexpected failed list %v", failed)
	}
	limited, _ := f.manager.List(context.Background(), Filter{Limit: 1, Offset: 1})
	if len(limited) != 1 || limited[0].ID != first {
		t.Errorf("unexpected page %v", limited)
	}
	if _, err := f.manager.List(context.Background(), Filter{Status: "bogus"}); err == nil {
		t.Error("expected error for unknown status")
	}

	if err := f.manager.Delete(context.Background(), first); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.manager.Get(context.Background(), first); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	for _, s := range Statuses {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("done").Valid() {
		t.Error("unknown status reported valid")
	}
	if StatusPendingReview.Terminal() || StatusQueued.Terminal() {
		t.Error("pending_review and queued are not terminal")
	}
	if !StatusSlugConflict.Terminal() || !StatusDuplicate.Terminal() {
		t.Error("duplicate and slug_conflict are terminal")
	}
}
