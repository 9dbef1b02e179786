package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valpere/Importexter/internal/catalog"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/jobs"
	"github.com/valpere/Importexter/internal/presets"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/utils"
)

const (
	articleURL = "https://news.example.com/bai-viet-1"
	listingURL = "https://news.example.com/thoi-su"
)

const articlePage = `<html><body>
<h1 class="title">Bài viết một</h1>
<div class="sapo">Tóm tắt</div>
<div class="content"><p>Nội dung</p><img src="/img/a.jpg"></div>
</body></html>`

const listingPage = `<html><body>
<div class="item"><a href="/bai-viet-1">Một</a></div>
<div class="item"><a href="/bai-viet-2">Hai</a></div>
</body></html>`

func newsSource() *config.Source {
	return &config.Source{
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
		ListPage: config.ListPageConfig{
			Enabled:      true,
			ItemSelector: ".item",
			LinkSelector: "a",
		},
		CategoryMappings: []config.CategoryMapping{
			{ListingURL: listingURL, CategoryID: "cat-thoi-su", Status: config.StatusDraft},
		},
	}
}

type testEnv struct {
	server  *httptest.Server
	manager *jobs.Manager
	store   *catalog.MemoryStore
}

func setupTestServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	registry := config.NewRegistry()
	if err := registry.Put(context.Background(), newsSource()); err != nil {
		t.Fatalf("Put source failed: %v", err)
	}
	fetcher := scraper.NewStaticFetcher(map[string]string{
		articleURL: articlePage,
		listingURL: listingPage,
	})
	store := catalog.NewMemoryStore()
	manager, err := jobs.NewManager(jobs.ManagerConfig{
		Repository: jobs.NewMemoryRepository(),
		Sources:    registry,
		Fetcher:    fetcher,
		Catalog:    store,
		BatchDelay: time.Millisecond,
		Logger:     utils.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	cfg.Jobs = manager
	cfg.Registry = registry
	cfg.Fetcher = fetcher
	cfg.Discoverer = scraper.NewDiscoverer(fetcher, nil, utils.NewNopLogger())
	cfg.Presets = presets.NewMemoryRepository()
	cfg.Logger = utils.NewNopLogger()

	srv := httptest.NewServer(NewServer(cfg).Routes())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, manager: manager, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d. Body: %s", want, resp.StatusCode, body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, Config{})
	resp := env.do(t, http.MethodGet, "/health", nil)
	expectStatus(t, resp, http.StatusOK)
}

func TestJobLifecycle(t *testing.T) {
	env := setupTestServer(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{"urls": []string{articleURL}})
	expectStatus(t, resp, http.StatusCreated)
	var created struct {
		IDs []string `json:"ids"`
	}
	decodeBody(t, resp, &created)
	if len(created.IDs) != 1 {
		t.Fatalf("expected one id, got %v", created.IDs)
	}
	id := created.IDs[0]

	resp = env.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/run", nil)
	expectStatus(t, resp, http.StatusOK)
	var job jobs.Job
	decodeBody(t, resp, &job)
	if job.Status != jobs.StatusPendingReview {
		t.Fatalf("status = %s, want pending_review", job.Status)
	}

	title := "Tiêu đề mới"
	resp = env.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/approve", map[string]interface{}{"title": title})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &job)
	if job.Status != jobs.StatusSuccess || job.CatalogID == "" {
		t.Fatalf("unexpected approved job %+v", job)
	}
	if job.Slug != "tieu-de-moi" {
		t.Errorf("slug = %q", job.Slug)
	}
	if env.store.Count(config.KindArticle) != 1 {
		t.Errorf("expected one article in the catalog")
	}

	resp = env.do(t, http.MethodPost, "/api/v1/jobs/"+id+"/approve", nil)
	expectStatus(t, resp, http.StatusConflict)
}

func TestEnqueueRejectsWholeRequest(t *testing.T) {
	env := setupTestServer(t, Config{})
	resp := env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"urls": []string{articleURL, "not a url"},
	})
	expectStatus(t, resp, http.StatusBadRequest)

	var body errorBody
	decodeBody(t, resp, &body)
	if body.Kind != "config_validation" {
		t.Errorf("kind = %q", body.Kind)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	expectStatus(t, resp, http.StatusOK)
	var list struct {
		Total int `json:"total"`
	}
	decodeBody(t, resp, &list)
	if list.Total != 0 {
		t.Errorf("expected no jobs, got %d", list.Total)
	}
}

func TestListJobs(t *testing.T) {
	env := setupTestServer(t, Config{})
	env.do(t, http.MethodPost, "/api/v1/jobs", map[string]interface{}{
		"urls": []string{articleURL, "https://news.example.com/b", "https://news.example.com/c"},
	})

	tests := []struct {
		query      string
		wantStatus int
		wantTotal  int
	}{
		{"", http.StatusOK, 3},
		{"?status=queued&limit=2", http.StatusOK, 2},
		{"?status=success", http.StatusOK, 0},
		{"?offset=2", http.StatusOK, 1},
		{"?status=bogus", http.StatusBadRequest, 0},
		{"?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/api/v1/jobs"+tt.query, nil)
			expectStatus(t, resp, tt.wantStatus)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var list struct {
				Total int `json:"total"`
			}
			decodeBody(t, resp, &list)
			if list.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", list.Total, tt.wantTotal)
			}
		})
	}
}

func TestGetAndDeleteJob(t *testing.T) {
	env := setupTestServer(t, Config{})
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/jobs/missing", nil), http.StatusNotFound)

	ids, err := env.manager.Enqueue(context.Background(), []jobs.EnqueueRequest{{URL: articleURL}})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/jobs/"+ids[0], nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/v1/jobs/"+ids[0], nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/jobs/"+ids[0], nil), http.StatusNotFound)
}

func TestRunBatchFormats(t *testing.T) {
	env := setupTestServer(t, Config{})
	body := map[string]interface{}{"urls": []string{articleURL, articleURL}, "source_id": "news"}

	resp := env.do(t, http.MethodPost, "/api/v1/batches", body)
	expectStatus(t, resp, http.StatusOK)
	var report struct {
		Outcomes []jobs.Outcome `json:"outcomes"`
		Summary  map[string]int `json:"summary"`
	}
	decodeBody(t, resp, &report)
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	if report.Outcomes[0].Status != jobs.StatusSuccess || report.Outcomes[1].Status != jobs.StatusDuplicate {
		t.Errorf("unexpected outcomes %+v", report.Outcomes)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/batches?format=csv", map[string]interface{}{"urls": []string{articleURL}})
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, ".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/batches?format=pdf", body), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/batches", map[string]interface{}{"urls": []string{}}), http.StatusBadRequest)
}

func TestDiscover(t *testing.T) {
	env := setupTestServer(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/v1/discover", map[string]interface{}{
		"source_id": "news",
		"url":       listingURL,
		"enqueue":   true,
	})
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		Candidates []scraper.Candidate `json:"candidates"`
		JobIDs     []string            `json:"job_ids"`
	}
	decodeBody(t, resp, &body)
	if len(body.Candidates) != 2 || len(body.JobIDs) != 2 {
		t.Fatalf("unexpected discovery %+v", body)
	}
	if body.Candidates[0].URL != articleURL {
		t.Errorf("first candidate = %q", body.Candidates[0].URL)
	}
	job, err := env.manager.Get(context.Background(), body.JobIDs[0])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.CategoryID != "cat-thoi-su" || job.TargetStatus != config.StatusDraft {
		t.Errorf("listing mapping not applied: category=%q target=%q", job.CategoryID, job.TargetStatus)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/discover", map[string]interface{}{"url": listingURL}), http.StatusBadRequest)
}

func TestDiagnostics(t *testing.T) {
	env := setupTestServer(t, Config{})

	resp := env.do(t, http.MethodPost, "/api/v1/diagnostics/selector", map[string]interface{}{
		"url":      articleURL,
		"selector": "h1.title",
	})
	expectStatus(t, resp, http.StatusOK)
	var match scraper.SelectorMatch
	decodeBody(t, resp, &match)
	if match.Count != 1 {
		t.Errorf("count = %d", match.Count)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/diagnostics/images", map[string]interface{}{"url": articleURL})
	expectStatus(t, resp, http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, "/api/v1/diagnostics/selector", map[string]interface{}{
		"url": articleURL, "selector": "h1[",
	}), http.StatusBadRequest)
}

func TestSources(t *testing.T) {
	env := setupTestServer(t, Config{})

	resp := env.do(t, http.MethodGet, "/api/v1/sources", nil)
	expectStatus(t, resp, http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/sources/news", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/sources/nope", nil), http.StatusNotFound)

	invalid := "id: shop\nname: Shop\nbase_url: https://shop.example.com\nkind: product\n"
	resp = env.do(t, http.MethodPost, "/api/v1/sources/validate", invalid)
	expectStatus(t, resp, http.StatusOK)
	var result struct {
		Valid       bool     `json:"valid"`
		Suggestions []string `json:"suggestions"`
	}
	decodeBody(t, resp, &result)
	if result.Valid {
		t.Error("product source without selectors should be invalid")
	}

	valid := invalid + "product:\n  name:\n    selector: h1\n  price:\n    selector: .price\n"
	expectStatus(t, env.do(t, http.MethodPut, "/api/v1/sources/shop", valid), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/sources/shop", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPut, "/api/v1/sources/other", valid), http.StatusBadRequest)
}

func TestPresets(t *testing.T) {
	env := setupTestServer(t, Config{})

	expectStatus(t, env.do(t, http.MethodGet, "/api/v1/presets", nil), http.StatusBadRequest)

	resp := env.do(t, http.MethodPut, "/api/v1/presets", map[string]interface{}{
		"name":   "default",
		"source": newsSource(),
	})
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodGet, "/api/v1/presets?domain=www.news.example.com", nil)
	expectStatus(t, resp, http.StatusOK)
	var body struct {
		Total int `json:"total"`
	}
	decodeBody(t, resp, &body)
	if body.Total != 1 {
		t.Errorf("total = %d", body.Total)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := setupTestServer(t, Config{APIKeys: []string{"secret"}})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/sources", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	// health stays open
	expectStatus(t, env.do(t, http.MethodGet, "/health", nil), http.StatusOK)
}

func TestRateLimit(t *testing.T) {
	env := setupTestServer(t, Config{RateLimit: 0.01})

	var limited bool
	for i := 0; i < 5; i++ {
		resp := env.do(t, http.MethodGet, "/api/v1/sources", nil)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("expected rate limit to reject a request")
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	env := setupTestServer(t, Config{})
	resp := env.do(t, http.MethodPost, "/api/v1/jobs", `{"urlz":["x"]}`)
	expectStatus(t, resp, http.StatusBadRequest)
}
