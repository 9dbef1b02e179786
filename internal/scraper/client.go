// internal/scraper/client.go
package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/utils"
)

// Fetcher retrieves pages. Failures are *errors.Error of kind Network,
// Timeout or HTTPStatus.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*Page, error)
}

// FetchRequest is a single GET.
type FetchRequest struct {
	URL       string
	Headers   map[string]string
	UserAgent string
	Timeout   time.Duration

	// Delay is the minimum spacing between requests to the same host
	Delay time.Duration
}

// RequestFor builds a request that follows the source's request policy.
func RequestFor(src *config.Source, target string) FetchRequest {
	return requestWith(src.Request, target)
}

// HTTPClient fetches HTML with per-host politeness limits.
type HTTPClient struct {
	httpClient *http.Client
	config     ClientConfig
	limiters   map[string]*HostLimiter
	mu         sync.Mutex
	metrics    *monitoring.MetricsManager
	logger     utils.Logger
}

// ClientConfig defines configuration options for the HTTP client
type ClientConfig struct {
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	UserAgent     string
	Headers       map[string]string
	MaxBodyBytes  int64
	Metrics       *monitoring.MetricsManager
	Logger        utils.Logger
}

// DefaultUserAgent is sent when neither the source nor the client sets one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// NewHTTPClient creates a new HTTP client with the specified configuration
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewComponentLogger("fetcher")
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config:   cfg,
		limiters: make(map[string]*HostLimiter),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Fetch performs a GET, waiting for the host's politeness slot first.
func (c *HTTPClient) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, errors.New(errors.KindNetwork, "invalid URL %q", req.URL)
	}
	host := u.Hostname()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.Timeout
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		lim := c.limiterFor(host, req.Delay)
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return nil, classify(err, req.URL)
			}
		} else if err := ctx.Err(); err != nil {
			return nil, classify(err, req.URL)
		}

		page, err := c.do(ctx, req, timeout)
		if err == nil {
			if lim != nil {
				lim.ReportSuccess()
			}
			return page, nil
		}
		lastErr = err
		if lim != nil && isRetryable(err) {
			lim.ReportThrottled()
			c.logger.Debugf("slowing down %s to one request per %s", host, lim.Interval())
		}
		c.metrics.RecordFetchError(host, string(errors.KindOf(err)))

		if !isRetryable(err) || attempt == c.config.RetryAttempts {
			break
		}
		c.logger.Debugf("retrying %s after attempt %d: %v", req.URL, attempt+1, err)
		if err := sleepContext(ctx, c.backoff(attempt)); err != nil {
			return nil, classify(err, req.URL)
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) do(ctx context.Context, req FetchRequest, timeout time.Duration) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "failed to create request")
	}
	c.setRequestHeaders(httpReq, req)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(err, req.URL)
	}
	defer resp.Body.Close()
	c.metrics.RecordPageFetched(httpReq.URL.Hostname(), resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, errors.New(errors.KindHTTPStatus, "GET %s: HTTP %d", req.URL, resp.StatusCode).
			WithContext("status_code", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := charset.NewReader(io.LimitReader(resp.Body, c.config.MaxBodyBytes), contentType)
	if err != nil {
		body = io.LimitReader(resp.Body, c.config.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, classify(err, req.URL)
	}

	return &Page{
		URL:         req.URL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        data,
	}, nil
}

// setRequestHeaders applies defaults, then client headers, then request headers.
func (c *HTTPClient) setRequestHeaders(httpReq *http.Request, req FetchRequest) {
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "vi-VN,vi;q=0.9,en-US;q=0.8,en;q=0.7")

	ua := req.UserAgent
	if ua == "" {
		ua = c.config.UserAgent
	}
	httpReq.Header.Set("User-Agent", ua)

	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
}

// limiterFor returns the politeness limiter of host, or nil when delay is
// zero and requests are not spaced.
func (c *HTTPClient) limiterFor(host string, delay time.Duration) *HostLimiter {
	if delay <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = NewHostLimiter(delay)
		c.limiters[host] = lim
	} else {
		lim.SetBaseInterval(delay)
	}
	return lim
}

// backoff implements exponential backoff with jitter
func (c *HTTPClient) backoff(attempt int) time.Duration {
	d := c.config.RetryDelay * time.Duration(1<<uint(attempt))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d + time.Duration(rand.Int63n(int64(d/4)+1))
}

// classify maps transport failures onto the error taxonomy.
func classify(err error, target string) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.KindTimeout, err, "GET %s timed out", target)
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(errors.KindCanceled, err, "GET %s canceled", target)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(errors.KindTimeout, err, "GET %s timed out", target)
	}
	return errors.Wrap(errors.KindNetwork, err, "GET %s failed", target)
}

// isRetryable reports whether another attempt could succeed.
func isRetryable(err error) bool {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case errors.KindNetwork, errors.KindTimeout:
		return true
	case errors.KindHTTPStatus:
		code, _ := e.Context["status_code"].(int)
		return code == http.StatusTooManyRequests || code >= 500
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StaticFetcher serves pages from memory, keyed by URL. Unknown URLs answer
// with an HTTP 404 error.
type StaticFetcher struct {
	mu    sync.Mutex
	Pages map[string]string
	calls []string
}

// NewStaticFetcher creates a fetcher over pages.
func NewStaticFetcher(pages map[string]string) *StaticFetcher {
	return &StaticFetcher{Pages: pages}
}

func (f *StaticFetcher) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify(err, req.URL)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	body, ok := f.Pages[req.URL]
	if !ok {
		return nil, errors.New(errors.KindHTTPStatus, "GET %s: HTTP 404", req.URL).WithContext("status_code", 404)
	}
	return &Page{URL: req.URL, FinalURL: req.URL, StatusCode: 200, ContentType: "text/html; charset=utf-8", Body: []byte(body)}, nil
}

// Calls returns the URLs fetched so far, in order.
func (f *StaticFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// String describes the fetcher for logs.
func (f *StaticFetcher) String() string {
	return fmt.Sprintf("StaticFetcher(%d pages)", len(f.Pages))
}
