// Package api is the admin HTTP surface: job management, review, batches,
// discovery, diagnostics, sources and presets.
package api

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/jobs"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/presets"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/utils"
)

// Config wires the server to its collaborators.
type Config struct {
	Jobs       *jobs.Manager
	Registry   *config.Registry
	Discoverer *scraper.Discoverer
	Fetcher    scraper.Fetcher
	Presets    presets.Repository
	Health     *monitoring.HealthManager
	Metrics    *monitoring.MetricsManager
	Logger     utils.Logger

	// APIKeys enables bearer authentication on /api/v1 when non-empty
	APIKeys []string

	// RateLimit caps API requests per second; zero disables it
	RateLimit float64
}

// Server serves the admin API.
type Server struct {
	jobs       *jobs.Manager
	registry   *config.Registry
	discoverer *scraper.Discoverer
	fetcher    scraper.Fetcher
	presets    presets.Repository
	health     *monitoring.HealthManager
	metrics    *monitoring.MetricsManager
	logger     utils.Logger
	apiKeys    map[string]bool
	limiter    *utils.RateLimiter
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = utils.NewComponentLogger("api")
	}
	s := &Server{
		jobs:       cfg.Jobs,
		registry:   cfg.Registry,
		discoverer: cfg.Discoverer,
		fetcher:    cfg.Fetcher,
		presets:    cfg.Presets,
		health:     cfg.Health,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if len(cfg.APIKeys) > 0 {
		s.apiKeys = make(map[string]bool, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			s.apiKeys[k] = true
		}
	}
	if cfg.RateLimit > 0 {
		s.limiter = utils.NewRateLimiter(cfg.RateLimit, int(cfg.RateLimit*2)+1)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.recoverMiddleware, s.logMiddleware)

	if s.health != nil {
		r.Handle("/health", s.health.Handler()).Methods(http.MethodGet)
	} else {
		r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "timestamp": time.Now()})
		}).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.MetricsHandler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware, s.rateLimitMiddleware)

	api.HandleFunc("/jobs", s.enqueueJobs).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.deleteJob).Methods(http.MethodDelete)
	api.HandleFunc("/jobs/{id}/run", s.runJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/approve", s.approveJob).Methods(http.MethodPost)

	api.HandleFunc("/batches", s.runBatch).Methods(http.MethodPost)
	api.HandleFunc("/discover", s.discover).Methods(http.MethodPost)

	api.HandleFunc("/diagnostics/selector", s.testSelector).Methods(http.MethodPost)
	api.HandleFunc("/diagnostics/images", s.detectImages).Methods(http.MethodPost)

	api.HandleFunc("/sources", s.listSources).Methods(http.MethodGet)
	api.HandleFunc("/sources/validate", s.validateSource).Methods(http.MethodPost)
	api.HandleFunc("/sources/{id}", s.getSource).Methods(http.MethodGet)
	api.HandleFunc("/sources/{id}", s.putSource).Methods(http.MethodPut)

	api.HandleFunc("/presets", s.findPresets).Methods(http.MethodGet)
	api.HandleFunc("/presets", s.savePreset).Methods(http.MethodPut)

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKeys == nil {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !s.apiKeys[strings.TrimPrefix(header, "Bearer ")] {
			writeMessage(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": utils.FormatDuration(time.Since(start)),
		}).Debug("request")
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, p, debug.Stack())
				writeMessage(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
