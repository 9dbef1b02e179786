package api

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/jobs"
	"github.com/valpere/Importexter/internal/output"
	"github.com/valpere/Importexter/internal/presets"
	"github.com/valpere/Importexter/internal/scraper"
)

type enqueueRequest struct {
	// URLs is shorthand for requests that share every other field
	URLs         []string              `json:"urls,omitempty"`
	SourceID     string                `json:"source_id,omitempty"`
	CategoryID   string                `json:"category_id,omitempty"`
	TargetStatus config.PublishStatus  `json:"target_status,omitempty"`
	ListingURL   string                `json:"listing_url,omitempty"`
	Items        []jobs.EnqueueRequest `json:"items,omitempty"`
}

func (s *Server) enqueueJobs(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	items := req.Items
	for _, u := range req.URLs {
		items = append(items, jobs.EnqueueRequest{
			URL: u, SourceID: req.SourceID, CategoryID: req.CategoryID,
			TargetStatus: req.TargetStatus, ListingURL: req.ListingURL,
		})
	}

	ids, err := s.jobs.Enqueue(r.Context(), items)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"ids": ids, "total": len(ids)})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobs.Filter{
		Status:   jobs.Status(q.Get("status")),
		Kind:     config.ContentKind(q.Get("kind")),
		SourceID: q.Get("source_id"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		writeError(w, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, err)
		return
	}

	list, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "total": len(list)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) approveJob(w http.ResponseWriter, r *http.Request) {
	var approval jobs.Approval
	if r.ContentLength != 0 {
		if err := decode(r, &approval); err != nil {
			writeError(w, err)
			return
		}
	}
	job, err := s.jobs.Approve(r.Context(), mux.Vars(r)["id"], approval)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type batchRequest struct {
	URLs       []string             `json:"urls"`
	SourceID   string               `json:"source_id,omitempty"`
	CategoryID string               `json:"category_id,omitempty"`
	Status     config.PublishStatus `json:"status,omitempty"`
	DelayMS    int                  `json:"delay_ms,omitempty"`
}

// runBatch runs a batch to completion within the request and answers with
// the report in the requested format.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	format, err := output.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, errors.Wrap(errors.KindConfigValidation, err, "bad format"))
		return
	}
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cfg := jobs.BatchConfig{
		SourceID:   req.SourceID,
		CategoryID: req.CategoryID,
		Status:     req.Status,
		Delay:      time.Duration(req.DelayMS) * time.Millisecond,
	}

	outcomes, err := s.jobs.RunBatch(r.Context(), req.URLs, cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	report := output.NewReport(cfg, outcomes)

	if format == output.FormatJSON {
		writeJSON(w, http.StatusOK, report)
		return
	}
	writer, err := output.GetWriter(format)
	if err != nil {
		writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := writer.Write(&buf, report); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(format)+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type discoverRequest struct {
	URL      string                 `json:"url"`
	SourceID string                 `json:"source_id,omitempty"`
	ListPage *config.ListPageConfig `json:"list_page,omitempty"`
	Request  *config.RequestPolicy  `json:"request,omitempty"`

	// Enqueue turns every candidate into a queued job
	Enqueue    bool   `json:"enqueue,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		candidates []scraper.Candidate
		err        error
		sourceID   = req.SourceID
		listingURL = req.URL
	)
	switch {
	case req.SourceID != "":
		var src *config.Source
		if src, err = s.registry.Get(req.SourceID); err == nil {
			if listingURL == "" {
				listingURL = src.BaseURL
			}
			candidates, err = s.discoverer.DiscoverSource(r.Context(), src, listingURL)
		}
	case req.ListPage != nil:
		policy := config.RequestPolicy{DelayMS: 1000, TimeoutMS: 30000}
		if req.Request != nil {
			policy = *req.Request
		}
		candidates, err = s.discoverer.Discover(r.Context(), req.URL, *req.ListPage, policy)
	default:
		err = errors.New(errors.KindConfigValidation, "source_id or list_page is required")
	}
	if err != nil && len(candidates) == 0 {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{"candidates": candidates, "total": len(candidates)}
	if err != nil {
		resp["partial_error"] = err.Error()
	}
	if req.Enqueue && len(candidates) > 0 {
		items := make([]jobs.EnqueueRequest, len(candidates))
		for i, c := range candidates {
			items[i] = jobs.EnqueueRequest{
				URL:        c.URL,
				SourceID:   sourceID,
				CategoryID: req.CategoryID,
				ListingURL: listingURL,
			}
		}
		ids, err := s.jobs.Enqueue(r.Context(), items)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["job_ids"] = ids
	}
	writeJSON(w, http.StatusOK, resp)
}

type diagnosticsRequest struct {
	URL      string                `json:"url"`
	Selector string                `json:"selector,omitempty"`
	Request  *config.RequestPolicy `json:"request,omitempty"`
}

func (s *Server) diagnostics(req diagnosticsRequest) *scraper.Diagnostics {
	policy := config.RequestPolicy{TimeoutMS: 30000}
	if req.Request != nil {
		policy = *req.Request
	}
	return scraper.NewDiagnostics(s.fetcher, policy)
}

func (s *Server) testSelector(w http.ResponseWriter, r *http.Request) {
	var req diagnosticsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	match, err := s.diagnostics(req).TestSelector(r.Context(), req.URL, req.Selector)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, match)
}

func (s *Server) detectImages(w http.ResponseWriter, r *http.Request) {
	var req diagnosticsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	suggestions, err := s.diagnostics(req).DetectImageSelectors(r.Context(), req.URL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"sources": list, "total": len(list)})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

// readSource accepts a source as YAML or JSON.
func readSource(r *http.Request) (*config.Source, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrap(errors.KindConfigValidation, err, "failed to read body")
	}
	src := &config.Source{Active: true}
	if err := yaml.Unmarshal(data, src); err != nil {
		return nil, errors.Wrap(errors.KindConfigValidation, err, "failed to parse source")
	}
	config.ApplyDefaults(src)
	return src, nil
}

func (s *Server) validateSource(w http.ResponseWriter, r *http.Request) {
	src, err := readSource(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result := config.ValidateWithDetails(src)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":       result.Valid,
		"errors":      result.Errors,
		"warnings":    result.Warnings,
		"suggestions": config.GetValidationSuggestions(result),
	})
}

func (s *Server) putSource(w http.ResponseWriter, r *http.Request) {
	src, err := readSource(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if src.ID == "" {
		src.ID = id
	}
	if src.ID != id {
		writeError(w, errors.New(errors.KindConfigValidation, "body id %q does not match %q", src.ID, id))
		return
	}
	if err := s.registry.Put(r.Context(), src); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) findPresets(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeError(w, errors.New(errors.KindConfigValidation, "domain query parameter is required"))
		return
	}
	found, err := s.presets.FindByDomain(r.Context(), domain)
	if err != nil {
		writeError(w, err)
		return
	}
	if found == nil {
		found = []*presets.Preset{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"presets": found, "total": len(found)})
}

func (s *Server) savePreset(w http.ResponseWriter, r *http.Request) {
	var p presets.Preset
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	if err := s.presets.Save(r.Context(), &p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(errors.KindConfigValidation, "invalid number %q", v)
	}
	return n, nil
}
