package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/Importexter/internal/catalog"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// BatchConfig is shared by every item of a batch.
type BatchConfig struct {
	// SourceID selects the source; empty matches each URL by domain
	SourceID   string               `json:"source_id,omitempty"`
	CategoryID string               `json:"category_id,omitempty"`
	Status     config.PublishStatus `json:"status,omitempty"`

	// Delay between items; zero uses the manager default
	Delay time.Duration `json:"delay,omitempty"`
}

// Outcome is the result of one batch item.
type Outcome struct {
	Index     int           `json:"index"`
	URL       string        `json:"url"`
	JobID     string        `json:"job_id,omitempty"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Slug      string        `json:"slug,omitempty"`
	CatalogID string        `json:"catalog_id,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunBatch runs every URL and returns one outcome per URL in input order.
func (m *Manager) RunBatch(ctx context.Context, urls []string, cfg BatchConfig) ([]Outcome, error) {
	stream, err := m.Stream(ctx, urls, cfg)
	if err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, 0, len(urls))
	for o := range stream {
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// Stream runs a batch in the background and delivers outcomes in input
// order. Items run strictly one after another with a fixed delay between
// them and write straight to the catalog, bypassing review. A failing item
// never stops the batch. When ctx is canceled the remaining items are
// reported as failed, so the channel always yields len(urls) outcomes
// before it is closed.
//
// The configuration is validated up front; an invalid batch returns an
// error and makes no requests.
func (m *Manager) Stream(ctx context.Context, urls []string, cfg BatchConfig) (<-chan Outcome, error) {
	if len(urls) == 0 {
		return nil, errors.New(errors.KindConfigValidation, "batch has no URLs")
	}
	if cfg.Status != "" && !cfg.Status.Valid() {
		return nil, errors.New(errors.KindConfigValidation, "unknown status %q", cfg.Status)
	}
	if cfg.SourceID != "" {
		src, err := m.sources.Get(cfg.SourceID)
		if err != nil {
			return nil, err
		}
		if err := src.Validate(); err != nil {
			return nil, err
		}
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = m.batchDelay
	}

	out := make(chan Outcome, len(urls))
	go func() {
		defer close(out)
		start := m.now()
		for i, url := range urls {
			if i > 0 {
				if err := m.sleep(ctx, delay); err != nil {
					m.cancelRemaining(out, urls, i, err)
					break
				}
			}
			if err := ctx.Err(); err != nil {
				m.cancelRemaining(out, urls, i, err)
				break
			}
			o := m.runItem(ctx, i, strings.TrimSpace(url), cfg)
			m.metrics.RecordBatchItem(string(o.Status))
			out <- o
		}
		m.metrics.RecordBatch(m.now().Sub(start))
	}()
	return out, nil
}

// runItem processes one batch URL through a persisted job.
func (m *Manager) runItem(ctx context.Context, index int, url string, cfg BatchConfig) Outcome {
	start := m.now()
	o := Outcome{Index: index, URL: url}

	job, err := m.batchJob(ctx, url, cfg)
	if err != nil {
		o.Status = StatusFailed
		o.Error = err.Error()
		o.ErrorKind = string(errors.KindOf(err))
		o.Duration = m.now().Sub(start)
		return o
	}
	o.JobID = job.ID

	result := m.executeDirect(ctx, job, cfg)
	if err := m.finish(ctx, result); err != nil {
		m.logger.Errorf("batch item %d: storing job %s: %v", index, job.ID, err)
	}
	m.metrics.RecordJob(string(result.Kind), string(result.Status), m.now().Sub(start))

	o.Status = result.Status
	o.Error = result.ErrorMessage
	o.ErrorKind = result.ErrorKind
	o.Slug = result.Slug
	o.CatalogID = result.CatalogID
	o.Duration = m.now().Sub(start)
	return o
}

// batchJob creates an already claimed job for a batch item.
func (m *Manager) batchJob(ctx context.Context, url string, cfg BatchConfig) (*Job, error) {
	if !utils.IsValidURL(url) {
		return nil, errors.New(errors.KindConfigValidation, "%q is not an absolute http(s) URL", url)
	}
	src, err := m.resolveSource(cfg.SourceID, url)
	if err != nil {
		return nil, err
	}

	now := m.now()
	job := &Job{
		ID:           uuid.NewString(),
		SourceURL:    url,
		Kind:         src.Kind,
		Status:       StatusProcessing,
		SourceID:     src.ID,
		CategoryID:   cfg.CategoryID,
		TargetStatus: cfg.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.Create(ctx, []*Job{job}); err != nil {
		return nil, err
	}
	return job, nil
}

// executeDirect extracts a job and writes it to the catalog. Unlike the
// queued path, a colliding slug ends the job in slug_conflict.
func (m *Manager) executeDirect(ctx context.Context, job *Job, cfg BatchConfig) *Job {
	src, err := m.sourceFor(job)
	if err != nil {
		return m.fail(job, err)
	}
	rec, err := m.fetchAndExtract(ctx, src, job.SourceURL)
	if rec != nil {
		job.Record = rec
	}
	if err != nil {
		return m.fail(job, err)
	}
	job.Slug = slugFor(job.Kind, rec)

	verdict, err := m.detector.CheckContent(ctx, job.Kind, job.SourceURL, job.Slug, contentHash(job.Kind, rec))
	if err != nil {
		return m.fail(job, err)
	}
	switch verdict.Kind {
	case catalog.Duplicate:
		job.DuplicateOf = verdict.DuplicateOf
		job.ErrorMessage = verdict.Err().Error()
		job.ErrorKind = string(errors.KindDuplicateContent)
		return m.terminate(job, StatusDuplicate)
	case catalog.SlugConflict:
		job.DuplicateOf = verdict.DuplicateOf
		job.ErrorMessage = verdict.Err().Error()
		job.ErrorKind = string(errors.KindSlugConflict)
		return m.terminate(job, StatusSlugConflict)
	}

	status := cfg.Status
	if status == "" {
		status = config.StatusPublished
	}
	catalogID, err := commit(ctx, m.catalog, commitRequest{
		kind:       job.Kind,
		record:     rec,
		slug:       job.Slug,
		sourceURL:  job.SourceURL,
		categoryID: job.CategoryID,
		status:     status,
	})
	if err != nil {
		return m.fail(job, err)
	}
	job.CatalogID = catalogID
	return m.terminate(job, StatusSuccess)
}

// cancelRemaining reports items from index on as failed.
func (m *Manager) cancelRemaining(out chan<- Outcome, urls []string, from int, cause error) {
	err := errors.Wrap(errors.KindCanceled, cause, "batch canceled before this item ran")
	m.logger.Warnf("batch canceled with %d item(s) left", len(urls)-from)
	for i := from; i < len(urls); i++ {
		m.metrics.RecordBatchItem(string(StatusFailed))
		out <- Outcome{
			Index:     i,
			URL:       strings.TrimSpace(urls[i]),
			Status:    StatusFailed,
			Error:     err.Error(),
			ErrorKind: string(errors.KindCanceled),
		}
	}
}
