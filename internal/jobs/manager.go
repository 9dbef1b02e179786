package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/Importexter/internal/catalog"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/monitoring"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/utils"
)

// SourceLookup resolves sources by id or by URL.
type SourceLookup interface {
	Get(id string) (*config.Source, error)
	Match(rawURL string) (*config.Source, bool)
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Repository Repository
	Sources    SourceLookup
	Fetcher    scraper.Fetcher
	Extractor  *scraper.Extractor
	Catalog    catalog.Store

	// Guard is optional; without it only the repository claim applies
	Guard ClaimGuard

	// BatchDelay is the default pause between batch items
	BatchDelay time.Duration

	Metrics *monitoring.MetricsManager
	Logger  utils.Logger
}

// Manager drives jobs through their state machine.
type Manager struct {
	repo       Repository
	sources    SourceLookup
	fetcher    scraper.Fetcher
	extractor  *scraper.Extractor
	catalog    catalog.Store
	detector   *catalog.Detector
	guard      ClaimGuard
	batchDelay time.Duration
	metrics    *monitoring.MetricsManager
	logger     utils.Logger

	// approving holds ids with an approval in flight in this process
	approving sync.Map

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager validates cfg and creates a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Repository == nil || cfg.Sources == nil || cfg.Fetcher == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("jobs: repository, sources, fetcher and catalog are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NewComponentLogger("jobs")
	}
	if cfg.Extractor == nil {
		cfg.Extractor = scraper.NewExtractor(nil, cfg.Metrics, cfg.Logger)
	}
	return &Manager{
		repo:       cfg.Repository,
		sources:    cfg.Sources,
		fetcher:    cfg.Fetcher,
		extractor:  cfg.Extractor,
		catalog:    cfg.Catalog,
		detector:   catalog.NewDetector(cfg.Catalog),
		guard:      cfg.Guard,
		batchDelay: cfg.BatchDelay,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        time.Now,
		sleep:      sleepContext,
	}, nil
}

// EnqueueRequest asks for one URL to be imported.
type EnqueueRequest struct {
	URL string `json:"url"`

	// Kind defaults to the source's kind
	Kind config.ContentKind `json:"kind,omitempty"`

	// SourceID is optional; the source is then matched by domain
	SourceID     string               `json:"source_id,omitempty"`
	CategoryID   string               `json:"category_id,omitempty"`
	TargetStatus config.PublishStatus `json:"target_status,omitempty"`

	// ListingURL is the listing page the URL was discovered on; it selects
	// the source's category mapping
	ListingURL string `json:"listing_url,omitempty"`
}

// Enqueue validates every request and creates one queued job per request.
// Any invalid request rejects the whole call and nothing is created.
func (m *Manager) Enqueue(ctx context.Context, reqs []EnqueueRequest) ([]string, error) {
	if len(reqs) == 0 {
		return nil, errors.New(errors.KindConfigValidation, "no URLs to enqueue")
	}

	now := m.now()
	jobs := make([]*Job, 0, len(reqs))
	for i, req := range reqs {
		url := strings.TrimSpace(req.URL)
		if !utils.IsValidURL(url) {
			return nil, errors.New(errors.KindConfigValidation, "request %d: %q is not an absolute http(s) URL", i, req.URL)
		}
		src, err := m.resolveSource(req.SourceID, url)
		if err != nil {
			return nil, errors.Wrap(errors.KindConfigValidation, err, "request %d", i)
		}
		kind := req.Kind
		if kind == "" {
			kind = src.Kind
		}
		if kind != src.Kind {
			return nil, errors.New(errors.KindConfigValidation, "request %d: source %s extracts %s, not %s", i, src.ID, src.Kind, kind)
		}
		if req.TargetStatus != "" && !req.TargetStatus.Valid() {
			return nil, errors.New(errors.KindConfigValidation, "request %d: unknown status %q", i, req.TargetStatus)
		}

		categoryID, target := req.CategoryID, req.TargetStatus
		if listing := strings.TrimSpace(req.ListingURL); listing != "" {
			if mapping, ok := src.MappingFor(listing); ok {
				if categoryID == "" {
					categoryID = mapping.CategoryID
				}
				if target == "" {
					target = mapping.Status
				}
			}
		}
		if target == "" {
			target = config.StatusPendingReview
		}

		jobs = append(jobs, &Job{
			ID:           uuid.NewString(),
			SourceURL:    url,
			Kind:         kind,
			Status:       StatusQueued,
			SourceID:     src.ID,
			CategoryID:   categoryID,
			TargetStatus: target,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if err := m.repo.Create(ctx, jobs); err != nil {
		return nil, err
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	m.logger.Infof("enqueued %d job(s)", len(ids))
	return ids, nil
}

// Run claims a queued job and executes it. Extraction problems end the job
// in a terminal status and are not returned as errors; errors are returned
// only when the job cannot be claimed or stored.
func (m *Manager) Run(ctx context.Context, id string) (*Job, error) {
	if m.guard != nil {
		ok, err := m.guard.Acquire(ctx, "job:"+id)
		if err != nil {
			return nil, errors.Wrap(errors.KindInternal, err, "claim guard unavailable")
		}
		if !ok {
			return nil, errors.New(errors.KindInvalidState, "job %s is being processed elsewhere", id)
		}
		defer m.guard.Release(context.WithoutCancel(ctx), "job:"+id)
	}

	job, err := m.claim(ctx, id)
	if err != nil {
		return nil, err
	}
	start := m.now()

	result := m.execute(ctx, job)
	if err := m.finish(ctx, result); err != nil {
		return nil, err
	}
	m.metrics.RecordJob(string(result.Kind), string(result.Status), m.now().Sub(start))
	return result, nil
}

// claim moves a job from queued to processing with a compare-and-set.
func (m *Manager) claim(ctx context.Context, id string) (*Job, error) {
	job, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusQueued {
		return nil, errors.New(errors.KindInvalidState, "job %s is %s, not queued", id, job.Status)
	}

	job.Status = StatusProcessing
	job.UpdatedAt = m.now()
	ok, err := m.repo.UpdateIf(ctx, job, StatusQueued)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.KindInvalidState, "job %s was claimed by another worker", id)
	}
	return job, nil
}

// execute runs a processing job to pending_review or a terminal status.
// Jobs whose target status is draft or published are committed straight
// away; pending_review targets wait for approval. The queued path never
// produces slug_conflict: a colliding slug is left for the reviewer to
// change.
func (m *Manager) execute(ctx context.Context, job *Job) *Job {
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
	if verdict.Kind == catalog.Duplicate {
		job.DuplicateOf = verdict.DuplicateOf
		job.ErrorMessage = verdict.Err().Error()
		job.ErrorKind = string(errors.KindDuplicateContent)
		return m.terminate(job, StatusDuplicate)
	}
	if verdict.Kind == catalog.SlugConflict {
		m.logger.Infof("job %s: slug %q already used by %s, leaving it to review", job.ID, job.Slug, verdict.DuplicateOf)
		return m.park(job)
	}
	if needsReview(job.TargetStatus) {
		return m.park(job)
	}

	catalogID, err := commit(ctx, m.catalog, commitRequest{
		kind:       job.Kind,
		record:     rec,
		slug:       job.Slug,
		sourceURL:  job.SourceURL,
		categoryID: job.CategoryID,
		status:     job.TargetStatus,
	})
	if err != nil {
		return m.fail(job, err)
	}
	job.CatalogID = catalogID
	return m.terminate(job, StatusSuccess)
}

func (m *Manager) park(job *Job) *Job {
	job.Status = StatusPendingReview
	job.UpdatedAt = m.now()
	return job
}

// needsReview reports whether a target status holds the job for approval.
func needsReview(target config.PublishStatus) bool {
	return target == "" || target == config.StatusPendingReview
}

// fetchAndExtract validates the source, fetches url and extracts a record.
func (m *Manager) fetchAndExtract(ctx context.Context, src *config.Source, url string) (*scraper.Record, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	page, err := m.fetcher.Fetch(ctx, scraper.RequestFor(src, url))
	if err != nil {
		return nil, err
	}
	return m.extractor.Extract(ctx, page.BaseURL(), page.Body, src)
}

func (m *Manager) fail(job *Job, err error) *Job {
	job.ErrorMessage = err.Error()
	job.ErrorKind = string(errors.KindOf(err))
	m.logger.Warnf("job %s failed: %v", job.ID, err)
	return m.terminate(job, StatusFailed)
}

func (m *Manager) terminate(job *Job, status Status) *Job {
	now := m.now()
	job.Status = status
	job.UpdatedAt = now
	job.ProcessedAt = &now
	return job
}

// finish stores the outcome of a processing job. The write ignores
// cancellation of ctx: a job left in processing could never be run or
// deleted again.
func (m *Manager) finish(ctx context.Context, job *Job) error {
	if job.Status == StatusPendingReview && job.ProcessedAt == nil {
		now := m.now()
		job.ProcessedAt = &now
	}
	ok, err := m.repo.UpdateIf(context.WithoutCancel(ctx), job, StatusProcessing)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.KindInvalidState, "job %s changed while processing", job.ID)
	}
	return nil
}

// Get returns a job.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.repo.Get(ctx, id)
}

// List returns jobs matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]*Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, errors.New(errors.KindConfigValidation, "unknown status %q", filter.Status)
	}
	return m.repo.List(ctx, filter)
}

// Delete removes a job. Jobs are only ever deleted by operators.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == StatusProcessing {
		return errors.New(errors.KindInvalidState, "job %s is being processed", id)
	}
	return m.repo.Delete(ctx, id)
}

func (m *Manager) resolveSource(id, url string) (*config.Source, error) {
	if id != "" {
		return m.sources.Get(id)
	}
	if src, ok := m.sources.Match(url); ok {
		return src, nil
	}
	return nil, errors.New(errors.KindNotFound, "no source configured for %s", url)
}

func (m *Manager) sourceFor(job *Job) (*config.Source, error) {
	src, err := m.resolveSource(job.SourceID, job.SourceURL)
	if err != nil {
		return nil, err
	}
	if !src.Active {
		return nil, errors.New(errors.KindConfigValidation, "source %s is inactive", src.ID)
	}
	return src, nil
}

// slugFor derives the catalog slug from the record's title or name.
func slugFor(kind config.ContentKind, rec *scraper.Record) string {
	if kind == config.KindProduct {
		return utils.Slugify(rec.Get(scraper.FieldName))
	}
	return utils.Slugify(rec.Get(scraper.FieldTitle))
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
