package jobs

import (
	"context"
	"strconv"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/scraper"
	"github.com/valpere/Importexter/internal/utils"
)

// Approval carries operator edits applied before a pending record is
// committed. Nil fields keep the extracted value.
type Approval struct {
	Title      *string              `json:"title,omitempty"`
	Excerpt    *string              `json:"excerpt,omitempty"`
	Price      *float64             `json:"price,omitempty"`
	Slug       *string              `json:"slug,omitempty"`
	CategoryID string               `json:"category_id,omitempty"`
	Status     config.PublishStatus `json:"status,omitempty"`
}

// Approve commits a pending_review job to the catalog and marks it success.
// Jobs in any other status are rejected with KindInvalidState, so a second
// approval of the same job fails. A catalog failure leaves the job in
// pending_review.
func (m *Manager) Approve(ctx context.Context, id string, a Approval) (*Job, error) {
	if a.Status != "" && !a.Status.Valid() {
		return nil, errors.New(errors.KindConfigValidation, "unknown status %q", a.Status)
	}
	if _, busy := m.approving.LoadOrStore(id, struct{}{}); busy {
		return nil, errors.New(errors.KindInvalidState, "job %s is already being approved", id)
	}
	defer m.approving.Delete(id)

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

	job, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusPendingReview {
		return nil, errors.New(errors.KindInvalidState, "job %s is %s, not pending_review", id, job.Status).
			WithContext("status", string(job.Status))
	}
	if job.Record == nil {
		return nil, errors.New(errors.KindInvalidState, "job %s has no extracted record", id)
	}

	rec := job.Record.Clone()
	slug := job.Slug
	applyEdits(job.Kind, rec, &slug, a)

	categoryID := job.CategoryID
	if a.CategoryID != "" {
		categoryID = a.CategoryID
	}

	catalogID, err := commit(ctx, m.catalog, commitRequest{
		kind:       job.Kind,
		record:     rec,
		slug:       slug,
		sourceURL:  job.SourceURL,
		categoryID: categoryID,
		status:     approvalStatus(a.Status, job.TargetStatus),
	})
	if err != nil {
		m.logger.Errorf("approve %s: %v", id, err)
		return nil, err
	}

	job.Record = rec
	job.Slug = slug
	job.CategoryID = categoryID
	job.CatalogID = catalogID
	job.ErrorMessage, job.ErrorKind = "", ""
	job.Status = StatusSuccess
	now := m.now()
	job.UpdatedAt = now
	job.ProcessedAt = &now

	ok, err := m.repo.UpdateIf(ctx, job, StatusPendingReview)
	if err != nil {
		return nil, err
	}
	if !ok {
		// the catalog item exists, the job must not be approved again
		m.logger.Errorf("job %s left pending_review during approval; catalog item %s already written", id, catalogID)
		return nil, errors.New(errors.KindInvalidState, "job %s changed during approval", id).
			WithContext("catalog_id", catalogID)
	}

	m.metrics.RecordJob(string(job.Kind), string(job.Status), 0)
	m.logger.Infof("approved job %s as %s %s", id, job.Kind, catalogID)
	return job, nil
}

// applyEdits writes operator edits into rec. An edited title or name
// regenerates the slug unless a slug is given explicitly.
func applyEdits(kind config.ContentKind, rec *scraper.Record, slug *string, a Approval) {
	if a.Title != nil {
		field := scraper.FieldTitle
		if kind == config.KindProduct {
			field = scraper.FieldName
		}
		rec.Set(field, *a.Title)
		*slug = utils.Slugify(*a.Title)
	}
	if a.Excerpt != nil {
		field := scraper.FieldExcerpt
		if kind == config.KindProduct {
			field = scraper.FieldShortDescription
		}
		rec.Set(field, *a.Excerpt)
	}
	if a.Price != nil && kind == config.KindProduct {
		rec.Set(scraper.FieldPrice, strconv.FormatFloat(*a.Price, 'f', -1, 64))
	}
	if a.Slug != nil && *a.Slug != "" {
		*slug = utils.Slugify(*a.Slug)
	}
}

// approvalStatus picks the catalog status of an approved item: the
// operator's choice, then the job's target, then published.
func approvalStatus(chosen, target config.PublishStatus) config.PublishStatus {
	if chosen != "" {
		return chosen
	}
	if target != "" && target != config.StatusPendingReview {
		return target
	}
	return config.StatusPublished
}
