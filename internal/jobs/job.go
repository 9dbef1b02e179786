// Package jobs owns the lifecycle of import jobs: enqueueing, claiming,
// running, review and direct batch runs.
package jobs

import (
	"context"
	"time"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/scraper"
)

// Status is the persisted job status. The string values are a stable wire
// format.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusProcessing    Status = "processing"
	StatusSuccess       Status = "success"
	StatusFailed        Status = "failed"
	StatusDuplicate     Status = "duplicate"
	StatusSlugConflict  Status = "slug_conflict"
	StatusPendingReview Status = "pending_review"
)

// Statuses lists every status.
var Statuses = []Status{
	StatusQueued, StatusProcessing, StatusSuccess, StatusFailed,
	StatusDuplicate, StatusSlugConflict, StatusPendingReview,
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusDuplicate, StatusSlugConflict:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Job is one URL's way from enqueue to a terminal or review state.
type Job struct {
	ID           string               `json:"id"`
	SourceURL    string               `json:"source_url"`
	Kind         config.ContentKind   `json:"kind"`
	Status       Status               `json:"status"`
	SourceID     string               `json:"source_id,omitempty"`
	CategoryID   string               `json:"category_id,omitempty"`
	TargetStatus config.PublishStatus `json:"target_status,omitempty"`
	Record       *scraper.Record      `json:"record,omitempty"`
	Slug         string               `json:"slug,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	ErrorKind    string               `json:"error_kind,omitempty"`
	CatalogID    string               `json:"catalog_id,omitempty"`
	DuplicateOf  string               `json:"duplicate_of,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	ProcessedAt  *time.Time           `json:"processed_at,omitempty"`
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	if j.Record != nil {
		c.Record = j.Record.Clone()
	}
	if j.ProcessedAt != nil {
		t := *j.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// Filter selects jobs for List. Zero fields match everything.
type Filter struct {
	Status   Status
	Kind     config.ContentKind
	SourceID string
	Limit    int
	Offset   int
}

// Matches reports whether j passes the filter's predicates.
func (f Filter) Matches(j *Job) bool {
	return (f.Status == "" || j.Status == f.Status) &&
		(f.Kind == "" || j.Kind == f.Kind) &&
		(f.SourceID == "" || j.SourceID == f.SourceID)
}

// Repository persists jobs. UpdateIf is the only write to existing jobs and
// must be an atomic compare-and-set on the stored status.
type Repository interface {
	Create(ctx context.Context, jobs []*Job) error

	// Get returns a copy of the job or a KindNotFound error.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns jobs newest first.
	List(ctx context.Context, filter Filter) ([]*Job, error)

	// UpdateIf stores job only when the stored status equals from. It
	// reports whether the write happened.
	UpdateIf(ctx context.Context, job *Job, from Status) (bool, error)

	Delete(ctx context.Context, id string) error
}

// ClaimGuard is an optional cross-process lock taken around a job run.
type ClaimGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}
