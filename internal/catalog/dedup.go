package catalog

import (
	"context"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// VerdictKind is the outcome of a dedup check.
type VerdictKind string

const (
	Unique       VerdictKind = "unique"
	Duplicate    VerdictKind = "duplicate"
	SlugConflict VerdictKind = "slug_conflict"
)

// Verdict reports whether an item may be created.
type Verdict struct {
	Kind VerdictKind `json:"kind"`

	// DuplicateOf is the existing item's id for Duplicate and SlugConflict
	DuplicateOf string `json:"duplicate_of,omitempty"`
}

// Detector checks candidates against the catalog.
type Detector struct {
	store Store
}

// NewDetector creates a detector over store.
func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// Check compares a candidate with existing items of the same kind. A
// matching normalized source URL makes it a duplicate; otherwise a matching
// slug makes it a slug conflict.
func (d *Detector) Check(ctx context.Context, kind config.ContentKind, sourceURL, slug string) (Verdict, error) {
	return d.CheckContent(ctx, kind, sourceURL, slug, "")
}

// CheckContent is Check with a content hash as a second duplicate key, so
// the same page published under two URLs is imported once.
func (d *Detector) CheckContent(ctx context.Context, kind config.ContentKind, sourceURL, slug, contentHash string) (Verdict, error) {
	normalized := ""
	if sourceURL != "" {
		normalized = utils.MustNormalizeURL(sourceURL)
	}

	existing, err := d.store.FindExisting(ctx, kind, Lookup{Slug: slug, SourceURL: normalized, ContentHash: contentHash})
	if err != nil {
		return Verdict{}, errors.Wrap(errors.KindCatalogWrite, err, "dedup lookup failed")
	}

	var conflict, sameContent *Existing
	for i := range existing {
		e := &existing[i]
		if e.Kind != "" && e.Kind != kind {
			continue
		}
		if normalized != "" && utils.MustNormalizeURL(e.SourceURL) == normalized {
			return Verdict{Kind: Duplicate, DuplicateOf: e.ID}, nil
		}
		if contentHash != "" && e.ContentHash == contentHash && sameContent == nil {
			sameContent = e
		}
		if slug != "" && e.Slug == slug && conflict == nil {
			conflict = e
		}
	}
	if sameContent != nil {
		return Verdict{Kind: Duplicate, DuplicateOf: sameContent.ID}, nil
	}
	if conflict != nil {
		return Verdict{Kind: SlugConflict, DuplicateOf: conflict.ID}, nil
	}
	return Verdict{Kind: Unique}, nil
}

// Err converts a non-unique verdict to its error kind.
func (v Verdict) Err() error {
	switch v.Kind {
	case Duplicate:
		return errors.New(errors.KindDuplicateContent, "content already imported as %s", v.DuplicateOf).
			WithContext("duplicate_of", v.DuplicateOf)
	case SlugConflict:
		return errors.New(errors.KindSlugConflict, "slug already used by %s", v.DuplicateOf).
			WithContext("duplicate_of", v.DuplicateOf)
	}
	return nil
}
