// Package presets stores reusable selector configurations keyed by the
// domain they were written for, so operators can start a new source from a
// known-good set of selectors.
package presets

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// Preset is a named source definition for one domain.
type Preset struct {
	Domain    string         `json:"domain"`
	Name      string         `json:"name"`
	Source    *config.Source `json:"source"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Repository persists presets. Save replaces a preset with the same domain
// and name.
type Repository interface {
	Save(ctx context.Context, p *Preset) error
	FindByDomain(ctx context.Context, domain string) ([]*Preset, error)
}

// Normalize prepares p for storage: the domain is taken from the source's
// base URL when missing, lowercased and stripped of "www.", and the source
// is validated.
func Normalize(p *Preset) error {
	if p.Source == nil {
		return errors.New(errors.KindConfigValidation, "preset has no source")
	}
	if p.Domain == "" {
		host, err := utils.ExtractDomain(p.Source.BaseURL)
		if err != nil {
			return errors.Wrap(errors.KindConfigValidation, err, "preset domain cannot be derived")
		}
		p.Domain = host
	}
	p.Domain = NormalizeDomain(p.Domain)
	if p.Name == "" {
		p.Name = p.Source.ID
	}
	if p.Name == "" {
		return errors.New(errors.KindConfigValidation, "preset name is required")
	}
	config.ApplyDefaults(p.Source)
	if err := p.Source.Validate(); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// NormalizeDomain accepts a host or URL and returns the bare lowercase host.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if strings.Contains(d, "://") {
		if host, err := utils.ExtractDomain(d); err == nil {
			d = host
		}
	}
	d = strings.TrimSuffix(d, "/")
	return strings.TrimPrefix(d, "www.")
}

// MemoryRepository keeps presets in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	presets map[string]map[string]*Preset
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{presets: make(map[string]map[string]*Preset)}
}

func (r *MemoryRepository) Save(ctx context.Context, p *Preset) error {
	if err := Normalize(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byName, ok := r.presets[p.Domain]
	if !ok {
		byName = make(map[string]*Preset)
		r.presets[p.Domain] = byName
	}
	stored := *p
	byName[p.Name] = &stored
	return nil
}

// FindByDomain returns the presets of domain ordered by name.
func (r *MemoryRepository) FindByDomain(ctx context.Context, domain string) ([]*Preset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Preset
	for _, p := range r.presets[NormalizeDomain(domain)] {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
