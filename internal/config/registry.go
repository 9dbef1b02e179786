// internal/config/registry.go
package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// SourceStore persists sources outside the YAML directory.
type SourceStore interface {
	SaveSource(ctx context.Context, src *Source) error
	DeleteSource(ctx context.Context, id string) error
	LoadSources(ctx context.Context) ([]*Source, error)
}

// Registry holds the known sources. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	files   map[string]string // file path -> source id
	store   SourceStore
	logger  utils.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSourceStore persists Put and Remove through store.
func WithSourceStore(store SourceStore) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l utils.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sources: make(map[string]*Source),
		files:   make(map[string]string),
		logger:  utils.NewComponentLogger("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (*Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "source %q not found", id)
	}
	return src, nil
}

// List returns every source sorted by id.
func (r *Registry) List() []*Source {
	r.mu.RLock()
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Match returns the active source whose base URL host matches rawURL.
func (r *Registry) Match(rawURL string) (*Source, bool) {
	host, err := utils.ExtractDomain(rawURL)
	if err != nil {
		return nil, false
	}
	for _, s := range r.List() {
		if !s.Active {
			continue
		}
		if h, err := utils.ExtractDomain(s.BaseURL); err == nil && h == host {
			return s, true
		}
	}
	return nil, false
}

// Put validates and stores a source, replacing any with the same id.
func (r *Registry) Put(ctx context.Context, src *Source) error {
	ApplyDefaults(src)
	if err := src.Validate(); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.SaveSource(ctx, src); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.sources[src.ID] = src
	r.mu.Unlock()
	r.logWarnings(src)
	return nil
}

// Remove deletes a source.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.sources[id]
	delete(r.sources, id)
	r.mu.Unlock()
	if !ok {
		return errors.New(errors.KindNotFound, "source %q not found", id)
	}
	if r.store != nil {
		return r.store.DeleteSource(ctx, id)
	}
	return nil
}

// LoadStore adds every valid source from the attached store.
func (r *Registry) LoadStore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	sources, err := r.store.LoadSources(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sources {
		ApplyDefaults(s)
		if err := s.Validate(); err != nil {
			r.logger.Warnf("skipping stored source %q: %v", s.ID, err)
			continue
		}
		r.sources[s.ID] = s
		loaded++
	}
	return loaded, nil
}

// LoadDir loads every *.yaml and *.yml file in dir. Invalid files are logged
// and skipped; their errors are returned alongside the count of loaded sources.
func (r *Registry) LoadDir(dir string) (int, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, []error{err}
	}

	var errs []error
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !isSourceFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := r.loadFile(path); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded++
	}
	return loaded, errs
}

func (r *Registry) loadFile(path string) error {
	src, err := LoadFromFile(path)
	if err != nil {
		r.logger.Warnf("skipping source file %s: %v", path, err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if oldID, ok := r.files[path]; ok && oldID != src.ID {
		delete(r.sources, oldID)
	}
	r.sources[src.ID] = src
	r.files[path] = src.ID
	r.logger.Debugf("loaded source %q from %s", src.ID, path)
	r.logWarnings(src)
	return nil
}

func (r *Registry) logWarnings(src *Source) {
	for _, w := range src.Warnings() {
		r.logger.Warnf("source %q: %v", src.ID, w)
	}
}

func (r *Registry) forgetFile(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.files[path]; ok {
		delete(r.sources, id)
		delete(r.files, path)
		r.logger.Infof("source %q removed with %s", id, path)
	}
}

func isSourceFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(name, ".")
}
