package storage

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
)

// SourceStore keeps source definitions as YAML documents. It implements
// config.SourceStore so the registry can persist API edits.
type SourceStore struct {
	db *DB
}

// Sources returns the source store of d.
func (d *DB) Sources() *SourceStore {
	return &SourceStore{db: d}
}

func (s *SourceStore) SaveSource(ctx context.Context, src *config.Source) error {
	data, err := yaml.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source %s: %w", src.ID, err)
	}
	now := unixNano(time.Now())

	res, err := s.db.exec(ctx, s.db.db,
		`UPDATE import_sources SET definition = ?, updated_at = ? WHERE id = ?`, string(data), now, src.ID)
	if err != nil {
		return fmt.Errorf("failed to save source %s: %w", src.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.db.exec(ctx, s.db.db,
		`INSERT INTO import_sources (id, definition, updated_at) VALUES (?, ?, ?)`, src.ID, string(data), now); err != nil {
		return fmt.Errorf("failed to save source %s: %w", src.ID, err)
	}
	return nil
}

func (s *SourceStore) DeleteSource(ctx context.Context, id string) error {
	res, err := s.db.exec(ctx, s.db.db, `DELETE FROM import_sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete source %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.KindNotFound, "source %q not found", id)
	}
	return nil
}

// LoadSources decodes every stored source. Validation is left to the
// registry.
func (s *SourceStore) LoadSources(ctx context.Context) ([]*config.Source, error) {
	rows, err := s.db.db.QueryContext(ctx, `SELECT id, definition FROM import_sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	defer rows.Close()

	var out []*config.Source
	for rows.Next() {
		var id, def string
		if err := rows.Scan(&id, &def); err != nil {
			return nil, err
		}
		src := &config.Source{}
		if err := yaml.Unmarshal([]byte(def), src); err != nil {
			s.db.logger.Warnf("skipping stored source %s: %v", id, err)
			continue
		}
		if src.ID == "" {
			src.ID = id
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
