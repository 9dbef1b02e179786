package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/Importexter/internal/catalog"
	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/utils"
)

// CatalogStore is a catalog.Store over SQL. Items are stored as JSON
// documents next to the columns dedup queries need.
type CatalogStore struct {
	db *DB
}

// Catalog returns the catalog store of d.
func (d *DB) Catalog() *CatalogStore {
	return &CatalogStore{db: d}
}

func (s *CatalogStore) CreateArticle(ctx context.Context, a *catalog.Article) (string, error) {
	stored := *a
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(&stored)
	if err != nil {
		return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to encode article")
	}
	_, err = s.db.exec(ctx, s.db.db,
		`INSERT INTO catalog_articles (id, slug, source_key, content_hash, document, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Slug, utils.MustNormalizeURL(stored.SourceURL), stored.ContentHash, string(doc), unixNano(stored.CreatedAt))
	if err != nil {
		return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to create article %q", stored.Slug)
	}
	return stored.ID, nil
}

// CreateProduct writes the product and its variants in one transaction.
func (s *CatalogStore) CreateProduct(ctx context.Context, p *catalog.Product) (string, error) {
	stored := *p
	stored.ID = uuid.NewString()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(&stored)
	if err != nil {
		return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to encode product")
	}

	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = s.db.exec(ctx, tx,
		`INSERT INTO catalog_products (id, slug, source_key, content_hash, price, document, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Slug, utils.MustNormalizeURL(stored.SourceURL), stored.ContentHash, stored.Price, string(doc), unixNano(stored.CreatedAt))
	if err != nil {
		return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to create product %q", stored.Slug)
	}
	for i, v := range stored.Variants {
		_, err := s.db.exec(ctx, tx,
			`INSERT INTO catalog_product_variants (product_id, position, name, sku, price) VALUES (?, ?, ?, ?, ?)`,
			stored.ID, i, v.Name, v.SKU, v.Price)
		if err != nil {
			return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to create variant %q", v.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrap(errors.KindCatalogWrite, err, "failed to commit product %q", stored.Slug)
	}
	return stored.ID, nil
}

func (s *CatalogStore) FindExisting(ctx context.Context, kind config.ContentKind, q catalog.Lookup) ([]catalog.Existing, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	key := ""
	if q.SourceURL != "" {
		key = utils.MustNormalizeURL(q.SourceURL)
	}

	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(
		`SELECT id, slug, source_key, content_hash FROM `+table+` WHERE (slug = ? AND slug <> '')
			OR (source_key = ? AND source_key <> '')
			OR (content_hash = ? AND content_hash <> '')`),
		q.Slug, key, q.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []catalog.Existing
	for rows.Next() {
		e := catalog.Existing{Kind: kind}
		if err := rows.Scan(&e.ID, &e.Slug, &e.SourceURL, &e.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *CatalogStore) Categories(ctx context.Context, kind config.ContentKind) ([]*catalog.Category, error) {
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(
		`SELECT id, name, slug, parent_id FROM catalog_categories WHERE kind = ? ORDER BY position, id`), string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var flat []*catalog.Category
	for rows.Next() {
		c := &catalog.Category{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.ParentID); err != nil {
			return nil, err
		}
		flat = append(flat, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return catalog.BuildTree(flat), nil
}

// SetCategories replaces the categories of kind with the given forest.
func (s *CatalogStore) SetCategories(ctx context.Context, kind config.ContentKind, roots []*catalog.Category) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.db.exec(ctx, tx, `DELETE FROM catalog_categories WHERE kind = ?`, string(kind)); err != nil {
		return fmt.Errorf("failed to clear categories: %w", err)
	}
	position := 0
	var insertErr error
	catalog.WalkCategories(roots, func(c *catalog.Category, depth int, path []string) bool {
		if insertErr != nil {
			return false
		}
		slug := c.Slug
		if slug == "" {
			slug = utils.Slugify(c.Name)
		}
		_, insertErr = s.db.exec(ctx, tx,
			`INSERT INTO catalog_categories (id, kind, name, slug, parent_id, position) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, string(kind), c.Name, slug, parentOf(c, roots), position)
		position++
		return true
	})
	if insertErr != nil {
		return fmt.Errorf("failed to insert category: %w", insertErr)
	}
	return tx.Commit()
}

// Article loads a stored article.
func (s *CatalogStore) Article(ctx context.Context, id string) (*catalog.Article, error) {
	var a catalog.Article
	if err := s.document(ctx, "catalog_articles", id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Product loads a stored product.
func (s *CatalogStore) Product(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	if err := s.document(ctx, "catalog_products", id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *CatalogStore) document(ctx context.Context, table, id string, v interface{}) error {
	var doc string
	err := s.db.db.QueryRowContext(ctx, s.db.rebind(`SELECT document FROM `+table+` WHERE id = ?`), id).Scan(&doc)
	if err != nil {
		return errors.Wrap(errors.KindNotFound, err, "%s %s not found", table, id)
	}
	return json.Unmarshal([]byte(doc), v)
}

func tableFor(kind config.ContentKind) (string, error) {
	switch kind {
	case config.KindArticle:
		return "catalog_articles", nil
	case config.KindProduct:
		return "catalog_products", nil
	}
	return "", errors.New(errors.KindConfigValidation, "unknown content kind %q", kind)
}

// parentOf finds the parent id of c by position in the forest; explicit
// ParentID values win.
func parentOf(c *catalog.Category, roots []*catalog.Category) string {
	if c.ParentID != "" {
		return c.ParentID
	}
	var parent string
	catalog.WalkCategories(roots, func(n *catalog.Category, _ int, _ []string) bool {
		for _, child := range n.Children {
			if child == c {
				parent = n.ID
				return false
			}
		}
		return parent == ""
	})
	return parent
}
