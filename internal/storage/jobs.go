package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/Importexter/internal/config"
	"github.com/valpere/Importexter/internal/errors"
	"github.com/valpere/Importexter/internal/jobs"
	"github.com/valpere/Importexter/internal/scraper"
)

// JobRepository stores jobs in the import_jobs table.
type JobRepository struct {
	db *DB
}

// Jobs returns the job repository of d.
func (d *DB) Jobs() *JobRepository {
	return &JobRepository{db: d}
}

const jobColumns = `id, source_url, kind, status, source_id, category_id, target_status,
	record, slug, error_message, error_kind, catalog_id, duplicate_of,
	created_at, updated_at, processed_at`

func (r *JobRepository) Create(ctx context.Context, list []*jobs.Job) error {
	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO import_jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, j := range list {
		args, err := jobArgs(j)
		if err != nil {
			return err
		}
		if _, err := r.db.exec(ctx, tx, query, append([]interface{}{j.ID}, args...)...); err != nil {
			return fmt.Errorf("failed to insert job %s: %w", j.ID, err)
		}
	}
	return tx.Commit()
}

func (r *JobRepository) Get(ctx context.Context, id string) (*jobs.Job, error) {
	row := r.db.db.QueryRowContext(ctx, r.db.rebind(`SELECT `+jobColumns+` FROM import_jobs WHERE id = ?`), id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.KindNotFound, "job %s not found", id)
	}
	return j, err
}

func (r *JobRepository) List(ctx context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.SourceID != "" {
		where = append(where, "source_id = ?")
		args = append(args, filter.SourceID)
	}

	query := `SELECT ` + jobColumns + ` FROM import_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
		}
	}

	rows, err := r.db.db.QueryContext(ctx, r.db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*jobs.Job
	skip := 0
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		// OFFSET without LIMIT is not portable; skip rows instead
		if filter.Limit <= 0 && skip < filter.Offset {
			skip++
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateIf writes job only while its stored status is still from. The
// conditional UPDATE and its affected-row count make the claim atomic
// across processes.
func (r *JobRepository) UpdateIf(ctx context.Context, job *jobs.Job, from jobs.Status) (bool, error) {
	args, err := jobArgs(job)
	if err != nil {
		return false, err
	}
	query := `UPDATE import_jobs SET source_url = ?, kind = ?, status = ?, source_id = ?,
		category_id = ?, target_status = ?, record = ?, slug = ?, error_message = ?,
		error_kind = ?, catalog_id = ?, duplicate_of = ?, created_at = ?, updated_at = ?,
		processed_at = ? WHERE id = ? AND status = ?`
	res, err := r.db.exec(ctx, r.db.db, query, append(args, job.ID, string(from))...)
	if err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, job.ID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.exec(ctx, r.db.db, `DELETE FROM import_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.KindNotFound, "job %s not found", id)
	}
	return nil
}

// jobArgs returns every column after id, in jobColumns order.
func jobArgs(j *jobs.Job) ([]interface{}, error) {
	var record sql.NullString
	if j.Record != nil {
		data, err := json.Marshal(j.Record)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record of job %s: %w", j.ID, err)
		}
		record = sql.NullString{String: string(data), Valid: true}
	}
	var processed sql.NullInt64
	if j.ProcessedAt != nil {
		processed = sql.NullInt64{Int64: unixNano(*j.ProcessedAt), Valid: true}
	}
	return []interface{}{
		j.SourceURL, string(j.Kind), string(j.Status), j.SourceID, j.CategoryID,
		string(j.TargetStatus), record, j.Slug, j.ErrorMessage, j.ErrorKind,
		j.CatalogID, j.DuplicateOf, unixNano(j.CreatedAt), unixNano(j.UpdatedAt), processed,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		j                    jobs.Job
		kind, status, target string
		record, message      sql.NullString
		created, updated     int64
		processed            sql.NullInt64
	)
	err := row.Scan(&j.ID, &j.SourceURL, &kind, &status, &j.SourceID, &j.CategoryID, &target,
		&record, &j.Slug, &message, &j.ErrorKind, &j.CatalogID, &j.DuplicateOf,
		&created, &updated, &processed)
	if err != nil {
		return nil, err
	}
	j.Kind = config.ContentKind(kind)
	j.Status = jobs.Status(status)
	j.TargetStatus = config.PublishStatus(target)
	j.ErrorMessage = message.String
	j.CreatedAt = fromUnixNano(created)
	j.UpdatedAt = fromUnixNano(updated)
	if processed.Valid {
		t := fromUnixNano(processed.Int64)
		j.ProcessedAt = &t
	}
	if record.Valid && record.String != "" {
		j.Record = scraper.NewRecord()
		if err := json.Unmarshal([]byte(record.String), j.Record); err != nil {
			return nil, fmt.Errorf("failed to decode record of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}
