package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ytget/clipqueue/internal/model"
	"github.com/ytget/clipqueue/internal/platform"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	platform      TEXT NOT NULL,
	media         TEXT NOT NULL,
	origin        TEXT NOT NULL,
	handle        TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	link          TEXT NOT NULL,
	link_key      TEXT NOT NULL,
	output_format TEXT NOT NULL,
	status        TEXT NOT NULL,
	path          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_link_key_idx ON jobs (link_key);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
`

const jobColumns = `id, platform, media, origin, handle, name, link, output_format, status, path, created_at, completed_at`

type jobRow struct {
	ID           string     `db:"id"`
	Platform     string     `db:"platform"`
	Media        string     `db:"media"`
	Origin       string     `db:"origin"`
	Handle       string     `db:"handle"`
	Name         string     `db:"name"`
	Link         string     `db:"link"`
	OutputFormat string     `db:"output_format"`
	Status       string     `db:"status"`
	Path         string     `db:"path"`
	CreatedAt    time.Time  `db:"created_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

func (r jobRow) toJob() *model.Job {
	job := &model.Job{
		ID:           r.ID,
		Platform:     model.ParsePlatform(r.Platform),
		Media:        model.ParseMediaKind(r.Media),
		Origin:       model.ParseOrigin(r.Origin),
		Handle:       r.Handle,
		Name:         r.Name,
		Link:         r.Link,
		OutputFormat: model.ParseOutputFormat(r.OutputFormat),
		Status:       model.ParseStatus(r.Status),
		Path:         r.Path,
		CreatedAt:    r.CreatedAt,
	}
	if r.CompletedAt != nil {
		job.CompletedAt = *r.CompletedAt
	}
	return job
}

// PostgresStore keeps jobs in a single table
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres connects to the database and ensures the schema exists
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the jobs table when missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createJobsTable); err != nil {
		return fmt.Errorf("migrate jobs table: %w", err)
	}
	return nil
}

// Create implements Store
func (s *PostgresStore) Create(ctx context.Context, job *model.Job) (string, error) {
	c := cloneJob(job)
	prepareJob(c, s.now())

	var completed *time.Time
	if !c.CompletedAt.IsZero() {
		completed = &c.CompletedAt
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, platform, media, origin, handle, name, link, link_key, output_format, status, path, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, c.ID, string(c.Platform), string(c.Media), string(c.Origin), c.Handle, c.Name, c.Link,
		platform.NormalizeLink(c.Link), string(c.OutputFormat), c.Status.Token(), c.Path, c.CreatedAt.UTC(), completed)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return c.ID, nil
}

// Find implements Store
func (s *PostgresStore) Find(ctx context.Context, id string) (*model.Job, error) {
	return s.queryOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

// FindByLink implements Store
func (s *PostgresStore) FindByLink(ctx context.Context, link string) (*model.Job, error) {
	return s.queryOne(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE link_key = $1 ORDER BY created_at, id LIMIT 1`,
		platform.NormalizeLink(link))
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, arg string) (*model.Job, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query job: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[jobRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, arg)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return row.toJob(), nil
}

// SetStatus implements Store
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status model.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1 AND status <> $2`, id, status.Token())
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if err := s.exists(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// MarkDone implements Store
func (s *PostgresStore) MarkDone(ctx context.Context, id, path string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, path = $3, completed_at = $4 WHERE id = $1`,
		id, model.StatusDone.Token(), path, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

// List implements Store
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*model.Job, error) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)
	next := func() int { return len(args) + 1 }
	if filter.Platform != "" {
		conditions = append(conditions, fmt.Sprintf("platform = $%d", next()))
		args = append(args, string(filter.Platform))
	}
	if filter.Origin != "" {
		conditions = append(conditions, fmt.Sprintf("origin = $%d", next()))
		args = append(args, string(filter.Origin))
	}
	if filter.Handle != "" {
		conditions = append(conditions, fmt.Sprintf("lower(handle) = lower($%d)", next()))
		args = append(args, filter.Handle)
	}
	if filter.Link != "" {
		conditions = append(conditions, fmt.Sprintf("link_key = $%d", next()))
		args = append(args, platform.NormalizeLink(filter.Link))
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", next()))
		args = append(args, filter.Status.Token())
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[jobRow])
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]*model.Job, len(found))
	for i := range found {
		out[i] = found[i].toJob()
	}
	return out, nil
}

// Delete implements Store
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

// ResetStale implements Store
func (s *PostgresStore) ResetStale(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE jobs SET status = $1 WHERE status = $2`,
		model.StatusQueued.Token(), model.StatusDownloading.Token())
	if err != nil {
		return 0, fmt.Errorf("reset stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) exists(ctx context.Context, id string) error {
	var found bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&found); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}
