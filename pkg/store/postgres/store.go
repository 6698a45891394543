package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/store"
)

const uniqueViolation = "23505"

const projectColumns = `id, repo, name, hook_type, hook_data, created_at, updated_at`

// Store implements store.Store using PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// --- Projects ---

func (s *Store) CreateProject(ctx context.Context, p *models.Project) (*models.Project, error) {
	hookType := p.HookType
	if hookType == "" {
		hookType = models.HookTypeNone
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO project (id, repo, name, hook_type, hook_data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+projectColumns,
		uuid.NewString(), p.Repo, p.Name, string(hookType), nullJSON(p.HookData))

	created, err := scanProject(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("create project %s: %w", p.Repo, store.ErrDuplicateRepo)
		}
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &created, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, store.ErrNotFound)
	}

	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM project WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project %s", id)
	}
	return &p, nil
}

func (s *Store) GetProjectByRepo(ctx context.Context, repo string) (*models.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM project WHERE repo = $1`, repo)

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "get project by repo %s", repo)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM project ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return collectProjects(rows)
}

func (s *Store) SearchProjects(ctx context.Context, term string, limit int) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM project
		 WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'
		 ORDER BY created_at, id
		 LIMIT $2`, escapeLike(term), limit)
	if err != nil {
		return nil, fmt.Errorf("search projects: %w", err)
	}
	return collectProjects(rows)
}

func (s *Store) CountProjects(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM project`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

func (s *Store) UpdateProject(ctx context.Context, id string, upd models.ProjectUpdate) (*models.Project, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, store.ErrNotFound)
	}

	var hookType *string
	if upd.HookType != nil {
		v := string(*upd.HookType)
		hookType = &v
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE project SET
		   name = COALESCE($2, name),
		   hook_type = COALESCE($3, hook_type),
		   hook_data = COALESCE($4, hook_data),
		   updated_at = now()
		 WHERE id = $1
		 RETURNING `+projectColumns,
		id, upd.Name, hookType, nullJSON(upd.HookData))

	p, err := scanProject(row)
	if err != nil {
		return nil, notFoundWrap(err, "update project %s", id)
	}
	return &p, nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("delete project %s: %w", id, store.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM project WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete project %s", id)
}

func (s *Store) DeleteAllProjects(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM project`); err != nil {
		return fmt.Errorf("delete projects: %w", err)
	}
	return nil
}

// --- Scans ---

func (s *Store) CreateScan(ctx context.Context, scan *models.Scan) (*models.Scan, error) {
	if _, err := uuid.Parse(scan.ProjectID); err != nil {
		return nil, fmt.Errorf("create scan for project %s: %w", scan.ProjectID, store.ErrNotFound)
	}

	status := scan.Status
	if status == "" {
		status = models.ScanStatusPending
	}

	created := *scan
	created.Status = status
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scan (id, project_id, branch, before_ref, after_ref, source, status)
		 SELECT $1::uuid, id, $3::text, $4::text, $5::text, $6::text, $7::text FROM project WHERE id = $2
		 RETURNING id, created_at`,
		uuid.NewString(), scan.ProjectID, scan.Branch, scan.Before, scan.After, scan.Source, string(status),
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "create scan for project %s", scan.ProjectID)
	}
	return &created, nil
}

func (s *Store) ListScans(ctx context.Context, projectID string) ([]models.Scan, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, branch, before_ref, after_ref, source, status, created_at
		 FROM scan WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list scans of project %s: %w", projectID, err)
	}
	defer rows.Close()

	scans := []models.Scan{}
	for rows.Next() {
		var sc models.Scan
		var status string
		if err := rows.Scan(&sc.ID, &sc.ProjectID, &sc.Branch, &sc.Before, &sc.After, &sc.Source, &status, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		sc.Status = models.ScanStatus(status)
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

// --- Lifecycle ---

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}
