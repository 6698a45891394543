// Package store defines persistence of projects and their scans.
package store

import (
	"context"
	"errors"

	"github.com/bbva/deeptracy-api/internal/models"
)

var (
	// ErrNotFound is returned when a project or scan does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRepo is returned when a project already tracks the repo
	ErrDuplicateRepo = errors.New("duplicate repo")
)

// SearchLimit caps the results of a project name search
const SearchLimit = 20

// ProjectStore persists projects
type ProjectStore interface {
	CreateProject(ctx context.Context, p *models.Project) (*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByRepo(ctx context.Context, repo string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]models.Project, error)
	SearchProjects(ctx context.Context, term string, limit int) ([]models.Project, error)
	CountProjects(ctx context.Context) (int, error)
	UpdateProject(ctx context.Context, id string, upd models.ProjectUpdate) (*models.Project, error)
	DeleteProject(ctx context.Context, id string) error
	DeleteAllProjects(ctx context.Context) error
}

// ScanStore persists scans. Scans belong to a project and are removed with it.
type ScanStore interface {
	CreateScan(ctx context.Context, s *models.Scan) (*models.Scan, error)
	ListScans(ctx context.Context, projectID string) ([]models.Scan, error)
}

// Store is the full persistence interface used by the API and the scan handler
type Store interface {
	ProjectStore
	ScanStore

	Ping(ctx context.Context) error
	Close()
}
