// Package memory is an in-process store.Store for tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/store"
)

// Store keeps projects and scans in maps guarded by a mutex
type Store struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
	scans    map[string][]models.Scan
	now      func() time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		projects: make(map[string]*models.Project),
		scans:    make(map[string][]models.Scan),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) CreateProject(_ context.Context, p *models.Project) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.projects {
		if existing.Repo == p.Repo {
			return nil, fmt.Errorf("create project %s: %w", p.Repo, store.ErrDuplicateRepo)
		}
	}

	created := *p
	created.ID = uuid.NewString()
	if created.HookType == "" {
		created.HookType = models.HookTypeNone
	}
	created.HookData = cloneRaw(p.HookData)
	created.CreatedAt = s.now()
	created.UpdatedAt = created.CreatedAt

	s.projects[created.ID] = &created
	out := created
	return &out, nil
}

func (s *Store) GetProject(_ context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("get project %s: %w", id, store.ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (s *Store) GetProjectByRepo(_ context.Context, repo string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.projects {
		if p.Repo == repo {
			out := *p
			return &out, nil
		}
	}
	return nil, fmt.Errorf("get project by repo %s: %w", repo, store.ErrNotFound)
}

func (s *Store) ListProjects(_ context.Context) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(*models.Project) bool { return true }, 0), nil
}

func (s *Store) SearchProjects(_ context.Context, term string, limit int) ([]models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term = strings.ToLower(term)
	return s.sorted(func(p *models.Project) bool {
		return strings.Contains(strings.ToLower(p.Name), term)
	}, limit), nil
}

func (s *Store) CountProjects(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects), nil
}

func (s *Store) UpdateProject(_ context.Context, id string, upd models.ProjectUpdate) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("update project %s: %w", id, store.ErrNotFound)
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.HookType != nil {
		p.HookType = *upd.HookType
	}
	if upd.HookData != nil {
		p.HookData = cloneRaw(upd.HookData)
	}
	p.UpdatedAt = s.now()

	out := *p
	return &out, nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("delete project %s: %w", id, store.ErrNotFound)
	}
	delete(s.projects, id)
	delete(s.scans, id)
	return nil
}

func (s *Store) DeleteAllProjects(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = make(map[string]*models.Project)
	s.scans = make(map[string][]models.Scan)
	return nil
}

func (s *Store) CreateScan(_ context.Context, scan *models.Scan) (*models.Scan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[scan.ProjectID]; !ok {
		return nil, fmt.Errorf("create scan for project %s: %w", scan.ProjectID, store.ErrNotFound)
	}

	created := *scan
	created.ID = uuid.NewString()
	if created.Status == "" {
		created.Status = models.ScanStatusPending
	}
	created.CreatedAt = s.now()

	s.scans[created.ProjectID] = append(s.scans[created.ProjectID], created)
	return &created, nil
}

func (s *Store) ListScans(_ context.Context, projectID string) ([]models.Scan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.projects[projectID]; !ok {
		return nil, fmt.Errorf("list scans of project %s: %w", projectID, store.ErrNotFound)
	}
	scans := make([]models.Scan, len(s.scans[projectID]))
	copy(scans, s.scans[projectID])
	return scans, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

// sorted returns matching projects oldest first. A limit <= 0 returns all.
// Callers must hold the lock.
func (s *Store) sorted(match func(*models.Project) bool, limit int) []models.Project {
	projects := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if match(p) {
			projects = append(projects, *p)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID < projects[j].ID
		}
		return projects[i].CreatedAt.Before(projects[j].CreatedAt)
	})
	if limit > 0 && len(projects) > limit {
		projects = projects[:limit]
	}
	return projects
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
