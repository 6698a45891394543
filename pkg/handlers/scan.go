package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/store"
)

// ScanRecorder is the part of the store the scan handler needs
type ScanRecorder interface {
	GetProjectByRepo(ctx context.Context, repo string) (*models.Project, error)
	CreateScan(ctx context.Context, s *models.Scan) (*models.Scan, error)
}

// ScanHandler records a pending scan for the project tracking the pushed repo
type ScanHandler struct {
	store  ScanRecorder
	logger *logrus.Logger
}

// NewScanHandler creates a scan handler
func NewScanHandler(s ScanRecorder, logger *logrus.Logger) *ScanHandler {
	return &ScanHandler{store: s, logger: logger}
}

func (h *ScanHandler) Name() string { return "scan" }

// Handle creates the scan. A push to a repository no project tracks is
// ignored.
func (h *ScanHandler) Handle(ctx context.Context, hook *models.Hook) error {
	fields := logrus.Fields{
		"provider": hook.Provider,
		"repo_url": hook.RepoURL,
		"branch":   hook.BranchName,
	}

	project, err := h.store.GetProjectByRepo(ctx, hook.RepoURL)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.WithFields(fields).Info("No project tracks repository, skipping scan")
		return nil
	}
	if err != nil {
		return fmt.Errorf("find project for %s: %w", hook.RepoURL, err)
	}

	scan, err := h.store.CreateScan(ctx, models.ScanFromHook(project.ID, hook))
	if err != nil {
		return fmt.Errorf("create scan for project %s: %w", project.ID, err)
	}

	fields["project_id"] = project.ID
	fields["scan_id"] = scan.ID
	fields["after"] = hook.After
	h.logger.WithFields(fields).Info("Scan requested")
	return nil
}
