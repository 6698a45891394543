package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
)

// LogHandler only writes the Hook to the log
type LogHandler struct {
	logger *logrus.Logger
}

// NewLogHandler creates a log handler
func NewLogHandler(logger *logrus.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

func (h *LogHandler) Name() string { return "log" }

func (h *LogHandler) Handle(_ context.Context, hook *models.Hook) error {
	h.logger.WithFields(logrus.Fields{
		"provider":    hook.Provider,
		"repo_name":   hook.RepoName,
		"repo_url":    hook.RepoURL,
		"ref_name":    hook.RefName,
		"branch_name": hook.BranchName,
		"before":      hook.Before,
		"after":       hook.After,
	}).Info("Hook received")
	return nil
}
