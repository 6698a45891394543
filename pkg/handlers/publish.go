package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
)

// Publisher sends a message to a subject
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// PublishHandler forwards Hooks as JSON messages
type PublishHandler struct {
	publisher Publisher
	subject   string
	logger    *logrus.Logger
}

// NewPublishHandler creates a handler publishing on subject
func NewPublishHandler(publisher Publisher, subject string, logger *logrus.Logger) *PublishHandler {
	return &PublishHandler{publisher: publisher, subject: subject, logger: logger}
}

func (h *PublishHandler) Name() string { return "publish" }

func (h *PublishHandler) Handle(ctx context.Context, hook *models.Hook) error {
	data, err := json.Marshal(hook)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode hook: %w", err))
	}

	if err := h.publisher.Publish(ctx, h.subject, data); err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"provider": hook.Provider,
		"subject":  h.subject,
		"branch":   hook.BranchName,
		"after":    hook.After,
	}).Debug("Hook published")
	return nil
}
