// Package broker publishes Hooks to NATS JetStream.
package broker

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/pkg/config"
)

// Publisher publishes messages on a JetStream stream
type Publisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the stream capturing
// <subject_prefix>.> exists
func Connect(ctx context.Context, cfg config.NATSConfig, logger *logrus.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("deeptracy-api"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"url":    cfg.URL,
		"stream": cfg.Stream,
	}).Info("NATS connected")

	return &Publisher{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject and waits for the stream ack
func (p *Publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Ping reports whether the connection is usable
func (p *Publisher) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected: %s", p.nc.Status())
	}
	return nil
}

// Close drains and shuts down the NATS connection
func (p *Publisher) Close() error {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
