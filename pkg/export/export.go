// Package export publishes the generated dynamic configuration to places
// Traefik's file provider or a sidecar can pick it up.
package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Publisher writes a document to one destination.
type Publisher interface {
	// Name identifies the destination in logs.
	Name() string
	Publish(ctx context.Context, cfg *traefik.Configuration) error
}

// Exporter generates the document and hands it to every publisher.
type Exporter struct {
	log        logrus.FieldLogger
	generator  traefik.Generator
	publishers []Publisher
}

// NewExporter creates an exporter over the given publishers.
func NewExporter(
	log logrus.FieldLogger,
	generator traefik.Generator,
	publishers ...Publisher,
) *Exporter {
	return &Exporter{
		log:        log.WithField("component", "exporter"),
		generator:  generator,
		publishers: publishers,
	}
}

// PublishersFromConfig builds the publishers enabled in cfg.
func PublishersFromConfig(
	log logrus.FieldLogger, cfg *config.ExportConfig,
) []Publisher {
	var publishers []Publisher

	if cfg.Local.Enabled {
		publishers = append(publishers, NewLocalPublisher(log, &cfg.Local))
	}

	if cfg.S3.Enabled {
		publishers = append(publishers, NewS3Publisher(log, &cfg.S3))
	}

	return publishers
}

// Enabled reports whether any destination is configured.
func (e *Exporter) Enabled() bool {
	return len(e.publishers) > 0
}

// Run generates one document and publishes it everywhere. Publishers run
// concurrently; the first failure is returned after all have finished.
func (e *Exporter) Run(ctx context.Context) (*traefik.Result, error) {
	result, err := e.generator.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generating config: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range e.publishers {
		g.Go(func() error {
			if err := p.Publish(gctx, result.Config); err != nil {
				return fmt.Errorf("publishing to %s: %w", p.Name(), err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"services":     result.Services,
		"warnings":     len(result.Warnings),
		"destinations": len(e.publishers),
	}).Info("Exported traefik config")

	return result, nil
}

// formatForPath picks the encoding from an explicit format or, failing
// that, the file extension.
func formatForPath(format, path string) string {
	if format != "" {
		return strings.ToLower(format)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return traefik.FormatYAML
	default:
		return traefik.FormatJSON
	}
}
