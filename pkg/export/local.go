package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/fsutil"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/sirupsen/logrus"
)

type localPublisher struct {
	log    logrus.FieldLogger
	path   string
	format string
	owner  *fsutil.Owner
}

// Compile-time interface check.
var _ Publisher = (*localPublisher)(nil)

// NewLocalPublisher writes the document to a file for Traefik's file
// provider.
func NewLocalPublisher(
	log logrus.FieldLogger, cfg *config.LocalExportConfig,
) Publisher {
	log = log.WithField("component", "local-export")

	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		log.WithError(err).Warn("Ignoring invalid file owner")
	}

	return &localPublisher{
		log:    log,
		path:   cfg.Path,
		format: formatForPath(cfg.Format, cfg.Path),
		owner:  owner,
	}
}

func (p *localPublisher) Name() string {
	return "file:" + p.path
}

// Publish replaces the file atomically. An unchanged document is not
// rewritten so the file watcher does not fire.
func (p *localPublisher) Publish(_ context.Context, cfg *traefik.Configuration) error {
	data, _, err := traefik.Render(cfg, p.format)
	if err != nil {
		return err
	}

	if existing, err := os.ReadFile(p.path); err == nil && bytes.Equal(existing, data) {
		p.log.WithField("path", p.path).Debug("Config unchanged, skipping write")

		return nil
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("setting file mode: %w", err)
	}

	if err := p.owner.Chown(tmp.Name()); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing %s: %w", p.path, err)
	}

	p.log.WithField("path", p.path).Info("Wrote traefik config")

	return nil
}
