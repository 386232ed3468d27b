package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/gateway"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

// Dependencies are the components the HTTP layer serves. Their lifecycles
// are owned by the caller.
type Dependencies struct {
	Store     store.Store
	Sessions  session.Manager
	Gateway   *gateway.Gateway
	Generator traefik.Generator
	// Metrics may be nil, in which case /metrics is not mounted.
	Metrics *metrics.Metrics
}

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	sessions   session.Manager
	gateway    *gateway.Gateway
	generator  traefik.Generator
	metrics    *metrics.Metrics
	now        func() time.Time
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	deps Dependencies,
) Server {
	return newServer(log, cfg, deps)
}

func newServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	deps Dependencies,
) *server {
	return &server{
		log:       log.WithField("component", "api"),
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		gateway:   deps.Gateway,
		generator: deps.Generator,
		metrics:   deps.Metrics,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
