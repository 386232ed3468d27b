package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/config"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/gateway"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/sso"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
)

// app holds the components every command is assembled from.
type app struct {
	cfg       *config.Config
	store     store.Store
	metrics   *metrics.Metrics
	sessions  session.Manager
	gateway   *gateway.Gateway
	generator traefik.Generator
}

// newApp loads the config, opens the database and wires the components.
// The session manager is created but not started.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting store: %w", err)
	}

	m := metrics.New()
	sessions := session.NewManager(log, st, cfg.Auth.SessionCleanupInterval, m)

	// A nil *sso.Client must not become a non-nil Provider.
	var provider sso.Provider
	if cfg.SSO.Enabled {
		provider = sso.NewClient(log, &cfg.SSO)
	}

	publicURL := strings.TrimSuffix(cfg.Server.PublicURL, "/")

	successURL := cfg.SSO.SuccessURL
	if successURL == "" {
		successURL = publicURL + "/"
	}

	var loginURL string
	if cfg.SSO.Enabled {
		loginURL = publicURL + "/api/v1/auth/sso/login"
	}

	gw := gateway.New(log, st, sessions, provider, m, gateway.Options{
		SharedLinkParam: cfg.Auth.SharedLinkParam,
		LoginURL:        loginURL,
		SuccessURL:      successURL,
	})

	gen := traefik.NewGenerator(log, st, generatorOptions(cfg), m)

	return &app{
		cfg:       cfg,
		store:     st,
		metrics:   m,
		sessions:  sessions,
		gateway:   gw,
		generator: gen,
	}, nil
}

// generatorOptions derives the document options from cfg. The placeholder
// upstream is the bare public URL; the replacePath middleware supplies
// the page path.
func generatorOptions(cfg *config.Config) traefik.Options {
	return traefik.Options{
		VerifyURL:         cfg.VerifyURL(),
		PlaceholderURL:    strings.TrimSuffix(cfg.Server.PublicURL, "/"),
		DefaultEntryPoint: cfg.Traefik.DefaultEntryPoint,
		GlobalMiddlewares: cfg.Traefik.GlobalMiddlewares,
		CookieName:        cfg.Auth.CookieName,
	}
}

func (a *app) close() {
	if err := a.store.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close store")
	}
}
