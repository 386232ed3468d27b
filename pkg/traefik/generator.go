package traefik

import (
	"context"
	"fmt"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Source is the subset of the store the generator reads from.
type Source interface {
	ListEnabledServices(ctx context.Context) ([]store.Service, error)
	ListDomains(ctx context.Context) ([]store.Domain, error)
	ListEnabledSecurityConfigs(ctx context.Context) ([]store.SecurityConfig, error)
	ListAllBasicAuthUsers(ctx context.Context) ([]store.BasicAuthUser, error)
	DisableExpiredServices(ctx context.Context, now time.Time) ([]string, error)
}

// Result is one generated document.
type Result struct {
	Config      *Configuration
	Warnings    []Warning
	Services    int
	GeneratedAt time.Time
}

// Generator produces the dynamic configuration from the current store
// state.
type Generator interface {
	Generate(ctx context.Context) (*Result, error)
}

// Compile-time interface check.
var _ Generator = (*generator)(nil)

type generator struct {
	log     logrus.FieldLogger
	source  Source
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group
}

// NewGenerator creates a generator. m may be nil.
func NewGenerator(
	log logrus.FieldLogger,
	source Source,
	opts Options,
	m *metrics.Metrics,
) Generator {
	return &generator{
		log:     log.WithField("component", "traefik-generator"),
		source:  source,
		opts:    opts,
		metrics: m,
		now:     time.Now,
	}
}

// generateTimeout bounds a shared generation run, which is detached from
// the cancellation of whichever caller started it.
const generateTimeout = 30 * time.Second

// Generate disables services whose enable window has elapsed, then builds
// the document. Concurrent callers share a single in-flight run; a caller
// that gives up does not cancel it for the others.
func (g *generator) Generate(ctx context.Context) (*Result, error) {
	ch := g.group.DoChan("generate", func() (any, error) {
		runCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), generateTimeout,
		)
		defer cancel()

		return g.generate(runCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *generator) generate(ctx context.Context) (*Result, error) {
	start := g.now()

	disabled, err := g.source.DisableExpiredServices(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("disabling expired services: %w", err)
	}

	g.metrics.ObserveDisabledServices(len(disabled))

	in, err := g.load(ctx)
	if err != nil {
		return nil, err
	}

	cfg, warnings := Build(in, g.opts)

	for _, w := range warnings {
		g.log.WithFields(logrus.Fields{
			"service_id": w.ServiceID,
			"domain_id":  w.DomainID,
		}).Warn(w.Message)
	}

	g.metrics.ObserveGeneration(g.now().Sub(start), len(warnings))

	g.log.WithFields(logrus.Fields{
		"routers":  len(cfg.HTTP.Routers),
		"services": len(in.Services),
		"skipped":  len(warnings),
	}).Debug("Generated dynamic configuration")

	return &Result{
		Config:      cfg,
		Warnings:    warnings,
		Services:    len(in.Services),
		GeneratedAt: start.UTC(),
	}, nil
}

// load reads the snapshot with the four queries running in parallel.
func (g *generator) load(ctx context.Context) (*Input, error) {
	var in Input

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		services, err := g.source.ListEnabledServices(egCtx)
		in.Services = services

		return err
	})
	eg.Go(func() error {
		domains, err := g.source.ListDomains(egCtx)
		in.Domains = domains

		return err
	})
	eg.Go(func() error {
		cfgs, err := g.source.ListEnabledSecurityConfigs(egCtx)
		in.SecurityConfigs = cfgs

		return err
	})
	eg.Go(func() error {
		users, err := g.source.ListAllBasicAuthUsers(egCtx)
		in.BasicAuthUsers = users

		return err
	})

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("loading configuration snapshot: %w", err)
	}

	return &in, nil
}
