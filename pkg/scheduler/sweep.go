package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/metrics"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/session"
	"github.com/sirupsen/logrus"
)

// ServiceDisabler disables services past their enable window.
type ServiceDisabler interface {
	DisableExpiredServices(ctx context.Context, now time.Time) ([]string, error)
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	DisabledServices []string
	PurgedSessions   int64
}

// Sweeper applies the expiry rules that keep the store consistent
// between config generations.
type Sweeper struct {
	log      logrus.FieldLogger
	services ServiceDisabler
	sessions session.Manager
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSweeper creates a sweeper. m may be nil.
func NewSweeper(
	log logrus.FieldLogger,
	services ServiceDisabler,
	sessions session.Manager,
	m *metrics.Metrics,
) *Sweeper {
	return &Sweeper{
		log:      log.WithField("component", "sweeper"),
		services: services,
		sessions: sessions,
		metrics:  m,
		now:      time.Now,
	}
}

// Sweep disables expired services and purges expired sessions.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()

	disabled, err := s.services.DisableExpiredServices(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("disabling expired services: %w", err)
	}

	s.metrics.ObserveDisabledServices(len(disabled))

	purged, err := s.sessions.Sweep(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("purging expired sessions: %w", err)
	}

	if len(disabled) > 0 || purged > 0 {
		s.log.WithFields(logrus.Fields{
			"disabled_services": len(disabled),
			"purged_sessions":   purged,
		}).Info("Sweep applied")
	}

	return &SweepResult{DisabledServices: disabled, PurgedSessions: purged}, nil
}

// Job wraps the sweeper for the scheduler.
func (s *Sweeper) Job(spec string) Job {
	return Job{
		Name:       "sweep",
		Spec:       spec,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			_, err := s.Sweep(ctx)

			return err
		},
	}
}
