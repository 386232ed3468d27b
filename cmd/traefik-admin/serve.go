package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/api"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/export"
	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/scheduler"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and background jobs",
	Long: `Serve the Traefik HTTP provider endpoint, the forward-auth endpoint and
the auth API, and run the expiry sweep and config export on their schedules.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.sessions.Start(ctx); err != nil {
		return fmt.Errorf("starting session manager: %w", err)
	}

	defer func() {
		if err := a.sessions.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop session manager")
		}
	}()

	sweeper := scheduler.NewSweeper(log, a.store, a.sessions, a.metrics)
	jobs := []scheduler.Job{sweeper.Job(a.cfg.Scheduler.ServiceSweep)}

	exporter := export.NewExporter(log, a.generator,
		export.PublishersFromConfig(log, &a.cfg.Export)...)
	if exporter.Enabled() {
		jobs = append(jobs, exportJob(exporter, a.cfg.Scheduler.Export))
	}

	sched := scheduler.New(log, jobs...)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	defer func() {
		if err := sched.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop scheduler")
		}
	}()

	srv := api.NewServer(log, a.cfg, api.Dependencies{
		Store:     a.store,
		Sessions:  a.sessions,
		Gateway:   a.gateway,
		Generator: a.generator,
		Metrics:   a.metrics,
	})

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}

func exportJob(exporter *export.Exporter, spec string) scheduler.Job {
	return scheduler.Job{
		Name:       "export",
		Spec:       spec,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			_, err := exporter.Run(ctx)

			return err
		},
	}
}
