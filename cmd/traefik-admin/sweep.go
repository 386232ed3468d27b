package main

import (
	"context"
	"fmt"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/scheduler"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Disable expired services and purge expired sessions once",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := scheduler.NewSweeper(log, a.store, a.sessions, a.metrics).
		Sweep(ctx)
	if err != nil {
		return err
	}

	for _, id := range result.DisabledServices {
		fmt.Printf("disabled service %s\n", id)
	}

	fmt.Printf("purged %d expired sessions\n", result.PurgedSessions)

	return nil
}
