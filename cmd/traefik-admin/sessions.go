package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var revokeService string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and revoke gateway sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE:  runSessionsList,
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired sessions",
	RunE:  runSessionsPurge,
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke [TOKEN]",
	Short: "Revoke one session, or every session of a service with --service",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionsRevoke,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsPurgeCmd, sessionsRevokeCmd)
	sessionsRevokeCmd.Flags().StringVar(&revokeService, "service", "",
		"revoke all sessions of this service ID")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	now := time.Now()

	sessions, err := a.sessions.List(ctx, now)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tSERVICE\tUSER\tEXPIRES\tLAST SEEN")

	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\tin %s\t%s ago\n",
			shortToken(s.Token),
			s.ServiceID,
			s.UserID,
			units.HumanDuration(s.ExpiresAt.Sub(now)),
			units.HumanDuration(now.Sub(s.LastAccessedAt)),
		)
	}

	return tw.Flush()
}

func runSessionsPurge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.sessions.Sweep(ctx, time.Now())
	if err != nil {
		return err
	}

	fmt.Printf("purged %d expired sessions\n", n)

	return nil
}

func runSessionsRevoke(cmd *cobra.Command, args []string) error {
	if (len(args) == 1) == (revokeService != "") {
		return errors.New("give either a session token or --service")
	}

	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if revokeService != "" {
		return a.sessions.DeleteForService(ctx, revokeService)
	}

	return a.sessions.Delete(ctx, args[0])
}

// shortToken truncates a token for display.
func shortToken(token string) string {
	if len(token) <= 12 {
		return token
	}

	return token[:12] + "…"
}
