package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share SERVICE_ID",
	Short: "Mint a one-time shared link for a service",
	Long: `Create a one-time shared link for a service protected by a shared_link
policy and print one URL per hostname of the service. The link expires
after the policy's expiresInHours.`,
	Args: cobra.ExactArgs(1),
	RunE: runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)
}

func runShare(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	link, err := a.gateway.CreateSharedLink(ctx, args[0])
	if err != nil {
		return err
	}

	service, err := a.store.GetService(ctx, link.ServiceID)
	if err != nil {
		return err
	}

	domain, err := a.store.GetDomain(ctx, service.DomainID)
	if err != nil {
		return err
	}

	hosts, err := traefik.ResolveHostnames(service, domain)
	if err != nil {
		return err
	}

	fmt.Printf("token:   %s\n", link.Token)
	fmt.Printf("expires: %s\n", link.ExpiresAt.Local().Format("2006-01-02 15:04:05 MST"))

	query := url.Values{a.cfg.Auth.SharedLinkParam: {link.Token}}.Encode()
	for _, host := range hosts {
		u := url.URL{Scheme: "https", Host: host, Path: "/", RawQuery: query}
		fmt.Println(u.String())
	}

	return nil
}
