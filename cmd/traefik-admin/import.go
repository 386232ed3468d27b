package main

import (
	"context"
	"fmt"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/fixture"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load domains, services and access policies from a YAML file",
	Long: `Import a YAML fixture into the database. Domains and basic-auth groups
that already exist are matched by name and reused; services are always
created. Basic-auth passwords are given in plaintext and stored hashed.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	f, err := fixture.Load(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := fixture.NewImporter(log, a.store).Apply(ctx, f)
	if err != nil {
		return fmt.Errorf("importing %s: %w", args[0], err)
	}

	fmt.Printf("domains:          %d\n", sum.Domains)
	fmt.Printf("basic auth:       %d (%d users)\n", sum.BasicAuthGroups, sum.Users)
	fmt.Printf("services:         %d\n", sum.Services)
	fmt.Printf("security configs: %d\n", sum.SecurityConfigs)

	return nil
}
