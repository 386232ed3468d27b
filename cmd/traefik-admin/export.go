package main

import (
	"context"
	"errors"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/export"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Publish the dynamic configuration to the configured destinations",
	Long: `Generate the dynamic configuration once and publish it to every enabled
destination in the export section (a local file for Traefik's file
provider, an S3 bucket, or both).`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	exporter := export.NewExporter(log, a.generator,
		export.PublishersFromConfig(log, &a.cfg.Export)...)
	if !exporter.Enabled() {
		return errors.New("no export destinations enabled (export.local or export.s3)")
	}

	_, err = exporter.Run(ctx)

	return err
}
