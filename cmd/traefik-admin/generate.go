package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Janhouse/traefik-proxy-admin-sub000/pkg/traefik"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	generateFormat string
	generateOut    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render the Traefik dynamic configuration once",
	Long: `Render the dynamic configuration from the current database state and
write it to stdout or a file. Services whose enable window has elapsed are
disabled as a side effect, exactly as when Traefik polls the server.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&generateFormat, "format", traefik.FormatYAML,
		"output format (json, yaml)")
	generateCmd.Flags().StringVarP(&generateOut, "out", "o", "",
		"write to this file instead of stdout")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.generator.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generating config: %w", err)
	}

	for _, w := range result.Warnings {
		log.Warn(w.String())
	}

	body, _, err := traefik.Render(result.Config, generateFormat)
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	if generateOut == "" {
		_, err = os.Stdout.Write(body)

		return err
	}

	//nolint:gosec // Traefik's file provider runs as another user.
	if err := os.WriteFile(generateOut, body, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", generateOut, err)
	}

	log.WithFields(logrus.Fields{
		"path":     generateOut,
		"services": result.Services,
	}).Info("Config written")

	return nil
}
