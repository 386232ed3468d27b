package traefik

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render serialises cfg in the given format and returns the body with its
// content type.
func Render(cfg *Configuration, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encoding json: %w", err)
		}

		return append(data, '\n'), "application/json", nil
	case FormatYAML, "yml":
		var buf bytes.Buffer

		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)

		if err := enc.Encode(cfg); err != nil {
			return nil, "", fmt.Errorf("encoding yaml: %w", err)
		}

		if err := enc.Close(); err != nil {
			return nil, "", fmt.Errorf("encoding yaml: %w", err)
		}

		return buf.Bytes(), "application/yaml", nil
	default:
		return nil, "", fmt.Errorf("unsupported format %q", format)
	}
}
