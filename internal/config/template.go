package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	cfg := Config{
		BindAddress: "127.0.0.1",
		Port:        8080,

		LogLevel: "info",

		ShortCircuitPolicy: ShortCircuitSkipOwner,

		MitM: MitMConfig{
			Enabled:      true,
			Hostname:     []string{"*.example.com"},
			DefaultAllow: false,
		},

		Rules: []Rule{
			{
				Name:       "block-admin",
				Type:       "PATH-PREFIX",
				MatchValue: "/admin",
				Action:     "REJECT",
				Status:     403,
			},
			{
				Name:             "tag-example",
				Type:             "DOMAIN",
				MatchValue:       "example.com",
				Action:           "ADD",
				RewriteDirection: "REQUEST",
				RewriteHeader:    "X-Tag",
				RewriteValue:     "1",
			},
			{
				Name:             "strip-server",
				Type:             "FINAL",
				Action:           "DELETE",
				RewriteDirection: "RESPONSE",
				RewriteHeader:    "Server",
			},
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile("config.yaml", data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
