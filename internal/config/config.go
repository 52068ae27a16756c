// Package config loads tool configuration from YAML with environment
// overrides for the secret-bearing fields.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/y0rik/pwsh-azure/internal/gallery"
)

// Config holds the Azure credentials and repository endpoints shared by the
// command-line tools.
type Config struct {
	// Service principal used for ARM calls
	SubscriptionID string `yaml:"subscription_id"`
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`

	// Module repositories, name -> NuGet v2 feed URL
	Repositories map[string]string `yaml:"repositories"`
}

// DefaultConfig returns a config with sane defaults.
func DefaultConfig() Config {
	repos := make(map[string]string, len(gallery.DefaultRepositories))
	for name, u := range gallery.DefaultRepositories {
		repos[name] = u
	}
	return Config{
		Repositories: repos,
	}
}

// Load reads configuration from a YAML file with env overrides. An empty
// path skips the file and builds the config from defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("AZURE_SUBSCRIPTION_ID"); v != "" {
		cfg.SubscriptionID = v
	}
	if v := os.Getenv("AZURE_TENANT_ID"); v != "" {
		cfg.TenantID = v
	}
	if v := os.Getenv("AZURE_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("AZURE_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}

	// Merging a partial repositories block must not lose the defaults.
	if cfg.Repositories == nil {
		cfg.Repositories = DefaultConfig().Repositories
	} else {
		for name, u := range gallery.DefaultRepositories {
			if _, ok := cfg.Repositories[name]; !ok {
				cfg.Repositories[name] = u
			}
		}
	}

	return &cfg, nil
}

// ValidateAzure checks the fields required for ARM access. Only the module
// installer needs these; the agent installer runs without them.
func (c *Config) ValidateAzure() error {
	switch {
	case c.SubscriptionID == "":
		return fmt.Errorf("subscription_id is required")
	case c.TenantID == "":
		return fmt.Errorf("tenant_id is required")
	case c.ClientID == "":
		return fmt.Errorf("client_id is required")
	case c.ClientSecret == "":
		return fmt.Errorf("client_secret is required")
	}
	return nil
}
