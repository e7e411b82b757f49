// Package config loads the module configuration: storage backend
// selection, collection names, notification queue, and the inboxes to
// seed at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage backend names.
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Default collection names.
const (
	DefaultInboxTable   = "ldn_inbox"
	DefaultMessageTable = "ldn_message"
)

// Config is the top-level module configuration.
type Config struct {
	Storage StorageConfig        `yaml:"storage"`
	Notify  NotifyConfig         `yaml:"notify"`
	Inboxes map[string]SeedInbox `yaml:"inboxes"`
}

// StorageConfig selects and parameterizes the storage backend.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	InboxTable   string `yaml:"inboxTable"`
	MessageTable string `yaml:"messageTable"`
	PostgresDSN  string `yaml:"postgresDsn"`
}

// NotifyConfig parameterizes the delivery-notification publisher. An empty
// queue URL disables notifications.
type NotifyConfig struct {
	QueueURL string `yaml:"queueUrl"`
}

// SeedInbox is an inbox to create at startup, keyed by its id in the
// Inboxes map.
type SeedInbox struct {
	Owner    string         `yaml:"owner"`
	Document map[string]any `yaml:"document"`
}

// Default returns a configuration with the DynamoDB backend and default
// collection names.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:      BackendDynamoDB,
			InboxTable:   DefaultInboxTable,
			MessageTable: DefaultMessageTable,
		},
	}
}

// Load reads and validates a YAML configuration file. Absent fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendDynamoDB
	}
	if cfg.Storage.InboxTable == "" {
		cfg.Storage.InboxTable = DefaultInboxTable
	}
	if cfg.Storage.MessageTable == "" {
		cfg.Storage.MessageTable = DefaultMessageTable
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendDynamoDB:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("postgres backend requires postgresDsn")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	for id, seed := range c.Inboxes {
		if id == "" {
			return fmt.Errorf("seed inbox id must not be empty")
		}
		if seed.Owner == "" {
			return fmt.Errorf("seed inbox %q has no owner", id)
		}
	}
	return nil
}
