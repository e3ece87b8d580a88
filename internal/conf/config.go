package conf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config holds the configuration for all three engines. One file configures a
// whole node; the SMTP and relay engines key their routing decisions off Domain.
type Config struct {
	Domain   string         `yaml:"domain"`
	Database DatabaseConfig `yaml:"database"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	IMAP     IMAPConfig     `yaml:"imap"`
	Relay    RelayConfig    `yaml:"relay"`
}

// DatabaseConfig holds message store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SMTPConfig holds SMTP listener configuration
type SMTPConfig struct {
	Address string `yaml:"address"`
}

// IMAPConfig holds IMAP listener configuration
type IMAPConfig struct {
	Address string `yaml:"address"`
}

// RelayConfig holds the UDP relay configuration
type RelayConfig struct {
	Port      int    `yaml:"port"`      // Well-known relay port shared by all nodes
	Broadcast string `yaml:"broadcast"` // Broadcast address packets are sent to
	Workers   int    `yaml:"workers"`   // Size of the packet worker pool
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Domain: "npc.com",
		Database: DatabaseConfig{
			Path: "data/pigeon.db",
		},
		SMTP: SMTPConfig{
			Address: ":2525",
		},
		IMAP: IMAPConfig{
			Address: ":1430",
		},
		Relay: RelayConfig{
			Port:      345,
			Broadcast: "255.255.255.255",
			Workers:   10,
		},
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain cannot be empty")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.SMTP.Address == "" {
		return fmt.Errorf("smtp address cannot be empty")
	}

	if c.IMAP.Address == "" {
		return fmt.Errorf("imap address cannot be empty")
	}

	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay port must be between 1 and 65535")
	}

	if c.Relay.Broadcast == "" {
		return fmt.Errorf("relay broadcast address cannot be empty")
	}

	if c.Relay.Workers <= 0 {
		return fmt.Errorf("relay workers must be positive")
	}

	return nil
}
