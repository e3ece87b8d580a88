package conf

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
	if cfg.Domain != "npc.com" {
		t.Errorf("Expected default domain npc.com, got %q", cfg.Domain)
	}
	if cfg.Relay.Port != 345 {
		t.Errorf("Expected default relay port 345, got %d", cfg.Relay.Port)
	}
}

func TestLoadConfig(t *testing.T) {
	content := `domain: example.org
database:
  path: /tmp/other.db
smtp:
  address: ":25"
relay:
  workers: 4
`
	path := filepath.Join(t.TempDir(), "pigeon.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Domain != "example.org" {
		t.Errorf("Expected domain example.org, got %q", cfg.Domain)
	}
	if cfg.SMTP.Address != ":25" {
		t.Errorf("Expected smtp address :25, got %q", cfg.SMTP.Address)
	}
	if cfg.Relay.Workers != 4 {
		t.Errorf("Expected 4 relay workers, got %d", cfg.Relay.Workers)
	}

	// Fields not set in the file keep their defaults.
	if cfg.IMAP.Address != ":1430" {
		t.Errorf("Expected default imap address, got %q", cfg.IMAP.Address)
	}
	if cfg.Relay.Broadcast != "255.255.255.255" {
		t.Errorf("Expected default broadcast address, got %q", cfg.Relay.Broadcast)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty domain", func(c *Config) { c.Domain = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"empty smtp address", func(c *Config) { c.SMTP.Address = "" }},
		{"empty imap address", func(c *Config) { c.IMAP.Address = "" }},
		{"zero relay port", func(c *Config) { c.Relay.Port = 0 }},
		{"relay port too large", func(c *Config) { c.Relay.Port = 70000 }},
		{"empty broadcast address", func(c *Config) { c.Relay.Broadcast = "" }},
		{"zero workers", func(c *Config) { c.Relay.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
