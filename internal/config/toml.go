// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Backend   BackendConfig    `toml:"backend"`
	Sync      SyncConfig       `toml:"sync"`
	Report    ReportConfig     `toml:"report"`
	Terminals []TerminalConfig `toml:"terminals"`
}

// BackendConfig maps the attendance ledger settings.
type BackendConfig struct {
	URL       *string  `toml:"url"`
	TenantID  *string  `toml:"tenant-id"`
	APIKey    *string  `toml:"api-key"`
	Timeout   *string  `toml:"timeout"`
	RateLimit *float64 `toml:"rate-limit"`
}

// SyncConfig maps run settings.
type SyncConfig struct {
	Timezone        *string `toml:"timezone"`
	Since           *string `toml:"since"`
	TerminalTimeout *string `toml:"terminal-timeout"`
}

// ReportConfig maps the optional result sinks.
type ReportConfig struct {
	PushgatewayURL *string `toml:"pushgateway-url"`
	NATSURL        *string `toml:"nats-url"`
	NATSSubject    *string `toml:"nats-subject"`
}

// TerminalConfig maps one [[terminals]] entry.
type TerminalConfig struct {
	Name     string `toml:"name"`
	Address  string `toml:"address"`
	Port     int    `toml:"port"`
	DeviceID string `toml:"device-id"`
	Password int    `toml:"password"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
