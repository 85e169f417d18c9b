// Package config loads the daemon configuration.
//
// Settings come from a YAML file with environment variable overrides for
// the secrets, so unit files can keep tokens out of the config file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds everything the daemon needs to run.
type Config struct {
	// ListenAddr is the HTTP API bind address, reachable over the tunnel.
	ListenAddr string `yaml:"listen_addr"`
	// DB is the SQLite database path.
	DB string `yaml:"db"`
	// Range is the tunnel address pool in CIDR form, e.g. 10.2.0.0/16.
	Range string `yaml:"range"`
	// Interface is the WireGuard device name, e.g. wg0.
	Interface string `yaml:"interface"`
	// Endpoint is the public host:port clients connect to.
	Endpoint string `yaml:"endpoint"`
	// DVPNTable is the routing table double-VPN traffic is steered into.
	DVPNTable uint32 `yaml:"dvpn_table"`
	// Secret signs pair tokens. Overridden by HMAC_SECRET.
	Secret string `yaml:"secret"`
	// TelegramToken authenticates the bot. Overridden by TELEGRAM_TOKEN.
	// Empty disables the bot frontend.
	TelegramToken string `yaml:"telegram_token"`
	// AdminChatID is the chat identity granted the admin role at startup.
	AdminChatID int64  `yaml:"admin_chat_id"`
	LogLevel    string `yaml:"log_level"`
}

// Load reads the config file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Config{
		ListenAddr: "127.0.0.1:8080",
		DB:         "wgkeeper.db",
		Interface:  "wg0",
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("HMAC_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields the daemon cannot start without.
func (c *Config) Validate() error {
	if c.DB == "" {
		return errors.New("db path is required")
	}
	if c.Interface == "" {
		return errors.New("interface is required")
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.Secret == "" {
		return errors.New("secret is required (config or HMAC_SECRET)")
	}
	prefix, err := netip.ParsePrefix(c.Range)
	if err != nil {
		return fmt.Errorf("parse range: %w", err)
	}
	if !prefix.Addr().Is4() {
		return fmt.Errorf("range %s is not an IPv4 prefix", prefix)
	}
	return nil
}
