package config

import (
	"os"
	"time"
)

// Config holds runtime settings for the node admin CLI.
//
// SessionDir keeps the access token between runs so one-shot commands can
// reuse a login.
type Config struct {
	ServerEndpointAddr string
	RequestTimeout     time.Duration
	SessionDir         string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RequestTimeout = 30 * time.Second
	c.SessionDir = ".fedinode"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, os.Args[1:])
	parseFlags(cfg, os.Args[1:])
	return cfg
}
