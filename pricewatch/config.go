package pricewatch

import (
	"github.com/hazyhaar/satsview/composite"
	"github.com/hazyhaar/satsview/pricewatch/internal/config"
)

// Config is the top-level satsview configuration. Re-exported from internal.
type Config = config.Config

// SinkConfig defines a cycle report backend.
type SinkConfig = config.SinkConfig

// CompositeRule describes one site's fragmented price markup.
type CompositeRule = composite.Rule

// LoadConfigFile reads a YAML configuration file plus .env and SATSVIEW_*
// overrides. An empty path yields defaults plus environment.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}
