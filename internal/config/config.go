// Package config provides configuration management for txgate.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seqlabs/txgate/internal/chain"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

// Config represents the application configuration.
type Config struct {
	Version   int                      `yaml:"version"`
	Home      string                   `yaml:"home"`
	Networks  map[string]NetworkConfig `yaml:"networks"`
	Broadcast BroadcastConfig          `yaml:"broadcast"`
	Logging   LoggingConfig            `yaml:"logging"`
}

// NetworkConfig defines one EVM network.
type NetworkConfig struct {
	RPC string `yaml:"rpc"`
	// ChainID pins the expected chain ID. Zero means detect from the node.
	ChainID int64 `yaml:"chain_id,omitempty"`
}

// BroadcastConfig defines broadcast subsystem settings.
type BroadcastConfig struct {
	// NonceDBPath is where allocated nonce state is persisted.
	NonceDBPath string `yaml:"nonce_db_path"`
	// RegistryCapacity bounds the number of live broadcasters.
	RegistryCapacity int `yaml:"registry_capacity"`
	// SendTimeoutSeconds bounds each node send.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	// QueueDepth is the per-account queued-task capacity.
	QueueDepth int `yaml:"queue_depth"`
	// RateLimitPerSecond throttles node calls per RPC method.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	// RateBurst is the rate limiter burst size.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Load reads configuration from the specified file, layered over defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- config file path is from validated user input
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, txgerr.WithDetails(txgerr.ErrConfigNotFound, map[string]string{
			"path": path,
		})
	}
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, txgerr.WithCause(txgerr.ErrConfigInvalid, err)
	}

	return cfg, nil
}

// Save writes configuration to the specified file.
func Save(cfg *Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks the configuration for inconsistencies that would only
// surface later at broadcast time.
func (c *Config) Validate() error {
	for name, net := range c.Networks {
		if net.RPC == "" {
			return txgerr.WithDetails(txgerr.ErrConfigInvalid, map[string]string{
				"network": name,
				"reason":  "rpc url is empty",
			})
		}
		if net.ChainID < 0 {
			return txgerr.WithDetails(txgerr.ErrConfigInvalid, map[string]string{
				"network": name,
				"reason":  "chain_id cannot be negative",
			})
		}
	}

	b := c.Broadcast
	if b.NonceDBPath == "" {
		return txgerr.WithDetails(txgerr.ErrConfigInvalid, map[string]string{
			"reason": "broadcast.nonce_db_path is empty",
		})
	}
	if b.RegistryCapacity < 0 || b.QueueDepth < 0 || b.SendTimeoutSeconds < 0 {
		return txgerr.WithDetails(txgerr.ErrConfigInvalid, map[string]string{
			"reason": "broadcast limits cannot be negative",
		})
	}

	return nil
}

// Network returns the configuration for the given chain.
func (c *Config) Network(id chain.ID) (NetworkConfig, error) {
	net, ok := c.Networks[id.String()]
	if !ok {
		return NetworkConfig{}, txgerr.WithDetails(txgerr.ErrUnknownChain, map[string]string{
			"chain": id.String(),
		})
	}
	return net, nil
}

// SendTimeout returns the configured send timeout as a duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Broadcast.SendTimeoutSeconds) * time.Second
}

// NonceDBPath returns the nonce db path with ~ expanded.
func (c *Config) NonceDBPath() string {
	return ExpandHome(c.Broadcast.NonceDBPath)
}

// Path returns the default config file path.
func Path(home string) string {
	return filepath.Join(home, "config.yaml")
}

// DefaultHome returns the default txgate home directory.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".txgate"
	}
	return filepath.Join(home, ".txgate")
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
