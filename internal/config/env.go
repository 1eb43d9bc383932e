package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvHome        = "TXGATE_HOME"
	EnvNonceDB     = "TXGATE_NONCE_DB"
	EnvLogLevel    = "TXGATE_LOG_LEVEL"
	EnvLogFormat   = "TXGATE_LOG_FORMAT"
	EnvSendTimeout = "TXGATE_SEND_TIMEOUT"
	EnvPrivateKey  = "TXGATE_PRIVATE_KEY" // #nosec G101 -- const name, not a credential
	EnvNoColor     = "NO_COLOR"

	// envRPCPrefix overrides a network's RPC URL, e.g.
	// TXGATE_RPC_ETHEREUM=https://... for the "ethereum" network.
	envRPCPrefix = "TXGATE_RPC_"
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}

	if v := os.Getenv(EnvNonceDB); v != "" {
		cfg.Broadcast.NonceDBPath = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}

	// TXGATE_SEND_TIMEOUT sets the send timeout in seconds
	if v := os.Getenv(EnvSendTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Broadcast.SendTimeoutSeconds = secs
		}
	}

	// TXGATE_RPC_<NETWORK> overrides (or adds) the network's RPC URL
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" || !strings.HasPrefix(key, envRPCPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envRPCPrefix))
		if name == "" {
			continue
		}
		if cfg.Networks == nil {
			cfg.Networks = make(map[string]NetworkConfig)
		}
		net := cfg.Networks[name]
		net.RPC = strings.TrimSpace(value)
		cfg.Networks[name] = net
	}
}
