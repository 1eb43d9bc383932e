package config

// DefaultETHRPCURL is the default Ethereum RPC endpoint.
// Uses PublicNode (Allnodes), a privacy-first provider that requires no API key.
const DefaultETHRPCURL = "https://ethereum-rpc.publicnode.com"

// Broadcast subsystem defaults.
const (
	DefaultRegistryCapacity   = 50
	DefaultSendTimeoutSeconds = 30
	DefaultQueueDepth         = 256
	DefaultRatePerSecond      = 10
	DefaultRateBurst          = 20
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.txgate",
		Networks: map[string]NetworkConfig{
			"ethereum": {
				RPC:     DefaultETHRPCURL,
				ChainID: 1,
			},
		},
		Broadcast: BroadcastConfig{
			NonceDBPath:        "~/.txgate/nonces.json",
			RegistryCapacity:   DefaultRegistryCapacity,
			SendTimeoutSeconds: DefaultSendTimeoutSeconds,
			QueueDepth:         DefaultQueueDepth,
			RateLimitPerSecond: DefaultRatePerSecond,
			RateBurst:          DefaultRateBurst,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
