// Package cli implements the txgate command-line interface.
//
// This package uses global variables to manage CLI state, which is the standard
// pattern for Cobra-based CLI applications. The globals are initialized in
// PersistentPreRunE.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level state
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/seqlabs/txgate/internal/config"
	txgerr "github.com/seqlabs/txgate/pkg/errors"
)

var (
	// Global flags
	homeDir string
	verbose bool

	// Global state initialized in PersistentPreRunE
	cfg    *config.Config
	logger zerolog.Logger
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "txgate",
	Short: "Nonce-safe transaction broadcasting for EVM chains",
	Long: `Txgate serializes transaction submissions per account so that each
account's nonce sequence stays gap-free even under concurrent load, and
recovers automatically when a node reports a different expected nonce.

Example:
  txgate send --chain ethereum --to 0x... --value 1000000000000000 --gas-price 30000000000
  txgate nonce list
  txgate nonce reset ethereum 0x... 42`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initGlobals()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var te *txgerr.TxgateError
		if errors.As(err, &te) && te.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", te.Suggestion)
		}
	}
	return err
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	return txgerr.ExitCode(err)
}

// initGlobals loads configuration and builds the logger.
func initGlobals() error {
	home := homeDir
	if home == "" {
		home = os.Getenv(config.EnvHome)
	}
	if home == "" {
		home = config.DefaultHome()
	}

	loaded, err := config.Load(config.Path(home))
	if err != nil {
		// Missing config is fine; anything else is a real problem.
		if !errors.Is(err, txgerr.ErrConfigNotFound) {
			return err
		}
		loaded = config.Defaults()
	}
	cfg = loaded
	cfg.Home = home

	config.ApplyEnvironment(cfg)

	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger = config.NewLogger(cfg.Logging, verbose)
	return nil
}

// Config returns the global configuration.
func Config() *config.Config {
	return cfg
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	return logger
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for flag registration
func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "txgate data directory (default: ~/.txgate)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}
