// Package cli implements the lestnet command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lestnet-sdk/internal/app"
	"lestnet-sdk/internal/config"
	"lestnet-sdk/pkg/logger"
)

const defaultConfigPath = "configs/lestnet.yaml"

type rootOptions struct {
	cfgPath string
	debug   bool
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "lestnet",
		Short:        "Lestnet testnet toolkit",
		Long:         `lestnet creates wallets, converts LETH amounts, requests faucet funds and submits transactions to the Lestnet testnet.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgPath, "config", defaultConfigPath, "config file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newWalletCommand(opts),
		newUnitsCommand(),
		newNetworkCommand(opts),
		newBalanceCommand(opts),
		newTopUpCommand(opts),
		newSendCommand(opts),
		newBundleCommand(opts),
		newTransfersCommand(),
		newTokenCommand(opts),
	)
	return root
}

// loadConfig reads the config file when present. Without one the built-in
// defaults apply and the signer comes from LESTNET_PRIVATE_KEY or
// LESTNET_MNEMONIC.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()

	var cfg *config.Config
	_, statErr := os.Stat(o.cfgPath)
	switch {
	case statErr == nil:
		loaded, err := config.Load(o.cfgPath, ".env")
		if err != nil {
			return nil, err
		}
		cfg = loaded
	case errors.Is(statErr, os.ErrNotExist) && !cmd.Flag("config").Changed:
		cfg = config.Default()
		cfg.Wallet.PrivateKey = os.Getenv("LESTNET_PRIVATE_KEY")
		cfg.Wallet.Mnemonic = os.Getenv("LESTNET_MNEMONIC")
	default:
		return nil, fmt.Errorf("config %s: %w", o.cfgPath, statErr)
	}

	if o.debug {
		cfg.Logging.Level = "debug"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtime loads the config and assembles the chain client, submitter and
// faucet. Callers close the returned App.
func (o *rootOptions) runtime(cmd *cobra.Command) (*app.App, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cmd.Context(), cfg)
}
