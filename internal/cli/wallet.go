package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lestnet-sdk/internal/config"
	"lestnet-sdk/internal/wallet"
)

func newWalletCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Create or inspect wallets",
	}
	cmd.AddCommand(newWalletNewCommand(), newWalletShowCommand(opts))
	return cmd
}

func newWalletNewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Generate a random wallet with a 12 word mnemonic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.CreateRandom()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "ADDRESS\t%s\n", w.Address().Hex())
			_, _ = fmt.Fprintf(tw, "PRIVATE KEY\t%s\n", w.PrivateKeyHex())
			_, _ = fmt.Fprintf(tw, "MNEMONIC\t%s\n", w.Mnemonic())
			_, _ = fmt.Fprintf(tw, "PATH\t%s\n", w.Path())
			return tw.Flush()
		},
	}
}

func newWalletShowCommand(opts *rootOptions) *cobra.Command {
	var creds config.WalletConfig
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the address of a mnemonic or private key",
		Long:  `show derives the address from --mnemonic or --private-key. Without either flag the configured signer is used.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if creds.Mnemonic != "" || creds.PrivateKey != "" {
				cfg.Wallet = creds
			}
			w, err := wallet.GetWallet(wallet.Options{
				Mnemonic:   cfg.Wallet.Mnemonic,
				PrivateKey: cfg.Wallet.PrivateKey,
				Path:       cfg.Wallet.Path,
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "ADDRESS\t%s\n", w.Address().Hex())
			if w.Path() != "" {
				_, _ = fmt.Fprintf(tw, "PATH\t%s\n", w.Path())
			}
			_, _ = fmt.Fprintf(tw, "EXPLORER\t%s\n", cfg.Network.AddressURL(w.Address().Hex()))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&creds.Mnemonic, "mnemonic", "", "BIP-39 mnemonic")
	cmd.Flags().StringVar(&creds.PrivateKey, "private-key", "", "hex encoded private key")
	cmd.Flags().StringVar(&creds.Path, "path", "", "derivation path for --mnemonic")
	return cmd
}
