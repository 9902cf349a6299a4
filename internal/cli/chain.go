package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"lestnet-sdk/internal/app"
	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/units"
)

func newNetworkCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "network",
		Short: "Show the configured network and the node's current head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap, err := rt.Chain.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			net := rt.Chain.Network()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "NETWORK\t%s\n", snap.Network)
			_, _ = fmt.Fprintf(tw, "CHAIN ID\t%s\n", snap.ChainID)
			_, _ = fmt.Fprintf(tw, "BLOCK\t%d\n", snap.BlockNumber)
			_, _ = fmt.Fprintf(tw, "TRANSPORT\t%s\n", snap.Transport)
			_, _ = fmt.Fprintf(tw, "EXPLORER\t%s\n", net.ExplorerURL)
			_, _ = fmt.Fprintf(tw, "FAUCET\t%s\n", rt.Faucet.URL())
			return tw.Flush()
		},
	}
}

func newBalanceCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Print the LETH balance of an address",
		Long:  `balance queries the latest balance of address, or of the configured signer when no address is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr, err := targetAddress(args, rt)
			if err != nil {
				return err
			}
			balance, err := rt.Chain.Balance(cmd.Context(), addr)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "ADDRESS\t%s\n", addr.Hex())
			_, _ = fmt.Fprintf(tw, "BALANCE\t%s\n", units.MustFormatDisplay(balance))
			_, _ = fmt.Fprintf(tw, "WEI\t%s\n", balance.String())
			return tw.Flush()
		},
	}
}

func newTopUpCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topup [address]",
		Short: "Request test LETH from the faucet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr, err := targetAddress(args, rt)
			if err != nil {
				return err
			}
			hash, err := rt.Faucet.TopUp(cmd.Context(), addr.Hex())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "ADDRESS\t%s\n", addr.Hex())
			_, _ = fmt.Fprintf(tw, "TX HASH\t%s\n", hash)
			_, _ = fmt.Fprintf(tw, "EXPLORER\t%s\n", rt.Config.Network.TxURL(hash))
			return tw.Flush()
		},
	}
}

// targetAddress returns the address argument, or the configured signer's
// address when args is empty.
func targetAddress(args []string, rt *app.App) (common.Address, error) {
	if len(args) > 0 {
		raw := strings.TrimSpace(args[0])
		if !common.IsHexAddress(raw) {
			return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid address %q", args[0]))
		}
		return common.HexToAddress(raw), nil
	}
	w, err := rt.Wallet()
	if err != nil {
		return common.Address{}, err
	}
	return w.Address(), nil
}
