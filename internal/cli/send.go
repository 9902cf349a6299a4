package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"

	xerrors "lestnet-sdk/internal/errors"
	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/tx"
	"lestnet-sdk/internal/units"
)

func newSendCommand(opts *rootOptions) *cobra.Command {
	var (
		to, amount, data string
		gas              uint64
	)
	cmd := &cobra.Command{
		Use:     "send",
		Short:   "Sign, broadcast and confirm one transaction",
		Example: `  lestnet send --to 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 --amount 0.1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := transferRequest(to, amount, data)
			if err != nil {
				return err
			}
			req.Gas = gas

			rt, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			w, err := rt.Wallet()
			if err != nil {
				return err
			}

			receipt, err := rt.Submitter.SendTx(cmd.Context(), req, w)
			if receipt != nil {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintf(tw, "FROM\t%s\n", w.Address().Hex())
				_, _ = fmt.Fprintf(tw, "TO\t%s\n", req.To.Hex())
				_, _ = fmt.Fprintf(tw, "AMOUNT\t%s\n", units.MustFormatDisplay(req.Value))
				writeReceipt(tw, rt.Config.Network, receipt)
				if flushErr := tw.Flush(); flushErr != nil && err == nil {
					err = flushErr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient address")
	cmd.Flags().StringVar(&amount, "amount", "0", "amount in LETH")
	cmd.Flags().StringVar(&data, "data", "", "hex encoded calldata")
	cmd.Flags().Uint64Var(&gas, "gas", 0, "gas limit, estimated when zero")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBundleCommand(opts *rootOptions) *cobra.Command {
	var transfers []string
	cmd := &cobra.Command{
		Use:     "bundle",
		Short:   "Submit several transfers from the signer concurrently",
		Long:    `bundle assigns consecutive nonces to the transfers in the order given and confirms them concurrently. Failed members are reported without stopping the others.`,
		Example: `  lestnet bundle --transfer 0x7099...79C8=0.1 --transfer 0x3C44...93BC=0.2`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(transfers) == 0 {
				return xerrors.New(xerrors.CodeInvalidArgument, "at least one --transfer is required")
			}
			reqs := make([]tx.Request, 0, len(transfers))
			for _, entry := range transfers {
				to, amount, ok := strings.Cut(entry, "=")
				if !ok {
					return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("transfer %q must be address=amount", entry))
				}
				req, err := transferRequest(to, amount, "")
				if err != nil {
					return err
				}
				reqs = append(reqs, req)
			}

			rt, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			w, err := rt.Wallet()
			if err != nil {
				return err
			}

			receipts, sendErr := rt.Submitter.BundleAndSend(cmd.Context(), reqs, w)
			var bundleErr *tx.BundleError
			if sendErr != nil && !errors.As(sendErr, &bundleErr) {
				return sendErr
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "#\tTO\tAMOUNT\tTX HASH\tBLOCK\tSTATUS")
			for i, req := range reqs {
				var receipt *types.Receipt
				if i < len(receipts) {
					receipt = receipts[i]
				}
				status := "confirmed"
				hash, block := "-", "-"
				if receipt != nil {
					hash = receipt.TxHash.Hex()
					block = receipt.BlockNumber.String()
					if receipt.Status != types.ReceiptStatusSuccessful {
						status = "reverted"
					}
				}
				if bundleErr != nil && i < len(bundleErr.Errs) && bundleErr.Errs[i] != nil {
					status = "failed: " + bundleErr.Errs[i].Error()
				}
				_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, req.To.Hex(), units.MustFormatDisplay(req.Value), hash, block, status)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			return sendErr
		},
	}
	cmd.Flags().StringArrayVar(&transfers, "transfer", nil, "address=amount, repeatable")
	return cmd
}

func transferRequest(to, amount, data string) (tx.Request, error) {
	to = strings.TrimSpace(to)
	if !common.IsHexAddress(to) {
		return tx.Request{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid recipient %q", to))
	}
	value, err := units.ToSmallestUnit(strings.TrimSpace(amount))
	if err != nil {
		return tx.Request{}, err
	}
	recipient := common.HexToAddress(to)
	req := tx.Request{To: &recipient, Value: value}
	if data = strings.TrimSpace(data); data != "" {
		decoded, err := hexutil.Decode(data)
		if err != nil {
			return tx.Request{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid calldata")
		}
		req.Data = decoded
	}
	return req, nil
}

func writeReceipt(w io.Writer, net network.Network, receipt *types.Receipt) {
	status := "success"
	if receipt.Status != types.ReceiptStatusSuccessful {
		status = "reverted"
	}
	_, _ = fmt.Fprintf(w, "TX HASH\t%s\n", receipt.TxHash.Hex())
	_, _ = fmt.Fprintf(w, "BLOCK\t%s\n", receipt.BlockNumber)
	_, _ = fmt.Fprintf(w, "GAS USED\t%d\n", receipt.GasUsed)
	_, _ = fmt.Fprintf(w, "STATUS\t%s\n", status)
	_, _ = fmt.Fprintf(w, "EXPLORER\t%s\n", net.TxURL(receipt.TxHash.Hex()))
}
