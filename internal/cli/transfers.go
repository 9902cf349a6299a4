package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lestnet-sdk/sdk/go/lestnet"
)

const defaultDaemonURL = "http://127.0.0.1:8080"

func newTransfersCommand() *cobra.Command {
	var server, token string
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Queue and inspect asynchronous transfers on lestnetd",
	}
	cmd.PersistentFlags().StringVar(&server, "server", envOr("LESTNET_DAEMON_URL", defaultDaemonURL), "lestnetd base url")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("LESTNET_API_TOKEN"), "bearer token for lestnetd")

	client := func() (*lestnet.DaemonClient, error) {
		c, err := lestnet.NewDaemonClient(server, nil)
		if err != nil {
			return nil, err
		}
		c.SetToken(token)
		return c, nil
	}
	cmd.AddCommand(
		newTransfersSubmitCommand(client),
		newTransfersGetCommand(client),
		newTransfersListCommand(client),
		newTransfersStatsCommand(client),
	)
	return cmd
}

type daemonFactory func() (*lestnet.DaemonClient, error)

func newTransfersSubmitCommand(client daemonFactory) *cobra.Command {
	var (
		req  lestnet.TransferRequest
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a transfer signed by the daemon's wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			job, err := c.SubmitTransfer(cmd.Context(), req)
			if err != nil {
				return err
			}
			if wait > 0 {
				job, err = c.WaitForTransfer(cmd.Context(), job.ID, wait)
				if err != nil {
					return err
				}
			}
			return writeTransfer(cmd.OutOrStdout(), job)
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "idempotency id, generated when empty")
	cmd.Flags().StringVar(&req.To, "to", "", "recipient address")
	cmd.Flags().StringVar(&req.Amount, "amount", "", "amount in LETH")
	cmd.Flags().StringVar(&req.Data, "data", "", "hex encoded calldata")
	cmd.Flags().DurationVar(&wait, "wait", 0, "poll interval; when set the command waits for the job to finish")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newTransfersGetCommand(client daemonFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one transfer job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			job, err := c.GetTransfer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeTransfer(cmd.OutOrStdout(), job)
		},
	}
}

func newTransfersListCommand(client daemonFactory) *cobra.Command {
	var (
		limit    int
		statuses []string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently updated transfer jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			jobs, err := c.ListTransfers(cmd.Context(), limit, statuses...)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTO\tAMOUNT\tSTATUS\tATTEMPTS\tTX HASH\tUPDATED")
			for _, job := range jobs {
				hash := "-"
				if job.Result != nil {
					hash = job.Result.TxHash
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					job.ID, job.To, job.Amount, job.Status, job.Attempts, job.MaxRetries, hash, time.Unix(job.UpdatedAt, 0).UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "filter by status (pending, running, succeeded, failed)")
	return cmd
}

func newTransfersStatsCommand(client daemonFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			stats, err := c.TransferStats(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TOTAL\tPENDING\tRUNNING\tSUCCEEDED\tFAILED")
			_, _ = fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", stats.Total, stats.Pending, stats.Running, stats.Succeeded, stats.Failed)
			return tw.Flush()
		},
	}
}

func writeTransfer(w io.Writer, job *lestnet.Transfer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "ID\t%s\n", job.ID)
	_, _ = fmt.Fprintf(tw, "TO\t%s\n", job.To)
	_, _ = fmt.Fprintf(tw, "AMOUNT\t%s\n", job.Amount)
	_, _ = fmt.Fprintf(tw, "STATUS\t%s\n", job.Status)
	_, _ = fmt.Fprintf(tw, "ATTEMPTS\t%d/%d\n", job.Attempts, job.MaxRetries)
	if job.Result != nil {
		_, _ = fmt.Fprintf(tw, "TX HASH\t%s\n", job.Result.TxHash)
		_, _ = fmt.Fprintf(tw, "BLOCK\t%d\n", job.Result.BlockNumber)
	}
	if job.LastError != "" {
		_, _ = fmt.Fprintf(tw, "ERROR\t%s (%s)\n", job.LastError, job.ErrorCode)
	}
	return tw.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
