package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lestnet-sdk/internal/auth"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		subject     string
		permissions []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a lestnetd access token",
		Long:  `token signs a JWT with the auth.jwt settings of the config file. The daemon must run with auth.mode jwt and the same secret.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			svc, err := auth.NewService(cfg.Auth)
			if err != nil {
				return err
			}
			token, err := svc.IssueToken(subject, permissions, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().StringSliceVar(&permissions, "permission", []string{auth.PermTransfersRead, auth.PermTransfersWrite}, "granted permission, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, config default when zero")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
