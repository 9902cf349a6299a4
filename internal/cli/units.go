package cli

import (
	"fmt"
	"math/big"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lestnet-sdk/internal/network"
	"lestnet-sdk/internal/units"
)

func newUnitsCommand() *cobra.Command {
	var fromWei bool
	cmd := &cobra.Command{
		Use:   "units <amount>",
		Short: "Convert between LETH and wei",
		Example: `  lestnet units 1.5
  lestnet units --from-wei 1500000000000000000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				wei *big.Int
				err error
			)
			if fromWei {
				wei, err = units.ParseUnits(args[0], 0)
			} else {
				wei, err = units.ToSmallestUnit(args[0])
			}
			if err != nil {
				return err
			}
			display, err := units.ToDisplayUnit(wei)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(tw, "WEI\t%s\n", wei.String())
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", network.Symbol, display)
			_, _ = fmt.Fprintf(tw, "DISPLAY\t%s\n", units.MustFormatDisplay(wei))
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&fromWei, "from-wei", false, "treat the amount as wei")
	return cmd
}
