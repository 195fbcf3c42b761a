package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solpos/service_layer/internal/tokens"
)

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect the SPL token registry",
	}
	var cluster, file string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the tokens accepted on a cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := tokens.Load(cluster, file)
			if err != nil {
				return err
			}
			settle := make(map[string]bool)
			for _, t := range reg.SettlementTokens() {
				settle[t.Mint] = true
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tMINT\tDECIMALS\tPEG\tFLAGS")
			for _, t := range reg.All() {
				flags := ""
				if t.Mint == reg.DefaultPayment().Mint {
					flags = "default"
				}
				if settle[t.Mint] {
					if flags != "" {
						flags += ","
					}
					flags += "settlement"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", t.Symbol, t.Mint, t.Decimals, t.Peg, flags)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&cluster, "cluster", "devnet", "devnet or mainnet")
	list.Flags().StringVar(&file, "file", "", "registry YAML overriding the embedded one")
	cmd.AddCommand(list)
	return cmd
}
