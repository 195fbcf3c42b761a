package main

import (
	"github.com/spf13/cobra"

	"github.com/solpos/service_layer/internal/solana"
)

type parsedPayURL struct {
	Recipient  string   `json:"recipient"`
	Amount     string   `json:"amount,omitempty"`
	SPLToken   string   `json:"splToken,omitempty"`
	References []string `json:"references,omitempty"`
	Label      string   `json:"label,omitempty"`
	Message    string   `json:"message,omitempty"`
	Memo       string   `json:"memo,omitempty"`
}

func payURLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payurl",
		Short: "Work with Solana Pay transfer URLs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "parse <solana:url>",
		Short: "Decode a transfer request URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := solana.ParseTransferRequest(args[0])
			if err != nil {
				return err
			}
			out := parsedPayURL{
				Recipient: req.Recipient.String(),
				Amount:    req.Amount,
				SPLToken:  req.SPLToken,
				Label:     req.Label,
				Message:   req.Message,
				Memo:      req.Memo,
			}
			for _, ref := range req.References {
				out.References = append(out.References, ref.String())
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}
