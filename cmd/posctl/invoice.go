package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solpos/service_layer/internal/app/domain/invoice"
	"github.com/solpos/service_layer/internal/cli"
)

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Inspect invoices",
	}
	cmd.AddCommand(invoiceValidateCmd())
	cmd.AddCommand(invoiceWaitCmd())
	cmd.AddCommand(invoiceExportCmd())
	return cmd
}

func invoiceValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <ref>",
		Short: "Look for the payment of one invoice on the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, closeFn, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := application.Validator.Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func invoiceWaitCmd() *cobra.Command {
	var every, timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <ref>",
		Short: "Poll until an invoice is paid or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if every <= 0 || timeout <= 0 {
				return fmt.Errorf("--every and --timeout must be positive")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			application, closeFn, err := openApplication(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			spin := cli.NewSpinner(cmd.ErrOrStderr(), "waiting for "+args[0])
			spin.Start()
			defer spin.Stop()
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				res, err := application.Validator.Validate(ctx, args[0])
				if err != nil {
					spin.Fail(err.Error())
					return err
				}
				switch res.Status {
				case invoice.StatusConfirmed, invoice.StatusSettled:
					spin.Success(fmt.Sprintf("%s paid in %s", res.Ref, res.TxHash))
					return printJSON(cmd.OutOrStdout(), res)
				case invoice.StatusError:
					spin.Fail(res.Ref + " failed: " + res.Message)
					return fmt.Errorf("invoice %s failed", res.Ref)
				}
				spin.SetSuffix(res.Message)
				select {
				case <-ctx.Done():
					spin.Fail("gave up waiting")
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&every, "every", 3*time.Second, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "give up after")
	return cmd
}

func invoiceExportCmd() *cobra.Command {
	var merchantID, from, to string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a merchant's receipts as CSV",
		Long: `Write the merchant's invoices in the window as CSV to stdout.
Dates use the 2006-01-02 layout; the window defaults to the last 90 days.

Examples:
  posctl invoice export --merchant 6f1c... --from 2024-05-01 --to 2024-05-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseDay(from, false)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := parseDay(to, true)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			application, closeFn, err := openApplication(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return application.Invoices.ExportCSV(cmd.Context(), cmd.OutOrStdout(), merchantID, start, end)
		},
	}
	cmd.Flags().StringVar(&merchantID, "merchant", "", "merchant id")
	cmd.Flags().StringVar(&from, "from", "", "first day of the window")
	cmd.Flags().StringVar(&to, "to", "", "last day of the window")
	_ = cmd.MarkFlagRequired("merchant")
	return cmd
}

func parseDay(raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}
