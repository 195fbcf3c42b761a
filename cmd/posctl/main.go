// Command posctl runs maintenance tasks against a Solana POS deployment:
// schema migrations, one-off payment validation, receipt export and
// inspection of payment URLs and the token registry.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	app "github.com/solpos/service_layer/internal/app"
	"github.com/solpos/service_layer/internal/config"
	"github.com/solpos/service_layer/pkg/logger"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "posctl",
		Short:         "Operate a Solana POS backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd())
	root.AddCommand(invoiceCmd())
	root.AddCommand(tokensCmd())
	root.AddCommand(payURLCmd())
	return root
}

// cliLogger keeps log lines on stderr so command output stays parseable.
func cliLogger(cfg *config.Config) *logger.Logger {
	level := cfg.Logging.Level
	if level == "" || level == "info" {
		level = "warn"
	}
	return logger.New(logger.LoggingConfig{Level: level, Format: "text", Output: "stderr"}).Named("posctl")
}

// openApplication wires the configured stores without starting background
// services. The returned func releases the infrastructure.
func openApplication(ctx context.Context) (*app.Application, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := cliLogger(cfg)
	infra, err := app.OpenInfra(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	application, err := app.New(cfg, infra.Stores, log)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}
	return application, func() {
		if err := infra.Close(); err != nil {
			log.WithError(err).Warn("close infrastructure")
		}
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
