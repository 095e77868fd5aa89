package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("dsc-engine failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cfg := configFromEnv()

	cmd := &cobra.Command{
		Use:           "dsc-engine",
		Short:         "Over-collateralized stablecoin engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg.bindFlags(cmd)

	cmd.AddCommand(
		serveCmd(cfg),
		registryCmd(cfg),
		accountCmd(),
	)
	return cmd
}
