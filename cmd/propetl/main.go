package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/property-etl/internal/config"
	"github.com/property-etl/internal/logger"
)

var (
	// Global configuration, loaded before any subcommand runs
	cfg *config.Config

	flagConfig     string
	flagDebug      bool
	flagStatusAddr string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(logger.WithRunID(ctx)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "propetl",
		Short: "Property export repair and load",
		Long: `Repairs the malformed property JSON export, normalizes every record
and loads it into the seven property tables.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagStatusAddr, "status-addr", "", "Serve run progress over HTTP on this address")

	rootCmd.AddCommand(createRepairCmd())
	rootCmd.AddCommand(createSchemaCmd())
	rootCmd.AddCommand(createLoadCmd())
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createValidateCmd())
	rootCmd.AddCommand(createPingCmd())

	return rootCmd
}

// setup loads .env, the config file and the environment, then configures
// logging.
func setup(cmd *cobra.Command, args []string) error {
	config.LoadEnv()

	loaded, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagStatusAddr != "" {
		loaded.Status.Addr = flagStatusAddr
	}
	if flagDebug {
		loaded.Log.Level = "debug"
	}
	cfg = loaded

	logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Debug(cmd.Context(), "configuration loaded",
		"driver", cfg.Database.Driver, "batch_size", cfg.ETL.BatchSize, "config", flagConfig)
	return nil
}
