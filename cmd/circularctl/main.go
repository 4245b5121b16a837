package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dakota002/gcn.nasa.gov/internal/app"
	"github.com/dakota002/gcn.nasa.gov/internal/config"
	"github.com/dakota002/gcn.nasa.gov/pkg/logger"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "circularctl",
		Short:         "Operate the GCN Circulars ingest pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(replayCmd(opts))
	rootCmd.AddCommand(counterCmd(opts))
	rootCmd.AddCommand(migrateCmd(opts))

	return rootCmd
}

// loadConfig loads the configuration and overlays Vault secrets
func (o *options) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (o *options) newLogger() (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:      o.logLevel,
		Format:     "console",
		OutputPath: "stderr",
		Service:    "circularctl",
	})
}

// openApp builds the pipeline without starting any listener
func (o *options) openApp(ctx context.Context, mutate func(*config.Config)) (*app.App, error) {
	cfg, err := o.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}

	log, err := o.newLogger()
	if err != nil {
		return nil, err
	}

	return app.New(ctx, cfg, log)
}
