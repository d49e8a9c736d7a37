// Package cmd defines the wubwatch command line: watch a single remix job,
// serve the operator API, or inspect the monitoring dashboard.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/config"
	"github.com/JakeFAU/wubwatch/internal/logging"
)

// envKeyType is the key for storing the Env in the context.
type envKeyType string

const envKey envKeyType = "env"

// Env is what PersistentPreRunE prepares for every subcommand.
type Env struct {
	Config *config.Config
	Logger *zap.Logger
}

type rootFlags struct {
	configFile string
	logLevel   string
	dev        bool
}

// loadEnv is the environment factory. It is a variable so tests can inject a
// config without touching disk or the global logger.
var loadEnv = func(flags rootFlags, devSet bool) (*Env, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if devSet {
		cfg.Logging.Development = flags.dev
	}
	logger, err := logging.Build(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return &Env{Config: &cfg, Logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "wubwatch",
		Short: "Follow remix jobs on a wub server.",
		Long: `wubwatch subscribes to the push channel of a remix job, tracks its
progress until the remixed track is ready, and counts down the download window.
It can also run as a daemon that watches many jobs and exposes them over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEnv(flags, cmd.Flags().Changed("dev"))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, envKey, env))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if env, err := resolveEnv(cmd.Context()); err == nil {
				_ = env.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (YAML); WUBWATCH_* env vars override it")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.dev, "dev", false, "use the development logger")

	cmd.AddCommand(newWatchCmd(), newServeCmd(), newMonitorCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (*Env, error) {
	if ctx == nil {
		return nil, errors.New("command context missing")
	}
	env, ok := ctx.Value(envKey).(*Env)
	if !ok || env == nil {
		return nil, errors.New("environment not initialized")
	}
	return env, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
