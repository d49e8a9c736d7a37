package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/wubwatch/internal/server"
)

// Runner is the part of server.App the serve command drives.
type Runner interface {
	Run(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, env *Env) (Runner, error) {
	return server.BuildWith(ctx, env.Config, server.Deps{Logger: env.Logger, Dialer: channelDialer})
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session manager and operator HTTP API",
		Long: `Starts the daemon: jobs are watched on demand through
POST /v1/sessions/{job_id}, session history is kept in memory, and the
monitoring dashboard is polled in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg := *env.Config
				cfg.Server.Port = port
				if err := cfg.Validate(); err != nil {
					return fmt.Errorf("invalid --port: %w", err)
				}
				env = &Env{Config: &cfg, Logger: env.Logger}
			}
			return runServe(cmd.Context(), env)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides server.port)")
	return cmd
}

func runServe(ctx context.Context, env *Env) error {
	app, err := newApp(ctx, env)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	if err := app.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
