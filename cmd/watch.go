package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wubwatch/internal/channel"
	"github.com/JakeFAU/wubwatch/internal/countdown"
	"github.com/JakeFAU/wubwatch/internal/logging"
	"github.com/JakeFAU/wubwatch/internal/render"
	"github.com/JakeFAU/wubwatch/internal/server"
	"github.com/JakeFAU/wubwatch/internal/watch"
)

// channelDialer overrides the WebSocket transport in tests.
var channelDialer channel.Dialer

func newWatchCmd() *cobra.Command {
	var exitOnDone bool
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow one remix job in the terminal",
		Long: `Connects to the job's progress channel and prints progress, the final
download link and the remaining download window. The command returns when the
window expires, or as soon as the remix is ready with --exit-on-done.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], exitOnDone)
		},
	}
	cmd.Flags().BoolVar(&exitOnDone, "exit-on-done", false, "return once the remix is ready instead of counting down")
	return cmd
}

func runWatch(cmd *cobra.Command, jobID string, exitOnDone bool) error {
	env, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	site, err := server.SiteURL(env.Config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := server.NewChannelAdapter(env.Config.Channel, channelDialer, env.Logger.Named("channel"))
	var session *watch.Session
	id := uuid.New()
	opts := watch.Options{
		ID:     id,
		Logger: logging.ForSession(env.Logger, id.String(), jobID),
		Renderer: render.Multi{
			render.NewTerminalRenderer(cmd.OutOrStdout(), site),
			render.NewLogRenderer(env.Logger.Named("render")),
		},
		Countdown: countdown.Config{
			Window: env.Config.Countdown.Window(),
			Period: env.Config.Countdown.Period(),
		},
	}
	if exitOnDone {
		opts.Hooks = []watch.Hook{func(context.Context, string) { session.Stop() }}
	}
	session, err = watch.NewSession(jobID, watch.ChannelOpener(adapter), opts)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	env.Logger.Info("watching job", zap.String("job_id", jobID), zap.String("url", adapter.URL(adapter.ProgressPath(jobID))))

	err = session.Run(ctx)
	switch {
	case err == nil:
		info := session.Info()
		env.Logger.Info("watch finished", zap.String("job_id", jobID), zap.Stringer("state", info.State), zap.Bool("expired", info.Expired))
		return nil
	case errors.Is(err, context.Canceled):
		env.Logger.Info("watch interrupted", zap.String("job_id", jobID))
		return nil
	default:
		return fmt.Errorf("watch %s: %w", jobID, err)
	}
}
