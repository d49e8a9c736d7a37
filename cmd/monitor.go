package cmd

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/wubwatch/internal/monitor"
	"github.com/JakeFAU/wubwatch/internal/render"
	"github.com/JakeFAU/wubwatch/internal/server"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	hiddenStyle = lipgloss.NewStyle().Faint(true)
)

func newMonitorCmd() *cobra.Command {
	var start, end float64
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print remix activity from the monitoring endpoints",
		Long: `Fetches the activity graph once and prints the total of every series.
With --start and --end (epoch seconds) the tracks remixed in that span are
listed as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			dash, err := server.NewMonitorDashboard(env.Config.Monitor, nil, nil, env.Logger.Named("monitor"))
			if err != nil {
				return err
			}
			if err := dash.Refresh(cmd.Context()); err != nil {
				return err
			}
			if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
				if _, err := dash.Select(cmd.Context(), epoch(start), epoch(end)); err != nil {
					return err
				}
			}
			printSnapshot(cmd.OutOrStdout(), dash.Snapshot())
			return nil
		},
	}
	cmd.Flags().Float64Var(&start, "start", 0, "timespan start, epoch seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "timespan end, epoch seconds")
	return cmd
}

func epoch(sec float64) time.Time {
	return time.UnixMilli(int64(math.Round(sec * 1000))).UTC()
}

func printSnapshot(out io.Writer, snap monitor.Snapshot) {
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%-16s %8s", "series", "total")))
	for _, s := range snap.Graph.Series {
		line := fmt.Sprintf("%-16s %8d", s.Name, s.Total())
		if !s.Visible {
			line = hiddenStyle.Render(line)
		}
		fmt.Fprintln(out, line)
	}
	if snap.Focused {
		fmt.Fprintln(out, headerStyle.Render("selected tracks"))
		fmt.Fprintln(out, render.MarkupText(snap.Focus))
	}
}
