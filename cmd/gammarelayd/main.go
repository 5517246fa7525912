// Command gammarelayd adjusts compositor color temperature, brightness
// and gamma over wlr-gamma-control-unstable-v1, exposing the current
// state on the session bus as rs.wl-gammarelay.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gammarelay/gammarelayd/internal/busserver"
	"github.com/gammarelay/gammarelayd/internal/reactor"
	"github.com/gammarelay/gammarelayd/internal/rlog"
	"github.com/gammarelay/gammarelayd/internal/watcher"
	"github.com/gammarelay/gammarelayd/internal/wlgamma"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	switch {
	case err == nil:
	case errors.Is(err, busserver.ErrNameTaken):
		// Single-instance gate: a second "run" is not an error.
		fmt.Fprintln(os.Stderr, err)
	default:
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gammarelayd",
		Short:         "Wayland gamma control daemon with a D-Bus interface",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Start the daemon (the default when no subcommand is given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	})
	root.AddCommand(newWatchCmd())
	return root
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch FORMAT",
		Short: "Print a formatted line every time the daemon's state changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watcher.Watch(cmd.Context(), os.Stdout, args[0])
		},
	}
}

func runDaemon(ctx context.Context) error {
	logger := rlog.New()

	disp, err := wlgamma.Connect()
	if err != nil {
		logger.Error("connect to compositor failed", "err", err)
		return fmt.Errorf("connect: %w", err)
	}
	defer disp.Close()

	r := reactor.New(logger, disp)
	if err := r.Run(ctx); err != nil {
		if errors.Is(err, busserver.ErrNameTaken) {
			logger.Info("another instance is already running")
			return err
		}
		logger.Error("gammarelayd exited with error", "err", err)
		return err
	}
	return nil
}
