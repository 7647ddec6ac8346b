package command

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/adamavenir/ledgersync/internal/tui"
	"github.com/spf13/cobra"
)

// NewWatchCmd creates the watch command.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <group>",
		Short: "Open the live view of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := GetEnv(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			live, err := startLiveSession(ctx, cmd, env)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer live.Close()

			live.Session.SelectGroup(args[0])
			if err := tui.Run(live.Session); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}

	addLiveFlags(cmd)
	return cmd
}
