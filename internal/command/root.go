package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "ledgersync"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "ledgersync - live view of a console group's ledger",
		Long:          "ledgersync follows the event ledger of agent groups on a console server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/ledgersync/config.yaml)")
	cmd.PersistentFlags().String("base-url", "", "console server url")
	cmd.PersistentFlags().String("token", "", "bearer token")
	cmd.PersistentFlags().Bool("debug", false, "log debug output to stderr")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")

	cmd.AddCommand(
		NewGroupsCmd(),
		NewTailCmd(),
		NewWatchCmd(),
		NewRecipientsCmd(),
		NewOpenCmd(),
	)

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd(Version).Execute()
}
