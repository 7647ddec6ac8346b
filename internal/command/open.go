package command

import (
	"encoding/json"
	"fmt"

	"github.com/adamavenir/ledgersync/internal/classify"
	"github.com/adamavenir/ledgersync/internal/nav"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/spf13/cobra"
)

// NewOpenCmd creates the open command.
func NewOpenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <address>",
		Short: "Print the window of events around a deep link",
		Long:  "Address is /groups/<group>/events/<event>, a full url with that path, or <group>#<event>.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := GetEnv(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			link, err := nav.ParseAddress(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			before, _ := cmd.Flags().GetInt("before")
			after, _ := cmd.Flags().GetInt("after")

			raw, found, err := env.Client.LedgerWindow(cmd.Context(), link.GroupID, link.EventID, before, after)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			window := types.Window{GroupID: link.GroupID, EventID: link.EventID, Found: found, Events: []types.Event{}}
			for _, entry := range raw {
				ev, err := classify.Decode(entry)
				if err != nil {
					env.Logger.Debug("skipping malformed window entry", "group", link.GroupID, "error", err)
					continue
				}
				window.Events = append(window.Events, ev)
			}

			if env.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(window)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, nav.Address(link.GroupID, link.EventID))
			if !found {
				fmt.Fprintf(out, "Event %s not found in %s\n", link.EventID, link.GroupID)
				return nil
			}
			for _, ev := range window.Events {
				marker := "  "
				if ev.ID == link.EventID {
					marker = "> "
				}
				fmt.Fprintln(out, marker+formatEvent(ev, nil))
			}
			return nil
		},
	}

	cmd.Flags().Int("before", 30, "events before the target")
	cmd.Flags().Int("after", 30, "events after the target")
	return cmd
}
