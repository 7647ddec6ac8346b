package command

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewGroupsCmd creates the groups command.
func NewGroupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List groups on the console server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := GetEnv(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			groups, err := env.Client.Groups(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if groups == nil {
				groups = []types.Group{}
			}
			sort.Slice(groups, func(i, j int) bool {
				if groups[i].Title == groups[j].Title {
					return groups[i].ID < groups[j].ID
				}
				return groups[i].Title < groups[j].Title
			})

			if env.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"groups": groups})
			}

			out := cmd.OutOrStdout()
			if len(groups) == 0 {
				fmt.Fprintln(out, "No groups")
				return nil
			}
			fmt.Fprintf(out, "Groups (%d):\n", len(groups))
			for _, group := range groups {
				fmt.Fprintf(out, "  %s  %s  %s%s\n", group.ID, group.Title, groupState(group), updatedSuffix(group.UpdatedAt))
			}
			return nil
		},
	}

	return cmd
}

func groupState(group types.Group) string {
	state := group.State
	if state == "" {
		state = "idle"
		if group.Running {
			state = "running"
		}
	}
	if label := group.ScopeLabel(); label != "" {
		state += " @" + label
	}
	return state
}

func updatedSuffix(raw string) string {
	if raw == "" {
		return ""
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return ""
	}
	return " (updated " + humanize.Time(ts) + ")"
}
