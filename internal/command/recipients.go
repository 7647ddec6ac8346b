package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adamavenir/ledgersync/internal/recipients"
	"github.com/adamavenir/ledgersync/internal/types"
	"github.com/spf13/cobra"
)

// NewRecipientsCmd creates the recipients command.
func NewRecipientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients <group> [destination]",
		Short: "Show who a message to a group would reach",
		Long:  "Resolve the recipient roster and scope label of destination (default: group).",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := GetEnv(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			destination := args[0]
			if len(args) == 2 && args[1] != "" {
				destination = args[1]
			}

			done := make(chan struct{}, 1)
			resolver := recipients.New(recipients.Options{
				Fetcher: env.Client,
				Logger:  env.Logger,
				Timeout: env.Config.RequestTimeout,
				OnChange: func(string) {
					select {
					case done <- struct{}{}:
					default:
					}
				},
			})
			defer resolver.Close()

			// Resolving with no selected group always goes to the server.
			result := resolver.Resolve("", destination)
			if result.Busy {
				select {
				case <-done:
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(env.Config.RequestTimeout + time.Second):
				}
				if !resolver.Cached(destination) {
					return writeCommandError(cmd, fmt.Errorf("could not resolve recipients for %s", destination))
				}
				result = resolver.Resolve("", destination)
			}

			actors := result.Actors
			if actors == nil {
				actors = []types.Actor{}
			}
			if env.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"group":       destination,
					"scope_label": result.ScopeLabel,
					"actors":      actors,
				})
			}

			out := cmd.OutOrStdout()
			header := destination
			if result.ScopeLabel != "" {
				header += " @" + result.ScopeLabel
			}
			fmt.Fprintf(out, "%s (%d actors):\n", header, len(actors))
			for _, line := range formatActors(actors) {
				fmt.Fprintf(out, "  %s\n", line)
			}
			return nil
		},
	}

	return cmd
}
