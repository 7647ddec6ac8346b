package command

import (
	"errors"
	"fmt"

	"github.com/adamavenir/ledgersync/internal/api"
	"github.com/spf13/cobra"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if errors.Is(err, api.ErrNotFound) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hint: run `%s groups` to list the groups the server knows.\n", AppName)
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 401 {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: set --token or LEDGERSYNC_TOKEN.")
	}

	return err
}
