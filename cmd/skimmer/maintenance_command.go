package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skimmer/internal/api"
)

func newMaintenanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "maintenance {on|off}",
		Short:     "Pause or resume all processing",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
				enabled = false
			default:
				return fmt.Errorf("expected \"on\" or \"off\", got %q", args[0])
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.SetMaintenance(cmd.Context(), enabled); err != nil {
				if api.IsUnavailable(err) {
					return fmt.Errorf("daemon is not reachable; start it with `skimmer daemon`")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "maintenance mode %s\n", args[0])
			return nil
		},
	}
}
