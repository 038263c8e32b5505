package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := rootOpts.Version
			if v == "" {
				v = "dev"
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "mqttlogic", v)
			return err
		},
	}
}
