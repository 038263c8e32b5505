package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mqttlogic/internal/app"
	"mqttlogic/internal/config"
	"mqttlogic/internal/console"
)

// NewParseTimeCommand creates the parse-time command. The location and
// timezone come from the config file when it can be read.
func NewParseTimeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-time <spec>",
		Short: "Show when a time specification fires next",
		Long: `Parse a timer specification the way the scheduler does and print
the next fire time and the detected kind.

Examples:
  mqttlogic parse-time "every day at 7:30"
  mqttlogic parse-time "sunset + 20 minutes"
  mqttlogic parse-time "0 */5 * * *"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParseTime(rootOpts, strings.Join(args, " "), cmd)
		},
	}
}

func runParseTime(opts *RootOptions, spec string, cmd *cobra.Command) error {
	cfg, err := config.NewConfigManager(opts.ConfigPath).Load()
	if err != nil {
		if opts.Verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "config not loaded, using defaults: %v\n", err)
		}
		cfg = nil
	}

	out, _ := app.OfflineShell(cfg, opts.Version).Execute("PARSETIME " + spec)
	w := cmd.OutOrStdout()
	for _, line := range out {
		if line == console.Terminator {
			continue
		}
		if strings.HasPrefix(line, "Invalid time specification: ") {
			fmt.Fprintln(cmd.ErrOrStderr(), line)
			return ErrReported
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
