// Package cli is the mqttlogic command line.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "./mqttlogic.yaml"

// ErrReported is returned by commands that already printed their error.
var ErrReported = errors.New("error already reported")

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Version    string
}

// NewRootCommand creates the root command. version is printed by the
// version command and the console greeting.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "mqttlogic",
		Short: "mqttlogic - rule engine for an MQTT home automation bus",
		Long: `Runs event and timer driven rules against the topics of an MQTT bus.

Handlers fire on topic updates, timers fire on cron, natural language
and sunrise/sunset specs, and results are published back to the bus.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "config file (json or yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewParseTimeCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}
