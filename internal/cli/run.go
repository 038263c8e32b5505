package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"mqttlogic/internal/app"
)

// stopTimeout bounds the whole shutdown sequence.
const stopTimeout = 10 * time.Second

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the bus and run the configured rules",
		Long: `Start the rule engine in the foreground.

Sends READY=1 to systemd once started and STOPPING=1 on SIGINT or
SIGTERM. Config file edits are applied without a restart where possible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			return runDaemon(cmd.Context(), rootOpts, sigs)
		},
	}
}

// lifecycle is the part of *app.App the run loop drives.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, reason app.StopReason) error
	Done() <-chan struct{}
	Err() error
}

func runDaemon(ctx context.Context, opts *RootOptions, sigs <-chan os.Signal) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(opts.ConfigPath, opts.Version, app.WithVerbose(opts.Verbose))
	if err != nil {
		return err
	}
	return serve(ctx, a, sigs, notify)
}

func notify(state string) {
	// not running under systemd is not an error
	_, _ = daemon.SdNotify(false, state)
}

func serve(ctx context.Context, a lifecycle, sigs <-chan os.Signal, notify func(string)) error {
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}
	notify(daemon.SdNotifyReady)

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = stopReason(sig)
	case <-a.Done():
		reason = app.StopFatalError
	case <-ctx.Done():
	}
	notify(daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		if err := a.Err(); err != nil {
			return err
		}
	}
	return stopErr
}

func stopReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
