package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttlogic/internal/app"
)

func TestRootCommand(t *testing.T) {
	t.Parallel()
	cmd := NewRootCommand("1.2.3")
	require.NotNil(t, cmd)
	assert.Equal(t, "mqttlogic", cmd.Use)

	for _, name := range []string{"run", "parse-time", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	t.Parallel()
	cmd := NewRootCommand("")

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
	assert.Equal(t, DefaultConfigPath, cfg.DefValue)

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)
}

func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCommand("1.2.3")
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mqttlogic 1.2.3\n", out)
}

func TestParseTime(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "none.yaml")

	out, _, err := execute(t, "-c", missing, "parse-time", "in", "10", "minutes")
	require.NoError(t, err)
	assert.Regexp(t, `^\[\d{4}-\d\d-\d\d \d\d:\d\d:\d\d .+\]\tONCE\n$`, out)

	out, errOut, err := execute(t, "-c", missing, "parse-time", "bogus", "words")
	require.ErrorIs(t, err, ErrReported)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Invalid time specification")
}

func TestParseTimeUsesConfigTimezone(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "mqttlogic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  timezone: UTC\n"), 0o600))

	out, _, err := execute(t, "--config", path, "parse-time", "in 60 minutes")
	require.NoError(t, err)
	assert.Contains(t, out, "UTC]")
}

func TestRunMissingConfig(t *testing.T) {
	t.Parallel()
	_, _, err := execute(t, "-c", filepath.Join(t.TempDir(), "none.yaml"), "run")
	require.Error(t, err)
}

type fakeApp struct {
	mu       sync.Mutex
	startErr error
	fatal    error
	done     chan struct{}
	reason   app.StopReason
	stopped  int
}

func newFakeApp() *fakeApp { return &fakeApp{done: make(chan struct{})} }

func (f *fakeApp) Start(context.Context) error { return f.startErr }

func (f *fakeApp) Stop(_ context.Context, reason app.StopReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reason = reason
	f.stopped++
	return nil
}

func (f *fakeApp) Done() <-chan struct{} { return f.done }
func (f *fakeApp) Err() error            { return f.fatal }

type notices struct {
	mu     sync.Mutex
	states []string
}

func (n *notices) notify(s string) {
	n.mu.Lock()
	n.states = append(n.states, s)
	n.mu.Unlock()
}

func TestServeSignals(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sig  os.Signal
		want app.StopReason
	}{
		{"sigint", os.Interrupt, app.StopSIGINT},
		{"sigterm", syscall.SIGTERM, app.StopSIGTERM},
		{"other", syscall.SIGHUP, app.StopUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeApp()
			var n notices
			sigs := make(chan os.Signal, 1)
			sigs <- tt.sig

			require.NoError(t, serve(context.Background(), f, sigs, n.notify))
			assert.Equal(t, tt.want, f.reason)
			assert.Equal(t, 1, f.stopped)
			assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, n.states)
		})
	}
}

func TestServeStartError(t *testing.T) {
	t.Parallel()
	f := newFakeApp()
	f.startErr = errors.New("bind: address in use")
	var n notices

	err := serve(context.Background(), f, nil, n.notify)
	require.ErrorContains(t, err, "address in use")
	assert.Empty(t, n.states)
	assert.Equal(t, app.StopFatalError, f.reason)
}

func TestServeFatal(t *testing.T) {
	t.Parallel()
	f := newFakeApp()
	f.fatal = errors.New("config.watch: boom")
	close(f.done)
	var n notices

	err := serve(context.Background(), f, nil, n.notify)
	require.ErrorIs(t, err, f.fatal)
	assert.Equal(t, app.StopFatalError, f.reason)
}

func TestServeContextCanceled(t *testing.T) {
	t.Parallel()
	f := newFakeApp()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var n notices

	require.NoError(t, serve(ctx, f, nil, n.notify))
	assert.Equal(t, app.StopAppStop, f.reason)
}
