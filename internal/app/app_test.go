package app

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttlogic/internal/config"
	"mqttlogic/internal/storage"
	"mqttlogic/internal/task/engine"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := fmt.Sprintf(`{
  "mqtt": {"disabled": true, "prefix": "logic/"},
  "location": {"lat": 52.5, "lon": 13.4},
  "scheduler": {"timezone": "UTC"},
  "console": {"enabled": true, "addr": "127.0.0.1:0"},
  "metrics": {"enabled": false},
  "storage": {"driver": "file", "path": %q},
  "logging": {"level": "error", "console": false},
  "rules": [
    {"name": "door", "pattern": "sensor//door", "values": [1],
     "publish": {"topic": "hall//light", "value": "on"}}
  ],
  "timers": [
    {"name": "night", "spec": "0 22 * * *", "publish": {"topic": "hall//light", "value": 0}}
  ]
}`, filepath.Join(dir, "journal"))
	path := filepath.Join(dir, "mqttlogic.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func startApp(t *testing.T) *App {
	t.Helper()
	a, err := New(writeConfig(t, t.TempDir()), "test")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopAppStop)
	})
	return a
}

func TestNewMissingConfig(t *testing.T) {
	t.Parallel()
	_, err := New(filepath.Join(t.TempDir(), "nope.json"), "test")
	require.Error(t, err)
}

func TestStartInstallsConfiguredRules(t *testing.T) {
	t.Parallel()
	a := startApp(t)

	handlers, timers := a.host.Installed()
	assert.Equal(t, 1, handlers)
	assert.Equal(t, 1, timers)
	assert.Len(t, a.Timers().List(), 1)
	assert.Len(t, a.Events().List(), 1)

	lat, lon := a.Sun().Location()
	assert.InDelta(t, 52.5, lat, 1e-9)
	assert.InDelta(t, 13.4, lon, 1e-9)

	ok, _ := a.health()
	assert.True(t, ok)
}

func TestRuleFiresIntoJournal(t *testing.T) {
	t.Parallel()
	a := startApp(t)

	a.pipe.IngestMessage(context.Background(), "sensor/status/door", []byte("1"), false)

	// no bus: the publish fails and both the attempt and the failed
	// callback are journaled
	require.Eventually(t, func() bool {
		entries, err := a.journal.Recent(context.Background(), 10)
		if err != nil {
			return false
		}
		var pub, failed bool
		for _, e := range entries {
			switch e.Kind {
			case storage.KindPublish:
				pub = e.Topic == "hall/set/light" && e.Payload == "on" && e.Error != ""
			case storage.KindCallbackFailure:
				failed = true
			}
		}
		return pub && failed
	}, 3*time.Second, 10*time.Millisecond)

	v, ok := a.Publisher().GetValue("sensor//door", 0)
	require.True(t, ok)
	assert.Equal(t, "1", v.String())
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()
	a := startApp(t)

	old := a.cfgm.Get()
	next := *old
	lat, lon := 10.0, 20.0
	next.Location = config.LocationConfig{Latitude: &lat, Longitude: &lon}
	next.Rules = nil

	a.applyConfig(context.Background(), old, &next)

	handlers, timers := a.host.Installed()
	assert.Equal(t, 0, handlers)
	assert.Equal(t, 1, timers)
	gotLat, gotLon := a.Sun().Location()
	assert.InDelta(t, 10.0, gotLat, 1e-9)
	assert.InDelta(t, 20.0, gotLon, 1e-9)
}

func TestApplyEngineConfig(t *testing.T) {
	t.Parallel()
	a := startApp(t)

	old := a.cfgm.Get()
	next := *old
	next.Engine.Workers = 3
	next.Engine.HistorySize = 5

	a.applyConfig(context.Background(), old, &next)
	assert.Equal(t, 3, a.engine.Snapshot().Workers)

	// restarted workers still run rule callbacks
	a.pipe.IngestMessage(context.Background(), "sensor/status/door", []byte("1"), false)
	require.Eventually(t, func() bool {
		return len(a.engine.Snapshot().History) > 0
	}, 3*time.Second, 10*time.Millisecond)

	_, detail := a.health()
	eng, ok := detail.(map[string]any)["engine"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 3, eng["workers"])
	recent, ok := eng["recent"].([]engine.HistoryItem)
	require.True(t, ok)
	require.NotEmpty(t, recent)
	assert.Equal(t, "event:sensor//door", recent[0].Name)
}

func TestValidateRejectsBadPattern(t *testing.T) {
	t.Parallel()
	a := startApp(t)

	cfg := *a.cfgm.Get()
	cfg.Rules = []config.RuleConfig{{Name: "bad", Pattern: "sensor//(", Publish: config.PublishConfig{Topic: "x//y"}}}
	require.Error(t, a.validate(&cfg))
}

func TestConsoleServed(t *testing.T) {
	t.Parallel()
	a := startApp(t)

	conn, err := net.DialTimeout("tcp", a.console.Addr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))

	r := bufio.NewReader(conn)
	greeting, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, greeting, "mqttlogic test")

	_, err = fmt.Fprint(conn, "timers\r\n")
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "night")
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()
	a, err := New(writeConfig(t, t.TempDir()), "test")
	require.NoError(t, err)
	require.NoError(t, a.Stop(context.Background(), StopAppStop))
}
