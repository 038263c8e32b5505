package console

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttlogic/internal/events"
	"mqttlogic/internal/solar"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/value"
	"mqttlogic/pkg/logx"
)

var now = time.Date(2026, 4, 10, 10, 0, 0, 0, time.UTC)

type fakeTimers []scheduler.TimerInfo

func (f fakeTimers) List() []scheduler.TimerInfo { return f }
func (fakeTimers) Now() time.Time                { return now }

type fakeEvents []events.HandlerInfo

func (f fakeEvents) ListAll() []events.HandlerInfo { return f }

type fakeSun struct{}

func (fakeSun) Sunrise(h solar.Horizon, day time.Time) (time.Time, error) {
	y, m, d := day.Date()
	hm := map[solar.Horizon][2]int{
		solar.Astronomical: {5, 10},
		solar.Nautical:     {5, 50},
		solar.Civil:        {6, 30},
		solar.Official:     {7, 1},
	}[h]
	return time.Date(y, m, d, hm[0], hm[1], 0, 0, day.Location()), nil
}

func (fakeSun) Sunset(h solar.Horizon, day time.Time) (time.Time, error) {
	y, m, d := day.Date()
	switch h {
	case solar.Astronomical:
		return time.Time{}, solar.ErrNoEvent
	case solar.Nautical:
		return time.Date(y, m, d, 21, 5, 0, 0, day.Location()), nil
	case solar.Civil:
		return time.Date(y, m, d, 20, 20, 0, 0, day.Location()), nil
	}
	return time.Date(y, m, d, 19, 49, 0, 0, day.Location()), nil
}

func (fakeSun) IsDaylight(h solar.Horizon, _ time.Time) bool { return h != solar.Astronomical }

func testShell() *Shell {
	return NewShell(Deps{
		Version: "1.2.0",
		Timers: fakeTimers{
			{Name: "night", Next: time.Date(2026, 4, 10, 22, 0, 0, 0, time.UTC), Spec: "0 0 22 * * *", Callback: "rules.publishTimer"},
			{Name: "_SET_a/set/b", Spec: "in 5 minutes", Callback: "ingest.(*Publisher).queue.func1"},
		},
		Events: fakeEvents{
			{ID: 1, Pattern: "a//b", Change: true},
			{ID: 2, Pattern: "sensor//.*", Values: []value.Value{value.Int(1), value.String("on")}, OneShot: true},
		},
		Sun: fakeSun{},
	})
}

func TestCommandsGolden(t *testing.T) {
	t.Parallel()
	sh := testShell()
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))

	cases := []struct {
		name string
		line string
	}{
		{"help", "HELP"},
		{"timers", "TIMERS"},
		{"events", "events"},
		{"times", "TIMES"},
		{"parsetime", "PARSETIME in 2 hours"},
		{"parsetime_solar", "PARSETIME civil sunset"},
		{"unknown", "FROB now"},
	}
	for _, tc := range cases {
		out, quit := sh.Execute(tc.line)
		require.False(t, quit, tc.name)
		g.Assert(t, tc.name, []byte(strings.Join(out, "\n")+"\n"))
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()
	sh := testShell()

	out, quit := sh.Execute("   ")
	assert.Nil(t, out)
	assert.False(t, quit)

	_, quit = sh.Execute("QUIT")
	assert.True(t, quit)

	out, _ = sh.Execute("PARSETIME bogus words")
	require.Len(t, out, 2)
	assert.True(t, strings.HasPrefix(out[0], "Invalid time specification: "), out[0])
	assert.Equal(t, Terminator, out[1])

	out, _ = sh.Execute("PARSETIME")
	assert.Equal(t, []string{"Invalid time specification: missing argument", Terminator}, out)

	assert.Equal(t, "mqttlogic 1.2.0 - use HELP for list of commands", sh.Greeting())
}

func TestMissingDeps(t *testing.T) {
	t.Parallel()
	sh := NewShell(Deps{})

	for line, want := range map[string]string{
		"TIMERS": "-Scheduler not available",
		"EVENTS": "-Event registry not available",
		"TIMES":  "-Solar clock not configured",
	} {
		out, _ := sh.Execute(line)
		assert.Equal(t, []string{want, Terminator}, out, line)
	}
	assert.Equal(t, "mqttlogic dev - use HELP for list of commands", sh.Greeting())
}

func readUntilTerminator(t *testing.T, r *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		l, err := r.ReadString('\n')
		require.NoError(t, err)
		l = strings.TrimRight(l, "\n")
		if l == Terminator {
			return lines
		}
		lines = append(lines, l)
	}
}

func TestServerSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testShell(), logx.Nop())
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop(ctx)

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	greet, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "mqttlogic 1.2.0 - use HELP for list of commands\n", greet)

	_, err = conn.Write([]byte("EVENTS\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1\ta//b\t*\tCH", "2\tsensor//.*\t1,on\tUP\tONESHOT"}, readUntilTerminator(t, r))

	_, err = conn.Write([]byte("QUIT\n"))
	require.NoError(t, err)
	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

func TestServerStopClosesSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testShell(), logx.Nop())
	require.NoError(t, srv.Start(ctx))

	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	srv.Stop(stopCtx)

	_, err = r.ReadString('\n')
	assert.Error(t, err)
}

func TestDisabledServer(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, testShell(), logx.Nop())
	require.NoError(t, srv.Start(context.Background()))
	assert.Empty(t, srv.Addr())
	srv.Stop(context.Background())
}
