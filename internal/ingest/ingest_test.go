package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttlogic/internal/events"
	"mqttlogic/internal/storage"
	"mqttlogic/internal/task/engine"
	"mqttlogic/internal/task/scheduler"
	"mqttlogic/internal/testutil"
	"mqttlogic/internal/topic"
	"mqttlogic/internal/value"
	"mqttlogic/pkg/logx"
)

type inlineRunner struct{}

func (inlineRunner) Submit(_ context.Context, t engine.Task) error { return inlineRunner{}.Enqueue(t) }

func (inlineRunner) Enqueue(t engine.Task) error {
	err := t.Run(context.Background())
	if t.Done != nil {
		t.Done(err)
	}
	return nil
}

type sent struct {
	topic   string
	payload string
	retain  bool
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (f *fakeSender) Publish(_ context.Context, topicName string, payload []byte, retain bool) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{topicName, string(payload), retain})
	f.mu.Unlock()
	return nil
}

type fakeStats struct {
	ingested, retained, published, failed int
}

func (s *fakeStats) MessageIngested(retained bool) {
	s.ingested++
	if retained {
		s.retained++
	}
}

func (s *fakeStats) Published(err error) {
	if err != nil {
		s.failed++
		return
	}
	s.published++
}

type memJournal struct{ entries []storage.Entry }

func (j *memJournal) Append(_ context.Context, e storage.Entry) error {
	j.entries = append(j.entries, e)
	return nil
}

func TestIngestMessage(t *testing.T) {
	t.Parallel()
	store := topic.NewStore(nil)
	reg := events.New(inlineRunner{}, logx.Nop(), nil)
	stats := &fakeStats{}
	p := NewPipeline(store, reg, stats, logx.Nop())

	var got []events.Event
	_, err := reg.Register("sensor//temp", func(_ context.Context, ev events.Event) error {
		got = append(got, ev)
		return nil
	}, events.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	p.IngestMessage(ctx, "sensor/status/temp", []byte(`{"val": 21.5, "unit": "C"}`), true)
	assert.Empty(t, got, "retained messages only fill the cache")

	st := p.IngestMessage(ctx, "sensor/status/temp", []byte(`{"val": 22, "unit": "C"}`), false)
	require.Len(t, got, 1)
	assert.Equal(t, "sensor//temp", got[0].Topic)
	assert.True(t, got[0].Value.Equal(value.Int(22)))
	assert.True(t, got[0].Previous.Equal(value.Number(21.5)))
	unit, ok := got[0].Full.Field("unit")
	require.True(t, ok)
	assert.Equal(t, "C", unit.String())
	assert.False(t, st.WasRefreshed())

	assert.Equal(t, 2, stats.ingested)
	assert.Equal(t, 1, stats.retained)
}

func TestIngestDecoding(t *testing.T) {
	t.Parallel()

	cases := []struct {
		payload string
		want    value.Value
	}{
		{`{"val": true}`, value.Int(1)},
		{`{"val": "on"}`, value.String("on")},
		{`[1, 2]`, value.List(value.Int(1), value.Int(2))},
		{`{"a": 1}`, value.Map(map[string]value.Value{"a": value.Int(1)})},
		{`3.25`, value.Number(3.25)},
		{`true`, value.Bool(true)},
		{`42`, value.Int(42)},
		{`05`, value.String("05")},
		{`{broken`, value.String("{broken")},
	}
	for _, tc := range cases {
		t.Run(tc.payload, func(t *testing.T) {
			t.Parallel()
			store := topic.NewStore(nil)
			p := NewPipeline(store, nil, nil, logx.Nop())
			st := p.IngestMessage(context.Background(), "x/status/y", []byte(tc.payload), false)
			assert.True(t, tc.want.Equal(st.CurrentValue()), "got %s", st.CurrentValue())
		})
	}
}

func newPublisher(t *testing.T) (*Publisher, *fakeSender, *topic.Store, *testutil.FakeClock, *scheduler.Service, *memJournal) {
	t.Helper()
	clk := testutil.NewFakeClock(time.Date(2026, 4, 10, 10, 0, 0, 0, time.UTC))
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, inlineRunner{}, logx.Nop(), nil, scheduler.WithClock(clk))
	t.Cleanup(func() { sched.Stop(context.Background()) })
	send := &fakeSender{}
	store := topic.NewStore(nil)
	j := &memJournal{}
	p := NewPublisher(topic.Namer{}, store, logx.Nop(), WithSender(send), WithTimers(sched), WithJournal(j))
	return p, send, store, clk, sched, j
}

func TestPublishHelpers(t *testing.T) {
	t.Parallel()
	p, send, _, _, _, j := newPublisher(t)
	ctx := context.Background()

	require.NoError(t, p.SetValue(ctx, "light//kitchen", value.Bool(true)))
	require.NoError(t, p.StoreValue(ctx, "$mode", value.String("away")))
	require.NoError(t, p.RequestValue(ctx, "light//kitchen"))
	require.NoError(t, p.Publish(ctx, "raw/topic", value.Number(1.0/3), false))

	assert.Equal(t, []sent{
		{"light/set/kitchen", "1", false},
		{"logic/set/mode", "away", true},
		{"light/get/kitchen", "?", false},
		{"raw/topic", "0.33333333", false},
	}, send.msgs)
	require.Len(t, j.entries, 4)
	assert.Equal(t, storage.KindPublish, j.entries[1].Kind)
	assert.True(t, j.entries[1].Retain)
}

func TestPublishFailure(t *testing.T) {
	t.Parallel()
	stats := &fakeStats{}
	j := &memJournal{}
	p := NewPublisher(topic.Namer{}, topic.NewStore(nil), logx.Nop(), WithJournal(j), WithStats(stats))

	err := p.SetValue(context.Background(), "a//b", value.Int(1))
	assert.ErrorIs(t, err, ErrNoTransport)

	unavailable := errors.New("not connected")
	p.SetSender(&fakeSender{err: unavailable})
	err = p.SetValue(context.Background(), "a//b", value.Int(1))
	assert.ErrorIs(t, err, unavailable)

	assert.Equal(t, 2, stats.failed)
	require.Len(t, j.entries, 2)
	assert.Equal(t, "not connected", j.entries[1].Error)
}

func TestQueueValue(t *testing.T) {
	t.Parallel()
	p, send, _, clk, sched, _ := newPublisher(t)

	_, err := p.QueueValue("in 5 minutes", "light//hall", value.Int(0))
	require.NoError(t, err)
	_, err = p.QueueStore("in 10 minutes", "light//hall", value.Int(1))
	require.NoError(t, err)
	_, err = p.QueueValue("in 1 minute", "light//porch", value.Int(1))
	require.NoError(t, err)
	assert.Equal(t, 2, sched.Count("_SET_light/set/hall"))

	list := sched.List()
	require.Len(t, list, 3)
	assert.Equal(t, "publish light/set/hall=0", list[0].Callback)

	assert.Equal(t, 1, p.ClearQueue("light//porch"))
	assert.Equal(t, 0, p.ClearQueue("light//porch"))

	clk.Advance(10 * time.Minute)
	assert.Equal(t, []sent{
		{"light/set/hall", "0", false},
		{"light/set/hall", "1", true},
	}, send.msgs)

	_, err = p.QueueValue("bogus words", "a//b", value.Int(1))
	assert.ErrorIs(t, err, scheduler.ErrInvalidTimeSpecification)
}

func TestGetters(t *testing.T) {
	t.Parallel()
	p, _, store, _, _, _ := newPublisher(t)

	store.Store("room/status/temp", value.Int(20))
	store.Store("room/status/temp", value.Int(21))
	store.Store("room/status/hum", value.Int(40))
	store.Store("logic/status/mode", value.String("home"))

	v, ok := p.GetValue("room//temp", 0)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Int(21)))
	v, ok = p.GetValue("room//temp", 1)
	require.True(t, ok)
	assert.True(t, v.Equal(value.Int(20)))
	_, ok = p.GetValue("room//temp", 2)
	assert.False(t, ok)
	_, ok = p.GetTimestamp("room//temp", 0)
	assert.True(t, ok)

	v, ok = p.GetValue("$mode", 0)
	require.True(t, ok)
	assert.Equal(t, "home", v.String())

	vals, err := p.GetValues("room//.*")
	require.NoError(t, err)
	assert.Len(t, vals, 2)
	assert.Contains(t, vals, "room/status/hum")

	_, err = p.GetValues("room//(")
	assert.Error(t, err)
}
