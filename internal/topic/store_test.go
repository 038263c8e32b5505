package topic

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttlogic/internal/value"
)

type tick struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tick) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore() *Store {
	c := &tick{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewStore(c.now)
}

func TestStoreHistories(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	seq := []value.Value{value.Int(1), value.Int(1), value.Int(2), value.String("2"), value.String("2"), value.Int(3)}
	var st State
	for i, v := range seq {
		st = s.Store("a/b", v)

		require.True(t, st.Raw[0].Value.Equal(v), "raw head after store %d", i)
		require.True(t, st.Changes[0].Value.Equal(st.Raw[0].Value), "change head == raw head after %d", i)
		if i > 0 {
			prevDistinct := seq[i-1]
			assert.Equal(t, v.Equal(prevDistinct), st.WasRefreshed(), "refresh flag after %d", i)
		}
	}

	require.Len(t, st.Raw, 6)
	require.Len(t, st.Changes, 4)
	assert.True(t, st.CurrentValue().Equal(value.Int(3)))
	assert.True(t, st.PreviousValue().Equal(value.String("2")))
	assert.True(t, st.Changes[1].RefreshedAt.After(st.Changes[1].FirstAt))
	assert.Equal(t, st.Changes[1].FirstAt, st.PreviousTimestamp())
}

func TestStoreRingsAreBounded(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	var st State
	for i := 0; i < 37; i++ {
		st = s.Store("x", value.Int(int64(i)))
	}
	require.Len(t, st.Raw, HistorySize)
	require.Len(t, st.Changes, HistorySize)
	assert.True(t, st.Raw[0].Value.Equal(value.Int(36)))
	assert.True(t, st.Raw[HistorySize-1].Value.Equal(value.Int(27)))

	for i := 0; i < 25; i++ {
		st = s.Store("x", value.Int(36))
	}
	require.Len(t, st.Raw, HistorySize)
	require.Len(t, st.Changes, HistorySize)
	assert.True(t, st.WasRefreshed())
}

func TestGetGenerations(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Store("t", value.String("a"))
	s.Store("t", value.String("b"))
	s.Store("t", value.String("b"))

	v, _, ok := s.Get("t", 0)
	require.True(t, ok)
	assert.Equal(t, "b", v.String())

	v, _, ok = s.Get("t", 1)
	require.True(t, ok)
	assert.Equal(t, "a", v.String())

	_, _, ok = s.Get("t", 2)
	assert.False(t, ok)
	_, _, ok = s.Get("missing", 0)
	assert.False(t, ok)
}

func TestGetAllMatching(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Store("hm/status/a/temp", value.Number(20.5))
	s.Store("hm/status/b/temp", value.Number(19))
	s.Store("hm/status/b/temperature", value.Number(1))

	re, err := CompileFull(`hm/status/[^/]+/temp`)
	require.NoError(t, err)
	got := s.GetAllMatching(re)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "hm/status/a/temp")
	assert.Contains(t, got, "hm/status/b/temp")
	assert.Equal(t, 3, s.Len())

	states := s.MatchingStates(re)
	require.Len(t, states, 2)
	assert.Equal(t, "hm/status/a/temp", states[0].Topic)
}

func TestStoreConcurrent(t *testing.T) {
	t.Parallel()

	s := NewStore(nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				st := s.Store(fmt.Sprintf("t/%d", i%5), value.Int(int64(w)))
				if !st.Changes[0].Value.Equal(st.Raw[0].Value) {
					t.Errorf("heads diverged for %s", st.Topic)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 5, s.Len())
}
