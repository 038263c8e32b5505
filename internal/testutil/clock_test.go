package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClockFiresInOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	var got []string
	var at []time.Time
	c.AfterFunc(2*time.Minute, func() { got = append(got, "b"); at = append(at, c.Now()) })
	c.AfterFunc(time.Minute, func() {
		got = append(got, "a")
		at = append(at, c.Now())
		c.AfterFunc(30*time.Second, func() { got = append(got, "a2") })
	})
	stop := c.AfterFunc(time.Hour, func() { got = append(got, "never") })

	require.Equal(t, 3, c.Pending())
	c.Advance(5 * time.Minute)

	assert.Equal(t, []string{"a", "a2", "b"}, got)
	assert.Equal(t, start.Add(time.Minute), at[0])
	assert.Equal(t, start.Add(5*time.Minute), c.Now())

	assert.True(t, stop())
	assert.False(t, stop())
	c.Advance(2 * time.Hour)
	assert.Len(t, got, 3)
	assert.Equal(t, 0, c.Pending())
}
