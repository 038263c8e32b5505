package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mqttlogic/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, st)
	}
	_, err := Open(Config{Driver: "bogus"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			cfg := Config{Driver: driver, Path: filepath.Join(dir, "journal.db"), MaxEntries: 5}
			st, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			ctx := context.Background()
			at := time.Date(2026, 4, 10, 10, 0, 0, 0, time.UTC)
			require.NoError(t, st.Append(ctx, Entry{At: at, Kind: KindPublish, Topic: "a/set/b", Payload: "1", Retain: true}))
			require.NoError(t, st.Append(ctx, Entry{
				At:     at.Add(time.Second),
				Kind:   KindCallbackFailure,
				Task:   "timer:x",
				Labels: map[string]string{"timer": "x", "spec": "@hourly"},
				Error:  "boom",
			}))

			got, err := st.Recent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "a/set/b", got[0].Topic)
			assert.True(t, got[0].Retain)
			assert.True(t, got[0].At.Equal(at))
			assert.Equal(t, KindCallbackFailure, got[1].Kind)
			assert.Equal(t, "@hourly", got[1].Labels["spec"])
			assert.Equal(t, "boom", got[1].Error)

			got, err = st.Recent(ctx, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "timer:x", got[0].Task)
		})
	}
}

func TestFileCompaction(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "j.json"), MaxEntries: 3}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	for i := range 7 {
		require.NoError(t, st.Append(ctx, Entry{Kind: KindPublish, Topic: "t", Payload: string(rune('a' + i))}))
	}
	got, err := st.Recent(ctx, 0)
	require.NoError(t, err)
	// Compacted to 3 at the 6th append, then one more.
	require.Len(t, got, 4)
	assert.Equal(t, "d", got[0].Payload)
	assert.Equal(t, "g", got[3].Payload)
}
