package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "notifyd/pkg/logx"

	"github.com/stretchr/testify/require"
)

func record(i int) Record {
	base := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	return Record{
		ID:          "n" + string(rune('a'+i)),
		Account:     "acct",
		Priority:    "high",
		Created:     base,
		ScheduledAt: base.Add(time.Duration(i) * time.Minute),
		Seq:         uint64(i),
		Rule:        "spacing",
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		require.Nil(t, st)
	}
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
}

func TestJournalDrivers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  func(dir string) Config
	}{
		{name: "file", cfg: func(dir string) Config {
			return Config{Driver: "file", Path: filepath.Join(dir, "state", "notifyd.db")}
		}},
		{name: "sqlite", cfg: func(dir string) Config {
			return Config{Driver: "sqlite", Path: filepath.Join(dir, "notifyd.db"), BusyTimeout: time.Second}
		}},
		{name: "sqlite memory", cfg: func(string) Config {
			return Config{Driver: "sqlite", Path: ":memory:"}
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, err := Open(tt.cfg(t.TempDir()), logx.Nop())
			require.NoError(t, err)
			require.NotNil(t, st)
			defer st.Close()

			for i := 0; i < 5; i++ {
				require.NoError(t, st.AppendSchedule(ctx, record(i)))
			}

			got, err := st.RecentSchedule(ctx, 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			require.Equal(t, []uint64{4, 3, 2}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
			require.True(t, got[0].ScheduledAt.Equal(record(4).ScheduledAt))
			require.Equal(t, "acct", got[0].Account)
			require.Equal(t, "spacing", got[0].Rule)
			require.False(t, got[0].At.IsZero())

			all, err := st.RecentSchedule(ctx, 100)
			require.NoError(t, err)
			require.Len(t, all, 5)

			none, err := st.RecentSchedule(ctx, 0)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestFileJournalLayoutAndMalformedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "notifyd.json")}, logx.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.AppendSchedule(ctx, record(0)))
	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	journal := filepath.Join(dir, "notifyd.schedule.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	st, err = Open(Config{Driver: "file", Path: filepath.Join(dir, "notifyd.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.AppendSchedule(ctx, record(1)))

	got, err := st.RecentSchedule(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint64(1), got[0].Seq)
	require.Equal(t, uint64(0), got[1].Seq)
}
