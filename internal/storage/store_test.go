package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, driver := range []string{"memory", "file", "sqlite"} {
		cfg := Config{Driver: driver}
		switch driver {
		case "file":
			cfg.Path = filepath.Join(dir, "state.json")
		case "sqlite":
			cfg.Path = filepath.Join(dir, "state.db")
		}
		st, err := Open(cfg, logxNop)
		require.NoError(t, err, driver)
		t.Cleanup(func() { _ = st.Close() })
		out[driver] = st
	}
	return out
}

func TestHistoryRetainsMostRecentFifty(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 60; i++ {
				require.NoError(t, st.AppendTurn(ctx, 7, Turn{
					Input:    TurnInput{Kind: KindText, Text: fmt.Sprintf("q%d", i)},
					Response: fmt.Sprintf("a%d", i),
				}))
			}
			all, err := st.History(ctx, 7, 0)
			require.NoError(t, err)
			require.Len(t, all, HistoryRetention)
			require.Equal(t, "q10", all[0].Input.Text)
			require.Equal(t, "q59", all[len(all)-1].Input.Text)

			last, err := st.History(ctx, 7, 10)
			require.NoError(t, err)
			require.Len(t, last, 10)
			require.Equal(t, "q50", last[0].Input.Text)

			require.NoError(t, st.ClearHistory(ctx, 7))
			all, err = st.History(ctx, 7, 0)
			require.NoError(t, err)
			require.Empty(t, all)
		})
	}
}

func TestTurnRefsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			refs := []string{"https://x/1.jpg", "https://x/2.jpg"}
			require.NoError(t, st.AppendTurn(ctx, 1, Turn{Input: TurnInput{Kind: KindImages, Text: "cap", Refs: refs}, Response: "ok"}))
			refs[0] = "mutated"
			h, err := st.History(ctx, 1, 1)
			require.NoError(t, err)
			require.Equal(t, []string{"https://x/1.jpg", "https://x/2.jpg"}, h[0].Input.Refs)
			require.False(t, h[0].At.IsZero())
		})
	}
}

func TestAddUserRefreshesProfile(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.GetUser(ctx, 42)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.AddUser(ctx, 42, "neo", "Thomas"))
			require.NoError(t, st.AddUser(ctx, 42, "", "Tom"))
			u, err := st.GetUser(ctx, 42)
			require.NoError(t, err)
			require.Equal(t, "neo", u.Username)
			require.Equal(t, "Tom", u.FirstName)
			require.True(t, u.Active)
			require.False(t, u.LastActivity.Before(u.RegisteredAt))

			require.NoError(t, st.AddUser(ctx, 3, "", ""))
			ids, err := st.ListActiveUsers(ctx)
			require.NoError(t, err)
			require.Equal(t, []int64{3, 42}, ids)
		})
	}
}

func TestMarkJobSentIsMonotone(t *testing.T) {
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			at := time.Now().Add(-time.Minute)
			id1, err := st.CreateBroadcastJob(ctx, "scheduled", &at)
			require.NoError(t, err)
			id2, err := st.CreateBroadcastJob(ctx, "unscheduled", nil)
			require.NoError(t, err)
			require.Greater(t, id2, id1)

			jobs, err := st.ListUnsentJobs(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 2)
			require.True(t, jobs[0].Due(time.Now()))
			require.False(t, jobs[1].Due(time.Now()))

			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- st.MarkJobSent(ctx, id1)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			jobs, err = st.ListUnsentJobs(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 1)
			require.Equal(t, id2, jobs[0].ID)

			require.ErrorIs(t, st.MarkJobSent(ctx, 9999), ErrNotFound)
		})
	}
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.Local)
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			setClock(st, func() time.Time { return now.AddDate(0, 0, -30) })
			require.NoError(t, st.AddUser(ctx, 1, "old", ""))
			setClock(st, func() time.Time { return now })
			require.NoError(t, st.AddUser(ctx, 2, "new", ""))

			turns := []Turn{
				{Input: TurnInput{Kind: KindText}, At: now},
				{Input: TurnInput{Kind: KindImage}, At: now.AddDate(0, 0, -2)},
				{Input: TurnInput{Kind: KindImages}, At: now.AddDate(0, 0, -20)},
				{Input: TurnInput{Kind: KindAudio}, At: now.Add(-time.Hour)},
			}
			for _, tn := range turns {
				require.NoError(t, st.AppendTurn(ctx, 1, tn))
			}

			s, err := st.Statistics(ctx, now)
			require.NoError(t, err)
			require.Equal(t, Statistics{
				TotalUsers:       2,
				ActiveToday:      1,
				NewThisWeek:      1,
				TotalMessages:    4,
				TextMessages:     1,
				ImageMessages:    2,
				AudioMessages:    1,
				MessagesToday:    2,
				MessagesThisWeek: 3,
			}, s)
		})
	}
}

func TestFileStoreReloadsSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logxNop)
	require.NoError(t, err)
	require.NoError(t, st.AddUser(ctx, 5, "u", "U"))
	require.NoError(t, st.AppendTurn(ctx, 5, Turn{Input: TurnInput{Kind: KindText, Text: "hi"}, Response: "hello"}))
	id, err := st.CreateBroadcastJob(ctx, "m", nil)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logxNop)
	require.NoError(t, err)
	defer st.Close()

	u, err := st.GetUser(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "u", u.Username)
	h, err := st.History(ctx, 5, 0)
	require.NoError(t, err)
	require.Len(t, h, 1)

	id2, err := st.CreateBroadcastJob(ctx, "m2", nil)
	require.NoError(t, err)
	require.Equal(t, id+1, id2)
}

func TestFileStoreFailedWriteLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "missing")
	st := newFileStore(filepath.Join(dir, "state.json"), logxNop)
	past := time.Now().Add(-time.Minute)

	id, err := st.CreateBroadcastJob(ctx, "hello", &past)
	require.Error(t, err)
	require.Zero(t, id)
	jobs, err := st.ListUnsentJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, jobs)

	require.Error(t, st.AddUser(ctx, 1, "u", "U"))
	_, err = st.GetUser(ctx, 1)
	require.ErrorIs(t, err, ErrNotFound)

	require.Error(t, st.AppendTurn(ctx, 1, Turn{Input: TurnInput{Kind: KindText, Text: "hi"}}))
	h, err := st.History(ctx, 1, 0)
	require.NoError(t, err)
	require.Empty(t, h)

	// Once the directory exists, ids continue from where the failed create left them.
	require.NoError(t, os.MkdirAll(dir, 0o755))
	id, err = st.CreateBroadcastJob(ctx, "hello", &past)
	require.NoError(t, err)
	require.Equal(t, int64(1), id)

	require.NoError(t, os.RemoveAll(dir))
	require.Error(t, st.MarkJobSent(ctx, id))
	jobs, err = st.ListUnsentJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestClosedStore(t *testing.T) {
	st, err := Open(Config{Driver: "memory"}, logxNop)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AddUser(context.Background(), 1, "", ""), ErrClosed)
}

func setClock(st Store, now func() time.Time) {
	switch s := st.(type) {
	case *fileStore:
		s.now = now
	case *sqliteStore:
		s.now = now
	}
}
