package broadcast

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"umabot/internal/storage"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

type sent struct {
	chatID int64
	text   string
}

type fakeMessenger struct {
	mu   sync.Mutex
	fail map[int64]bool
	out  []sent
	// after runs once each send attempt completes.
	after func(chatID int64)
}

func (f *fakeMessenger) Send(_ context.Context, chatID int64, text string, _ *transport.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.after != nil {
		defer f.after(chatID)
	}
	if f.fail[chatID] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	f.out = append(f.out, sent{chatID: chatID, text: text})
	return nil
}

func (f *fakeMessenger) sent() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.out...)
}

func newTestScheduler(t *testing.T, cfg Config, users ...int64) (*Scheduler, storage.Store, *fakeMessenger) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, id := range users {
		require.NoError(t, st.AddUser(ctx, id, "", ""))
	}
	if cfg.Pacing == 0 {
		cfg.Pacing = time.Millisecond
	}
	msgr := &fakeMessenger{fail: map[int64]bool{}}
	s, err := New(cfg, Deps{Store: st, Messenger: msgr})
	require.NoError(t, err)
	return s, st, msgr
}

func TestUnscheduledJobIsNeverAutoDelivered(t *testing.T) {
	s, st, msgr := newTestScheduler(t, Config{}, 1, 2)
	ctx := context.Background()

	_, err := st.CreateBroadcastJob(ctx, "draft", nil)
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(ctx, now, now.Add(time.Minute)))
		now = now.Add(time.Minute)
	}
	require.Empty(t, msgr.sent())

	jobs, err := st.ListUnsentJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestPastJobDeliveredExactlyOnce(t *testing.T) {
	s, st, msgr := newTestScheduler(t, Config{}, 1, 2, 3)
	ctx := context.Background()

	now := time.Now()
	_, err := s.Schedule(ctx, "hello all", now.Add(-time.Hour))
	require.NoError(t, err)
	future, err := s.Schedule(ctx, "later", now.Add(time.Hour))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Tick(ctx, now, now.Add(time.Second)))
		now = now.Add(time.Second)
	}
	got := msgr.sent()
	require.Len(t, got, 3)
	for _, m := range got {
		require.Equal(t, "hello all", m.text)
	}

	jobs, err := st.ListUnsentJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, future, jobs[0].ID)
}

func TestFanOutCountsFailures(t *testing.T) {
	s, _, msgr := newTestScheduler(t, Config{})
	msgr.fail[2] = true

	res := s.FanOut(context.Background(), SourceManual, []int64{1, 2, 3}, "hi")
	require.Equal(t, Result{Success: 2, Total: 3}, res)
	require.Equal(t, 1, res.Failed())
	require.Len(t, msgr.sent(), 2)
}

func TestFanOutInterruptReportsUnattempted(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgr := &fakeMessenger{fail: map[int64]bool{2: true}, after: func(id int64) {
		if id == 2 {
			cancel()
		}
	}}
	s, err := New(Config{Pacing: time.Millisecond}, Deps{Store: st, Messenger: msgr, Log: logx.NewWriter(&buf, "debug")})
	require.NoError(t, err)

	// 1 delivered, 2 failed, 3 and 4 never attempted.
	res := s.FanOut(ctx, SourceManual, []int64{1, 2, 3, 4}, "hi")
	require.Equal(t, Result{Success: 1, Total: 4}, res)
	require.Len(t, msgr.sent(), 1)
	require.Contains(t, buf.String(), `"message":"broadcast interrupted"`)
	require.Contains(t, buf.String(), `"remaining":2`)
}

func TestFanOutIsPaced(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{Pacing: 20 * time.Millisecond})

	start := time.Now()
	s.FanOut(context.Background(), SourceManual, []int64{1, 2, 3, 4}, "hi")
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestSendManualTargetsOneOrAll(t *testing.T) {
	s, st, msgr := newTestScheduler(t, Config{}, 10, 20)
	ctx := context.Background()

	res, err := s.SendManual(ctx, "test", 10)
	require.NoError(t, err)
	require.Equal(t, Result{Success: 1, Total: 1}, res)

	res, err = s.SendManual(ctx, "all", 0)
	require.NoError(t, err)
	require.Equal(t, Result{Success: 2, Total: 2}, res)
	require.Len(t, msgr.sent(), 3)

	jobs, err := st.ListUnsentJobs(ctx)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestDailyFiresOncePerWindow(t *testing.T) {
	cfg := Config{DailySpec: "0 10 * * *", Timezone: "UTC", DailyMessages: []string{"promo"}}
	s, _, msgr := newTestScheduler(t, cfg, 1)
	ctx := context.Background()

	at := func(h, m int) time.Time { return time.Date(2026, 3, 4, h, m, 0, 0, time.UTC) }

	require.NoError(t, s.Tick(ctx, at(9, 58), at(9, 59)))
	require.Empty(t, msgr.sent())

	require.NoError(t, s.Tick(ctx, at(9, 59), at(10, 0)))
	require.Len(t, msgr.sent(), 1)

	require.NoError(t, s.Tick(ctx, at(10, 0), at(10, 1)))
	require.NoError(t, s.Tick(ctx, at(10, 1), at(10, 2)))
	require.Len(t, msgr.sent(), 1)
	require.Equal(t, at(10, 0), s.Snapshot().LastDaily)
}

func TestDailySkippedWithEmptyPool(t *testing.T) {
	cfg := Config{DailySpec: "0 10 * * *", Timezone: "UTC"}
	s, _, msgr := newTestScheduler(t, cfg, 1)

	prev := time.Date(2026, 3, 4, 9, 59, 0, 0, time.UTC)
	require.NoError(t, s.Tick(context.Background(), prev, prev.Add(time.Minute)))
	require.Empty(t, msgr.sent())
}

func TestInvalidDailySpec(t *testing.T) {
	_, err := New(Config{DailySpec: "every day"}, Deps{})
	require.Error(t, err)

	_, err = New(Config{Timezone: "Mars/Olympus"}, Deps{})
	require.Error(t, err)
}

func TestStartStopIdempotent(t *testing.T) {
	s, _, msgr := newTestScheduler(t, Config{Tick: 5 * time.Millisecond}, 1)
	ctx := context.Background()

	_, err := s.Schedule(ctx, "soon", time.Now().Add(-time.Second))
	require.NoError(t, err)

	s.Start(ctx)
	s.Start(ctx)
	require.True(t, s.Snapshot().Running)

	require.Eventually(t, func() bool { return len(msgr.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	require.NoError(t, s.Stop(stopCtx))
	require.False(t, s.Snapshot().Running)
	require.Len(t, msgr.sent(), 1)
}
