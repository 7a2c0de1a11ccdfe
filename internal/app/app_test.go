package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"umabot/internal/config"
	"umabot/internal/inference"
	"umabot/internal/storage"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

const baseYAML = `
telegram:
  token: test-token
  admin_user_ids: [42]
logging:
  level: debug
  console: false
inference:
  api_key: test-key
batch:
  window: 50ms
broadcast:
  enabled: false
  daily_spec: "0 10 * * *"
  timezone: UTC
storage:
  driver: memory
`

type sent struct {
	op     string
	chatID int64
	text   string
}

type fakeAdapter struct {
	mu     sync.Mutex
	nextID int
	out    chan<- transport.Update
	sent   []sent
	logs   []string
}

func (f *fakeAdapter) record(s sent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s)
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	f.record(sent{op: "send", chatID: to.ChatID, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: id}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, ref transport.MessageRef, text string, _ *transport.SendOptions) error {
	f.record(sent{op: "edit", chatID: ref.ChatID, text: text})
	return nil
}

func (f *fakeAdapter) DeleteMessage(context.Context, transport.MessageRef) error { return nil }

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.out = nil
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) FileURL(_ context.Context, fileID string) (string, error) {
	return "https://files.test/" + fileID, nil
}

func (f *fakeAdapter) SendChatAction(context.Context, transport.ChatTarget, transport.ChatAction) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) SendLog(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, text)
	return nil
}

func (f *fakeAdapter) push(t *testing.T, up transport.Update) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	require.NotNil(t, out, "adapter not started")
	out <- up
}

func (f *fakeAdapter) hasEdit(chatID int64, substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if s.op == "edit" && s.chatID == chatID && strings.Contains(s.text, substr) {
			return true
		}
	}
	return false
}

type echoBackend struct{}

func (echoBackend) AnswerText(_ context.Context, text string, _ []storage.Turn, _ bool) (string, error) {
	return "echo: " + text, nil
}

func (echoBackend) AnswerImage(context.Context, inference.Blob, string, []storage.Turn) (string, error) {
	return "an image", nil
}

func (echoBackend) AnswerImages(_ context.Context, images []inference.Blob, _ string, _ []storage.Turn) (string, error) {
	return "images", nil
}

func (echoBackend) Transcribe(context.Context, inference.Blob) (string, error) { return "hello", nil }

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, string, int64) (inference.Blob, error) {
	return inference.Blob{Data: []byte{1}, MIMEType: "image/jpeg"}, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvTelegramToken, "")
	t.Setenv(config.EnvGroqAPIKey, "")
	t.Setenv(config.EnvAdminUserID, "")
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func newTestApp(t *testing.T, body string) (*App, *fakeAdapter, string) {
	t.Helper()
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, p, body)

	ad := &fakeAdapter{}
	a, err := New(p, WithAdapter(ad), WithBackend(echoBackend{}), WithFetcher(nopFetcher{}))
	require.NoError(t, err)
	return a, ad, p
}

func textUpdate(userID int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 1, ChatID: userID, FromID: userID, FromFirstName: "Ann", Text: text, Date: time.Now(),
	}}
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	clearEnv(t)
	p := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, p, "telegram:\n  token: x\n")

	_, err := New(p, WithAdapter(&fakeAdapter{}))
	require.ErrorContains(t, err, "inference.api_key")
}

func TestTextMessageRoundTrip(t *testing.T) {
	a, ad, _ := newTestApp(t, baseYAML)
	require.NoError(t, a.Start(context.Background()))

	ad.push(t, textUpdate(7, "ping"))
	require.Eventually(t, func() bool { return ad.hasEdit(7, "echo: ping") }, 3*time.Second, 10*time.Millisecond)

	hist, err := a.store.History(context.Background(), 7, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, "ping", hist[0].Input.Text)

	stopApp(t, a)
	select {
	case <-a.Done():
	default:
		t.Fatal("app context still live after Stop")
	}
	require.NoError(t, a.Err())
}

func TestOpsHealthz(t *testing.T) {
	body := baseYAML + `
ops:
  enabled: true
  addr: 127.0.0.1:0
`
	a, _, _ := newTestApp(t, body)
	require.NotNil(t, a.Ops())
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	addr := a.Ops().Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	require.Equal(t, "ok", h.Status)
	for _, name := range []string{"router", "dispatch", "albums", "broadcast"} {
		require.Contains(t, h.Components, name)
	}
}

func TestHotReloadAppliesLiveSections(t *testing.T) {
	a, _, p := newTestApp(t, baseYAML)
	require.NoError(t, a.Start(context.Background()))
	defer stopApp(t, a)

	require.False(t, a.sched.Snapshot().Running)

	next := strings.Replace(baseYAML, "enabled: false", "enabled: true", 1)
	next = strings.Replace(next, "admin_user_ids: [42]", "admin_user_ids: [42, 43]", 1)

	// Rewrite until the watcher, which starts asynchronously, has picked it up.
	require.Eventually(t, func() bool {
		if a.sched.Snapshot().Running {
			return true
		}
		_ = os.WriteFile(p, []byte(next), 0o600)
		return false
	}, 10*time.Second, 500*time.Millisecond)
	require.Equal(t, []int64{42, 43}, a.cfgm.Get().Telegram.AdminUserIDs)
}

func (f *fakeAdapter) sentTo(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.op == "send" && s.chatID == chatID {
			n++
		}
	}
	return n
}

func TestStopWaitsForScheduledFanOut(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	body := strings.Replace(baseYAML, "enabled: false", "enabled: true\n  tick: 50ms\n  pacing: 250ms", 1)
	body = strings.Replace(body, "driver: memory", "driver: file\n  path: "+statePath, 1)

	a, ad, _ := newTestApp(t, body)
	ctx := context.Background()

	// 16 recipients at 250ms each keep the fan-out busy for almost 4s.
	const users = 16
	for id := int64(1); id <= users; id++ {
		require.NoError(t, a.store.AddUser(ctx, id, "", ""))
	}
	past := time.Now().Add(-time.Minute)
	jobID, err := a.store.CreateBroadcastJob(ctx, "maintenance tonight", &past)
	require.NoError(t, err)

	require.NoError(t, a.Start(ctx))
	require.Eventually(t, func() bool { return ad.sentTo(1) > 0 }, 3*time.Second, 10*time.Millisecond)

	stopApp(t, a)
	require.Equal(t, 1, ad.sentTo(users), "fan-out cut short by shutdown")

	st, err := storage.Open(storage.Config{Driver: "file", Path: statePath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	jobs, err := st.ListUnsentJobs(ctx)
	require.NoError(t, err)
	for _, j := range jobs {
		require.NotEqual(t, jobID, j.ID, "job left unsent after shutdown")
	}
}

func TestReasonFromSignal(t *testing.T) {
	require.Equal(t, StopSIGINT, ReasonFromSignal(os.Interrupt))
	require.Equal(t, StopAppStop, ReasonFromSignal(nil))
}
