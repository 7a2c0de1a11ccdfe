package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"umabot/internal/batch"
	"umabot/internal/broadcast"
	"umabot/internal/delivery"
	"umabot/internal/dispatch"
	"umabot/internal/storage"
	"umabot/internal/transport"
	"umabot/pkg/logx"
)

type call struct {
	op     string
	chatID int64
	msgID  int
	text   string
	kb     *transport.Keyboard
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   int
	calls    []call
	answered []string
}

func (f *fakeTransport) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeTransport) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	c := call{op: "send", chatID: to.ChatID, msgID: id, text: text}
	if opt != nil {
		c.kb = opt.Keyboard
	}
	f.record(c)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: id}, nil
}

func (f *fakeTransport) EditText(_ context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	c := call{op: "edit", chatID: ref.ChatID, msgID: ref.MessageID, text: text}
	if opt != nil {
		c.kb = opt.Keyboard
	}
	f.record(c)
	return nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, ref transport.MessageRef) error {
	f.record(call{op: "delete", chatID: ref.ChatID, msgID: ref.MessageID})
	return nil
}

func (f *fakeTransport) FileURL(_ context.Context, fileID string) (string, error) {
	return "https://files.test/" + fileID, nil
}

func (f *fakeTransport) SendChatAction(_ context.Context, to transport.ChatTarget, action transport.ChatAction) error {
	f.record(call{op: "action", chatID: to.ChatID, text: string(action)})
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeTransport) ops(op string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

type fakeAnswerer struct {
	mu    sync.Mutex
	reqs  []dispatch.Request
	block chan struct{}
}

func (f *fakeAnswerer) Handle(_ context.Context, _ int64, req dispatch.Request) string {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return "answer: " + req.Text
}

func (f *fakeAnswerer) requests() []dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Request(nil), f.reqs...)
}

type albumCall struct {
	key  string
	item batch.Item
}

type fakeAlbums struct {
	mu    sync.Mutex
	items []albumCall
}

func (f *fakeAlbums) OnItem(_ context.Context, key string, _, _ int64, item batch.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, albumCall{key: key, item: item})
	return nil
}

type manualCall struct {
	text     string
	onlyUser int64
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	manual    []manualCall
	scheduled []time.Time
	texts     []string
}

func (f *fakeBroadcaster) SendManual(_ context.Context, text string, onlyUser int64) (broadcast.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manual = append(f.manual, manualCall{text: text, onlyUser: onlyUser})
	return broadcast.Result{Success: 2, Total: 3}, nil
}

func (f *fakeBroadcaster) Schedule(_ context.Context, text string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, at)
	f.texts = append(f.texts, text)
	return int64(len(f.scheduled)), nil
}

type harness struct {
	bot    *Bot
	tr     *fakeTransport
	store  storage.Store
	ans    *fakeAnswerer
	albums *fakeAlbums
	bcast  *fakeBroadcaster
}

const adminID = 42

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{
		tr:     &fakeTransport{},
		store:  st,
		ans:    &fakeAnswerer{},
		albums: &fakeAlbums{},
		bcast:  &fakeBroadcaster{},
	}
	if cfg.AdminIDs == nil {
		cfg.AdminIDs = []int64{adminID}
	}
	h.bot = New(cfg, Deps{
		Transport:   h.tr,
		Store:       st,
		Dispatcher:  h.ans,
		Albums:      h.albums,
		Broadcaster: h.bcast,
		Delivery:    delivery.New(delivery.Config{ParseMode: "HTML"}, h.tr, logx.Nop(), nil),
		Keyboards:   Keyboards{Website: "https://umaai.site"},
	})
	return h
}

// handle routes one update synchronously.
func (h *harness) handle(t *testing.T, up transport.Update) {
	t.Helper()
	req, fn := h.bot.match(up)
	require.NotNil(t, fn, "update was not routed")
	require.NoError(t, fn(context.Background(), req))
}

func textUpdate(from int64, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: 1, ChatID: from, FromID: from, FromUsername: "u", FromFirstName: "U", Text: text,
	}}
}

func callbackUpdate(from int64, msgID int, data string) transport.Update {
	return transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: "cb-1", FromID: from, ChatID: from, MessageID: msgID, Data: data,
	}}
}
