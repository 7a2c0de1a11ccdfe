package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"umabot/internal/inference"
	"umabot/internal/storage"
	"umabot/pkg/logx"
)

// fakeBackend records calls and tracks how many are in flight per user.
type fakeBackend struct {
	mu       sync.Mutex
	inFlight map[string]int
	maxSeen  map[string]int
	overlap  atomic.Int32 // calls that ran while another user's call was in flight

	delay       time.Duration
	err         error
	transcript  string
	textCalls   []string
	searchFlags []bool
	imageCounts []int
	histories   [][]storage.Turn
	current     atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{inFlight: map[string]int{}, maxSeen: map[string]int{}}
}

// key is the prompt owner: tests prefix prompts with "u<id>:".
func (f *fakeBackend) enter(key string) {
	f.mu.Lock()
	f.inFlight[key]++
	if f.inFlight[key] > f.maxSeen[key] {
		f.maxSeen[key] = f.inFlight[key]
	}
	f.mu.Unlock()
	if f.current.Add(1) > 1 {
		f.overlap.Add(1)
	}
	time.Sleep(f.delay)
}

func (f *fakeBackend) leave(key string) {
	f.current.Add(-1)
	f.mu.Lock()
	f.inFlight[key]--
	f.mu.Unlock()
}

func owner(s string) string {
	if i := strings.IndexByte(s, ':'); i > 0 {
		return s[:i]
	}
	return ""
}

func (f *fakeBackend) AnswerText(ctx context.Context, text string, history []storage.Turn, search bool) (string, error) {
	f.enter(owner(text))
	defer f.leave(owner(text))
	f.mu.Lock()
	f.textCalls = append(f.textCalls, text)
	f.searchFlags = append(f.searchFlags, search)
	f.histories = append(f.histories, history)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "<h2>Answer</h2><p>to " + text + "</p>", nil
}

func (f *fakeBackend) AnswerImage(ctx context.Context, image inference.Blob, caption string, history []storage.Turn) (string, error) {
	return f.AnswerImages(ctx, []inference.Blob{image}, caption, history)
}

func (f *fakeBackend) AnswerImages(ctx context.Context, images []inference.Blob, caption string, history []storage.Turn) (string, error) {
	f.mu.Lock()
	f.imageCounts = append(f.imageCounts, len(images))
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "saw images", nil
}

func (f *fakeBackend) Transcribe(ctx context.Context, audio inference.Blob) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.transcript, nil
}

type fakeFetcher struct {
	fail map[string]bool
}

func (f fakeFetcher) Fetch(ctx context.Context, url string, maxBytes int64) (inference.Blob, error) {
	if f.fail[url] {
		return inference.Blob{}, errors.New("boom")
	}
	return inference.Blob{Data: []byte(url), MIMEType: "image/jpeg"}, nil
}

func newTestDispatcher(t *testing.T, be *fakeBackend, fetch fakeFetcher) (*Dispatcher, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	d := New(Config{}, Deps{History: st, Backend: be, Fetcher: fetch})
	return d, st
}
