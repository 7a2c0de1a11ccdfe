package inference

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg; charset=binary")
			_, _ = w.Write([]byte("jpegdata"))
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 100)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0)
	ctx := context.Background()

	b, err := f.Fetch(ctx, srv.URL+"/photo.jpg", 1024)
	require.NoError(t, err)
	require.Equal(t, "jpegdata", string(b.Data))
	require.Equal(t, "image/jpeg", b.MIMEType)
	require.Equal(t, "photo.jpg", b.Name)

	_, err = f.Fetch(ctx, srv.URL+"/big", 10)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = f.Fetch(ctx, srv.URL+"/missing", 0)
	require.Error(t, err)
}

func TestRedactHidesBotToken(t *testing.T) {
	require.Equal(t, "https://api.telegram.org/file/bot<redacted>", redact("https://api.telegram.org/file/bot123:ABC/photos/file_1.jpg"))
	require.Equal(t, "http://x/y", redact("http://x/y"))
}

func TestFetchErrorsHideBotToken(t *testing.T) {
	const token = "123456:SECRETTOKEN"
	f := NewHTTPFetcher(2 * time.Second)

	// Nothing listens on port 1, so the dial fails inside the client.
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/file/bot"+token+"/photos/file_1.jpg", 0)
	require.Error(t, err)
	require.NotContains(t, err.Error(), token)
	require.Contains(t, err.Error(), "/file/bot<redacted>")
	var ue *url.Error
	require.ErrorAs(t, err, &ue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, "http://127.0.0.1:1/file/bot"+token+"/voice/file_2.oga", 0)
	require.ErrorIs(t, err, context.Canceled)
	require.NotContains(t, err.Error(), token)
}
