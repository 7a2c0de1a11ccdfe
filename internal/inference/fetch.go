package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// HTTPFetcher downloads files over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) (Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Blob{}, redactErr(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Blob{}, redactErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Blob{}, fmt.Errorf("fetch %s: http %d", redact(rawURL), resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return Blob{}, fmt.Errorf("fetch %s: %d bytes: %w", redact(rawURL), resp.ContentLength, ErrTooLarge)
	}

	var r io.Reader = resp.Body
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Blob{}, fmt.Errorf("fetch %s: %w", redact(rawURL), redactErr(err))
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Blob{}, fmt.Errorf("fetch %s: %w", redact(rawURL), ErrTooLarge)
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return Blob{Data: data, MIMEType: strings.TrimSpace(mime), Name: path.Base(req.URL.Path)}, nil
}

// redact drops the path of Telegram file URLs, which embed the bot token.
func redact(rawURL string) string {
	if i := strings.Index(rawURL, "/file/bot"); i >= 0 {
		return rawURL[:i] + "/file/bot<redacted>"
	}
	return rawURL
}

// redactErr rewrites the URL carried by net/http errors. The cause stays
// reachable through errors.Is/As.
func redactErr(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: redact(ue.URL), Err: ue.Err}
	}
	return err
}
