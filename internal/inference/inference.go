// Package inference talks to the remote model backend and downloads the
// media it needs. The dispatcher consumes it only through Backend and Fetcher.
package inference

import (
	"context"
	"errors"

	"umabot/internal/storage"
)

var (
	ErrEmptyResponse = errors.New("inference: empty response")
	ErrTooLarge      = errors.New("inference: payload too large")
)

// Blob is downloaded media content.
type Blob struct {
	Data     []byte
	MIMEType string
	Name     string
}

type Backend interface {
	// AnswerText answers a text prompt. search enables the backend's web search tool.
	AnswerText(ctx context.Context, text string, history []storage.Turn, search bool) (string, error)
	AnswerImage(ctx context.Context, image Blob, caption string, history []storage.Turn) (string, error)
	AnswerImages(ctx context.Context, images []Blob, caption string, history []storage.Turn) (string, error)
	// Transcribe returns the recognized speech, possibly empty.
	Transcribe(ctx context.Context, audio Blob) (string, error)
}

type Fetcher interface {
	// Fetch downloads url, failing with ErrTooLarge past maxBytes (0 = unlimited).
	Fetch(ctx context.Context, url string, maxBytes int64) (Blob, error)
}
