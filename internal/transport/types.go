package transport

import (
	"context"
	"errors"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// ErrNotModified is returned by EditText when the new content equals the old one.
var ErrNotModified = errors.New("transport: message is not modified")

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// Media is a downloadable attachment referenced by a platform file id.
type Media struct {
	FileID   string
	MIMEType string
	Size     int64
}

type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	Caption       string
	Date          time.Time

	// MediaGroupID is set on every item of an album.
	MediaGroupID string

	Photo    *Media // largest available size
	Voice    *Media
	Audio    *Media
	Document *Media
}

// IsCommand reports whether the text starts with a slash command.
func (m *Message) IsCommand() bool {
	return m != nil && len(m.Text) > 1 && m.Text[0] == '/'
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       *Keyboard
}

// ChatAction is a transient "typing..." style indicator.
type ChatAction string

const (
	ActionTyping      ChatAction = "typing"
	ActionUploadPhoto ChatAction = "upload_photo"
	ActionRecordVoice ChatAction = "record_voice"
)

// Sender is the outbound half of a transport. Core packages depend on this
// narrow interface only.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// FileURL resolves a file id into a direct download URL.
	FileURL(ctx context.Context, fileID string) (string, error)
	SendChatAction(ctx context.Context, to ChatTarget, action ChatAction) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// FileResolver is the subset of Adapter used to turn file ids into URLs.
type FileResolver interface {
	FileURL(ctx context.Context, fileID string) (string, error)
}
