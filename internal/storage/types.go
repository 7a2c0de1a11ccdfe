package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
)

// HistoryRetention is the number of turns kept per user. Older turns are evicted first.
const HistoryRetention = 50

// Config configures storage.
//
// Driver values: "file", "memory", "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username,omitempty"`
	FirstName    string    `json:"first_name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
}

// Kind is the input kind of a conversation turn.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindImages Kind = "images"
	KindAudio  Kind = "audio"
)

// TurnInput describes what the user sent. Refs holds payload references
// (file URLs) for media kinds.
type TurnInput struct {
	Kind Kind     `json:"kind"`
	Text string   `json:"text,omitempty"`
	Refs []string `json:"refs,omitempty"`
}

type Turn struct {
	Input    TurnInput `json:"input"`
	Response string    `json:"response"`
	At       time.Time `json:"at"`
}

type BroadcastJob struct {
	ID          int64      `json:"id"`
	Message     string     `json:"message"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Sent        bool       `json:"sent"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
}

// Due reports whether a scheduled job should be delivered at now.
// Jobs without a scheduled time are never due.
func (j BroadcastJob) Due(now time.Time) bool {
	return !j.Sent && j.ScheduledAt != nil && !j.ScheduledAt.After(now)
}

// Statistics are computed over users and their retained history.
type Statistics struct {
	TotalUsers       int `json:"total_users"`
	ActiveToday      int `json:"active_today"`
	NewThisWeek      int `json:"new_this_week"`
	TotalMessages    int `json:"total_messages"`
	TextMessages     int `json:"text_messages"`
	ImageMessages    int `json:"image_messages"`
	AudioMessages    int `json:"audio_messages"`
	MessagesToday    int `json:"messages_today"`
	MessagesThisWeek int `json:"messages_this_week"`
}
