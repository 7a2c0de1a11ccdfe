package broadcast

import (
	"context"
	"time"

	"umabot/internal/storage"
)

const (
	DefaultTick      = time.Minute
	DefaultDailySpec = "0 10 * * *"
	DefaultPacing    = 100 * time.Millisecond
)

type Config struct {
	Tick      time.Duration
	DailySpec string
	// Timezone is an IANA name for DailySpec; empty means local time.
	Timezone      string
	Pacing        time.Duration
	DailyMessages []string
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.DailySpec == "" {
		c.DailySpec = DefaultDailySpec
	}
	if c.Pacing <= 0 {
		c.Pacing = DefaultPacing
	}
	return c
}

// Store is the slice of storage.Store the scheduler needs.
type Store interface {
	ListActiveUsers(ctx context.Context) ([]int64, error)
	CreateBroadcastJob(ctx context.Context, message string, scheduledAt *time.Time) (int64, error)
	ListUnsentJobs(ctx context.Context) ([]storage.BroadcastJob, error)
	MarkJobSent(ctx context.Context, id int64) error
}

// Result is the outcome of one fan-out.
type Result struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

func (r Result) Failed() int { return r.Total - r.Success }

// Snapshot is a point-in-time view for /healthz and the admin panel.
type Snapshot struct {
	Running   bool      `json:"running"`
	LastTick  time.Time `json:"last_tick,omitempty"`
	LastDaily time.Time `json:"last_daily,omitempty"`
	NextDaily time.Time `json:"next_daily,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Ticks     uint64    `json:"ticks"`
}
