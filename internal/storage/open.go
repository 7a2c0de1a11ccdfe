package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"umabot/pkg/logx"
)

// Store is the persistence API used by the dispatcher, the broadcast
// scheduler and the bot handlers. Implementations are safe for concurrent use.
type Store interface {
	// AddUser registers a user or refreshes last activity and non-empty profile fields.
	AddUser(ctx context.Context, id int64, username, firstName string) error
	GetUser(ctx context.Context, id int64) (User, error)
	ListActiveUsers(ctx context.Context) ([]int64, error)

	// AppendTurn appends to the user's history, keeping the last HistoryRetention turns.
	AppendTurn(ctx context.Context, userID int64, t Turn) error
	// History returns up to limit most recent turns, oldest first. limit <= 0 returns all.
	History(ctx context.Context, userID int64, limit int) ([]Turn, error)
	ClearHistory(ctx context.Context, userID int64) error

	CreateBroadcastJob(ctx context.Context, message string, scheduledAt *time.Time) (int64, error)
	ListUnsentJobs(ctx context.Context) ([]BroadcastJob, error)
	// MarkJobSent flips unsent to sent. Marking a sent job again is a no-op.
	MarkJobSent(ctx context.Context, id int64) error

	Statistics(ctx context.Context, now time.Time) (Statistics, error)
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "memory":
		return newFileStore("", log), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
