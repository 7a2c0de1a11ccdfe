package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"umabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Timestamps are stored as unix milliseconds so range filters stay numeric.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; conditional updates keep job state monotone.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) wrap(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}

func (s *sqliteStore) AddUser(ctx context.Context, id int64, username, firstName string) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, first_name, registered_at, last_activity, active)
		 VALUES(?,?,?,?,?,1)
		 ON CONFLICT(id) DO UPDATE SET
		   last_activity = excluded.last_activity,
		   username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE users.username END,
		   first_name = CASE WHEN excluded.first_name <> '' THEN excluded.first_name ELSE users.first_name END`,
		id, username, firstName, now, now,
	)
	return s.wrap(err)
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u         User
		reg, last int64
		active    int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, registered_at, last_activity, active FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &reg, &last, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, s.wrap(err)
	}
	u.RegisteredAt = time.UnixMilli(reg)
	u.LastActivity = time.UnixMilli(last)
	u.Active = active != 0
	return u, nil
}

func (s *sqliteStore) ListActiveUsers(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) AppendTurn(ctx context.Context, userID int64, t Turn) error {
	if t.At.IsZero() {
		t.At = s.now()
	}
	refs, err := json.Marshal(t.Input.Refs)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns(user_id, kind, text, refs, response, at) VALUES(?,?,?,?,?,?)`,
		userID, string(t.Input.Kind), t.Input.Text, string(refs), t.Response, t.At.UnixMilli(),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE user_id = ? AND id NOT IN (
		   SELECT id FROM turns WHERE user_id = ? ORDER BY id DESC LIMIT ?)`,
		userID, userID, HistoryRetention,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) History(ctx context.Context, userID int64, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = HistoryRetention
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, text, refs, response, at FROM turns WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()

	out := []Turn{}
	for rows.Next() {
		var (
			t    Turn
			kind string
			refs string
			at   int64
		)
		if err := rows.Scan(&kind, &t.Input.Text, &refs, &t.Response, &at); err != nil {
			return nil, err
		}
		t.Input.Kind = Kind(kind)
		if refs != "" && refs != "null" {
			_ = json.Unmarshal([]byte(refs), &t.Input.Refs)
		}
		t.At = time.UnixMilli(at)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func (s *sqliteStore) ClearHistory(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE user_id = ?`, userID)
	return s.wrap(err)
}

func (s *sqliteStore) CreateBroadcastJob(ctx context.Context, message string, scheduledAt *time.Time) (int64, error) {
	var at any
	if scheduledAt != nil {
		at = scheduledAt.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO broadcasts(message, scheduled_at, sent, created_at) VALUES(?,?,0,?)`,
		message, at, s.now().UnixMilli(),
	)
	if err != nil {
		return 0, s.wrap(err)
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListUnsentJobs(ctx context.Context) ([]BroadcastJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, scheduled_at, created_at FROM broadcasts WHERE sent = 0 ORDER BY id`)
	if err != nil {
		return nil, s.wrap(err)
	}
	defer rows.Close()
	var out []BroadcastJob
	for rows.Next() {
		var (
			j       BroadcastJob
			sched   sql.NullInt64
			created int64
		)
		if err := rows.Scan(&j.ID, &j.Message, &sched, &created); err != nil {
			return nil, err
		}
		if sched.Valid {
			at := time.UnixMilli(sched.Int64)
			j.ScheduledAt = &at
		}
		j.CreatedAt = time.UnixMilli(created)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkJobSent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE broadcasts SET sent = 1, sent_at = ? WHERE id = ? AND sent = 0`,
		s.now().UnixMilli(), id,
	)
	if err != nil {
		return s.wrap(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM broadcasts WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return s.wrap(err)
}

func (s *sqliteStore) Statistics(ctx context.Context, now time.Time) (Statistics, error) {
	day, week := statWindow(now)
	d, w := day.UnixMilli(), week.UnixMilli()

	var st Statistics
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN last_activity >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN registered_at >= ? THEN 1 ELSE 0 END), 0)
		 FROM users`, d, w,
	).Scan(&st.TotalUsers, &st.ActiveToday, &st.NewThisWeek)
	if err != nil {
		return Statistics{}, s.wrap(err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN t.kind = 'text' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN t.kind IN ('image', 'images') THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN t.kind = 'audio' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN t.at >= ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN t.at >= ? THEN 1 ELSE 0 END), 0)
		 FROM turns t JOIN users u ON u.id = t.user_id`, d, w,
	).Scan(&st.TotalMessages, &st.TextMessages, &st.ImageMessages, &st.AudioMessages, &st.MessagesToday, &st.MessagesThisWeek)
	if err != nil {
		return Statistics{}, s.wrap(err)
	}
	return st, nil
}
